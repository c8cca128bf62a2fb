package extract

import "regexp"

// 日志标记与字段的正则表达式
var (
	// reExecuted 执行块开始标记
	reExecuted = regexp.MustCompile(`TRADE EXECUTED`)
	// reRejected 拒绝标记，捕获原因
	reRejected = regexp.MustCompile(`Signal rejected:\s*(.*)$`)
	// reSignalFor "Signal found for EUR/USD: BUY (Confidence: 72%)"
	reSignalFor = regexp.MustCompile(`Signal found for (\w+/\w+):\s*(\w+)(?:\s*\(Confidence:\s*([\d.]+)%\))?`)
	// reSignalInline "Signal found: EUR/USD BUY (72.0%)"
	reSignalInline = regexp.MustCompile(`Signal found:\s*(\w+/\w+)\s+(\w+)(?:\s*\(([\d.]+)%\))?`)
	// reTradeClosed "TRADE CLOSED: EUR/USD BUY | CLOSED_WIN | 35.0 pips | $175.00"
	reTradeClosed = regexp.MustCompile(`TRADE CLOSED:\s*(\w+/\w+)\s+(\w+)\s*\|\s*(\w+)\s*\|\s*([+-]?[\d.]+)\s*pips\s*\|\s*(-?\$?-?[\d,.]+)`)
	// reDetectedClosed "Detected closed position: USD/CAD (Trade ID: 2904)"
	reDetectedClosed = regexp.MustCompile(`Detected closed position:\s*(\w+/\w+)\s*\(Trade ID:\s*(\w+)\)`)

	// 执行块内的字段
	rePairDirection = regexp.MustCompile(`(\w+/\w+)\s+(BUY|SELL)\b(?:\s*\|\s*Order ID:\s*(\w+))?`)
	reEntry         = regexp.MustCompile(`\bEntry:\s*([\d.,]+)`)
	reStopLoss      = regexp.MustCompile(`Stop Loss:\s*([\d.,]+)`)
	reTakeProfit    = regexp.MustCompile(`Take Profit:\s*([\d.,]+)`)
	rePositionSize  = regexp.MustCompile(`Position Size:\s*([\d,]+)\s*units`)
	reRiskReward    = regexp.MustCompile(`Risk/Reward:\s*([\d.,]*)`)
)
