package emoji

// subset of the emoji set used for operator facing milestone messages
const (
	WavingHandSign         = "\U0001F44B"
	Gear                   = "⚙️"
	TwistedRighwardsArrows = "\U0001F500"
	Package                = "\U0001F4E6"
	Pushpin                = "\U0001F4CC"
	RepeatSingleButton     = "\U0001F502"
	Memo                   = "\U0001F4DD"
	SpinningArrows         = "\U0001F504"
	CrossMark              = "❌"
	CheckMarkButton        = "✅"
	Eyes                   = "\U0001F440"
)
