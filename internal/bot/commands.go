package bot

// Command constants for Telegram bot commands.
const (
	CommandStart     = "/start"
	CommandStatus    = "/status"
	CommandPremium   = "/premium"
	CommandPayment   = "/payment"
	CommandFeedback  = "/feedback"
	CommandBroadcast = "/broadcast"
)

// Menu button translation keys. Buttons arrive as plain text equal to their label.
const (
	ButtonNewChat  = "menu.new_chat"
	ButtonTips     = "menu.tips"
	ButtonFeedback = "menu.feedback"
)
