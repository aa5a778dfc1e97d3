package telegram

import (
	"time"

	telebot "gopkg.in/telebot.v3"
)

// NewBot authorises the bot token and configures long polling. Offline skips the getMe call and
// is meant for the in-memory mode and tests.
func NewBot(token string, pollTimeout time.Duration, offline bool) (*telebot.Bot, error) {
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Second
	}

	return telebot.NewBot(telebot.Settings{
		Token:   token,
		Poller:  &telebot.LongPoller{Timeout: pollTimeout},
		Offline: offline,
	})
}
