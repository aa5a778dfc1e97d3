// Package keyboard builds the bot's reply and inline markups.
package keyboard

import (
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/premium-bot/internal/i18n"
)

// MainMenu builds the persistent reply keyboard shown under the chat.
func MainMenu(t i18n.Translator) *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{
		ResizeKeyboard:  true,
		OneTimeKeyboard: false,
	}

	markup.Reply(
		markup.Row(markup.Text(t.T("menu.new_chat"))),
		markup.Row(markup.Text(t.T("menu.tips"))),
		markup.Row(markup.Text(t.T("menu.feedback"))),
	)

	return markup
}

// PayLink builds a single inline button opening the payment URL.
func PayLink(label, url string) *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{}
	markup.Inline(markup.Row(markup.URL(label, url)))
	return markup
}
