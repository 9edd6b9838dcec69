package bot

import (
	tghelpers "github.com/acaisupper/acaibot/core/telegram/helpers"
	"github.com/acaisupper/acaibot/core/telegram/keyboard"
	"github.com/acaisupper/acaibot/order"

	tele "gopkg.in/telebot.v4"
)

// sendReplies delivers the engine's outbound messages in order.
func sendReplies(c tele.Context, replies []order.Reply) error {
	for _, r := range replies {
		if err := sendReply(c, r); err != nil {
			return err
		}
	}
	return nil
}

func sendReply(c tele.Context, r order.Reply) error {
	markup := toMarkup(r.Keyboard)
	opts := &tele.SendOptions{ParseMode: tele.ModeMarkdown, ReplyMarkup: markup}

	switch {
	case r.ImagePath != "":
		return c.Send(&tele.Photo{File: tele.FromDisk(r.ImagePath), Caption: r.Text}, opts)
	case r.ImageURL != "":
		return c.Send(&tele.Photo{File: tele.FromURL(r.ImageURL), Caption: r.Text}, opts)
	default:
		if markup != nil {
			return tghelpers.SendMD(c, r.Text, markup)
		}
		return tghelpers.SendMD(c, r.Text)
	}
}

func toMarkup(k *order.Keyboard) *tele.ReplyMarkup {
	if k == nil {
		return nil
	}
	switch {
	case k.Remove:
		return keyboard.RemoveKeyboard()
	case len(k.Inline) > 0:
		rows := make([][]keyboard.InlineBtn, len(k.Inline))
		for i, row := range k.Inline {
			btns := make([]keyboard.InlineBtn, len(row))
			for j, b := range row {
				btns[j] = keyboard.InlineBtn{Text: b.Label, Unique: b.Key, Data: b.Payload}
			}
			rows[i] = btns
		}
		return keyboard.InlineButtonsRows(rows...)
	case len(k.Reply) > 0:
		return keyboard.ReplyButtons(k.Reply...)
	}
	return nil
}
