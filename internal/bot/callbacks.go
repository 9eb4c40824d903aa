package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cmdRefreshOne = "refreshone"
	cmdRmFilter   = "rmfilter"

	cbMore     = "more"
	cbClear    = "clear"
	cbNoop     = "noop"
	cbRmFilter = cmdRmFilter
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	chatID := cb.Message.Chat.ID

	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, arg, _ := strings.Cut(cb.Data, ":")

	b.log.Info("callback",
		"action", action,
		"arg", arg,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case cbMore:
		b.handleMore(ctx, chatID)
	case cbClear:
		b.handleClear(ctx, chatID)
	case cmdRefreshOne:
		b.handleRefreshOne(ctx, chatID, arg)
	case cbRmFilter:
		b.handleRmFilter(ctx, chatID, arg)
	}
}
