// Package bot implements the Telegram front end: following accounts,
// refreshing with live progress, browsing the feed and managing hide rules.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ghfeed/internal/config"
	"ghfeed/internal/feed"
	"ghfeed/internal/model"
	"ghfeed/internal/refresh"
	"ghfeed/internal/render"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Refresher runs account refreshes.
type Refresher interface {
	Refresh(ctx context.Context, accounts []model.Account) <-chan model.RefreshEvent
	RefreshOne(ctx context.Context, viewer, login string) (refresh.OneResult, error)
}

// pageState remembers where a chat's feed listing stopped.
type pageState struct {
	cursor string
	types  []string
}

// Bot is the Telegram bot that handles user commands.
type Bot struct {
	api     telegramAPI
	feed    *feed.Service
	refresh Refresher
	md      *render.Markdown
	cfg     *config.Config
	log     *slog.Logger

	mu         sync.Mutex
	pages      map[int64]pageState
	refreshing map[int64]bool

	// wg tracks background refreshes.
	wg sync.WaitGroup
}

// New creates a Bot with the given Telegram token.
func New(token string, svc *feed.Service, refresher Refresher, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return newBot(api, svc, refresher, cfg, log), nil
}

func newBot(api telegramAPI, svc *feed.Service, refresher Refresher, cfg *config.Config, log *slog.Logger) *Bot {
	return &Bot{
		api:     api,
		feed:    svc,
		refresh: refresher,
		md:      render.NewMarkdown(cfg.FeedBaseURL),
		cfg:     cfg,
		log:     log,
		pages:   make(map[int64]pageState),

		refreshing: make(map[int64]bool),
	}
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.wg.Wait()
			return
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if cb := update.CallbackQuery; cb != nil {
		if cb.Message == nil || !b.cfg.IsUserAllowed(cb.From.ID) {
			return
		}
		b.handleCallback(ctx, cb)
		return
	}
	if update.Message == nil || !update.Message.IsCommand() {
		return
	}
	if !b.cfg.IsUserAllowed(update.Message.From.ID) {
		b.reply(update.Message.Chat.ID, "Access denied.")
		return
	}
	b.handleCommand(ctx, update.Message)
}

// viewer maps a chat to the viewer identity used for subscriptions and filters.
func viewer(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}

// SendMessage sends a text message to the given chat and returns its ID.
func (b *Bot) SendMessage(chatID int64, text string) int {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	return b.send(msg)
}

func (b *Bot) send(c tgbotapi.Chattable) int {
	sent, err := b.api.Send(c)
	if err != nil {
		b.log.Error("send message", "error", err)
		return 0
	}
	return sent.MessageID
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) edit(chatID int64, messageID int, text string) {
	if messageID == 0 {
		b.reply(chatID, text)
		return
	}
	msg := tgbotapi.NewEditMessageText(chatID, messageID, text)
	msg.DisableWebPagePreview = true
	b.send(msg)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "follow":
		b.handleFollow(ctx, chatID, args)
	case "unfollow":
		b.handleUnfollow(ctx, chatID, args)
	case "list":
		b.handleList(ctx, chatID)
	case "refresh":
		b.startRefresh(ctx, chatID)
	case cmdRefreshOne:
		b.handleRefreshOne(ctx, chatID, args)
	case "feed":
		b.handleFeed(ctx, chatID, args)
	case "types":
		b.handleTypes(ctx, chatID)
	case "hide":
		b.handleHide(ctx, chatID, args)
	case "hiderule":
		b.handleHideRule(ctx, chatID, args)
	case "filters":
		b.handleFilters(ctx, chatID)
	case cmdRmFilter:
		b.handleRmFilter(ctx, chatID, args)
	case "clear":
		b.handleClearPrompt(chatID)
	case "import":
		b.handleImport(ctx, chatID, args)
	case "export":
		b.handleExport(ctx, chatID)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
