package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ghfeed/internal/feed"
	"ghfeed/internal/model"
	"ghfeed/internal/refresh"
)

const (
	feedPageSize   = 5
	maxListButtons = 20
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to ghfeed!

Follow GitHub accounts and read their public activity in one feed.

Quick start:
1. /follow <login> - follow an account
2. /refresh - fetch the latest activity
3. /feed - read your feed

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Accounts:
/follow <login> [login...] - follow accounts
/unfollow <login> - stop following an account
/list - show followed accounts
/refresh - refresh all followed accounts
/refreshone <login> - refresh one account
/import <opml or feed urls> - follow accounts from an OPML export
/export - download your accounts as OPML

Feed:
/feed [type] - latest activity, optionally of one type
/types - activity types in your feed

Hide rules:
/hide <type> - hide an activity type
/hiderule <name> <json> - hide items matching a rule tree
/filters - show hide rules
/rmfilter <id> - remove a hide rule
/clear - delete stored activity of your accounts`)
}

func (b *Bot) handleFollow(ctx context.Context, chatID int64, args string) {
	logins := ParseLogins(args)
	if len(logins) == 0 {
		b.reply(chatID, "Usage: /follow <login> [login...]")
		return
	}

	var lines []string
	for _, raw := range logins {
		sub, err := b.feed.Follow(ctx, viewer(chatID), raw)
		switch {
		case err == nil:
			lines = append(lines, fmt.Sprintf("Following @%s.", sub.AccountLogin))
		case errors.Is(err, feed.ErrInvalidLogin):
			lines = append(lines, fmt.Sprintf("%q is not a valid login.", raw))
		case errors.Is(err, feed.ErrAlreadyFollowing):
			lines = append(lines, fmt.Sprintf("@%s is already in your list.", model.NormalizeLogin(raw)))
		default:
			b.log.Error("follow", "chat_id", chatID, "login", raw, "error", err)
			lines = append(lines, fmt.Sprintf("Failed to follow %s: %v", raw, err))
		}
	}
	b.reply(chatID, strings.Join(lines, "\n"))
}

func (b *Bot) handleUnfollow(ctx context.Context, chatID int64, args string) {
	logins := ParseLogins(args)
	if len(logins) != 1 {
		b.reply(chatID, "Usage: /unfollow <login>")
		return
	}
	login := model.NormalizeLogin(logins[0])
	err := b.feed.Unfollow(ctx, viewer(chatID), login)
	switch {
	case err == nil:
		b.reply(chatID, fmt.Sprintf("Unfollowed @%s.", login))
	case errors.Is(err, feed.ErrNotFollowing):
		b.reply(chatID, fmt.Sprintf("@%s is not in your list.", login))
	default:
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
	}
}

func (b *Bot) handleList(ctx context.Context, chatID int64) {
	subs, err := b.feed.Subscriptions(ctx, viewer(chatID))
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	msg := tgbotapi.NewMessage(chatID, FormatSubscriptions(subs))
	msg.DisableWebPagePreview = true
	if len(subs) > 0 {
		var rows [][]tgbotapi.InlineKeyboardButton
		for i, s := range subs {
			if i == maxListButtons {
				break
			}
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Refresh @"+s.AccountLogin, cmdRefreshOne+":"+s.AccountLogin),
			))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	b.send(msg)
}

// startRefresh runs a refresh off the update loop so other chats are served
// meanwhile. A chat has at most one refresh running.
func (b *Bot) startRefresh(ctx context.Context, chatID int64) {
	b.mu.Lock()
	busy := b.refreshing[chatID]
	if !busy {
		b.refreshing[chatID] = true
	}
	b.mu.Unlock()
	if busy {
		b.reply(chatID, "A refresh is already running.")
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			b.mu.Lock()
			delete(b.refreshing, chatID)
			b.mu.Unlock()
		}()
		b.handleRefresh(ctx, chatID)
	}()
}

func (b *Bot) handleRefresh(ctx context.Context, chatID int64) {
	accounts, err := b.feed.FollowedAccounts(ctx, viewer(chatID))
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if len(accounts) == 0 {
		b.reply(chatID, "You are not following anyone yet. Use /follow <login>.")
		return
	}

	var p Progress
	msgID := 0
	for ev := range b.refresh.Refresh(ctx, accounts) {
		p.Apply(ev)
		if ev.Type == model.EventStart {
			msgID = b.SendMessage(chatID, p.String())
			continue
		}
		b.edit(chatID, msgID, p.String())
	}
}

func (b *Bot) handleRefreshOne(ctx context.Context, chatID int64, args string) {
	logins := ParseLogins(args)
	if len(logins) != 1 {
		b.reply(chatID, "Usage: /refreshone <login>")
		return
	}
	login := model.NormalizeLogin(logins[0])
	res, err := b.refresh.RefreshOne(ctx, viewer(chatID), login)
	switch {
	case err == nil:
		b.reply(chatID, fmt.Sprintf("@%s refreshed: %d items, %d new.", res.Login, res.ItemCount, res.Inserted))
	case errors.Is(err, refresh.ErrNotSubscribed):
		b.reply(chatID, fmt.Sprintf("@%s is not in your list.", login))
	default:
		b.reply(chatID, fmt.Sprintf("Failed to refresh @%s: %v", login, err))
	}
}

func (b *Bot) handleFeed(ctx context.Context, chatID int64, args string) {
	var types []string
	if t := ParseTypeArg(args); t != "" {
		types = []string{t}
	}
	b.sendPage(ctx, chatID, pageState{types: types})
}

// sendPage lists one page from st and remembers the next cursor for the
// More button.
func (b *Bot) sendPage(ctx context.Context, chatID int64, st pageState) {
	page, err := b.feed.List(ctx, viewer(chatID), feed.ListOptions{
		Cursor: st.cursor,
		Limit:  feedPageSize,
		Types:  st.types,
	})
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if len(page.Items) == 0 {
		if st.cursor == "" {
			b.reply(chatID, "Your feed is empty. Follow accounts with /follow and run /refresh.")
		} else {
			b.reply(chatID, "No more items.")
		}
		return
	}

	msg := tgbotapi.NewMessage(chatID, FormatPage(page.Items, b.md))
	msg.DisableWebPagePreview = true

	b.mu.Lock()
	if page.HasMore {
		b.pages[chatID] = pageState{cursor: *page.NextCursor, types: st.types}
	} else {
		delete(b.pages, chatID)
	}
	b.mu.Unlock()

	if page.HasMore {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("More", cbMore)),
		)
	}
	b.send(msg)
}

func (b *Bot) handleMore(ctx context.Context, chatID int64) {
	b.mu.Lock()
	st, ok := b.pages[chatID]
	b.mu.Unlock()
	if !ok {
		b.reply(chatID, "No more items. Use /feed to start over.")
		return
	}
	b.sendPage(ctx, chatID, st)
}

func (b *Bot) handleTypes(ctx context.Context, chatID int64) {
	page, err := b.feed.List(ctx, viewer(chatID), feed.ListOptions{Limit: 1})
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatTypes(page.Types, page.TypeCounts))
}

func (b *Bot) handleHide(ctx context.Context, chatID int64, args string) {
	t := ParseTypeArg(args)
	if t == "" {
		b.reply(chatID, "Usage: /hide <type>")
		return
	}
	f, err := b.feed.HideType(ctx, viewer(chatID), t)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Hiding %s items (rule %s).", t, f.ID))
}

func (b *Bot) handleHideRule(ctx context.Context, chatID int64, args string) {
	name, rule, err := ParseHideRuleArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	f, err := b.feed.CreateFilter(ctx, viewer(chatID), name, []byte(rule))
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Invalid rule: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Rule %q added (%s).", f.Name, f.ID))
}

func (b *Bot) handleFilters(ctx context.Context, chatID int64) {
	filters, err := b.feed.Filters(ctx, viewer(chatID))
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	msg := tgbotapi.NewMessage(chatID, FormatFilters(filters))
	if len(filters) > 0 {
		var rows [][]tgbotapi.InlineKeyboardButton
		for _, f := range filters {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Remove "+f.Name, cbRmFilter+":"+f.ID),
			))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	b.send(msg)
}

func (b *Bot) handleRmFilter(ctx context.Context, chatID int64, args string) {
	id := strings.TrimSpace(args)
	if id == "" {
		b.reply(chatID, "Usage: /rmfilter <id>")
		return
	}
	err := b.feed.DeleteFilter(ctx, viewer(chatID), id)
	switch {
	case err == nil:
		b.reply(chatID, fmt.Sprintf("Rule %s removed.", id))
	case errors.Is(err, feed.ErrNotFound):
		b.reply(chatID, fmt.Sprintf("Rule %s not found.", id))
	default:
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
	}
}

func (b *Bot) handleClearPrompt(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, "Delete all stored activity of your accounts? It will be fetched again on the next refresh.")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Yes, clear", cbClear),
			tgbotapi.NewInlineKeyboardButtonData("Cancel", cbNoop),
		),
	)
	b.send(msg)
}

func (b *Bot) handleClear(ctx context.Context, chatID int64) {
	n, err := b.feed.Clear(ctx, viewer(chatID))
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.mu.Lock()
	delete(b.pages, chatID)
	b.mu.Unlock()
	b.reply(chatID, fmt.Sprintf("Cleared %d stored items.", n))
}

func (b *Bot) handleImport(ctx context.Context, chatID int64, args string) {
	if args == "" {
		b.reply(chatID, "Usage: /import <OPML document or https://github.com/<login>.atom URLs>")
		return
	}
	res, err := b.feed.ImportOPML(ctx, viewer(chatID), args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Import failed: %v", err))
		return
	}
	if res.Total == 0 {
		b.reply(chatID, "No account feed URLs found.")
		return
	}
	b.reply(chatID, fmt.Sprintf("Imported %d of %d accounts (%d already followed).", res.Added, res.Total, res.Skipped))
}

func (b *Bot) handleExport(ctx context.Context, chatID int64) {
	data, err := b.feed.ExportOPML(ctx, viewer(chatID), b.cfg.FeedBaseURL)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: "ghfeed.opml", Bytes: data})
	b.send(doc)
}
