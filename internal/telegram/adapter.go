package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/taxprep/internal/gateway"
	"github.com/user/taxprep/internal/ruleset"
	"github.com/user/taxprep/internal/sources"
	"github.com/user/taxprep/internal/types"
)

const maxTelegramMessage = 4096

const helpText = `Hi! Tell me what changed in your life and I'll list the documents and tax steps that go with it.
Try "I lost my job" or "I had a baby, remind me 2025-09-10 at 09:00".

/agenda – show your reminders
/add YYYY-MM-DD [HH:MM] title – add a reminder
/done N – mark reminder N done (or not done)
/delete N – delete reminder N
/source event – show the official source for an event
/new – forget this conversation and start over
/status – session details`

// Gateway is the part of gateway.Gateway the adapter needs.
type Gateway interface {
	HandleInbound(ctx context.Context, event *types.InboundEvent, opts ...gateway.RunOption) error
}

// SessionReader looks up a session without creating it.
type SessionReader interface {
	GetByKey(ctx context.Context, key types.SessionKey) (*types.SessionIndex, error)
}

// Previewer fetches the sources cited by an event.
type Previewer interface {
	Preview(ctx context.Context, ev *ruleset.Event) ([]sources.Preview, error)
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter bridges Telegram to the gateway.
type Adapter struct {
	bot      *tgbotapi.BotAPI
	sender   sender
	gateway  Gateway
	sessions SessionReader
	rules    *ruleset.Ruleset
	sources  Previewer
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithSources enables the /source command.
func WithSources(p Previewer) Option {
	return func(a *Adapter) { a.sources = p }
}

// New creates a Telegram adapter.
func New(token string, gw Gateway, sessions SessionReader, rules *ruleset.Ruleset, opts ...Option) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := newAdapter(bot, gw, sessions, rules, opts...)
	a.bot = bot
	return a, nil
}

func newAdapter(s sender, gw Gateway, sessions SessionReader, rules *ruleset.Ruleset, opts ...Option) *Adapter {
	a := &Adapter{
		sender:   s,
		gateway:  gw,
		sessions: sessions,
		rules:    rules,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start begins long-polling for Telegram updates.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)
	slog.Info("telegram polling started", "bot", a.bot.Self.UserName)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" || update.Message.From == nil {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

// Deliver sends a message to the chat encoded in a telegram session key.
// It is registered with the delivery registry for due-reminder
// notifications.
func (a *Adapter) Deliver(_ context.Context, key types.SessionKey, text string) error {
	chatID, err := chatIDFromKey(key)
	if err != nil {
		return gateway.Permanent(err)
	}
	return a.send(chatID, text)
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}
	a.enqueue(ctx, msg, &types.InboundEvent{Kind: types.KindMessage, Text: msg.Text})
}

// enqueue fills in the routing fields and hands the event to the gateway;
// the run's reply is sent back to the chat.
func (a *Adapter) enqueue(ctx context.Context, msg *tgbotapi.Message, event *types.InboundEvent) {
	chatID := msg.Chat.ID
	event.Source = "telegram"
	event.SessionKey = buildSessionKey(msg.From.ID, chatID)
	event.UserID = strconv.FormatInt(msg.From.ID, 10)
	event.At = time.Now()

	err := a.gateway.HandleInbound(ctx, event, gateway.WithOnComplete(func(response string) {
		a.sendResponse(chatID, response)
	}))
	if err != nil {
		slog.Error("handle inbound", "session_key", string(event.SessionKey), "error", err)
		a.sendResponse(chatID, "Sorry, I encountered an error processing your message.")
	}
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())

	if event, ok := commandEvent(msg.Command(), args); ok {
		a.enqueue(ctx, msg, event)
		return
	}

	switch msg.Command() {
	case "start", "help":
		a.sendResponse(chatID, helpText)

	case "status":
		key := buildSessionKey(msg.From.ID, chatID)
		sess, err := a.sessions.GetByKey(ctx, key)
		if err != nil {
			a.sendResponse(chatID, "No conversation yet. Tell me about a life event to get started.")
			return
		}
		a.sendResponse(chatID, fmt.Sprintf("Session: %s\nMessages: %d\nLast active: %s",
			sess.SessionID, sess.Turns, sess.UpdatedAt.Format("2006-01-02 15:04")))

	case "source":
		a.sendResponse(chatID, a.sourceReply(ctx, args))

	default:
		a.sendResponse(chatID, "Unknown command. Send /help for the list.")
	}
}

// commandEvent maps the commands that act on session state to events.
func commandEvent(cmd, args string) (*types.InboundEvent, bool) {
	switch cmd {
	case "new":
		return &types.InboundEvent{Kind: types.KindReset}, true
	case "agenda":
		return &types.InboundEvent{Kind: types.KindAgenda}, true
	case "add":
		in := parseAddArgs(args)
		return &types.InboundEvent{Kind: types.KindAddReminder, Reminder: &in}, true
	case "done":
		return &types.InboundEvent{Kind: types.KindToggleReminder, ReminderID: parseID(args)}, true
	case "delete":
		return &types.InboundEvent{Kind: types.KindDeleteReminder, ReminderID: parseID(args)}, true
	}
	return nil, false
}

// parseAddArgs splits "YYYY-MM-DD [HH:MM] title". Validation happens in the
// agenda, so malformed input still produces a specific error message.
func parseAddArgs(args string) types.ReminderInput {
	fields := strings.Fields(args)
	var in types.ReminderInput
	if len(fields) == 0 {
		return in
	}
	in.Date, fields = fields[0], fields[1:]
	if len(fields) > 0 && strings.Contains(fields[0], ":") {
		in.Time, fields = fields[0], fields[1:]
	}
	in.Title = strings.Join(fields, " ")
	return in
}

// parseID returns 0 (no selection) for anything that is not a number.
func parseID(args string) int {
	id, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(args), "#"))
	if err != nil {
		return 0
	}
	return id
}

func (a *Adapter) sourceReply(ctx context.Context, args string) string {
	var keys []string
	for _, ev := range a.rules.Events() {
		keys = append(keys, ev.Key)
	}
	usage := "Usage: /source <event>. Events: " + strings.Join(keys, ", ")
	if args == "" {
		return usage
	}
	ev, ok := a.rules.Get(strings.ReplaceAll(strings.ToLower(args), " ", "_"))
	if !ok {
		return "Unknown event. " + usage
	}
	if a.sources == nil {
		return "Source previews are turned off."
	}
	previews, err := a.sources.Preview(ctx, ev)
	if errors.Is(err, sources.ErrNoSource) {
		return fmt.Sprintf("No source is recorded for %s yet.", ev.Label())
	}
	if err != nil {
		slog.Error("source preview", "event", ev.Key, "error", err)
		return "Sorry, I couldn't load the source right now."
	}
	return sources.Format(previews)
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	if text == "" {
		return
	}
	if err := a.send(chatID, text); err != nil {
		slog.Error("send message", "chat_id", chatID, "error", err)
	}
}

// send posts text in chunks, retrying each chunk as plain text when
// Telegram rejects the markdown.
func (a *Adapter) send(chatID int64, text string) error {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := a.sender.Send(msg); err != nil {
			msg.ParseMode = ""
			if _, err := a.sender.Send(msg); err != nil {
				return fmt.Errorf("send to chat %d: %w", chatID, err)
			}
		}
	}
	return nil
}

// splitMessage cuts text into Telegram-sized chunks, preferring line
// breaks and never splitting a UTF-8 sequence.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > maxTelegramMessage {
		end := maxTelegramMessage
		for end > 0 && !utf8.RuneStart(text[end]) {
			end--
		}
		if nl := strings.LastIndexByte(text[:end], '\n'); nl > maxTelegramMessage/2 {
			end = nl + 1
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

func buildSessionKey(userID, chatID int64) types.SessionKey {
	return types.NewSessionKey("telegram",
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(chatID, 10),
	)
}

// chatIDFromKey reverses buildSessionKey.
func chatIDFromKey(key types.SessionKey) (int64, error) {
	parts := key.Parts()
	if len(parts) != 3 || key.Prefix() != "telegram" {
		return 0, fmt.Errorf("invalid telegram session key %q", key)
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram session key %q: %w", key, err)
	}
	return id, nil
}
