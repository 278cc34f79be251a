package bot

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"telegram_ledger/internal/domain"
	"telegram_ledger/internal/flow"
	"telegram_ledger/internal/ledger"
	"telegram_ledger/internal/logger"
	"telegram_ledger/internal/session"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
)

// API is the part of tgbotapi.BotAPI the bot uses
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Ledger is what the bot reads directly, outside of flows
type Ledger interface {
	Accounts(ctx context.Context) ([]*domain.Account, error)
	Transaction(ctx context.Context, id int64) (*domain.Transaction, error)
	VerifyIntegrity(ctx context.Context, slug string) (*ledger.IntegrityReport, error)
	VerifyAll(ctx context.Context) ([]*ledger.IntegrityReport, error)
}

// Options configure a LedgerBot
type Options struct {
	AdminIDs     []int64
	AllowedChats []int64 // empty allows every chat
	Workers      int
	// HandlerTimeout bounds the work done for one update
	HandlerTimeout time.Duration
}

// LedgerBot routes Telegram updates to the flow machine and renders results.
// Updates of one (chat, actor) key always land on the same lane and are
// handled one at a time, in arrival order.
type LedgerBot struct {
	api     API
	machine *flow.Machine
	ledger  Ledger
	opts    Options

	lanes  []chan tgbotapi.Update
	stopCh chan struct{}
	wg     sync.WaitGroup
	log    *slog.Logger
}

// NewAPI authorizes against Telegram with the bot token
func NewAPI(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	logger.With("component", "bot").Info("bot authorized", "username", api.Self.UserName)
	return api, nil
}

// NewLedgerBot creates a bot over an authorized API
func NewLedgerBot(api API, machine *flow.Machine, l Ledger, opts Options) *LedgerBot {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 30 * time.Second
	}

	lanes := make([]chan tgbotapi.Update, opts.Workers)
	for i := range lanes {
		lanes[i] = make(chan tgbotapi.Update, 64)
	}

	return &LedgerBot{
		api:     api,
		machine: machine,
		ledger:  l,
		opts:    opts,
		lanes:   lanes,
		stopCh:  make(chan struct{}),
		log:     logger.With("component", "bot"),
	}
}

// Start listens for updates until Stop is called
func (b *LedgerBot) Start() {
	for _, lane := range b.lanes {
		b.wg.Add(1)
		go func(lane <-chan tgbotapi.Update) {
			defer b.wg.Done()
			for update := range lane {
				b.process(update)
			}
		}(lane)
	}
	defer func() {
		for _, lane := range b.lanes {
			close(lane)
		}
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "callback_query"}

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("starting bot update loop", "workers", len(b.lanes))

	for {
		select {
		case <-b.stopCh:
			b.log.Info("stopping bot update loop")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			key, ok := updateKey(update)
			if !ok || !b.chatAllowed(key.ChatID) {
				continue
			}
			b.lanes[laneFor(key, len(b.lanes))] <- update
		}
	}
}

// Stop gracefully stops the bot
func (b *LedgerBot) Stop() {
	b.log.Info("stopping bot...")
	close(b.stopCh)
	b.api.StopReceivingUpdates()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.log.Info("bot stopped gracefully")
	case <-time.After(10 * time.Second):
		b.log.Warn("bot shutdown timeout, some handlers may not have completed")
	}
}

func (b *LedgerBot) process(update tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(context.Background(), b.opts.HandlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			b.log.Error("panic while handling update", "update_id", update.UpdateID, "panic", r)
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *LedgerBot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	key := session.Key{ChatID: msg.Chat.ID, ActorID: msg.From.ID}
	actor := actorOf(msg.From)

	if msg.IsCommand() {
		b.handleCommand(ctx, key, actor, msg)
		return
	}

	res, err := b.machine.Handle(ctx, key, actor, flow.Input{Text: msg.Text})
	if err != nil {
		b.fail(key, err)
		return
	}
	if res.Outcome == flow.OutcomeIdle {
		return
	}
	b.render(ctx, key, res)
}

func (b *LedgerBot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		b.log.Debug("callback answer failed", "error", err)
	}
	if cq.Message == nil {
		return
	}

	key := session.Key{ChatID: cq.Message.Chat.ID, ActorID: cq.From.ID}
	flowID, value, ok := parseCallbackData(cq.Data)
	if !ok {
		return
	}

	res, err := b.machine.Handle(ctx, key, actorOf(cq.From), flow.Input{Text: value, FlowID: flowID})
	if err != nil {
		b.fail(key, err)
		return
	}
	if res.Outcome == flow.OutcomeIdle {
		b.reply(ctx, key, res, expiredText, nil)
		return
	}
	b.render(ctx, key, res)
}

func (b *LedgerBot) handleCommand(ctx context.Context, key session.Key, actor domain.Actor, msg *tgbotapi.Message) {
	var (
		res flow.Result
		err error
	)

	switch msg.Command() {
	case "start", "help":
		b.send(key.ChatID, helpMessage(b.isAdmin(actor.ID)), nil)
		return
	case "balances":
		b.send(key.ChatID, b.balancesMessage(ctx), nil)
		return
	case "verify":
		if !b.isAdmin(actor.ID) {
			b.send(key.ChatID, "❌ Admins only", nil)
			return
		}
		b.send(key.ChatID, b.verifyMessage(ctx, msg.CommandArguments()), nil)
		return
	case "add":
		res, err = b.machine.Start(ctx, key, actor, session.FlowAdd)
	case "sync":
		res, err = b.machine.Start(ctx, key, actor, session.FlowSync)
	case "transfer":
		res, err = b.machine.Start(ctx, key, actor, session.FlowTransfer)
	case "cancel":
		res, err = b.machine.Start(ctx, key, actor, session.FlowCancel)
	case "abort":
		res, err = b.machine.Abandon(ctx, key)
		if err == nil && res.Outcome == flow.OutcomeIdle {
			b.send(key.ChatID, "Nothing to abort", nil)
			return
		}
	default:
		b.send(key.ChatID, "❌ Unknown command. Use /help for the list of commands.", nil)
		return
	}

	if err != nil {
		b.fail(key, err)
		return
	}
	b.render(ctx, key, res)
}

// render sends the message for a flow result. Messages sent while the flow is
// still running are attached to it so they are removed when it ends.
func (b *LedgerBot) render(ctx context.Context, key session.Key, res flow.Result) {
	text, markup := b.renderResult(ctx, res)
	b.reply(ctx, key, res, text, markup)
}

func (b *LedgerBot) reply(ctx context.Context, key session.Key, res flow.Result, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	sent, err := b.send(key.ChatID, text, markup)
	if err != nil {
		return
	}

	switch res.Outcome {
	case flow.OutcomeAdvance, flow.OutcomeReprompt:
		if err := b.machine.AttachArtifacts(ctx, key, res.FlowID, sent.MessageID); err != nil {
			b.log.Warn("failed to attach message to flow", "chat_id", key.ChatID, "flow_id", res.FlowID, "error", err)
		}
	}
}

func (b *LedgerBot) send(chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "HTML"
	if markup != nil {
		msg.ReplyMarkup = *markup
	}

	sent, err := b.api.Send(msg)
	if err != nil {
		b.log.Error("error sending message", "chat_id", chatID, "error", err)
	}
	return sent, err
}

func (b *LedgerBot) fail(key session.Key, err error) {
	if errors.Is(err, flow.ErrForeignActor) {
		return
	}
	b.log.Error("update handling failed", "chat_id", key.ChatID, "actor_id", key.ActorID, "error", err)
	b.send(key.ChatID, failureText, nil)
}

func (b *LedgerBot) isAdmin(userID int64) bool {
	return slices.Contains(b.opts.AdminIDs, userID)
}

func (b *LedgerBot) chatAllowed(chatID int64) bool {
	return len(b.opts.AllowedChats) == 0 || slices.Contains(b.opts.AllowedChats, chatID)
}

func updateKey(update tgbotapi.Update) (session.Key, bool) {
	switch {
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		if cq.From == nil || cq.Message == nil || cq.Message.Chat == nil {
			return session.Key{}, false
		}
		return session.Key{ChatID: cq.Message.Chat.ID, ActorID: cq.From.ID}, true
	case update.Message != nil:
		msg := update.Message
		if msg.From == nil || msg.Chat == nil {
			return session.Key{}, false
		}
		return session.Key{ChatID: msg.Chat.ID, ActorID: msg.From.ID}, true
	}
	return session.Key{}, false
}

func laneFor(key session.Key, n int) int {
	h := uint64(key.ChatID)*1_000_003 ^ uint64(key.ActorID)
	return int(h % uint64(n))
}

func actorOf(u *tgbotapi.User) domain.Actor {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return domain.Actor{ID: u.ID, Name: name}
}

// callbackData encodes a button value for a flow as "flowID|value"
func callbackData(flowID uuid.UUID, value string) string {
	return flowID.String() + "|" + value
}

func parseCallbackData(data string) (uuid.UUID, string, bool) {
	id, value, ok := strings.Cut(data, "|")
	if !ok {
		return uuid.Nil, "", false
	}
	flowID, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, "", false
	}
	return flowID, value, true
}
