// Package telegram runs a coaching conversation over a Telegram chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sbaglivi/RunGraph/coach"
	"github.com/sbaglivi/RunGraph/httpmiddleware"
	"github.com/sbaglivi/RunGraph/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	YES_DATA = "yes"
	NO_DATA  = "no"

	INBOX_SIZE    = 16
	TEXT_ONLY     = "I can only read text messages for now."
	VOICE_FAILURE = "Sorry, I couldn't understand that voice message. Could you type it instead?"
)

// Bot is the part of the Telegram API the coach uses.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

type Speaker interface {
	GenerateSpeech(ctx context.Context, text string) ([]byte, error)
}

type TelegramConnectProps struct {
	Logger *logger.LogMiddleware
	Token  string
	Debug  bool
	// ChatID binds the coach to one chat. Zero binds it to the first chat
	// that writes.
	ChatID      int64
	Transcriber Transcriber
	Speaker     Speaker
	// Bot replaces the Telegram API client, mostly for tests.
	Bot        Bot
	HTTPClient *http.Client
}

// Telegram is a coach.UserIO over one chat.
type Telegram struct {
	logger      *logger.LogMiddleware
	bot         Bot
	api         *tgbotapi.BotAPI
	transcriber Transcriber
	speaker     Speaker
	client      *http.Client

	chatID   atomic.Int64
	bound    chan struct{}
	bindOnce sync.Once
	inbox    chan string
}

var _ coach.UserIO = (*Telegram)(nil)

func Connect(ctx context.Context, args TelegramConnectProps) (*Telegram, error) {
	tracer := otel.Tracer("telegram/Connect")
	ctx, span := tracer.Start(ctx, "Connect")
	defer span.End()

	t := &Telegram{
		logger:      args.Logger,
		bot:         args.Bot,
		transcriber: args.Transcriber,
		speaker:     args.Speaker,
		client:      args.HTTPClient,
		bound:       make(chan struct{}),
		inbox:       make(chan string, INBOX_SIZE),
	}

	if t.bot == nil {
		if args.Token == "" {
			return nil, errors.New("TELEGRAM_BOT_TOKEN is not set")
		}
		api, err := tgbotapi.NewBotAPI(args.Token)
		if err != nil {
			span.RecordError(err)
			args.Logger.Logger(ctx).Error("[Telegram] Failed to create Telegram bot", zap.Error(err))
			return nil, fmt.Errorf("could not create telegram bot: %w", err)
		}
		api.Debug = args.Debug
		t.api = api
		t.bot = api

		span.SetAttributes(
			attribute.String("bot.username", api.Self.UserName),
			attribute.Bool("bot.debug", args.Debug),
		)
		args.Logger.Logger(ctx).Info("[Telegram] Bot connected successfully",
			zap.String("username", api.Self.UserName),
			zap.Bool("debug", args.Debug),
		)
	}

	if args.ChatID != 0 {
		t.bind(args.ChatID)
	}
	return t, nil
}

func (t *Telegram) bind(chatID int64) bool {
	bound := false
	t.bindOnce.Do(func() {
		t.chatID.Store(chatID)
		close(t.bound)
		bound = true
	})
	return bound
}

// Listen feeds updates into the conversation until ctx is done.
func (t *Telegram) Listen(ctx context.Context) error {
	tracer := otel.Tracer("telegram/Listen")
	ctx, span := tracer.Start(ctx, "Listen")
	defer span.End()

	if t.api == nil {
		return errors.New("telegram bot has no update source")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.api.GetUpdatesChan(u)

	t.logger.Logger(ctx).Info("[Telegram] Starting message listener")

	for {
		select {
		case <-ctx.Done():
			t.api.StopReceivingUpdates()
			t.logger.Logger(ctx).Info("[Telegram] Shutting down message listener")
			return nil
		case update := <-updates:
			t.Dispatch(ctx, update)
		}
	}
}

// Dispatch routes one update to the waiting conversation.
func (t *Telegram) Dispatch(ctx context.Context, update tgbotapi.Update) {
	tracer := otel.Tracer("telegram/Dispatch")
	ctx, span := tracer.Start(ctx, "Dispatch")
	defer span.End()

	switch {
	case update.Message != nil:
		t.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		t.handleCallbackQuery(ctx, update.CallbackQuery)
	}
}

func (t *Telegram) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.From == nil || message.Chat == nil {
		return
	}

	user := message.From
	tracer := otel.Tracer("telegram/handleMessage")
	ctx, span := tracer.Start(ctx, "handleMessage")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("user.id", user.ID),
		attribute.Int64("chat.id", message.Chat.ID),
	)

	// The message that binds the chat only opens the conversation.
	if t.bind(message.Chat.ID) {
		t.logger.Logger(ctx).Info("[Telegram] Bound to chat", zap.Int64("chat_id", message.Chat.ID), zap.String("username", user.UserName))
		return
	}
	if message.Chat.ID != t.chatID.Load() {
		t.logger.Logger(ctx).Warn("[Telegram] Ignoring message from another chat", zap.Int64("chat_id", message.Chat.ID))
		return
	}

	text := strings.TrimSpace(message.Text)
	switch {
	case message.Voice != nil:
		span.SetAttributes(attribute.String("message.type", "voice"))
		var err error
		text, err = t.transcribe(ctx, message.Voice.FileID)
		if err != nil {
			span.RecordError(err)
			t.logger.Logger(ctx).Warn("[Telegram] Could not transcribe voice message", zap.Error(err))
			reply := VOICE_FAILURE
			if t.transcriber == nil {
				reply = TEXT_ONLY
			}
			t.send(ctx, tgbotapi.NewMessage(message.Chat.ID, reply))
			return
		}
	case message.IsCommand():
		return
	default:
		span.SetAttributes(attribute.String("message.type", "text"))
	}

	if text != "" {
		t.deliver(ctx, text)
	}
}

func (t *Telegram) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if query.From == nil {
		return
	}

	tracer := otel.Tracer("telegram/handleCallbackQuery")
	ctx, span := tracer.Start(ctx, "handleCallbackQuery")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("user.id", query.From.ID),
		attribute.String("callback.data", query.Data),
	)

	if _, err := t.bot.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		t.logger.Logger(ctx).Warn("[Telegram] Could not acknowledge callback", zap.Error(err))
	}

	if query.Message == nil || query.Message.Chat == nil || query.Message.Chat.ID != t.chatID.Load() {
		return
	}
	t.deliver(ctx, query.Data)
}

func (t *Telegram) deliver(ctx context.Context, text string) {
	select {
	case t.inbox <- text:
	default:
		t.logger.Logger(ctx).Warn("[Telegram] Dropping message, nobody is listening", zap.String("text", text))
	}
}

func (t *Telegram) transcribe(ctx context.Context, fileID string) (string, error) {
	if t.transcriber == nil {
		return "", errors.New("no transcriber configured")
	}
	url, err := t.bot.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("could not locate voice file: %w", err)
	}
	audio, err := httpmiddleware.HttpRequest(httpmiddleware.HttpRequestStruct{
		Ctx:    ctx,
		Method: http.MethodGet,
		Url:    url,
		Client: t.client,
	})
	if err != nil {
		return "", fmt.Errorf("could not download voice file: %w", err)
	}
	return t.transcriber.Transcribe(ctx, audio)
}

func (t *Telegram) chat(ctx context.Context) (int64, error) {
	select {
	case <-t.bound:
		return t.chatID.Load(), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (t *Telegram) receive(ctx context.Context) (string, error) {
	select {
	case text := <-t.inbox:
		return text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (t *Telegram) send(ctx context.Context, c tgbotapi.Chattable) error {
	if _, err := t.bot.Send(c); err != nil {
		t.logger.Logger(ctx).Error("[Telegram] Failed to send message", zap.Error(err))
		return err
	}
	return nil
}

// say sends text, and its voiced version when a speaker is configured.
// A failed voice reply is not an error, the text already went out.
func (t *Telegram) say(ctx context.Context, msg tgbotapi.MessageConfig) error {
	if err := t.send(ctx, msg); err != nil {
		return err
	}
	if t.speaker == nil {
		return nil
	}
	audio, err := t.speaker.GenerateSpeech(ctx, msg.Text)
	if err != nil {
		t.logger.Logger(ctx).Warn("[Telegram] Could not voice reply", zap.Error(err))
		return nil
	}
	_ = t.send(ctx, tgbotapi.NewAudio(msg.ChatID, tgbotapi.FileBytes{Name: "coach.mp3", Bytes: audio}))
	return nil
}

func (t *Telegram) Say(ctx context.Context, text string) error {
	chatID, err := t.chat(ctx)
	if err != nil {
		return err
	}
	return t.say(ctx, tgbotapi.NewMessage(chatID, text))
}

func (t *Telegram) Ask(ctx context.Context, prompt string) (string, error) {
	if err := t.Say(ctx, prompt); err != nil {
		return "", err
	}
	return t.receive(ctx)
}

// AskYesNo offers Yes and No buttons; a typed or spoken answer works too.
func (t *Telegram) AskYesNo(ctx context.Context, prompt string) (bool, error) {
	chatID, err := t.chat(ctx)
	if err != nil {
		return false, err
	}

	for {
		msg := tgbotapi.NewMessage(chatID, prompt)
		msg.ReplyMarkup = yesNoKeyboard()
		if err := t.say(ctx, msg); err != nil {
			return false, err
		}
		answer, err := t.receive(ctx)
		if err != nil {
			return false, err
		}
		if yes, ok := coach.ParseYesNo(answer); ok {
			return yes, nil
		}
		prompt = coach.YES_NO_REMINDER
	}
}

func yesNoKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Yes", YES_DATA),
			tgbotapi.NewInlineKeyboardButtonData("No", NO_DATA),
		),
	)
}

// Await blocks until the user writes again, dropping what they wrote.
func (t *Telegram) Await(ctx context.Context) error {
	_, err := t.receive(ctx)
	return err
}
