// Package telegram delivers fired notifications to the family chat and
// turns chat commands and button presses into organizer actions.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/korjavin/familyorganizer/pkg/logger"
	"github.com/korjavin/familyorganizer/pkg/messages"
	"github.com/korjavin/familyorganizer/pkg/models"
)

// AckPrefix starts the callback data of a "drank" button
const AckPrefix = "ack|"

// Bot represents a Telegram bot instance bound to the family chat
type Bot struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *logger.Logger
}

// HandlerFunc is a function that handles a Telegram update
type HandlerFunc func(update tgbotapi.Update)

// CommandHandler is a function that handles a Telegram command
type CommandHandler func(message *tgbotapi.Message)

// CallbackHandler is a function that handles a Telegram callback query
type CallbackHandler func(callback *tgbotapi.CallbackQuery)

// New creates a new Telegram bot instance
func New(token string, chatID int64) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	bot := &Bot{
		api:    api,
		chatID: chatID,
		logger: logger.New("telegram"),
	}

	bot.logger.Info("Telegram bot created: @%s", api.Self.UserName)
	return bot, nil
}

// Deliver posts a fired notification to the family chat. Water reminders
// carry a button that acknowledges the slot.
func (b *Bot) Deliver(ctx context.Context, payload models.Payload) error {
	msg := tgbotapi.NewMessage(b.chatID, messages.Format(payload))
	if keyboard, ok := AckKeyboard(payload); ok {
		msg.ReplyMarkup = keyboard
	}
	if payload.Channel == models.ChannelDefault {
		msg.DisableNotification = true
	}
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send notification to chat %d: %w", b.chatID, err)
	}
	return nil
}

// Start listens for updates until ctx is cancelled
func (b *Bot) Start(ctx context.Context, commandHandlers map[string]CommandHandler, callbackHandlers map[string]CallbackHandler, defaultHandler HandlerFunc) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		b.dispatch(update, commandHandlers, callbackHandlers, defaultHandler)
	}
}

func (b *Bot) dispatch(update tgbotapi.Update, commandHandlers map[string]CommandHandler, callbackHandlers map[string]CallbackHandler, defaultHandler HandlerFunc) {
	if update.Message != nil && update.Message.IsCommand() {
		command := update.Message.Command()
		if handler, ok := commandHandlers[command]; ok {
			b.logger.Info("Handling command: %s from user %s", command, userName(update.Message.From))
			handler(update.Message)
		}
		return
	}

	if update.CallbackQuery != nil {
		data := update.CallbackQuery.Data
		for prefix, handler := range callbackHandlers {
			if strings.HasPrefix(data, prefix) {
				b.logger.Info("Handling callback: %s from user %s", data, userName(update.CallbackQuery.From))
				handler(update.CallbackQuery)
				break
			}
		}
		return
	}

	if defaultHandler != nil {
		defaultHandler(update)
	}
}

// userName tolerates updates without a sender, such as channel posts
func userName(u *tgbotapi.User) string {
	if u == nil {
		return "unknown"
	}
	return u.UserName
}

// SendMessage sends a text message to the family chat
func (b *Bot) SendMessage(text string) error {
	_, err := b.api.Send(tgbotapi.NewMessage(b.chatID, text))
	return err
}

// AnswerCallbackQuery answers a callback query
func (b *Bot) AnswerCallbackQuery(callbackID string, text string) error {
	callback := tgbotapi.NewCallback(callbackID, text)
	_, err := b.api.Request(callback)
	return err
}

// AckKeyboard builds the "drank" button for a water reminder
func AckKeyboard(payload models.Payload) (tgbotapi.InlineKeyboardMarkup, bool) {
	if payload.Data.Type != models.TypeWaterReminder || payload.Data.MemberID == "" {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	data := fmt.Sprintf("%s%s|%s|%d", AckPrefix, payload.Data.MemberID, payload.Data.TimeSlot, payload.Data.AmountMl)
	label := fmt.Sprintf("💧 I drank %d ml", payload.Data.AmountMl)
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(label, data)),
	), true
}

// ParseAck reads the member, slot and amount back from a "drank" button
func ParseAck(data string) (memberID, slot string, amountMl int, ok bool) {
	rest, found := strings.CutPrefix(data, AckPrefix)
	if !found {
		return "", "", 0, false
	}
	parts := strings.Split(rest, "|")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", "", 0, false
	}
	amountMl, err := strconv.Atoi(parts[2])
	if err != nil {
		return "", "", 0, false
	}
	return parts[0], parts[1], amountMl, true
}
