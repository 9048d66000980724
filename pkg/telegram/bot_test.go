package telegram

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/korjavin/familyorganizer/pkg/logger"
	"github.com/korjavin/familyorganizer/pkg/messages"
	"github.com/korjavin/familyorganizer/pkg/models"
)

func TestAckKeyboardRoundTrip(t *testing.T) {
	payload := messages.WaterReminder("m1", "Ayse", models.WaterSlot{Time: "10:00", AmountMl: 300}, 0)

	keyboard, ok := AckKeyboard(payload)
	if !ok {
		t.Fatalf("expected keyboard for water reminder")
	}
	if len(keyboard.InlineKeyboard) != 1 || len(keyboard.InlineKeyboard[0]) != 1 {
		t.Fatalf("unexpected keyboard layout %+v", keyboard)
	}
	button := keyboard.InlineKeyboard[0][0]
	if button.Text != "💧 I drank 300 ml" || button.CallbackData == nil {
		t.Fatalf("unexpected button %+v", button)
	}

	member, slot, amount, ok := ParseAck(*button.CallbackData)
	if !ok || member != "m1" || slot != "10:00" || amount != 300 {
		t.Fatalf("unexpected parse %q %q %d %v", member, slot, amount, ok)
	}
}

func TestAckKeyboardSkipsCooking(t *testing.T) {
	if _, ok := AckKeyboard(messages.CookingReady()); ok {
		t.Fatalf("cooking notifications have no button")
	}
}

func TestParseAckRejectsMalformed(t *testing.T) {
	for _, data := range []string{"", "ack|", "ack|m1|10:00", "ack||10:00|300", "ack|m1|10:00|lots", "other|m1|10:00|300"} {
		if _, _, _, ok := ParseAck(data); ok {
			t.Fatalf("expected %q to be rejected", data)
		}
	}
}

func TestDispatchWithoutSender(t *testing.T) {
	b := &Bot{logger: logger.New("telegram")}
	var commands, callbacks int
	commandHandlers := map[string]CommandHandler{
		"cook_status": func(*tgbotapi.Message) { commands++ },
	}
	callbackHandlers := map[string]CallbackHandler{
		AckPrefix: func(*tgbotapi.CallbackQuery) { callbacks++ },
	}

	command := &tgbotapi.Message{
		Text:     "/cook_status",
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len("/cook_status")}},
	}
	b.dispatch(tgbotapi.Update{Message: command}, commandHandlers, callbackHandlers, nil)
	b.dispatch(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{Data: AckPrefix + "m1|08:00|300"}}, commandHandlers, callbackHandlers, nil)

	if commands != 1 || callbacks != 1 {
		t.Fatalf("expected both handlers to run once, got commands=%d callbacks=%d", commands, callbacks)
	}
}

func TestUserName(t *testing.T) {
	if got := userName(nil); got != "unknown" {
		t.Fatalf("expected unknown, got %q", got)
	}
	if got := userName(&tgbotapi.User{UserName: "ayse"}); got != "ayse" {
		t.Fatalf("expected ayse, got %q", got)
	}
}
