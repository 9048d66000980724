package messages

import (
	"fmt"
	"strings"

	"github.com/korjavin/familyorganizer/pkg/models"
)

// WaterReminder builds the payload for a water slot. followUp is 0 for the
// primary reminder and n for the reminder repeated n*10 minutes later.
func WaterReminder(memberID, name string, slot models.WaterSlot, followUp int) models.Payload {
	p := models.Payload{
		Title:   "💧 Time to drink water",
		Body:    fmt.Sprintf("%s, it's %s: have about %d ml of water.", name, slot.Time, slot.AmountMl),
		Channel: models.ChannelImportant,
		Data: models.PayloadData{
			Type:     models.TypeWaterReminder,
			MemberID: memberID,
			AmountMl: slot.AmountMl,
			TimeSlot: slot.Time,
		},
	}
	if followUp > 0 {
		p.Title = "💧 Still thirsty?"
		p.Body = fmt.Sprintf("%s, your %s glass (%d ml) is still waiting.", name, slot.Time, slot.AmountMl)
		p.Channel = models.ChannelDefault
	}
	return p
}

// CookingStep builds the payload fired when a step ends and next begins
func CookingStep(finished int, next models.Step) models.Payload {
	return models.Payload{
		Title:   fmt.Sprintf("⏰ Step %d done", finished+1),
		Body:    fmt.Sprintf("Next up: %s", next.Title),
		Channel: models.ChannelImportant,
		Data:    models.PayloadData{Type: models.TypeCookingStep},
	}
}

// CookingReady builds the payload fired when the whole recipe is done
func CookingReady() models.Payload {
	return models.Payload{
		Title:   "🍽️ Dinner is ready!",
		Body:    "All steps are finished. Enjoy your meal!",
		Channel: models.ChannelImportant,
		Data:    models.PayloadData{Type: models.TypeCookingDone},
	}
}

// Format renders a payload as a chat message
func Format(p models.Payload) string {
	var b strings.Builder
	b.WriteString(p.Title)
	if p.Body != "" {
		b.WriteString("\n")
		b.WriteString(p.Body)
	}
	return b.String()
}
