package models

import (
	"time"
)

// Member is a family member as seen by the reminder planner
type Member struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
	WeightKg  *float64   `json:"weight_kg,omitempty"`
}

// WaterSlot is a time-of-day water reminder carrying a target volume
type WaterSlot struct {
	Time     string `json:"time"` // HH:MM
	AmountMl int    `json:"amount_ml"`
}

// ReminderGroup holds the notification ids scheduled for one slot:
// the primary reminder followed by its follow-ups
type ReminderGroup struct {
	TimeSlot        string   `json:"timeSlot"`
	NotificationIDs []string `json:"notificationIds"`
}

// Step is a single timed step of a recipe
type Step struct {
	Title           string `json:"title"`
	DurationSeconds int    `json:"duration_seconds"`
}

// CookingSession is the only cooking record that survives a restart
type CookingSession struct {
	Active  bool  `json:"active"`
	StartAt int64 `json:"startAt"` // unix milliseconds
}

// Started returns the session start as a wall-clock time
func (s CookingSession) Started() time.Time {
	return time.UnixMilli(s.StartAt)
}

// Notification channels
const (
	ChannelDefault   = "default"
	ChannelImportant = "important"
)

// Notification payload types
const (
	TypeWaterReminder = "water_reminder"
	TypeCookingStep   = "cooking_step"
	TypeCookingDone   = "cooking_done"
)

// PayloadData is the machine-readable part of a notification
type PayloadData struct {
	Type     string `json:"type"`
	MemberID string `json:"memberId,omitempty"`
	AmountMl int    `json:"amount,omitempty"`
	TimeSlot string `json:"timeSlot,omitempty"`
}

// Payload is what gets handed to the notification gateway
type Payload struct {
	Title   string      `json:"title"`
	Body    string      `json:"body"`
	Data    PayloadData `json:"data"`
	Channel string      `json:"channel"`
}

// IsCooking reports whether the payload belongs to a cooking session
func (p Payload) IsCooking() bool {
	return p.Data.Type == TypeCookingStep || p.Data.Type == TypeCookingDone
}
