// Package planner computes how much water a family member needs per day
// and splits it into reminder slots.
package planner

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/korjavin/familyorganizer/pkg/models"
)

const (
	// DefaultWakeHour is the assumed wake-up hour when none is configured
	DefaultWakeHour = 7
	// QuietHour is the first hour of the day no reminder may fire in
	QuietHour = 22
	// SlotsPerDay is the number of parts the daily need is divided into
	SlotsPerDay = 8
	// AdultDefaultMl is used for adults whose weight is unknown
	AdultDefaultMl = 2500
	// MlPerKg is the adult per-kilogram water need
	MlPerKg = 35

	slotSpacingHours = 2
)

// ErrInvalidClock is returned for a time of day that is not HH:MM
var ErrInvalidClock = errors.New("invalid time of day")

// DailyWaterNeed returns the recommended daily water intake in millilitres.
func DailyWaterNeed(age int, weightKg *float64) int {
	switch {
	case age < 1:
		return 800
	case age <= 3:
		return 1300
	case age <= 8:
		return 1700
	case age <= 13:
		return 2400
	case age <= 17:
		return 2600
	}
	if weightKg != nil && *weightKg > 0 {
		return int(math.Round(*weightKg * MlPerKg))
	}
	return AdultDefaultMl
}

// WaterSlots divides need into equal parts starting one hour after wakeHour,
// one every two hours. Slots that would land at or after QuietHour are dropped,
// so the result may hold fewer than SlotsPerDay entries.
func WaterSlots(need, wakeHour int) []models.WaterSlot {
	amount := int(math.Round(float64(need) / SlotsPerDay))

	slots := make([]models.WaterSlot, 0, SlotsPerDay)
	for i := 0; i < SlotsPerDay; i++ {
		hour := wakeHour + 1 + i*slotSpacingHours
		if hour >= QuietHour {
			break
		}
		slots = append(slots, models.WaterSlot{
			Time:     FormatClock(hour, 0),
			AmountMl: amount,
		})
	}
	return slots
}

// AgeOn returns the number of completed years between birth and now
func AgeOn(birth, now time.Time) int {
	age := now.Year() - birth.Year()
	if now.Month() < birth.Month() || (now.Month() == birth.Month() && now.Day() < birth.Day()) {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}

// FormatClock renders an hour and minute as HH:MM
func FormatClock(hour, minute int) string {
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

// ParseClock parses HH:MM into hour and minute
func ParseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("%w %q: %v", ErrInvalidClock, s, err)
	}
	return t.Hour(), t.Minute(), nil
}
