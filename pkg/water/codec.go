package water

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/korjavin/familyorganizer/pkg/models"
)

// Shape tells which persisted layout a reminder set was decoded from
type Shape int

const (
	// ShapeNone means nothing usable was stored
	ShapeNone Shape = iota
	// ShapeLegacy is a flat JSON array of notification ids
	ShapeLegacy
	// ShapeGrouped is a JSON array of {timeSlot, notificationIds}
	ShapeGrouped
)

func (s Shape) String() string {
	switch s {
	case ShapeLegacy:
		return "legacy"
	case ShapeGrouped:
		return "grouped"
	default:
		return "none"
	}
}

// ReminderSet is a decoded ScheduledReminderSet. Legacy sets carry a single
// group with an empty TimeSlot.
type ReminderSet struct {
	Shape  Shape
	Groups []models.ReminderGroup
}

// IDs returns every notification id in the set
func (r ReminderSet) IDs() []string {
	var ids []string
	for _, g := range r.Groups {
		ids = append(ids, g.NotificationIDs...)
	}
	return ids
}

type groupRecord struct {
	TimeSlot        *string   `json:"timeSlot"`
	NotificationIDs *[]string `json:"notificationIds"`
}

// DecodeReminderSet parses a persisted reminder set. Anything that is neither
// a flat id array nor an array of groups decodes to ShapeNone.
func DecodeReminderSet(raw string) ReminderSet {
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &elems); err != nil {
		return ReminderSet{Shape: ShapeNone}
	}
	if len(elems) == 0 {
		return ReminderSet{Shape: ShapeGrouped}
	}

	switch first := bytes.TrimSpace(elems[0]); {
	case len(first) > 0 && first[0] == '"':
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			return ReminderSet{Shape: ShapeNone}
		}
		return ReminderSet{
			Shape:  ShapeLegacy,
			Groups: []models.ReminderGroup{{NotificationIDs: ids}},
		}
	case len(first) > 0 && first[0] == '{':
		groups := make([]models.ReminderGroup, 0, len(elems))
		for _, elem := range elems {
			var rec groupRecord
			if err := json.Unmarshal(elem, &rec); err != nil {
				return ReminderSet{Shape: ShapeNone}
			}
			if rec.TimeSlot == nil || rec.NotificationIDs == nil {
				return ReminderSet{Shape: ShapeNone}
			}
			groups = append(groups, models.ReminderGroup{
				TimeSlot:        *rec.TimeSlot,
				NotificationIDs: *rec.NotificationIDs,
			})
		}
		return ReminderSet{Shape: ShapeGrouped, Groups: groups}
	}
	return ReminderSet{Shape: ShapeNone}
}

// EncodeReminderSet renders groups in the current persisted layout
func EncodeReminderSet(groups []models.ReminderGroup) (string, error) {
	if groups == nil {
		groups = []models.ReminderGroup{}
	}
	data, err := json.Marshal(groups)
	if err != nil {
		return "", fmt.Errorf("failed to marshal reminder set: %w", err)
	}
	return string(data), nil
}
