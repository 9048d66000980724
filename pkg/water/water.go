// Package water schedules daily water reminders for family members and
// tracks which slots have been acknowledged today.
package water

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/korjavin/familyorganizer/pkg/clock"
	"github.com/korjavin/familyorganizer/pkg/directory"
	"github.com/korjavin/familyorganizer/pkg/logger"
	"github.com/korjavin/familyorganizer/pkg/messages"
	"github.com/korjavin/familyorganizer/pkg/models"
	"github.com/korjavin/familyorganizer/pkg/planner"
	"github.com/korjavin/familyorganizer/pkg/scheduler"
	"github.com/korjavin/familyorganizer/pkg/storage"
)

const (
	// FollowUps is the number of repeats scheduled after each primary reminder
	FollowUps = 6
	// FollowUpSpacing is the gap between repeats
	FollowUpSpacing = 10 * time.Minute
	// DefaultAckAmountMl is counted when an acknowledgement carries no amount
	DefaultAckAmountMl = 250
)

// ErrPermissionDenied is returned when reminders cannot be enabled because
// notifications are not allowed on the device
var ErrPermissionDenied = errors.New("notification permission denied: allow notifications in the device settings to enable water reminders")

// ReminderKey is the store key holding a member's scheduled reminder set
func ReminderKey(memberID string) string {
	return "water_reminders_" + memberID
}

// IntakeKey is the store key holding a member's approximate intake for a day
func IntakeKey(memberID, date string) string {
	return fmt.Sprintf("water_drank_%s_%s", memberID, date)
}

// AckKey is the store key flagging a slot as acknowledged for a day
func AckKey(memberID, date, slot string) string {
	return fmt.Sprintf("water_drank_slot_%s_%s_%s", memberID, date, slot)
}

// Scheduler turns planned water slots into daily notifications
type Scheduler struct {
	gateway   scheduler.Gateway
	store     storage.KV
	directory directory.Directory
	clock     clock.Clock
	wakeHour  int
	logger    *logger.Logger
}

// New creates a new water scheduler
func New(gateway scheduler.Gateway, store storage.KV, dir directory.Directory, clk clock.Clock, wakeHour int) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Scheduler{
		gateway:   gateway,
		store:     store,
		directory: dir,
		clock:     clk,
		wakeHour:  wakeHour,
		logger:    logger.New("water"),
	}
}

// Schedule replaces the member's reminders with one daily notification per
// slot plus up to FollowUps repeats, none at or after the quiet hour.
// It returns the number of notifications scheduled. If any schedule call
// fails, the notifications created so far are cancelled and nothing is persisted.
func (s *Scheduler) Schedule(ctx context.Context, memberID, name string, slots []models.WaterSlot) (int, error) {
	if err := s.Cancel(ctx, memberID); err != nil {
		return 0, err
	}

	quiet := planner.QuietHour * 60
	step := int(FollowUpSpacing / time.Minute)

	var created []string
	groups := make([]models.ReminderGroup, 0, len(slots))
	for _, slot := range slots {
		hour, minute, err := planner.ParseClock(slot.Time)
		if err != nil {
			s.rollback(ctx, created)
			return 0, err
		}

		group := models.ReminderGroup{TimeSlot: slot.Time}
		for n := 0; n <= FollowUps; n++ {
			at := hour*60 + minute + n*step
			if at >= quiet {
				break
			}
			id, err := s.gateway.ScheduleDaily(ctx, messages.WaterReminder(memberID, name, slot, n), at/60, at%60)
			if err != nil {
				s.rollback(ctx, created)
				return 0, fmt.Errorf("failed to schedule %s reminder for %s: %w", slot.Time, memberID, err)
			}
			created = append(created, id)
			group.NotificationIDs = append(group.NotificationIDs, id)
		}
		if len(group.NotificationIDs) > 0 {
			groups = append(groups, group)
		}
	}

	raw, err := EncodeReminderSet(groups)
	if err == nil {
		err = s.store.Set(ReminderKey(memberID), raw)
	}
	if err != nil {
		s.rollback(ctx, created)
		return 0, fmt.Errorf("failed to persist reminders for %s: %w", memberID, err)
	}

	s.logger.Info("Scheduled %d water notifications over %d slots for %s", len(created), len(groups), memberID)
	return len(created), nil
}

// Cancel cancels every notification of the member's reminder set and removes
// it. Individual cancel failures are logged and skipped. It is a no-op when
// nothing is stored.
func (s *Scheduler) Cancel(ctx context.Context, memberID string) error {
	key := ReminderKey(memberID)
	raw, ok, err := s.store.Get(key)
	if err != nil {
		return fmt.Errorf("failed to read reminders for %s: %w", memberID, err)
	}
	if !ok {
		return nil
	}

	set := DecodeReminderSet(raw)
	if set.Shape == ShapeNone {
		s.logger.Warn("Discarding unreadable reminder set for %s", memberID)
	}
	for _, id := range set.IDs() {
		if err := s.gateway.Cancel(ctx, id); err != nil {
			s.logger.Debug("Ignoring failure cancelling %s for %s: %v", id, memberID, err)
		}
	}

	if err := s.store.Remove(key); err != nil {
		return fmt.Errorf("failed to remove reminders for %s: %w", memberID, err)
	}
	s.logger.Info("Cancelled %d %s water notifications for %s", len(set.IDs()), set.Shape, memberID)
	return nil
}

// Enabled reports whether the member currently has reminders scheduled
func (s *Scheduler) Enabled(memberID string) (bool, error) {
	_, ok, err := s.store.Get(ReminderKey(memberID))
	if err != nil {
		return false, fmt.Errorf("failed to read reminders for %s: %w", memberID, err)
	}
	return ok, nil
}

// Acknowledge records that the member drank for slot today. The slot's
// recurring notifications stay scheduled; they are suppressed at delivery
// time for the rest of the day. Acknowledging the same slot twice on one
// day counts the intake once.
func (s *Scheduler) Acknowledge(ctx context.Context, memberID, slot string, amountMl int) error {
	if _, _, err := planner.ParseClock(slot); err != nil {
		return err
	}
	if amountMl <= 0 {
		amountMl = DefaultAckAmountMl
	}

	date := clock.DateKey(s.clock.Now())
	ackKey := AckKey(memberID, date, slot)
	if _, acked, err := s.store.Get(ackKey); err != nil {
		return fmt.Errorf("failed to read acknowledgement: %w", err)
	} else if acked {
		return nil
	}

	intake, err := s.intakeOn(memberID, date)
	if err != nil {
		return err
	}
	// The flag goes first so a retry after a partial failure never counts twice.
	if err := s.store.Set(ackKey, "true"); err != nil {
		return fmt.Errorf("failed to record acknowledgement: %w", err)
	}
	if err := s.store.Set(IntakeKey(memberID, date), strconv.Itoa(intake+amountMl)); err != nil {
		if rmErr := s.store.Remove(ackKey); rmErr != nil {
			s.logger.Error("Failed to undo acknowledgement of %s for %s: %v", slot, memberID, rmErr)
		}
		return fmt.Errorf("failed to record intake: %w", err)
	}

	s.logger.Info("Member %s acknowledged %s (+%d ml)", memberID, slot, amountMl)
	return nil
}

// IsAcknowledged reports whether slot was acknowledged on day
func (s *Scheduler) IsAcknowledged(memberID, slot string, day time.Time) (bool, error) {
	value, ok, err := s.store.Get(AckKey(memberID, clock.DateKey(day), slot))
	if err != nil {
		return false, fmt.Errorf("failed to read acknowledgement: %w", err)
	}
	return ok && value == "true", nil
}

// IntakeToday returns the approximate millilitres recorded for today
func (s *Scheduler) IntakeToday(memberID string) (int, error) {
	return s.intakeOn(memberID, clock.DateKey(s.clock.Now()))
}

func (s *Scheduler) intakeOn(memberID, date string) (int, error) {
	raw, ok, err := s.store.Get(IntakeKey(memberID, date))
	if err != nil {
		return 0, fmt.Errorf("failed to read intake: %w", err)
	}
	if !ok {
		return 0, nil
	}
	ml, err := strconv.Atoi(raw)
	if err != nil {
		s.logger.Warn("Resetting unreadable intake %q for %s on %s", raw, memberID, date)
		return 0, nil
	}
	return ml, nil
}

// Suppress is a delivery-time filter: it mutes water reminders whose slot
// was already acknowledged on the day they fire.
func (s *Scheduler) Suppress(payload models.Payload, at time.Time) bool {
	if payload.Data.Type != models.TypeWaterReminder {
		return false
	}
	acked, err := s.IsAcknowledged(payload.Data.MemberID, payload.Data.TimeSlot, at)
	if err != nil {
		s.logger.Error("Failed to check acknowledgement, delivering anyway: %v", err)
		return false
	}
	return acked
}

// SetupForFamily enables or disables reminders for every member. Enabling
// requires notification permission. Members without a birth date are
// skipped. It returns the number of notifications scheduled.
func (s *Scheduler) SetupForFamily(ctx context.Context, enabled bool) (int, error) {
	if !enabled {
		members, err := s.directory.Members(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to list family members: %w", err)
		}
		var errs []error
		for _, m := range members {
			if err := s.Cancel(ctx, m.ID); err != nil {
				errs = append(errs, err)
			}
		}
		return 0, errors.Join(errs...)
	}

	status, err := scheduler.EnsurePermission(ctx, s.gateway)
	if err != nil {
		return 0, err
	}
	if status != scheduler.PermissionGranted {
		return 0, ErrPermissionDenied
	}

	members, err := s.directory.Members(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list family members: %w", err)
	}

	total := 0
	for _, m := range members {
		_, slots, ok := s.PlanFor(m)
		if !ok {
			s.logger.Info("Skipping %s (%s): no birth date", m.Name, m.ID)
			continue
		}
		n, err := s.Schedule(ctx, m.ID, m.Name, slots)
		if err != nil {
			return total, err
		}
		total += n
	}

	s.logger.Info("Water reminders enabled for family: %d notifications", total)
	return total, nil
}

// PlanFor returns the member's daily need and reminder slots as of today.
// It reports false for a member without a birth date.
func (s *Scheduler) PlanFor(m models.Member) (int, []models.WaterSlot, bool) {
	if m.BirthDate == nil {
		return 0, nil, false
	}
	need := planner.DailyWaterNeed(planner.AgeOn(*m.BirthDate, s.clock.Now()), m.WeightKg)
	return need, planner.WaterSlots(need, s.wakeHour), true
}

func (s *Scheduler) rollback(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := s.gateway.Cancel(ctx, id); err != nil {
			s.logger.Debug("Ignoring failure rolling back %s: %v", id, err)
		}
	}
}
