package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/korjavin/familyorganizer/pkg/logger"
	"github.com/korjavin/familyorganizer/pkg/models"
	"github.com/korjavin/familyorganizer/pkg/storage"
	"github.com/robfig/cron/v3"
)

// Permission is the notification permission state of the device
type Permission string

const (
	PermissionGranted      Permission = "granted"
	PermissionDenied       Permission = "denied"
	PermissionUndetermined Permission = "undetermined"
)

// Kinds of scheduled notifications
const (
	KindOnce  = "once"
	KindDaily = "daily"
)

// ErrNotFound is returned when cancelling an id the gateway does not know
var ErrNotFound = errors.New("notification not found")

// Gateway is the notification scheduling primitive
type Gateway interface {
	ScheduleOnce(ctx context.Context, payload models.Payload, offset time.Duration) (string, error)
	ScheduleDaily(ctx context.Context, payload models.Payload, hour, minute int) (string, error)
	Cancel(ctx context.Context, id string) error
	Pending(ctx context.Context) ([]Scheduled, error)
	PermissionStatus(ctx context.Context) (Permission, error)
	RequestPermission(ctx context.Context) (Permission, error)
}

// Scheduled describes a notification waiting to fire
type Scheduled struct {
	ID      string         `json:"id"`
	Kind    string         `json:"kind"`
	Payload models.Payload `json:"payload"`
	Hour    int            `json:"hour,omitempty"`
	Minute  int            `json:"minute,omitempty"`
	FireAt  time.Time      `json:"fire_at,omitempty"`
}

// Deliverer shows a fired notification to the family
type Deliverer interface {
	Deliver(ctx context.Context, payload models.Payload) error
}

// DelivererFunc adapts a function to Deliverer
type DelivererFunc func(ctx context.Context, payload models.Payload) error

// Deliver calls f
func (f DelivererFunc) Deliver(ctx context.Context, payload models.Payload) error {
	return f(ctx, payload)
}

// Filter decides at delivery time whether a fired payload is suppressed
type Filter func(payload models.Payload, at time.Time) bool

// KeyPrefix starts the store key of every persisted notification
const KeyPrefix = "notification_"

// MissedGrace is how late a one-shot may still be delivered after a restart.
// Older one-shots are dropped.
const MissedGrace = 5 * time.Minute

type entry struct {
	scheduled Scheduled
	cronID    cron.EntryID
	timer     *time.Timer
}

// Service is a local notification gateway. With a store, every entry is
// persisted and re-armed by Start, so schedules outlive the process.
type Service struct {
	cron       *cron.Cron
	deliverer  Deliverer
	location   *time.Location
	store      storage.Lister
	logger     *logger.Logger
	mu         sync.Mutex
	entries    map[string]*entry
	filters    []Filter
	permission Permission
}

// New creates a new local gateway. Fired payloads go to deliverer. store may
// be nil, in which case entries only live in memory.
func New(deliverer Deliverer, location *time.Location, permission Permission, store storage.Lister) *Service {
	if location == nil {
		location = time.Local
	}
	if permission == "" {
		permission = PermissionUndetermined
	}
	return &Service{
		cron:       cron.New(cron.WithLocation(location)),
		deliverer:  deliverer,
		location:   location,
		store:      store,
		logger:     logger.New("scheduler"),
		entries:    make(map[string]*entry),
		permission: permission,
	}
}

// AddFilter installs a delivery-time filter. Any filter returning true suppresses the payload.
func (s *Service) AddFilter(f Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = append(s.filters, f)
}

// Start re-arms persisted entries and starts the scheduler
func (s *Service) Start() error {
	s.logger.Info("Starting notification scheduler")
	if err := s.rearm(); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running deliveries to return.
// Pending one-shot timers are stopped; entries stay listed and persisted.
func (s *Service) Stop() {
	s.logger.Info("Stopping notification scheduler")
	<-s.cron.Stop().Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
}

// ScheduleOnce schedules payload to fire once after offset
func (s *Service) ScheduleOnce(ctx context.Context, payload models.Payload, offset time.Duration) (string, error) {
	if offset < 0 {
		return "", fmt.Errorf("offset must not be negative, got %v", offset)
	}

	sc := Scheduled{
		ID:      uuid.NewString(),
		Kind:    KindOnce,
		Payload: payload,
		FireAt:  time.Now().In(s.location).Add(offset),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persistLocked(sc); err != nil {
		return "", err
	}
	s.armOnceLocked(sc, offset)

	s.logger.Debug("Scheduled one-shot %s (%s) in %v", sc.ID, payload.Data.Type, offset)
	return sc.ID, nil
}

// ScheduleDaily schedules payload to fire every day at hour:minute
func (s *Service) ScheduleDaily(ctx context.Context, payload models.Payload, hour, minute int) (string, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid daily time %02d:%02d", hour, minute)
	}

	sc := Scheduled{
		ID:      uuid.NewString(),
		Kind:    KindDaily,
		Payload: payload,
		Hour:    hour,
		Minute:  minute,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.armDailyLocked(sc); err != nil {
		return "", err
	}
	if err := s.persistLocked(sc); err != nil {
		s.disarmLocked(sc.ID)
		return "", err
	}

	s.logger.Debug("Scheduled daily %s (%s) at %02d:%02d", sc.ID, payload.Data.Type, hour, minute)
	return sc.ID, nil
}

// Cancel removes a scheduled notification
func (s *Service) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.disarmLocked(id) {
		return fmt.Errorf("cancel %s: %w", id, ErrNotFound)
	}
	return s.forgetLocked(id)
}

func (s *Service) armOnceLocked(sc Scheduled, delay time.Duration) {
	id := sc.ID
	s.entries[id] = &entry{
		scheduled: sc,
		timer: time.AfterFunc(delay, func() {
			s.fire(id, true)
		}),
	}
}

func (s *Service) armDailyLocked(sc Scheduled) error {
	id := sc.ID
	cronID, err := s.cron.AddFunc(fmt.Sprintf("%d %d * * *", sc.Minute, sc.Hour), func() {
		s.fire(id, false)
	})
	if err != nil {
		return fmt.Errorf("failed to add daily entry: %w", err)
	}
	s.entries[id] = &entry{scheduled: sc, cronID: cronID}
	return nil
}

// disarmLocked stops an entry's timer or cron job and drops it from memory
func (s *Service) disarmLocked(id string) bool {
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	} else {
		s.cron.Remove(e.cronID)
	}
	delete(s.entries, id)
	return true
}

func (s *Service) persistLocked(sc Scheduled) error {
	if s.store == nil {
		return nil
	}
	raw, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("failed to marshal notification %s: %w", sc.ID, err)
	}
	if err := s.store.Set(KeyPrefix+sc.ID, string(raw)); err != nil {
		return fmt.Errorf("failed to persist notification %s: %w", sc.ID, err)
	}
	return nil
}

func (s *Service) forgetLocked(id string) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Remove(KeyPrefix + id); err != nil {
		return fmt.Errorf("failed to forget notification %s: %w", id, err)
	}
	return nil
}

// rearm loads persisted entries back into the cron and timers. One-shots
// that came due while the process was down are delivered right away when
// within MissedGrace and dropped otherwise.
func (s *Service) rearm() error {
	if s.store == nil {
		return nil
	}
	keys, err := s.store.List(KeyPrefix)
	if err != nil {
		return fmt.Errorf("failed to list persisted notifications: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	daily, once, dropped := 0, 0, 0
	for _, key := range keys {
		id := strings.TrimPrefix(key, KeyPrefix)
		if _, ok := s.entries[id]; ok {
			continue
		}

		raw, ok, err := s.store.Get(key)
		if err != nil {
			return fmt.Errorf("failed to read notification %s: %w", id, err)
		}
		if !ok {
			continue
		}
		var sc Scheduled
		if err := json.Unmarshal([]byte(raw), &sc); err != nil || sc.ID != id {
			s.logger.Warn("Dropping unreadable notification %s", id)
			dropped++
			if err := s.forgetLocked(id); err != nil {
				return err
			}
			continue
		}

		switch sc.Kind {
		case KindDaily:
			if err := s.armDailyLocked(sc); err != nil {
				return err
			}
			daily++
		case KindOnce:
			delay := sc.FireAt.Sub(now)
			if delay < -MissedGrace {
				s.logger.Info("Dropping one-shot %s (%s) missed at %s", id, sc.Payload.Data.Type, sc.FireAt.Format(time.RFC3339))
				dropped++
				if err := s.forgetLocked(id); err != nil {
					return err
				}
				continue
			}
			if delay < 0 {
				delay = 0
			}
			s.armOnceLocked(sc, delay)
			once++
		default:
			s.logger.Warn("Dropping notification %s of unknown kind %q", id, sc.Kind)
			dropped++
			if err := s.forgetLocked(id); err != nil {
				return err
			}
		}
	}

	s.logger.Info("Re-armed %d daily and %d one-shot notifications, dropped %d", daily, once, dropped)
	return nil
}

// Pending lists every notification still waiting to fire
func (s *Service) Pending(ctx context.Context) ([]Scheduled, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]Scheduled, 0, len(s.entries))
	for _, e := range s.entries {
		pending = append(pending, e.scheduled)
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].ID < pending[j].ID
	})
	return pending, nil
}

// PermissionStatus returns the current permission state
func (s *Service) PermissionStatus(ctx context.Context) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission, nil
}

// RequestPermission asks for permission. An undetermined state becomes granted;
// a denial sticks until changed outside the app.
func (s *Service) RequestPermission(ctx context.Context) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.permission == PermissionUndetermined {
		s.permission = PermissionGranted
		s.logger.Info("Notification permission granted")
	}
	return s.permission, nil
}

func (s *Service) fire(id string, once bool) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if once {
		delete(s.entries, id)
		if err := s.forgetLocked(id); err != nil {
			s.logger.Warn("%v", err)
		}
	}
	payload := e.scheduled.Payload
	filters := append([]Filter(nil), s.filters...)
	s.mu.Unlock()

	now := time.Now().In(s.location)
	for _, filter := range filters {
		if filter(payload, now) {
			s.logger.Debug("Suppressed %s notification %s", payload.Data.Type, id)
			return
		}
	}

	if s.deliverer == nil {
		s.logger.Info("Notification %s fired: %s - %s", id, payload.Title, payload.Body)
		return
	}
	if err := s.deliverer.Deliver(context.Background(), payload); err != nil {
		s.logger.Error("Failed to deliver notification %s: %v", id, err)
	}
}

// EnsurePermission returns the granted state, requesting it first when undetermined
func EnsurePermission(ctx context.Context, gw Gateway) (Permission, error) {
	status, err := gw.PermissionStatus(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read notification permission: %w", err)
	}
	if status == PermissionGranted {
		return status, nil
	}
	status, err = gw.RequestPermission(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to request notification permission: %w", err)
	}
	return status, nil
}
