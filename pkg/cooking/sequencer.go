// Package cooking runs step-by-step cooking timers that survive the process being killed.
package cooking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/korjavin/familyorganizer/pkg/clock"
	"github.com/korjavin/familyorganizer/pkg/logger"
	"github.com/korjavin/familyorganizer/pkg/messages"
	"github.com/korjavin/familyorganizer/pkg/models"
	"github.com/korjavin/familyorganizer/pkg/scheduler"
	"github.com/korjavin/familyorganizer/pkg/storage"
)

// SessionKey is the store key of the persisted cooking session
const SessionKey = "cooking_session"

// PlanKey is the store key of the steps the running session was started with
const PlanKey = "cooking_plan"

// TickInterval is how often the foreground countdown is recomputed
const TickInterval = time.Second

// ErrSessionActive is returned when the recipe is changed mid-session
var ErrSessionActive = errors.New("a cooking session is already running")

// State is a snapshot of the sequencer for the host UI
type State struct {
	Active        bool          `json:"active"`
	StartAt       *time.Time    `json:"startAt,omitempty"`
	Elapsed       int           `json:"elapsed"`
	StepIndex     int           `json:"stepIndex"`
	StepRemaining int           `json:"stepRemaining"`
	Total         int           `json:"total"`
	Steps         []models.Step `json:"steps"`
	Notifications bool          `json:"notifications"`
}

// session is owned by exactly one Sequencer and exists only while cooking
type session struct {
	startAt         time.Time
	ticker          clock.Ticker
	done            chan struct{}
	notificationIDs []string
	notify          bool
}

// Sequencer drives one cooking session at a time
type Sequencer struct {
	gateway scheduler.Gateway
	store   storage.KV
	clock   clock.Clock
	logger  *logger.Logger

	mu       sync.Mutex
	plan     Plan
	current  *session
	onTick   func(State)
	onFinish func()
}

// NewSequencer creates a sequencer for plan. An empty plan means FallbackPlan.
func NewSequencer(gateway scheduler.Gateway, store storage.KV, clk clock.Clock, plan Plan) *Sequencer {
	if clk == nil {
		clk = clock.Real{}
	}
	if len(plan) == 0 {
		plan = FallbackPlan()
	}
	return &Sequencer{
		gateway: gateway,
		store:   store,
		clock:   clk,
		logger:  logger.New("cooking"),
		plan:    append(Plan(nil), plan...),
	}
}

// OnTick registers a callback invoked after every foreground tick
func (s *Sequencer) OnTick(f func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTick = f
}

// OnFinish registers a callback invoked when a session completes
func (s *Sequencer) OnFinish(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFinish = f
}

// SetPlan replaces the recipe. Steps cannot change while a session runs.
func (s *Sequencer) SetPlan(plan Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return ErrSessionActive
	}
	if len(plan) == 0 {
		plan = FallbackPlan()
	}
	s.plan = append(Plan(nil), plan...)
	return nil
}

// SetRecipe parses recipe text into the plan
func (s *Sequencer) SetRecipe(text string) error {
	return s.SetPlan(ParseSteps(text))
}

// Plan returns a copy of the current plan
func (s *Sequencer) Plan() Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(Plan(nil), s.plan...)
}

// Start begins a new session, replacing any running one. Without
// notification permission the session runs in the foreground only.
func (s *Sequencer) Start(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	notify := true
	status, err := scheduler.EnsurePermission(ctx, s.gateway)
	if err != nil {
		s.logger.Warn("Could not check notification permission, continuing in foreground only: %v", err)
		notify = false
	} else if status != scheduler.PermissionGranted {
		s.logger.Warn("Notification permission %s: step alerts will only show while the app is open", status)
		notify = false
	}

	if err := s.stopLocked(ctx); err != nil {
		return State{}, err
	}

	now := s.clock.Now()
	planRaw, err := json.Marshal(s.plan)
	if err != nil {
		return State{}, fmt.Errorf("failed to marshal cooking plan: %w", err)
	}
	if err := s.store.Set(PlanKey, string(planRaw)); err != nil {
		return State{}, fmt.Errorf("failed to persist cooking plan: %w", err)
	}
	raw, err := json.Marshal(models.CookingSession{Active: true, StartAt: now.UnixMilli()})
	if err != nil {
		return State{}, fmt.Errorf("failed to marshal cooking session: %w", err)
	}
	if err := s.store.Set(SessionKey, string(raw)); err != nil {
		s.clearPlan()
		return State{}, fmt.Errorf("failed to persist cooking session: %w", err)
	}

	sess := &session{startAt: time.UnixMilli(now.UnixMilli()), notify: notify}
	if notify {
		ids, err := s.scheduleNotifications(ctx)
		if err != nil {
			if rmErr := s.store.Remove(SessionKey); rmErr != nil {
				s.logger.Error("Failed to clear cooking session after scheduling failure: %v", rmErr)
			}
			s.clearPlan()
			return State{}, err
		}
		sess.notificationIDs = ids
	}

	s.current = sess
	s.startTicking(sess)

	s.logger.Info("Cooking session started: %d steps, %ds total, %d notifications",
		len(s.plan), s.plan.TotalSeconds(), len(sess.notificationIDs))
	return s.stateLocked(now), nil
}

// Stop ends the session, cancels its notifications and clears the persisted
// record. It is a no-op when nothing is running.
func (s *Sequencer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(ctx)
}

// Finish stops the session and signals completion to the host
func (s *Sequencer) Finish(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	onFinish := s.onFinish
	s.mu.Unlock()

	s.logger.Info("Cooking session finished")
	if onFinish != nil {
		onFinish()
	}
	return nil
}

// Restore resumes a persisted session from its wall-clock start time,
// against the steps it was started with when those were saved. An expired,
// inactive or unreadable record is cleared and nothing resumes.
func (s *Sequencer) Restore(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return true, nil
	}

	raw, ok, err := s.store.Get(SessionKey)
	if err != nil {
		return false, fmt.Errorf("failed to read cooking session: %w", err)
	}
	if !ok {
		return false, nil
	}

	if plan, ok := s.persistedPlan(); ok {
		s.plan = plan
	}

	now := s.clock.Now()
	record, err := decodeSession(raw)
	switch {
	case err != nil:
		s.logger.Warn("Clearing unreadable cooking session: %v", err)
	case !record.Active:
		s.logger.Info("Clearing inactive cooking session")
	case elapsedSeconds(record.Started(), now) >= s.plan.TotalSeconds():
		s.logger.Info("Clearing expired cooking session started at %s", record.Started().Format(time.RFC3339))
	default:
		sess := &session{startAt: record.Started()}
		sess.notificationIDs = s.pendingCookingIDs(ctx)
		sess.notify = len(sess.notificationIDs) > 0
		s.current = sess
		s.startTicking(sess)
		st := s.stateLocked(now)
		s.logger.Info("Cooking session restored at step %d, %ds elapsed", st.StepIndex, st.Elapsed)
		return true, nil
	}

	if err := s.store.Remove(SessionKey); err != nil {
		return false, fmt.Errorf("failed to clear cooking session: %w", err)
	}
	s.clearPlan()
	return false, nil
}

// State returns the current snapshot
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked(s.clock.Now())
}

func (s *Sequencer) stateLocked(now time.Time) State {
	total := s.plan.TotalSeconds()
	st := State{
		Total: total,
		Steps: append([]models.Step(nil), s.plan...),
	}
	if s.current == nil {
		return st
	}

	elapsed := elapsedSeconds(s.current.startAt, now)
	if elapsed > total {
		elapsed = total
	}
	startAt := s.current.startAt
	st.Active = true
	st.StartAt = &startAt
	st.Elapsed = elapsed
	st.StepIndex = s.plan.StepIndexAt(elapsed)
	st.StepRemaining = s.plan.StepRemainingAt(elapsed)
	st.Notifications = s.current.notify
	return st
}

func (s *Sequencer) scheduleNotifications(ctx context.Context) ([]string, error) {
	var ids []string
	fail := func(err error) ([]string, error) {
		s.cancelAll(ctx, ids)
		return nil, fmt.Errorf("failed to schedule cooking notifications: %w", err)
	}

	ends := s.plan.Boundaries()
	for i := 0; i < len(s.plan)-1; i++ {
		offset := time.Duration(ends[i]) * time.Second
		id, err := s.gateway.ScheduleOnce(ctx, messages.CookingStep(i, s.plan[i+1]), offset)
		if err != nil {
			return fail(err)
		}
		ids = append(ids, id)
	}

	id, err := s.gateway.ScheduleOnce(ctx, messages.CookingReady(), time.Duration(s.plan.TotalSeconds())*time.Second)
	if err != nil {
		return fail(err)
	}
	return append(ids, id), nil
}

func (s *Sequencer) stopLocked(ctx context.Context) error {
	if sess := s.current; sess != nil {
		sess.ticker.Stop()
		close(sess.done)
		s.cancelAll(ctx, sess.notificationIDs)
		s.current = nil
		s.logger.Info("Cooking session stopped")
	}

	// Sweep cooking alerts left over from an earlier process.
	s.cancelAll(ctx, s.pendingCookingIDs(ctx))

	if err := s.store.Remove(SessionKey); err != nil {
		return fmt.Errorf("failed to clear cooking session: %w", err)
	}
	s.clearPlan()
	return nil
}

func (s *Sequencer) pendingCookingIDs(ctx context.Context) []string {
	pending, err := s.gateway.Pending(ctx)
	if err != nil {
		s.logger.Warn("Could not list pending notifications: %v", err)
		return nil
	}
	var ids []string
	for _, p := range pending {
		if p.Payload.IsCooking() {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// persistedPlan reads the steps saved by Start. A missing or unusable plan
// reports false and the current plan stays in effect.
func (s *Sequencer) persistedPlan() (Plan, bool) {
	raw, ok, err := s.store.Get(PlanKey)
	if err != nil {
		s.logger.Warn("Could not read cooking plan: %v", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var plan Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		s.logger.Warn("Ignoring unreadable cooking plan: %v", err)
		return nil, false
	}
	if len(plan) == 0 {
		return nil, false
	}
	for _, step := range plan {
		if step.DurationSeconds <= 0 {
			s.logger.Warn("Ignoring cooking plan with a %ds step", step.DurationSeconds)
			return nil, false
		}
	}
	return plan, true
}

func (s *Sequencer) clearPlan() {
	if err := s.store.Remove(PlanKey); err != nil {
		s.logger.Warn("Failed to clear cooking plan: %v", err)
	}
}

func (s *Sequencer) cancelAll(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := s.gateway.Cancel(ctx, id); err != nil {
			s.logger.Debug("Ignoring failure cancelling %s: %v", id, err)
		}
	}
}

func (s *Sequencer) startTicking(sess *session) {
	sess.ticker = s.clock.NewTicker(TickInterval)
	sess.done = make(chan struct{})
	go s.tickLoop(sess)
}

func (s *Sequencer) tickLoop(sess *session) {
	for {
		select {
		case <-sess.done:
			return
		case <-sess.ticker.C():
			if !s.tick(sess) {
				return
			}
		}
	}
}

// tick recomputes the countdown and finishes the session once it runs out.
// It reports whether the loop should keep going.
func (s *Sequencer) tick(sess *session) bool {
	s.mu.Lock()
	if s.current != sess {
		s.mu.Unlock()
		return false
	}
	st := s.stateLocked(s.clock.Now())
	finished := st.Elapsed >= st.Total
	if finished {
		if err := s.stopLocked(context.Background()); err != nil {
			s.logger.Error("Failed to stop finished cooking session: %v", err)
		}
	}
	onTick, onFinish := s.onTick, s.onFinish
	s.mu.Unlock()

	if onTick != nil {
		onTick(st)
	}
	if finished {
		s.logger.Info("Cooking session completed after %ds", st.Total)
		if onFinish != nil {
			onFinish()
		}
		return false
	}
	return true
}

func elapsedSeconds(start, now time.Time) int {
	elapsed := int(now.Sub(start) / time.Second)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

type sessionRecord struct {
	Active  *bool           `json:"active"`
	StartAt json.RawMessage `json:"startAt"`
}

// decodeSession accepts startAt as unix milliseconds or an RFC 3339 string
func decodeSession(raw string) (models.CookingSession, error) {
	var rec sessionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return models.CookingSession{}, fmt.Errorf("decode cooking session: %w", err)
	}
	if rec.Active == nil || len(rec.StartAt) == 0 {
		return models.CookingSession{}, errors.New("cooking session is missing fields")
	}

	out := models.CookingSession{Active: *rec.Active}
	startAt := bytes.TrimSpace(rec.StartAt)
	if len(startAt) > 0 && startAt[0] == '"' {
		var text string
		if err := json.Unmarshal(startAt, &text); err != nil {
			return models.CookingSession{}, fmt.Errorf("decode startAt: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, text)
		if err != nil {
			return models.CookingSession{}, fmt.Errorf("parse startAt: %w", err)
		}
		out.StartAt = t.UnixMilli()
		return out, nil
	}

	if err := json.Unmarshal(startAt, &out.StartAt); err != nil {
		return models.CookingSession{}, fmt.Errorf("decode startAt: %w", err)
	}
	if out.StartAt <= 0 {
		return models.CookingSession{}, errors.New("cooking session has no start time")
	}
	return out, nil
}
