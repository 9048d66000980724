// Package schedulertest provides an in-memory Gateway that records calls and never fires.
package schedulertest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/korjavin/familyorganizer/pkg/models"
	"github.com/korjavin/familyorganizer/pkg/scheduler"
)

// ErrInjected is returned by calls configured to fail
var ErrInjected = errors.New("injected gateway failure")

// Recorder is a scheduler.Gateway for tests
type Recorder struct {
	mu         sync.Mutex
	seq        int
	entries    map[string]scheduler.Scheduled
	offsets    map[string]time.Duration
	cancelled  []string
	permission scheduler.Permission
	requests   int

	// FailScheduleAfter makes every schedule call fail once that many calls succeeded. Negative disables it.
	FailScheduleAfter int
	// FailCancel makes Cancel fail for these ids even when known
	FailCancel map[string]bool
	// GrantOnRequest controls what RequestPermission turns an undetermined state into
	GrantOnRequest bool
}

// NewRecorder returns a recorder with the given starting permission
func NewRecorder(permission scheduler.Permission) *Recorder {
	return &Recorder{
		entries:           make(map[string]scheduler.Scheduled),
		offsets:           make(map[string]time.Duration),
		permission:        permission,
		FailScheduleAfter: -1,
		FailCancel:        make(map[string]bool),
		GrantOnRequest:    true,
	}
}

func (r *Recorder) nextID() (string, error) {
	if r.FailScheduleAfter >= 0 && r.seq >= r.FailScheduleAfter {
		return "", ErrInjected
	}
	r.seq++
	return fmt.Sprintf("n-%03d", r.seq), nil
}

// ScheduleOnce records a one-shot notification
func (r *Recorder) ScheduleOnce(ctx context.Context, payload models.Payload, offset time.Duration) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, err := r.nextID()
	if err != nil {
		return "", err
	}
	r.entries[id] = scheduler.Scheduled{ID: id, Kind: scheduler.KindOnce, Payload: payload}
	r.offsets[id] = offset
	return id, nil
}

// ScheduleDaily records a daily notification
func (r *Recorder) ScheduleDaily(ctx context.Context, payload models.Payload, hour, minute int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, err := r.nextID()
	if err != nil {
		return "", err
	}
	r.entries[id] = scheduler.Scheduled{ID: id, Kind: scheduler.KindDaily, Payload: payload, Hour: hour, Minute: minute}
	return id, nil
}

// Cancel forgets an id
func (r *Recorder) Cancel(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, id)
	if r.FailCancel[id] {
		return ErrInjected
	}
	if _, ok := r.entries[id]; !ok {
		return fmt.Errorf("cancel %s: %w", id, scheduler.ErrNotFound)
	}
	delete(r.entries, id)
	delete(r.offsets, id)
	return nil
}

// Pending lists live entries ordered by id
func (r *Recorder) Pending(ctx context.Context) ([]scheduler.Scheduled, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]scheduler.Scheduled, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PermissionStatus returns the current permission
func (r *Recorder) PermissionStatus(ctx context.Context) (scheduler.Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.permission, nil
}

// RequestPermission counts the request and resolves an undetermined state
func (r *Recorder) RequestPermission(ctx context.Context) (scheduler.Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests++
	if r.permission == scheduler.PermissionUndetermined {
		if r.GrantOnRequest {
			r.permission = scheduler.PermissionGranted
		} else {
			r.permission = scheduler.PermissionDenied
		}
	}
	return r.permission, nil
}

// Offset returns the offset a one-shot was scheduled with
func (r *Recorder) Offset(id string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offsets[id]
}

// Cancelled returns every id Cancel was called with, in order
func (r *Recorder) Cancelled() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.cancelled...)
}

// Requests returns how many times permission was requested
func (r *Recorder) Requests() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests
}

// Live returns the number of entries not cancelled
func (r *Recorder) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
