package state

import (
	"sync"
	"time"

	"github.com/korjavin/familyorganizer/pkg/clock"
)

// State represents the conversation state of a chat
type State string

const (
	// StateNormal is the normal state
	StateNormal State = "normal"
	// StateAwaitingRecipe is the state after /recipe, while the bot waits for the recipe text
	StateAwaitingRecipe State = "awaiting_recipe"
)

// TTL is how long a non-normal state lasts without activity
const TTL = 10 * time.Minute

// ChatState represents the state of a chat
type ChatState struct {
	State     State
	Timestamp time.Time
}

// Manager manages chat states
type Manager struct {
	states map[int64]ChatState
	clock  clock.Clock
	mu     sync.Mutex
}

// New creates a new state manager
func New(clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Manager{
		states: make(map[int64]ChatState),
		clock:  clk,
	}
}

// SetState sets the state for a chat
func (m *Manager) SetState(chatID int64, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[chatID] = ChatState{
		State:     state,
		Timestamp: m.clock.Now(),
	}
}

// GetState gets the state for a chat. States older than TTL reset to normal.
func (m *Manager) GetState(chatID int64) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[chatID]
	if !ok {
		return StateNormal
	}
	if m.clock.Now().Sub(st.Timestamp) > TTL {
		delete(m.states, chatID)
		return StateNormal
	}
	return st.State
}

// ClearState clears the state for a chat
func (m *Manager) ClearState(chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, chatID)
}
