package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"apitap/internal/api"
	"apitap/internal/apiterr"
)

const (
	// MaxCaptureSessions bounds concurrent live browsers.
	MaxCaptureSessions = 3
	// DefaultIdleTimeout reaps capture sessions with no interaction.
	DefaultIdleTimeout = 5 * time.Minute
)

// Capture is one live browser capture session.
type Capture struct {
	ID         string
	StartURL   string
	Browser    api.Browser
	StartedAt  time.Time
	LastActive time.Time

	timer *time.Timer
}

// Table tracks live capture sessions, enforcing the session cap and an
// inactivity timeout.
type Table struct {
	mu          sync.Mutex
	sessions    map[string]*Capture
	idleTimeout time.Duration
	// onExpire runs outside the table lock when a session idles out.
	onExpire func(*Capture)
}

// NewTable creates a Table. onExpire may be nil.
func NewTable(onExpire func(*Capture)) *Table {
	return &Table{
		sessions:    map[string]*Capture{},
		idleTimeout: DefaultIdleTimeout,
		onExpire:    onExpire,
	}
}

// SetIdleTimeout overrides the inactivity timeout.
func (t *Table) SetIdleTimeout(d time.Duration) {
	t.idleTimeout = d
}

// Add registers a new capture session and starts its idle timer.
func (t *Table) Add(browser api.Browser, startURL string) (*Capture, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.sessions) >= MaxCaptureSessions {
		return nil, &apiterr.CapacityError{
			Reason: fmt.Sprintf("%d capture sessions are already running; finish or abort one first", len(t.sessions)),
		}
	}

	now := time.Now()
	capture := &Capture{
		ID:         uuid.NewString(),
		StartURL:   startURL,
		Browser:    browser,
		StartedAt:  now,
		LastActive: now,
	}
	capture.timer = time.AfterFunc(t.idleTimeout, func() { t.expire(capture.ID) })
	t.sessions[capture.ID] = capture
	return capture, nil
}

// Get looks up a session by ID.
func (t *Table) Get(id string) (*Capture, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	capture, ok := t.sessions[id]
	if !ok {
		return nil, &apiterr.NotFoundError{Kind: "capture session", Name: id, Alternatives: t.idsLocked()}
	}
	return capture, nil
}

// Touch marks activity and pushes the idle deadline out.
func (t *Table) Touch(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	capture, ok := t.sessions[id]
	if !ok {
		return
	}
	capture.LastActive = time.Now()
	capture.timer.Reset(t.idleTimeout)
}

// Remove deregisters a session, stopping its idle timer. The browser
// itself is the caller's to finish or abort.
func (t *Table) Remove(id string) *Capture {
	t.mu.Lock()
	defer t.mu.Unlock()
	capture, ok := t.sessions[id]
	if !ok {
		return nil
	}
	capture.timer.Stop()
	delete(t.sessions, id)
	return capture
}

// List returns the live sessions.
func (t *Table) List() []*Capture {
	t.mu.Lock()
	defer t.mu.Unlock()
	captures := make([]*Capture, 0, len(t.sessions))
	for _, capture := range t.sessions {
		captures = append(captures, capture)
	}
	return captures
}

func (t *Table) expire(id string) {
	t.mu.Lock()
	capture, ok := t.sessions[id]
	if ok {
		delete(t.sessions, id)
	}
	t.mu.Unlock()
	if ok && t.onExpire != nil {
		t.onExpire(capture)
	}
}

func (t *Table) idsLocked() []string {
	ids := make([]string, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	return ids
}
