package attendance

import (
	"context"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var (
	// errors
	ErrNoActiveSession = errors.New("no active session")
	ErrSessionActive   = errors.New("an active session already exists")
	ErrLogNotFound     = errors.New("log entry not found")
)

// Hub holds the roll call of the active session. Its state only changes
// after the backend confirmed a change; nothing is applied optimistically.
type Hub struct {
	backend  Backend
	validate *validator.Validate

	mu     sync.RWMutex
	active *Session
	logs   []Log
}

func NewHub(backend Backend, validate *validator.Validate) *Hub {
	return &Hub{backend: backend, validate: validate}
}

// Load adopts the backend's active session, if any, and fetches its roll call.
func (h *Hub) Load(ctx context.Context) error {
	sessions, err := h.backend.ListSessions(ctx)
	if err != nil {
		return errors.Wrap(err, "listing sessions")
	}

	var active *Session
	for i := range sessions {
		if sessions[i].IsActive() {
			sess := sessions[i]
			active = &sess
			break
		}
	}
	if active == nil {
		h.reset()
		return nil
	}
	return h.adopt(ctx, *active)
}

func (h *Hub) StartSession(ctx context.Context) (Session, error) {
	if h.Active() != nil {
		return Session{}, ErrSessionActive
	}
	sess, err := h.backend.StartSession(ctx)
	if err != nil {
		return Session{}, errors.Wrap(err, "starting session")
	}
	if err := h.adopt(ctx, sess); err != nil {
		return sess, err
	}
	return sess, nil
}

// StopSession ends the active session and returns its summary.
func (h *Hub) StopSession(ctx context.Context) (Summary, error) {
	if h.Active() == nil {
		return Summary{}, ErrNoActiveSession
	}
	summary, err := h.backend.StopSession(ctx)
	if err != nil {
		return Summary{}, errors.Wrap(err, "stopping session")
	}
	h.reset()
	return summary, nil
}

// RefreshLogs re-fetches the whole roll call of the active session.
func (h *Hub) RefreshLogs(ctx context.Context) error {
	active := h.Active()
	if active == nil {
		return ErrNoActiveSession
	}
	logs, err := h.backend.SessionLogs(ctx, active.ID)
	if err != nil {
		return errors.Wrap(err, "fetching session logs")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active != nil && h.active.ID == active.ID {
		h.logs = logs
	}
	return nil
}

// Override flips the status of a student in the active session, then re-fetches the roll call.
func (h *Hub) Override(ctx context.Context, log Log) error {
	active := h.Active()
	if active == nil {
		return ErrNoActiveSession
	}
	req := OverrideRequest{
		SessionID: active.ID,
		StudentID: log.StudentID,
		Status:    log.OppositeStatus(),
	}
	if err := req.Validate(h.validate); err != nil {
		return err
	}
	if err := h.backend.Override(ctx, req); err != nil {
		return errors.Wrap(err, "overriding attendance")
	}
	return h.RefreshLogs(ctx)
}

// OverrideStudent is Override for the roll call entry of studentID.
func (h *Hub) OverrideStudent(ctx context.Context, studentID int) error {
	log, ok := h.LogOf(studentID)
	if !ok {
		return ErrLogNotFound
	}
	return h.Override(ctx, log)
}

func (h *Hub) SessionReport(ctx context.Context, sessionID int) (Summary, error) {
	summary, err := h.backend.SessionReport(ctx, sessionID)
	return summary, errors.Wrap(err, "fetching session report")
}

func (h *Hub) adopt(ctx context.Context, sess Session) error {
	h.mu.Lock()
	h.active = &sess
	h.logs = nil
	h.mu.Unlock()
	return h.RefreshLogs(ctx)
}

func (h *Hub) reset() {
	h.mu.Lock()
	h.active = nil
	h.logs = nil
	h.mu.Unlock()
}

// Active returns a copy of the active session, nil if there is none.
func (h *Hub) Active() *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.active == nil {
		return nil
	}
	sess := *h.active
	return &sess
}

func (h *Hub) Logs() []Log {
	h.mu.RLock()
	defer h.mu.RUnlock()
	logs := make([]Log, len(h.logs))
	copy(logs, h.logs)
	return logs
}

func (h *Hub) LogOf(studentID int) (Log, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, log := range h.logs {
		if log.StudentID == studentID {
			return log, true
		}
	}
	return Log{}, false
}

func (h *Hub) PresentCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.presentCountLocked()
}

func (h *Hub) AbsentCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.logs) - h.presentCountLocked()
}

func (h *Hub) presentCountLocked() int {
	var n int
	for _, log := range h.logs {
		if log.IsPresent() {
			n++
		}
	}
	return n
}
