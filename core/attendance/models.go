package attendance

import (
	"context"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/rollcall/core"
)

// Session statuses
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
)

// Log statuses
const (
	StatusPresent = "present"
	StatusAbsent  = "absent"
)

type Session struct {
	ID        int        `json:"id" yaml:"id"`
	Date      string     `json:"date" yaml:"date"`
	StartTime core.Time  `json:"start_time" yaml:"start_time"`
	EndTime   *core.Time `json:"end_time" yaml:"end_time"`
	Status    string     `json:"status" yaml:"status"`
}

func (s *Session) IsActive() bool {
	return s != nil && s.Status == SessionActive
}

type Log struct {
	ID          int        `json:"id" yaml:"id"`
	SessionID   int        `json:"session_id" yaml:"session_id"`
	StudentID   int        `json:"student_id" yaml:"student_id"`
	StudentName string     `json:"student_name,omitempty" yaml:"student_name,omitempty"`
	RollNumber  string     `json:"roll_number,omitempty" yaml:"roll_number,omitempty"`
	Timestamp   *core.Time `json:"timestamp" yaml:"timestamp"`
	Status      string     `json:"status" yaml:"status"`
}

func (l Log) IsPresent() bool {
	return l.Status == StatusPresent
}

// OppositeStatus is the status an override of l requests.
func (l Log) OppositeStatus() string {
	if l.IsPresent() {
		return StatusAbsent
	}
	return StatusPresent
}

type Summary struct {
	SessionID     int   `json:"session_id" yaml:"session_id"`
	TotalStudents int   `json:"total_students" yaml:"total_students"`
	PresentCount  int   `json:"present_count" yaml:"present_count"`
	AbsentCount   int   `json:"absent_count" yaml:"absent_count"`
	Logs          []Log `json:"logs" yaml:"logs"`
}

type OverrideRequest struct {
	SessionID int    `json:"session_id" validate:"required"`
	StudentID int    `json:"student_id" validate:"required"`
	Status    string `json:"status" validate:"required,oneof=present absent"`
}

func (or OverrideRequest) Validate(validate *validator.Validate) error { return validate.Struct(or) }

// Backend is the part of the attendance backend dealing with sessions and logs.
type Backend interface {
	ListSessions(ctx context.Context) ([]Session, error)
	StartSession(ctx context.Context) (Session, error)
	StopSession(ctx context.Context) (Summary, error)
	SessionLogs(ctx context.Context, sessionID int) ([]Log, error)
	Override(ctx context.Context, req OverrideRequest) error
	SessionReport(ctx context.Context, sessionID int) (Summary, error)
}

// Wire messages of the live attendance websocket.
type (
	FrameMessage struct {
		Frame     string `json:"frame"`
		SessionID int    `json:"session_id"`
	}

	Detection struct {
		StudentID int     `json:"student_id"`
		Name      string  `json:"name"`
		Score     float64 `json:"score"`
		Event     string  `json:"event"`
	}

	ServerMessage struct {
		Frame      string      `json:"frame,omitempty"`
		Detections []Detection `json:"detections,omitempty"`
		Error      string      `json:"error,omitempty"`
	}
)
