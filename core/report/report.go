package report

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"github.com/trezcool/rollcall/core/attendance"
	"github.com/trezcool/rollcall/core/student"
)

// StudentReport is the attendance rate of a student over every completed session.
type StudentReport struct {
	StudentID     int     `json:"student_id" yaml:"student_id"`
	StudentName   string  `json:"student_name" yaml:"student_name"`
	RollNumber    string  `json:"roll_number" yaml:"roll_number"`
	TotalSessions int     `json:"total_sessions" yaml:"total_sessions"`
	Attended      int     `json:"attended" yaml:"attended"`
	Percentage    float64 `json:"percentage" yaml:"percentage"`
}

// Backend is the part of the attendance backend serving reports.
type Backend interface {
	Summary(ctx context.Context) ([]StudentReport, error)
	// StudentHistory returns the logs of a student, latest first.
	StudentHistory(ctx context.Context, studentID int) ([]attendance.Log, error)
	Me(ctx context.Context) (student.Student, error)
}

// History is what a student sees of their own attendance.
type History struct {
	Student  student.Student  `json:"student" yaml:"student"`
	Logs     []attendance.Log `json:"logs" yaml:"logs"`
	Attended int              `json:"attended" yaml:"attended"`
	Total    int              `json:"total" yaml:"total"`
}

// Percentage is the attendance rate, rounded to one decimal. It is 0 without any session.
func (h History) Percentage() float64 {
	return Percentage(h.Attended, h.Total)
}

func Percentage(attended, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(attended)/float64(total)*1000) / 10
}

// LoadHistory fetches the profile of the logged in student, then their attendance history.
func LoadHistory(ctx context.Context, backend Backend) (History, error) {
	me, err := backend.Me(ctx)
	if err != nil {
		return History{}, errors.Wrap(err, "fetching student profile")
	}
	logs, err := backend.StudentHistory(ctx, me.ID)
	if err != nil {
		return History{}, errors.Wrap(err, "fetching attendance history")
	}

	h := History{Student: me, Logs: logs, Total: len(logs)}
	for _, log := range logs {
		if log.IsPresent() {
			h.Attended++
		}
	}
	return h, nil
}
