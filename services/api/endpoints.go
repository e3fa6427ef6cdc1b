package apisvc

import (
	"context"
	"fmt"
	"net/http"

	"github.com/trezcool/rollcall/core/attendance"
	"github.com/trezcool/rollcall/core/auth"
	"github.com/trezcool/rollcall/core/report"
	"github.com/trezcool/rollcall/core/student"
)

var (
	_ auth.Authenticator = (*Client)(nil)
	_ student.Backend    = (*Client)(nil)
	_ attendance.Backend = (*Client)(nil)
	_ report.Backend     = (*Client)(nil)
)

// auth

func (c *Client) Login(ctx context.Context, req auth.LoginRequest) (auth.TokenResponse, error) {
	var res auth.TokenResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", req, &res)
	return res, err
}

// students

func (c *Client) ListStudents(ctx context.Context) ([]student.Student, error) {
	var students []student.Student
	err := c.do(ctx, http.MethodGet, "/students/", nil, &students)
	return students, err
}

func (c *Client) CreateStudent(ctx context.Context, ns student.NewStudent) (student.Student, error) {
	var s student.Student
	if err := c.do(ctx, http.MethodPost, "/students/", ns, &s); err != nil {
		return s, err
	}
	if s.Name == "" {
		s.Name = ns.Name
	}
	return s, nil
}

func (c *Client) DeleteStudent(ctx context.Context, id int) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/students/%d", id), nil, nil)
}

func (c *Client) UploadFaces(ctx context.Context, id int, images []string) error {
	body := struct {
		Images []string `json:"images"`
	}{images}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/students/%d/face", id), body, nil)
}

func (c *Client) Me(ctx context.Context) (student.Student, error) {
	var s student.Student
	err := c.do(ctx, http.MethodGet, "/students/me", nil, &s)
	return s, err
}

// attendance

func (c *Client) ListSessions(ctx context.Context) ([]attendance.Session, error) {
	var sessions []attendance.Session
	err := c.do(ctx, http.MethodGet, "/attendance/sessions", nil, &sessions)
	return sessions, err
}

func (c *Client) StartSession(ctx context.Context) (attendance.Session, error) {
	var sess attendance.Session
	err := c.do(ctx, http.MethodPost, "/attendance/start", nil, &sess)
	return sess, err
}

func (c *Client) StopSession(ctx context.Context) (attendance.Summary, error) {
	var summary attendance.Summary
	err := c.do(ctx, http.MethodPost, "/attendance/stop", nil, &summary)
	return summary, err
}

func (c *Client) SessionLogs(ctx context.Context, sessionID int) ([]attendance.Log, error) {
	var logs []attendance.Log
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/attendance/session/%d/logs", sessionID), nil, &logs)
	return logs, err
}

func (c *Client) Override(ctx context.Context, req attendance.OverrideRequest) error {
	return c.do(ctx, http.MethodPost, "/attendance/override", req, nil)
}

// reports

func (c *Client) SessionReport(ctx context.Context, sessionID int) (attendance.Summary, error) {
	var summary attendance.Summary
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/reports/session/%d", sessionID), nil, &summary)
	return summary, err
}

func (c *Client) Summary(ctx context.Context) ([]report.StudentReport, error) {
	var reports []report.StudentReport
	err := c.do(ctx, http.MethodGet, "/reports/summary", nil, &reports)
	return reports, err
}

func (c *Client) StudentHistory(ctx context.Context, studentID int) ([]attendance.Log, error) {
	var logs []attendance.Log
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/reports/student/%d", studentID), nil, &logs)
	return logs, err
}
