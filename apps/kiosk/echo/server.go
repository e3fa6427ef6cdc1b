package kioskapi

import (
	"context"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/rollcall/core"
	"github.com/trezcool/rollcall/core/attendance"
	camerasvc "github.com/trezcool/rollcall/services/camera"
)

const maxNotifications = 20

type (
	Options struct {
		Address        string
		Debug          bool
		DisableReqLogs bool
		Logger         core.Logger
	}

	// Server shows the live attendance feed on the classroom screen.
	Server interface {
		http.Handler
		attendance.Display
		core.Notifier
		Start() error
		Stop(context.Context) error
	}

	server struct {
		opts *Options
		app  *echo.Echo

		mu            sync.RWMutex
		frame         []byte
		sessionID     int
		logs          []attendance.Log
		notifications []core.Notification
	}

	rollCall struct {
		SessionID    int              `json:"session_id"`
		PresentCount int              `json:"present_count"`
		AbsentCount  int              `json:"absent_count"`
		Logs         []attendance.Log `json:"logs"`
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) Server {
	s := &server{
		opts: opts,
		app:  echo.New(),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	s.app.HideBanner = true
	s.app.Debug = s.opts.Debug
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in debug mode
	if !s.opts.Debug {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.GET("/", s.home)
	s.app.GET("/frame.jpg", s.currentFrame)
	s.app.GET("/rollcall", s.rollCall)
	s.app.GET("/notifications", s.listNotifications)
}

// Start serves until Stop is called.
func (s *server) Start() error {
	if err := s.app.Start(s.opts.Address); err != nil && err != http.ErrServerClosed {
		if s.opts.Logger != nil {
			s.opts.Logger.Error("kiosk server stopped", err)
		}
		return err
	}
	return nil
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

// ShowFrame keeps the latest annotated frame. Undecodable frames are dropped.
func (s *server) ShowFrame(frame string) {
	img, err := camerasvc.DecodeFrame(frame)
	if err != nil {
		if s.opts.Logger != nil {
			s.opts.Logger.Warn("dropping undecodable frame", err)
		}
		return
	}
	s.mu.Lock()
	s.frame = img
	s.mu.Unlock()
}

func (s *server) ShowRollCall(sessionID int, logs []attendance.Log) {
	s.mu.Lock()
	s.sessionID = sessionID
	s.logs = logs
	s.mu.Unlock()
}

func (s *server) Notify(n core.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	if extra := len(s.notifications) - maxNotifications; extra > 0 {
		s.notifications = append([]core.Notification(nil), s.notifications[extra:]...)
	}
}

// Handlers

func (s *server) home(ctx echo.Context) error {
	return ctx.HTML(http.StatusOK, homePage)
}

func (s *server) currentFrame(ctx echo.Context) error {
	s.mu.RLock()
	frame := s.frame
	s.mu.RUnlock()
	if frame == nil {
		return ctx.NoContent(http.StatusNoContent)
	}
	ctx.Response().Header().Set("Cache-Control", "no-store")
	return ctx.Blob(http.StatusOK, "image/jpeg", frame)
}

func (s *server) rollCall(ctx echo.Context) error {
	s.mu.RLock()
	rc := rollCall{SessionID: s.sessionID, Logs: append([]attendance.Log{}, s.logs...)}
	s.mu.RUnlock()
	for _, l := range rc.Logs {
		if l.IsPresent() {
			rc.PresentCount++
		}
	}
	rc.AbsentCount = len(rc.Logs) - rc.PresentCount
	return ctx.JSON(http.StatusOK, rc)
}

func (s *server) listNotifications(ctx echo.Context) error {
	s.mu.RLock()
	notes := append([]core.Notification{}, s.notifications...)
	s.mu.RUnlock()
	return ctx.JSON(http.StatusOK, notes)
}
