package testutil

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/rollcall/core"
	"github.com/trezcool/rollcall/core/attendance"
	"github.com/trezcool/rollcall/core/auth"
	"github.com/trezcool/rollcall/core/report"
	"github.com/trezcool/rollcall/core/student"
)

const (
	signingKey = "fake-backend-secret"
	claimsKey  = "userToken"
)

var (
	errUnauthorized     = echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
	errInvalidLogin     = echo.NewHTTPError(http.StatusUnauthorized, "Invalid email or password")
	errAdminOnly        = echo.NewHTTPError(http.StatusForbidden, "Admin access required")
	errStudentNotFound  = echo.NewHTTPError(http.StatusNotFound, "Student not found")
	errProfileNotFound  = echo.NewHTTPError(http.StatusNotFound, "Student profile not found")
	errSessionNotFound  = echo.NewHTTPError(http.StatusNotFound, "Session not found")
	errLogNotFound      = echo.NewHTTPError(http.StatusNotFound, "Log entry not found")
	errSessionActive    = echo.NewHTTPError(http.StatusBadRequest, "An active session already exists")
	errNoActiveSession  = echo.NewHTTPError(http.StatusBadRequest, "No active session")
	errEmailTaken       = echo.NewHTTPError(http.StatusBadRequest, "Email already registered")
	errRollNumberTaken  = echo.NewHTTPError(http.StatusBadRequest, "Roll number already exists")
	errNoImages         = echo.NewHTTPError(http.StatusBadRequest, "No images provided")
	errInvalidStatus    = echo.NewHTTPError(http.StatusUnprocessableEntity, "Invalid status")
	errInvalidPathParam = echo.NewHTTPError(http.StatusUnprocessableEntity, "Invalid id")
)

type (
	account struct {
		User     auth.User
		Email    string
		Password string
	}

	// Backend is an in-memory attendance backend served over HTTP, for tests.
	// Its websocket "recognizes" one registered, absent student per frame.
	Backend struct {
		Server *httptest.Server

		app        *echo.Echo
		validate   *validator.Validate
		translator ut.Translator
		upgrader   websocket.Upgrader

		mu         sync.RWMutex
		pk         int
		accounts   map[string]*account // {email: account}
		students   map[int]*student.Student
		faces      map[int][]string
		sessions   []*attendance.Session
		logs       map[int][]*attendance.Log // {session id: logs}
		frames     []attendance.FrameMessage
		requestIDs []string
	}
)

// NewBackend starts a fake backend, closed at the end of the test.
func NewBackend(t *testing.T) *Backend {
	translator := core.NewTranslator()
	validate := validator.New()
	core.InitValidators(validate, translator)
	student.InitValidators(validate, translator)

	b := &Backend{
		app:        echo.New(),
		validate:   validate,
		translator: translator,
		accounts:   make(map[string]*account),
		students:   make(map[int]*student.Student),
		faces:      make(map[int][]string),
		logs:       make(map[int][]*attendance.Log),
	}
	b.setup()
	b.Server = httptest.NewServer(b.app)
	t.Cleanup(b.Server.Close)
	return b
}

func (b *Backend) setup() {
	b.app.HideBanner = true
	b.app.Pre(middleware.RemoveTrailingSlash())
	b.app.Use(b.recordRequestID)
	b.app.HTTPErrorHandler = detailErrorHandler(b.translator)

	jwtMw := middleware.JWTWithConfig(middleware.JWTConfig{
		SigningKey:    []byte(signingKey),
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    claimsKey,
		Claims:        new(auth.Claims),
	})
	admin := adminMiddleware()

	api := b.app.Group("/api")
	api.POST("/auth/login", b.login)
	api.GET("/attendance/ws", b.websocket)

	authed := api.Group("", jwtMw)
	authed.GET("/students", b.listStudents, admin)
	authed.POST("/students", b.createStudent, admin)
	authed.GET("/students/me", b.me)
	authed.DELETE("/students/:id", b.deleteStudent, admin)
	authed.POST("/students/:id/face", b.uploadFaces, admin)

	authed.GET("/attendance/sessions", b.listSessions)
	authed.POST("/attendance/start", b.startSession, admin)
	authed.POST("/attendance/stop", b.stopSession, admin)
	authed.GET("/attendance/session/:id/logs", b.sessionLogs)
	authed.POST("/attendance/override", b.override, admin)

	authed.GET("/reports/summary", b.summary)
	authed.GET("/reports/student/:id", b.studentHistory)
	authed.GET("/reports/session/:id", b.sessionReport)
}

// URL is the REST base URL of the backend.
func (b *Backend) URL() string {
	return b.Server.URL + "/api"
}

func (b *Backend) WebsocketURL() string {
	return "ws" + strings.TrimPrefix(b.URL(), "http") + "/attendance/ws"
}

// Config returns a config pointing at b.
func (b *Backend) Config(t *testing.T) *core.Config {
	conf := NewConfig(t)
	conf.API.URL = b.URL()
	return conf
}

// AddAdmin registers an admin account.
func (b *Backend) AddAdmin(name, email, pwd string) auth.User {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addAccount(name, email, pwd, auth.RoleAdmin).User
}

// AddStudent registers a student account and profile, bypassing validation.
func (b *Backend) AddStudent(ns student.NewStudent) (student.Student, auth.User) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc := b.addAccount(ns.Name, ns.Email, ns.Password, auth.RoleStudent)
	s := b.addStudent(ns, acc.User.ID)
	return s, acc.User
}

// Token returns a valid access token for usr.
func (b *Backend) Token(usr auth.User) string {
	return b.signToken(usr, time.Now().Add(time.Hour))
}

func (b *Backend) ExpiredToken(usr auth.User) string {
	return b.signToken(usr, time.Now().Add(-time.Hour))
}

func (b *Backend) signToken(usr auth.User, exp time.Time) string {
	claims := auth.Claims{
		StandardClaims: jwt.StandardClaims{
			Subject:   strconv.Itoa(usr.ID),
			IssuedAt:  time.Now().Unix(),
			ExpiresAt: exp.Unix(),
		},
		Role: usr.Role,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingKey))
	if err != nil {
		panic(err) // HS256 with a []byte key cannot fail
	}
	return token
}

// Faces returns the face images registered for a student.
func (b *Backend) Faces(studentID int) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.faces[studentID]...)
}

// Frames returns the frames received over the websocket.
func (b *Backend) Frames() []attendance.FrameMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]attendance.FrameMessage(nil), b.frames...)
}

func (b *Backend) RequestIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.requestIDs...)
}

// ActiveSession returns the active session, nil if there is none.
func (b *Backend) ActiveSession() *attendance.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sess := b.activeSession(); sess != nil {
		cp := *sess
		return &cp
	}
	return nil
}

// Storage helpers. b.mu must be held.

func (b *Backend) nextPK() int {
	b.pk++
	return b.pk
}

func (b *Backend) addAccount(name, email, pwd, role string) *account {
	acc := &account{
		User:     auth.User{ID: b.nextPK(), Name: name, Role: role},
		Email:    strings.ToLower(email),
		Password: pwd,
	}
	b.accounts[acc.Email] = acc
	return acc
}

func (b *Backend) addStudent(ns student.NewStudent, userID int) student.Student {
	s := &student.Student{
		ID:         b.nextPK(),
		UserID:     userID,
		RollNumber: ns.RollNumber,
		FullName:   ns.FullName,
		Branch:     ns.Branch,
		Semester:   ns.Semester,
	}
	b.students[s.ID] = s
	return *s
}

func (b *Backend) sortedStudents() []student.Student {
	students := make([]student.Student, 0, len(b.students))
	for _, s := range b.students {
		students = append(students, *s)
	}
	sort.Slice(students, func(i, j int) bool { return students[i].ID < students[j].ID })
	return students
}

func (b *Backend) activeSession() *attendance.Session {
	for _, sess := range b.sessions {
		if sess.IsActive() {
			return sess
		}
	}
	return nil
}

func (b *Backend) findSession(id int) *attendance.Session {
	for _, sess := range b.sessions {
		if sess.ID == id {
			return sess
		}
	}
	return nil
}

func (b *Backend) sessionLogsLocked(sessionID int) []attendance.Log {
	logs := make([]attendance.Log, 0, len(b.logs[sessionID]))
	for _, log := range b.logs[sessionID] {
		cp := *log
		if s, ok := b.students[log.StudentID]; ok {
			cp.StudentName = s.FullName
			cp.RollNumber = s.RollNumber
		}
		logs = append(logs, cp)
	}
	return logs
}

func (b *Backend) summaryLocked(sessionID int) attendance.Summary {
	summary := attendance.Summary{SessionID: sessionID, Logs: b.sessionLogsLocked(sessionID)}
	for _, log := range summary.Logs {
		if log.IsPresent() {
			summary.PresentCount++
		}
	}
	summary.TotalStudents = len(summary.Logs)
	summary.AbsentCount = summary.TotalStudents - summary.PresentCount
	return summary
}

// markPresent marks the first absent student having a registered face, if any.
func (b *Backend) markPresent(sessionID int) []attendance.Detection {
	for _, log := range b.logs[sessionID] {
		if log.IsPresent() || len(b.faces[log.StudentID]) == 0 {
			continue
		}
		now := core.NewTime(time.Now().UTC())
		log.Status = attendance.StatusPresent
		log.Timestamp = &now
		det := attendance.Detection{StudentID: log.StudentID, Score: .9, Event: "marked_present"}
		if s, ok := b.students[log.StudentID]; ok {
			det.Name = s.FullName
		}
		return []attendance.Detection{det}
	}
	return nil
}

// Middleware

func (b *Backend) recordRequestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if id := ctx.Request().Header.Get("X-Request-ID"); id != "" {
			b.mu.Lock()
			b.requestIDs = append(b.requestIDs, id)
			b.mu.Unlock()
		}
		return next(ctx)
	}
}

func contextClaims(ctx echo.Context) (*auth.Claims, error) {
	token, ok := ctx.Get(claimsKey).(*jwt.Token)
	if !ok {
		return nil, errUnauthorized
	}
	claims, ok := token.Claims.(*auth.Claims)
	if !ok {
		return nil, errUnauthorized
	}
	return claims, nil
}

func adminMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := contextClaims(ctx)
			if err != nil {
				return err
			}
			if claims.Role != auth.RoleAdmin {
				return errAdminOnly
			}
			return next(ctx)
		}
	}
}

// detailErrorHandler renders errors the way the backend does: {"detail": ...}.
func detailErrorHandler(translator ut.Translator) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		code := http.StatusInternalServerError
		var detail interface{} = http.StatusText(code)

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			code = origErr.Code
			detail = origErr.Message
			if origErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
				detail = errUnauthorized.Message
			} else if code == http.StatusUnauthorized {
				detail = "Could not validate credentials"
			}
		case validator.ValidationErrors:
			fldErrs := core.TranslateErrors(origErr, translator)
			fields := make([]string, 0, len(fldErrs))
			for fld := range fldErrs {
				fields = append(fields, fld)
			}
			sort.Strings(fields)
			items := make([]echo.Map, 0, len(fields))
			for _, fld := range fields {
				items = append(items, echo.Map{"loc": []string{"body", fld}, "msg": fldErrs[fld]})
			}
			code = http.StatusUnprocessableEntity
			detail = items
		}

		if !ctx.Response().Committed {
			if err := ctx.JSON(code, echo.Map{"detail": detail}); err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

func pathID(ctx echo.Context) (int, error) {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		return 0, errInvalidPathParam
	}
	return id, nil
}

// Handlers

func (b *Backend) login(ctx echo.Context) error {
	var req auth.LoginRequest
	if err := ctx.Bind(&req); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}

	b.mu.RLock()
	acc, ok := b.accounts[strings.ToLower(req.Email)]
	b.mu.RUnlock()
	if !ok || acc.Password != req.Password {
		return errInvalidLogin
	}
	return ctx.JSON(http.StatusOK, auth.TokenResponse{
		AccessToken: b.Token(acc.User),
		TokenType:   "bearer",
		Role:        acc.User.Role,
		UserID:      acc.User.ID,
		Name:        acc.User.Name,
	})
}

func (b *Backend) listStudents(ctx echo.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return ctx.JSON(http.StatusOK, b.sortedStudents())
}

func (b *Backend) createStudent(ctx echo.Context) error {
	var ns student.NewStudent
	if err := ctx.Bind(&ns); err != nil {
		return errors.Wrap(err, "binding to NewStudent")
	}
	if err := ns.Validate(b.validate); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.accounts[ns.Email]; ok {
		return errEmailTaken
	}
	for _, s := range b.students {
		if s.RollNumber == ns.RollNumber {
			return errRollNumberTaken
		}
	}
	acc := b.addAccount(ns.Name, ns.Email, ns.Password, auth.RoleStudent)
	return ctx.JSON(http.StatusCreated, b.addStudent(ns, acc.User.ID))
}

func (b *Backend) me(ctx echo.Context) error {
	claims, err := contextClaims(ctx)
	if err != nil {
		return err
	}
	userID, _ := strconv.Atoi(claims.Subject)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.students {
		if s.UserID == userID {
			return ctx.JSON(http.StatusOK, s)
		}
	}
	return errProfileNotFound
}

func (b *Backend) deleteStudent(ctx echo.Context) error {
	id, err := pathID(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.students[id]
	if !ok {
		return errStudentNotFound
	}
	for email, acc := range b.accounts {
		if acc.User.ID == s.UserID {
			delete(b.accounts, email)
		}
	}
	for sessID, logs := range b.logs {
		kept := logs[:0]
		for _, log := range logs {
			if log.StudentID != id {
				kept = append(kept, log)
			}
		}
		b.logs[sessID] = kept
	}
	delete(b.faces, id)
	delete(b.students, id)
	return ctx.NoContent(http.StatusNoContent)
}

func (b *Backend) uploadFaces(ctx echo.Context) error {
	id, err := pathID(ctx)
	if err != nil {
		return err
	}
	var req struct {
		Images []string `json:"images"`
	}
	if err := ctx.Bind(&req); err != nil {
		return errors.Wrap(err, "binding face images")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.students[id]
	if !ok {
		return errStudentNotFound
	}
	if len(req.Images) == 0 {
		return errNoImages
	}
	for _, img := range req.Images {
		if _, err := base64.StdEncoding.DecodeString(img); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid image data")
		}
	}
	b.faces[id] = req.Images
	s.HasFace = true
	return ctx.JSON(http.StatusOK, echo.Map{
		"message":    fmt.Sprintf("Face registered with %d image(s)", len(req.Images)),
		"student_id": id,
	})
}

func (b *Backend) listSessions(ctx echo.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sessions := make([]attendance.Session, 0, len(b.sessions))
	for i := len(b.sessions) - 1; i >= 0; i-- {
		sessions = append(sessions, *b.sessions[i])
	}
	return ctx.JSON(http.StatusOK, sessions)
}

func (b *Backend) startSession(ctx echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.activeSession() != nil {
		return errSessionActive
	}

	now := time.Now().UTC()
	sess := &attendance.Session{
		ID:        b.nextPK(),
		Date:      now.Format("2006-01-02"),
		StartTime: core.NewTime(now),
		Status:    attendance.SessionActive,
	}
	b.sessions = append(b.sessions, sess)
	for _, s := range b.sortedStudents() {
		b.logs[sess.ID] = append(b.logs[sess.ID], &attendance.Log{
			ID:        b.nextPK(),
			SessionID: sess.ID,
			StudentID: s.ID,
			Status:    attendance.StatusAbsent,
		})
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (b *Backend) stopSession(ctx echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sess := b.activeSession()
	if sess == nil {
		return errNoActiveSession
	}
	end := core.NewTime(time.Now().UTC())
	sess.EndTime = &end
	sess.Status = attendance.SessionCompleted
	return ctx.JSON(http.StatusOK, b.summaryLocked(sess.ID))
}

func (b *Backend) sessionLogs(ctx echo.Context) error {
	id, err := pathID(ctx)
	if err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return ctx.JSON(http.StatusOK, b.sessionLogsLocked(id))
}

func (b *Backend) override(ctx echo.Context) error {
	var req attendance.OverrideRequest
	if err := ctx.Bind(&req); err != nil {
		return errors.Wrap(err, "binding to OverrideRequest")
	}
	if req.Status != attendance.StatusPresent && req.Status != attendance.StatusAbsent {
		return errInvalidStatus
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, log := range b.logs[req.SessionID] {
		if log.StudentID != req.StudentID {
			continue
		}
		log.Status = req.Status
		if req.Status == attendance.StatusPresent {
			now := core.NewTime(time.Now().UTC())
			log.Timestamp = &now
		} else {
			log.Timestamp = nil
		}
		return ctx.JSON(http.StatusOK, echo.Map{"message": "Attendance updated"})
	}
	return errLogNotFound
}

func (b *Backend) summary(ctx echo.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var completed int
	for _, sess := range b.sessions {
		if sess.Status == attendance.SessionCompleted {
			completed++
		}
	}
	reports := make([]report.StudentReport, 0, len(b.students))
	for _, s := range b.sortedStudents() {
		var attended int
		for _, logs := range b.logs {
			for _, log := range logs {
				if log.StudentID == s.ID && log.IsPresent() {
					attended++
				}
			}
		}
		reports = append(reports, report.StudentReport{
			StudentID:     s.ID,
			StudentName:   s.FullName,
			RollNumber:    s.RollNumber,
			TotalSessions: completed,
			Attended:      attended,
			Percentage:    report.Percentage(attended, completed),
		})
	}
	return ctx.JSON(http.StatusOK, reports)
}

func (b *Backend) studentHistory(ctx echo.Context) error {
	id, err := pathID(ctx)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	var logs []attendance.Log
	for i := len(b.sessions) - 1; i >= 0; i-- {
		for _, log := range b.logs[b.sessions[i].ID] {
			if log.StudentID == id {
				logs = append(logs, *log)
			}
		}
	}
	if logs == nil {
		logs = []attendance.Log{}
	}
	return ctx.JSON(http.StatusOK, logs)
}

func (b *Backend) sessionReport(ctx echo.Context) error {
	id, err := pathID(ctx)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.findSession(id) == nil {
		return errSessionNotFound
	}
	return ctx.JSON(http.StatusOK, b.summaryLocked(id))
}

func (b *Backend) websocket(ctx echo.Context) error {
	conn, err := b.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return errors.Wrap(err, "upgrading connection")
	}
	defer conn.Close()

	for {
		var msg attendance.FrameMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return nil // client went away
		}
		if err := conn.WriteJSON(b.processFrame(msg)); err != nil {
			return nil
		}
	}
}

func (b *Backend) processFrame(msg attendance.FrameMessage) attendance.ServerMessage {
	if msg.Frame == "" || msg.SessionID == 0 {
		return attendance.ServerMessage{Error: "Missing frame or session_id"}
	}
	if _, err := base64.StdEncoding.DecodeString(msg.Frame); err != nil {
		return attendance.ServerMessage{Error: "Invalid frame data"}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, msg)
	return attendance.ServerMessage{
		Frame:      msg.Frame,
		Detections: b.markPresent(msg.SessionID),
	}
}
