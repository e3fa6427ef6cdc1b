package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"

	"github.com/trezcool/rollcall/core"
	"github.com/trezcool/rollcall/core/attendance"
	"github.com/trezcool/rollcall/core/auth"
	"github.com/trezcool/rollcall/core/student"
	apisvc "github.com/trezcool/rollcall/services/api"
	camerasvc "github.com/trezcool/rollcall/services/camera"
	logsvc "github.com/trezcool/rollcall/services/logger"
	"github.com/trezcool/rollcall/tests"
)

const (
	adminEmail = "admin@college.edu"
	adminPwd   = "Adm1n!pass"
)

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantStatus int
	wantOut    string
}

// syncBuffer is the CLI output; the live stream writes to it from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Bytes() []byte {
	return []byte(b.String())
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

func setup(t *testing.T) (*commandLine, *testutil.Backend) {
	b := testutil.NewBackend(t)
	b.AddAdmin("Admin", adminEmail, adminPwd)
	return newCLI(t, b.Config(t)), b
}

func newCLI(t *testing.T, conf *core.Config) *commandLine {
	logger := logsvc.NewRollbarLogger(log.New(new(bytes.Buffer), "", 0), conf)
	cli, err := newCommandLine(conf, logger, strings.NewReader(""), new(syncBuffer))
	if err != nil {
		t.Fatalf("newCommandLine() failed: %v", err)
	}
	return cli
}

func outputOf(cli *commandLine) *syncBuffer {
	return cli.out.(*syncBuffer)
}

func mockPassword(t *testing.T, pwd string) {
	orig := readPasswordFunc
	readPasswordFunc = func(fd int) ([]byte, error) {
		return []byte(pwd), nil
	}
	t.Cleanup(func() { readPasswordFunc = orig })
}

func run(cli *commandLine, args ...string) error {
	outputOf(cli).Reset()
	return cli.run(append([]string{"rollcall"}, args...))
}

func login(t *testing.T, cli *commandLine, email, pwd string) {
	t.Helper()
	mockPassword(t, pwd)
	if err := run(cli, "login", "--email", email); err != nil {
		t.Fatalf("login failed: %v", err)
	}
}

func runTests(t *testing.T, cli *commandLine, tests []cliTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(cli, tt.args...)
			switch {
			case tt.wantErr != nil:
				assert.Equal(t, tt.wantErr, errors.Cause(err))
			case tt.wantStatus != 0:
				assert.Equal(t, tt.wantStatus, apisvc.StatusCode(err), "error = %v", err)
			default:
				assert.NoError(t, err)
			}
			if tt.wantOut != "" {
				assert.Contains(t, outputOf(cli).String(), tt.wantOut)
			}
		})
	}
}

func Test_commandLine_run(t *testing.T) {
	cli, _ := setup(t)

	runTests(t, cli, []cliTest{
		{name: "no command", wantErr: errHelp, wantOut: "Usage:"},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no subcommand", args: []string{"students"}, wantErr: errHelp, wantOut: "rollcall students add|capture|delete|list"},
		{name: "unknown subcommand", args: []string{"sessions", "lol"}, wantErr: errHelp},
		{name: "flag help", args: []string{"reports", "summary", "--help"}, wantErr: errHelp, wantOut: "--yaml"},
		{name: "login: no email", args: []string{"login"}, wantErr: errHelp},
		{name: "logged out: whoami", args: []string{"whoami"}, wantErr: auth.ErrNotAuthenticated},
		{name: "logged out: students", args: []string{"students", "list"}, wantErr: auth.ErrNotAuthenticated},
		{name: "logged out: history", args: []string{"history"}, wantErr: auth.ErrNotAuthenticated},
	})
}

func Test_commandLine_login(t *testing.T) {
	cli, _ := setup(t)

	t.Run("empty password", func(t *testing.T) {
		mockPassword(t, "")
		assert.Equal(t, errHelp, run(cli, "login", "--email", adminEmail))
	})

	t.Run("invalid email", func(t *testing.T) {
		mockPassword(t, adminPwd)
		err := run(cli, "login", "-e", "admin")
		if assert.Error(t, err) {
			assert.Contains(t, cli.errorText(err), "email: ")
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		mockPassword(t, "nope")
		err := run(cli, "login", "--email", adminEmail)
		assert.Equal(t, http.StatusUnauthorized, apisvc.StatusCode(err))
		assert.False(t, cli.session.IsAuthenticated())
	})

	t.Run("success", func(t *testing.T) {
		login(t, cli, "ADMIN@college.edu", adminPwd)
		assert.Contains(t, outputOf(cli).String(), "Logged in as Admin (admin)")

		// credentials survive the process
		next := newCLI(t, cli.conf)
		assert.NoError(t, run(next, "whoami"))
		assert.Contains(t, outputOf(next).String(), "Admin (admin")

		assert.NoError(t, run(next, "logout"))
		assert.Equal(t, auth.ErrNotAuthenticated, run(newCLI(t, cli.conf), "whoami"))
	})
}

func Test_commandLine_students(t *testing.T) {
	cli, b := setup(t)
	b.AddStudent(testutil.NewStudentForm("CS-000", "Linus Torvalds"))

	t.Run("admin only", func(t *testing.T) {
		login(t, cli, "CS-000@college.edu", "Str0ng!Secret")
		err := run(cli, "students", "list")
		assert.Equal(t, auth.ErrAdminRequired, err)
		assert.Equal(t, "this command is reserved to admins", cli.errorText(err))
	})

	login(t, cli, adminEmail, adminPwd)
	add := []string{"students", "add", "--email", "ada@college.edu", "--roll", "CS-001", "--name", "Ada Lovelace", "--branch", "CSE", "--semester", "3"}

	t.Run("add: weak password", func(t *testing.T) {
		mockPassword(t, "123")
		err := run(cli, add...)
		if assert.Error(t, err) {
			assert.Contains(t, cli.errorText(err), "password: ")
		}
	})

	t.Run("add", func(t *testing.T) {
		mockPassword(t, "Str0ng!Secret")
		assert.NoError(t, run(cli, add...))
		assert.Contains(t, outputOf(cli).String(), "Student CS-001 registered as Ada Lovelace")

		err := run(cli, add...)
		assert.Equal(t, http.StatusBadRequest, apisvc.StatusCode(err))
		assert.Equal(t, "Email already registered", cli.errorText(err))
	})

	runTests(t, cli, []cliTest{
		{name: "add: missing flags", args: []string{"students", "add", "--email", "x@college.edu"}, wantErr: errHelp},
		{name: "list", args: []string{"students", "list"}, wantOut: "Ada Lovelace"},
		{name: "list: conflicting formats", args: []string{"students", "list", "--json", "--yaml"}, wantErr: errExclusiveFmt},
		{name: "delete: no id", args: []string{"students", "delete"}, wantErr: errHelp},
		{name: "delete: unknown", args: []string{"students", "delete", "--id", "999"}, wantStatus: http.StatusNotFound},
	})

	t.Run("list: json", func(t *testing.T) {
		assert.NoError(t, run(cli, "students", "list", "--json"))
		var got []student.Student
		if assert.NoError(t, json.Unmarshal(outputOf(cli).Bytes(), &got)) && assert.Len(t, got, 2) {
			assert.Equal(t, "CS-001", got[1].RollNumber)
		}
	})

	t.Run("list: yaml", func(t *testing.T) {
		assert.NoError(t, run(cli, "students", "list", "--yaml"))
		var got []student.Student
		if assert.NoError(t, yaml.Unmarshal(outputOf(cli).Bytes(), &got)) && assert.Len(t, got, 2) {
			assert.Equal(t, "Ada Lovelace", got[1].FullName)
		}
	})

	t.Run("delete", func(t *testing.T) {
		var students []student.Student
		assert.NoError(t, run(cli, "students", "list", "--json"))
		assert.NoError(t, json.Unmarshal(outputOf(cli).Bytes(), &students))
		for _, s := range students {
			assert.NoError(t, run(cli, "students", "delete", "-i", strconv.Itoa(s.ID)))
		}
		assert.NoError(t, run(cli, "students", "list"))
		assert.Contains(t, outputOf(cli).String(), "No students yet")
	})
}

func Test_commandLine_captureFaces(t *testing.T) {
	cli, b := setup(t)
	ada, _ := b.AddStudent(testutil.NewStudentForm("CS-001", "Ada Lovelace"))
	login(t, cli, adminEmail, adminPwd)
	id := strconv.Itoa(ada.ID)

	tests := []struct {
		name      string
		id        string
		input     string
		deny      bool
		wantErr   error
		wantOut   string
		wantFaces int
	}{
		{name: "camera denied", id: id, deny: true, wantErr: core.ErrCameraDenied},
		{name: "input closed", id: id, input: "\n", wantErr: errCaptureAborted},
		{name: "cancel", id: id, input: "\n\nq\n", wantOut: "Capture cancelled"},
		{name: "submit nothing", id: id, input: "s\nq\n", wantOut: student.ErrNoImages.Error()},
		{name: "unknown student", id: "999", input: "\ns\nq\n", wantOut: "Student not found"},
		{name: "two angles", id: id, input: "\n\nwhat\ns\n", wantOut: "Face registered with 2 image(s)", wantFaces: 2},
		{name: "all angles", id: id, input: "\n\n\n\n\ns", wantOut: "All angles captured", wantFaces: len(student.Angles)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cam := camerasvc.NewCameraMock()
			cam.Deny = tt.deny
			cli.camera = cam
			cli.in = bufio.NewReader(strings.NewReader(tt.input))

			err := run(cli, "students", "capture", "--id", tt.id)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, errors.Cause(err))
			} else {
				assert.NoError(t, err)
			}
			if tt.wantOut != "" {
				assert.Contains(t, outputOf(cli).String(), tt.wantOut)
			}
			if tt.wantFaces > 0 {
				assert.Len(t, b.Faces(ada.ID), tt.wantFaces)
			}
			assert.Equal(t, 0, cam.Active(), "camera released")
		})
	}
}

func Test_commandLine_sessions(t *testing.T) {
	cli, b := setup(t)
	ada, _ := b.AddStudent(testutil.NewStudentForm("CS-001", "Ada Lovelace"))
	b.AddStudent(testutil.NewStudentForm("CS-002", "Grace Hopper"))
	login(t, cli, adminEmail, adminPwd)

	runTests(t, cli, []cliTest{
		{name: "list: none", args: []string{"sessions", "list"}, wantOut: "No sessions yet"},
		{name: "logs: no active session", args: []string{"sessions", "logs"}, wantErr: attendance.ErrNoActiveSession},
		{name: "stop: no active session", args: []string{"sessions", "stop"}, wantErr: attendance.ErrNoActiveSession},
		{name: "start", args: []string{"sessions", "start"}, wantOut: "2 student(s) on the roll"},
		{name: "start: already active", args: []string{"sessions", "start"}, wantErr: attendance.ErrSessionActive},
		{name: "list", args: []string{"sessions", "list"}, wantOut: attendance.SessionActive},
		{name: "override: no student", args: []string{"sessions", "override"}, wantErr: errHelp},
		{name: "override: not on the roll", args: []string{"sessions", "override", "--student", "999"}, wantErr: attendance.ErrLogNotFound},
		{name: "override", args: []string{"sessions", "override", "-s", strconv.Itoa(ada.ID)}, wantOut: "Ada Lovelace is now present"},
		{name: "logs", args: []string{"sessions", "logs"}, wantOut: "Grace Hopper"},
	})

	active := b.ActiveSession()
	if !assert.NotNil(t, active) {
		return
	}
	sessID := strconv.Itoa(active.ID)

	t.Run("logs: json", func(t *testing.T) {
		assert.NoError(t, run(cli, "sessions", "logs", "--id", sessID, "--json"))
		var logs []attendance.Log
		if assert.NoError(t, json.Unmarshal(outputOf(cli).Bytes(), &logs)) && assert.Len(t, logs, 2) {
			assert.True(t, logs[0].IsPresent())
			assert.NotNil(t, logs[0].Timestamp)
			assert.False(t, logs[1].IsPresent())
		}
	})

	t.Run("stop and mail", func(t *testing.T) {
		assert.NoError(t, run(cli, "sessions", "stop", "--mail-to", "prof@college.edu,dean@college.edu"))
		out := outputOf(cli).String()
		assert.Contains(t, out, "Session #"+sessID+" summary")
		assert.Contains(t, out, "2 student(s): 1 present, 1 absent")
		assert.Contains(t, out, "Subject: [Rollcall] Attendance summary")
		assert.Contains(t, out, "dean@college.edu")
		assert.Contains(t, out, "filename=summary.csv")
		assert.Nil(t, b.ActiveSession())
	})

	runTests(t, cli, []cliTest{
		{name: "stop: already stopped", args: []string{"sessions", "stop"}, wantErr: attendance.ErrNoActiveSession},
		{name: "report: no id", args: []string{"reports", "session"}, wantErr: errHelp},
		{name: "report: unknown", args: []string{"reports", "session", "--id", "999"}, wantStatus: http.StatusNotFound},
		{name: "report", args: []string{"reports", "session", "--id", sessID, "--yaml"}, wantOut: "present_count: 1"},
		{name: "summary", args: []string{"reports", "summary"}, wantOut: "100.0%"},
		{name: "student report", args: []string{"reports", "student", "--id", strconv.Itoa(ada.ID)}, wantOut: attendance.StatusPresent},
	})

	t.Run("summary: json", func(t *testing.T) {
		assert.NoError(t, run(cli, "reports", "summary", "--json"))
		var got []map[string]interface{}
		if assert.NoError(t, json.Unmarshal(outputOf(cli).Bytes(), &got)) && assert.Len(t, got, 2) {
			assert.Equal(t, 100.0, got[0]["percentage"])
			assert.Equal(t, 0.0, got[1]["percentage"])
		}
	})
}

func Test_commandLine_history(t *testing.T) {
	cli, b := setup(t)
	ada, _ := b.AddStudent(testutil.NewStudentForm("CS-001", "Ada Lovelace"))

	admin := newCLI(t, b.Config(t))
	login(t, admin, adminEmail, adminPwd)
	login(t, cli, "cs-001@college.edu", "Str0ng!Secret")

	t.Run("no session yet", func(t *testing.T) {
		assert.NoError(t, run(cli, "history"))
		assert.Contains(t, outputOf(cli).String(), "attended 0 of 0 session(s), 0.0%")
		assert.Contains(t, outputOf(cli).String(), "No attendance recorded yet")
	})

	for _, args := range [][]string{
		{"sessions", "start"},
		{"sessions", "override", "--student", strconv.Itoa(ada.ID)},
		{"sessions", "stop"},
	} {
		if err := run(admin, args...); err != nil {
			t.Fatalf("%v failed: %v", args, err)
		}
	}

	runTests(t, cli, []cliTest{
		{name: "history", args: []string{"history"}, wantOut: "attended 1 of 1 session(s), 100.0%"},
		{name: "whoami", args: []string{"whoami"}, wantOut: "Roll number CS-001, CSE semester 3, face registered: no"},
		{name: "sessions list", args: []string{"sessions", "list"}, wantOut: attendance.SessionCompleted},
		{name: "reports are admin only", args: []string{"reports", "summary"}, wantErr: auth.ErrAdminRequired},
	})

	t.Run("history: yaml", func(t *testing.T) {
		assert.NoError(t, run(cli, "history", "--yaml"))
		var got struct {
			Attended int                      `yaml:"attended"`
			Total    int                      `yaml:"total"`
			Logs     []map[string]interface{} `yaml:"logs"`
		}
		if assert.NoError(t, yaml.Unmarshal(outputOf(cli).Bytes(), &got)) {
			assert.Equal(t, 1, got.Attended)
			assert.Equal(t, 1, got.Total)
			assert.Len(t, got.Logs, 1)
		}
	})
}

func Test_commandLine_live(t *testing.T) {
	cli, b := setup(t)
	ada, _ := b.AddStudent(testutil.NewStudentForm("CS-001", "Ada Lovelace"))
	b.AddStudent(testutil.NewStudentForm("CS-002", "Grace Hopper"))
	login(t, cli, adminEmail, adminPwd)

	cam := camerasvc.NewCameraMock()
	cli.camera = cam
	cli.conf.Camera.FrameInterval = 10 * time.Millisecond

	// interrupted once a student got marked present
	origNotifyContext := notifyContext
	notifyContext = func(parent context.Context, _ ...os.Signal) (context.Context, context.CancelFunc) {
		ctx, cancel := context.WithTimeout(parent, 5*time.Second)
		go func() {
			for ctx.Err() == nil && !strings.Contains(outputOf(cli).String(), "marked present") {
				time.Sleep(5 * time.Millisecond)
			}
			cancel()
		}()
		return ctx, cancel
	}
	defer func() {
		notifyContext = origNotifyContext
	}()

	t.Run("no active session", func(t *testing.T) {
		assert.Equal(t, attendance.ErrNoActiveSession, errors.Cause(run(cli, "sessions", "live")))
		assert.Equal(t, 0, cam.Opened())
	})

	assert.NoError(t, cli.client.UploadFaces(context.Background(), ada.ID, []string{"Zm9v"}))
	if err := run(cli, "sessions", "start"); err != nil {
		t.Fatalf("sessions start failed: %v", err)
	}
	sessID := strconv.Itoa(b.ActiveSession().ID)

	t.Run("stream until interrupted", func(t *testing.T) {
		assert.NoError(t, run(cli, "sessions", "live"))
		out := outputOf(cli).String()
		assert.Contains(t, out, "Live attendance started")
		assert.Contains(t, out, "Ada Lovelace marked present (90%)")
		assert.Contains(t, out, "Live attendance stopped")
		assert.Contains(t, out, "Session #"+sessID+": 1 present, 1 absent")
		assert.Equal(t, 0, cam.Active(), "camera released")
	})

	t.Run("camera denied", func(t *testing.T) {
		cam.Deny = true
		defer func() { cam.Deny = false }()
		assert.True(t, core.IsCameraDenied(run(cli, "sessions", "live")))
	})
}

func Test_commandLine_errorText(t *testing.T) {
	cli, _ := setup(t)

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "backend field errors",
			err: core.NewValidationError(&apisvc.HTTPError{Code: http.StatusUnprocessableEntity},
				core.FieldError{Field: "semester", Error: "this field is required"},
				core.FieldError{Field: "branch", Error: "only alphanumeric characters and underscores are allowed"}),
			want: "branch: only alphanumeric characters and underscores are allowed\nsemester: this field is required",
		},
		{name: "not logged in", err: errors.Wrap(auth.ErrNotAuthenticated, "whoami"), want: "not logged in, run: rollcall login --email EMAIL"},
		{name: "other", err: errors.New("boom"), want: "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cli.errorText(tt.err))
		})
	}
}
