package emailsvc

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"log"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/rollcall/core"
	"github.com/trezcool/rollcall/core/attendance"
	logsvc "github.com/trezcool/rollcall/services/logger"
)

func testConfig() *core.Config {
	return &core.Config{
		Env:              "TEST",
		AppName:          "Rollcall",
		Debug:            true,
		SendgridAPIKey:   "SG.key",
		DefaultFromEmail: mail.Address{Name: "Rollcall", Address: "noreply@college.edu"},
	}
}

func testLogger(buf *bytes.Buffer) core.Logger {
	return logsvc.NewRollbarLogger(log.New(buf, "", 0), testConfig())
}

func summaryMessage(t *testing.T, to ...string) *core.EmailMessage {
	msg, err := attendance.NewSummaryMessage(attendance.Summary{
		SessionID: 9, TotalStudents: 1, PresentCount: 1,
		Logs: []attendance.Log{{StudentID: 1, StudentName: "Ada", Status: attendance.StatusPresent}},
	}, to...)
	if err != nil {
		t.Fatalf("NewSummaryMessage() failed: %v", err)
	}
	return msg
}

func TestConsoleService(t *testing.T) {
	var out, logs bytes.Buffer
	svc := NewConsoleService(testConfig(), &out, testLogger(&logs))

	svc.SendMessages(
		summaryMessage(t, "prof@college.edu"),
		summaryMessage(t), // no recipient: dropped
		&core.EmailMessage{To: []mail.Address{{Address: "x@college.edu"}}, TemplateName: "unknown"},
	)
	svc.Wait()

	sent := svc.Sent()
	if assert.Len(t, sent, 1) {
		assert.Equal(t, "prof@college.edu", sent[0].To[0].Address)
	}
	assert.Contains(t, out.String(), "Subject: [Rollcall] Attendance summary")
	assert.Contains(t, out.String(), "From: \"Rollcall\" <noreply@college.edu>")
	assert.Contains(t, out.String(), "- Ada: present")
	assert.Contains(t, out.String(), "Content-Type: multipart/mixed")
	assert.Contains(t, out.String(), "Content-Disposition: attachment; filename=summary.csv")
	assert.Contains(t, logs.String(), "rendering email")
}

func TestConsoleServiceMock(t *testing.T) {
	svc := NewConsoleServiceMock(testConfig(), testLogger(new(bytes.Buffer)))
	svc.SendMessages(summaryMessage(t, "prof@college.edu"))
	assert.Len(t, svc.Sent(), 1)
}

func TestSendgridService(t *testing.T) {
	var (
		mu      sync.Mutex
		payload map[string]interface{}
		authz   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := ioutil.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		authz = r.Header.Get("Authorization")
		_ = json.Unmarshal(body, &payload)
		if strings.HasSuffix(r.URL.Path, endpoint) {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	var logs bytes.Buffer
	svc := NewSendgridService(testConfig(), testLogger(&logs))
	svc.host = srv.URL
	svc.SendMessages(summaryMessage(t, "Prof <prof@college.edu>"))
	svc.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer SG.key", authz)
	assert.Empty(t, logs.String())
	if assert.NotNil(t, payload) {
		pers := payload["personalizations"].([]interface{})[0].(map[string]interface{})
		assert.Equal(t, "[Rollcall] Attendance summary", pers["subject"])
		assert.Len(t, payload["content"], 2)
		if atts, ok := payload["attachments"].([]interface{}); assert.True(t, ok) && assert.Len(t, atts, 1) {
			at := atts[0].(map[string]interface{})
			assert.Equal(t, "summary.csv", at["filename"])
			assert.Equal(t, "text/csv", at["type"])
			assert.Equal(t, "attachment", at["disposition"])
		}
	}
}

func TestNewService(t *testing.T) {
	conf := testConfig()
	logger := testLogger(new(bytes.Buffer))

	_, isConsole := NewService(conf, nil, logger).(*consoleService)
	assert.True(t, isConsole, "debug mode")

	conf.Debug = false
	_, isSendgrid := NewService(conf, nil, logger).(*sendgridService)
	assert.True(t, isSendgrid)

	conf.SendgridAPIKey = ""
	_, isConsole = NewService(conf, nil, logger).(*consoleService)
	assert.True(t, isConsole, "no api key")
}
