package attendance

import (
	"bytes"
	"encoding/csv"
	"net/mail"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/rollcall/core"
)

const (
	summaryTemplate   = "attendance_summary"
	summaryAttachment = "summary.csv"
)

var (
	summaryText = `Attendance session #{{.SessionID}} is over.

Students: {{.TotalStudents}}
Present:  {{.PresentCount}}
Absent:   {{.AbsentCount}}
{{range .Logs}}
- {{if .RollNumber}}{{.RollNumber}} {{end}}{{.StudentName}}: {{.Status}}{{end}}
`

	summaryHTML = `<p>Attendance session #{{.SessionID}} is over.</p>
<ul>
  <li>Students: {{.TotalStudents}}</li>
  <li>Present: {{.PresentCount}}</li>
  <li>Absent: {{.AbsentCount}}</li>
</ul>
<table>
  <tr><th>Roll number</th><th>Student</th><th>Status</th></tr>
  {{range .Logs}}<tr><td>{{.RollNumber}}</td><td>{{.StudentName}}</td><td>{{.Status}}</td></tr>
  {{end}}
</table>
`
)

func init() {
	if err := core.RegisterEmailTemplate(summaryTemplate, summaryText, summaryHTML); err != nil {
		panic(err)
	}
}

// NewSummaryMessage builds the email sent to recipients once a session is stopped.
// The roll call is attached as CSV.
func NewSummaryMessage(summary Summary, to ...string) (*core.EmailMessage, error) {
	msg := &core.EmailMessage{
		Subject:      "Attendance summary",
		TemplateName: summaryTemplate,
		TemplateData: summary,
	}
	for _, addr := range to {
		parsed, err := mail.ParseAddress(addr)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing recipient %q", addr)
		}
		msg.To = append(msg.To, *parsed)
	}

	rollCall, err := summaryCSV(summary)
	if err != nil {
		return nil, err
	}
	if err := msg.Attach(rollCall, summaryAttachment, "text/csv"); err != nil {
		return nil, errors.Wrap(err, "attaching roll call")
	}
	return msg, nil
}

func summaryCSV(summary Summary) (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"session_id", "student_id", "roll_number", "student_name", "status", "timestamp"})
	for _, log := range summary.Logs {
		marked := ""
		if log.Timestamp != nil {
			marked = log.Timestamp.UTC().Format(time.RFC3339)
		}
		_ = w.Write([]string{
			strconv.Itoa(summary.SessionID),
			strconv.Itoa(log.StudentID),
			log.RollNumber,
			log.StudentName,
			log.Status,
			marked,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.Wrap(err, "writing roll call")
	}
	return buf, nil
}
