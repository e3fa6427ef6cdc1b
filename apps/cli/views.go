package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/trezcool/rollcall/core"
	"github.com/trezcool/rollcall/core/attendance"
)

const (
	clockLayout = "15:04:05"
	dateLayout  = "2006-01-02 15:04"
)

// styles are bound to the output writer, so that no color is emitted when it is not a terminal.
type styles struct {
	title   lipgloss.Style
	header  lipgloss.Style
	cell    lipgloss.Style
	border  lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	muted   lipgloss.Style
}

func newStyles(out io.Writer) styles {
	r := lipgloss.NewRenderer(out)
	return styles{
		title:   r.NewStyle().Bold(true),
		header:  r.NewStyle().Bold(true).Padding(0, 1),
		cell:    r.NewStyle().Padding(0, 1),
		border:  r.NewStyle().Foreground(lipgloss.Color("8")),
		success: r.NewStyle().Foreground(lipgloss.Color("2")),
		warning: r.NewStyle().Foreground(lipgloss.Color("3")),
		failure: r.NewStyle().Foreground(lipgloss.Color("1")),
		muted:   r.NewStyle().Faint(true),
	}
}

func (s styles) logStatus(status string) string {
	if status == attendance.StatusPresent {
		return s.success.Render(status)
	}
	return s.failure.Render(status)
}

func (s styles) sessionStatus(status string) string {
	if status == attendance.SessionActive {
		return s.success.Render(status)
	}
	return s.muted.Render(status)
}

func (s styles) percentage(p float64) string {
	text := strconv.FormatFloat(p, 'f', 1, 64) + "%"
	switch {
	case p >= 75:
		return s.success.Render(text)
	case p >= 50:
		return s.warning.Render(text)
	default:
		return s.failure.Render(text)
	}
}

func (s styles) notification(n core.Notification) string {
	switch n.Level {
	case core.LevelSuccess:
		return s.success.Render(n.Message)
	case core.LevelWarning:
		return s.warning.Render(n.Message)
	case core.LevelError:
		return s.failure.Render(n.Message)
	default:
		return n.Message
	}
}

func (cli *commandLine) printTable(headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(cli.styles.border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return cli.styles.header
			}
			return cli.styles.cell
		})
	fmt.Fprintln(cli.out, t.Render())
}

func (cli *commandLine) rollCallLine(sessionID, present, absent int) string {
	return fmt.Sprintf("Session #%d: %s present, %s absent",
		sessionID, cli.styles.success.Render(strconv.Itoa(present)), cli.styles.failure.Render(strconv.Itoa(absent)))
}

// printLogs prints the roll call of a session.
func (cli *commandLine) printLogs(logs []attendance.Log) {
	if len(logs) == 0 {
		fmt.Fprintln(cli.out, "No students on the roll")
		return
	}
	rows := make([][]string, len(logs))
	for i, log := range logs {
		marked := "-"
		if log.Timestamp != nil {
			marked = log.Timestamp.Local().Format(clockLayout)
		}
		rows[i] = []string{strconv.Itoa(log.StudentID), log.RollNumber, studentName(log), cli.styles.logStatus(log.Status), marked}
	}
	cli.printTable([]string{"ID", "Roll number", "Name", "Status", "Marked at"}, rows)
}

// printHistory prints the logs of one student across sessions.
func (cli *commandLine) printHistory(logs []attendance.Log) {
	if len(logs) == 0 {
		fmt.Fprintln(cli.out, "No attendance recorded yet")
		return
	}
	rows := make([][]string, len(logs))
	for i, log := range logs {
		marked := "-"
		if log.Timestamp != nil {
			marked = log.Timestamp.Local().Format(dateLayout)
		}
		rows[i] = []string{strconv.Itoa(log.SessionID), cli.styles.logStatus(log.Status), marked}
	}
	cli.printTable([]string{"Session", "Status", "Marked at"}, rows)
}

func (cli *commandLine) printSummary(s attendance.Summary) {
	fmt.Fprintln(cli.out, cli.styles.title.Render(fmt.Sprintf("Session #%d summary", s.SessionID)))
	fmt.Fprintf(cli.out, "%d student(s): %s present, %s absent\n", s.TotalStudents,
		cli.styles.success.Render(strconv.Itoa(s.PresentCount)), cli.styles.failure.Render(strconv.Itoa(s.AbsentCount)))
	cli.printLogs(s.Logs)
}

func studentName(log attendance.Log) string {
	if log.StudentName != "" {
		return log.StudentName
	}
	return "Student #" + strconv.Itoa(log.StudentID)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
