package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/trezcool/rollcall/core/report"
)

func (cli *commandLine) summaryReport(ctx context.Context, args []string) error {
	fs := cli.flagSet("reports summary")
	o := outputFlags(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if _, err := cli.session.RequireAdmin(); err != nil {
		return err
	}

	reports, err := cli.client.Summary(ctx)
	if err != nil {
		return err
	}
	return cli.render(o, reports, func() {
		if len(reports) == 0 {
			fmt.Fprintln(cli.out, "No students yet")
			return
		}
		rows := make([][]string, len(reports))
		for i, r := range reports {
			rows[i] = []string{
				r.RollNumber, r.StudentName,
				strconv.Itoa(r.Attended), strconv.Itoa(r.TotalSessions),
				cli.styles.percentage(r.Percentage),
			}
		}
		cli.printTable([]string{"Roll number", "Name", "Attended", "Sessions", "Rate"}, rows)
	})
}

func (cli *commandLine) studentReport(ctx context.Context, args []string) error {
	fs := cli.flagSet("reports student")
	id := fs.IntP("id", "i", 0, "the student to report on")
	o := outputFlags(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *id <= 0 {
		fs.Usage()
		return errHelp
	}
	if _, err := cli.session.RequireAdmin(); err != nil {
		return err
	}

	logs, err := cli.client.StudentHistory(ctx, *id)
	if err != nil {
		return err
	}
	return cli.render(o, logs, func() { cli.printHistory(logs) })
}

func (cli *commandLine) sessionReport(ctx context.Context, args []string) error {
	fs := cli.flagSet("reports session")
	id := fs.IntP("id", "i", 0, "the session to report on")
	o := outputFlags(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *id <= 0 {
		fs.Usage()
		return errHelp
	}
	if _, err := cli.session.RequireAdmin(); err != nil {
		return err
	}

	summary, err := cli.hub().SessionReport(ctx, *id)
	if err != nil {
		return err
	}
	return cli.render(o, summary, func() { cli.printSummary(summary) })
}

// history shows the attendance of the logged in student.
func (cli *commandLine) history(ctx context.Context, args []string) error {
	fs := cli.flagSet("history")
	o := outputFlags(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if _, err := cli.session.RequireUser(); err != nil {
		return err
	}

	h, err := report.LoadHistory(ctx, cli.client)
	if err != nil {
		return err
	}
	return cli.render(o, h, func() {
		fmt.Fprintf(cli.out, "%s (%s): attended %d of %d session(s), %s\n",
			cli.styles.title.Render(h.Student.FullName), h.Student.RollNumber, h.Attended, h.Total, cli.styles.percentage(h.Percentage()))
		cli.printHistory(h.Logs)
	})
}
