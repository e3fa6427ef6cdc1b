package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/rollcall/core/student"
)

var errCaptureAborted = errors.New("face capture aborted")

func (cli *commandLine) listStudents(ctx context.Context, args []string) error {
	fs := cli.flagSet("students list")
	o := outputFlags(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if _, err := cli.session.RequireAdmin(); err != nil {
		return err
	}

	students, err := cli.client.ListStudents(ctx)
	if err != nil {
		return err
	}
	return cli.render(o, students, func() {
		if len(students) == 0 {
			fmt.Fprintln(cli.out, "No students yet")
			return
		}
		rows := make([][]string, len(students))
		for i, s := range students {
			rows[i] = []string{strconv.Itoa(s.ID), s.RollNumber, s.FullName, s.Branch, strconv.Itoa(s.Semester), yesNo(s.HasFace)}
		}
		cli.printTable([]string{"ID", "Roll number", "Name", "Branch", "Semester", "Face"}, rows)
	})
}

// addStudent registers a student account and profile.
func (cli *commandLine) addStudent(ctx context.Context, args []string) error {
	fs := cli.flagSet("students add")
	var ns student.NewStudent
	fs.StringVarP(&ns.Email, "email", "e", "", "login email of the student. The password will be prompted next.")
	fs.StringVarP(&ns.RollNumber, "roll", "r", "", "college roll number")
	fs.StringVarP(&ns.FullName, "name", "n", "", "full name")
	fs.StringVarP(&ns.Branch, "branch", "b", "", "branch, e.g. CSE")
	fs.IntVarP(&ns.Semester, "semester", "s", 1, "current semester")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if ns.Email == "" || ns.RollNumber == "" || ns.FullName == "" {
		fs.Usage()
		return errHelp
	}
	if _, err := cli.session.RequireAdmin(); err != nil {
		return err
	}

	pwd, err := cli.readPassword("Password: ")
	if err != nil {
		return err
	}
	ns.Name = ns.FullName
	ns.Password = pwd
	if err := ns.Validate(cli.validate); err != nil {
		return err
	}

	s, err := cli.client.CreateStudent(ctx, ns)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "Student %s registered as %s (#%d)\n", s.RollNumber, s.DisplayName(), s.ID)
	return nil
}

func (cli *commandLine) deleteStudent(ctx context.Context, args []string) error {
	fs := cli.flagSet("students delete")
	id := fs.IntP("id", "i", 0, "the student to delete, with their account and attendance logs")
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

	if err := cli.client.DeleteStudent(ctx, *id); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "Student #%d deleted\n", *id)
	return nil
}

// captureFaces walks the admin through the capture angles: Enter captures, s submits, q cancels.
func (cli *commandLine) captureFaces(ctx context.Context, args []string) error {
	fs := cli.flagSet("students capture")
	id := fs.IntP("id", "i", 0, "the student to register the face of")
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

	fc := student.NewFaceCapture(cli.camera, cli.encoder, cli.client)
	if err := fc.Start(ctx, *id); err != nil {
		return err
	}
	defer fc.Cancel()

	for {
		if angle, ok := fc.CurrentAngle(); ok {
			fmt.Fprintf(cli.out, "[%d/%d] %s. Enter: capture, s: submit, q: cancel > ", fc.Index()+1, len(student.Angles), angle.Prompt)
		} else {
			fmt.Fprint(cli.out, "All angles captured. s: submit, q: cancel > ")
		}

		line, err := cli.readLine()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(cli.out)
				return errCaptureAborted
			}
			return errors.Wrap(err, "reading input")
		}

		switch strings.ToLower(line) {
		case "":
			if err := fc.CaptureCurrent(ctx); err != nil {
				if errors.Cause(err) == student.ErrAllAnglesCaptured {
					continue
				}
				return err
			}
			fmt.Fprintln(cli.out, cli.styles.success.Render(fmt.Sprintf("Captured %d image(s)", fc.Captured())))
		case "s":
			n := fc.Captured()
			if err := fc.Submit(ctx); err != nil {
				// the captured images are kept: submit again or cancel
				fmt.Fprintln(cli.out, cli.styles.failure.Render(cli.errorText(err)))
				continue
			}
			fmt.Fprintf(cli.out, "Face registered with %d image(s)\n", n)
			return nil
		case "q":
			fmt.Fprintln(cli.out, "Capture cancelled")
			return nil
		default:
			fmt.Fprintf(cli.out, "Unknown input %q\n", line)
		}
	}
}
