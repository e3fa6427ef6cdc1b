package main

import (
	"context"
	"fmt"

	"github.com/trezcool/rollcall/core/auth"
	"github.com/trezcool/rollcall/core/student"
)

func (cli *commandLine) login(ctx context.Context, args []string) error {
	fs := cli.flagSet("login")
	email := fs.StringP("email", "e", "", "your account email. The password will be prompted next.")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *email == "" {
		fs.Usage()
		return errHelp
	}

	pwd, err := cli.readPassword("Password: ")
	if err != nil {
		return err
	}
	if pwd == "" {
		fs.Usage()
		return errHelp
	}

	usr, err := cli.session.Login(ctx, cli.client, auth.LoginRequest{Email: *email, Password: pwd})
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "Logged in as %s (%s)\n", usr.Name, usr.Role)
	return nil
}

func (cli *commandLine) logout() error {
	if err := cli.session.Logout(); err != nil {
		return err
	}
	fmt.Fprintln(cli.out, "Logged out")
	return nil
}

type profile struct {
	User    auth.User        `json:"user" yaml:"user"`
	Student *student.Student `json:"student,omitempty" yaml:"student,omitempty"`
}

func (cli *commandLine) whoami(ctx context.Context, args []string) error {
	fs := cli.flagSet("whoami")
	o := outputFlags(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	usr, err := cli.session.RequireUser()
	if err != nil {
		return err
	}
	p := profile{User: usr}
	if usr.IsStudent() {
		me, err := cli.client.Me(ctx)
		if err != nil {
			return err
		}
		if me.Name == "" {
			me.Name = usr.Name
		}
		p.Student = &me
	}

	return cli.render(o, p, func() {
		fmt.Fprintf(cli.out, "%s (%s, #%d)\n", cli.styles.title.Render(usr.Name), usr.Role, usr.ID)
		if p.Student != nil {
			fmt.Fprintf(cli.out, "Roll number %s, %s semester %d, face registered: %s\n",
				p.Student.RollNumber, p.Student.Branch, p.Student.Semester, yesNo(p.Student.HasFace))
		}
	})
}
