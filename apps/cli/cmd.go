package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/trezcool/rollcall/core"
	"github.com/trezcool/rollcall/core/attendance"
	"github.com/trezcool/rollcall/core/auth"
	"github.com/trezcool/rollcall/core/student"
	apisvc "github.com/trezcool/rollcall/services/api"
	camerasvc "github.com/trezcool/rollcall/services/camera"
	credsvc "github.com/trezcool/rollcall/services/credentials"
	emailsvc "github.com/trezcool/rollcall/services/email"
	wssvc "github.com/trezcool/rollcall/services/websocket"
)

var (
	readPasswordFunc = term.ReadPassword    // mockable
	notifyContext    = signal.NotifyContext // mockable

	errHelp         = errors.New("help provided")
	errExclusiveFmt = errors.New("--json and --yaml are mutually exclusive")
)

const usage = `Usage:
  rollcall login --email EMAIL     log in, the password is prompted next
  rollcall logout
  rollcall whoami
  rollcall students list|add|delete|capture
  rollcall sessions list|start|stop|logs|override|live
  rollcall reports summary|student|session
  rollcall history                 your own attendance history

Lists and reports accept --json or --yaml.
`

type commandLine struct {
	conf       *core.Config
	logger     core.Logger
	validate   *validator.Validate
	translator ut.Translator
	session    *auth.Session
	client     *apisvc.Client
	camera     core.Camera
	encoder    core.FrameEncoder
	dialer     attendance.Dialer
	mailer     core.EmailService

	in     *bufio.Reader
	out    io.Writer
	styles styles
}

func newCommandLine(conf *core.Config, logger core.Logger, in io.Reader, out io.Writer) (*commandLine, error) {
	translator := core.NewTranslator()
	validate := validator.New()
	core.InitValidators(validate, translator)
	student.InitValidators(validate, translator)

	sess := auth.NewSession(credsvc.NewFileStore(conf.CredentialsFile), validate)
	if err := sess.Init(); err != nil {
		return nil, err
	}

	var reqLogger core.Logger
	if conf.Debug {
		reqLogger = logger
	}
	client := apisvc.NewClient(conf, sess, reqLogger)
	client.OnUnauthorized(sess.Clear)

	return &commandLine{
		conf:       conf,
		logger:     logger,
		validate:   validate,
		translator: translator,
		session:    sess,
		client:     client,
		camera:     camerasvc.NewDirCamera(conf.Camera.Dir),
		encoder:    camerasvc.NewJPEGEncoder(conf.Camera.FrameMaxWidth, conf.Camera.JPEGQuality),
		dialer:     wssvc.NewDialer(),
		mailer:     emailsvc.NewService(conf, out, logger),
		in:         bufio.NewReader(in),
		out:        out,
		styles:     newStyles(out),
	}, nil
}

func (cli *commandLine) printUsage() {
	fmt.Fprint(cli.out, usage)
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	ctx := context.Background()
	cmd, args := args[1], args[2:]
	switch cmd {
	case "login":
		return cli.login(ctx, args)
	case "logout":
		return cli.logout()
	case "whoami":
		return cli.whoami(ctx, args)
	case "students":
		return cli.dispatch(ctx, cmd, args, subcommands{
			"list":    cli.listStudents,
			"add":     cli.addStudent,
			"delete":  cli.deleteStudent,
			"capture": cli.captureFaces,
		})
	case "sessions":
		return cli.dispatch(ctx, cmd, args, subcommands{
			"list":     cli.listSessions,
			"start":    cli.startSession,
			"stop":     cli.stopSession,
			"logs":     cli.sessionLogs,
			"override": cli.override,
			"live":     cli.live,
		})
	case "reports":
		return cli.dispatch(ctx, cmd, args, subcommands{
			"summary": cli.summaryReport,
			"student": cli.studentReport,
			"session": cli.sessionReport,
		})
	case "history":
		return cli.history(ctx, args)
	default:
		cli.printUsage()
		return errHelp
	}
}

type subcommands map[string]func(ctx context.Context, args []string) error

func (cli *commandLine) dispatch(ctx context.Context, name string, args []string, cmds subcommands) error {
	if len(args) > 0 {
		if run, ok := cmds[args[0]]; ok {
			return run(ctx, args[1:])
		}
	}

	names := make([]string, 0, len(cmds))
	for sub := range cmds {
		names = append(names, sub)
	}
	sort.Strings(names)
	fmt.Fprintf(cli.out, "Usage:\n  rollcall %s %s\n", name, strings.Join(names, "|"))
	return errHelp
}

func (cli *commandLine) flagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("rollcall "+name, pflag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}

func parseFlags(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return errHelp
		}
		return err
	}
	return nil
}

// output is the machine-readable format picked with --json or --yaml, if any.
type output struct {
	json bool
	yaml bool
}

func outputFlags(fs *pflag.FlagSet) *output {
	o := new(output)
	fs.BoolVar(&o.json, "json", false, "print JSON")
	fs.BoolVar(&o.yaml, "yaml", false, "print YAML")
	return o
}

// render encodes v in the picked format, or calls human when none was picked.
func (cli *commandLine) render(o *output, v interface{}, human func()) error {
	switch {
	case o.json && o.yaml:
		return errExclusiveFmt
	case o.json:
		enc := json.NewEncoder(cli.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case o.yaml:
		enc := yaml.NewEncoder(cli.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		human()
		return nil
	}
}

func (cli *commandLine) readPassword(prompt string) (string, error) {
	fmt.Fprint(cli.out, prompt)
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", errors.Wrap(err, "reading password")
	}
	return string(pwd), nil
}

// readLine returns the next trimmed input line. io.EOF is only returned once the input is exhausted.
func (cli *commandLine) readLine() (string, error) {
	line, err := cli.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// errorText is how err is shown to the user. Validation errors get one line per field.
func (cli *commandLine) errorText(err error) string {
	if fields := core.TranslateErrors(err, cli.translator); len(fields) > 0 {
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)
		lines := make([]string, len(names))
		for i, name := range names {
			lines[i] = name + ": " + fields[name]
		}
		return strings.Join(lines, "\n")
	}

	switch errors.Cause(err) {
	case auth.ErrNotAuthenticated:
		return "not logged in, run: rollcall login --email EMAIL"
	case auth.ErrAdminRequired:
		return "this command is reserved to admins"
	}
	if core.IsCameraDenied(err) {
		return "camera unavailable: " + err.Error()
	}
	return err.Error()
}
