package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"

	kioskapi "github.com/trezcool/rollcall/apps/kiosk/echo"
	"github.com/trezcool/rollcall/core"
	"github.com/trezcool/rollcall/core/attendance"
)

// waiter is implemented by email services that send in the background.
type waiter interface {
	Wait()
}

func (cli *commandLine) hub() *attendance.Hub {
	return attendance.NewHub(cli.client, cli.validate)
}

// loadHub returns a hub synced with the backend. An active session is required.
func (cli *commandLine) loadHub(ctx context.Context) (*attendance.Hub, *attendance.Session, error) {
	hub := cli.hub()
	if err := hub.Load(ctx); err != nil {
		return nil, nil, err
	}
	sess := hub.Active()
	if sess == nil {
		return nil, nil, attendance.ErrNoActiveSession
	}
	return hub, sess, nil
}

func (cli *commandLine) listSessions(ctx context.Context, args []string) error {
	fs := cli.flagSet("sessions list")
	o := outputFlags(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if _, err := cli.session.RequireUser(); err != nil {
		return err
	}

	sessions, err := cli.client.ListSessions(ctx)
	if err != nil {
		return err
	}
	return cli.render(o, sessions, func() {
		if len(sessions) == 0 {
			fmt.Fprintln(cli.out, "No sessions yet")
			return
		}
		rows := make([][]string, len(sessions))
		for i, s := range sessions {
			ended := "-"
			if s.EndTime != nil {
				ended = s.EndTime.Local().Format(clockLayout)
			}
			rows[i] = []string{strconv.Itoa(s.ID), s.Date, s.StartTime.Local().Format(clockLayout), ended, cli.styles.sessionStatus(s.Status)}
		}
		cli.printTable([]string{"ID", "Date", "Started", "Ended", "Status"}, rows)
	})
}

func (cli *commandLine) startSession(ctx context.Context, args []string) error {
	fs := cli.flagSet("sessions start")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if _, err := cli.session.RequireAdmin(); err != nil {
		return err
	}

	hub := cli.hub()
	if err := hub.Load(ctx); err != nil {
		return err
	}
	sess, err := hub.StartSession(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "Session #%d started, %d student(s) on the roll\n", sess.ID, len(hub.Logs()))
	return nil
}

func (cli *commandLine) stopSession(ctx context.Context, args []string) error {
	fs := cli.flagSet("sessions stop")
	mailTo := fs.StringSliceP("mail-to", "m", nil, "email the summary to these addresses")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if _, err := cli.session.RequireAdmin(); err != nil {
		return err
	}

	hub := cli.hub()
	if err := hub.Load(ctx); err != nil {
		return err
	}
	summary, err := hub.StopSession(ctx)
	if err != nil {
		return err
	}
	cli.printSummary(summary)

	if len(*mailTo) == 0 {
		return nil
	}
	msg, err := attendance.NewSummaryMessage(summary, *mailTo...)
	if err != nil {
		return err
	}
	cli.mailer.SendMessages(msg)
	if w, ok := cli.mailer.(waiter); ok {
		w.Wait()
	}
	return nil
}

func (cli *commandLine) sessionLogs(ctx context.Context, args []string) error {
	fs := cli.flagSet("sessions logs")
	id := fs.IntP("id", "i", 0, "the session to list the logs of (default: the active one)")
	o := outputFlags(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if _, err := cli.session.RequireUser(); err != nil {
		return err
	}

	var logs []attendance.Log
	if *id > 0 {
		var err error
		if logs, err = cli.client.SessionLogs(ctx, *id); err != nil {
			return err
		}
	} else {
		hub, _, err := cli.loadHub(ctx)
		if err != nil {
			return err
		}
		logs = hub.Logs()
	}
	return cli.render(o, logs, func() { cli.printLogs(logs) })
}

// override flips the status of a student in the active session.
func (cli *commandLine) override(ctx context.Context, args []string) error {
	fs := cli.flagSet("sessions override")
	studentID := fs.IntP("student", "s", 0, "the student whose status is flipped")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *studentID <= 0 {
		fs.Usage()
		return errHelp
	}
	if _, err := cli.session.RequireAdmin(); err != nil {
		return err
	}

	hub, _, err := cli.loadHub(ctx)
	if err != nil {
		return err
	}
	if err := hub.OverrideStudent(ctx, *studentID); err != nil {
		return err
	}
	log, _ := hub.LogOf(*studentID)
	fmt.Fprintf(cli.out, "%s is now %s\n", studentName(log), cli.styles.logStatus(log.Status))
	return nil
}

// live streams the camera of the active session until interrupted.
func (cli *commandLine) live(ctx context.Context, args []string) error {
	fs := cli.flagSet("sessions live")
	kioskAddr := fs.StringP("kiosk", "k", "", "serve the live feed to a browser, on the configured address or --kiosk=ADDR")
	fs.Lookup("kiosk").NoOptDefVal = cli.conf.KioskAddress
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if _, err := cli.session.RequireAdmin(); err != nil {
		return err
	}

	hub, sess, err := cli.loadHub(ctx)
	if err != nil {
		return err
	}

	con := &console{cli: cli}
	var (
		display  attendance.Display = con
		notifier core.Notifier      = con
	)
	if *kioskAddr != "" {
		kiosk := kioskapi.NewServer(&kioskapi.Options{
			Address:        *kioskAddr,
			Debug:          cli.conf.Debug,
			DisableReqLogs: !cli.conf.Debug,
			Logger:         cli.logger,
		})
		go func() {
			_ = kiosk.Start()
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := kiosk.Stop(shutdownCtx); err != nil {
				cli.logger.Warn("stopping kiosk server", err)
			}
		}()
		fmt.Fprintf(cli.out, "Kiosk served on %s\n", *kioskAddr)
		display = multiDisplay{con, kiosk}
		notifier = core.MultiNotifier{con, kiosk}
	}

	streamer := attendance.NewStreamer(attendance.StreamerConfig{
		URL:      cli.conf.WebsocketURL(),
		Interval: cli.conf.Camera.FrameInterval,
		Tokens:   cli.session,
		Camera:   cli.camera,
		Encoder:  cli.encoder,
		Dialer:   cli.dialer,
		Hub:      hub,
		Display:  display,
		Notifier: notifier,
	})

	liveCtx, stop := notifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := streamer.Start(liveCtx, sess); err == attendance.ErrStreamStopped {
		return nil
	} else if err != nil {
		return err
	}
	con.println("Press Ctrl+C to stop")
	streamer.Wait()

	if streamer.State() == attendance.StateErrored {
		return errors.New("live attendance ended on a connection error")
	}
	if err := hub.RefreshLogs(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cli.out, cli.rollCallLine(sess.ID, hub.PresentCount(), hub.AbsentCount()))
	cli.printLogs(hub.Logs())
	return nil
}

// console renders the live feed in the terminal. Frames are not shown.
type console struct {
	cli *commandLine
	mu  sync.Mutex
}

func (c *console) println(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.cli.out, msg)
}

func (c *console) ShowFrame(string) {}

func (c *console) ShowRollCall(sessionID int, logs []attendance.Log) {
	var present int
	for _, log := range logs {
		if log.IsPresent() {
			present++
		}
	}
	c.println(c.cli.rollCallLine(sessionID, present, len(logs)-present))
}

func (c *console) Notify(n core.Notification) {
	c.println(c.cli.styles.notification(n))
}

type multiDisplay []attendance.Display

func (m multiDisplay) ShowFrame(frame string) {
	for _, d := range m {
		d.ShowFrame(frame)
	}
}

func (m multiDisplay) ShowRollCall(sessionID int, logs []attendance.Log) {
	for _, d := range m {
		d.ShowRollCall(sessionID, logs)
	}
}
