package attendance

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/rollcall/core"
)

const defaultFrameInterval = 200 * time.Millisecond

var (
	// newTicker returns the tick channel and the stop func of a ticker.
	newTicker = func(d time.Duration) (<-chan time.Time, func()) { // mockable
		t := time.NewTicker(d)
		return t.C, t.Stop
	}

	// errors
	ErrStreamRunning = errors.New("live stream already running")
	ErrStreamStopped = errors.New("live stream stopped")
)

type StreamState int

const (
	StateIdle StreamState = iota
	StateConnecting
	StateOpen
	StateClosed
	StateErrored
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("StreamState(%d)", int(s))
	}
}

type trigger string

const (
	triggerStart  trigger = "start"
	triggerOpened trigger = "opened"
	triggerStop   trigger = "stop"
	triggerFail   trigger = "fail"
)

var transitions = map[StreamState]map[trigger]StreamState{
	StateIdle:       {triggerStart: StateConnecting},
	StateConnecting: {triggerOpened: StateOpen, triggerStop: StateClosed, triggerFail: StateErrored},
	StateOpen:       {triggerStop: StateClosed, triggerFail: StateErrored},
	StateClosed:     {triggerStart: StateConnecting},
	StateErrored:    {triggerStart: StateConnecting},
}

type (
	// Conn is a JSON message connection. WriteJSON is never called concurrently.
	Conn interface {
		WriteJSON(v interface{}) error
		ReadJSON(v interface{}) error
		Close() error
	}

	Dialer interface {
		Dial(ctx context.Context, url string, header http.Header) (Conn, error)
	}

	// Display renders what the live stream produces.
	Display interface {
		ShowFrame(frame string)
		ShowRollCall(sessionID int, logs []Log)
	}

	TokenSource interface {
		Token() string
	}
)

type StreamerConfig struct {
	URL      string
	Interval time.Duration
	Tokens   TokenSource
	Camera   core.Camera
	Encoder  core.FrameEncoder
	Dialer   Dialer
	Hub      *Hub
	Display  Display
	Notifier core.Notifier
}

// Streamer pushes camera frames of the active session to the backend
// and renders the annotated frames and detections it sends back.
type Streamer struct {
	cfg StreamerConfig

	mu    sync.Mutex
	state StreamState
	cur   *run
}

// run is one Start..termination cycle.
type run struct {
	ctx       context.Context
	cancel    context.CancelFunc
	sessionID int
	stream    core.VideoStream
	wg        sync.WaitGroup
	done      chan struct{}
	once      sync.Once
	sending   int32
	dropped   int64

	mu     sync.Mutex
	conn   Conn
	closed bool
}

func NewStreamer(cfg StreamerConfig) *Streamer {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultFrameInterval
	}
	if cfg.Display == nil {
		cfg.Display = noDisplay{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = core.NotifierFunc(func(core.Notification) {})
	}
	return &Streamer{cfg: cfg}
}

func (s *Streamer) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// fire applies trig to the current state. s.mu must be held.
func (s *Streamer) fire(trig trigger) bool {
	next, ok := transitions[s.state][trig]
	if ok {
		s.state = next
	}
	return ok
}

// Start acquires the camera, connects to the backend and starts streaming frames of sess.
// It returns once the connection is open; streaming goes on until Stop, a transport error or ctx is done.
func (s *Streamer) Start(ctx context.Context, sess *Session) error {
	if !sess.IsActive() {
		return ErrNoActiveSession
	}

	s.mu.Lock()
	if _, ok := transitions[s.state][triggerStart]; !ok {
		s.mu.Unlock()
		return ErrStreamRunning
	}
	stream, err := s.cfg.Camera.Open(ctx)
	if err != nil {
		s.mu.Unlock()
		if core.IsCameraDenied(err) {
			return err
		}
		return errors.Wrap(core.ErrCameraDenied, err.Error())
	}
	s.fire(triggerStart)
	rctx, cancel := context.WithCancel(ctx)
	r := &run{
		ctx:       rctx,
		cancel:    cancel,
		sessionID: sess.ID,
		stream:    stream,
		done:      make(chan struct{}),
	}
	s.cur = r
	s.mu.Unlock()

	header := make(http.Header)
	if s.cfg.Tokens != nil {
		if token := s.cfg.Tokens.Token(); token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}
	conn, err := s.cfg.Dialer.Dial(rctx, s.cfg.URL, header)
	if err != nil {
		if r.isClosed() || ctx.Err() != nil {
			s.finish(r, triggerStop, nil)
			close(r.done)
			return ErrStreamStopped
		}
		err = errors.Wrap(err, "connecting to live attendance")
		s.finish(r, triggerFail, err)
		close(r.done)
		return err
	}
	if !r.setConn(conn) {
		close(r.done)
		return ErrStreamStopped
	}

	s.mu.Lock()
	opened := s.cur == r && s.fire(triggerOpened)
	s.mu.Unlock()
	if !opened {
		close(r.done)
		return ErrStreamStopped
	}

	s.cfg.Notifier.Notify(core.NewNotification(core.LevelInfo, "Live attendance started"))
	s.cfg.Display.ShowRollCall(r.sessionID, s.cfg.Hub.Logs())

	r.wg.Add(2)
	go s.send(r)
	go s.read(r)
	go func() {
		r.wg.Wait()
		close(r.done)
	}()
	return nil
}

// Stop ends the current stream, if any. It is idempotent.
func (s *Streamer) Stop() {
	s.mu.Lock()
	r := s.cur
	s.mu.Unlock()
	if r != nil {
		s.finish(r, triggerStop, nil)
	}
}

// Done is closed once the current stream terminated and its goroutines exited.
func (s *Streamer) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return s.cur.done
}

func (s *Streamer) Wait() {
	<-s.Done()
}

// finish tears r down exactly once: ticker, connection and camera.
func (s *Streamer) finish(r *run, trig trigger, err error) {
	r.once.Do(func() {
		s.mu.Lock()
		if s.cur == r {
			s.fire(trig)
		}
		s.mu.Unlock()

		r.mu.Lock()
		r.closed = true
		conn := r.conn
		r.mu.Unlock()
		r.cancel()
		if conn != nil {
			_ = conn.Close()
		}
		_ = r.stream.Close()

		if err != nil {
			s.cfg.Notifier.Notify(core.NewNotification(core.LevelError, err.Error()))
		} else {
			s.cfg.Notifier.Notify(core.NewNotification(core.LevelInfo, "Live attendance stopped"))
		}
	})
}

func (r *run) setConn(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = conn.Close()
		return false
	}
	r.conn = conn
	return true
}

// isClosed reports whether r was already torn down, by Stop or a failure.
func (r *run) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *run) getConn() Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

func (s *Streamer) isOpen(r *run) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur == r && s.state == StateOpen
}

// send ticks at the frame interval. A tick is dropped while the previous frame is still being sent.
func (s *Streamer) send(r *run) {
	defer r.wg.Done()

	ticks, stop := newTicker(s.cfg.Interval)
	defer stop()

	for {
		select {
		case <-r.ctx.Done():
			s.finish(r, triggerStop, nil)
			return
		case <-ticks:
			if !s.isOpen(r) {
				continue
			}
			if !atomic.CompareAndSwapInt32(&r.sending, 0, 1) {
				atomic.AddInt64(&r.dropped, 1)
				continue
			}
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				defer atomic.StoreInt32(&r.sending, 0)
				if err := s.sendFrame(r); err != nil && r.ctx.Err() == nil {
					s.finish(r, triggerFail, errors.Wrap(err, "live attendance connection lost"))
				}
			}()
		}
	}
}

func (s *Streamer) sendFrame(r *run) error {
	frame, err := r.stream.Frame(r.ctx)
	if err != nil {
		return errors.Wrap(err, "reading frame")
	}
	b64, err := s.cfg.Encoder.Encode(frame)
	if err != nil {
		return errors.Wrap(err, "encoding frame")
	}
	conn := r.getConn()
	if conn == nil {
		return ErrStreamStopped
	}
	return conn.WriteJSON(FrameMessage{Frame: b64, SessionID: r.sessionID})
}

func (s *Streamer) read(r *run) {
	defer r.wg.Done()

	conn := r.getConn()
	for {
		var msg ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if r.ctx.Err() == nil {
				s.finish(r, triggerFail, errors.Wrap(err, "live attendance connection lost"))
			}
			return
		}
		s.handle(r, msg)
	}
}

func (s *Streamer) handle(r *run, msg ServerMessage) {
	if msg.Error != "" {
		s.cfg.Notifier.Notify(core.NewNotification(core.LevelWarning, msg.Error))
	}
	if msg.Frame != "" {
		s.cfg.Display.ShowFrame(msg.Frame)
	}
	if len(msg.Detections) == 0 {
		return
	}

	for _, det := range msg.Detections {
		s.cfg.Notifier.Notify(core.NewNotification(core.LevelSuccess, detectionText(det)))
	}
	if err := s.cfg.Hub.RefreshLogs(r.ctx); err != nil {
		if r.ctx.Err() == nil {
			s.cfg.Notifier.Notify(core.NewNotification(core.LevelError, err.Error()))
		}
		return
	}
	s.cfg.Display.ShowRollCall(r.sessionID, s.cfg.Hub.Logs())
}

func detectionText(det Detection) string {
	name := det.Name
	if name == "" {
		name = fmt.Sprintf("Student #%d", det.StudentID)
	}
	return fmt.Sprintf("%s marked present (%.0f%%)", name, det.Score*100)
}

type noDisplay struct{}

func (noDisplay) ShowFrame(string)        {}
func (noDisplay) ShowRollCall(int, []Log) {}
