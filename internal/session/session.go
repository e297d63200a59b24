package session

import (
	"bufio"
	"errors"
	"io"
	"net"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/desertthunder/sobelx/internal/credentials"
	"github.com/desertthunder/sobelx/internal/history"
	"github.com/desertthunder/sobelx/internal/metrics"
	"github.com/desertthunder/sobelx/internal/protocol"
	"github.com/desertthunder/sobelx/internal/shared"
	"github.com/desertthunder/sobelx/internal/sobel"
)

// DefaultMaxImageBytes caps the declared upload size when [Config.MaxImageBytes] is unset.
const DefaultMaxImageBytes = 32 << 20

// Authenticator resolves credentials to an outcome. [*credentials.Store] implements it.
type Authenticator interface {
	Authenticate(username, password string) (credentials.Outcome, error)
}

// Recorder persists processing history. [*history.Repository] implements it.
type Recorder interface {
	Create(job *history.Job) error
	Update(job *history.Job) error
}

// Config holds per-session limits.
type Config struct {
	// IOTimeout is applied as a deadline before every frame read or write. Zero blocks forever.
	IOTimeout time.Duration
	// MaxImageBytes bounds the declared upload length. Zero means [DefaultMaxImageBytes].
	MaxImageBytes int64
	// Workers is passed to the transform as [sobel.Options.Workers].
	Workers int
}

// HandlerOpts contains the dependencies of a [Handler]. Auth is required.
type HandlerOpts struct {
	Auth     Authenticator
	Recorder Recorder
	Metrics  *metrics.Metrics
	Logger   *log.Logger
	Config   Config
}

// Handler serves sessions. One Handler is shared by every connection; it holds no per-session state.
type Handler struct {
	auth     Authenticator
	recorder Recorder
	metrics  *metrics.Metrics
	logger   *log.Logger
	cfg      Config
}

// NewHandler creates a [Handler] from opts.
func NewHandler(opts HandlerOpts) *Handler {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Config.MaxImageBytes <= 0 {
		opts.Config.MaxImageBytes = DefaultMaxImageBytes
	}
	return &Handler{
		auth:     opts.Auth,
		recorder: opts.Recorder,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		cfg:      opts.Config,
	}
}

// Report summarizes a finished session.
type Report struct {
	ID       string
	Username string
	Peer     string
	// Last is the furthest state reached before the connection was closed.
	Last    State
	Outcome credentials.Outcome
	Err     error
}

// Result classifies the session for logging and metrics.
func (r Report) Result() string {
	switch {
	case r.Err == nil && r.Last == Rejected:
		return "rejected"
	case r.Err == nil:
		return "completed"
	case errors.Is(r.Err, protocol.ErrFraming):
		return "protocol_error"
	case errors.Is(r.Err, sobel.ErrDecode):
		return "decode_error"
	case errors.Is(r.Err, sobel.ErrEncode):
		return "encode_error"
	default:
		return "io_error"
	}
}

type session struct {
	*Handler
	conn   net.Conn
	r      *bufio.Reader
	logger *log.Logger
	report Report
}

// Serve runs one session on conn and closes it before returning.
func (h *Handler) Serve(conn net.Conn) Report {
	s := &session{
		Handler: h,
		conn:    conn,
		r:       bufio.NewReader(conn),
		report: Report{
			ID:   shared.GenerateID(),
			Peer: conn.RemoteAddr().String(),
			Last: AwaitCredentials,
		},
	}
	s.logger = shared.WithLogger(h.logger, "session_id", s.report.ID, "peer", s.report.Peer)

	h.metrics.SessionStarted()
	s.logger.Info("connection established")

	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Debug("error closing connection", "error", err)
		}
		h.metrics.SessionFinished(s.report.Result())
		s.logger.Info("connection closed", "state", s.report.Last, "result", s.report.Result())
	}()

	s.report.Err = s.run()
	return s.report
}

func (s *session) advance(st State) {
	s.report.Last = st
}

func (s *session) run() error {
	username, password, err := s.readCredentials()
	if err != nil {
		s.logFraming("credentials", err)
		return err
	}
	s.report.Username = username
	s.logger = shared.WithLogger(s.logger, "username", username)

	s.advance(Authenticating)
	outcome, err := s.auth.Authenticate(username, password)
	if err != nil {
		s.logger.Warn("rejecting credentials", "error", err)
		outcome = credentials.Failed
	}
	s.report.Outcome = outcome

	if err := s.deadline(); err != nil {
		return err
	}
	if err := protocol.WriteString(s.conn, outcome.String()); err != nil {
		s.logger.Warn("failed to send authentication outcome", "error", err)
		return err
	}

	if !outcome.Accepted() {
		s.advance(Rejected)
		s.logger.Warn("authentication failed")
		return nil
	}
	s.advance(Accepted)
	s.logger.Info("user authenticated", "outcome", outcome)

	s.advance(AwaitImage)
	name, data, err := s.readImage()
	if err != nil {
		s.logFraming("image", err)
		return err
	}
	s.logImage(name, "image received for processing", "size", humanize.Bytes(uint64(len(data))))

	job := s.startJob(name, len(data))

	s.advance(Processing)
	started := time.Now()
	res, err := sobel.Transform(data, sobel.Options{Workers: s.cfg.Workers})
	if err != nil {
		s.logger.Error("failed to process image", "file", name, "error", err)
		s.finishJob(job, nil, err)
		return err
	}
	s.metrics.ObserveTransform(len(data), len(res.Output), time.Since(started))

	s.advance(SendResult)
	if err := s.deadline(); err != nil {
		s.finishJob(job, nil, err)
		return err
	}
	if err := protocol.WriteBlob(s.conn, res.Output); err != nil {
		s.logger.Warn("failed to send processed image", "file", name, "error", err)
		s.finishJob(job, nil, err)
		return err
	}
	s.finishJob(job, res, nil)

	s.advance(Closed)
	s.logImage(name, "image processed and sent",
		"format", res.Format,
		"width", res.Width,
		"height", res.Height,
		"size", humanize.Bytes(uint64(len(res.Output))),
	)
	return nil
}

func (s *session) readCredentials() (string, string, error) {
	if err := s.deadline(); err != nil {
		return "", "", err
	}
	username, err := protocol.ReadString(s.r)
	if err != nil {
		return "", "", err
	}
	if err := s.deadline(); err != nil {
		return "", "", err
	}
	password, err := protocol.ReadString(s.r)
	if err != nil {
		return "", "", err
	}
	return username, password, nil
}

func (s *session) readImage() (string, []byte, error) {
	if err := s.deadline(); err != nil {
		return "", nil, err
	}
	name, err := protocol.ReadString(s.r)
	if err != nil {
		return "", nil, err
	}
	if err := s.deadline(); err != nil {
		return "", nil, err
	}
	data, err := protocol.ReadBlob(s.r, s.cfg.MaxImageBytes)
	if err != nil {
		return "", nil, err
	}
	return name, data, nil
}

// deadline refreshes the connection deadline when an IO timeout is configured.
func (s *session) deadline() error {
	if s.cfg.IOTimeout <= 0 {
		return nil
	}
	return s.conn.SetDeadline(time.Now().Add(s.cfg.IOTimeout))
}

func (s *session) logImage(name, msg string, kv ...any) {
	fields := append([]any{"file", name, "timestamp", shared.Timestamp(time.Now())}, kv...)
	s.logger.Info(msg, fields...)
}

func (s *session) logFraming(phase string, err error) {
	var ne net.Error
	switch {
	case errors.Is(err, protocol.ErrPeerClosed), errors.Is(err, io.EOF):
		s.logger.Warn("connection interrupted by peer", "phase", phase)
	case errors.As(err, &ne) && ne.Timeout():
		s.logger.Warn("connection timed out", "phase", phase)
	default:
		s.logger.Warn("protocol error", "phase", phase, "error", err)
	}
}

func (s *session) startJob(name string, size int) *history.Job {
	if s.recorder == nil {
		return nil
	}
	job := history.NewJob(s.report.ID, s.report.Username, s.report.Peer, name, size)
	if err := s.recorder.Create(job); err != nil {
		s.logger.Error("failed to record job", "error", err)
		return nil
	}
	return job
}

func (s *session) finishJob(job *history.Job, res *sobel.Result, err error) {
	if job == nil {
		return
	}
	if err != nil {
		job.Fail(err)
	} else {
		job.Complete(res.Format, res.Width, res.Height, len(res.Output))
	}
	if err := s.recorder.Update(job); err != nil {
		s.logger.Error("failed to update job", "job_id", job.ID, "error", err)
	}
}
