package session

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/sobelx/internal/credentials"
	"github.com/desertthunder/sobelx/internal/history"
	"github.com/desertthunder/sobelx/internal/metrics"
	"github.com/desertthunder/sobelx/internal/protocol"
	"github.com/desertthunder/sobelx/internal/shared"
	"github.com/desertthunder/sobelx/internal/sobel"
	tu "github.com/desertthunder/sobelx/internal/testing"
)

type memRecorder struct {
	mu   sync.Mutex
	jobs map[string]history.Job
	fail bool
}

func (m *memRecorder) Create(job *history.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	if m.jobs == nil {
		m.jobs = make(map[string]history.Job)
	}
	job.ID = shared.GenerateID()
	m.jobs[job.ID] = *job
	return nil
}

func (m *memRecorder) Update(job *history.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

func (m *memRecorder) only(t *testing.T) history.Job {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.jobs) != 1 {
		t.Fatalf("expected one recorded job, got %d", len(m.jobs))
	}
	for _, j := range m.jobs {
		return j
	}
	return history.Job{}
}

type fixture struct {
	handler  *Handler
	store    *credentials.Store
	recorder *memRecorder
	metrics  *metrics.Metrics
	logs     *bytes.Buffer
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	logs := &bytes.Buffer{}
	logger := shared.NewLogger(logs)
	store, err := credentials.Open(filepath.Join(t.TempDir(), "users.txt"), logger)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	f := &fixture{store: store, recorder: &memRecorder{}, metrics: metrics.New(), logs: logs}
	f.handler = NewHandler(HandlerOpts{
		Auth:     store,
		Recorder: f.recorder,
		Metrics:  f.metrics,
		Logger:   logger,
		Config:   cfg,
	})
	return f
}

// start serves one session over an in-memory pipe and returns the client end.
func (f *fixture) start() (net.Conn, <-chan Report) {
	client, server := net.Pipe()
	done := make(chan Report, 1)
	go func() { done <- f.handler.Serve(server) }()
	return client, done
}

func wait(t *testing.T, done <-chan Report) Report {
	t.Helper()
	select {
	case rep := <-done:
		return rep
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
		return Report{}
	}
}

func login(t *testing.T, conn net.Conn, username, password string) string {
	t.Helper()
	if err := protocol.WriteString(conn, username); err != nil {
		t.Fatalf("write username: %v", err)
	}
	if err := protocol.WriteString(conn, password); err != nil {
		t.Fatalf("write password: %v", err)
	}
	outcome, err := protocol.ReadString(conn)
	if err != nil {
		t.Fatalf("read outcome: %v", err)
	}
	return outcome
}

func upload(t *testing.T, conn net.Conn, name string, data []byte) {
	t.Helper()
	if err := protocol.WriteString(conn, name); err != nil {
		t.Fatalf("write name: %v", err)
	}
	if err := protocol.WriteBlob(conn, data); err != nil {
		t.Fatalf("write image: %v", err)
	}
}

func TestServe(t *testing.T) {
	gray := tu.MustPNG(t, tu.SolidImage(10, 10, color.Gray{Y: 128}))

	t.Run("new account processes image", func(t *testing.T) {
		f := newFixture(t, Config{})
		conn, done := f.start()
		defer conn.Close()

		if got := login(t, conn, "alice", "secret1"); got != protocol.AccountCreated {
			t.Fatalf("outcome = %s, want %s", got, protocol.AccountCreated)
		}
		upload(t, conn, "gray.png", gray)

		result, err := protocol.ReadBlob(conn, 0)
		if err != nil {
			t.Fatalf("read result: %v", err)
		}
		out := tu.MustDecodePNG(t, result)
		if out.Bounds() != image.Rect(0, 0, 10, 10) {
			t.Errorf("result bounds = %v, want 10x10", out.Bounds())
		}
		for i, v := range out.(*image.Gray).Pix {
			if v != 0 {
				t.Fatalf("pixel %d = %d, want 0", i, v)
			}
		}

		rep := wait(t, done)
		if rep.Err != nil || rep.Last != Closed || rep.Result() != "completed" {
			t.Errorf("unexpected report: %+v", rep)
		}
		if rep.Outcome != credentials.Created || rep.Username != "alice" {
			t.Errorf("unexpected report identity: %+v", rep)
		}

		job := f.recorder.only(t)
		if job.Status != history.StatusProcessed || job.FileName != "gray.png" || job.Width != 10 {
			t.Errorf("unexpected job: %+v", job)
		}

		logs := f.logs.String()
		for _, want := range []string{"image received for processing", "image processed and sent", "file=gray.png", "username=alice"} {
			if !strings.Contains(logs, want) {
				t.Errorf("expected %q in logs:\n%s", want, logs)
			}
		}
	})

	t.Run("existing account succeeds", func(t *testing.T) {
		f := newFixture(t, Config{})
		if _, err := f.store.Authenticate("alice", "secret1"); err != nil {
			t.Fatalf("seed: %v", err)
		}

		conn, done := f.start()
		defer conn.Close()
		if got := login(t, conn, "alice", "secret1"); got != protocol.AuthSuccess {
			t.Fatalf("outcome = %s, want %s", got, protocol.AuthSuccess)
		}
		upload(t, conn, "gray.png", gray)
		if _, err := protocol.ReadBlob(conn, 0); err != nil {
			t.Fatalf("read result: %v", err)
		}
		wait(t, done)
	})

	t.Run("wrong password closes without image phase", func(t *testing.T) {
		f := newFixture(t, Config{})
		if _, err := f.store.Authenticate("alice", "secret1"); err != nil {
			t.Fatalf("seed: %v", err)
		}

		conn, done := f.start()
		defer conn.Close()
		if got := login(t, conn, "alice", "nope"); got != protocol.AuthFailed {
			t.Fatalf("outcome = %s, want %s", got, protocol.AuthFailed)
		}

		if _, err := protocol.ReadString(conn); !errors.Is(err, protocol.ErrPeerClosed) {
			t.Errorf("expected connection to be closed, got %v", err)
		}

		rep := wait(t, done)
		if rep.Last != Rejected || rep.Err != nil || rep.Result() != "rejected" {
			t.Errorf("unexpected report: %+v", rep)
		}
		if !strings.Contains(f.logs.String(), "authentication failed") {
			t.Errorf("expected auth failure log line:\n%s", f.logs.String())
		}
	})

	t.Run("username with separator is rejected", func(t *testing.T) {
		f := newFixture(t, Config{})
		conn, done := f.start()
		defer conn.Close()

		if got := login(t, conn, "a,b", "pw"); got != protocol.AuthFailed {
			t.Fatalf("outcome = %s, want %s", got, protocol.AuthFailed)
		}
		wait(t, done)
		if f.store.Len() != 0 {
			t.Error("invalid username must not be registered")
		}
	})

	t.Run("peer disconnects during credentials", func(t *testing.T) {
		f := newFixture(t, Config{})
		conn, done := f.start()

		if err := protocol.WriteString(conn, "alice"); err != nil {
			t.Fatalf("write username: %v", err)
		}
		conn.Close()

		rep := wait(t, done)
		if !errors.Is(rep.Err, protocol.ErrFraming) || rep.Last != AwaitCredentials {
			t.Errorf("unexpected report: %+v", rep)
		}
		if rep.Result() != "protocol_error" {
			t.Errorf("result = %s, want protocol_error", rep.Result())
		}
	})

	t.Run("undecodable image sends no result", func(t *testing.T) {
		f := newFixture(t, Config{})
		conn, done := f.start()
		defer conn.Close()

		login(t, conn, "alice", "secret1")
		upload(t, conn, "junk.png", []byte("not an image at all"))

		if _, err := protocol.ReadBlob(conn, 0); !errors.Is(err, protocol.ErrPeerClosed) {
			t.Errorf("expected closed connection without result, got %v", err)
		}

		rep := wait(t, done)
		if !errors.Is(rep.Err, sobel.ErrDecode) || rep.Last != Processing || rep.Result() != "decode_error" {
			t.Errorf("unexpected report: %+v", rep)
		}
		if job := f.recorder.only(t); job.Status != history.StatusFailed {
			t.Errorf("job status = %s, want %s", job.Status, history.StatusFailed)
		}
	})

	t.Run("declared length over limit", func(t *testing.T) {
		f := newFixture(t, Config{MaxImageBytes: 16})
		conn, done := f.start()
		defer conn.Close()

		login(t, conn, "alice", "secret1")
		if err := protocol.WriteString(conn, "big.png"); err != nil {
			t.Fatalf("write name: %v", err)
		}
		if _, err := conn.Write([]byte{0, 0, 1, 0}); err != nil {
			t.Fatalf("write length: %v", err)
		}

		rep := wait(t, done)
		if !errors.Is(rep.Err, protocol.ErrFraming) || rep.Last != AwaitImage {
			t.Errorf("unexpected report: %+v", rep)
		}
	})

	t.Run("io timeout releases silent peer", func(t *testing.T) {
		f := newFixture(t, Config{IOTimeout: 50 * time.Millisecond})
		conn, done := f.start()
		defer conn.Close()

		rep := wait(t, done)
		var ne net.Error
		if !errors.As(rep.Err, &ne) || !ne.Timeout() {
			t.Errorf("expected timeout error, got %v", rep.Err)
		}
		if !strings.Contains(f.logs.String(), "connection timed out") {
			t.Errorf("expected timeout log line:\n%s", f.logs.String())
		}
	})

	t.Run("recorder failure does not abort session", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.recorder.fail = true
		conn, done := f.start()
		defer conn.Close()

		login(t, conn, "alice", "secret1")
		upload(t, conn, "gray.png", gray)
		if _, err := protocol.ReadBlob(conn, 0); err != nil {
			t.Fatalf("read result: %v", err)
		}
		if rep := wait(t, done); rep.Err != nil {
			t.Errorf("unexpected error: %v", rep.Err)
		}
	})
}

func TestState(t *testing.T) {
	if AwaitCredentials.String() != "await_credentials" || Closed.String() != "closed" {
		t.Error("unexpected state names")
	}
	if State(99).String() != "unknown" {
		t.Error("expected unknown for out-of-range state")
	}
}
