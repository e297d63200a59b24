package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/color"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/sobelx/internal/client"
	"github.com/desertthunder/sobelx/internal/credentials"
	"github.com/desertthunder/sobelx/internal/history"
	"github.com/desertthunder/sobelx/internal/shared"
	tu "github.com/desertthunder/sobelx/internal/testing"
	"github.com/urfave/cli/v3"
)

func newTestRunner(t *testing.T, config *shared.Config) (*Runner, *bytes.Buffer) {
	t.Helper()
	output := &bytes.Buffer{}
	return NewRunner(RunnerOpts{
		Config: config,
		Logger: shared.NewLogger(io.Discard),
		Output: output,
	}), output
}

// freePort reserves a loopback port and releases it for the server under test.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// startServe runs the serve command until the test ends and returns its port.
func startServe(t *testing.T, dir string) int {
	t.Helper()
	port := freePort(t)

	config := shared.DefaultConfig()
	config.Server.PortMin, config.Server.PortMax = 0, 0
	config.Server.Port = port
	config.Store.Path = filepath.Join(dir, "users.txt")
	config.History.Path = filepath.Join(dir, "history.db")
	config.History.Enabled = true

	r, _ := newTestRunner(t, config)
	ready := make(chan struct{})
	r.ready = ready

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveCommand(r).Run(ctx, []string{"serve"}) }()

	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("serve failed to start: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not become ready")
	}

	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("serve returned error on shutdown: %v", err)
		}
	})
	return port
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}

			runner := NewRunner(RunnerOpts{
				Config:     config,
				ConfigPath: "/test/path/config.toml",
				Logger:     logger,
				Output:     output,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.configPath != "/test/path/config.toml" {
				t.Errorf("expected configPath to be set, got %s", runner.configPath)
			}
		})

		t.Run("with nil config uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})
			if runner.config == nil {
				t.Fatal("expected default config to be set")
			}
			if runner.config.Server.Port != 5000 {
				t.Errorf("expected default port 5000, got %d", runner.config.Server.Port)
			}
		})

		t.Run("with nil logger uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})
			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
		})

		t.Run("with nil output uses stdout", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})
			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
		})
	})

	t.Run("register", func(t *testing.T) {
		runner, _ := newTestRunner(t, nil)
		names := []string{}
		for _, c := range runner.register() {
			names = append(names, c.Name)
		}
		want := "serve,send,users,history,setup"
		if got := strings.Join(names, ","); got != want {
			t.Errorf("commands = %s, want %s", got, want)
		}
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			runner, output := newTestRunner(t, nil)

			if err := runner.writeJSON(map[string]string{"key": "value"}, true); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			runner, output := newTestRunner(t, nil)

			if err := runner.writeJSON(map[string]string{"key": "value"}, false); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if got := output.String(); got != "{\"key\":\"value\"}\n" {
				t.Errorf("expected compact JSON, got %q", got)
			}
		})

		t.Run("returns error on marshal failure", func(t *testing.T) {
			runner, _ := newTestRunner(t, nil)
			if err := runner.writeJSON(make(chan int), false); err == nil {
				t.Error("expected error for unmarshalable data")
			}
		})

		t.Run("returns error on write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}, Logger: shared.NewLogger(io.Discard)})
			if err := runner.writeJSON(map[string]string{"key": "value"}, false); err == nil {
				t.Error("expected error on write failure")
			}
		})

		t.Run("returns error when newline write fails", func(t *testing.T) {
			var buf bytes.Buffer
			lw := tu.NewLimitedWriter(1, 0, &buf)
			runner := NewRunner(RunnerOpts{Output: &lw, Logger: shared.NewLogger(io.Discard)})
			if err := runner.writeJSON(map[string]string{"key": "value"}, false); err == nil {
				t.Error("expected error on newline write failure")
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		t.Run("formats arguments", func(t *testing.T) {
			runner, output := newTestRunner(t, nil)
			if err := runner.writePlain("%s has %d users\n", "store", 2); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if got := output.String(); got != "store has 2 users\n" {
				t.Errorf("unexpected output %q", got)
			}
		})

		t.Run("writePlainln surrounds text with newlines", func(t *testing.T) {
			runner, output := newTestRunner(t, nil)
			runner.writePlainln("done")
			if got := output.String(); got != "\ndone\n" {
				t.Errorf("unexpected output %q", got)
			}
		})

		t.Run("returns error on write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}, Logger: shared.NewLogger(io.Discard)})
			if err := runner.writePlain("x"); err == nil {
				t.Error("expected error on write failure")
			}
		})
	})
}

func TestServe(t *testing.T) {
	t.Run("rejects an invalid host", func(t *testing.T) {
		runner, _ := newTestRunner(t, nil)
		err := serveCommand(runner).Run(context.Background(), []string{"serve", "--host", "256.1.1.1"})
		if !errors.Is(err, shared.ErrInvalidAddress) {
			t.Errorf("expected ErrInvalidAddress, got %v", err)
		}
	})

	t.Run("rejects a port outside the configured range", func(t *testing.T) {
		runner, _ := newTestRunner(t, nil)
		err := serveCommand(runner).Run(context.Background(), []string{"serve", "--port", "6000"})
		if !errors.Is(err, shared.ErrInvalidPort) {
			t.Errorf("expected ErrInvalidPort, got %v", err)
		}
	})

	t.Run("flags override the loaded config", func(t *testing.T) {
		runner, _ := newTestRunner(t, nil)
		cmd := serveCommand(runner)
		cmd.Action = func(context.Context, *cli.Command) error { return nil }
		if err := cmd.Run(context.Background(), []string{
			"serve", "--host", "10.0.0.1", "--port", "5010", "--io-timeout", "5s", "--history-path", "h.db",
		}); err != nil {
			t.Fatalf("failed to parse flags: %v", err)
		}

		cfg := runner.serverConfig(cmd)
		if cfg.Server.Host != "10.0.0.1" || cfg.Server.Port != 5010 {
			t.Errorf("unexpected address %s:%d", cfg.Server.Host, cfg.Server.Port)
		}
		if cfg.Server.IOTimeout != 5*time.Second {
			t.Errorf("expected io timeout 5s, got %v", cfg.Server.IOTimeout)
		}
		if !cfg.History.Enabled || cfg.History.Path != "h.db" {
			t.Errorf("expected history enabled at h.db, got %+v", cfg.History)
		}
		if runner.config.Server.Host != "127.0.0.1" {
			t.Error("expected the loaded config to stay untouched")
		}
	})
}

func TestSend(t *testing.T) {
	dir := t.TempDir()
	port := startServe(t, dir)
	portArg := strconv.Itoa(port)

	input := filepath.Join(dir, "gray.png")
	if err := os.WriteFile(input, tu.MustPNG(t, tu.SolidImage(12, 8, color.Gray{Y: 90})), 0644); err != nil {
		t.Fatalf("failed to write input: %v", err)
	}

	t.Run("registers, processes and writes the result", func(t *testing.T) {
		runner, output := newTestRunner(t, nil)
		err := sendCommand(runner).Run(context.Background(), []string{
			"send", "--host", "127.0.0.1", "--port", portArg, "--user", "alice", "--password", "pw", "--input", input,
		})
		if err != nil {
			t.Fatalf("send failed: %v", err)
		}

		out := filepath.Join(dir, "gray_sobel.png")
		tu.AssertFileExists(t, out)
		img := tu.MustDecodePNG(t, []byte(tu.MustReadFile(t, out)))
		if b := img.Bounds(); b.Dx() != 12 || b.Dy() != 8 {
			t.Errorf("expected 12x8 result, got %dx%d", b.Dx(), b.Dy())
		}
		if !strings.Contains(output.String(), "New account created") {
			t.Errorf("expected account created message, got %q", output.String())
		}
	})

	t.Run("json summary for a returning user", func(t *testing.T) {
		runner, output := newTestRunner(t, nil)
		out := filepath.Join(dir, "edges.png")
		err := sendCommand(runner).Run(context.Background(), []string{
			"send", "--host", "127.0.0.1", "--port", portArg, "-u", "alice", "--password", "pw",
			"-i", input, "-o", out, "--json",
		})
		if err != nil {
			t.Fatalf("send failed: %v", err)
		}

		var summary sendSummary
		if err := json.Unmarshal(output.Bytes(), &summary); err != nil {
			t.Fatalf("failed to decode summary: %v", err)
		}
		if summary.Outcome != "AUTH_SUCCESS" || summary.Output != out || summary.OutputBytes == 0 {
			t.Errorf("unexpected summary %+v", summary)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		runner, output := newTestRunner(t, nil)
		err := sendCommand(runner).Run(context.Background(), []string{
			"send", "--host", "127.0.0.1", "--port", portArg, "-u", "alice", "--password", "nope", "-i", input,
			"-o", filepath.Join(dir, "never.png"),
		})
		if !errors.Is(err, client.ErrAuthFailed) {
			t.Fatalf("expected ErrAuthFailed, got %v", err)
		}
		if !strings.Contains(output.String(), "Wrong password") {
			t.Errorf("expected wrong password message, got %q", output.String())
		}
		if _, err := os.Stat(filepath.Join(dir, "never.png")); !os.IsNotExist(err) {
			t.Error("expected no output file after a rejected login")
		}
	})

	t.Run("history records both jobs", func(t *testing.T) {
		// the server updates a job after the result is on the wire, so poll briefly
		var jobs []jobView
		deadline := time.Now().Add(3 * time.Second)
		for {
			runner, output := newTestRunner(t, nil)
			err := historyCommand(runner).Run(context.Background(), []string{
				"history", "--path", filepath.Join(dir, "history.db"), "--user", "alice", "--status", "processed", "--json",
			})
			if err != nil {
				t.Fatalf("history failed: %v", err)
			}
			jobs = nil
			if err := json.Unmarshal(output.Bytes(), &jobs); err != nil {
				t.Fatalf("failed to decode jobs: %v", err)
			}
			if len(jobs) == 2 || time.Now().After(deadline) {
				break
			}
			time.Sleep(20 * time.Millisecond)
		}

		if len(jobs) != 2 {
			t.Fatalf("expected 2 processed jobs, got %d", len(jobs))
		}
		for _, j := range jobs {
			if j.Width != 12 || j.Height != 8 || j.InputFormat != "png" {
				t.Errorf("unexpected job %+v", j)
			}
		}
	})

	t.Run("validates arguments before dialing", func(t *testing.T) {
		tc := []struct {
			name string
			args []string
			want error
		}{
			{"bad host", []string{"--host", "localhost", "-u", "a", "-i", input}, shared.ErrInvalidAddress},
			{"bad port", []string{"--host", "127.0.0.1", "--port", "70000", "-u", "a", "-i", input}, shared.ErrInvalidPort},
			{"missing user", []string{"--host", "127.0.0.1", "-i", input}, shared.ErrMissingArgument},
			{"separator in user", []string{"--host", "127.0.0.1", "-u", "a,b", "-i", input}, credentials.ErrInvalidUsername},
		}
		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				runner, _ := newTestRunner(t, nil)
				err := sendCommand(runner).Run(context.Background(), append([]string{"send"}, tt.args...))
				if !errors.Is(err, tt.want) {
					t.Errorf("expected %v, got %v", tt.want, err)
				}
			})
		}
	})
}

func TestUsers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")
	content := "bob," + credentials.Hash("b") + "\nalice," + credentials.Hash("a") + "\nbroken line\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write store: %v", err)
	}

	t.Run("json", func(t *testing.T) {
		runner, output := newTestRunner(t, nil)
		if err := usersCommand(runner).Run(context.Background(), []string{"users", "--store", path, "--json"}); err != nil {
			t.Fatalf("users failed: %v", err)
		}
		if got := output.String(); got != "[\"alice\",\"bob\"]\n" {
			t.Errorf("unexpected output %q", got)
		}
	})

	t.Run("plain", func(t *testing.T) {
		runner, output := newTestRunner(t, nil)
		if err := usersCommand(runner).Run(context.Background(), []string{"users", "--store", path}); err != nil {
			t.Fatalf("users failed: %v", err)
		}
		if !strings.Contains(output.String(), "Users (2)") {
			t.Errorf("expected user count header, got %q", output.String())
		}
	})

	t.Run("missing store is empty", func(t *testing.T) {
		runner, output := newTestRunner(t, nil)
		missing := filepath.Join(t.TempDir(), "none.txt")
		if err := usersCommand(runner).Run(context.Background(), []string{"users", "--store", missing}); err != nil {
			t.Fatalf("users failed: %v", err)
		}
		if !strings.Contains(output.String(), "No registered users") {
			t.Errorf("unexpected output %q", output.String())
		}
	})
}

func TestHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	repo, err := history.Open(shared.HistoryConfig{Path: path})
	if err != nil {
		t.Fatalf("failed to open history: %v", err)
	}
	failed := history.NewJob("s1", "carol", "127.0.0.1:1", "bad.bin", 3)
	failed.Fail(errors.New("decode failed"))
	if err := repo.Create(failed); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}
	repo.Close()

	t.Run("table", func(t *testing.T) {
		runner, output := newTestRunner(t, nil)
		if err := historyCommand(runner).Run(context.Background(), []string{"history", "--path", path}); err != nil {
			t.Fatalf("history failed: %v", err)
		}
		out := output.String()
		for _, want := range []string{"CREATED", "carol", "bad.bin", "failed"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in output %q", want, out)
			}
		}
	})

	t.Run("status filter", func(t *testing.T) {
		runner, output := newTestRunner(t, nil)
		err := historyCommand(runner).Run(context.Background(), []string{"history", "--path", path, "--status", "processed"})
		if err != nil {
			t.Fatalf("history failed: %v", err)
		}
		if !strings.Contains(output.String(), "No jobs recorded") {
			t.Errorf("unexpected output %q", output.String())
		}
	})

	t.Run("csv export", func(t *testing.T) {
		runner, output := newTestRunner(t, nil)
		dest := filepath.Join(t.TempDir(), "jobs.csv")
		if err := historyCommand(runner).Run(context.Background(), []string{"history", "--path", path, "-o", dest}); err != nil {
			t.Fatalf("history export failed: %v", err)
		}
		if !strings.Contains(tu.MustReadFile(t, dest), "decode failed") {
			t.Error("expected the failed job in the export")
		}
		if !strings.Contains(output.String(), "exported 1 jobs") {
			t.Errorf("unexpected output %q", output.String())
		}
	})

	t.Run("markdown to stdout", func(t *testing.T) {
		runner, output := newTestRunner(t, nil)
		if err := historyCommand(runner).Run(context.Background(), []string{"history", "--path", path, "-f", "markdown"}); err != nil {
			t.Fatalf("history failed: %v", err)
		}
		if !strings.HasPrefix(output.String(), "# Processing history") {
			t.Errorf("unexpected output %q", output.String())
		}
	})

	t.Run("unknown status", func(t *testing.T) {
		runner, _ := newTestRunner(t, nil)
		err := historyCommand(runner).Run(context.Background(), []string{"history", "--path", path, "--status", "lost"})
		if !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestSetup(t *testing.T) {
	t.Chdir(t.TempDir())

	runner, output := newTestRunner(t, nil)
	if err := setupCommand(runner).Run(context.Background(), []string{"setup", "--config", "config.toml"}); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	tu.AssertFileExists(t, "config.toml")
	tu.AssertFileExists(t, shared.DefaultConfig().History.Path)
	if !strings.Contains(output.String(), "Setup complete") {
		t.Errorf("unexpected output %q", output.String())
	}

	t.Run("is idempotent", func(t *testing.T) {
		runner, _ := newTestRunner(t, nil)
		if err := setupCommand(runner).Run(context.Background(), []string{"setup", "-c", "config.toml"}); err != nil {
			t.Fatalf("second setup failed: %v", err)
		}
	})
}
