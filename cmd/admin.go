package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/desertthunder/sobelx/internal/credentials"
	"github.com/desertthunder/sobelx/internal/formatter"
	"github.com/desertthunder/sobelx/internal/history"
	"github.com/desertthunder/sobelx/internal/shared"
	"github.com/desertthunder/sobelx/internal/ui"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
)

// Users lists the usernames of the credential file.
func (r *Runner) Users(ctx context.Context, cmd *cli.Command) error {
	path := r.config.Store.Path
	if cmd.IsSet("store") {
		path = cmd.String("store")
	}

	store, err := credentials.Open(path, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	defer store.Close()

	names := store.Usernames()
	if cmd.Bool("json") {
		return r.writeJSON(names, false)
	}

	if len(names) == 0 {
		return r.writePlain("%s\n", ui.Styles.Help("No registered users in "+path))
	}

	r.writePlainHeader(fmt.Sprintf("Users (%d)", len(names)))
	for _, name := range names {
		r.writePlain("%s\n", name)
	}
	return nil
}

type jobView struct {
	ID          string `json:"id"`
	SessionID   string `json:"session_id"`
	Username    string `json:"username"`
	Peer        string `json:"peer"`
	FileName    string `json:"file_name"`
	Status      string `json:"status"`
	InputFormat string `json:"input_format,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	InputBytes  int    `json:"input_bytes"`
	OutputBytes int    `json:"output_bytes,omitempty"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at"`
	DurationMS  int64  `json:"duration_ms"`
}

func newJobView(j *history.Job) jobView {
	return jobView{
		ID:          j.ID,
		SessionID:   j.SessionID,
		Username:    j.Username,
		Peer:        j.Peer,
		FileName:    j.FileName,
		Status:      string(j.Status),
		InputFormat: j.InputFormat,
		Width:       j.Width,
		Height:      j.Height,
		InputBytes:  j.InputBytes,
		OutputBytes: j.OutputBytes,
		Error:       j.Error,
		CreatedAt:   shared.Timestamp(j.CreatedAt),
		DurationMS:  j.Duration().Milliseconds(),
	}
}

// History lists recorded jobs, newest first.
func (r *Runner) History(ctx context.Context, cmd *cli.Command) error {
	cfg := r.config.History
	if cmd.IsSet("path") {
		cfg.Path = cmd.String("path")
	}

	criteria := map[string]any{"limit": cmd.Int("limit")}
	if user := cmd.String("user"); user != "" {
		criteria["username"] = user
	}
	if status := cmd.String("status"); status != "" {
		switch s := history.Status(status); s {
		case history.StatusReceived, history.StatusProcessed, history.StatusFailed:
			criteria["status"] = s
		default:
			return fmt.Errorf("%w: unknown status %q", shared.ErrInvalidArgument, status)
		}
	}

	repo, err := history.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer repo.Close()

	jobs, err := repo.List(criteria)
	if err != nil {
		return err
	}

	format := cmd.String("format")
	if dest := cmd.String("export"); dest != "" {
		if format == "" {
			format = formatter.FormatCSV
		}
		if err := formatter.WriteExport(format, jobs, dest); err != nil {
			return err
		}
		return r.writePlain("%s exported %d jobs to %s\n", ui.Styles.OK("✓"), len(jobs), dest)
	}
	if format != "" {
		data, err := formatter.Export(format, jobs)
		if err != nil {
			return err
		}
		return r.writePlain("%s", data)
	}

	if cmd.Bool("json") {
		views := make([]jobView, len(jobs))
		for i, j := range jobs {
			views[i] = newJobView(j)
		}
		return r.writeJSON(views, cmd.Bool("pretty"))
	}

	if len(jobs) == 0 {
		return r.writePlain("%s\n", ui.Styles.Help("No jobs recorded"))
	}

	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{
			shared.Timestamp(j.CreatedAt),
			j.Username,
			j.FileName,
			statusCell(j.Status),
			humanize.Bytes(uint64(j.InputBytes)),
			dimensions(j),
			j.Duration().String(),
		})
	}
	return r.writePlain("%s", ui.Table(
		[]string{"CREATED", "USER", "FILE", "STATUS", "SIZE", "DIMENSIONS", "DURATION"}, rows,
	))
}

func statusCell(s history.Status) string {
	switch s {
	case history.StatusProcessed:
		return ui.Styles.OK(string(s))
	case history.StatusFailed:
		return ui.Styles.Err(string(s))
	default:
		return ui.Styles.Warn(string(s))
	}
}

func dimensions(j *history.Job) string {
	if j.Width == 0 && j.Height == 0 {
		return "-"
	}
	return strconv.Itoa(j.Width) + "x" + strconv.Itoa(j.Height)
}
