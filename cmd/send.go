package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/desertthunder/sobelx/internal/client"
	"github.com/desertthunder/sobelx/internal/credentials"
	"github.com/desertthunder/sobelx/internal/shared"
	"github.com/desertthunder/sobelx/internal/ui"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
)

type sendSummary struct {
	Server      string `json:"server"`
	Username    string `json:"username"`
	Outcome     string `json:"outcome"`
	Input       string `json:"input"`
	InputBytes  int    `json:"input_bytes"`
	Output      string `json:"output,omitempty"`
	OutputBytes int    `json:"output_bytes,omitempty"`
}

// Send performs one exchange with the server and writes the returned edge map to disk.
func (r *Runner) Send(ctx context.Context, cmd *cli.Command) error {
	cfg := r.clientConfig(cmd)

	if err := shared.ValidateIPv4(cfg.Host); err != nil {
		return err
	}
	if err := shared.ValidatePort(cfg.Port, 1, 65535); err != nil {
		return err
	}
	if cfg.Username == "" {
		return fmt.Errorf("%w: --user is required", shared.ErrMissingArgument)
	}
	if err := credentials.ValidateUsername(cfg.Username); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrInvalidArgument, err)
	}

	input := cmd.String("input")
	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("failed to read input image: %w", err)
	}

	name := cmd.String("name")
	if name == "" {
		name = filepath.Base(input)
	}
	output := cmd.String("output")
	if output == "" {
		output = defaultOutputPath(input)
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	r.logger.Debug("sending image", "addr", addr, "file", name, "size", humanize.Bytes(uint64(len(data))))

	resp, err := client.Exchange(ctx, addr, client.Request{
		Username: cfg.Username,
		Password: cfg.Password,
		FileName: name,
		Image:    data,
	}, client.Options{Timeout: cfg.Timeout})

	summary := sendSummary{Server: addr, Username: cfg.Username, Input: input, InputBytes: len(data)}
	if resp != nil {
		summary.Outcome = resp.Outcome
	}

	if err != nil {
		if errors.Is(err, client.ErrAuthFailed) {
			if cmd.Bool("json") {
				r.writeJSON(summary, false)
			} else {
				r.writePlain("%s\n", ui.Outcome(summary.Outcome))
			}
		}
		return err
	}

	if err := os.WriteFile(output, resp.Image, 0644); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	summary.Output = output
	summary.OutputBytes = len(resp.Image)

	if cmd.Bool("json") {
		return r.writeJSON(summary, false)
	}

	r.writePlain("%s\n", ui.Outcome(summary.Outcome))
	r.writePlain("%s %s (%s) -> %s (%s)\n",
		ui.Styles.OK("✓"),
		input, humanize.Bytes(uint64(summary.InputBytes)),
		output, humanize.Bytes(uint64(summary.OutputBytes)),
	)
	return nil
}

// clientConfig overlays the send flags that were set on the [client] config section.
func (r *Runner) clientConfig(cmd *cli.Command) shared.ClientConfig {
	cfg := r.config.Client

	if cmd.IsSet("host") {
		cfg.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Port = cmd.Int("port")
	}
	if cmd.IsSet("user") {
		cfg.Username = cmd.String("user")
	}
	if cmd.IsSet("password") {
		cfg.Password = cmd.String("password")
	}
	if cmd.IsSet("timeout") {
		cfg.Timeout = cmd.Duration("timeout")
	}
	return cfg
}

// defaultOutputPath turns "dir/cat.jpg" into "dir/cat_sobel.png".
func defaultOutputPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_sobel.png"
}
