// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// serveCommand runs the image server.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Accept authenticated image uploads and answer with their Sobel edge map",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "IPv4 address to bind",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to bind, within the configured port range",
			},
			&cli.StringFlag{
				Name:  "store",
				Usage: "Path to the credential file",
			},
			&cli.DurationFlag{
				Name:  "io-timeout",
				Usage: "Per-read/write deadline on client connections (0 disables)",
			},
			&cli.IntFlag{
				Name:  "max-image-bytes",
				Usage: "Largest image payload accepted",
			},
			&cli.FloatFlag{
				Name:  "accept-rate",
				Usage: "Maximum accepted connections per second (0 disables)",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Row bands processed in parallel per image",
				Value: 1,
			},
			&cli.StringFlag{
				Name:  "metrics",
				Usage: "Address of the /metrics and /healthz listener",
			},
			&cli.BoolFlag{
				Name:  "history",
				Usage: "Record processed images in the history database",
			},
			&cli.StringFlag{
				Name:  "history-path",
				Usage: "Path to the history database",
			},
		},
		Action: r.Serve,
	}
}

// sendCommand uploads one image.
func sendCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "Authenticate, upload an image and save the returned edge map",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Server IPv4 address",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Server port",
			},
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "Username; unknown usernames are registered",
			},
			&cli.StringFlag{
				Name:  "password",
				Usage: "Password",
			},
			&cli.StringFlag{
				Name:     "input",
				Aliases:  []string{"i"},
				Usage:    "Image file to upload",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Where to write the result (default: <input>_sobel.png)",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "File name announced to the server (default: input base name)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Per-read/write deadline",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output a JSON summary",
			},
		},
		Action: r.Send,
	}
}

// usersCommand lists registered usernames.
func usersCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "users",
		Usage: "List usernames in the credential file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "store",
				Usage: "Path to the credential file",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Users,
	}
}

// historyCommand lists recorded jobs.
func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List processed images from the history database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "path",
				Usage: "Path to the history database",
			},
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "Only show jobs of this username",
			},
			&cli.StringFlag{
				Name:  "status",
				Usage: "Only show jobs in this status (received, processed, failed)",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of jobs to return",
				Value: 20,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print output",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Export format: csv, markdown or text",
			},
			&cli.StringFlag{
				Name:    "export",
				Aliases: []string{"o"},
				Usage:   "Write the export to this file instead of stdout (default format: csv)",
			},
		},
		Action: r.History,
	}
}

// setupCommand writes the config file and prepares the history database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Create config.toml and initialize the history database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
		},
		Action: r.Setup,
	}
}
