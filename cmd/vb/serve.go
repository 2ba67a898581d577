package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gritskevich/vb/pkg/render/rodengine"
	"github.com/gritskevich/vb/pkg/server"
)

func serveCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the session server",
		Long: `Start the session server.

The server accepts WebSocket clients at /ws and serves /health,
/cleanup and /metrics. It stops gracefully on SIGINT or SIGTERM,
tearing down every session and sweeping leftover workspaces.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			logger := cfg.Logger(os.Stderr)
			logger.Info("starting vb", "version", version, "config", cfg.Path())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New(cfg.ServerConfig(), rodengine.New(logger), logger)
			return srv.Run(ctx)
		},
	}

	f := cmd.Flags()
	f.StringP("addr", "a", "", "Listen address (default \":3000\")")
	f.String("workspace-root", "", "Directory for browser workspaces (default: system temp dir)")
	f.Bool("headful", false, "Show the browser window")
	f.String("browser-bin", "", "Browser binary (default: downloaded Chromium)")
	f.Int("fps", 0, "Target frame rate (default 30)")
	f.String("image-format", "", "Frame encoding: png or jpeg")
	f.StringSlice("allowed-origins", nil, "Origin hosts allowed to connect, or * for any")

	for key, flag := range map[string]string{
		"server.address":         "addr",
		"browser.workspace_root": "workspace-root",
		"browser.headful":        "headful",
		"browser.bin":            "browser-bin",
		"stream.fps":             "fps",
		"browser.image_format":   "image-format",
		"server.allowed_origins": "allowed-origins",
	} {
		_ = c.v.BindPFlag(key, f.Lookup(flag))
	}

	return cmd
}
