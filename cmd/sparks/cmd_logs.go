package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spicysparks/sparks-client/internal/config"
	"github.com/spicysparks/sparks-client/internal/exitcodes"
	"github.com/spicysparks/sparks-client/internal/logging"
	"github.com/spicysparks/sparks-client/internal/process"
	ui "github.com/spicysparks/sparks-client/internal/ui"
)

// logPath picks the host application log, or the client log with client set.
func logPath(cfg config.Config, client bool) (string, error) {
	if !client {
		return process.NewHost(cfg.HomeDir, nil, nil).LogPath(), nil
	}
	if cfg.LogFile == "" || cfg.LogFile == logging.Console {
		return "", exitcodes.NewError(exitcodes.PreconditionFailed, "client logs go to the console, set logFile to keep them")
	}
	return cfg.LogFile, nil
}

func init() {
	var (
		follow bool
		lines  int
		client bool
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show host application logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			path, err := logPath(cfg, client)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return ui.FollowLog(ctx, path, stdout, ui.FollowOptions{Lines: lines, Follow: follow})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().IntVarP(&lines, "lines", "n", 100, "Number of trailing lines to show (0 for all)")
	cmd.Flags().BoolVar(&client, "client", false, "Show the sparks client log instead of the host log")
	rootCmd.AddCommand(cmd)
}
