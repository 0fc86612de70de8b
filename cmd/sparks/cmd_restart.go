package main

import (
	"github.com/spf13/cobra"

	"github.com/spicysparks/sparks-client/internal/exitcodes"
)

func init() {
	var onlyIfPending bool
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the host onto the installed bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(false)
			if err != nil {
				return err
			}
			defer s.Close()

			p := printer()
			if !s.host.IsRunning() {
				return exitcodes.NewError(exitcodes.PreconditionFailed, "host application is not running, start it with 'sparks run'")
			}
			if err := s.client.Restart(onlyIfPending); err != nil {
				return exitcodes.ProcessErr("restart host application", err)
			}
			pid, _ := s.host.PID()
			return p.Emit(map[string]any{"restarted": true, "pid": pid}, func() {
				p.Success("Restart requested")
			})
		},
	}
	cmd.Flags().BoolVar(&onlyIfPending, "only-if-pending", false, "Restart only when an update is pending")
	rootCmd.AddCommand(cmd)
}
