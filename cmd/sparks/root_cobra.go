package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/spicysparks/sparks-client/internal/config"
	"github.com/spicysparks/sparks-client/internal/exitcodes"
	"github.com/spicysparks/sparks-client/internal/logging"
	"github.com/spicysparks/sparks-client/internal/process"
	"github.com/spicysparks/sparks-client/internal/sparks"
	ui "github.com/spicysparks/sparks-client/internal/ui"
)

// Version information - set via -ldflags during build
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// rootCmd wires the CLI surface using Cobra. Persistent flags are
// applied to a loaded config in loadCfg().
var rootCmd = &cobra.Command{
	Use:           "sparks",
	Short:         "Sparks over-the-air bundle updates",
	Long:          "Check, download, install and roll back over-the-air bundle updates for a host application.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.InitGlobal(ui.Config{
			NoColor: flagNoColor,
			NoEmoji: flagNoEmoji,
			Yes:     flagYes,
		})
		// Set NO_COLOR env so lipgloss and other libraries respect the flag
		if flagNoColor {
			os.Setenv("NO_COLOR", "1")
		}
		switch flagOutput {
		case "text", "json", "yaml":
		default:
			return exitcodes.InvalidArgsErrorf("invalid --output: %s (use json|yaml|text)", flagOutput)
		}
		cfg, err := loadCfg()
		if err != nil {
			return err
		}
		return logging.InitLog(cfg.LogLevel, cfg.LogFile)
	},
}

var (
	flagHome          string
	flagServer        string
	flagDeploymentKey string
	flagAppVersion    string
	flagOutput        string
	flagLogLevel      string
	flagLogFile       string
	flagNoColor       bool
	flagNoEmoji       bool
	flagYes           bool
)

// stdout is where command output goes; tests replace it.
var stdout io.Writer = os.Stdout

func init() {
	rootCmd.PersistentFlags().StringVar(&flagHome, "home", "", "Sparks home directory (overrides SPARKS_HOME)")
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "Update server URL")
	rootCmd.PersistentFlags().StringVar(&flagDeploymentKey, "deployment-key", "", "Deployment key")
	rootCmd.PersistentFlags().StringVar(&flagAppVersion, "app-version", "", "Version of the host binary")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "text", "Output format: json|yaml|text")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: trace|debug|info|warn|error")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "Log file path, or 'console'")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable ANSI colors")
	rootCmd.PersistentFlags().BoolVar(&flagNoEmoji, "no-emoji", false, "Disable emoji output")
	rootCmd.PersistentFlags().BoolVarP(&flagYes, "yes", "y", false, "Assume yes for all prompts")

	// Replace root help to present grouped output.
	// Only apply custom help to the root command; subcommands use cobra's default help.
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if cmd != rootCmd {
			fmt.Fprintln(cmd.OutOrStdout(), cmd.UsageString())
			return
		}
		// Help runs before PersistentPreRun, so manually configure colors
		c := ui.NewColorConfig()
		c.Enabled = c.Enabled && !flagNoColor
		w := cmd.OutOrStdout()

		groups := []struct {
			title string
			cmds  [][2]string
		}{
			{"Updates", [][2]string{
				{"sync", "Check, download and install in one step"},
				{"check", "Ask the server for a newer package"},
				{"download", "Download the available package"},
				{"install [hash]", "Install a downloaded package"},
				{"confirm", "Mark the running package healthy"},
			}},
			{"Host", [][2]string{
				{"run", "Run the host application and apply updates"},
				{"resolve", "Print the bundle the host should load"},
				{"restart", "Restart the host onto the installed bundle"},
				{"logs", "Show host application logs"},
			}},
			{"State", [][2]string{
				{"status", "Show current, pending and previous packages"},
				{"failed", "List packages that were rolled back"},
				{"rollback-info", "Show the latest rollback"},
				{"report", "Send the pending deployment status report"},
				{"clear", "Remove all updates and use the binary bundle"},
			}},
			{"Utilities", [][2]string{
				{"config", "Show the effective configuration"},
				{"doctor", "Run diagnostic checks"},
				{"version", "Show version"},
			}},
		}

		fmt.Fprintln(w, c.Header(" Sparks "))
		fmt.Fprintln(w, c.Description(cmd.Long))
		fmt.Fprintln(w, c.Separator(50))
		fmt.Fprintln(w)
		fmt.Fprintln(w, c.SubHeader("USAGE"))
		fmt.Fprintln(w, "  sparks <command> [flags]")
		for _, g := range groups {
			fmt.Fprintln(w)
			fmt.Fprintln(w, c.SubHeader(g.title))
			for _, it := range g.cmds {
				fmt.Fprintf(w, "  %s%s\n", c.Apply(ui.BrightGreen, fmt.Sprintf("%-20s", it[0])), c.Description(it[1]))
			}
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, c.Description("Run 'sparks <command> --help' for flags."))
	})
}

// silentErr carries an exit code for failures that were already printed.
type silentErr struct{ err error }

func (e silentErr) Error() string { return e.err.Error() }
func (e silentErr) Unwrap() error { return e.err }

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var se silentErr
		if !errors.As(err, &se) {
			if flagOutput == "json" || flagOutput == "yaml" {
				fmt.Fprintln(os.Stderr, err)
			} else {
				ui.PrintError(os.Stderr, ui.ForError(err))
			}
		}
		os.Exit(exitcodes.CodeForError(err))
	}
}

// loadCfg reads defaults, sparks.yaml and env via internal/config.Load()
// and then applies overrides from persistent flags.
func loadCfg() (config.Config, error) {
	if flagHome != "" {
		// The home locates sparks.yaml, so it must be known before Load.
		os.Setenv("SPARKS_HOME", flagHome)
	}
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	if flagServer != "" {
		cfg.ServerURL = flagServer
	}
	if flagDeploymentKey != "" {
		cfg.DeploymentKey = flagDeploymentKey
	}
	if flagAppVersion != "" {
		cfg.AppVersion = flagAppVersion
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagLogFile != "" {
		cfg.LogFile = flagLogFile
	}
	return cfg, nil
}

// session is a client opened for one command together with the host
// process it controls.
type session struct {
	cfg    config.Config
	client *sparks.Client
	host   *process.Host
}

func (s *session) Close() {
	if err := s.client.Close(); err != nil {
		log.Warnf("close client: %v", err)
	}
}

// openSession loads the configuration and builds a client. Remote commands
// require a server and a deployment key.
func openSession(remote bool) (*session, error) {
	cfg, err := loadCfg()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(remote); err != nil {
		return nil, err
	}

	s := &session{cfg: cfg}
	s.host = process.NewHost(cfg.HomeDir, cfg.HostCommand, func() (string, error) {
		return s.client.ResolveBundlePath()
	})

	opts := sparks.Options{
		Home:               cfg.HomeDir,
		ServerURL:          cfg.ServerURL,
		DeploymentKey:      cfg.DeploymentKey,
		AppVersion:         cfg.AppVersion,
		BinaryModifiedTime: cfg.BinaryModifiedTime,
		BinaryPackageHash:  cfg.BinaryPackageHash,
		BundleName:         cfg.BundleName,
		AssetsPrefix:       cfg.AssetsPrefix,
		PublicKey:          cfg.PublicKey,
		DebugMode:          cfg.DebugMode,
		TestConfiguration:  cfg.TestConfiguration,
		StoreBackend:       cfg.StoreBackend,
		CacheUpdateChecks:  true,
		Host:               runningHost{s.host},
	}
	s.client, err = sparks.New(opts)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// runningHost reloads the host application only when it is running. A
// stopped host picks the installed bundle up on its next start.
type runningHost struct{ *process.Host }

func (h runningHost) Reload(reason string) error {
	if !h.IsRunning() {
		log.Infof("host application is not running, %s applies on next start", reason)
		return nil
	}
	return h.Host.Reload(reason)
}

func (h runningHost) RestartApplication() error {
	if !h.IsRunning() {
		return nil
	}
	return h.Host.RestartApplication()
}

func printer() ui.Printer {
	return ui.NewPrinterFromGlobal(flagOutput).WithWriter(stdout)
}
