// Package cli is the socialhub command line: the HTTP server and the schema
// migration commands.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Skryldev/socialhub/config"
)

// Version is reported by the developer endpoint and --version.
var Version = "dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	// LogFormat is "json" or "text".
	LogFormat string
	Verbose   bool
}

// ValidLogFormats defines the accepted --log-format values.
var ValidLogFormats = []string{"json", "text"}

// NewRootCommand creates the socialhub root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "socialhub",
		Short:   "socialhub - social network resource server",
		Long:    "An HTTP resource server for a social network dataset, with a websocket relay.",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidLogFormats {
				if f == opts.LogFormat {
					return nil
				}
			}
			return fmt.Errorf("invalid log format %q: must be one of %v", opts.LogFormat, ValidLogFormats)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "json", "log format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging regardless of LOG_LEVEL")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}

// Execute runs the root command against os.Args and returns the exit code.
func Execute() int {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "socialhub:", err)
		return 1
	}
	return 0
}

// newLogger builds the process logger and installs it as the slog default.
func (o *RootOptions) newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := cfg.Level()
	if o.Verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if o.LogFormat == "text" {
		h = slog.NewTextHandler(w, hopts)
	} else {
		h = slog.NewJSONHandler(w, hopts)
	}
	logger := slog.New(h).With("service", cfg.ServiceName)
	slog.SetDefault(logger)
	return logger
}

// loadConfig reads .env and the environment. The server additionally needs
// Validate; the migrate commands only need storage settings.
func loadConfig(validate bool) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

var errAborted = errors.New("aborted")
