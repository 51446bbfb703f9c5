package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"grism/internal/logging"
	"grism/internal/observ"
	"grism/internal/trace"
	"grism/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "grism",
	Short: "Slitless spectroscopy modelling and redshift fitting",
	Long: `grism disperses direct-image sources into a detector model, separates
each object's spectrum from its neighbours' contamination and fits
redshifts and emission lines to the result`,
	SilenceUsage:       true,
	PersistentPreRunE:  setupRun,
	PersistentPostRunE: finishRun,
}

// session holds what PersistentPreRunE sets up for the running command.
var session struct {
	logger  *zap.Logger
	timer   *observ.Timer
	cleanup []func()
}

func init() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(modelCmd)
	rootCmd.AddCommand(fitCmd)
	rootCmd.AddCommand(lineFitCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(versionCmd)

	flags := rootCmd.PersistentFlags()
	flags.String("color", "auto", "colorize output (auto|on|off)")
	flags.BoolP("verbose", "v", false, "log at debug level")
	flags.String("log-format", "console", "log encoding (console|json)")
	flags.Bool("timings", false, "show timing information")
	flags.String("ui", "auto", "progress UI mode (auto|on|off)")

	flags.String("trace", "", "trace output file (- for stderr)")
	flags.String("trace-level", "off", "trace level (off|error|phase|detail|debug)")
	flags.String("trace-mode", "ring", "trace storage mode (stream|ring|both)")
	flags.Int("trace-ring-size", 4096, "ring buffer capacity")
	flags.Duration("trace-heartbeat", 0, "heartbeat interval (0 = disabled)")

	flags.String("cpu-profile", "", "write a CPU profile to this file")
	flags.String("mem-profile", "", "write a heap profile to this file on exit")
	flags.String("runtime-trace", "", "write a Go runtime trace to this file")
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		dumpTrace(rootCmd, os.Stderr)
	}
	// PersistentPostRunE is skipped when a command fails.
	closeSession()
	if err != nil {
		os.Exit(1)
	}
}

func setupRun(cmd *cobra.Command, _ []string) error {
	flags := cmd.Root().PersistentFlags()
	colorMode, err := flags.GetString("color")
	if err != nil {
		return fmt.Errorf("failed to get color flag: %w", err)
	}
	switch colorMode {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	case "auto":
		color.NoColor = !isTerminal(os.Stdout)
	default:
		return fmt.Errorf("invalid --color value %q (expected auto|on|off)", colorMode)
	}

	verbose, err := flags.GetBool("verbose")
	if err != nil {
		return fmt.Errorf("failed to get verbose flag: %w", err)
	}
	logFormat, err := flags.GetString("log-format")
	if err != nil {
		return fmt.Errorf("failed to get log-format flag: %w", err)
	}
	session.logger, err = logging.New(logging.Options{Verbose: verbose, Format: logFormat})
	if err != nil {
		return err
	}
	session.timer = observ.NewTimer()

	stopProfiling, err := setupProfiling(cmd)
	if err != nil {
		return err
	}
	session.cleanup = append(session.cleanup, stopProfiling)

	stopTracing, err := setupTracing(cmd)
	if err != nil {
		stopProfiling()
		return err
	}
	session.cleanup = append(session.cleanup, stopTracing)
	return nil
}

func finishRun(cmd *cobra.Command, _ []string) error {
	closeSession()

	showTimings, err := cmd.Root().PersistentFlags().GetBool("timings")
	if err != nil {
		return fmt.Errorf("failed to get timings flag: %w", err)
	}
	if showTimings && session.timer != nil {
		printTimings(cmd.ErrOrStderr(), session.timer)
	}
	if session.logger != nil {
		// Sync fails on unbuffered terminals; nothing to recover.
		_ = session.logger.Sync()
	}
	return nil
}

func closeSession() {
	for i := len(session.cleanup) - 1; i >= 0; i-- {
		session.cleanup[i]()
	}
	session.cleanup = nil
}

// dumpTrace writes the in-memory trace ring of a failed run.
func dumpTrace(cmd *cobra.Command, w io.Writer) {
	ctx := cmd.Context()
	if ctx == nil {
		return
	}
	var ring *trace.RingTracer
	switch t := trace.FromContext(ctx).(type) {
	case *trace.RingTracer:
		ring = t
	case *trace.MultiTracer:
		r, ok := t.Ring()
		if !ok {
			return
		}
		ring = r
	default:
		return
	}
	fmt.Fprintln(w, "trace (most recent events):")
	if err := ring.Dump(w, trace.FormatText); err != nil {
		fmt.Fprintf(w, "trace: dump error: %v\n", err)
	}
}

func logger() *zap.Logger {
	if session.logger == nil {
		return zap.NewNop()
	}
	return session.logger
}

func timer() *observ.Timer {
	if session.timer == nil {
		session.timer = observ.NewTimer()
	}
	return session.timer
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
