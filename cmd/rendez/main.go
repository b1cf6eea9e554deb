package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"rendez/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "rendez",
	Short: "Rendezvous primitive stress and trace toolchain",
	Long:  `Rendez exercises the rendezvous primitives (cancellation tokens, admission control, suspend tickets, serialized queues) and inspects their traces`,
}

func main() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(stressCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().Bool("quiet", false, "suppress non-essential output")
	rootCmd.PersistentFlags().Bool("timings", false, "show timing information")
	rootCmd.PersistentFlags().String("trace", "", "write trace events to this file")
	rootCmd.PersistentFlags().String("trace-level", "off", "trace level (off|error|core|detail|debug)")
	rootCmd.PersistentFlags().String("trace-mode", "stream", "trace storage mode (stream|ring|both)")
	rootCmd.PersistentFlags().Int("trace-ring-size", 4096, "ring buffer capacity for ring mode")
	rootCmd.PersistentFlags().Duration("trace-heartbeat", 0, "emit a heartbeat event at this interval (0 disables)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
