package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"rendez/internal/observ"
	"rendez/internal/stress"
	"rendez/internal/trace"
)

var stressCmd = &cobra.Command{
	Use:   "stress [flags]",
	Short: "Run concurrency stress scenarios against the primitives",
	Long:  `Run the configured stress scenarios (cancel, admission, fifo, churn) and report invariant violations`,
	Args:  cobra.NoArgs,
	RunE:  runStress,
}

func init() {
	stressCmd.Flags().String("profile", "", "profile file (default: nearest rendez.toml)")
	stressCmd.Flags().Int("jobs", 0, "max scenarios to run concurrently (0 = profile value)")
	stressCmd.Flags().Int64("seed", 0, "base workload seed (overrides profile when set)")
	stressCmd.Flags().String("ui", "auto", "interactive progress display (auto|on|off)")
}

func runStress(cmd *cobra.Command, args []string) error {
	cleanup, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	profile, err := resolveProfile(cmd)
	if err != nil {
		return err
	}

	uiValue, err := cmd.Flags().GetString("ui")
	if err != nil {
		return fmt.Errorf("failed to get ui flag: %w", err)
	}
	mode, err := parseUIMode(uiValue)
	if err != nil {
		return err
	}

	timings, err := cmd.Root().PersistentFlags().GetBool("timings")
	if err != nil {
		return fmt.Errorf("failed to get timings flag: %w", err)
	}
	quiet, err := cmd.Root().PersistentFlags().GetBool("quiet")
	if err != nil {
		return fmt.Errorf("failed to get quiet flag: %w", err)
	}

	tracer := trace.FromContext(cmd.Context())

	timer := observ.NewTimer()
	phase := timer.Begin("stress")

	var results []stress.Result
	var runErr error
	if mode.interactive() {
		results, runErr = runStressWithUI(cmd.Context(), "rendez stress", profile, tracer)
	} else {
		results, runErr = stress.Run(cmd.Context(), profile, tracer, nil)
	}
	timer.End(phase, fmt.Sprintf("%d scenarios", len(results)))

	if !quiet {
		printStressResults(cmd, results)
	}
	if timings {
		fmt.Fprint(cmd.OutOrStdout(), timer.Summary())
	}
	return runErr
}

// resolveProfile loads the profile named by --profile, or walks up from
// the working directory looking for rendez.toml, or falls back to the
// built-in defaults.
func resolveProfile(cmd *cobra.Command) (*stress.Profile, error) {
	path, err := cmd.Flags().GetString("profile")
	if err != nil {
		return nil, fmt.Errorf("failed to get profile flag: %w", err)
	}
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		found, ok, err := stress.FindProfile(cwd)
		if err != nil {
			return nil, err
		}
		if !ok {
			profile := stress.DefaultProfile()
			applyProfileFlags(cmd, profile)
			return profile, nil
		}
		path = found
	}
	profile, err := stress.LoadProfile(path)
	if err != nil {
		return nil, err
	}
	applyProfileFlags(cmd, profile)
	return profile, nil
}

func applyProfileFlags(cmd *cobra.Command, profile *stress.Profile) {
	if jobs, err := cmd.Flags().GetInt("jobs"); err == nil && jobs > 0 {
		profile.Jobs = jobs
	}
	if cmd.Flags().Changed("seed") {
		if seed, err := cmd.Flags().GetInt64("seed"); err == nil {
			profile.Seed = seed
		}
	}
}

func printStressResults(cmd *cobra.Command, results []stress.Result) {
	out := cmd.OutOrStdout()
	okColor := color.New(color.FgGreen)
	badColor := color.New(color.FgRed, color.Bold)
	for _, res := range results {
		verdict := okColor.Sprint("ok")
		if res.Err != nil {
			verdict = badColor.Sprint("FAIL")
		}
		fmt.Fprintf(out, "%-12s %s  %d ops  %.1f ms", res.Scenario, verdict, res.Ops,
			float64(res.Elapsed.Microseconds())/1000.0)
		if res.Err != nil {
			fmt.Fprintf(out, "  (%v)", res.Err)
		}
		fmt.Fprintln(out)
	}
}
