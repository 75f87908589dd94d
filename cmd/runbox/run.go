package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/runbox/internal/config"
	"github.com/jkaninda/runbox/internal/environment"
	"github.com/jkaninda/runbox/internal/testrun"
)

var (
	runConfigPath string
	runBranch     string
	runJSON       bool
	runVerbose    bool
)

var runCmd = &cobra.Command{
	Use:   "run <path-or-github-url>",
	Short: "Create an environment, run its tests once, and tear it down",
	Args:  cobra.ExactArgs(1),
	RunE:  runOnce,
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	runCmd.Flags().StringVar(&runBranch, "branch", "", "branch to check out (GitHub sources only)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the unified result as JSON")
	runCmd.Flags().BoolVar(&runVerbose, "verbose", false, "enable debug logging")
}

// runOnce is the one-shot pipeline: create, test, cleanup, report.
func runOnce(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if runVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))

	cfg, err := config.Load(goutils.Env("RUNBOX_CONFIG", runConfigPath))
	if err != nil {
		return err
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx := cmd.Context()
	target := args[0]

	var env *environment.Environment
	if info, statErr := os.Stat(target); statErr == nil && info.IsDir() {
		env, err = sc.Envs.CreateFromPath(ctx, target)
	} else {
		env, err = sc.Envs.CreateFromGitHub(ctx, target, runBranch)
	}
	if err != nil {
		return err
	}
	defer func() {
		if cleanupErr := sc.Envs.Cleanup(ctx, env.ID); cleanupErr != nil {
			logger.Warn("cleanup failed", slog.String("error", cleanupErr.Error()))
		}
	}()

	result, err := sc.Envs.RunTests(ctx, env.ID)
	if err != nil {
		return err
	}

	if runJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		printResult(result)
	}

	if !result.Success {
		return fmt.Errorf("test run failed")
	}
	return nil
}

// printResult renders a human-readable summary to stdout.
func printResult(res testrun.Result) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	bold.Printf("runner: %s\n", res.Runner)
	if res.Error != "" {
		red.Printf("error: %s\n", res.Error)
	}

	for _, tc := range res.Tests {
		switch tc.Outcome {
		case testrun.StatusPassed:
			green.Printf("  PASS  %s\n", tc.Name)
		case testrun.StatusSkipped:
			yellow.Printf("  SKIP  %s\n", tc.Name)
		default:
			red.Printf("  FAIL  %s\n", tc.Name)
			if tc.FailureMessage != "" {
				fmt.Printf("        %s\n", tc.FailureMessage)
			}
		}
	}

	fmt.Printf("\n%d total, %s, %s, %s\n",
		res.Summary.Total,
		green.Sprintf("%d passed", res.Summary.Passed),
		red.Sprintf("%d failed", res.Summary.Failed),
		yellow.Sprintf("%d skipped", res.Summary.Skipped),
	)
	if res.Coverage != nil {
		fmt.Printf("coverage: %.1f%% lines\n", res.Coverage.Lines)
	}

	if res.Success {
		green.Println("SUCCESS")
	} else {
		red.Println("FAILURE")
	}
}
