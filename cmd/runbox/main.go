// Runbox creates disposable sandboxed environments for running a project's
// test suite and reports results in one unified schema, over MCP stdio or as
// a one-shot CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "runbox",
	Short: "Sandboxed test execution environments over MCP",
	Long: `Runbox builds disposable test environments: it fetches a project from a
local path or a GitHub repository into an isolated sandbox, detects the
language runtime, installs dependencies, runs the project's test frameworks,
and normalizes every framework's output into a single result schema.`,
	RunE:          runServe, // Default to MCP server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, runCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
