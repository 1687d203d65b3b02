package cli

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
)

var (
	cliInitialized bool
	cliInitMutex   sync.Mutex
)

// Execute runs the root command with the given arguments
func Execute(args []string) error {
	RootCmd.SetArgs(args)

	if err := RootCmd.Execute(); err != nil {
		return fmt.Errorf("command execution failed: %w", err)
	}
	return nil
}

// ExecuteWithErrorCode runs the root command and returns an exit code
func ExecuteWithErrorCode(args []string) int {
	RootCmd.SetArgs(args)

	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// GetRootCommand returns the root command for external registration
func GetRootCommand() *cobra.Command {
	return RootCmd
}

// RegisterCommand adds a custom command to the CLI
func RegisterCommand(cmd *cobra.Command) {
	RootCmd.AddCommand(cmd)
}

// GetGlobalFlags returns the parsed global flags
func GetGlobalFlags() GlobalFlags {
	return globalFlags
}

// InitCLI initializes the CLI framework with all commands
func InitCLI() {
	cliInitMutex.Lock()
	defer cliInitMutex.Unlock()

	if cliInitialized {
		return
	}
	InitRoot()
	cliInitialized = true
}
