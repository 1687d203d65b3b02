package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/GilMM/caseflow/internal/config"
)

// sweepCmd represents the sweep command
var sweepCmd = &cobra.Command{
	Use:     "sweep",
	Aliases: []string{"poll"},
	Short:   "Run a single poll sweep across all enabled tenants",
	Long: `Run one poll sweep over every tenant with mailbox polling enabled,
then exit. Useful for cron-driven deployments and for verifying a
configuration without starting the server.

Example:
  caseflow sweep --config config.yaml --json`,
	RunE: runSweep,
}

func init() {
	RootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(globalFlags.Config).Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	app, err := buildApp(cfg, globalFlags.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.store.Close(); err != nil {
			log.Printf("Error closing store: %v", err)
		}
	}()

	report := app.coordinator.Sweep(context.Background())

	if globalFlags.JSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Swept %d tenant(s) in %s: %d succeeded, %d failed, %d busy\n",
		report.Swept, report.Duration, report.Succeeded, report.Failed, report.Busy)
	for _, r := range report.Results {
		status := "ok"
		if r.Err != nil {
			status = "error: " + r.Err.Error()
		}
		fmt.Printf("  %s  mode=%s created=%d skipped=%d errors=%d  %s\n",
			r.TenantID, r.Mode, r.Created, r.Skipped, r.Errors, status)
	}
	return nil
}
