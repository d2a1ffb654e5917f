package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/alerts"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/dispatch"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run dispatch cycles",
}

var dispatchRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one dispatch cycle now and print its summary",
	Long: `Run one dispatch cycle in the foreground. The request budget is tracked per
process, so a one-shot run starts with empty windows.`,
	RunE: runDispatch,
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
	dispatchCmd.AddCommand(dispatchRunCmd)

	dispatchRunCmd.Flags().Bool("json", false, "Print the summary as JSON")
}

func runDispatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := initApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Dispatch.CycleTimeout)
	defer cancel()

	summary, err := a.dispatcher.RunCycle(ctx)
	if err != nil {
		return fmt.Errorf("run cycle: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	printSummary(summary)
	return nil
}

func printSummary(s *dispatch.Summary) {
	status := "complete"
	if s.Partial {
		status = "partial (deadline reached)"
	}

	fmt.Printf("=== Dispatch Cycle %s ===\n", s.CycleID)
	fmt.Printf("Status:              %s\n", status)
	fmt.Printf("Duration:            %dms\n", s.DurationMS)
	fmt.Printf("Locations:           %d total, %d processed, %d skipped\n",
		s.LocationsTotal, s.LocationsProcessed, s.LocationsSkipped)
	fmt.Printf("Alerts Detected:     %d\n", s.AlertsDetected)
	fmt.Printf("Recipients Notified: %d\n", s.RecipientsNotified)
	fmt.Printf("In Cooldown:         %d\n", s.RecipientsInCooldown)
	fmt.Printf("Without Devices:     %d\n", s.RecipientsNoDevices)
	fmt.Printf("Deliveries:          %d ok, %d failed (%d transient), %d tokens removed\n",
		s.Deliveries, s.Failures, s.Transient, s.TokensRemoved)

	if len(s.ByType) > 0 {
		fmt.Printf("\nBy Alert Type:\n")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "  TYPE\tDETECTED\tNOTIFIED\tCOOLDOWN\tFAILURES\n")
		for _, t := range alerts.AllTypes() {
			c, ok := s.ByType[t]
			if !ok {
				continue
			}
			fmt.Fprintf(w, "  %s\t%d\t%d\t%d\t%d\n", t, c.Detected, c.Notified, c.Cooldown, c.Failures)
		}
		w.Flush()
	}

	if len(s.Skips) > 0 {
		fmt.Printf("\nSkipped Locations:\n")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "  LOCATION\tRECIPIENTS\tREASON\tERROR\n")
		for _, sk := range s.Skips {
			fmt.Fprintf(w, "  %s\t%d\t%s\t%s\n", sk.Location, sk.Recipients, sk.Reason, sk.Error)
		}
		w.Flush()
	}
}
