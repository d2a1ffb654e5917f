package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var cooldownCmd = &cobra.Command{
	Use:   "cooldown",
	Short: "Inspect and maintain notification cooldowns",
}

var cooldownListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cooldown records",
	RunE:  runCooldownList,
}

var cooldownSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete cooldown records past the retention horizon",
	RunE:  runCooldownSweep,
}

func init() {
	rootCmd.AddCommand(cooldownCmd)
	cooldownCmd.AddCommand(cooldownListCmd)
	cooldownCmd.AddCommand(cooldownSweepCmd)

	cooldownListCmd.Flags().StringP("recipient", "r", "", "Filter by recipient id")
	cooldownListCmd.Flags().Bool("active", false, "Show only records still inside the window")
}

func runCooldownList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	recipient, _ := cmd.Flags().GetString("recipient")
	activeOnly, _ := cmd.Flags().GetBool("active")

	store, err := initStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := initCooldowns(cfg, store, newLogger(cfg)).List(cmd.Context(), recipient)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No cooldown records found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "RECIPIENT\tLOCATION\tTYPE\tSEVERITY\tVALUE\tLAST NOTIFIED\tSTATUS\n")
	for _, e := range entries {
		if activeOnly && !e.Active {
			continue
		}
		status := "expired"
		if e.Active {
			status = fmt.Sprintf("active (%s left)", time.Until(e.ExpiresAt).Round(time.Minute))
		}
		fmt.Fprintf(w, "%s\t%g,%g\t%s\t%s\t%.1f\t%s\t%s\n",
			e.RecipientID, e.Latitude, e.Longitude, e.AlertType, e.Severity, e.AlertValue,
			e.LastNotifiedAt.Local().Format("2006-01-02 15:04:05"), status,
		)
	}
	w.Flush()

	return nil
}

func runCooldownSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := initStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := initCooldowns(cfg, store, newLogger(cfg)).Sweep(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Deleted %d cooldown records older than %s\n", n, cfg.Cooldown.Retention)
	return nil
}
