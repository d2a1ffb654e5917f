package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/cluster"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Inspect users",
}

var usersLocateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Show located users grouped into dispatch clusters",
	Long: `Show the clusters a dispatch cycle would process, in processing order (most
recipients first), and how many fit in the current request budget.`,
	RunE: runUsersLocate,
}

func init() {
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(usersLocateCmd)

	usersLocateCmd.Flags().Bool("recipients", false, "List recipient ids per cluster")
}

func runUsersLocate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	showRecipients, _ := cmd.Flags().GetBool("recipients")

	store, err := initStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	clusters, err := cluster.New(store, cfg.Cluster.Precision).Locations(cmd.Context())
	if err != nil {
		return err
	}

	if len(clusters) == 0 {
		fmt.Println("No users with a known location.")
		return nil
	}

	users := 0
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if showRecipients {
		fmt.Fprintf(w, "#\tLATITUDE\tLONGITUDE\tRECIPIENTS\tIDS\n")
	} else {
		fmt.Fprintf(w, "#\tLATITUDE\tLONGITUDE\tRECIPIENTS\n")
	}
	for i, c := range clusters {
		users += c.RecipientCount
		if showRecipients {
			fmt.Fprintf(w, "%d\t%.*f\t%.*f\t%d\t%v\n", i+1,
				cfg.Cluster.Precision, c.Latitude, cfg.Cluster.Precision, c.Longitude, c.RecipientCount, c.RecipientIDs)
			continue
		}
		fmt.Fprintf(w, "%d\t%.*f\t%.*f\t%d\n", i+1,
			cfg.Cluster.Precision, c.Latitude, cfg.Cluster.Precision, c.Longitude, c.RecipientCount)
	}
	w.Flush()

	fmt.Printf("\n%d users in %d clusters (precision %d). Daily budget: %d requests/day, %d/h.\n",
		users, len(clusters), cfg.Cluster.Precision, cfg.Limiter.PerDay, cfg.Limiter.PerHour)
	return nil
}
