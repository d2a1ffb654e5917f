package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push notification tools",
}

var pushTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Send a test notification to every device of a user",
	Long: `Send a test notification to every device of a user. Cooldown and the weather
request budget are not involved; tokens the gateway reports as invalid are removed.`,
	RunE: runPushTest,
}

func init() {
	rootCmd.AddCommand(pushCmd)
	pushCmd.AddCommand(pushTestCmd)

	pushTestCmd.Flags().StringP("user", "u", "", "User id")
	_ = pushTestCmd.MarkFlagRequired("user")
}

func runPushTest(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	userID, _ := cmd.Flags().GetString("user")

	a, err := initApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.dispatcher.SendTest(cmd.Context(), userID)
	if err != nil {
		return err
	}

	fmt.Printf("Sent: %d  Failed: %d  Tokens removed: %d\n\n", res.Sent, res.Failed, res.TokensRemoved)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "TOKEN\tRESULT\n")
	for _, o := range res.Outcomes {
		result := "ok"
		if !o.Success {
			result = string(o.ErrorClass)
		}
		fmt.Fprintf(w, "%s\t%s\n", abbreviate(o.Token, 24), result)
	}
	w.Flush()

	return nil
}
