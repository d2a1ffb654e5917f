package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/model"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/storage"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Manage registered push devices",
}

var devicesRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a push token for a user",
	RunE:  runDevicesRegister,
}

var devicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered devices",
	RunE:  runDevicesList,
}

var devicesRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove a device by token",
	RunE:  runDevicesRemove,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
	devicesCmd.AddCommand(devicesRegisterCmd)
	devicesCmd.AddCommand(devicesListCmd)
	devicesCmd.AddCommand(devicesRemoveCmd)

	devicesRegisterCmd.Flags().StringP("user", "u", "", "User id")
	devicesRegisterCmd.Flags().StringP("token", "t", "", "Push token")
	devicesRegisterCmd.Flags().StringP("platform", "p", "", "Platform (android, ios)")
	_ = devicesRegisterCmd.MarkFlagRequired("user")
	_ = devicesRegisterCmd.MarkFlagRequired("token")

	devicesListCmd.Flags().StringP("user", "u", "", "Filter by user id")

	devicesRemoveCmd.Flags().StringP("token", "t", "", "Push token")
	_ = devicesRemoveCmd.MarkFlagRequired("token")
}

func runDevicesRegister(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	userID, _ := cmd.Flags().GetString("user")
	token, _ := cmd.Flags().GetString("token")
	platform, _ := cmd.Flags().GetString("platform")

	store, err := initStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	if _, err := store.GetUser(ctx, userID); errors.Is(err, storage.ErrNotFound) {
		if err := store.UpsertUser(ctx, &model.User{ID: userID}); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	device := &model.Device{UserID: userID, Token: token, Platform: platform}
	if err := store.RegisterDevice(ctx, device); err != nil {
		return err
	}

	fmt.Printf("Device registered:\n")
	fmt.Printf("  ID:        %s\n", device.ID)
	fmt.Printf("  User:      %s\n", userID)
	fmt.Printf("  Platform:  %s\n", platform)
	return nil
}

func runDevicesList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	userID, _ := cmd.Flags().GetString("user")

	store, err := initStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	devices, err := store.ListDevices(cmd.Context(), userID)
	if err != nil {
		return err
	}

	if len(devices) == 0 {
		fmt.Println("No devices registered. Use 'wag devices register' to add one.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "USER\tPLATFORM\tTOKEN\tLAST ACTIVE\n")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			d.UserID, d.Platform, abbreviate(d.Token, 24), d.LastActiveAt.Local().Format("2006-01-02 15:04:05"))
	}
	w.Flush()

	return nil
}

func runDevicesRemove(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	token, _ := cmd.Flags().GetString("token")

	store, err := initStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteDeviceByToken(cmd.Context(), token); err != nil {
		return err
	}
	fmt.Println("Device removed.")
	return nil
}

func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
