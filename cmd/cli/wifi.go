package cli

import (
	"context"
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/bifrost/internal/logging"
	"github.com/anstrom/bifrost/internal/remediation"
)

var wifiCmd = &cobra.Command{
	Use:   "wifi",
	Short: "Wi-Fi remediation commands",
	Long: `Scan for access points or switch to the first known network in range,
using the credentials file and keyring from remediation.wifi.`,
}

var wifiScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List visible access points",
	RunE:  runWiFiScan,
}

var wifiSwitchCmd = &cobra.Command{
	Use:   "switch",
	Short: "Connect to the first known network in range",
	RunE:  runWiFiSwitch,
}

func init() {
	rootCmd.AddCommand(wifiCmd)
	wifiCmd.AddCommand(wifiScanCmd, wifiSwitchCmd)
}

func newSwitcher() (*remediation.WiFiSwitcher, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return remediation.NewWiFiSwitcher(cfg.Remediation.WiFi, remediation.WithLogger(logging.Default())), nil
}

func runWiFiScan(cmd *cobra.Command, _ []string) error {
	sw, err := newSwitcher()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	aps, err := sw.ScanNetworks(ctx)
	if err != nil {
		return fmt.Errorf("wifi scan failed: %w", err)
	}
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("SSID", "BSSID")
	for _, ap := range aps {
		if err := table.Append([]string{ap.SSID, ap.BSSID}); err != nil {
			return err
		}
	}
	return table.Render()
}

func runWiFiSwitch(cmd *cobra.Command, _ []string) error {
	sw, err := newSwitcher()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	ssid, err := sw.Switch(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s\n", ssid)
	return err
}
