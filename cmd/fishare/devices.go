package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/fishare/fishare/internal/config"
	"github.com/fishare/fishare/internal/discovery"
	"github.com/fishare/fishare/internal/logging"
	"github.com/fishare/fishare/internal/state"
)

func devicesCmd() *cobra.Command {
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Discover FIshare devices on the local network",
		Long:  "Listen for discovery beacons for a short window and print the devices found.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLogger(logLevel, logFormat)

			cfg, err := config.Load(dataDir)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			st := state.New(state.StatusAvailable)
			scanner := discovery.NewScanner(st, cfg.DiscoveryPort, cfg.ListenPort, nil, logger)

			ctx, cancel := context.WithTimeout(context.Background(), window)
			defer cancel()

			errCh := make(chan error, 1)
			go func() { errCh <- scanner.Run(ctx) }()

			fmt.Println(dimStyle.Render(fmt.Sprintf("listening for %s...", window)))
			<-ctx.Done()

			devs := st.Devices()
			sort.Slice(devs, func(i, j int) bool { return devs[i].Name < devs[j].Name })

			printDeviceTable(devs)
			return nil
		},
	}

	cmd.Flags().DurationVar(&window, "window", 3*time.Second, "How long to listen for beacons before printing results")

	return cmd
}

func printDeviceTable(devs []state.Device) {
	fmt.Println(headerStyle.Render(fmt.Sprintf("%-20s %-16s %-7s %-10s", "NAME", "HOST", "PORT", "STATUS")))
	if len(devs) == 0 {
		fmt.Println(dimStyle.Render("no devices found"))
		return
	}
	for _, d := range devs {
		fmt.Printf("%-20s %-16s %-7d %s\n", d.Name, d.Host, d.Port, statusStyle(string(d.Status)).Render(string(d.Status)))
	}
}
