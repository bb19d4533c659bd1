package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fishare/fishare/internal/history"
)

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent transfers",
		Long:  "Display the most recent sent and received transfers recorded in this device's history.",
		RunE: func(cmd *cobra.Command, args []string) error {
			hist, err := history.Open(dataDir)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}

			records := hist.Records()
			if limit > 0 && len(records) > limit {
				records = records[:limit]
			}

			fmt.Println(headerStyle.Render(fmt.Sprintf("%-20s %-8s %-16s %-6s %-10s %-9s", "WHEN", "DIR", "PEER", "FILES", "SIZE", "STATUS")))
			if len(records) == 0 {
				fmt.Println(dimStyle.Render("no transfers recorded"))
				return nil
			}

			for _, r := range records {
				when := r.Timestamp.Format("2006-01-02 15:04:05")
				size := humanize.Bytes(r.TotalSize)
				statusText := string(r.Status)
				style := okStyle
				switch r.Status {
				case history.StatusError:
					style = errStyle
				case history.StatusCanceled:
					style = warnStyle
				}
				fmt.Printf("%-20s %-8s %-16s %-6d %-10s %s\n", when, r.Direction, r.PeerName, r.NumFiles, size, style.Render(statusText))
				if r.ErrorMsg != "" {
					fmt.Println(dimStyle.Render("  " + r.ErrorMsg))
				}
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of records to show (0 = all)")

	return cmd
}
