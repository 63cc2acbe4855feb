package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/watershed/internal/events"
	"github.com/fyrsmithlabs/watershed/internal/pipeline"
	"github.com/fyrsmithlabs/watershed/internal/report"
)

var (
	statusFollow     bool
	statusInterval   time.Duration
	statusReport     bool
	statusJSON       bool
	statusGeoJSON    bool
	statusReferences bool
)

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(healthCmd)

	statusCmd.Flags().BoolVarP(&statusFollow, "follow", "f", false, "show live progress until the batch finishes")
	statusCmd.Flags().DurationVar(&statusInterval, "interval", time.Second, "poll interval for --follow")
	statusCmd.Flags().BoolVar(&statusReport, "report", false, "print the final batch report")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print JSON instead of text")
	statusCmd.Flags().BoolVar(&statusGeoJSON, "geojson", false, "print the merged watersheds as GeoJSON")
	statusCmd.Flags().BoolVar(&statusReferences, "references", false, "print the referenced stream points as GeoJSON")
	statusCmd.MarkFlagsMutuallyExclusive("follow", "report", "geojson", "references")
}

var statusCmd = &cobra.Command{
	Use:   "status BATCH_ID",
	Short: "Show the progress or result of a batch on a wsdd server",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check wsdd server health",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := newAPIClient(serverURL).Health(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", resp.Status)
		fmt.Fprintf(cmd.OutOrStdout(), "Server URL: %s\n", serverURL)
		return nil
	},
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client := newAPIClient(serverURL)
	id := args[0]
	out := cmd.OutOrStdout()

	switch {
	case statusFollow:
		return follow(cmd, client, id)
	case statusGeoJSON, statusReferences:
		return client.GeoJSON(ctx, id, statusReferences, out)
	case statusReport:
		rep, err := client.Report(ctx, id)
		if err != nil {
			return err
		}
		if statusJSON {
			return report.WriteJSON(out, rep)
		}
		_, err = fmt.Fprintln(out, report.RenderText(rep))
		return err
	}

	st, err := client.Status(ctx, id)
	if err != nil {
		return err
	}
	if statusJSON {
		return writeJSON(out, st)
	}
	fmt.Fprintf(out, "Batch:     %s\n", st.BatchID)
	fmt.Fprintf(out, "Status:    %s\n", st.Status)
	fmt.Fprintf(out, "Points:    %d total, %d completed, %d failed, %d in flight\n",
		st.Counts.Total, st.Counts.Completed, st.Counts.Failed, st.Counts.InFlight)
	fmt.Fprintf(out, "Updated:   %s\n", st.UpdatedAt.Format(time.RFC3339))
	return nil
}

// follow shows live progress of a batch, then prints its report once done.
func follow(cmd *cobra.Command, client *apiClient, id string) error {
	ctx := cmd.Context()
	st, err := client.Status(ctx, id)
	if err != nil {
		return err
	}

	fetch := func(ctx context.Context) (events.BatchState, error) {
		st, err := client.Status(ctx, id)
		if err != nil {
			return events.BatchState{}, err
		}
		return events.BatchState{
			ID:        st.BatchID,
			Status:    pipeline.Status(st.Status),
			Points:    st.Points,
			CreatedAt: st.CreatedAt,
			UpdatedAt: st.UpdatedAt,
		}, nil
	}
	if err := report.Follow(ctx, report.NewModel(id, st.Counts.Total, statusInterval, fetch)); err != nil {
		return err
	}

	rep, err := client.Report(ctx, id)
	if err != nil {
		// Still running when the user quit the view.
		return nil
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), report.RenderText(rep))
	return err
}

func isManifest(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
