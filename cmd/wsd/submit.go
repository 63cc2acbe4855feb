package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	wsdhttp "github.com/fyrsmithlabs/watershed/internal/http"
	"github.com/fyrsmithlabs/watershed/internal/job"
)

var (
	submitQuery  geoJSONQuery
	submitFollow bool
)

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVar(&submitQuery.ID, "id", "", "batch id (default: assigned by the server)")
	submitCmd.Flags().StringVar(&submitQuery.IDField, "id-field", "", "property holding the point id")
	submitCmd.Flags().StringVar(&submitQuery.NameField, "name-field", "", "property holding the stream name")
	submitCmd.Flags().StringVar(&submitQuery.CRS, "crs", "", "CRS of points when the file has no crs member")
	submitCmd.Flags().BoolVarP(&submitFollow, "follow", "f", false, "follow batch progress until it finishes")
}

var submitCmd = &cobra.Command{
	Use:   "submit FILE",
	Short: "Submit a GeoJSON point file or TOML manifest to a wsdd server",
	Long: `Submit a batch to a running wsdd server.

FILE is either a GeoJSON point FeatureCollection or a *.toml manifest. Manifest
points are read locally and sent as JSON; the manifest output directory is
ignored because the server stores results itself.`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client := newAPIClient(serverURL)

	var (
		resp *wsdhttp.SubmitResponse
		err  error
	)
	if isManifest(args[0]) {
		m, lerr := job.Load(args[0])
		if lerr != nil {
			return lerr
		}
		points, perr := m.InputPoints()
		if perr != nil {
			return perr
		}
		id := m.ID
		if submitQuery.ID != "" {
			id = submitQuery.ID
		}
		resp, err = client.Submit(ctx, wsdhttp.SubmitRequest{ID: id, Points: points})
	} else {
		f, oerr := os.Open(args[0])
		if oerr != nil {
			return fmt.Errorf("failed to open points: %w", oerr)
		}
		defer f.Close()
		resp, err = client.SubmitGeoJSON(ctx, f, submitQuery)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Batch %s submitted (%s)\n", resp.BatchID, resp.StatusURL)
	if !submitFollow {
		return nil
	}
	return follow(cmd, client, resp.BatchID)
}
