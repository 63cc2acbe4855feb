package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/watershed/internal/config"
	"github.com/fyrsmithlabs/watershed/internal/job"
	"github.com/fyrsmithlabs/watershed/internal/pipeline"
	"github.com/fyrsmithlabs/watershed/internal/services"
)

var runOut outputFlags

func init() {
	rootCmd.AddCommand(runCmd)
	runOut.register(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run MANIFEST.toml",
	Short: "Run a batch described by a TOML manifest",
	Long: `Run a batch described by a TOML manifest.

The manifest names the point dataset, the batch id, the locator tolerance
and the output directory:

  id = "upper-fraser"
  crs = "EPSG:3005"
  tolerance = 150
  output = "out"

  [points]
  file = "stations.geojson"
  id_field = "station"
  name_field = "gnis_name"

  [[point]]
  id = "extra-1"
  x = 1210000
  y = 980000
  name = "Bowron River"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rep, err := runManifest(cmd.Context(), cfg, args[0])
		if rep != nil {
			if werr := runOut.write(cmd.OutOrStdout(), rep); werr != nil && err == nil {
				err = werr
			}
		}
		return err
	},
}

// runManifest loads a manifest, applies its overrides to a copy of cfg and
// runs the batch in-process.
func runManifest(ctx context.Context, cfg *config.Config, path string, opts ...services.BuildOption) (*pipeline.Report, error) {
	m, err := job.Load(path)
	if err != nil {
		return nil, err
	}
	points, err := m.InputPoints()
	if err != nil {
		return nil, err
	}

	local := *cfg
	if m.Tolerance > 0 {
		local.Locator.ToleranceM = m.Tolerance
	}
	if dir := m.OutputDir(); dir != "" {
		local.Store.Dir = dir
	}
	if err := local.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return runBatch(ctx, &local, pipeline.Batch{ID: m.ID, Points: points}, opts...)
}
