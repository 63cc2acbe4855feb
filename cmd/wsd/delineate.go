package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/watershed/internal/config"
	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/fyrsmithlabs/watershed/internal/pipeline"
	"github.com/fyrsmithlabs/watershed/internal/report"
	"github.com/fyrsmithlabs/watershed/internal/services"
	"github.com/fyrsmithlabs/watershed/internal/vector"
)

// outputFlags are shared by every command that prints a batch report.
type outputFlags struct {
	jsonOut    bool
	references string
}

func (o *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.jsonOut, "json", false, "print the report as JSON")
	cmd.Flags().StringVar(&o.references, "references", "", "write the referenced stream points to this GeoJSON file")
}

var (
	delineateOut       outputFlags
	delineateID        string
	delineateIDField   string
	delineateNameField string
	delineateCRS       string
	delineateDir       string
)

func init() {
	rootCmd.AddCommand(delineateCmd)
	delineateCmd.Flags().StringVar(&delineateID, "id", "", "batch id (default: random)")
	delineateCmd.Flags().StringVar(&delineateIDField, "id-field", "", "property holding the point id (default: feature id)")
	delineateCmd.Flags().StringVar(&delineateNameField, "name-field", "", "property holding the stream name")
	delineateCmd.Flags().StringVar(&delineateCRS, "crs", "", "CRS of points when the file has no crs member, e.g. EPSG:3005")
	delineateCmd.Flags().StringVarP(&delineateDir, "output", "o", "", "output directory (default: store.dir)")
	delineateOut.register(delineateCmd)
}

var delineateCmd = &cobra.Command{
	Use:   "delineate POINTS.geojson",
	Short: "Delineate watersheds for a GeoJSON point file",
	Long: `Delineate the watershed of every point in a GeoJSON FeatureCollection and
write one merged polygon per point to the configured store.

Examples:
  # Points in BC Albers with ids in the "station" property
  wsd delineate stations.geojson --id-field station --crs EPSG:3005

  # Read from stdin and print a JSON report
  cat stations.geojson | wsd delineate - --json`,
	Args: cobra.ExactArgs(1),
	RunE: runDelineate,
}

func runDelineate(cmd *cobra.Command, args []string) error {
	points, err := readPoints(cmd.InOrStdin(), args[0], vector.PointOptions{
		IDField:   delineateIDField,
		NameField: delineateNameField,
		CRS:       delineateCRS,
	})
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if delineateDir != "" {
		cfg.Store.Dir = delineateDir
	}

	rep, err := runBatch(cmd.Context(), cfg, pipeline.Batch{ID: delineateID, Points: points})
	if rep != nil {
		if werr := delineateOut.write(cmd.OutOrStdout(), rep); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

// readPoints loads a GeoJSON point file, or stdin for "-".
func readPoints(stdin io.Reader, path string, opts vector.PointOptions) ([]hydro.InputPoint, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open points: %w", err)
		}
		defer f.Close()
		r = f
	}
	points, err := vector.ReadPoints(r, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return points, nil
}

// runBatch wires the configured stages and runs b in-process.
func runBatch(ctx context.Context, cfg *config.Config, b pipeline.Batch, opts ...services.BuildOption) (*pipeline.Report, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = logger.Sync() }()

	opts = append([]services.BuildOption{services.WithUserAgent("wsd/" + version)}, opts...)
	reg, err := services.Build(ctx, cfg, logger, opts...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Warn("failed to close services", zap.Error(err))
		}
	}()

	return reg.Runner().Run(ctx, b)
}

// write prints rep and writes the optional references file.
func (o *outputFlags) write(w io.Writer, rep *pipeline.Report) error {
	if o.references != "" {
		f, err := os.Create(o.references)
		if err != nil {
			return fmt.Errorf("failed to create references file: %w", err)
		}
		err = vector.WriteReferences(f, rep.References(), rep.CRS)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("failed to write references: %w", err)
		}
	}
	if o.jsonOut {
		return report.WriteJSON(w, rep)
	}
	_, err := fmt.Fprintln(w, report.RenderText(rep))
	return err
}
