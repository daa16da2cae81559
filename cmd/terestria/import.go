package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/SandiRizqi/terestria-sub000/internal/application"
	"github.com/SandiRizqi/terestria-sub000/internal/domain"
)

var importCmd = &cobra.Command{
	Use:   "import <pdf> [pdf...]",
	Short: "Import georeferenced PDF maps",
	Long: `Import rasterizes georeferenced PDFs into tile stores.

Each argument is a local path, or an object storage key when storage is
configured. The basemap ID defaults to the file name without extension.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().String("id", "", "basemap ID (single PDF only)")
	importCmd.Flags().String("name", "", "display name (single PDF only)")
	importCmd.Flags().Int("min-zoom", -1, "override the lowest generated zoom")
	importCmd.Flags().Int("max-zoom", -1, "override the highest generated zoom")
}

func runImport(cmd *cobra.Command, args []string) error {
	id, _ := cmd.Flags().GetString("id")
	name, _ := cmd.Flags().GetString("name")
	if len(args) > 1 && (id != "" || name != "") {
		return fmt.Errorf("--id and --name need a single PDF")
	}

	opts := application.ImportOptions{Name: name}
	if z, _ := cmd.Flags().GetInt("min-zoom"); z >= 0 {
		opts.MinZoom = &z
	}
	if z, _ := cmd.Flags().GetInt("max-zoom"); z >= 0 {
		opts.MaxZoom = &z
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	failed := 0
	for _, source := range args {
		basemapID := id
		if basemapID == "" {
			basemapID = application.DeriveBasemapID(source)
		}

		bar := newBar(basemapID)
		opts.Progress = func(fraction float64, message string) {
			if fraction < 0 {
				return
			}
			bar.Describe(fmt.Sprintf("%-16s %s", basemapID, message))
			_ = bar.Set(int(fraction * barMax))
		}

		if _, err := a.Registry.Import(cmd.Context(), basemapID, source, opts); err != nil {
			_ = bar.Clear()
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", basemapID, err)
			failed++
			continue
		}
		a.Registry.Wait()
		_ = bar.Finish()

		b, err := a.Registry.Get(cmd.Context(), basemapID)
		if err != nil {
			return err
		}
		if b.Status != domain.StatusReady {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: import failed: %s\n", basemapID, b.Message)
			failed++
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d tiles", basemapID, b.TileCount)
		if b.Zooms != nil {
			fmt.Fprintf(cmd.OutOrStdout(), ", zoom %d-%d", b.Zooms.MinZoom, b.Zooms.MaxZoom)
		}
		fmt.Fprintln(cmd.OutOrStdout())
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d imports failed", failed, len(args))
	}
	return nil
}

const barMax = 1000

func newBar(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(barMax,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)
}
