package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SandiRizqi/terestria-sub000/internal/application"
	"github.com/SandiRizqi/terestria-sub000/internal/domain"
)

var downloadCmd = &cobra.Command{
	Use:   "download <basemap>",
	Short: "Download an area of a remote basemap for offline use",
	Long: `Download fetches every tile of an area and zoom range into the tile
store. Tiles already stored are skipped. Interrupt with Ctrl-C to stop after
the current batch; downloaded tiles are kept.

An unknown basemap is registered when --url-template is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

func init() {
	addDownloadFlags(downloadCmd)
	_ = downloadCmd.MarkFlagRequired("max-zoom")
}

func addDownloadFlags(cmd *cobra.Command) {
	cmd.Flags().String("bbox", "", "area as min_lon,min_lat,max_lon,max_lat (default: basemap bounds)")
	cmd.Flags().Int("min-zoom", 0, "lowest zoom level")
	cmd.Flags().Int("max-zoom", 0, "highest zoom level")
	cmd.Flags().String("url-template", "", "tile URL template; registers the basemap when it is unknown")
	cmd.Flags().Bool("estimate", false, "only print the estimated tile count and size")
}

func runDownload(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	req, err := downloadRequest(ctx, cmd, a.Registry, args[0])
	if err != nil {
		return err
	}

	if estimate, _ := cmd.Flags().GetBool("estimate"); estimate {
		est, err := a.Offline.EstimateSize(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d tiles, about %s (%d sampled, %s per tile)\n",
			est.TileCount, formatBytes(est.TotalBytes), est.Sampled, formatBytes(est.AverageTileBytes))
		return nil
	}

	bar := newBar(req.BasemapID)
	res, err := a.Offline.Download(ctx, req, func(fraction float64, message string) {
		if fraction < 0 {
			return
		}
		bar.Describe(fmt.Sprintf("%-16s %s", req.BasemapID, message))
		_ = bar.Set(int(fraction * barMax))
	})
	_ = bar.Finish()

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d tiles, %d downloaded, %d already stored, %d failed\n",
		req.BasemapID, res.Total, res.Downloaded, res.Cached, res.Failed)
	if errors.Is(err, domain.ErrCancelled) {
		fmt.Fprintln(cmd.ErrOrStderr(), "interrupted")
		return nil
	}
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d tiles failed", res.Failed)
	}
	return nil
}

// basemapRegistrar looks up and registers basemaps.
type basemapRegistrar interface {
	Get(ctx context.Context, id string) (domain.Basemap, error)
	Register(ctx context.Context, req application.RegisterRequest) (domain.Basemap, error)
}

func downloadRequest(ctx context.Context, cmd *cobra.Command, registry basemapRegistrar, id string) (application.OfflineAreaRequest, error) {
	template, _ := cmd.Flags().GetString("url-template")
	bbox, _ := cmd.Flags().GetString("bbox")
	minZoom, _ := cmd.Flags().GetInt("min-zoom")
	maxZoom, _ := cmd.Flags().GetInt("max-zoom")

	var bounds *domain.GeoBounds
	if bbox != "" {
		b, err := domain.ParseBBox(bbox)
		if err != nil {
			return application.OfflineAreaRequest{}, err
		}
		bounds = &b
	}

	b, err := registry.Get(ctx, id)
	switch {
	case errors.Is(err, domain.ErrBasemapNotFound) && template != "":
		b, err = registry.Register(ctx, application.RegisterRequest{ID: id, URLTemplate: template, Bounds: bounds})
		if err != nil {
			return application.OfflineAreaRequest{}, err
		}
	case err != nil:
		return application.OfflineAreaRequest{}, err
	case !b.IsRemote():
		return application.OfflineAreaRequest{}, fmt.Errorf("%s is a PDF basemap; its tiles are already local", id)
	}

	template, err = b.DownloadTemplate(template)
	if err != nil {
		return application.OfflineAreaRequest{}, err
	}

	req := application.OfflineAreaRequest{
		BasemapID:   id,
		URLTemplate: template,
		MinZoom:     minZoom,
		MaxZoom:     maxZoom,
	}
	switch {
	case bounds != nil:
		req.Bounds = *bounds
	case b.Bounds != nil:
		req.Bounds = *b.Bounds
	default:
		return application.OfflineAreaRequest{}, fmt.Errorf("%s has no bounds; pass --bbox", id)
	}
	return req, req.Validate()
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
