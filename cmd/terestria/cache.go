package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/SandiRizqi/terestria-sub000/internal/domain"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain tile stores",
}

var cacheInfoCmd = &cobra.Command{
	Use:   "info [basemap...]",
	Short: "Show stored tiles per basemap",
	RunE:  runCacheInfo,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear <basemap>",
	Short: "Remove every stored tile of a basemap",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheClear,
}

var cacheEvictCmd = &cobra.Command{
	Use:   "evict [basemap...]",
	Short: "Remove tiles not accessed recently",
	Long: `Evict removes tiles not accessed within --older-than. Without arguments
it evicts from every remote basemap; PDF basemaps are skipped because their
tiles cannot be downloaded again.`,
	RunE: runCacheEvict,
}

func init() {
	cacheEvictCmd.Flags().String("older-than", "30d", "age such as 72h or 30d")
	cacheCmd.AddCommand(cacheInfoCmd, cacheClearCmd, cacheEvictCmd)
}

func runCacheInfo(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ids := args
	if len(ids) == 0 {
		basemaps, err := a.Registry.List(cmd.Context())
		if err != nil {
			return err
		}
		for _, b := range basemaps {
			ids = append(ids, b.ID)
		}
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BASEMAP\tKIND\tSTATUS\tTILES\tSIZE\tLAST MODIFIED")
	for _, id := range ids {
		b, err := a.Registry.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		info, err := a.Tiles.CacheInfo(cmd.Context(), id)
		if err != nil {
			return err
		}
		modified := "-"
		if !info.LastModified.IsZero() {
			modified = info.LastModified.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			b.ID, b.Kind, b.Status, info.TileCount, formatBytes(info.SizeInBytes), modified)
	}
	return tw.Flush()
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.Tiles.ClearCache(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: removed %d tiles\n", args[0], n)
	return nil
}

func runCacheEvict(cmd *cobra.Command, args []string) error {
	olderThan, _ := cmd.Flags().GetString("older-than")
	age, err := domain.ParseAge(olderThan)
	if err != nil {
		return err
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 0 {
		n, err := a.EvictStale(cmd.Context(), age)
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d tiles older than %s\n", n, age)
		return err
	}

	for _, id := range args {
		n, err := a.Tiles.EvictOlderThan(cmd.Context(), id, age)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: removed %d tiles older than %s\n", id, n, age)
	}
	return nil
}
