package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rohmanhakim/gravity-worker/internal/control"
	"github.com/rohmanhakim/gravity-worker/internal/metadata"
	"github.com/rohmanhakim/gravity-worker/internal/worker"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the worker's caches",
}

var cacheSizeCmd = &cobra.Command{
	Use:   "size",
	Short: "Print the stored size of every cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := InitConfigWithError()
		if err != nil {
			return err
		}
		storage, err := worker.OpenStorage(ctx, cfg)
		if err != nil {
			return err
		}
		defer storage.Close()

		names, err := storage.Keys(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		var total int64
		for _, name := range names {
			cache, err := storage.Open(ctx, name)
			if err != nil {
				return err
			}
			size, err := cache.Size(ctx)
			if err != nil {
				return err
			}
			total += size
			fmt.Fprintf(out, "%s\t%s\n", name, humanize.Bytes(uint64(size)))
		}
		fmt.Fprintf(out, "total\t%s (%d bytes)\n", humanize.Bytes(uint64(total)), total)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := InitConfigWithError()
		if err != nil {
			return err
		}
		storage, err := worker.OpenStorage(ctx, cfg)
		if err != nil {
			return err
		}
		defer storage.Close()

		recorder := metadata.NewRecorder(newLogger(cfg, cmd.ErrOrStderr()), "cli")
		if err := control.NewChannel(storage, nil, recorder).ClearAll(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "caches cleared")
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheSizeCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
