package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newTrashCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trash",
		Short: "Inspect and manage deleted duplicates",
	}
	cmd.AddCommand(newTrashListCommand(ctx))
	cmd.AddCommand(newTrashRestoreCommand(ctx))
	cmd.AddCommand(newTrashPurgeCommand(ctx))
	return cmd
}

func newTrashListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List files in the trash",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.openApp()
			if err != nil {
				return err
			}
			defer a.close()

			items, total, err := a.trash.List(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if total == 0 {
				fmt.Fprintln(out, "Trash is empty.")
				return nil
			}
			rows := make([][]string, 0, len(items))
			for _, it := range items {
				rows = append(rows, []string{
					strconv.FormatInt(it.ID, 10),
					it.OriginalPath,
					humanize.IBytes(uint64(it.FileSize)),
					humanize.Time(it.TrashedAt),
					it.ExpiresAt.Format(time.DateOnly),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Original path", "Size", "Trashed", "Expires"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft},
			))
			if total > len(items) {
				fmt.Fprintf(out, "showing %d of %d\n", len(items), total)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of items to show")
	return cmd
}

func newTrashRestoreCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <id>...",
		Short: "Move trashed files back to their original location",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid trash id %q", arg)
				}
				ids = append(ids, id)
			}

			a, err := ctx.openApp()
			if err != nil {
				return err
			}
			defer a.close()

			var errs []error
			for _, id := range ids {
				if err := a.trash.Restore(cmd.Context(), id); err != nil {
					errs = append(errs, fmt.Errorf("restore %d: %w", id, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "restored %d\n", id)
			}
			return errors.Join(errs...)
		},
	}
}

func newTrashPurgeCommand(ctx *commandContext) *cobra.Command {
	var expiredOnly bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Permanently delete trashed files",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.openApp()
			if err != nil {
				return err
			}
			defer a.close()

			if expiredOnly {
				return a.trash.AutoPurge(cmd.Context())
			}
			count, freed, err := a.trash.PurgeAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d files, freed %s\n", count, humanize.IBytes(uint64(freed)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&expiredOnly, "expired", false, "Only purge items past the retention period")
	return cmd
}
