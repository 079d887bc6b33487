package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/eargollo/assetindex/internal/dedup"
	"github.com/eargollo/assetindex/internal/scan"
)

func newDedupeCommand(ctx *commandContext) *cobra.Command {
	var all bool
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "dedupe [fingerprint...]",
		Short: "Delete every copy but the oldest in duplicate groups",
		Long: `Delete redundant copies. The oldest member of each group is kept.

Fingerprints may be abbreviated to any unique prefix. Deleted files go to
the trash folder and can be restored until the retention period ends.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errors.New("pass one or more fingerprints or --all")
			}

			a, err := ctx.openApp()
			if err != nil {
				return err
			}
			defer a.close()

			groups := a.manager.Groups()
			targets := groups
			if !all {
				targets, err = resolveGroups(groups, args)
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if dryRun {
				writePlan(out, targets)
				return nil
			}

			var failed int
			for _, g := range targets {
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				res, err := a.manager.DeleteDuplicates(cmd.Context(), g)
				var partial *scan.PartialDeleteError
				switch {
				case err == nil:
				case errors.Is(err, scan.ErrNoAssetsFound), errors.As(err, &partial):
					failed += len(res.Failed)
				default:
					return err
				}
				for _, id := range res.Deleted {
					fmt.Fprintf(out, "deleted  %s\n", id)
				}
				for _, id := range res.Failed {
					fmt.Fprintf(out, "failed   %s\n", id)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d files could not be deleted", failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Deduplicate every group")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would be deleted without deleting")
	return cmd
}

// resolveGroups maps each argument to exactly one group by fingerprint
// prefix.
func resolveGroups(groups []dedup.Group, prefixes []string) ([]dedup.Group, error) {
	var out []dedup.Group
	seen := make(map[string]bool)
	for _, p := range prefixes {
		p = strings.ToLower(strings.TrimSpace(p))
		var match *dedup.Group
		for i := range groups {
			if !strings.HasPrefix(groups[i].Fingerprint, p) {
				continue
			}
			if match != nil {
				return nil, fmt.Errorf("fingerprint prefix %q is ambiguous", p)
			}
			match = &groups[i]
		}
		if match == nil || p == "" {
			return nil, fmt.Errorf("%w: %q", scan.ErrGroupNotFound, p)
		}
		if !seen[match.Fingerprint] {
			seen[match.Fingerprint] = true
			out = append(out, *match)
		}
	}
	return out, nil
}

func writePlan(w io.Writer, groups []dedup.Group) {
	var reclaim int64
	for _, g := range groups {
		fmt.Fprintf(w, "%s\n  keep    %s\n", g.Fingerprint, g.Keep().ID)
		for _, r := range g.Redundant() {
			fmt.Fprintf(w, "  delete  %s\n", r.ID)
		}
		reclaim += g.ReclaimableBytes()
	}
	fmt.Fprintf(w, "would reclaim %s\n", humanize.IBytes(uint64(reclaim)))
}
