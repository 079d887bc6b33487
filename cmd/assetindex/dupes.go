package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/eargollo/assetindex/internal/dedup"
)

type dupeGroup struct {
	Fingerprint      string   `json:"fingerprint"`
	FileSize         int64    `json:"file_size"`
	ReclaimableBytes int64    `json:"reclaimable_bytes"`
	Keep             string   `json:"keep"`
	Remove           []string `json:"remove"`
}

type dupesReport struct {
	Totals dedup.Totals `json:"totals"`
	Groups []dupeGroup  `json:"groups"`
}

func newDupesCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var verbose bool

	cmd := &cobra.Command{
		Use:   "dupes",
		Short: "List duplicate groups from the last scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.openApp()
			if err != nil {
				return err
			}
			defer a.close()

			groups := a.manager.Groups()
			report := buildDupesReport(groups)
			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			writeDupes(cmd.OutOrStdout(), report, verbose)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the report as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "List every member of every group")
	return cmd
}

func buildDupesReport(groups []dedup.Group) dupesReport {
	report := dupesReport{
		Totals: dedup.Summarize(groups),
		Groups: make([]dupeGroup, 0, len(groups)),
	}
	for _, g := range groups {
		dg := dupeGroup{
			Fingerprint:      g.Fingerprint,
			FileSize:         g.Keep().FileSize,
			ReclaimableBytes: g.ReclaimableBytes(),
			Keep:             g.Keep().ID,
			Remove:           make([]string, 0, len(g.Members)-1),
		}
		for _, r := range g.Redundant() {
			dg.Remove = append(dg.Remove, r.ID)
		}
		report.Groups = append(report.Groups, dg)
	}
	return report
}

func writeDupes(w io.Writer, report dupesReport, verbose bool) {
	if len(report.Groups) == 0 {
		fmt.Fprintln(w, "No duplicates found.")
		return
	}

	rows := make([][]string, 0, len(report.Groups))
	for _, g := range report.Groups {
		rows = append(rows, []string{
			shortFingerprint(g.Fingerprint),
			strconv.Itoa(len(g.Remove) + 1),
			humanize.IBytes(uint64(g.FileSize)),
			humanize.IBytes(uint64(g.ReclaimableBytes)),
			g.Keep,
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Fingerprint", "Copies", "Size", "Reclaimable", "Keep"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft},
	))

	if verbose {
		for _, g := range report.Groups {
			fmt.Fprintf(w, "\n%s\n  keep    %s\n", g.Fingerprint, g.Keep)
			for _, id := range g.Remove {
				fmt.Fprintf(w, "  remove  %s\n", id)
			}
		}
	}

	fmt.Fprintf(w, "%s groups, %s redundant files, %s reclaimable\n",
		humanize.Comma(report.Totals.Groups),
		humanize.Comma(report.Totals.Records-report.Totals.Groups),
		humanize.IBytes(uint64(report.Totals.ReclaimableBytes)))
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
