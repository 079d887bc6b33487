package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/eargollo/assetindex/internal/api/handlers"
	"github.com/eargollo/assetindex/internal/dedup"
	"github.com/eargollo/assetindex/internal/scan"
)

// progressEvery throttles progress lines within one phase.
const progressEvery = time.Second

func newScanCommand(ctx *commandContext) *cobra.Command {
	var allowNetwork bool
	var quiet bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Index the library and fingerprint duplicate candidates",
		Long: `Run one scan in the foreground.

The metadata phase indexes every asset; the fingerprint phase hashes only
local assets whose dimensions and size bucket match another asset. Interrupting the
command cancels the scan after the current item and keeps its progress.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.openApp()
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.requireLibrary(); err != nil {
				return err
			}
			if cmd.Flags().Changed("allow-network") {
				a.cfg.Scan.AllowNetwork = allowNetwork
				a.manager.UpdateConfig(handlers.ScanConfig(a.cfg))
			}

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)

			if _, err := a.manager.Start(cmd.Context(), "cli"); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			done := make(chan struct{})
			go func() {
				a.manager.Wait()
				close(done)
			}()

			var lastPrinted time.Time
			var lastPhase scan.Phase
		loop:
			for {
				select {
				case <-sigs:
					fmt.Fprintln(cmd.ErrOrStderr(), "cancelling scan...")
					if _, err := a.manager.Cancel(); err != nil && !errors.Is(err, scan.ErrNoActiveScan) {
						return err
					}
				case snap := <-a.manager.Updates():
					if quiet || (snap.Phase == lastPhase && time.Since(lastPrinted) < progressEvery) {
						continue
					}
					printProgress(cmd.ErrOrStderr(), snap)
					lastPrinted, lastPhase = time.Now(), snap.Phase
				case <-done:
					break loop
				}
			}

			last := a.manager.LastRun()
			if last == nil {
				return errors.New("scan finished without a summary")
			}
			printSummary(out, last, a.manager.Groups())
			if last.Outcome == scan.OutcomeFailed {
				return fmt.Errorf("scan failed: %s", last.Error)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&allowNetwork, "allow-network", false, "Download cloud-only assets to fingerprint them")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print progress")
	return cmd
}

func printProgress(w io.Writer, s scan.Snapshot) {
	if s.Phase == scan.PhaseNone {
		return
	}
	fmt.Fprintf(w, "%-11s %s/%s (%.0f%%) fingerprinted=%s errors=%d\n",
		s.Phase,
		humanize.Comma(s.Scanned),
		humanize.Comma(s.Total),
		s.Fraction*100,
		humanize.Comma(s.Fingerprinted),
		s.Errors)
}

func printSummary(w io.Writer, last *scan.RunSummary, groups []dedup.Group) {
	totals := dedup.Summarize(groups)
	fmt.Fprintf(w, "Scan %s in %s\n", last.Outcome, last.FinishedAt.Sub(last.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "  assets:        %s (%s remote)\n", humanize.Comma(last.Progress.Metadata), humanize.Comma(last.Progress.Remote))
	fmt.Fprintf(w, "  candidates:    %s (%s newly fingerprinted)\n", humanize.Comma(last.Progress.Candidates), humanize.Comma(last.Progress.Fingerprinted))
	fmt.Fprintf(w, "  errors:        %d\n", last.Progress.Errors)
	fmt.Fprintf(w, "  duplicates:    %s groups, %s files\n", humanize.Comma(totals.Groups), humanize.Comma(totals.Records))
	fmt.Fprintf(w, "  reclaimable:   %s\n", humanize.IBytes(uint64(totals.ReclaimableBytes)))
}
