package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"parcel/internal/staging"
)

func newStagingCommand(ctx *commandContext) *cobra.Command {
	stagingCmd := &cobra.Command{
		Use:   "staging",
		Short: "Inspect and reclaim staged chunk segments",
	}
	stagingCmd.AddCommand(newStagingListCommand(ctx))
	stagingCmd.AddCommand(newStagingCleanCommand(ctx))
	return stagingCmd
}

func newStagingListCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List staged segments per bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withLocal(cmd, func(local *localResources) error {
				active, err := local.store.ActiveIDs(cmd.Context())
				if err != nil {
					return fmt.Errorf("active bundles: %w", err)
				}
				entries, err := staging.List(cmd.Context(), local.archiver, active)
				if err != nil {
					return fmt.Errorf("list staging: %w", err)
				}
				if done, err := writeStructured(cmd, output, entries); done {
					return err
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "Staging is empty")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					newest := "-"
					if !e.Newest.IsZero() {
						newest = humanize.Time(e.Newest)
					}
					rows = append(rows, []string{e.BundleID, strconv.Itoa(e.Segments), bytesText(e.Bytes), newest, yesNo(e.Active)})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Bundle", "Segments", "Size", "Newest", "Active"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	addOutputFlag(cmd, &output)
	return cmd
}

func newStagingCleanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Release staged segments of bundles that are no longer processing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if daemonRunning(cfg) {
				return errors.New("daemon is running; stop it first (parceld cleans staging at startup)")
			}
			return ctx.withLocal(cmd, func(local *localResources) error {
				active, err := local.store.ActiveIDs(cmd.Context())
				if err != nil {
					return fmt.Errorf("active bundles: %w", err)
				}
				result, err := staging.CleanOrphaned(cmd.Context(), local.archiver, active, local.logger)
				if err != nil {
					return fmt.Errorf("clean staging: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Released staging for %d bundles\n", len(result.Removed))
				for _, failure := range result.Errors {
					fmt.Fprintf(out, "%s%s: %v\n", statusIndent, failure.BundleID, failure.Error)
				}
				if len(result.Errors) > 0 {
					return fmt.Errorf("%d bundles could not be released", len(result.Errors))
				}
				return nil
			})
		},
	}
}
