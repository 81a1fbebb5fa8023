package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"parcel/internal/api"
	"parcel/internal/bundle"
	"parcel/internal/bundleaccess"
	"parcel/internal/preflight"
	"parcel/internal/workflow"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon state and bundle counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := bundleaccess.NewClient(cfg.Paths.APIBind, cfg.Paths.APIToken)
			if err != nil {
				return fmt.Errorf("api client: %w", err)
			}

			status := api.DaemonStatus{
				DatabasePath: cfg.DatabasePath(),
				LockFilePath: cfg.LockPath(),
			}
			remote := false
			if client.Ping(cmd.Context()) == nil {
				if status, err = client.Status(cmd.Context()); err != nil {
					return fmt.Errorf("daemon status: %w", err)
				}
				remote = true
			} else {
				err := ctx.withSession(cmd, func(session bundleaccess.Session) error {
					counts, err := session.Access.Stats(cmd.Context())
					if err != nil {
						return err
					}
					status.Workflow.BundleStats = counts
					return nil
				})
				if err != nil {
					return fmt.Errorf("bundle stats: %w", err)
				}
			}

			if done, err := writeStructured(cmd, output, status); done {
				return err
			}
			renderDaemonStatus(cmd, status, remote, daemonRunning(cfg))
			return nil
		},
	}

	addOutputFlag(cmd, &output)
	return cmd
}

func renderDaemonStatus(cmd *cobra.Command, status api.DaemonStatus, remote, locked bool) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	lines := renderSectionHeader("Daemon", colorize)
	switch {
	case remote:
		lines = append(lines,
			renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", status.PID), colorize),
			renderField("API", status.APIBind),
		)
	case locked:
		lines = append(lines, renderStatusLine("Daemon", statusWarn, "running, admin API unreachable", colorize))
	default:
		lines = append(lines, renderStatusLine("Daemon", statusInfo, "not running", colorize))
	}
	lines = append(lines,
		renderField("Database", status.DatabasePath),
		renderField("Lock file", status.LockFilePath),
	)
	if remote {
		lines = append(lines, renderField("Active bundles", strconv.Itoa(len(status.Workflow.ActiveBundles))))
		if status.Workflow.LastError != "" {
			lines = append(lines, renderStatusLine("Last error", statusWarn,
				strings.TrimSpace(status.Workflow.LastBundleID+" "+status.Workflow.LastError), colorize))
		}
	}
	if len(status.Workflow.Health) > 0 {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Dependencies", colorize)...)
		for _, h := range status.Workflow.Health {
			kind := statusOK
			if !h.Ready {
				kind = statusError
			}
			lines = append(lines, renderStatusLine(h.Name, kind, h.Detail, colorize))
		}
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Bundles", colorize)...)
	lines = append(lines, bundleCountLines(status.Workflow.BundleStats)...)
	writeLines(out, lines)
}

func bundleCountLines(counts map[string]int) []string {
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return []string{statusIndent + "No bundles"}
	}
	lines := make([]string, 0, len(counts))
	seen := make(map[string]struct{}, len(counts))
	for _, status := range bundle.AllStatuses() {
		key := string(status)
		seen[key] = struct{}{}
		if n := counts[key]; n > 0 {
			lines = append(lines, renderField(statusLabel(key), strconv.Itoa(n)))
		}
	}
	var extra []string
	for key, n := range counts {
		if _, ok := seen[key]; !ok && n > 0 {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		lines = append(lines, renderField(statusLabel(key), strconv.Itoa(counts[key])))
	}
	return lines
}

func newSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail bundles that exceeded the processing ceiling",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withLocal(cmd, func(local *localResources) error {
				ids, err := workflow.NewSweeper(local.cfg, local.workflowDeps()).Sweep(cmd.Context())
				if err != nil {
					return fmt.Errorf("sweep: %w", err)
				}
				out := cmd.OutOrStdout()
				if len(ids) == 0 {
					fmt.Fprintln(out, "No bundles timed out")
					return nil
				}
				fmt.Fprintf(out, "Timed out %d bundles\n", len(ids))
				for _, id := range ids {
					fmt.Fprintf(out, "%s%s\n", statusIndent, id)
				}
				return nil
			})
		},
	}
}

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify directories, buckets, and optional services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			rows := make([][]string, 0, len(results))
			for _, r := range results {
				verdict := "pass"
				if !r.Passed {
					verdict = "FAIL"
				}
				rows = append(rows, []string{r.Name, verdict, r.Detail})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Check", "Result", "Detail"}, rows, nil))
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d of %d checks failed", len(failed), len(results))
			}
			return nil
		},
	}
}
