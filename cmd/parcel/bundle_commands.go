package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"parcel/internal/api"
	"parcel/internal/bundleaccess"
	"parcel/internal/delivery"
)

func newCreateCommand(ctx *commandContext) *cobra.Command {
	var (
		assetIDs  []string
		label     string
		id        string
		password  string
		expiresIn string
		expiresAt string
		output    string
	)

	cmd := &cobra.Command{
		Use:   "create --asset <id> [--asset <id>...]",
		Short: "Plan assets into a new bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := api.CreateBundleRequest{
				ID:        id,
				Label:     label,
				AssetIDs:  assetIDs,
				Password:  password,
				ExpiresIn: expiresIn,
				ExpiresAt: expiresAt,
			}
			return ctx.withSession(cmd, func(session bundleaccess.Session) error {
				created, err := session.Access.Create(cmd.Context(), req)
				if err != nil {
					return fmt.Errorf("create bundle: %w", err)
				}
				if done, err := writeStructured(cmd, output, created); done {
					return err
				}
				cfg, _ := ctx.ensureConfig()
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created bundle %s\n", created.ID)
				writeLines(out, []string{
					renderField("Label", orDash(created.Label)),
					renderField("Assets", strconv.Itoa(created.AssetCount)),
					renderField("Chunks", strconv.Itoa(created.TotalChunks)),
					renderField("Size", bytesText(created.TotalBytes)),
					renderField("Password", yesNo(created.PasswordProtected)),
					renderField("Expires", orDash(created.ExpiresAt)),
					renderField("Poll URL", pollURL(cfg.Storage.PublicBaseURL, created.ID)),
				})
				if !session.Remote {
					fmt.Fprintln(out, "Daemon not reachable; the bundle starts processing once parceld runs.")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVarP(&assetIDs, "asset", "a", nil, "Asset identifier to include (repeatable)")
	cmd.Flags().StringVar(&label, "label", "", "Human-readable label")
	cmd.Flags().StringVar(&id, "id", "", "Bundle identifier (generated when empty)")
	cmd.Flags().StringVar(&password, "password", "", "Password recipients must present")
	cmd.Flags().StringVar(&expiresIn, "expires-in", "", "Lifetime as a duration, e.g. 72h")
	cmd.Flags().StringVar(&expiresAt, "expires-at", "", "Absolute expiry in RFC3339")
	addOutputFlag(cmd, &output)
	_ = cmd.MarkFlagRequired("asset")
	return cmd
}

func pollURL(base, id string) string {
	return strings.TrimRight(base, "/") + "/d/" + url.PathEscape(id)
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var output string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List bundles",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withSession(cmd, func(session bundleaccess.Session) error {
				bundles, err := session.Access.List(cmd.Context(), statuses)
				if err != nil {
					return fmt.Errorf("list bundles: %w", err)
				}
				if done, err := writeStructured(cmd, output, api.BundleListResponse{Bundles: bundles}); done {
					return err
				}
				out := cmd.OutOrStdout()
				if len(bundles) == 0 {
					fmt.Fprintln(out, "No bundles")
					return nil
				}
				rows := make([][]string, 0, len(bundles))
				for _, b := range bundles {
					rows = append(rows, []string{
						b.ID,
						orDash(b.Label),
						bundleStatusText(b),
						progressText(b),
						bytesText(b.TotalBytes),
						timeText(b.CreatedAt),
						timeText(b.ExpiresAt),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Label", "Status", "Progress", "Size", "Created", "Expires"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by effective status (repeatable or comma-separated)")
	addOutputFlag(cmd, &output)
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show <bundle-id>",
		Short: "Show a bundle and its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(session bundleaccess.Session) error {
				detail, err := session.Access.Describe(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("describe bundle: %w", err)
				}
				if detail == nil {
					return fmt.Errorf("bundle %s not found", args[0])
				}
				if done, err := writeStructured(cmd, output, detail); done {
					return err
				}
				renderBundleDetail(cmd, *detail)
				return nil
			})
		},
	}

	addOutputFlag(cmd, &output)
	return cmd
}

func renderBundleDetail(cmd *cobra.Command, detail api.BundleDetail) {
	out := cmd.OutOrStdout()
	b := detail.Bundle
	fmt.Fprintf(out, "Bundle %s\n", b.ID)
	lines := []string{
		renderField("Label", orDash(b.Label)),
		renderField("Status", bundleStatusText(b)),
		renderField("Stored status", statusLabel(b.StoredStatus)),
		renderField("Progress", progressText(b)),
		renderField("Failed chunks", strconv.Itoa(b.FailedChunks)),
		renderField("Size", bytesText(b.TotalBytes)),
		renderField("Password", yesNo(b.PasswordProtected)),
		renderField("Created", orDash(b.CreatedAt)),
		renderField("Last progress", orDash(b.LastProgressAt)),
		renderField("Expires", orDash(b.ExpiresAt)),
	}
	if b.RevokedAt != "" {
		lines = append(lines, renderField("Revoked", b.RevokedAt+" "+b.RevokeReason))
	}
	if b.ArchiveURL != "" {
		lines = append(lines,
			renderField("Archive", b.ArchiveURL),
			renderField("Archive size", sizePtrText(b.ArchiveSizeBytes)),
			renderField("SHA-256", orDash(b.ArchiveChecksum)),
		)
	}
	if b.ErrorMessage != "" {
		lines = append(lines, renderField("Error", b.ErrorMessage))
	}
	writeLines(out, lines)

	if len(detail.Chunks) == 0 {
		return
	}
	rows := make([][]string, 0, len(detail.Chunks))
	for _, c := range detail.Chunks {
		rows = append(rows, []string{
			strconv.Itoa(c.Index),
			statusLabel(c.State),
			strconv.Itoa(len(c.AssetIDs)),
			bytesText(c.PlannedBytes),
			bytesText(c.BytesWritten),
			strconv.Itoa(c.Attempts),
			orDash(c.FailureReason),
		})
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderTable(
		[]string{"Chunk", "State", "Assets", "Planned", "Written", "Attempts", "Failure"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
	))
}

func newRevokeCommand(ctx *commandContext) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "revoke <bundle-id>",
		Short: "Revoke a bundle so it can no longer be downloaded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(session bundleaccess.Session) error {
				resp, err := session.Access.Revoke(cmd.Context(), args[0], reason)
				if err != nil {
					return fmt.Errorf("revoke bundle: %w", err)
				}
				out := cmd.OutOrStdout()
				if !resp.Changed {
					fmt.Fprintf(out, "Bundle %s was already revoked\n", resp.Bundle.ID)
					return nil
				}
				fmt.Fprintf(out, "Revoked bundle %s\n", resp.Bundle.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&reason, "reason", "r", "", "Reason recorded with the revocation")
	return cmd
}

func newPollCommand(ctx *commandContext) *cobra.Command {
	var password string
	var output string

	cmd := &cobra.Command{
		Use:   "poll <bundle-id>",
		Short: "Show what a recipient polling the bundle would see",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(session bundleaccess.Session) error {
				snap, err := session.Access.Poll(cmd.Context(), args[0], password)
				if err != nil {
					return fmt.Errorf("poll bundle: %w", err)
				}
				snap.SessionToken = ""
				if done, err := writeStructured(cmd, output, snap); done {
					return err
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				lines := []string{
					renderStatusLine("State", snapshotKind(snap), string(snap.State), colorize),
					renderField("Message", orDash(snap.Message)),
				}
				if snap.State == delivery.StateProcessing {
					lines = append(lines,
						renderField("Chunk", fmt.Sprintf("%d of %d", snap.ChunkIndex, snap.TotalChunks)),
						renderField("Progress", fmt.Sprintf("%d%%", snap.ProgressPercentage)),
						renderField("Stalled", yesNo(snap.IsStalled)),
						renderField("ETA", etaText(snap)),
					)
				}
				if snap.ArchiveURL != "" {
					lines = append(lines,
						renderField("Archive", snap.ArchiveURL),
						renderField("Size", sizePtrText(snap.ArchiveSizeBytes)),
					)
				}
				if snap.State != delivery.StateNotFound {
					lines = append(lines, renderField("Expires", expiryText(snap.ExpiresAt)))
				}
				writeLines(out, lines)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&password, "password", "p", "", "Password to present")
	addOutputFlag(cmd, &output)
	return cmd
}

func snapshotKind(snap delivery.Snapshot) statusKind {
	switch snap.State {
	case delivery.StateReady:
		return statusOK
	case delivery.StateProcessing:
		if snap.IsStalled {
			return statusWarn
		}
		return statusInfo
	case delivery.StateAccessDenied, delivery.StateExpired:
		return statusWarn
	default:
		return statusError
	}
}
