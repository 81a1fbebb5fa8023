package api

import (
	"time"

	"parcel/internal/bundle"
	"parcel/internal/delivery"
	"parcel/internal/progress"
	"parcel/internal/workflow"
)

// ViewOptions carries the settings conversions need.
type ViewOptions struct {
	PublicBaseURL  string
	StallThreshold time.Duration
	Now            time.Time
}

// FromRequest converts a bundle record to its API representation.
func FromRequest(req *bundle.Request, opts ViewOptions) Bundle {
	if req == nil {
		return Bundle{}
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	dto := Bundle{
		ID:                 req.ID,
		Label:              req.Label,
		Status:             string(req.EffectiveStatus(now)),
		StoredStatus:       string(req.Status),
		AssetCount:         len(req.AssetIDs),
		TotalChunks:        req.TotalChunks,
		CompletedChunks:    req.CompletedChunks,
		FailedChunks:       req.FailedChunks,
		TotalBytes:         req.TotalBytes,
		ProgressPercentage: progress.Percentage(req),
		IsStalled:          progress.IsStalled(req, now, opts.StallThreshold),
		PasswordProtected:  req.RequiresPassword(),
		CreatedAt:          formatTime(req.CreatedAt),
		UpdatedAt:          formatTime(req.UpdatedAt),
		StartedAt:          formatTimePtr(req.StartedAt),
		LastProgressAt:     formatTime(req.LastProgressAt),
		ExpiresAt:          formatTimePtr(req.ExpiresAt),
		RevokedAt:          formatTimePtr(req.RevokedAt),
		RevokeReason:       req.RevokeReason,
		ArchiveSizeBytes:   req.ArchiveSizeBytes,
		ArchiveChecksum:    req.ArchiveChecksum,
		ErrorMessage:       req.ErrorMessage,
	}
	if req.Status == bundle.StatusReady && req.ResultLocation != "" {
		dto.ArchiveURL = delivery.ArchiveURL(opts.PublicBaseURL, req.ID)
	}
	return dto
}

// FromRequests converts a slice of bundle records into API DTOs.
func FromRequests(reqs []*bundle.Request, opts ViewOptions) []Bundle {
	out := make([]Bundle, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, FromRequest(req, opts))
	}
	return out
}

// FromChunks converts chunk rows.
func FromChunks(chunks []bundle.Chunk) []Chunk {
	out := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, Chunk{
			Index:         c.Index,
			State:         string(c.State),
			AssetIDs:      append([]string(nil), c.AssetIDs...),
			PlannedBytes:  c.PlannedBytes,
			BytesWritten:  c.BytesWritten,
			Attempts:      c.Attempts,
			FailureReason: c.FailureReason,
			SettledAt:     formatTimePtr(c.SettledAt),
		})
	}
	return out
}

// MergeBundleStats renders per-status counts with every known status present.
func MergeBundleStats(stats map[bundle.Status]int) map[string]int {
	out := make(map[string]int, len(stats))
	for _, status := range bundle.AllStatuses() {
		if status == bundle.StatusExpired {
			continue
		}
		out[string(status)] = 0
	}
	for status, count := range stats {
		out[string(status)] += count
	}
	return out
}

// FromStatusSummary converts workflow diagnostics.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	health := make([]ComponentHealth, 0, len(summary.Health))
	for _, h := range summary.Health {
		health = append(health, ComponentHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	active := summary.ActiveBundles
	if active == nil {
		active = []string{}
	}
	return WorkflowStatus{
		Running:       summary.Running,
		ActiveBundles: active,
		BundleStats:   MergeBundleStats(summary.BundleStats),
		LastError:     summary.LastError,
		LastBundleID:  summary.LastBundleID,
		Health:        health,
	}
}

// ParseTime parses an API timestamp. It returns the zero time on failure.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
