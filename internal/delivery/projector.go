// Package delivery projects a bundle and an access decision onto the small
// set of states a delivery surface shows, and serves the polling contract.
package delivery

import (
	"math"
	"net/url"
	"time"

	"parcel/internal/access"
	"parcel/internal/bundle"
	"parcel/internal/progress"
)

// State is the externally visible delivery state.
type State string

const (
	StateProcessing   State = "Processing"
	StateReady        State = "Ready"
	StateNotFound     State = "NotFound"
	StateExpired      State = "Expired"
	StateRevoked      State = "Revoked"
	StateAccessDenied State = "AccessDenied"
	StateFailed       State = "Failed"
)

// Fixed messages. None of them mentions internal detail.
const (
	MessageProcessing   = "Your download is being prepared."
	MessageStalled      = "Preparing your download is taking longer than usual. It will keep going in the background."
	MessageReady        = "Your download is ready."
	MessageNotFound     = "This download link is not valid."
	MessageExpired      = "This download link has expired."
	MessageRevoked      = "This download link has been revoked."
	MessageAccessDenied = "Enter the password to access this download."
	MessageFailed       = "This download could not be prepared. Please request a new link."
)

// IsTerminal reports whether a link in this state can never change again.
func (s State) IsTerminal() bool {
	switch s {
	case StateReady, StateNotFound, StateExpired, StateRevoked, StateFailed:
		return true
	}
	return false
}

// Snapshot is one immutable poll response.
type Snapshot struct {
	State              State      `json:"state"`
	Message            string     `json:"message"`
	ChunkIndex         int        `json:"chunkIndex"`
	TotalChunks        int        `json:"totalChunks"`
	ProgressPercentage int        `json:"progressPercentage"`
	IsStalled          bool       `json:"isStalled"`
	EtaMinutesMin      int        `json:"etaMinutesMin"`
	EtaMinutesMax      int        `json:"etaMinutesMax"`
	ArchiveURL         string     `json:"archiveUrl,omitempty"`
	ArchiveSizeBytes   *int64     `json:"archiveSizeBytes,omitempty"`
	ExpiresAt          *time.Time `json:"expiresAt,omitempty"`
	SessionToken       string     `json:"sessionToken,omitempty"`
}

// Options carries the projection settings.
type Options struct {
	PublicBaseURL  string
	StallThreshold time.Duration
}

// ArchiveURL is the public download location of a ready bundle.
func ArchiveURL(base, bundleID string) string {
	return base + "/d/" + url.PathEscape(bundleID) + "/archive"
}

// Project maps a bundle and gate decision to a Snapshot. It is pure.
func Project(req *bundle.Request, decision access.Decision, now time.Time, opts Options) Snapshot {
	switch decision.Outcome {
	case access.NotFound:
		return Snapshot{State: StateNotFound, Message: MessageNotFound}
	case access.Revoked:
		return Snapshot{State: StateRevoked, Message: MessageRevoked}
	case access.Expired:
		return Snapshot{State: StateExpired, Message: MessageExpired}
	case access.AccessDenied:
		return Snapshot{State: StateAccessDenied, Message: MessageAccessDenied}
	}
	if req == nil {
		return Snapshot{State: StateNotFound, Message: MessageNotFound}
	}

	snap := Snapshot{
		TotalChunks:  req.TotalChunks,
		SessionToken: decision.SessionToken,
	}
	if req.ExpiresAt != nil {
		at := req.ExpiresAt.UTC()
		snap.ExpiresAt = &at
	}

	switch req.Status {
	case bundle.StatusReady:
		snap.State = StateReady
		snap.Message = MessageReady
		snap.ChunkIndex = req.TotalChunks
		snap.ProgressPercentage = 100
		snap.ArchiveURL = ArchiveURL(opts.PublicBaseURL, req.ID)
		if req.ArchiveSizeBytes != nil {
			size := *req.ArchiveSizeBytes
			snap.ArchiveSizeBytes = &size
		}
	case bundle.StatusFailed:
		snap.State = StateFailed
		snap.Message = MessageFailed
		snap.ProgressPercentage = roundPercent(req)
	case bundle.StatusRevoked:
		return Snapshot{State: StateRevoked, Message: MessageRevoked}
	default:
		snap.State = StateProcessing
		snap.Message = MessageProcessing
		snap.ChunkIndex = min(req.CompletedChunks+1, req.TotalChunks)
		snap.ProgressPercentage = roundPercent(req)
		snap.IsStalled = progress.IsStalled(req, now, opts.StallThreshold)
		if snap.IsStalled {
			snap.Message = MessageStalled
		}
		eta := progress.EstimateETA(req, now)
		snap.EtaMinutesMin = eta.MinMinutes
		snap.EtaMinutesMax = eta.MaxMinutes
	}
	return snap
}

func roundPercent(req *bundle.Request) int {
	return int(math.Round(progress.Percentage(req)))
}
