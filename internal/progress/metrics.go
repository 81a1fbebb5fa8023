package progress

import (
	"math"
	"time"

	"parcel/internal/bundle"
)

// Percentage is completed/total*100. It is display only.
func Percentage(req *bundle.Request) float64 {
	if req == nil || req.TotalChunks <= 0 {
		return 0
	}
	return float64(req.CompletedChunks) / float64(req.TotalChunks) * 100
}

// IsStalled reports whether a chunking or assembling bundle has gone longer
// than threshold without progress. It never changes the bundle's status.
func IsStalled(req *bundle.Request, now time.Time, threshold time.Duration) bool {
	if req == nil || threshold <= 0 {
		return false
	}
	if req.Status != bundle.StatusChunking && req.Status != bundle.StatusAssembling {
		return false
	}
	return now.Sub(req.LastProgressAt) > threshold
}

// ETA is an estimated remaining time band in whole minutes.
type ETA struct {
	MinMinutes int
	MaxMinutes int
}

// etaBand widens the point estimate to either side.
const etaBand = 0.25

// EstimateETA projects the remaining time from the average chunk duration
// observed since the bundle started. It returns zeros until a chunk completes
// and once nothing remains.
func EstimateETA(req *bundle.Request, now time.Time) ETA {
	if req == nil || req.StartedAt == nil || req.CompletedChunks <= 0 {
		return ETA{}
	}
	if !req.IsProcessing() {
		return ETA{}
	}
	remaining := req.TotalChunks - req.CompletedChunks
	if remaining <= 0 {
		return ETA{}
	}
	elapsed := req.LastProgressAt.Sub(*req.StartedAt)
	if elapsed <= 0 {
		elapsed = now.Sub(*req.StartedAt)
	}
	if elapsed <= 0 {
		return ETA{}
	}
	perChunk := elapsed.Minutes() / float64(req.CompletedChunks)
	estimate := perChunk * float64(remaining)
	return ETA{
		MinMinutes: int(math.Floor(estimate * (1 - etaBand))),
		MaxMinutes: int(math.Ceil(estimate * (1 + etaBand))),
	}
}
