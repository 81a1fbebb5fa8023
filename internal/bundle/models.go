package bundle

import (
	"strings"
	"time"
)

// Status represents the stored lifecycle of a bundle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusChunking   Status = "chunking"
	StatusAssembling Status = "assembling"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
	StatusRevoked    Status = "revoked"
	// StatusExpired is derived from ExpiresAt and never persisted.
	StatusExpired Status = "expired"
)

// TimeoutReason is recorded on bundles failed by the supervisory sweep.
const TimeoutReason = "no progress within the hard ceiling"

var allStatuses = []Status{
	StatusPending,
	StatusChunking,
	StatusAssembling,
	StatusReady,
	StatusFailed,
	StatusRevoked,
	StatusExpired,
}

var processingStatuses = map[Status]struct{}{
	StatusPending:    {},
	StatusChunking:   {},
	StatusAssembling: {},
}

var terminalStatuses = map[Status]struct{}{
	StatusReady:   {},
	StatusFailed:  {},
	StatusRevoked: {},
}

// ChunkState tracks one chunk row.
type ChunkState string

const (
	ChunkPending   ChunkState = "pending"
	ChunkCompleted ChunkState = "completed"
	ChunkFailed    ChunkState = "failed"
)

// Outcome is the terminal result a worker reports for one chunk.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// ChunkEvent is a worker's report for a single chunk. Events are delivered at
// least once and may arrive in any order.
type ChunkEvent struct {
	Index        int
	Outcome      Outcome
	BytesWritten int64
	Reason       string
	Attempt      int
}

// ChunkPlan describes one planned chunk handed to Create.
type ChunkPlan struct {
	Index    int
	AssetIDs []string
	Bytes    int64
}

// Chunk is a persisted chunk row.
type Chunk struct {
	BundleID      string
	Index         int
	AssetIDs      []string
	PlannedBytes  int64
	State         ChunkState
	BytesWritten  int64
	Attempts      int
	FailureReason string
	SettledAt     *time.Time
}

// NewRequest carries everything Create needs to persist a bundle.
type NewRequest struct {
	ID           string
	Label        string
	AssetIDs     []string
	Chunks       []ChunkPlan
	ExpiresAt    *time.Time
	PasswordHash string
}

// ArchiveResult records the finished archive when a bundle becomes ready.
type ArchiveResult struct {
	Location  string
	SizeBytes int64
	Checksum  string
}

// Request represents one download bundle persisted in SQLite.
type Request struct {
	ID               string
	Label            string
	AssetIDs         []string
	Status           Status
	TotalChunks      int
	CompletedChunks  int
	FailedChunks     int
	TotalBytes       int64
	PasswordHash     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	StartedAt        *time.Time
	LastProgressAt   time.Time
	ExpiresAt        *time.Time
	RevokedAt        *time.Time
	RevokeReason     string
	ArchiveSizeBytes *int64
	ArchiveChecksum  string
	ResultLocation   string
	ErrorMessage     string
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return normalized, true
		}
	}
	return "", false
}

// IsProcessingStatus reports whether a status means work is still outstanding.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// IsTerminalStatus reports whether no chunk event can change the status any more.
func IsTerminalStatus(status Status) bool {
	_, ok := terminalStatuses[status]
	return ok
}

// RequiresPassword reports whether access is password gated.
func (r Request) RequiresPassword() bool {
	return r.PasswordHash != ""
}

// IsRevoked reports whether revocation was recorded.
func (r Request) IsRevoked() bool {
	return r.RevokedAt != nil
}

// IsExpired reports whether ExpiresAt lies in the past relative to now.
func (r Request) IsExpired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// EffectiveStatus folds revocation and expiry over the stored status.
func (r Request) EffectiveStatus(now time.Time) Status {
	switch {
	case r.IsRevoked():
		return StatusRevoked
	case r.IsExpired(now):
		return StatusExpired
	default:
		return r.Status
	}
}

// IsProcessing reports whether the stored status is still in flight.
func (r Request) IsProcessing() bool {
	return IsProcessingStatus(r.Status)
}

// PendingChunks filters chunk rows that have not settled yet.
func PendingChunks(chunks []Chunk) []Chunk {
	out := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		if c.State == ChunkPending {
			out = append(out, c)
		}
	}
	return out
}

// HealthSummary describes aggregated bundle counts per lifecycle group.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Ready      int
	Failed     int
	Revoked    int
}

// DatabaseHealth captures diagnostic information about the bundle database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	TablesPresent    []string
	MissingTables    []string
	IntegrityCheck   bool
	TotalBundles     int
	Error            string
}
