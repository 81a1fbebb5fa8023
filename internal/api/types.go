package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Bundle describes a bundle in a transport-friendly format.
type Bundle struct {
	ID                 string  `json:"id"`
	Label              string  `json:"label,omitempty"`
	Status             string  `json:"status"`
	StoredStatus       string  `json:"storedStatus"`
	AssetCount         int     `json:"assetCount"`
	TotalChunks        int     `json:"totalChunks"`
	CompletedChunks    int     `json:"completedChunks"`
	FailedChunks       int     `json:"failedChunks"`
	TotalBytes         int64   `json:"totalBytes"`
	ProgressPercentage float64 `json:"progressPercentage"`
	IsStalled          bool    `json:"isStalled"`
	PasswordProtected  bool    `json:"passwordProtected"`
	CreatedAt          string  `json:"createdAt,omitempty"`
	UpdatedAt          string  `json:"updatedAt,omitempty"`
	StartedAt          string  `json:"startedAt,omitempty"`
	LastProgressAt     string  `json:"lastProgressAt,omitempty"`
	ExpiresAt          string  `json:"expiresAt,omitempty"`
	RevokedAt          string  `json:"revokedAt,omitempty"`
	RevokeReason       string  `json:"revokeReason,omitempty"`
	ArchiveURL         string  `json:"archiveUrl,omitempty"`
	ArchiveSizeBytes   *int64  `json:"archiveSizeBytes,omitempty"`
	ArchiveChecksum    string  `json:"archiveChecksum,omitempty"`
	ErrorMessage       string  `json:"errorMessage,omitempty"`
}

// Chunk describes one chunk of a bundle.
type Chunk struct {
	Index         int      `json:"index"`
	State         string   `json:"state"`
	AssetIDs      []string `json:"assetIds"`
	PlannedBytes  int64    `json:"plannedBytes"`
	BytesWritten  int64    `json:"bytesWritten"`
	Attempts      int      `json:"attempts"`
	FailureReason string   `json:"failureReason,omitempty"`
	SettledAt     string   `json:"settledAt,omitempty"`
}

// BundleDetail is a bundle with its chunk rows.
type BundleDetail struct {
	Bundle Bundle  `json:"bundle"`
	Chunks []Chunk `json:"chunks"`
}

// BundleListResponse wraps a collection of bundles for API responses.
type BundleListResponse struct {
	Bundles []Bundle `json:"bundles"`
}

// BundleResponse wraps a single bundle.
type BundleResponse struct {
	Bundle Bundle `json:"bundle"`
}

// CreateBundleRequest is the JSON body accepted by the create endpoint.
type CreateBundleRequest struct {
	ID        string   `json:"id,omitempty"`
	Label     string   `json:"label,omitempty"`
	AssetIDs  []string `json:"assetIds"`
	Password  string   `json:"password,omitempty"`
	ExpiresIn string   `json:"expiresIn,omitempty"`
	ExpiresAt string   `json:"expiresAt,omitempty"`
}

// RevokeBundleRequest is the JSON body accepted by the revoke endpoint.
type RevokeBundleRequest struct {
	Reason string `json:"reason,omitempty"`
}

// RevokeResponse reports the outcome of a revocation.
type RevokeResponse struct {
	Bundle  Bundle `json:"bundle"`
	Changed bool   `json:"changed"`
}

// UnlockRequest is the JSON body accepted by the unlock endpoint.
type UnlockRequest struct {
	Password string `json:"password"`
}

// StatsResponse provides a normalized bundle stats payload.
type StatsResponse struct {
	Counts map[string]int `json:"counts"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running       bool              `json:"running"`
	ActiveBundles []string          `json:"activeBundles"`
	BundleStats   map[string]int    `json:"bundleStats"`
	LastError     string            `json:"lastError,omitempty"`
	LastBundleID  string            `json:"lastBundleId,omitempty"`
	Health        []ComponentHealth `json:"health"`
}

// ComponentHealth mirrors readiness reporting for workflow dependencies.
type ComponentHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	DatabasePath string         `json:"databasePath"`
	LockFilePath string         `json:"lockFilePath"`
	APIBind      string         `json:"apiBind"`
	Workflow     WorkflowStatus `json:"workflow"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
