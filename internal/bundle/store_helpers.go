package bundle

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

const bundleColumns = "id, label, asset_ids_json, status, total_chunks, completed_chunks, failed_chunks, total_bytes, password_hash, created_at, updated_at, started_at, last_progress_at, expires_at, revoked_at, revoke_reason, archive_size_bytes, archive_checksum, result_location, error_message"

const chunkColumns = "bundle_id, chunk_index, asset_ids_json, planned_bytes, state, bytes_written, attempts, failure_reason, settled_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(scanner rowScanner) (*Request, error) {
	var (
		id              string
		label           sql.NullString
		assetIDsJSON    string
		statusStr       string
		totalChunks     int
		completedChunks int
		failedChunks    int
		totalBytes      int64
		passwordHash    sql.NullString
		createdRaw      string
		updatedRaw      string
		startedRaw      sql.NullString
		progressRaw     string
		expiresRaw      sql.NullString
		revokedRaw      sql.NullString
		revokeReason    sql.NullString
		archiveSize     sql.NullInt64
		archiveChecksum sql.NullString
		resultLocation  sql.NullString
		errorMessage    sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&label,
		&assetIDsJSON,
		&statusStr,
		&totalChunks,
		&completedChunks,
		&failedChunks,
		&totalBytes,
		&passwordHash,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&progressRaw,
		&expiresRaw,
		&revokedRaw,
		&revokeReason,
		&archiveSize,
		&archiveChecksum,
		&resultLocation,
		&errorMessage,
	); err != nil {
		return nil, err
	}

	req := &Request{
		ID:              id,
		Label:           label.String,
		Status:          Status(statusStr),
		TotalChunks:     totalChunks,
		CompletedChunks: completedChunks,
		FailedChunks:    failedChunks,
		TotalBytes:      totalBytes,
		PasswordHash:    passwordHash.String,
		RevokeReason:    revokeReason.String,
		ArchiveChecksum: archiveChecksum.String,
		ResultLocation:  resultLocation.String,
		ErrorMessage:    errorMessage.String,
	}
	if err := json.Unmarshal([]byte(assetIDsJSON), &req.AssetIDs); err != nil {
		return nil, err
	}
	if archiveSize.Valid {
		size := archiveSize.Int64
		req.ArchiveSizeBytes = &size
	}
	if t, err := parseTimeString(createdRaw); err == nil {
		req.CreatedAt = t
	}
	if t, err := parseTimeString(updatedRaw); err == nil {
		req.UpdatedAt = t
	}
	if t, err := parseTimeString(progressRaw); err == nil {
		req.LastProgressAt = t
	}
	req.StartedAt = parseNullableTime(startedRaw)
	req.ExpiresAt = parseNullableTime(expiresRaw)
	req.RevokedAt = parseNullableTime(revokedRaw)
	return req, nil
}

func scanChunk(scanner rowScanner) (Chunk, error) {
	var (
		chunk        Chunk
		assetIDsJSON string
		state        string
		reason       sql.NullString
		settledRaw   sql.NullString
	)
	if err := scanner.Scan(
		&chunk.BundleID,
		&chunk.Index,
		&assetIDsJSON,
		&chunk.PlannedBytes,
		&state,
		&chunk.BytesWritten,
		&chunk.Attempts,
		&reason,
		&settledRaw,
	); err != nil {
		return Chunk{}, err
	}
	if err := json.Unmarshal([]byte(assetIDsJSON), &chunk.AssetIDs); err != nil {
		return Chunk{}, err
	}
	chunk.State = ChunkState(state)
	chunk.FailureReason = reason.String
	chunk.SettledAt = parseNullableTime(settledRaw)
	return chunk, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(timeLayout)
}

func parseNullableTime(raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	t, err := parseTimeString(raw.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func statusArgs(statuses []Status) []any {
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = string(status)
	}
	return args
}
