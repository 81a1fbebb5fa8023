package bundle

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"parcel/internal/services"
)

// ApplyResult reports what ApplyChunkEvent did.
type ApplyResult struct {
	// Applied is false when the event was a replay, targeted a settled chunk,
	// or arrived after the bundle reached a terminal status.
	Applied bool
	Request *Request
}

// ApplyChunkEvent settles one chunk and updates the bundle counters atomically.
//
// A chunk moves from pending to completed or failed exactly once; any later
// event for the same index is a no-op. When the last chunk completes the
// bundle moves to StatusAssembling. A permanent chunk failure moves it to
// StatusFailed. Events for revoked or terminal bundles are ignored.
func (s *Store) ApplyChunkEvent(ctx context.Context, id string, event ChunkEvent) (ApplyResult, error) {
	ctx = ensureContext(ctx)
	switch event.Outcome {
	case OutcomeCompleted, OutcomeFailed:
	default:
		return ApplyResult{}, &ValidationError{Reason: fmt.Sprintf("unknown chunk outcome %q", event.Outcome)}
	}

	var result ApplyResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result = ApplyResult{}
		req, err := getTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if req == nil {
			return services.Wrap(services.ErrNotFound, "bundle store", "apply chunk event", id, nil)
		}
		result.Request = req
		if event.Index < 0 || event.Index >= req.TotalChunks {
			return &ValidationError{Reason: fmt.Sprintf("chunk index %d outside 0..%d", event.Index, req.TotalChunks-1)}
		}
		if req.IsRevoked() || IsTerminalStatus(req.Status) {
			return nil
		}

		_, stamp := s.timestamp()
		var res sql.Result
		if event.Outcome == OutcomeCompleted {
			res, err = tx.ExecContext(ctx,
				`UPDATE bundle_chunks SET state = ?, bytes_written = ?, attempts = ?, settled_at = ?
                 WHERE bundle_id = ? AND chunk_index = ? AND state = ?`,
				ChunkCompleted, event.BytesWritten, event.Attempt, stamp,
				id, event.Index, ChunkPending,
			)
		} else {
			res, err = tx.ExecContext(ctx,
				`UPDATE bundle_chunks SET state = ?, attempts = ?, failure_reason = ?, settled_at = ?
                 WHERE bundle_id = ? AND chunk_index = ? AND state = ?`,
				ChunkFailed, event.Attempt, nullableString(event.Reason), stamp,
				id, event.Index, ChunkPending,
			)
		}
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}

		if event.Outcome == OutcomeCompleted {
			_, err = tx.ExecContext(ctx,
				`UPDATE bundles
                 SET completed_chunks = completed_chunks + 1,
                     status = CASE WHEN completed_chunks + 1 = total_chunks AND failed_chunks = 0 THEN ? ELSE ? END,
                     started_at = COALESCE(started_at, ?),
                     last_progress_at = ?, updated_at = ?
                 WHERE id = ?`,
				StatusAssembling, StatusChunking, stamp, stamp, stamp, id,
			)
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE bundles
                 SET failed_chunks = failed_chunks + 1, status = ?, error_message = ?, updated_at = ?
                 WHERE id = ?`,
				StatusFailed, failureMessage(event), stamp, id,
			)
		}
		if err != nil {
			return err
		}
		result.Applied = true
		result.Request, err = getTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return ApplyResult{}, unavailable("apply chunk event", err)
	}
	return result, nil
}

func failureMessage(event ChunkEvent) string {
	reason := strings.TrimSpace(event.Reason)
	if reason == "" {
		reason = "chunk failed"
	}
	return fmt.Sprintf("chunk %d failed after %d attempt(s): %s", event.Index, event.Attempt, reason)
}

// MarkStarted moves a pending bundle into StatusChunking. It reports false when
// the bundle was not pending (already started, revoked, or gone).
func (s *Store) MarkStarted(ctx context.Context, id string) (bool, error) {
	_, stamp := s.timestamp()
	res, err := s.execWithRetry(ctx,
		`UPDATE bundles SET status = ?, started_at = COALESCE(started_at, ?), last_progress_at = ?, updated_at = ?
         WHERE id = ? AND status = ? AND revoked_at IS NULL`,
		StatusChunking, stamp, stamp, stamp, id, StatusPending,
	)
	return rowsChanged(res, err, "mark started")
}

// MarkReady records the finished archive. Only an assembling bundle whose
// every chunk completed and none failed can become ready.
func (s *Store) MarkReady(ctx context.Context, id string, archive ArchiveResult) (bool, error) {
	if strings.TrimSpace(archive.Location) == "" {
		return false, &ValidationError{Reason: "archive location is empty"}
	}
	_, stamp := s.timestamp()
	res, err := s.execWithRetry(ctx,
		`UPDATE bundles
         SET status = ?, archive_size_bytes = ?, archive_checksum = ?, result_location = ?,
             last_progress_at = ?, updated_at = ?
         WHERE id = ? AND status = ? AND completed_chunks = total_chunks AND failed_chunks = 0
           AND revoked_at IS NULL`,
		StatusReady, archive.SizeBytes, nullableString(archive.Checksum), archive.Location,
		stamp, stamp, id, StatusAssembling,
	)
	return rowsChanged(res, err, "mark ready")
}

// MarkFailed fails a bundle whose archive could not be produced. Terminal and
// revoked bundles are left untouched.
func (s *Store) MarkFailed(ctx context.Context, id, reason string) (bool, error) {
	_, stamp := s.timestamp()
	res, err := s.execWithRetry(ctx,
		`UPDATE bundles SET status = ?, error_message = ?, updated_at = ?
         WHERE id = ? AND status IN (?, ?, ?) AND revoked_at IS NULL`,
		StatusFailed, nullableString(reason), stamp,
		id, StatusPending, StatusChunking, StatusAssembling,
	)
	return rowsChanged(res, err, "mark failed")
}

// RevokeResult reports what Revoke did.
type RevokeResult struct {
	Found   bool
	Changed bool
	Request *Request
}

// Revoke stamps revocation on a bundle. In-flight bundles move to
// StatusRevoked; ready and failed bundles keep their status and only gain
// RevokedAt. Revoking twice is a no-op that keeps the first timestamp.
func (s *Store) Revoke(ctx context.Context, id, reason string) (RevokeResult, error) {
	ctx = ensureContext(ctx)
	var result RevokeResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result = RevokeResult{}
		req, err := getTx(ctx, tx, id)
		if err != nil || req == nil {
			return err
		}
		result.Found = true
		result.Request = req
		if req.IsRevoked() {
			return nil
		}
		_, stamp := s.timestamp()
		if _, err := tx.ExecContext(ctx,
			`UPDATE bundles
             SET revoked_at = ?, revoke_reason = ?, updated_at = ?,
                 status = CASE WHEN status IN (?, ?, ?) THEN ? ELSE status END
             WHERE id = ?`,
			stamp, nullableString(reason), stamp,
			StatusPending, StatusChunking, StatusAssembling, StatusRevoked,
			id,
		); err != nil {
			return err
		}
		result.Changed = true
		result.Request, err = getTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return RevokeResult{}, unavailable("revoke bundle", err)
	}
	return result, nil
}

// FailTimedOut fails every chunking or assembling bundle whose last progress
// is older than cutoff and returns their identifiers.
func (s *Store) FailTimedOut(ctx context.Context, cutoff time.Time) ([]string, error) {
	ctx = ensureContext(ctx)
	var ids []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ids = nil
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM bundles
             WHERE status IN (?, ?) AND revoked_at IS NULL AND last_progress_at < ?
             ORDER BY last_progress_at`,
			StatusChunking, StatusAssembling, cutoff.UTC().Format(timeLayout),
		)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		_, stamp := s.timestamp()
		args := []any{StatusFailed, TimeoutReason, stamp}
		for _, id := range ids {
			args = append(args, id)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE bundles SET status = ?, error_message = ?, updated_at = ?
             WHERE id IN (`+makePlaceholders(len(ids))+`)`,
			args...,
		)
		return err
	})
	if err != nil {
		return nil, unavailable("fail timed out bundles", err)
	}
	return ids, nil
}

func rowsChanged(res sql.Result, err error, operation string) (bool, error) {
	if err != nil {
		return false, unavailable(operation, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, unavailable(operation, err)
	}
	return affected > 0, nil
}
