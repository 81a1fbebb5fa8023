package bundle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"parcel/internal/services"
)

// bundleIDPattern keeps ids usable as a single staging prefix and URL segment.
var bundleIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// SQLite extended result codes for primary key and unique violations.
const (
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

// Create persists a planned bundle in StatusPending together with its chunk rows.
func (s *Store) Create(ctx context.Context, in NewRequest) (*Request, error) {
	if err := validateNewRequest(in); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}

	assetsJSON, err := json.Marshal(in.AssetIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal asset ids: %w", err)
	}
	var totalBytes int64
	for _, chunk := range in.Chunks {
		totalBytes += chunk.Bytes
	}

	_, stamp := s.timestamp()
	var created *Request
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bundles (
                id, label, asset_ids_json, status, total_chunks, completed_chunks, failed_chunks,
                total_bytes, password_hash, created_at, updated_at, last_progress_at, expires_at
            ) VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?, ?, ?, ?, ?)`,
			id,
			nullableString(in.Label),
			string(assetsJSON),
			StatusPending,
			len(in.Chunks),
			totalBytes,
			nullableString(in.PasswordHash),
			stamp,
			stamp,
			stamp,
			nullableTime(in.ExpiresAt),
		); err != nil {
			return err
		}
		for _, chunk := range in.Chunks {
			chunkJSON, err := json.Marshal(chunk.AssetIDs)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO bundle_chunks (bundle_id, chunk_index, asset_ids_json, planned_bytes, state)
                 VALUES (?, ?, ?, ?, ?)`,
				id, chunk.Index, string(chunkJSON), chunk.Bytes, ChunkPending,
			); err != nil {
				return err
			}
		}
		created, err = getTx(ctx, tx, id)
		return err
	})
	if isDuplicateKey(err) {
		return nil, services.Wrap(services.ErrConflict, "bundle store", "create bundle",
			fmt.Sprintf("bundle %s already exists", id), err)
	}
	if err != nil {
		return nil, unavailable("create bundle", err)
	}
	return created, nil
}

func isDuplicateKey(err error) bool {
	var coder interface{ Code() int }
	if !errors.As(err, &coder) {
		return false
	}
	code := coder.Code()
	return code == sqliteConstraintPrimaryKey || code == sqliteConstraintUnique
}

func validateNewRequest(in NewRequest) error {
	if id := strings.TrimSpace(in.ID); id != "" {
		if !bundleIDPattern.MatchString(id) || id == "." || id == ".." {
			return &ValidationError{Reason: fmt.Sprintf("bundle id %q must be 1-128 letters, digits, '.', '_' or '-'", id)}
		}
	}
	if len(in.AssetIDs) == 0 {
		return &ValidationError{Reason: "asset list is empty"}
	}
	if len(in.Chunks) == 0 {
		return &ValidationError{Reason: "chunk plan is empty"}
	}
	planned := 0
	for i, chunk := range in.Chunks {
		if chunk.Index != i {
			return &ValidationError{Reason: fmt.Sprintf("chunk %d has index %d", i, chunk.Index)}
		}
		if len(chunk.AssetIDs) == 0 {
			return &ValidationError{Reason: fmt.Sprintf("chunk %d has no assets", i)}
		}
		planned += len(chunk.AssetIDs)
	}
	if planned != len(in.AssetIDs) {
		return &ValidationError{Reason: fmt.Sprintf("chunk plan covers %d assets, request has %d", planned, len(in.AssetIDs))}
	}
	return nil
}

// Get fetches a bundle by identifier. A missing bundle returns nil, nil.
func (s *Store) Get(ctx context.Context, id string) (*Request, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+bundleColumns+` FROM bundles WHERE id = ?`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get bundle", err)
	}
	return req, nil
}

func getTx(ctx context.Context, tx *sql.Tx, id string) (*Request, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+bundleColumns+` FROM bundles WHERE id = ?`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return req, err
}

// Chunks returns the chunk rows of a bundle ordered by index.
func (s *Store) Chunks(ctx context.Context, id string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+chunkColumns+` FROM bundle_chunks WHERE bundle_id = ? ORDER BY chunk_index`, id)
	if err != nil {
		return nil, unavailable("list chunks", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, unavailable("scan chunk", err)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list chunks", err)
	}
	return chunks, nil
}

// List returns bundles filtered by status set (or all bundles when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Request, error) {
	ctx = ensureContext(ctx)
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + bundleColumns + ` FROM bundles`
	orderClause := ` ORDER BY created_at, id`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		query := baseQuery + ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, statusArgs(statuses)...)
	}
	if err != nil {
		return nil, unavailable("list bundles", err)
	}
	defer rows.Close()

	var items []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, unavailable("scan bundle", err)
		}
		items = append(items, req)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list bundles", err)
	}
	return items, nil
}

// ActiveIDs returns the identifiers of bundles whose work is still outstanding.
func (s *Store) ActiveIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id FROM bundles WHERE status IN (?, ?, ?) AND revoked_at IS NULL`,
		StatusPending, StatusChunking, StatusAssembling,
	)
	if err != nil {
		return nil, unavailable("active bundles", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("scan active bundle", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("active bundles", err)
	}
	return ids, nil
}

// NextForStatuses returns the oldest bundle in one of statuses whose id is not
// in exclude. Revoked bundles are never returned.
func (s *Store) NextForStatuses(ctx context.Context, exclude map[string]struct{}, statuses ...Status) (*Request, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	ctx = ensureContext(ctx)
	query := `SELECT ` + bundleColumns + ` FROM bundles WHERE status IN (` + makePlaceholders(len(statuses)) + `)
         AND revoked_at IS NULL ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, query, statusArgs(statuses)...)
	if err != nil {
		return nil, unavailable("next bundle", err)
	}
	defer rows.Close()

	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, unavailable("scan bundle", err)
		}
		if _, skip := exclude[req.ID]; skip {
			continue
		}
		return req, nil
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("next bundle", err)
	}
	return nil, nil
}
