package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. Snapshot and diff columns
// are jsonb.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Append(ctx context.Context, rec *Record) error {
	before, err := json.Marshal(rec.Before)
	if err != nil {
		return fmt.Errorf("audit: encode before_data: %w", err)
	}
	after, err := json.Marshal(rec.After)
	if err != nil {
		return fmt.Errorf("audit: encode after_data: %w", err)
	}
	changes, err := json.Marshal(rec.Changes)
	if err != nil {
		return fmt.Errorf("audit: encode changes: %w", err)
	}
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("audit: encode metadata: %w", err)
	}

	var projectID any
	if rec.ProjectID != "" {
		projectID = rec.ProjectID
	}
	_, err = s.db.ExecContext(ctx,
		`insert into audit_logs(id, actor_id, action, entity_type, entity_id, entity_name, description,
		   project_id, before_data, after_data, changes, ip_address, user_agent, metadata, timestamp, expires_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		rec.ID, rec.ActorID, rec.Action, rec.EntityType, rec.EntityID, rec.EntityName, rec.Description,
		projectID, before, after, changes, rec.IPAddress, rec.UserAgent, meta, rec.CreatedAt, rec.ExpiresAt,
	)
	return err
}

func (s *PGStore) List(ctx context.Context, f Filter) ([]*Record, error) {
	where, args := buildFilter(f)
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `select id, actor_id, action, entity_type, entity_id, entity_name, description,
	   project_id, before_data, after_data, changes, ip_address, user_agent, metadata, timestamp, expires_at
	 from audit_logs` + where +
		fmt.Sprintf(` order by timestamp desc limit %d offset %d`, limit, max(f.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var (
			rec       Record
			projectID sql.NullString
			before    []byte
			after     []byte
			changes   []byte
			meta      []byte
		)
		if err := rows.Scan(&rec.ID, &rec.ActorID, &rec.Action, &rec.EntityType, &rec.EntityID,
			&rec.EntityName, &rec.Description, &projectID, &before, &after, &changes,
			&rec.IPAddress, &rec.UserAgent, &meta, &rec.CreatedAt, &rec.ExpiresAt); err != nil {
			return nil, err
		}
		rec.ProjectID = projectID.String
		if err := decodeJSONB(before, &rec.Before, "before_data", rec.ID); err != nil {
			return nil, err
		}
		if err := decodeJSONB(after, &rec.After, "after_data", rec.ID); err != nil {
			return nil, err
		}
		if err := decodeJSONB(changes, &rec.Changes, "changes", rec.ID); err != nil {
			return nil, err
		}
		if err := decodeJSONB(meta, &rec.Metadata, "metadata", rec.ID); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *PGStore) Count(ctx context.Context, f Filter) (int, error) {
	where, args := buildFilter(f)
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from audit_logs`+where, args...).Scan(&n)
	return n, err
}

// DeleteExpired is a plain delete-where-older-than: idempotent and safe
// to run concurrently with appends.
func (s *PGStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from audit_logs where expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// decodeJSONB fills dst from a jsonb column. A SQL NULL scans to an empty
// slice and is left as the zero value; anything else must parse.
func decodeJSONB(raw []byte, dst any, column, recordID string) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("audit: decode %s of record %s: %w", column, recordID, err)
	}
	return nil
}

func buildFilter(f Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.ActorID != "" {
		add(`actor_id=$%d`, f.ActorID)
	}
	if f.ProjectID != "" {
		add(`project_id=$%d`, f.ProjectID)
	}
	if f.EntityType != "" {
		add(`entity_type=$%d`, f.EntityType)
	}
	if f.Action != "" {
		add(`action=$%d`, f.Action)
	}
	if !f.Since.IsZero() {
		add(`timestamp >= $%d`, f.Since)
	}
	if !f.Until.IsZero() {
		add(`timestamp <= $%d`, f.Until)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " where " + strings.Join(conds, " and "), args
}
