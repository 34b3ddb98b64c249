package recordstore

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumoqi/trainbase/internal/domain/training"
	apperrors "github.com/lumoqi/trainbase/pkg/errors"
)

// PostgresStore persists training records in the training_records table:
//
//	id uuid primary key, user_id bigint, model_id uuid,
//	question text, answer text, status text, attempts int,
//	last_error text, available_at timestamptz,
//	created_at timestamptz, updated_at timestamptz
type PostgresStore struct {
	pool        *pgxpool.Pool
	maxAttempts int
	backoffBase time.Duration
}

// NewPostgresStore constructs the store.
func NewPostgresStore(pool *pgxpool.Pool, maxAttempts int, backoffBase time.Duration) *PostgresStore {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &PostgresStore{pool: pool, maxAttempts: maxAttempts, backoffBase: backoffBase}
}

func (s *PostgresStore) InsertBatch(ctx context.Context, userID int64, modelID uuid.UUID, pairs []training.Pair) ([]uuid.UUID, error) {
	now := time.Now()
	ids := make([]uuid.UUID, len(pairs))
	batch := &pgx.Batch{}
	for i, pair := range pairs {
		ids[i] = uuid.New()
		batch.Queue(`
			INSERT INTO training_records (id, user_id, model_id, question, answer, status, attempts, available_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7, $7)
		`, ids[i], userID, modelID, pair.Question, pair.Answer, training.StatusWaiting, now)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return nil, err
	}
	return ids, nil
}

// ClaimPending relies on FOR UPDATE SKIP LOCKED so concurrent workers never
// observe, let alone claim, the same waiting row.
func (s *PostgresStore) ClaimPending(ctx context.Context, limit int) ([]training.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		UPDATE training_records
		SET status = $1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM training_records
			WHERE status = $2 AND available_at <= NOW()
			ORDER BY created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, user_id, model_id, question, answer, status, attempts, last_error, created_at, updated_at
	`, training.StatusProcessing, training.StatusWaiting, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *PostgresStore) MarkDone(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE training_records
		SET status = $1, last_error = NULL, updated_at = NOW()
		WHERE id = $2
	`, training.StatusDone, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Wrap(apperrors.CodeNotFound, "record not found", nil)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string, terminal bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE training_records
		SET attempts = attempts + 1,
		    last_error = $2,
		    status = CASE WHEN $3::bool OR attempts + 1 >= $4 THEN $5 ELSE $6 END,
		    available_at = NOW() + make_interval(secs => $7 * power(2, attempts)),
		    updated_at = NOW()
		WHERE id = $1
	`, id, reason, terminal, s.maxAttempts, training.StatusFailed, training.StatusWaiting, s.backoffBase.Seconds())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Wrap(apperrors.CodeNotFound, "record not found", nil)
	}
	return nil
}

func (s *PostgresStore) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE training_records
		SET status = $1, available_at = NOW(), updated_at = NOW()
		WHERE status = $2 AND updated_at < NOW() - make_interval(secs => $3)
	`, training.StatusWaiting, training.StatusProcessing, olderThan.Seconds())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (training.Record, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, model_id, question, answer, status, attempts, last_error, created_at, updated_at
		FROM training_records
		WHERE id = $1
		LIMIT 1
	`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return training.Record{}, false, nil
		}
		return training.Record{}, false, err
	}
	return rec, true, nil
}

func (s *PostgresStore) ListByModel(ctx context.Context, userID int64, modelID uuid.UUID, filter training.RecordFilter) ([]training.Record, error) {
	query := `
		SELECT id, user_id, model_id, question, answer, status, attempts, last_error, created_at, updated_at
		FROM training_records
		WHERE user_id = $1 AND model_id = $2
	`
	args := []any{userID, modelID}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			statuses[i] = string(status)
		}
		query += ` AND status = ANY($3)`
		args = append(args, statuses)
	}
	query += ` ORDER BY created_at`
	if filter.Limit > 0 {
		query += ` LIMIT ` + itoa(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + itoa(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[training.RecordStatus]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM training_records GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[training.RecordStatus]int64)
	for rows.Next() {
		var (
			status training.RecordStatus
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, userID int64, id uuid.UUID) (training.Record, bool, error) {
	row := s.pool.QueryRow(ctx, `
		DELETE FROM training_records
		WHERE id = $1 AND user_id = $2
		RETURNING id, user_id, model_id, question, answer, status, attempts, last_error, created_at, updated_at
	`, id, userID)
	rec, err := scanRecord(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return training.Record{}, false, nil
		}
		return training.Record{}, false, err
	}
	return rec, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (training.Record, error) {
	var (
		rec       training.Record
		lastError *string
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.ModelID, &rec.Question, &rec.Answer, &rec.Status, &rec.Attempts, &lastError, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return training.Record{}, err
	}
	rec.LastError = lastError
	return rec, nil
}

func scanRecords(rows pgx.Rows) ([]training.Record, error) {
	var records []training.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func itoa(v int) string {
	return strconv.Itoa(v)
}

var _ training.RecordStore = (*PostgresStore)(nil)
