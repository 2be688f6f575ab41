package history

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const recordColumns = `id, client_id, chunks_id, name, type, size, status, checksum, archive_path,
	model_ids, error, created_at, finished_at`

func (r *PostgresRepository) Create(ctx context.Context, record *Record) error {
	query := `INSERT INTO uploads (` + recordColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.ClientID,
		record.ChunksID,
		record.Name,
		record.Type,
		int64(record.Size),
		string(record.Status),
		record.Checksum,
		record.ArchivePath,
		pq.Array(record.ModelIDs),
		record.Error,
		record.CreatedAt,
		record.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert upload record: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Finish(ctx context.Context, id string, outcome Outcome) error {
	query := `UPDATE uploads
			  SET status = $1, checksum = $2, archive_path = $3, model_ids = $4, error = $5, finished_at = $6
			  WHERE id = $7`

	result, err := r.db.ExecContext(ctx, query,
		string(outcome.Status),
		outcome.Checksum,
		outcome.ArchivePath,
		pq.Array(outcome.ModelIDs),
		outcome.Error,
		outcome.FinishedAt,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update upload record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM uploads WHERE id = $1`

	record, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query upload record: %w", err)
	}
	return record, nil
}

func (r *PostgresRepository) List(ctx context.Context, limit int) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM uploads
			  ORDER BY created_at DESC, id DESC
			  LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query upload records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan upload record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (r *PostgresRepository) DeleteFinishedBefore(ctx context.Context, cutoff int64) (int64, error) {
	query := `DELETE FROM uploads WHERE status <> $1 AND finished_at < $2`

	result, err := r.db.ExecContext(ctx, query, string(StatusPending), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete upload records: %w", err)
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*Record, error) {
	record := &Record{}
	var size int64
	var status string
	var modelIDs []string

	err := row.Scan(
		&record.ID,
		&record.ClientID,
		&record.ChunksID,
		&record.Name,
		&record.Type,
		&size,
		&status,
		&record.Checksum,
		&record.ArchivePath,
		pq.Array(&modelIDs),
		&record.Error,
		&record.CreatedAt,
		&record.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Size = uint64(size)
	record.Status = Status(status)
	record.ModelIDs = modelIDs
	return record, nil
}
