package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/sobelx/internal/shared"
)

const jobColumns = `id, session_id, username, peer, file_name, input_bytes, output_bytes, input_format,
	width, height, status, error, created_at, completed_at`

// Repository persists [Job] rows.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new [Repository] with the given database connection
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Open opens the database at path, applies migrations and returns a ready repository.
func Open(cfg shared.HistoryConfig) (*Repository, error) {
	db, err := shared.NewDatabase(cfg.Path)
	if err != nil {
		return nil, err
	}
	if cfg.Path != ":memory:" {
		shared.ConfigureDatabase(db, cfg.MaxOpenConns, cfg.MaxIdleConns)
	}
	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return NewRepository(db), nil
}

// Close closes the underlying database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts job, assigning it an ID when it has none.
func (r *Repository) Create(job *Job) error {
	if job.ID == "" {
		job.ID = shared.GenerateID()
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `INSERT INTO image_jobs (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.Exec(query,
		job.ID, job.SessionID, job.Username, job.Peer, job.FileName,
		job.InputBytes, job.OutputBytes, job.InputFormat, job.Width, job.Height,
		string(job.Status), job.Error, job.CreatedAt, nullTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// Update writes the mutable fields of an existing job.
func (r *Repository) Update(job *Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		UPDATE image_jobs
		SET output_bytes = ?, input_format = ?, width = ?, height = ?, status = ?, error = ?, completed_at = ?
		WHERE id = ?
	`
	result, err := r.db.Exec(query,
		job.OutputBytes, job.InputFormat, job.Width, job.Height,
		string(job.Status), job.Error, nullTime(job.CompletedAt), job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("job not found: %s", job.ID)
	}
	return nil
}

// Get retrieves a job by ID.
func (r *Repository) Get(id string) (*Job, error) {
	row := r.db.QueryRow(`SELECT `+jobColumns+` FROM image_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	return job, nil
}

// List retrieves jobs newest first. Supported criteria: "username" (string), "status" (Status),
// "limit" (int).
func (r *Repository) List(criteria map[string]any) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM image_jobs WHERE 1 = 1`
	args := []any{}

	if username, ok := criteria["username"].(string); ok && username != "" {
		query += " AND username = ?"
		args = append(args, username)
	}
	if status, ok := criteria["status"].(Status); ok && status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}

	query += " ORDER BY created_at DESC"

	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return jobs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*Job, error) {
	var (
		job       Job
		status    string
		completed sql.NullTime
	)
	err := s.Scan(
		&job.ID, &job.SessionID, &job.Username, &job.Peer, &job.FileName,
		&job.InputBytes, &job.OutputBytes, &job.InputFormat, &job.Width, &job.Height,
		&status, &job.Error, &job.CreatedAt, &completed,
	)
	if err != nil {
		return nil, err
	}
	job.Status = Status(status)
	if completed.Valid {
		t := completed.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
