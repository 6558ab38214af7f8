package mockapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // driver
)

// SQLiteProgress keeps progress in a SQLite file so a development backend
// survives restarts.
type SQLiteProgress struct {
	db *sql.DB
}

// NewSQLiteProgress opens path (":memory:" works) and creates the schema.
func NewSQLiteProgress(path string) (*SQLiteProgress, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	// one connection, so ":memory:" is a single database
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}
	p := &SQLiteProgress{db: db}
	if err := p.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return p, nil
}

func (p *SQLiteProgress) Close() error {
	return p.db.Close()
}

func (p *SQLiteProgress) migrate() error {
	_, err := p.db.Exec(`
	CREATE TABLE IF NOT EXISTS workers (
		id TEXT PRIMARY KEY,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS responses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		worker_id TEXT NOT NULL REFERENCES workers(id),
		song_id TEXT NOT NULL,
		feature1 TEXT NOT NULL,
		feature2 TEXT NOT NULL,
		feature3 TEXT NOT NULL,
		description TEXT NOT NULL,
		ratings TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS responses_worker ON responses(worker_id);
	`)
	return err
}

func (p *SQLiteProgress) Register(ctx context.Context, workerID string) error {
	if _, err := p.db.ExecContext(ctx, "INSERT OR IGNORE INTO workers (id) VALUES (?)", workerID); err != nil {
		return fmt.Errorf("failed to register worker: %w", err)
	}
	return nil
}

func (p *SQLiteProgress) known(ctx context.Context, workerID string) (bool, error) {
	var n int
	err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workers WHERE id = ?", workerID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up worker: %w", err)
	}
	return n > 0, nil
}

func (p *SQLiteProgress) Completed(ctx context.Context, workerID string) (map[string]bool, bool, error) {
	ok, err := p.known(ctx, workerID)
	if err != nil || !ok {
		return nil, false, err
	}
	rows, err := p.db.QueryContext(ctx, "SELECT DISTINCT song_id FROM responses WHERE worker_id = ?", workerID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load progress: %w", err)
	}
	defer rows.Close()

	done := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, false, fmt.Errorf("failed to scan progress: %w", err)
		}
		done[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("failed to iterate progress: %w", err)
	}
	return done, true, nil
}

func (p *SQLiteProgress) Record(ctx context.Context, resp Response) (bool, error) {
	ok, err := p.known(ctx, resp.WorkerID)
	if err != nil || !ok {
		return false, err
	}
	ratings, err := json.Marshal(resp.Ratings)
	if err != nil {
		return false, err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO responses (worker_id, song_id, feature1, feature2, feature3, description, ratings)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		resp.WorkerID, resp.SongID, resp.Features[0], resp.Features[1], resp.Features[2],
		resp.Description, string(ratings),
	)
	if err != nil {
		return false, fmt.Errorf("failed to save response: %w", err)
	}
	return true, nil
}

func (p *SQLiteProgress) Responses(ctx context.Context) ([]Response, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT worker_id, song_id, feature1, feature2, feature3, description, ratings
		FROM responses ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load responses: %w", err)
	}
	defer rows.Close()

	var out []Response
	for rows.Next() {
		var (
			r       Response
			ratings string
		)
		if err := rows.Scan(&r.WorkerID, &r.SongID, &r.Features[0], &r.Features[1], &r.Features[2], &r.Description, &ratings); err != nil {
			return nil, fmt.Errorf("failed to scan response: %w", err)
		}
		if err := json.Unmarshal([]byte(ratings), &r.Ratings); err != nil {
			return nil, fmt.Errorf("failed to decode ratings: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate responses: %w", err)
	}
	return out, nil
}
