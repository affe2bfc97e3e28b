package store

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"storygate/internal/models"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

func (s *Store) InsertCallLog(ctx context.Context, l models.CallLog) error {
	_, err := s.DB.Exec(ctx, `INSERT INTO call_logs (request_id, capability, model, latency_ms, ttft_ms, attempts, rotations, credential_index, tokens, cost_cny, prompt_hash, degraded, error_kind, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		l.RequestID, l.Capability, l.Model, l.LatencyMS, l.TTFTMS, l.Attempts, l.Rotations, l.CredentialIndex, l.Tokens, l.CostCNY, l.PromptHash, l.Degraded, l.ErrorKind, l.CreatedAt)
	return err
}

// ListCallLogs returns the newest entries first. An empty capability lists all.
func (s *Store) ListCallLogs(ctx context.Context, capability string, limit int) ([]models.CallLog, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, request_id, capability, model, latency_ms, ttft_ms, attempts, rotations, credential_index, tokens, cost_cny, prompt_hash, degraded, error_kind, created_at FROM call_logs WHERE ($1 = '' OR capability = $1) ORDER BY created_at DESC LIMIT $2`, capability, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []models.CallLog
	for rows.Next() {
		var l models.CallLog
		if err := rows.Scan(&l.ID, &l.RequestID, &l.Capability, &l.Model, &l.LatencyMS, &l.TTFTMS, &l.Attempts, &l.Rotations, &l.CredentialIndex, &l.Tokens, &l.CostCNY, &l.PromptHash, &l.Degraded, &l.ErrorKind, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *Store) GetCallLog(ctx context.Context, id int64) (*models.CallLog, error) {
	row := s.DB.QueryRow(ctx, `SELECT id, request_id, capability, model, latency_ms, ttft_ms, attempts, rotations, credential_index, tokens, cost_cny, prompt_hash, degraded, error_kind, created_at FROM call_logs WHERE id=$1`, id)
	var l models.CallLog
	if err := row.Scan(&l.ID, &l.RequestID, &l.Capability, &l.Model, &l.LatencyMS, &l.TTFTMS, &l.Attempts, &l.Rotations, &l.CredentialIndex, &l.Tokens, &l.CostCNY, &l.PromptHash, &l.Degraded, &l.ErrorKind, &l.CreatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

// SummarizeUsage aggregates calls per capability since the given time.
func (s *Store) SummarizeUsage(ctx context.Context, since time.Time) ([]models.CapabilityUsage, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT capability,
		       COUNT(*) AS calls,
		       COUNT(*) FILTER (WHERE error_kind <> '') AS failures,
		       COALESCE(SUM(tokens),0) AS tokens,
		       COALESCE(SUM(cost_cny),0) AS cost_cny
		FROM call_logs
		WHERE created_at >= $1
		GROUP BY capability
		ORDER BY calls DESC
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.CapabilityUsage
	for rows.Next() {
		var u models.CapabilityUsage
		if err := rows.Scan(&u.Capability, &u.Calls, &u.Failures, &u.Tokens, &u.CostCNY); err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, rows.Err()
}

// Migrate applies every .sql file in dir that has not been applied yet, in
// file name order.
func (s *Store) Migrate(ctx context.Context, dir string) ([]string, error) {
	if _, err := s.DB.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (filename TEXT PRIMARY KEY, applied_at TIMESTAMP NOT NULL)`); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	var applied []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		name := e.Name()
		var exists bool
		if err := s.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename=$1)`, name).Scan(&exists); err != nil {
			return applied, err
		}
		if exists {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return applied, err
		}
		if _, err := s.DB.Exec(ctx, string(b)); err != nil {
			return applied, err
		}
		if _, err := s.DB.Exec(ctx, `INSERT INTO schema_migrations (filename, applied_at) VALUES ($1,$2)`, name, time.Now().UTC()); err != nil {
			return applied, err
		}
		applied = append(applied, name)
	}
	return applied, nil
}
