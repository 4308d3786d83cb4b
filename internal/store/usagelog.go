package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Harshitk-cp/mnemo/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UsageLogStore struct {
	db *pgxpool.Pool
}

func NewUsageLogStore(db *pgxpool.Pool) *UsageLogStore {
	return &UsageLogStore{db: db}
}

func (s *UsageLogStore) Append(ctx context.Context, e *domain.UsageLogEntry) error {
	return s.db.QueryRow(ctx,
		`INSERT INTO usage_logs (user_id, conversation_id, tool_calls)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		e.UserID, e.ConversationID, e.ToolCalls,
	).Scan(&e.ID, &e.CreatedAt)
}

func (s *UsageLogStore) RecentEntries(ctx context.Context, userID string, since time.Time, limit int) ([]domain.UsageLogEntry, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, conversation_id, tool_calls, created_at
		 FROM usage_logs
		 WHERE user_id = $1 AND created_at >= $2
		 ORDER BY created_at DESC
		 LIMIT $3`,
		userID, since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent entries query: %w", err)
	}
	defer rows.Close()

	var entries []domain.UsageLogEntry
	for rows.Next() {
		var e domain.UsageLogEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.ConversationID, &e.ToolCalls, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage log row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *UsageLogStore) ActiveUsers(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT user_id FROM usage_logs WHERE created_at >= $1`,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
