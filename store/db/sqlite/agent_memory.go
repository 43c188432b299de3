package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hrygo/meetingagent/store"
)

func (d *DB) UpsertAgentMemory(ctx context.Context, upsert *store.UpsertAgentMemory) (*store.AgentMemory, error) {
	now := time.Now().Unix()

	stmt := `INSERT INTO agent_memory (user_id, payload, created_ts, updated_ts)
		VALUES (` + placeholders(4) + `)
		ON CONFLICT (user_id) DO UPDATE SET
			payload = excluded.payload,
			updated_ts = excluded.updated_ts
		RETURNING user_id, payload, created_ts, updated_ts`

	result := &store.AgentMemory{}
	if err := d.db.QueryRowContext(ctx, stmt, upsert.UserID, upsert.Payload, now, now).Scan(
		&result.UserID,
		&result.Payload,
		&result.CreatedTs,
		&result.UpdatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to upsert agent_memory: %w", err)
	}

	return result, nil
}

func (d *DB) GetAgentMemory(ctx context.Context, find *store.FindAgentMemory) (*store.AgentMemory, error) {
	if find.UserID == nil {
		return nil, fmt.Errorf("user_id is required")
	}

	query := `SELECT user_id, payload, created_ts, updated_ts FROM agent_memory WHERE user_id = ` + placeholder(1)

	result := &store.AgentMemory{}
	err := d.db.QueryRowContext(ctx, query, *find.UserID).Scan(
		&result.UserID,
		&result.Payload,
		&result.CreatedTs,
		&result.UpdatedTs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get agent_memory: %w", err)
	}

	return result, nil
}

func (d *DB) ListAgentMemories(ctx context.Context, find *store.FindAgentMemory) ([]*store.AgentMemory, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.UserID; v != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *v)
	}

	query := `SELECT user_id, payload, created_ts, updated_ts FROM agent_memory WHERE ` + strings.Join(where, " AND ") + ` ORDER BY user_id ASC`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent_memory: %w", err)
	}
	defer rows.Close()

	list := make([]*store.AgentMemory, 0)
	for rows.Next() {
		var m store.AgentMemory
		if err := rows.Scan(&m.UserID, &m.Payload, &m.CreatedTs, &m.UpdatedTs); err != nil {
			return nil, fmt.Errorf("failed to scan agent_memory: %w", err)
		}
		list = append(list, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agent_memory: %w", err)
	}
	return list, nil
}
