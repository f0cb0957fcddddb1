package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mediatech/mediatech-auth/internal/database"
	"github.com/mediatech/mediatech-auth/internal/model"
)

// SecurityEventRepository handles the append-only security event log
type SecurityEventRepository struct {
	db *database.Postgres
}

// NewSecurityEventRepository creates a new SecurityEventRepository
func NewSecurityEventRepository(db *database.Postgres) *SecurityEventRepository {
	return &SecurityEventRepository{db: db}
}

// Create appends an event
func (r *SecurityEventRepository) Create(ctx context.Context, e *model.SecurityEvent) error {
	query := `
		INSERT INTO security_events (event_type, severity, username, resource, method, ip_address, details, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		e.EventType,
		e.Severity,
		e.Username,
		e.Resource,
		e.Method,
		e.IPAddress,
		e.Details,
		e.Timestamp,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to create security event: %w", err)
	}
	return nil
}

// ListSince returns every event after since, oldest first
func (r *SecurityEventRepository) ListSince(ctx context.Context, since time.Time) ([]*model.SecurityEvent, error) {
	query := `
		SELECT id, event_type, severity, username, resource, method, ip_address, details, timestamp
		FROM security_events
		WHERE timestamp > $1
		ORDER BY timestamp ASC, id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}
	return scanEvents(rows)
}

// ListByUsernameSince returns the events of one user after since, oldest first
func (r *SecurityEventRepository) ListByUsernameSince(ctx context.Context, username string, since time.Time) ([]*model.SecurityEvent, error) {
	query := `
		SELECT id, event_type, severity, username, resource, method, ip_address, details, timestamp
		FROM security_events
		WHERE username = $1 AND timestamp > $2
		ORDER BY timestamp ASC, id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, username, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}
	return scanEvents(rows)
}

// Count returns the total number of stored events
func (r *SecurityEventRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM security_events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count security events: %w", err)
	}
	return count, nil
}

// CountCritical returns the number of CRITICAL events after since
func (r *SecurityEventRepository) CountCritical(ctx context.Context, since time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM security_events WHERE severity = $1 AND timestamp > $2`
	var count int64
	if err := r.db.QueryRowContext(ctx, query, model.SeverityCritical, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count critical events: %w", err)
	}
	return count, nil
}

// DeleteOlderThan prunes events older than cutoff in batches
func (r *SecurityEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	query := `
		WITH doomed AS (
			SELECT id FROM security_events
			WHERE timestamp < $1
			ORDER BY id
			LIMIT $2
		)
		DELETE FROM security_events
		WHERE id IN (SELECT id FROM doomed)
	`
	return deleteInBatches(ctx, r.db, "security events", query, cutoff, batchOrDefault(batchSize))
}

func scanEvents(rows *sql.Rows) ([]*model.SecurityEvent, error) {
	defer rows.Close()

	var events []*model.SecurityEvent
	for rows.Next() {
		var e model.SecurityEvent
		if err := rows.Scan(
			&e.ID,
			&e.EventType,
			&e.Severity,
			&e.Username,
			&e.Resource,
			&e.Method,
			&e.IPAddress,
			&e.Details,
			&e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate security events: %w", err)
	}
	return events, nil
}
