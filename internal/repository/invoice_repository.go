package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mediatech/mediatech-auth/internal/database"
	"github.com/mediatech/mediatech-auth/internal/model"
)

const suspiciousTransactionLimit = 5

// InvoiceRepository reads the invoice activity table populated by the
// invoicing service and answers the business-activity questions the risk
// scorer asks.
type InvoiceRepository struct {
	db                 *database.Postgres
	highValueThreshold float64
	rapidThreshold     int
}

// NewInvoiceRepository creates a new InvoiceRepository
func NewInvoiceRepository(db *database.Postgres, highValueThreshold float64, rapidThreshold int) *InvoiceRepository {
	return &InvoiceRepository{
		db:                 db,
		highValueThreshold: highValueThreshold,
		rapidThreshold:     rapidThreshold,
	}
}

// HighValueTransactionCount counts invoices above the monetary threshold in
// which username took part as client or vendor since the given time
func (r *InvoiceRepository) HighValueTransactionCount(ctx context.Context, username string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM invoice_activity
		WHERE (client_username = $1 OR vendor_username = $1)
		  AND issued_at > $2
		  AND total_amount > $3
	`
	var count int
	if err := r.db.QueryRowContext(ctx, query, username, since, r.highValueThreshold).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count high value invoices: %w", err)
	}
	return count, nil
}

// RapidActivityDayCount counts calendar days on which username issued more
// invoices than the velocity threshold
func (r *InvoiceRepository) RapidActivityDayCount(ctx context.Context, username string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM (
			SELECT date_trunc('day', issued_at)
			FROM invoice_activity
			WHERE (client_username = $1 OR vendor_username = $1)
			  AND issued_at > $2
			GROUP BY date_trunc('day', issued_at)
			HAVING COUNT(*) > $3
		) AS busy_days
	`
	var count int
	if err := r.db.QueryRowContext(ctx, query, username, since, r.rapidThreshold).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rapid activity days: %w", err)
	}
	return count, nil
}

// InvoiceStats returns totals plus the largest flagged invoices
func (r *InvoiceRepository) InvoiceStats(ctx context.Context) (*model.InvoiceStats, error) {
	stats := &model.InvoiceStats{SuspiciousTransactions: []model.SuspiciousTransaction{}}

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE total_amount > $1)
		FROM invoice_activity
	`, r.highValueThreshold).Scan(&stats.TotalInvoices, &stats.HighValueFlagged)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate invoices: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT ref, total_amount, client_username, issued_at
		FROM invoice_activity
		WHERE total_amount > $1
		ORDER BY total_amount DESC, id ASC
		LIMIT $2
	`, r.highValueThreshold, suspiciousTransactionLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list suspicious invoices: %w", err)
	}
	defer rows.Close()

	reason := fmt.Sprintf("Exceeds Threshold (%.1f)", r.highValueThreshold)
	for rows.Next() {
		var (
			tx     model.SuspiciousTransaction
			client sql.NullString
		)
		if err := rows.Scan(&tx.Ref, &tx.Amount, &client, &tx.Date); err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		tx.User = "Unknown"
		if client.Valid {
			tx.User = client.String
		}
		tx.Reason = reason
		stats.SuspiciousTransactions = append(stats.SuspiciousTransactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invoices: %w", err)
	}
	return stats, nil
}

// FindByRef retrieves one invoice by reference
func (r *InvoiceRepository) FindByRef(ctx context.Context, ref string) (*model.InvoiceActivity, error) {
	query := `
		SELECT id, ref, client_username, vendor_username, total_amount, issued_at
		FROM invoice_activity
		WHERE ref = $1
	`
	var inv model.InvoiceActivity
	err := r.db.QueryRowContext(ctx, query, ref).Scan(
		&inv.ID, &inv.Ref, &inv.ClientUsername, &inv.VendorUsername, &inv.TotalAmount, &inv.IssuedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return &inv, nil
}
