package model

import "time"

// InvoiceActivity is the read model the invoicing service exposes for
// security analytics. This subsystem never writes it.
type InvoiceActivity struct {
	ID             int64     `json:"id"`
	Ref            string    `json:"ref"`
	ClientUsername *string   `json:"clientUsername,omitempty"`
	VendorUsername *string   `json:"vendorUsername,omitempty"`
	TotalAmount    float64   `json:"totalAmount"`
	IssuedAt       time.Time `json:"issuedAt"`
}

// SuspiciousTransaction is one row of the high-value invoice report
type SuspiciousTransaction struct {
	Ref    string    `json:"ref"`
	Amount float64   `json:"amount"`
	User   string    `json:"user"`
	Date   time.Time `json:"date"`
	Reason string    `json:"reason"`
}

// InvoiceStats aggregates invoice activity for the security dashboard
type InvoiceStats struct {
	TotalInvoices          int64                   `json:"totalInvoices"`
	HighValueFlagged       int64                   `json:"highValueFlagged"`
	SuspiciousTransactions []SuspiciousTransaction `json:"suspiciousTransactions"`
}
