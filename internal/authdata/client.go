// Package authdata is the read-only capability over the authoritative
// transactional database. It produces immutable, provenanced DomainFacts;
// it never writes, and no transaction spans multiple queries.
package authdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Harshitk-cp/mnemo/internal/domain"
	"github.com/Harshitk-cp/mnemo/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultQueryTimeout bounds every authoritative read. A timed-out source
// contributes zero facts; it never fails the surrounding query.
const DefaultQueryTimeout = 3 * time.Second

type Client struct {
	db      *pgxpool.Pool
	Timeout time.Duration
}

func NewClient(db *pgxpool.Pool) *Client {
	return &Client{db: db, Timeout: DefaultQueryTimeout}
}

// FindCustomerByName backs lazy entity creation: an exact case-insensitive
// match against the customers table.
func (c *Client) FindCustomerByName(ctx context.Context, name string) (*domain.ExternalRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	var id, customerName, city string
	err := c.db.QueryRow(ctx,
		`SELECT id, name, city FROM customers WHERE LOWER(name) = LOWER($1)`,
		strings.TrimSpace(name),
	).Scan(&id, &customerName, &city)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("customer lookup: %w", err)
	}

	return &domain.ExternalRecord{
		EntityType: "customer",
		ExternalID: id,
		Name:       customerName,
		Ref:        domain.ExternalRef{SourceTable: "customers", SourceID: id},
		Properties: map[string]any{"city": city},
	}, nil
}

// InvoiceStatus returns one fact per invoice for the customer, newest
// first.
func (c *Client) InvoiceStatus(ctx context.Context, customerEntityID string) ([]domain.DomainFact, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	customerID := strings.TrimPrefix(customerEntityID, "customer_")

	rows, err := c.db.Query(ctx,
		`SELECT id, status, amount, due_date
		 FROM invoices
		 WHERE customer_id = $1
		 ORDER BY due_date DESC
		 LIMIT 20`,
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("invoice query: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var facts []domain.DomainFact
	for rows.Next() {
		var id, status string
		var amount float64
		var dueDate time.Time
		if err := rows.Scan(&id, &status, &amount, &dueDate); err != nil {
			return nil, fmt.Errorf("scan invoice row: %w", err)
		}
		facts = append(facts, domain.DomainFact{
			FactType: "invoice_status",
			EntityID: customerEntityID,
			Content: fmt.Sprintf("invoice %s: %s, %.2f due %s",
				id, status, amount, dueDate.Format("2006-01-02")),
			Metadata:    map[string]any{"invoice_id": id, "status": status, "amount": amount},
			SourceTable: "invoices",
			SourceRows:  []string{id},
			RetrievedAt: now,
		})
	}
	return facts, rows.Err()
}

// OrderChain walks a sales order to its deliveries and invoices.
func (c *Client) OrderChain(ctx context.Context, salesOrderNumber string) ([]domain.DomainFact, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	rows, err := c.db.Query(ctx,
		`SELECT so.id, so.customer_id, so.status,
		        COALESCE(d.id, ''), COALESCE(d.status, ''),
		        COALESCE(i.id, ''), COALESCE(i.status, '')
		 FROM sales_orders so
		 LEFT JOIN deliveries d ON d.sales_order_id = so.id
		 LEFT JOIN invoices i ON i.sales_order_id = so.id
		 WHERE so.order_number = $1`,
		salesOrderNumber,
	)
	if err != nil {
		return nil, fmt.Errorf("order chain query: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var facts []domain.DomainFact
	for rows.Next() {
		var orderID, customerID, orderStatus, deliveryID, deliveryStatus, invoiceID, invoiceStatus string
		if err := rows.Scan(&orderID, &customerID, &orderStatus, &deliveryID, &deliveryStatus, &invoiceID, &invoiceStatus); err != nil {
			return nil, fmt.Errorf("scan order chain row: %w", err)
		}

		content := fmt.Sprintf("sales order %s: %s", salesOrderNumber, orderStatus)
		sourceRows := []string{orderID}
		if deliveryID != "" {
			content += fmt.Sprintf("; delivery %s: %s", deliveryID, deliveryStatus)
			sourceRows = append(sourceRows, deliveryID)
		}
		if invoiceID != "" {
			content += fmt.Sprintf("; invoice %s: %s", invoiceID, invoiceStatus)
			sourceRows = append(sourceRows, invoiceID)
		}

		facts = append(facts, domain.DomainFact{
			FactType:    "order_chain",
			EntityID:    domain.MakeEntityID("customer", customerID),
			Content:     content,
			Metadata:    map[string]any{"order_number": salesOrderNumber, "order_status": orderStatus},
			SourceTable: "sales_orders",
			SourceRows:  sourceRows,
			RetrievedAt: now,
		})
	}
	return facts, rows.Err()
}

// FactsForEntity is the generic per-entity fan-out: currently invoice
// status for customers, nothing for other entity types.
func (c *Client) FactsForEntity(ctx context.Context, entityID string) ([]domain.DomainFact, error) {
	if strings.HasPrefix(entityID, "customer_") {
		return c.InvoiceStatus(ctx, entityID)
	}
	return nil, nil
}
