package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Operation is one journaled state transition.
type Operation struct {
	OperationID string    `json:"operation_id"`
	TenantID    string    `json:"tenant_id"`
	Kind        string    `json:"kind"`
	State       string    `json:"state"`
	Detail      string    `json:"detail,omitempty"`
	At          time.Time `json:"at"`
}

// AppendOperation journals a transition. A zero At is stamped with now.
func (s *SQLite) AppendOperation(ctx context.Context, op Operation) error {
	if op.At.IsZero() {
		op.At = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operations (operation_id, tenant_id, kind, state, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		op.OperationID, op.TenantID, op.Kind, op.State, op.Detail, op.At.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("journaling operation %s: %w", op.OperationID, err)
	}
	return nil
}

// LastOperation returns the most recent transition for the tenant.
func (s *SQLite) LastOperation(ctx context.Context, tenantID string) (*Operation, error) {
	ops, err := s.Operations(ctx, tenantID, 1)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("operations for %s: %w", tenantID, ErrNotFound)
	}
	return &ops[0], nil
}

// Operations returns up to limit transitions, newest first.
func (s *SQLite) Operations(ctx context.Context, tenantID string, limit int) ([]Operation, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT operation_id, tenant_id, kind, state, detail, created_at
		FROM operations WHERE tenant_id = ? ORDER BY seq DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("reading operations for %s: %w", tenantID, err)
	}
	defer rows.Close()
	return scanOperations(rows)
}

// OperationHistory returns every transition of one operation in order.
func (s *SQLite) OperationHistory(ctx context.Context, operationID string) ([]Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT operation_id, tenant_id, kind, state, detail, created_at
		FROM operations WHERE operation_id = ? ORDER BY seq`, operationID)
	if err != nil {
		return nil, fmt.Errorf("reading operation %s: %w", operationID, err)
	}
	defer rows.Close()
	ops, err := scanOperations(rows)
	if err == nil && len(ops) == 0 {
		err = fmt.Errorf("operation %s: %w", operationID, ErrNotFound)
	}
	return ops, err
}

func scanOperations(rows *sql.Rows) ([]Operation, error) {
	var out []Operation
	for rows.Next() {
		var (
			op Operation
			at string
		)
		if err := rows.Scan(&op.OperationID, &op.TenantID, &op.Kind, &op.State, &op.Detail, &at); err != nil {
			return nil, err
		}
		t, err := time.Parse(timeFormat, at)
		if err != nil {
			return nil, fmt.Errorf("parsing operation time %q: %w", at, err)
		}
		op.At = t
		out = append(out, op)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return out, nil
}
