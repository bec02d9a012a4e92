package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/knowledged/internal/tenant"
)

// SectionIDs returns the chunk ids section last wrote for the tenant.
func (s *SQLite) SectionIDs(ctx context.Context, tenantID string, section tenant.Section) ([]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT ids FROM index_sections WHERE tenant_id = ? AND section = ?`,
		tenantID, string(section)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading section %s for %s: %w", section, tenantID, err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("decoding section %s for %s: %w", section, tenantID, err)
	}
	return ids, nil
}

// Sections returns every recorded section for the tenant.
func (s *SQLite) Sections(ctx context.Context, tenantID string) (map[tenant.Section][]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT section, ids FROM index_sections WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("reading sections for %s: %w", tenantID, err)
	}
	defer rows.Close()

	out := make(map[tenant.Section][]string)
	for rows.Next() {
		var section, raw string
		if err := rows.Scan(&section, &raw); err != nil {
			return nil, err
		}
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			return nil, fmt.Errorf("decoding section %s for %s: %w", section, tenantID, err)
		}
		out[tenant.Section(section)] = ids
	}
	return out, rows.Err()
}

// SetSectionIDs records the ids section now holds. The tenant row must
// exist.
func (s *SQLite) SetSectionIDs(ctx context.Context, tenantID string, section tenant.Section, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO index_sections (tenant_id, section, ids, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id, section) DO UPDATE SET ids = excluded.ids, updated_at = excluded.updated_at`,
		tenantID, string(section), string(raw), s.timestamp())
	if err != nil {
		return fmt.Errorf("recording section %s for %s: %w", section, tenantID, err)
	}
	return nil
}

// ClearSections forgets every recorded section for the tenant.
func (s *SQLite) ClearSections(ctx context.Context, tenantID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM index_sections WHERE tenant_id = ?`, tenantID); err != nil {
		return fmt.Errorf("clearing sections for %s: %w", tenantID, err)
	}
	return nil
}
