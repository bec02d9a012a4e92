package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/knowledged/internal/sanitize"
	"github.com/fyrsmithlabs/knowledged/internal/tenant"
)

// sourcesRow is the JSON held in tenants.sources_json.
type sourcesRow struct {
	Tabular      bool     `json:"tabular"`
	Documents    bool     `json:"documents"`
	ContainerIDs []string `json:"container_ids,omitempty"`
	AllowedKinds []string `json:"allowed_kinds,omitempty"`
}

// WriteSnapshot upserts the tenant, its agent configuration and its
// services in one transaction. Services not in snap are removed; their
// positions go through tenant.NormalizeServices.
func (s *SQLite) WriteSnapshot(ctx context.Context, snap tenant.Snapshot) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.upsertTenant(ctx, tx, snap.Config); err != nil {
			return err
		}
		if err := upsertProfile(ctx, tx, snap.Config.ID, snap.Profile); err != nil {
			return err
		}
		return replaceServices(ctx, tx, snap.Config.ID, snap.Services)
	})
}

// SaveProfile replaces the agent configuration row of an existing tenant.
func (s *SQLite) SaveProfile(ctx context.Context, tenantID string, p tenant.Profile) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.touch(ctx, tx, tenantID); err != nil {
			return err
		}
		return upsertProfile(ctx, tx, tenantID, p)
	})
}

// SaveServices replaces the service rows of an existing tenant, numbering
// them as WriteSnapshot does.
func (s *SQLite) SaveServices(ctx context.Context, tenantID string, services []tenant.Service) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.touch(ctx, tx, tenantID); err != nil {
			return err
		}
		return replaceServices(ctx, tx, tenantID, services)
	})
}

// Snapshot reads everything an index is rebuilt from.
func (s *SQLite) Snapshot(ctx context.Context, tenantID string) (*tenant.Snapshot, error) {
	cfg, err := s.Tenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	snap := &tenant.Snapshot{Config: *cfg}

	err = s.db.QueryRowContext(ctx, `
		SELECT tone_style, communication_style, formality_level, business_hours,
		       contact_phone, contact_email, contact_address, emergency_contact,
		       special_instructions, general_faqs_raw
		FROM tenant_configs WHERE tenant_id = ?`, tenantID).Scan(
		&snap.Profile.ToneStyle, &snap.Profile.CommunicationStyle, &snap.Profile.FormalityLevel,
		&snap.Profile.BusinessHours, &snap.Profile.ContactPhone, &snap.Profile.ContactEmail,
		&snap.Profile.ContactAddress, &snap.Profile.EmergencyContact,
		&snap.Profile.SpecialInstructions, &snap.Profile.GeneralFAQsRaw)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reading tenant config: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT position, service_name, category, description, pricing, duration,
		       service_faqs_raw, is_active
		FROM services WHERE tenant_id = ? ORDER BY position`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("reading services: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			svc    tenant.Service
			active int
		)
		if err := rows.Scan(&svc.Position, &svc.Name, &svc.Category, &svc.Description,
			&svc.Pricing, &svc.Duration, &svc.FAQsRaw, &active); err != nil {
			return nil, fmt.Errorf("scanning service: %w", err)
		}
		svc.Active = active == 1
		snap.Services = append(snap.Services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading services: %w", err)
	}
	return snap, nil
}

// Tenant reads one tenant row.
func (s *SQLite) Tenant(ctx context.Context, tenantID string) (*tenant.Config, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, business_name, plan_type, is_active, spreadsheet_id, sources_json
		FROM tenants WHERE id = ?`, tenantID)
	cfg, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrNotFound)
	}
	return cfg, err
}

// ListTenants returns tenants ordered by id.
func (s *SQLite) ListTenants(ctx context.Context, activeOnly bool) ([]tenant.Config, error) {
	q := `SELECT id, business_name, plan_type, is_active, spreadsheet_id, sources_json FROM tenants`
	if activeOnly {
		q += ` WHERE is_active = 1`
	}
	rows, err := s.db.QueryContext(ctx, q+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var out []tenant.Config
	for rows.Next() {
		cfg, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cfg)
	}
	return out, rows.Err()
}

// DeleteTenant removes the tenant and, by cascade, its configuration,
// services and section registry. Deleting a missing tenant succeeds.
func (s *SQLite) DeleteTenant(ctx context.Context, tenantID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = ?`, tenantID); err != nil {
		return fmt.Errorf("deleting tenant %s: %w", tenantID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTenant(row scanner) (*tenant.Config, error) {
	var (
		cfg     tenant.Config
		active  int
		sources string
	)
	if err := row.Scan(&cfg.ID, &cfg.BusinessName, &cfg.PlanType, &active, &cfg.SpreadsheetID, &sources); err != nil {
		return nil, err
	}
	cfg.Active = active == 1

	var src sourcesRow
	if err := json.Unmarshal([]byte(sources), &src); err != nil {
		return nil, fmt.Errorf("decoding sources for %s: %w", cfg.ID, err)
	}
	cfg.Sources = tenant.Sources{Tabular: src.Tabular, Documents: src.Documents}
	cfg.ContainerIDs = src.ContainerIDs
	cfg.AllowedKinds = src.AllowedKinds
	return &cfg, nil
}

func (s *SQLite) upsertTenant(ctx context.Context, tx *sql.Tx, cfg tenant.Config) error {
	if err := sanitize.ValidateTenantID(cfg.ID); err != nil {
		return err
	}
	sources, err := json.Marshal(sourcesRow{
		Tabular:      cfg.Sources.Tabular,
		Documents:    cfg.Sources.Documents,
		ContainerIDs: cfg.ContainerIDs,
		AllowedKinds: cfg.AllowedKinds,
	})
	if err != nil {
		return err
	}
	var container string
	if len(cfg.ContainerIDs) > 0 {
		container = cfg.ContainerIDs[0]
	}

	now := s.timestamp()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tenants (id, business_name, plan_type, is_active, namespace_id,
		                     document_container_id, spreadsheet_id, sources_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			business_name = excluded.business_name,
			plan_type = excluded.plan_type,
			is_active = excluded.is_active,
			namespace_id = excluded.namespace_id,
			document_container_id = excluded.document_container_id,
			spreadsheet_id = excluded.spreadsheet_id,
			sources_json = excluded.sources_json,
			updated_at = excluded.updated_at`,
		cfg.ID, cfg.BusinessName, cfg.PlanType, boolInt(cfg.Active), cfg.Namespace(),
		container, cfg.SpreadsheetID, string(sources), now, now)
	if err != nil {
		return fmt.Errorf("upserting tenant %s: %w", cfg.ID, err)
	}
	return nil
}

// touch bumps updated_at and fails with ErrNotFound for unknown tenants.
func (s *SQLite) touch(ctx context.Context, tx *sql.Tx, tenantID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tenants SET updated_at = ? WHERE id = ?`, s.timestamp(), tenantID)
	if err != nil {
		return fmt.Errorf("updating tenant %s: %w", tenantID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("tenant %s: %w", tenantID, ErrNotFound)
	}
	return nil
}

func upsertProfile(ctx context.Context, tx *sql.Tx, tenantID string, p tenant.Profile) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tenant_configs (tenant_id, tone_style, communication_style, formality_level,
		                            business_hours, contact_phone, contact_email, contact_address,
		                            emergency_contact, special_instructions, general_faqs_raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			tone_style = excluded.tone_style,
			communication_style = excluded.communication_style,
			formality_level = excluded.formality_level,
			business_hours = excluded.business_hours,
			contact_phone = excluded.contact_phone,
			contact_email = excluded.contact_email,
			contact_address = excluded.contact_address,
			emergency_contact = excluded.emergency_contact,
			special_instructions = excluded.special_instructions,
			general_faqs_raw = excluded.general_faqs_raw`,
		tenantID, p.ToneStyle, p.CommunicationStyle, p.FormalityLevel, p.BusinessHours,
		p.ContactPhone, p.ContactEmail, p.ContactAddress, p.EmergencyContact,
		p.SpecialInstructions, p.GeneralFAQsRaw)
	if err != nil {
		return fmt.Errorf("upserting config for %s: %w", tenantID, err)
	}
	return nil
}

func replaceServices(ctx context.Context, tx *sql.Tx, tenantID string, services []tenant.Service) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM services WHERE tenant_id = ?`, tenantID); err != nil {
		return fmt.Errorf("clearing services for %s: %w", tenantID, err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO services (tenant_id, position, service_name, category, description,
		                      pricing, duration, service_faqs_raw, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, svc := range tenant.NormalizeServices(services) {
		if _, err := stmt.ExecContext(ctx, tenantID, svc.Position, svc.Name, svc.Category,
			svc.Description, svc.Pricing, svc.Duration, svc.FAQsRaw, boolInt(svc.Active)); err != nil {
			return fmt.Errorf("inserting service %d for %s: %w", svc.Position, tenantID, err)
		}
	}
	return nil
}
