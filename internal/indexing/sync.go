package indexing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/chunking"
	"github.com/fyrsmithlabs/knowledged/internal/logging"
	"github.com/fyrsmithlabs/knowledged/internal/tenant"
	"github.com/fyrsmithlabs/knowledged/internal/vectorstore"
)

// Registry records which ids each section last wrote.
type Registry interface {
	SectionIDs(ctx context.Context, tenantID string, section tenant.Section) ([]string, error)
	SetSectionIDs(ctx context.Context, tenantID string, section tenant.Section, ids []string) error
	ClearSections(ctx context.Context, tenantID string) error
}

// Synchronizer writes records into tenant namespaces.
type Synchronizer struct {
	store       vectorstore.Store
	registry    Registry
	upsertBatch int
	logger      *logging.Logger
}

// NewSynchronizer creates a synchronizer that upserts in slices of
// upsertBatch records.
func NewSynchronizer(store vectorstore.Store, registry Registry, upsertBatch int, logger *logging.Logger) *Synchronizer {
	if upsertBatch < 1 {
		upsertBatch = 100
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Synchronizer{store: store, registry: registry, upsertBatch: upsertBatch, logger: logger.Named("sync")}
}

// FullRebuild empties the tenant's namespace and writes records. Every
// section's registry entry is rewritten, empty when no record carries it.
func (s *Synchronizer) FullRebuild(ctx context.Context, tenantID string, records []vectorstore.Record) error {
	ns := vectorstore.NamespaceFor(tenantID)
	if err := s.store.DeleteAll(ctx, ns); err != nil {
		return fmt.Errorf("clearing %s: %w", ns, err)
	}
	if err := s.upsert(ctx, ns, records); err != nil {
		return err
	}

	bySection := groupBySection(records)
	for _, section := range tenant.Sections {
		if err := s.registry.SetSectionIDs(ctx, tenantID, section, bySection[section]); err != nil {
			return err
		}
	}
	s.logger.Info(ctx, "namespace rebuilt", zap.String("namespace", ns), zap.Int("records", len(records)))
	return nil
}

// UpsertAdditive writes records without deleting and adds their ids to
// the registry.
func (s *Synchronizer) UpsertAdditive(ctx context.Context, tenantID string, records []vectorstore.Record) error {
	ns := vectorstore.NamespaceFor(tenantID)
	if err := s.upsert(ctx, ns, records); err != nil {
		return err
	}
	for section, ids := range groupBySection(records) {
		prior, err := s.registry.SectionIDs(ctx, tenantID, section)
		if err != nil {
			return err
		}
		if err := s.registry.SetSectionIDs(ctx, tenantID, section, Union(prior, ids)); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceSection deletes the section's id family and writes records in
// its place. The family is the union of the registry entry and derived,
// the ids synthesized from the current rows. Other sections are not
// touched.
func (s *Synchronizer) ReplaceSection(ctx context.Context, tenantID string, section tenant.Section, derived []string, records []vectorstore.Record) error {
	if err := s.DeleteSection(ctx, tenantID, section, derived); err != nil {
		return err
	}
	ns := vectorstore.NamespaceFor(tenantID)
	if err := s.upsert(ctx, ns, records); err != nil {
		return err
	}
	if err := s.registry.SetSectionIDs(ctx, tenantID, section, recordIDs(records)); err != nil {
		return err
	}
	s.logger.Info(ctx, "section replaced",
		zap.String("namespace", ns), zap.String("section", string(section)), zap.Int("records", len(records)))
	return nil
}

// DeleteSection removes the section's registered ids plus extra and
// records the section as empty.
func (s *Synchronizer) DeleteSection(ctx context.Context, tenantID string, section tenant.Section, extra []string) error {
	prior, err := s.registry.SectionIDs(ctx, tenantID, section)
	if err != nil {
		return err
	}
	stale := Union(prior, extra)
	ns := vectorstore.NamespaceFor(tenantID)
	if err := s.store.DeleteByIDs(ctx, ns, stale); err != nil {
		return fmt.Errorf("deleting %s ids from %s: %w", section, ns, err)
	}
	return s.registry.SetSectionIDs(ctx, tenantID, section, nil)
}

// Describe reports the tenant's vector count.
func (s *Synchronizer) Describe(ctx context.Context, tenantID string) (vectorstore.Info, error) {
	return s.store.Describe(ctx, vectorstore.NamespaceFor(tenantID))
}

// Query searches only the tenant's namespace.
func (s *Synchronizer) Query(ctx context.Context, tenantID string, vector []float32, topK int) ([]vectorstore.Match, error) {
	return s.store.Query(ctx, vectorstore.NamespaceFor(tenantID), vector, topK)
}

// Drop deletes the tenant's namespace and forgets its registry.
func (s *Synchronizer) Drop(ctx context.Context, tenantID string) error {
	ns := vectorstore.NamespaceFor(tenantID)
	if err := s.store.DeleteAll(ctx, ns); err != nil {
		return fmt.Errorf("dropping %s: %w", ns, err)
	}
	return s.registry.ClearSections(ctx, tenantID)
}

func (s *Synchronizer) upsert(ctx context.Context, ns string, records []vectorstore.Record) error {
	for start := 0; start < len(records); start += s.upsertBatch {
		end := min(start+s.upsertBatch, len(records))
		if err := s.store.Upsert(ctx, ns, records[start:end]); err != nil {
			return fmt.Errorf("upserting into %s: %w", ns, err)
		}
	}
	return nil
}

// Union returns the distinct ids of all lists in first-seen order.
func Union(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, l := range lists {
		for _, id := range l {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func groupBySection(records []vectorstore.Record) map[tenant.Section][]string {
	out := make(map[tenant.Section][]string)
	for _, r := range records {
		section := tenant.Section(r.Metadata[chunking.MetaSection])
		if section == "" {
			section = tenant.SectionSources
		}
		out[section] = append(out[section], r.ID)
	}
	return out
}

func recordIDs(records []vectorstore.Record) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}
