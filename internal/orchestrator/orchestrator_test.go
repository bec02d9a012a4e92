package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/knowledged/internal/cache"
	"github.com/fyrsmithlabs/knowledged/internal/chunking"
	"github.com/fyrsmithlabs/knowledged/internal/embeddings"
	"github.com/fyrsmithlabs/knowledged/internal/indexing"
	"github.com/fyrsmithlabs/knowledged/internal/secrets"
	"github.com/fyrsmithlabs/knowledged/internal/sources"
	"github.com/fyrsmithlabs/knowledged/internal/store"
	"github.com/fyrsmithlabs/knowledged/internal/tenant"
	"github.com/fyrsmithlabs/knowledged/internal/vectorstore"
)

func TestSetup_AcmeDental(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res, err := h.orch.Setup(ctx, SetupInput{Snapshot: acmeDental()})
	require.NoError(t, err)

	assert.Equal(t, StateVerified, res.State)
	assert.Equal(t, KindSetup, res.Kind)
	assert.Equal(t, "acme-dental", res.TenantID)
	assert.Equal(t, 10, res.VectorCount)
	assert.Len(t, res.OperationID, 26, "ULID")
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 10, res.Stats.Vectors)

	assert.Equal(t, []string{
		"PENDING", "METADATA_WRITTEN", "INDEX_REBUILT", "VERIFYING", "VERIFIED",
	}, h.states(t, res.OperationID))

	sections, err := h.meta.Sections(ctx, "acme-dental")
	require.NoError(t, err)
	assert.Len(t, sections[tenant.SectionServices], 6)
	assert.Len(t, sections[tenant.SectionConfig], 4)
	assert.Empty(t, sections[tenant.SectionSources])

	contents := h.contents(t, "acme-dental")
	assert.Contains(t, contents, "acme-dental-service-pricing-2")
	assert.NotContains(t, contents, "acme-dental-service-pricing-1", "priceless service has no pricing block")

	h.logs.AssertLogged(t, zapcore.InfoLevel, "operation transition")
	assert.Empty(t, h.sleeps.recorded(), "first probe succeeds")
}

func TestSetup_ServicesWithoutPositions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	snap := acmeDental()
	for i := range snap.Services {
		snap.Services[i].Position = 0
	}
	res, err := h.orch.Setup(ctx, SetupInput{Snapshot: snap})
	require.NoError(t, err)
	assert.Equal(t, StateVerified, res.State)
	assert.Equal(t, 10, res.VectorCount)

	stored, err := h.meta.Snapshot(ctx, "acme-dental")
	require.NoError(t, err)
	require.Len(t, stored.Services, 3)
	for i, svc := range stored.Services {
		assert.Equal(t, i, svc.Position)
		assert.Equal(t, acmeDental().Services[i].Name, svc.Name)
	}
	assert.Contains(t, h.contents(t, "acme-dental"), "acme-dental-service-pricing-2")
}

func TestSetup_Idempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.orch.Setup(ctx, SetupInput{Snapshot: acmeDental()})
	require.NoError(t, err)
	first := h.contents(t, "acme-dental")

	res, err := h.orch.Setup(ctx, SetupInput{Snapshot: acmeDental()})
	require.NoError(t, err)
	assert.Equal(t, 10, res.VectorCount, "not doubled")
	assert.Equal(t, first, h.contents(t, "acme-dental"))
}

func TestSetup_RollbackRemovesNewTenant(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withAdapters(func(c cache.Cache) sources.Adapters {
		return sources.Adapters{Tabular: sources.NewTabularAdapter(downSheets{}, c, nil)}
	}))

	snap := acmeDental()
	snap.Config.Sources.Tabular = true
	snap.Config.SpreadsheetID = "sheet-1"

	res, err := h.orch.Setup(ctx, SetupInput{Snapshot: snap})
	require.Error(t, err)
	assert.ErrorIs(t, err, sources.ErrSourceUnavailable)
	assert.Equal(t, StateRolledBack, res.State)

	_, err = h.meta.Snapshot(ctx, "acme-dental")
	assert.ErrorIs(t, err, store.ErrNotFound, "no relational rows")
	info, err := h.vectors.Describe(ctx, vectorstore.NamespaceFor("acme-dental"))
	require.NoError(t, err)
	assert.Zero(t, info.VectorCount, "no vectors")

	assert.Equal(t, []string{
		"PENDING", "METADATA_WRITTEN", "INDEX_REBUILT", "ROLLED_BACK",
	}, h.states(t, res.OperationID), "journal survives the tenant")

	st, err := h.orch.Status(ctx, "acme-dental")
	require.NoError(t, err)
	assert.False(t, st.Exists)
	require.NotNil(t, st.LastOperation)
	assert.Equal(t, StateRolledBack, st.LastOperation.State)
}

func TestSetup_RollbackRestoresPriorTenant(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withAdapters(func(c cache.Cache) sources.Adapters {
		return sources.Adapters{Tabular: sources.NewTabularAdapter(downSheets{}, c, nil)}
	}))

	_, err := h.orch.Setup(ctx, SetupInput{Snapshot: acmeDental()})
	require.NoError(t, err)
	before := h.contents(t, "acme-dental")

	changed := acmeDental()
	changed.Services = changed.Services[:1]
	changed.Config.Sources.Tabular = true
	changed.Config.SpreadsheetID = "sheet-1"

	res, err := h.orch.Setup(ctx, SetupInput{Snapshot: changed})
	require.Error(t, err)
	assert.Equal(t, StateRolledBack, res.State)

	snap, err := h.meta.Snapshot(ctx, "acme-dental")
	require.NoError(t, err)
	assert.Len(t, snap.Services, 3)
	assert.False(t, snap.Config.Sources.Tabular)
	assert.Equal(t, before, h.contents(t, "acme-dental"))

	sections, err := h.meta.Sections(ctx, "acme-dental")
	require.NoError(t, err)
	assert.Len(t, sections[tenant.SectionServices], 6)
}

func TestSetup_AccessDeniedRollsBackWithoutListing(t *testing.T) {
	ctx := context.Background()
	drive := &memDrive{}
	h := newHarness(t, withAdapters(func(c cache.Cache) sources.Adapters {
		guard := tenant.NewGuard(allowList{"acme-dental": {"acme-folder"}}, nil)
		ms, err := sources.NewMultiSourceAdapter(nil, drive, guard, nil, c, sources.MultiSourceOptions{}, nil)
		require.NoError(t, err)
		t.Cleanup(ms.Close)
		return sources.Adapters{MultiSource: ms}
	}))

	snap := acmeDental()
	snap.Config.Sources.Documents = true
	snap.Config.ContainerIDs = []string{"beta-folder"}

	res, err := h.orch.Setup(ctx, SetupInput{Snapshot: snap})
	require.Error(t, err)
	assert.ErrorIs(t, err, sources.ErrAccessDenied)
	assert.Equal(t, StateRolledBack, res.State)
	assert.Empty(t, drive.listed)
}

func TestSetup_IndexesScrubbedDocuments(t *testing.T) {
	ctx := context.Background()
	drive := &memDrive{
		files: map[string][]sources.FileInfo{
			"acme-folder": {{
				ID:           "file-1",
				Name:         "Front desk notes",
				MimeType:     sources.MimeText,
				Parents:      []string{"acme-folder"},
				ModifiedTime: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
			}},
		},
		content: map[string]string{
			"file-1": "New patients should arrive ten minutes early. The portal password: hunter2-staff-only is on the card.",
		},
	}
	scrubber, err := secrets.New(&secrets.Config{Enabled: true, Rules: secrets.DefaultRules()}, nil)
	require.NoError(t, err)

	h := newHarness(t,
		withAdapters(func(c cache.Cache) sources.Adapters {
			guard := tenant.NewGuard(allowList{"acme-dental": {"acme-folder"}}, nil)
			ms, err := sources.NewMultiSourceAdapter(nil, drive, guard, nil, c, sources.MultiSourceOptions{}, nil)
			require.NoError(t, err)
			t.Cleanup(ms.Close)
			return sources.Adapters{MultiSource: ms}
		}),
		withPipeline(func(deps *Deps) { deps.Scrubber = scrubber }),
	)

	snap := acmeDental()
	snap.Config.Sources.Documents = true

	res, err := h.orch.Setup(ctx, SetupInput{Snapshot: snap})
	require.NoError(t, err)
	assert.Equal(t, StateVerified, res.State)
	assert.Equal(t, 11, res.VectorCount)
	assert.Contains(t, h.states(t, res.OperationID), "DOCUMENTS_INDEXED")
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "1 secrets redacted")

	id := tenant.DeriveID("acme-dental", tenant.DocumentCategory("Front desk notes", "file-1"), 0)
	text := h.contents(t, "acme-dental")[id]
	assert.Contains(t, text, "arrive ten minutes early")
	assert.NotContains(t, text, "hunter2")
	assert.Contains(t, text, "[REDACTED:password-assignment]")

	sections, err := h.meta.Sections(ctx, "acme-dental")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, sections[tenant.SectionSources])
}

func TestSetup_FillsOmittedDataFromStatic(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acme-dental.yaml"), []byte(`
tenant_id: acme-dental
profile:
  business_hours: "Mon-Fri 9am-5pm"
  contact_phone: "555-0100"
services:
  - name: Cleaning
    pricing: "$120"
  - name: Whitening
`), 0o600))
	static, err := tenant.NewDirectory(dir, nil)
	require.NoError(t, err)

	h := newHarness(t, withAdapters(func(cache.Cache) sources.Adapters {
		return sources.Adapters{Static: sources.NewStaticAdapter(static)}
	}))

	res, err := h.orch.Setup(ctx, SetupInput{Snapshot: tenant.Snapshot{
		Config: tenant.Config{ID: "acme-dental", BusinessName: "Acme Dental", Active: true},
	}})
	require.NoError(t, err)
	assert.Equal(t, 6, res.VectorCount)

	snap, err := h.meta.Snapshot(ctx, "acme-dental")
	require.NoError(t, err)
	assert.Equal(t, "Mon-Fri 9am-5pm", snap.Profile.BusinessHours)
	assert.Len(t, snap.Services, 2)
}

func TestSetup_VerificationTimeoutIsDegraded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withVectors(func(s vectorstore.Store) vectorstore.Store {
		return emptyDescribe{Store: s}
	}))

	res, err := h.orch.Setup(ctx, SetupInput{Snapshot: acmeDental()})
	require.NoError(t, err, "verification timeout is not an error")
	assert.Equal(t, StateDegraded, res.State)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], ErrVerificationTimeout.Error())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, h.sleeps.recorded(),
		"doubling delay, no sleep after the last probe")

	sections, err := h.meta.Sections(ctx, "acme-dental")
	require.NoError(t, err)
	assert.Len(t, sections[tenant.SectionConfig], 4, "degraded setups keep their data")
}

func TestSetup_RateLimitExhaustedIsDegraded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withPipeline(func(deps *Deps) {
		deps.Pipeline = indexing.PipelineConfig{
			BatchSize:           5,
			RateLimitCooldown:   time.Minute,
			MaxRateLimitRetries: 3,
			InterBatchDelay:     time.Second,
		}
	}))
	h.embedder.setFail(func(call int) error {
		if call < 4 {
			return embeddings.ErrRateLimited
		}
		return nil
	})

	res, err := h.orch.Setup(ctx, SetupInput{Snapshot: acmeDental()})
	require.NoError(t, err)
	assert.Equal(t, StateDegraded, res.State)
	assert.Equal(t, 5, res.VectorCount)
	assert.True(t, res.Stats.Exhausted)
	assert.Len(t, res.Stats.SkippedIDs, 5)
	assert.Equal(t, []time.Duration{time.Minute, time.Minute, time.Minute, time.Second}, h.sleeps.recorded())
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "rate limit exhausted")
}

func TestUpdateServicesConfig_LeavesConfigUntouched(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.orch.Setup(ctx, SetupInput{Snapshot: acmeDental()})
	require.NoError(t, err)
	before := h.contents(t, "acme-dental")

	snap := acmeDental()
	require.NoError(t, h.meta.SaveServices(ctx, "acme-dental", snap.Services[:2]))

	res, err := h.orch.UpdateServicesConfig(ctx, "acme-dental")
	require.NoError(t, err)
	assert.Equal(t, StateVerified, res.State)
	assert.Equal(t, KindUpdateServices, res.Kind)
	assert.Equal(t, 8, res.VectorCount)
	assert.NotContains(t, h.states(t, res.OperationID), "METADATA_WRITTEN")

	after := h.contents(t, "acme-dental")
	for id, text := range before {
		if strings.Contains(id, "-general-faq-") || strings.Contains(id, "-business-hours-") || strings.Contains(id, "-contact-info-") {
			assert.Equal(t, text, after[id], id)
		}
	}
	assert.NotContains(t, after, "acme-dental-service-description-2")
	assert.NotContains(t, after, "acme-dental-service-pricing-2")
	assert.NotEqual(t, before["acme-dental-services-overview-0"], after["acme-dental-services-overview-0"])
}

func TestUpdateAgentConfig_LeavesServicesUntouched(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.orch.Setup(ctx, SetupInput{Snapshot: acmeDental()})
	require.NoError(t, err)
	before := h.contents(t, "acme-dental")

	profile := acmeDental().Profile
	profile.GeneralFAQsRaw = "Q: Do you take insurance?\nA: Most plans."
	profile.ToneStyle = "warm"
	require.NoError(t, h.meta.SaveProfile(ctx, "acme-dental", profile))

	res, err := h.orch.UpdateAgentConfig(ctx, "acme-dental")
	require.NoError(t, err)
	assert.Equal(t, StateVerified, res.State)

	after := h.contents(t, "acme-dental")
	for id, text := range before {
		if strings.Contains(id, "-service") {
			assert.Equal(t, text, after[id], id)
		}
	}
	assert.NotContains(t, after, "acme-dental-general-faq-1", "stale FAQ id removed through the registry")
	assert.Contains(t, after, "acme-dental-communication-style-0")
	assert.Equal(t, 10, res.VectorCount)
}

func TestUpdateAgentConfig_CancellationBeforeWriteKeepsSection(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Setup(context.Background(), SetupInput{Snapshot: acmeDental()})
	require.NoError(t, err)
	before := h.contents(t, "acme-dental")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.embedder.setFail(func(int) error {
		cancel()
		return nil
	})

	res, err := h.orch.UpdateAgentConfig(ctx, "acme-dental")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateRolledBack, res.State)

	bg := context.Background()
	sections, err := h.meta.Sections(bg, "acme-dental")
	require.NoError(t, err)
	assert.Len(t, sections[tenant.SectionConfig], 4, "config section kept")
	assert.Len(t, sections[tenant.SectionServices], 6)

	info, err := h.vectors.Describe(bg, vectorstore.NamespaceFor("acme-dental"))
	require.NoError(t, err)
	assert.Equal(t, 10, info.VectorCount)
	assert.Equal(t, before, h.contents(t, "acme-dental"))

	_, err = h.meta.Snapshot(bg, "acme-dental")
	assert.NoError(t, err, "relational rows untouched")
	assert.Equal(t, "ROLLED_BACK", h.states(t, res.OperationID)[1])
}

// failUpsert fails every upsert after the first n.
type failUpsert struct {
	vectorstore.Store
	mu   sync.Mutex
	left int
}

func (f *failUpsert) Upsert(ctx context.Context, ns string, records []vectorstore.Record) error {
	f.mu.Lock()
	if f.left <= 0 {
		f.mu.Unlock()
		return errors.New("write quota exceeded")
	}
	f.left--
	f.mu.Unlock()
	return f.Store.Upsert(ctx, ns, records)
}

func TestUpdateAgentConfig_FailedWriteRollsBackSection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withVectors(func(s vectorstore.Store) vectorstore.Store {
		return &failUpsert{Store: s, left: 1}
	}))
	_, err := h.orch.Setup(ctx, SetupInput{Snapshot: acmeDental()})
	require.NoError(t, err)

	res, err := h.orch.UpdateAgentConfig(ctx, "acme-dental")
	require.Error(t, err)
	assert.Equal(t, StateRolledBack, res.State)

	sections, err := h.meta.Sections(ctx, "acme-dental")
	require.NoError(t, err)
	assert.Empty(t, sections[tenant.SectionConfig], "partially written section removed")
	assert.Len(t, sections[tenant.SectionServices], 6)

	info, err := h.vectors.Describe(ctx, vectorstore.NamespaceFor("acme-dental"))
	require.NoError(t, err)
	assert.Equal(t, 6, info.VectorCount)
}

func TestUpdate_UnknownTenant(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res, err := h.orch.UpdateServicesConfig(ctx, "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NotNil(t, res)
	assert.Empty(t, h.states(t, res.OperationID), "nothing journaled")

	_, err = h.orch.UpdateAgentConfig(ctx, "Not Valid")
	assert.Error(t, err)
}

func TestResync_SourceFailureIsWarning(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withAdapters(func(c cache.Cache) sources.Adapters {
		return sources.Adapters{Tabular: sources.NewTabularAdapter(downSheets{}, c, nil)}
	}))

	_, err := h.orch.Setup(ctx, SetupInput{Snapshot: acmeDental()})
	require.NoError(t, err)

	snap := acmeDental()
	snap.Config.Sources.Tabular = true
	snap.Config.SpreadsheetID = "sheet-1"
	require.NoError(t, h.meta.WriteSnapshot(ctx, snap))

	res, err := h.orch.Resync(ctx, "acme-dental")
	require.NoError(t, err)
	assert.Equal(t, StateVerified, res.State)
	assert.Equal(t, 10, res.VectorCount)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "tabular source unavailable")
}

func TestResync_SourceFailureKeepsIndexedDocuments(t *testing.T) {
	ctx := context.Background()
	drive := &memDrive{
		files: map[string][]sources.FileInfo{
			"acme-folder": {{
				ID:           "file-1",
				Name:         "Front desk notes",
				MimeType:     sources.MimeText,
				Parents:      []string{"acme-folder"},
				ModifiedTime: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
			}},
		},
		content: map[string]string{"file-1": "New patients should arrive ten minutes early."},
	}
	h := newHarness(t, withAdapters(func(c cache.Cache) sources.Adapters {
		guard := tenant.NewGuard(allowList{"acme-dental": {"acme-folder"}}, nil)
		ms, err := sources.NewMultiSourceAdapter(nil, drive, guard, nil, c, sources.MultiSourceOptions{}, nil)
		require.NoError(t, err)
		t.Cleanup(ms.Close)
		return sources.Adapters{MultiSource: ms}
	}))

	snap := acmeDental()
	snap.Config.Sources.Documents = true
	_, err := h.orch.Setup(ctx, SetupInput{Snapshot: snap})
	require.NoError(t, err)
	before := h.contents(t, "acme-dental")
	require.Len(t, before, 11)

	drive.failListing(errors.New("503 backend error"))
	res, err := h.orch.Resync(ctx, "acme-dental")
	require.NoError(t, err)
	assert.Equal(t, StateVerified, res.State)
	assert.Equal(t, 11, res.VectorCount)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "kept last indexed source data")
	assert.NotContains(t, h.states(t, res.OperationID), "DOCUMENTS_INDEXED")

	assert.Equal(t, before, h.contents(t, "acme-dental"), "document vectors survive")
	sections, err := h.meta.Sections(ctx, "acme-dental")
	require.NoError(t, err)
	docID := tenant.DeriveID("acme-dental", tenant.DocumentCategory("Front desk notes", "file-1"), 0)
	assert.Equal(t, []string{docID}, sections[tenant.SectionSources])
	assert.Len(t, sections[tenant.SectionServices], 6)
	h.logs.AssertLogged(t, zapcore.WarnLevel, "source fetch failed, keeping indexed source data")
}

func TestSetup_TabularOnlySkipsDocumentsState(t *testing.T) {
	ctx := context.Background()
	sheets := rowSheets{
		sources.RangeServices: {{"Deep cleaning", "Hygiene", "60 min", "$180", "Below the gumline", ""}},
	}
	h := newHarness(t, withAdapters(func(c cache.Cache) sources.Adapters {
		return sources.Adapters{Tabular: sources.NewTabularAdapter(sheets, c, nil)}
	}))

	snap := acmeDental()
	snap.Config.Sources.Tabular = true
	snap.Config.SpreadsheetID = "sheet-1"

	res, err := h.orch.Setup(ctx, SetupInput{Snapshot: snap})
	require.NoError(t, err)
	assert.Equal(t, StateVerified, res.State)
	assert.Equal(t, 11, res.VectorCount)
	assert.Equal(t, []string{
		"PENDING", "METADATA_WRITTEN", "INDEX_REBUILT", "VERIFYING", "VERIFIED",
	}, h.states(t, res.OperationID))
	assert.Contains(t, h.contents(t, "acme-dental"), "acme-dental-sheet-service-0")
}

func TestOffboard(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.orch.Setup(ctx, SetupInput{Snapshot: acmeDental()})
	require.NoError(t, err)
	beta := acmeDental()
	beta.Config.ID = "beta-clinic"
	_, err = h.orch.Setup(ctx, SetupInput{Snapshot: beta})
	require.NoError(t, err)

	key := cache.Key{Tenant: "acme-dental", Source: "sheets", Locator: "sheet-1"}
	require.NoError(t, h.cache.Set(ctx, key, []byte(`[]`), cache.Structured))

	res, err := h.orch.Offboard(ctx, "acme-dental")
	require.NoError(t, err)
	assert.Equal(t, StateOffboarded, res.State)

	_, err = h.meta.Snapshot(ctx, "acme-dental")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, ok := h.cache.Get(ctx, key)
	assert.False(t, ok)

	st, err := h.orch.Status(ctx, "acme-dental")
	require.NoError(t, err)
	assert.False(t, st.Exists)
	assert.Zero(t, st.VectorCount)
	assert.Equal(t, StateOffboarded, st.LastOperation.State)

	st, err = h.orch.Status(ctx, "beta-clinic")
	require.NoError(t, err)
	assert.True(t, st.Exists)
	assert.Equal(t, 10, st.VectorCount, "other tenants untouched")
	assert.Len(t, st.Sections[tenant.SectionConfig], 4)
	assert.Equal(t, "kb_beta_clinic", st.Namespace)

	res, err = h.orch.Offboard(ctx, "acme-dental")
	require.NoError(t, err, "offboarding twice succeeds")
	assert.Equal(t, StateOffboarded, res.State)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.orch.Setup(ctx, SetupInput{Snapshot: acmeDental()})
	require.NoError(t, err)

	matches, err := h.orch.Search(ctx, "acme-dental", "Do you take insurance?", 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	for _, m := range matches {
		assert.NotEmpty(t, m.Type)
		assert.NotEmpty(t, m.Text)
		assert.NotContains(t, m.Metadata, chunking.MetaText)
		assert.Equal(t, "acme-dental", m.Metadata[chunking.MetaTenant])
	}

	_, err = h.orch.Search(ctx, "acme-dental", "  ", 3)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	matches, err = h.orch.Search(ctx, "beta-clinic", "insurance", 3)
	require.NoError(t, err)
	assert.Empty(t, matches, "namespaces are isolated")
}

func TestSetup_SameTenantIsSerialized(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	var (
		wg      sync.WaitGroup
		results [4]*Result
		errs    [4]error
	)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.orch.Setup(ctx, SetupInput{Snapshot: acmeDental()})
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, StateVerified, results[i].State)
		assert.Equal(t, 10, results[i].VectorCount)
	}
	assert.Equal(t, 0, h.orch.locks.len())
}

func TestSetup_WaitingCallerHonorsContext(t *testing.T) {
	h := newHarness(t)
	unlock, err := h.orch.locks.acquire(context.Background(), "acme-dental")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res, err := h.orch.Setup(ctx, SetupInput{Snapshot: acmeDental()})
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)
}
