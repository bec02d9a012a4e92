package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"google.golang.org/api/googleapi"

	"github.com/fyrsmithlabs/knowledged/internal/cache"
	"github.com/fyrsmithlabs/knowledged/internal/logging"
	"github.com/fyrsmithlabs/knowledged/internal/tenant"
)

func testCache() cache.Cache {
	return cache.NewMemoryCache(cache.TTLs{Structured: time.Minute, Document: time.Hour})
}

func TestTabularAdapter_FetchBusinessData(t *testing.T) {
	sheets := &fakeSheets{ranges: map[string][][]string{
		RangeServices: {
			{"Cleaning", "Preventive", "30 min", "$120", "Routine cleaning", "Q: Does it hurt?\nA: No."},
			{"", "skipped"},
			{"Whitening"},
		},
		RangeSchedule: {{"2024-05-01", "9:00", "Dr. Lee", "Cleaning", "booked"}},
		RangeSpecials: {{"Spring promo", "Whitening deal", "20%", "2024-06-01"}},
	}}
	a := NewTabularAdapter(sheets, testCache(), nil)
	cfg := tenant.Config{ID: "acme-dental", SpreadsheetID: "sheet-1", Sources: tenant.Sources{Tabular: true}}

	data, err := a.FetchBusinessData(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, StrategyTabular, a.Strategy())
	assert.Equal(t, Summary{Services: 2, Schedule: 1, Specials: 1, Sources: []string{"sheets"}}, data.Summary)

	require.Len(t, data.Records, 4)
	assert.Equal(t, Record{
		Section: SectionServices, Name: "Cleaning", Category: "Preventive", Duration: "30 min",
		Price: "$120", Description: "Routine cleaning", FAQ: "Q: Does it hurt?\nA: No.",
	}, data.Records[0])
	assert.Equal(t, "Whitening", data.Records[1].Name)
	assert.Equal(t, "Dr. Lee", data.Records[2].Assignee)
	assert.Equal(t, "20%", data.Records[3].Discount)
	assert.ElementsMatch(t, []string{RangeServices, RangeSchedule, RangeSpecials}, sheets.reads)

	_, err = a.FetchBusinessData(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, sheets.pings, "second fetch served from cache")
}

func TestTabularAdapter_PingFailure(t *testing.T) {
	sheets := &fakeSheets{pingErr: errors.New("dial tcp: refused")}
	c := testCache()
	a := NewTabularAdapter(sheets, c, nil)
	cfg := tenant.Config{ID: "acme-dental", SpreadsheetID: "sheet-1"}

	_, err := a.FetchBusinessData(context.Background(), cfg)
	require.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Empty(t, sheets.reads, "no range reads after a failed ping")

	_, ok := c.Get(context.Background(), cache.Key{Tenant: "acme-dental", Source: "sheets", Locator: "sheet-1"})
	assert.False(t, ok, "errors are not cached")
}

func TestTabularAdapter_NoSpreadsheet(t *testing.T) {
	a := NewTabularAdapter(&fakeSheets{}, testCache(), nil)
	_, err := a.FetchBusinessData(context.Background(), tenant.Config{ID: "acme-dental"})
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func newMulti(t *testing.T, drive *fakeDrive, runner CommandRunner, tl *logging.TestLogger) *MultiSourceAdapter {
	t.Helper()
	guard := tenant.NewGuard(allowList{
		"acme-dental": {"folder-a", "folder-b"},
		"other":       {"folder-x"},
	}, tl.Logger)
	a, err := NewMultiSourceAdapter(nil, drive, guard, runner, testCache(), MultiSourceOptions{Workers: 2}, tl.Logger)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestMultiSource_DeniedContainerNeverListed(t *testing.T) {
	drive := &fakeDrive{files: map[string][]FileInfo{
		"folder-x": {{ID: "secret", Name: "secret.txt", MimeType: MimeText, Parents: []string{"folder-x"}}},
	}}
	tl := logging.NewTestLogger()
	a := newMulti(t, drive, nil, tl)

	cfg := tenant.Config{ID: "acme-dental", ContainerIDs: []string{"folder-a", "folder-x"}, Sources: tenant.Sources{Documents: true}}
	_, err := a.FetchBusinessData(context.Background(), cfg)
	require.ErrorIs(t, err, ErrAccessDenied)
	assert.Empty(t, drive.listed)
	assert.Empty(t, drive.opened)
	tl.AssertLogged(t, zapcore.WarnLevel, "container access denied")
}

func TestMultiSource_TopFiveNewest(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	drive := &fakeDrive{files: map[string][]FileInfo{}, content: map[string]string{}}
	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("f%d", i)
		drive.files["folder-a"] = append(drive.files["folder-a"], FileInfo{
			ID: id, Name: id + ".txt", MimeType: MimeText, Parents: []string{"folder-a"},
			ModifiedTime: base.Add(time.Duration(i) * time.Hour),
		})
		drive.content[id] = "Document " + id + " text."
	}
	a := newMulti(t, drive, nil, logging.NewTestLogger())

	data, err := a.FetchBusinessData(context.Background(), tenant.Config{ID: "acme-dental", ContainerIDs: []string{"folder-a"}})
	require.NoError(t, err)
	require.Len(t, data.Documents, 5)
	for _, id := range []string{"f2", "f3", "f4", "f5", "f6"} {
		assert.Contains(t, data.Documents, id)
	}
	assert.Equal(t, 5, data.Summary.Documents)
	assert.Equal(t, "folder-a", data.Documents["f6"].ContainerID)
	assert.Equal(t, 3, data.Documents["f6"].WordCount)
}

func TestMultiSource_ForeignParentSkipped(t *testing.T) {
	drive := &fakeDrive{
		files: map[string][]FileInfo{"folder-a": {
			{ID: "ok", Name: "ok.txt", MimeType: MimeText, Parents: []string{"folder-a"}},
			{ID: "shared", Name: "shared.txt", MimeType: MimeText, Parents: []string{"folder-a", "folder-x"}},
		}},
		content: map[string]string{"ok": "Fine.", "shared": "Leaked."},
	}
	tl := logging.NewTestLogger()
	a := newMulti(t, drive, nil, tl)

	data, err := a.FetchBusinessData(context.Background(), tenant.Config{ID: "acme-dental"})
	require.NoError(t, err)
	assert.Contains(t, data.Documents, "ok")
	assert.NotContains(t, data.Documents, "shared")
	assert.NotContains(t, drive.opened, "shared")
	assert.ElementsMatch(t, []string{"folder-a", "folder-b"}, drive.listed, "no container requested lists the allow-list")
	tl.AssertLogged(t, zapcore.WarnLevel, "file outside allow-list skipped")
}

func TestMultiSource_ExtractionKinds(t *testing.T) {
	drive := &fakeDrive{
		files: map[string][]FileInfo{"folder-a": {
			{ID: "gdoc", Name: "Policies", MimeType: MimeGoogleDoc, Parents: []string{"folder-a"}},
			{ID: "pdf", Name: "Menu.pdf", MimeType: MimePDF, Parents: []string{"folder-a"}},
			{ID: "bad", Name: "broken.txt", MimeType: MimeText, Parents: []string{"folder-a"}},
		}},
		content: map[string]string{"gdoc": "We open at nine.", "pdf": "%PDF-1.4"},
		failing: map[string]bool{"bad": true},
	}
	runner := &fakeRunner{out: "Prices start at $50."}
	tl := logging.NewTestLogger()
	a := newMulti(t, drive, runner, tl)

	data, err := a.FetchBusinessData(context.Background(), tenant.Config{ID: "acme-dental", ContainerIDs: []string{"folder-a"}})
	require.NoError(t, err)
	require.Len(t, data.Documents, 2)
	assert.Equal(t, "We open at nine.", data.Documents["gdoc"].Content)
	assert.Equal(t, KindGoogleDoc, data.Documents["gdoc"].Kind)
	assert.Equal(t, "Prices start at $50.", data.Documents["pdf"].Content)
	assert.Equal(t, "pdftotext", runner.args[0])
	tl.AssertLogged(t, zapcore.WarnLevel, "document skipped")

	docs := data.SortedDocuments()
	assert.Equal(t, "gdoc", docs[0].ID)
	assert.Equal(t, "pdf", docs[1].ID)
}

func TestMultiSource_DownloadCapped(t *testing.T) {
	drive := &fakeDrive{
		files:   map[string][]FileInfo{"folder-a": {{ID: "big", Name: "big.txt", MimeType: MimeText, Parents: []string{"folder-a"}}}},
		content: map[string]string{"big": "abcdefghij"},
	}
	guard := tenant.NewGuard(allowList{"acme-dental": {"folder-a"}}, nil)
	a, err := NewMultiSourceAdapter(nil, drive, guard, nil, testCache(), MultiSourceOptions{MaxDownloadBytes: 4}, nil)
	require.NoError(t, err)
	defer a.Close()

	data, err := a.FetchBusinessData(context.Background(), tenant.Config{ID: "acme-dental"})
	require.NoError(t, err)
	assert.Equal(t, "abcd", data.Documents["big"].Content)
}

func TestSelect(t *testing.T) {
	multi := &MultiSourceAdapter{}
	tab := &TabularAdapter{}
	static := NewStaticAdapter(nil)
	all := Adapters{Tabular: tab, MultiSource: multi, Static: static}

	tests := []struct {
		name     string
		sources  tenant.Sources
		adapters Adapters
		want     Strategy
	}{
		{"documents", tenant.Sources{Documents: true, Tabular: true}, all, StrategyMultiSource},
		{"tabular", tenant.Sources{Tabular: true}, all, StrategyTabular},
		{"neither", tenant.Sources{}, all, StrategyStatic},
		{"documents without client", tenant.Sources{Documents: true, Tabular: true}, Adapters{Tabular: tab}, StrategyTabular},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Select(tenant.Config{ID: "acme-dental", Sources: tt.sources}, tt.adapters)
			assert.Equal(t, tt.want, got.Strategy())
		})
	}
}

func TestStaticAdapter(t *testing.T) {
	a := NewStaticAdapter(nil)
	data, err := a.FetchBusinessData(context.Background(), tenant.Config{ID: "acme-dental"})
	require.NoError(t, err)
	require.NotNil(t, data.Static)
	assert.Equal(t, "acme-dental", data.Static.Config.ID)
	assert.Equal(t, []string{"static"}, data.Summary.Sources)
}

func TestMapGoogleError(t *testing.T) {
	limiter := NewRateLimiter(10, 1)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rate limited", &googleapi.Error{Code: http.StatusTooManyRequests}, ErrRateLimited},
		{"forbidden", &googleapi.Error{Code: http.StatusForbidden}, ErrAccessDenied},
		{"unauthorized", &googleapi.Error{Code: http.StatusUnauthorized}, ErrSourceUnavailable},
		{"server error", &googleapi.Error{Code: http.StatusBadGateway}, ErrSourceUnavailable},
		{"network", errors.New("connection reset"), ErrSourceUnavailable},
		{"canceled", context.Canceled, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapGoogleError(tt.err, limiter), tt.want)
		})
	}
	assert.NoError(t, mapGoogleError(nil, limiter))
	assert.Equal(t, now.Add(DefaultBackoff), limiter.RetryAt())
}

func TestRateLimiter_BackoffHonorsContext(t *testing.T) {
	limiter := NewRateLimiter(100, 1)
	limiter.Backoff(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, limiter.Wait(ctx), context.DeadlineExceeded)

	limiter.Backoff(time.Second)
	assert.True(t, limiter.RetryAt().After(time.Now().Add(30*time.Minute)), "shorter window does not replace a longer one")
}

func TestListQuery(t *testing.T) {
	q := listQuery("fold'er", []string{MimeText, MimePDF})
	assert.Equal(t, `'fold\'er' in parents and trashed = false and (mimeType = 'text/plain' or mimeType = 'application/pdf')`, q)
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "7")
	assert.Equal(t, 7*time.Second, retryAfter(h))
	assert.Zero(t, retryAfter(nil))
}
