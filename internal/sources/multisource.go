package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/cache"
	"github.com/fyrsmithlabs/knowledged/internal/logging"
	"github.com/fyrsmithlabs/knowledged/internal/tenant"
)

// Document kinds accepted in tenant.Config.AllowedKinds.
const (
	KindGoogleDoc = "doc"
	KindPDF       = "pdf"
	KindText      = "text"
)

// MIME types per kind.
const (
	MimeGoogleDoc = "application/vnd.google-apps.document"
	MimePDF       = "application/pdf"
	MimeText      = "text/plain"
)

var kindMimes = map[string]string{
	KindGoogleDoc: MimeGoogleDoc,
	KindPDF:       MimePDF,
	KindText:      MimeText,
}

// DefaultKinds is used when a tenant lists no kinds.
var DefaultKinds = []string{KindGoogleDoc, KindPDF, KindText}

const (
	DefaultMaxDocuments     = 5
	DefaultMaxDownloadBytes = 5 << 20
)

// FileInfo is listing metadata for one file.
type FileInfo struct {
	ID           string
	Name         string
	MimeType     string
	Parents      []string
	ModifiedTime time.Time
}

// DriveClient is the subset of a document store API the multi-source
// adapter needs.
type DriveClient interface {
	List(ctx context.Context, containerID string, mimeTypes []string) ([]FileInfo, error)
	Export(ctx context.Context, fileID, mimeType string) (io.ReadCloser, error)
	Download(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// MultiSourceOptions tunes the multi-source adapter.
type MultiSourceOptions struct {
	MaxDocuments     int
	MaxDownloadBytes int64
	Workers          int
	PDFToTextPath    string
}

// MultiSourceAdapter reads tabular data plus documents from allow-listed
// containers.
type MultiSourceAdapter struct {
	tabular *TabularAdapter
	drive   DriveClient
	guard   *tenant.Guard
	runner  CommandRunner
	cache   cache.Cache
	pool    *ants.Pool
	opts    MultiSourceOptions
	logger  *logging.Logger
}

// NewMultiSourceAdapter creates the adapter and its extraction pool.
// tabular may be nil when no spreadsheet reader is configured. Call Close
// to release the pool.
func NewMultiSourceAdapter(
	tabular *TabularAdapter,
	drive DriveClient,
	guard *tenant.Guard,
	runner CommandRunner,
	c cache.Cache,
	opts MultiSourceOptions,
	logger *logging.Logger,
) (*MultiSourceAdapter, error) {
	if opts.MaxDocuments <= 0 {
		opts.MaxDocuments = DefaultMaxDocuments
	}
	if opts.MaxDownloadBytes <= 0 {
		opts.MaxDownloadBytes = DefaultMaxDownloadBytes
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.PDFToTextPath == "" {
		opts.PDFToTextPath = "pdftotext"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	pool, err := ants.NewPool(opts.Workers)
	if err != nil {
		return nil, fmt.Errorf("creating extraction pool: %w", err)
	}
	return &MultiSourceAdapter{
		tabular: tabular,
		drive:   drive,
		guard:   guard,
		runner:  runner,
		cache:   c,
		pool:    pool,
		opts:    opts,
		logger:  logger,
	}, nil
}

// Strategy implements Adapter.
func (a *MultiSourceAdapter) Strategy() Strategy { return StrategyMultiSource }

// Close releases the worker pool.
func (a *MultiSourceAdapter) Close() {
	a.pool.Release()
}

// FetchBusinessData implements Adapter. Any configured container outside
// the allow-list fails the whole fetch with ErrAccessDenied before any
// listing happens.
func (a *MultiSourceAdapter) FetchBusinessData(ctx context.Context, cfg tenant.Config) (*BusinessData, error) {
	containers, err := a.authorize(ctx, cfg)
	if err != nil {
		return nil, err
	}

	data := &BusinessData{Documents: map[string]Document{}}
	if cfg.Sources.Tabular && a.tabular != nil {
		records, err := a.tabular.FetchRecords(ctx, cfg)
		if err != nil {
			return nil, err
		}
		data.Records = records
		data.Summary = summarize(records)
		data.Summary.Sources = append(data.Summary.Sources, "sheets")
	}

	files, err := a.list(ctx, cfg, containers)
	if err != nil {
		return nil, err
	}
	for _, doc := range a.extractAll(ctx, cfg.ID, files) {
		data.Documents[doc.ID] = doc
	}
	data.Summary.Documents = len(data.Documents)
	data.Summary.Sources = append(data.Summary.Sources, "drive")
	return data, nil
}

func (a *MultiSourceAdapter) authorize(ctx context.Context, cfg tenant.Config) ([]string, error) {
	if len(cfg.ContainerIDs) == 0 {
		allowed := a.guard.AuthorizedContainers(ctx, cfg.ID, "")
		if len(allowed) == 0 {
			return nil, fmt.Errorf("%w: tenant %s has no allow-listed containers", ErrAccessDenied, cfg.ID)
		}
		return allowed, nil
	}
	var out []string
	for _, id := range cfg.ContainerIDs {
		if err := a.guard.Authorize(ctx, cfg.ID, id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// list returns the newest files across containers whose parents are all
// within the authorized set.
func (a *MultiSourceAdapter) list(ctx context.Context, cfg tenant.Config, containers []string) ([]listedFile, error) {
	kinds := cfg.AllowedKinds
	if len(kinds) == 0 {
		kinds = DefaultKinds
	}
	var mimes []string
	for _, k := range kinds {
		if m, ok := kindMimes[k]; ok {
			mimes = append(mimes, m)
		}
	}
	if len(mimes) == 0 {
		return nil, nil
	}

	seen := map[string]bool{}
	var files []listedFile
	for _, container := range containers {
		infos, err := a.drive.List(ctx, container, mimes)
		if err != nil {
			return nil, fmt.Errorf("listing container %s: %w", container, err)
		}
		for _, f := range infos {
			if seen[f.ID] {
				continue
			}
			if !parentsAllowed(f.Parents, containers) {
				a.logger.Warn(ctx, "file outside allow-list skipped",
					zap.String("tenant_id", cfg.ID),
					zap.String("file_id", f.ID),
					zap.Strings("parents", f.Parents),
				)
				continue
			}
			seen[f.ID] = true
			files = append(files, listedFile{FileInfo: f, container: container})
		}
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].ModifiedTime.After(files[j].ModifiedTime)
	})
	if len(files) > a.opts.MaxDocuments {
		files = files[:a.opts.MaxDocuments]
	}
	return files, nil
}

type listedFile struct {
	FileInfo
	container string
}

func parentsAllowed(parents, allowed []string) bool {
	if len(parents) == 0 {
		return false
	}
	for _, p := range parents {
		if !slices.Contains(allowed, p) {
			return false
		}
	}
	return true
}

func (a *MultiSourceAdapter) extractAll(ctx context.Context, tenantID string, files []listedFile) []Document {
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		docs []Document
	)
	for _, f := range files {
		wg.Add(1)
		err := a.pool.Submit(func() {
			defer wg.Done()
			doc, err := a.extractCached(ctx, tenantID, f)
			if err != nil {
				a.logger.Warn(ctx, "document skipped",
					zap.String("tenant_id", tenantID),
					zap.String("file_id", f.ID),
					zap.String("name", f.Name),
					zap.Error(err),
				)
				return
			}
			if doc == nil {
				return
			}
			mu.Lock()
			docs = append(docs, *doc)
			mu.Unlock()
		})
		if err != nil {
			wg.Done()
			a.logger.Error(ctx, "extraction pool rejected task", zap.String("file_id", f.ID), zap.Error(err))
		}
	}
	wg.Wait()
	sortDocuments(docs)
	return docs
}

func (a *MultiSourceAdapter) extractCached(ctx context.Context, tenantID string, f listedFile) (*Document, error) {
	if kindOf(f.MimeType) == "" {
		return nil, nil
	}
	key := cache.Key{
		Tenant:  tenantID,
		Source:  "drive",
		Locator: f.container,
		Scope:   f.ID + "@" + f.ModifiedTime.UTC().Format(time.RFC3339),
	}
	doc, err := cache.Fetch(ctx, a.cache, key, cache.Document, a.logger, func(ctx context.Context) (Document, error) {
		return a.extract(ctx, f)
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (a *MultiSourceAdapter) extract(ctx context.Context, f listedFile) (Document, error) {
	var (
		text string
		err  error
	)
	switch f.MimeType {
	case MimeGoogleDoc:
		text, err = a.read(func() (io.ReadCloser, error) { return a.drive.Export(ctx, f.ID, MimeText) })
	case MimePDF:
		var raw string
		raw, err = a.read(func() (io.ReadCloser, error) { return a.drive.Download(ctx, f.ID) })
		if err == nil {
			text, err = a.pdfText(ctx, raw)
		}
	default:
		text, err = a.read(func() (io.ReadCloser, error) { return a.drive.Download(ctx, f.ID) })
	}
	if err != nil {
		if errors.Is(err, ErrRateLimited) || errors.Is(err, context.Canceled) {
			return Document{}, err
		}
		return Document{}, fmt.Errorf("%w: %s: %v", ErrExtractionFailure, f.Name, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Document{}, fmt.Errorf("%w: %s: no text extracted", ErrExtractionFailure, f.Name)
	}
	return Document{
		ID:           f.ID,
		Name:         f.Name,
		Kind:         kindOf(f.MimeType),
		Content:      text,
		ContainerID:  f.container,
		WordCount:    len(strings.Fields(text)),
		ModifiedTime: f.ModifiedTime,
	}, nil
}

func (a *MultiSourceAdapter) read(open func() (io.ReadCloser, error)) (string, error) {
	rc, err := open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, a.opts.MaxDownloadBytes))
	if err != nil {
		return "", fmt.Errorf("reading content: %w", err)
	}
	return string(data), nil
}

func (a *MultiSourceAdapter) pdfText(ctx context.Context, raw string) (string, error) {
	out, err := a.runner.Run(ctx, strings.NewReader(raw), a.opts.PDFToTextPath, "-layout", "-enc", "UTF-8", "-", "-")
	if err != nil {
		return "", fmt.Errorf("pdftotext: %w", err)
	}
	return string(out), nil
}

func kindOf(mime string) string {
	for k, m := range kindMimes {
		if m == mime {
			return k
		}
	}
	return ""
}

func sortDocuments(docs []Document) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
}
