package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Scopes requested for source reads.
var Scopes = []string{sheets.SpreadsheetsReadonlyScope, drive.DriveReadonlyScope}

// TokenSourceFromFile loads service-account or user credentials JSON.
func TokenSourceFromFile(ctx context.Context, path string) (oauth2.TokenSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	return creds.TokenSource, nil
}

// GoogleSheets implements SheetsReader over the Sheets v4 API.
type GoogleSheets struct {
	svc     *sheets.Service
	limiter *RateLimiter
}

// NewGoogleSheets creates a reader. opts are passed to sheets.NewService.
func NewGoogleSheets(ctx context.Context, limiter *RateLimiter, opts ...option.ClientOption) (*GoogleSheets, error) {
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}
	return &GoogleSheets{svc: svc, limiter: limiter}, nil
}

// Ping implements SheetsReader.
func (g *GoogleSheets) Ping(ctx context.Context, spreadsheetID string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := g.svc.Spreadsheets.Get(spreadsheetID).Fields("spreadsheetId").Context(ctx).Do()
	return mapGoogleError(err, g.limiter)
}

// ReadRange implements SheetsReader. Cells are rendered as strings.
func (g *GoogleSheets) ReadRange(ctx context.Context, spreadsheetID, rng string) ([][]string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := g.svc.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, mapGoogleError(err, g.limiter)
	}
	rows := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = fmt.Sprint(v)
		}
		rows[i] = cells
	}
	return rows, nil
}

// GoogleDrive implements DriveClient over the Drive v3 API.
type GoogleDrive struct {
	svc     *drive.Service
	limiter *RateLimiter
}

// NewGoogleDrive creates a client. opts are passed to drive.NewService.
func NewGoogleDrive(ctx context.Context, limiter *RateLimiter, opts ...option.ClientOption) (*GoogleDrive, error) {
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating drive service: %w", err)
	}
	return &GoogleDrive{svc: svc, limiter: limiter}, nil
}

// List implements DriveClient, following pagination to the end.
func (g *GoogleDrive) List(ctx context.Context, containerID string, mimeTypes []string) ([]FileInfo, error) {
	q := listQuery(containerID, mimeTypes)
	var (
		out   []FileInfo
		token string
	)
	for {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		call := g.svc.Files.List().
			Q(q).
			Fields("nextPageToken, files(id, name, mimeType, parents, modifiedTime)").
			OrderBy("modifiedTime desc").
			PageSize(100).
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Context(ctx)
		if token != "" {
			call = call.PageToken(token)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, mapGoogleError(err, g.limiter)
		}
		for _, f := range resp.Files {
			modified, _ := time.Parse(time.RFC3339, f.ModifiedTime)
			out = append(out, FileInfo{
				ID:           f.Id,
				Name:         f.Name,
				MimeType:     f.MimeType,
				Parents:      f.Parents,
				ModifiedTime: modified,
			})
		}
		if resp.NextPageToken == "" {
			return out, nil
		}
		token = resp.NextPageToken
	}
}

// Export implements DriveClient.
func (g *GoogleDrive) Export(ctx context.Context, fileID, mimeType string) (io.ReadCloser, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := g.svc.Files.Export(fileID, mimeType).Context(ctx).Download()
	if err != nil {
		return nil, mapGoogleError(err, g.limiter)
	}
	return resp.Body, nil
}

// Download implements DriveClient.
func (g *GoogleDrive) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := g.svc.Files.Get(fileID).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, mapGoogleError(err, g.limiter)
	}
	return resp.Body, nil
}

func listQuery(containerID string, mimeTypes []string) string {
	esc := func(s string) string { return strings.ReplaceAll(s, "'", `\'`) }
	parts := make([]string, len(mimeTypes))
	for i, m := range mimeTypes {
		parts[i] = fmt.Sprintf("mimeType = '%s'", esc(m))
	}
	return fmt.Sprintf("'%s' in parents and trashed = false and (%s)", esc(containerID), strings.Join(parts, " or "))
}

// mapGoogleError folds API errors into the source taxonomy. A 429 also
// opens the limiter's backoff window.
func mapGoogleError(err error, limiter *RateLimiter) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	switch {
	case gerr.Code == http.StatusTooManyRequests:
		limiter.Backoff(retryAfter(gerr.Header))
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case gerr.Code == http.StatusForbidden:
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	default:
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
}

func retryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
