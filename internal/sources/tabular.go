package sources

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/knowledged/internal/cache"
	"github.com/fyrsmithlabs/knowledged/internal/logging"
	"github.com/fyrsmithlabs/knowledged/internal/tenant"
)

// Named ranges read from every tenant spreadsheet.
const (
	RangeServices = "Services!A2:F"
	RangeSchedule = "Schedule!A2:E"
	RangeSpecials = "Specials!A2:D"
)

// SheetsReader is the subset of a spreadsheet API the tabular adapter
// needs.
type SheetsReader interface {
	// Ping confirms the spreadsheet is reachable with current credentials.
	Ping(ctx context.Context, spreadsheetID string) error
	ReadRange(ctx context.Context, spreadsheetID, rng string) ([][]string, error)
}

// TabularAdapter reads services, schedule and specials tabs.
type TabularAdapter struct {
	reader SheetsReader
	cache  cache.Cache
	logger *logging.Logger
}

// NewTabularAdapter creates a TabularAdapter.
func NewTabularAdapter(reader SheetsReader, c cache.Cache, logger *logging.Logger) *TabularAdapter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &TabularAdapter{reader: reader, cache: c, logger: logger}
}

// Strategy implements Adapter.
func (a *TabularAdapter) Strategy() Strategy { return StrategyTabular }

// FetchBusinessData implements Adapter.
func (a *TabularAdapter) FetchBusinessData(ctx context.Context, cfg tenant.Config) (*BusinessData, error) {
	records, err := a.FetchRecords(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := summarize(records)
	s.Sources = []string{"sheets"}
	return &BusinessData{Records: records, Summary: s}, nil
}

// FetchRecords pings the spreadsheet and reads the three ranges in
// parallel. Results are cached with the structured TTL.
func (a *TabularAdapter) FetchRecords(ctx context.Context, cfg tenant.Config) ([]Record, error) {
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("%w: tenant %s has no spreadsheet configured", ErrSourceUnavailable, cfg.ID)
	}
	key := cache.Key{Tenant: cfg.ID, Source: "sheets", Locator: cfg.SpreadsheetID}
	return cache.Fetch(ctx, a.cache, key, cache.Structured, a.logger, func(ctx context.Context) ([]Record, error) {
		return a.read(ctx, cfg)
	})
}

func (a *TabularAdapter) read(ctx context.Context, cfg tenant.Config) ([]Record, error) {
	if err := a.reader.Ping(ctx, cfg.SpreadsheetID); err != nil {
		a.logger.Warn(ctx, "spreadsheet unreachable", zap.String("spreadsheet_id", cfg.SpreadsheetID), zap.Error(err))
		return nil, fmt.Errorf("%w: spreadsheet %s: %v", ErrSourceUnavailable, cfg.SpreadsheetID, err)
	}

	var services, schedule, specials [][]string
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range []struct {
		rng string
		out *[][]string
	}{
		{RangeServices, &services},
		{RangeSchedule, &schedule},
		{RangeSpecials, &specials},
	} {
		g.Go(func() error {
			rows, err := a.reader.ReadRange(gctx, cfg.SpreadsheetID, r.rng)
			if err != nil {
				return fmt.Errorf("reading %s: %w", r.rng, err)
			}
			*r.out = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var records []Record
	for _, row := range services {
		if col(row, 0) == "" {
			continue
		}
		records = append(records, Record{
			Section:     SectionServices,
			Name:        col(row, 0),
			Category:    col(row, 1),
			Duration:    col(row, 2),
			Price:       col(row, 3),
			Description: col(row, 4),
			FAQ:         col(row, 5),
		})
	}
	for _, row := range schedule {
		if col(row, 0) == "" {
			continue
		}
		records = append(records, Record{
			Section:  SectionSchedule,
			Date:     col(row, 0),
			Time:     col(row, 1),
			Assignee: col(row, 2),
			Service:  col(row, 3),
			Status:   col(row, 4),
		})
	}
	for _, row := range specials {
		if col(row, 0) == "" {
			continue
		}
		records = append(records, Record{
			Section:     SectionSpecials,
			Name:        col(row, 0),
			Description: col(row, 1),
			Discount:    col(row, 2),
			Expiry:      col(row, 3),
		})
	}

	a.logger.Debug(ctx, "spreadsheet read",
		zap.Int("services", len(services)),
		zap.Int("schedule", len(schedule)),
		zap.Int("specials", len(specials)),
	)
	return records, nil
}

func col(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
