package sources

import (
	"context"

	"github.com/fyrsmithlabs/knowledged/internal/tenant"
)

// StaticAdapter serves the fallback data in a tenant's static file.
// It never fails.
type StaticAdapter struct {
	dir *tenant.Directory
}

// NewStaticAdapter creates a StaticAdapter over dir.
func NewStaticAdapter(dir *tenant.Directory) *StaticAdapter {
	return &StaticAdapter{dir: dir}
}

// Strategy implements Adapter.
func (a *StaticAdapter) Strategy() Strategy { return StrategyStatic }

// FetchBusinessData implements Adapter. A tenant without a static file
// gets an empty snapshot carrying only cfg.
func (a *StaticAdapter) FetchBusinessData(_ context.Context, cfg tenant.Config) (*BusinessData, error) {
	snap := tenant.Snapshot{Config: cfg}
	if a.dir != nil {
		if sd, ok := a.dir.Static(cfg.ID); ok {
			snap.Profile = sd.Profile
			snap.Services = sd.Services
		}
	}
	return &BusinessData{
		Static:  &snap,
		Summary: Summary{Services: len(snap.Services), Sources: []string{"static"}},
	}, nil
}
