package sources

import (
	"github.com/fyrsmithlabs/knowledged/internal/tenant"
)

// Adapters holds the constructed adapters Select chooses from. Live
// adapters may be nil when their provider is not configured.
type Adapters struct {
	Tabular     *TabularAdapter
	MultiSource *MultiSourceAdapter
	Static      *StaticAdapter
}

// Select picks one strategy from the tenant's source flags: documents
// enabled means multi-source, else tabular enabled means tabular, else
// static. A strategy whose adapter is not configured degrades to the
// next one down.
func Select(cfg tenant.Config, a Adapters) Adapter {
	if cfg.Sources.Documents && a.MultiSource != nil {
		return a.MultiSource
	}
	if cfg.Sources.Tabular && a.Tabular != nil {
		return a.Tabular
	}
	if a.Static == nil {
		return NewStaticAdapter(nil)
	}
	return a.Static
}
