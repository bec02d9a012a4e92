// Package sources fetches tenant business data from live providers
// (spreadsheets and document stores) or from static fallback files.
package sources

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/knowledged/internal/tenant"
)

// Error taxonomy shared with the orchestrator.
var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrAccessDenied      = tenant.ErrAccessDenied
	ErrRateLimited       = errors.New("source rate limited")
	ErrExtractionFailure = errors.New("extraction failure")
)

// Record sections.
const (
	SectionServices = "services"
	SectionSchedule = "schedule"
	SectionSpecials = "specials"
)

// Record is one row read from a tabular source.
type Record struct {
	Section     string `json:"section"`
	Name        string `json:"name,omitempty"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price,omitempty"`
	Duration    string `json:"duration,omitempty"`
	FAQ         string `json:"faq,omitempty"`

	Date     string `json:"date,omitempty"`
	Time     string `json:"time,omitempty"`
	Assignee string `json:"assignee,omitempty"`
	Service  string `json:"service,omitempty"`
	Status   string `json:"status,omitempty"`

	Discount string `json:"discount,omitempty"`
	Expiry   string `json:"expiry,omitempty"`
}

// Document is extracted text from one file. It is never persisted as-is.
type Document struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Kind         string    `json:"kind"`
	Content      string    `json:"content"`
	ContainerID  string    `json:"container_id"`
	WordCount    int       `json:"word_count"`
	ModifiedTime time.Time `json:"modified_time"`
}

// Summary counts what a fetch produced.
type Summary struct {
	Services  int      `json:"services"`
	Schedule  int      `json:"schedule"`
	Specials  int      `json:"specials"`
	Documents int      `json:"documents"`
	Sources   []string `json:"sources"`
}

// BusinessData is the result of one adapter fetch.
type BusinessData struct {
	Records   []Record            `json:"records,omitempty"`
	Documents map[string]Document `json:"documents,omitempty"`
	Summary   Summary             `json:"summary"`

	// Static is set only by the static adapter.
	Static *tenant.Snapshot `json:"static,omitempty"`
}

// SortedDocuments returns the documents ordered by id.
func (b *BusinessData) SortedDocuments() []Document {
	docs := make([]Document, 0, len(b.Documents))
	for _, d := range b.Documents {
		docs = append(docs, d)
	}
	sortDocuments(docs)
	return docs
}

// Strategy names the adapter chosen for a tenant.
type Strategy string

const (
	StrategyStatic      Strategy = "static"
	StrategyTabular     Strategy = "tabular"
	StrategyMultiSource Strategy = "multi_source"
)

// Adapter fetches business data for one tenant.
type Adapter interface {
	FetchBusinessData(ctx context.Context, cfg tenant.Config) (*BusinessData, error)
	Strategy() Strategy
}

func summarize(records []Record) Summary {
	var s Summary
	for _, r := range records {
		switch r.Section {
		case SectionServices:
			s.Services++
		case SectionSchedule:
			s.Schedule++
		case SectionSpecials:
			s.Specials++
		}
	}
	return s
}
