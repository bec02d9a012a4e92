package orchestrator

import (
	"errors"
	"time"

	"github.com/fyrsmithlabs/knowledged/internal/indexing"
	"github.com/fyrsmithlabs/knowledged/internal/tenant"
)

// ErrVerificationTimeout means the index never became queryable within
// the verification budget. It is reported as a warning, never returned.
var ErrVerificationTimeout = errors.New("verification timeout")

// State is one step of an operation.
type State string

const (
	StatePending          State = "PENDING"
	StateMetadataWritten  State = "METADATA_WRITTEN"
	StateIndexRebuilt     State = "INDEX_REBUILT"
	StateDocumentsIndexed State = "DOCUMENTS_INDEXED"
	StateVerifying        State = "VERIFYING"
	StateVerified         State = "VERIFIED"
	StateDegraded         State = "DEGRADED"
	StateRolledBack       State = "ROLLED_BACK"
	StateOffboarded       State = "OFFBOARDED"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	switch s {
	case StateVerified, StateDegraded, StateRolledBack, StateOffboarded:
		return true
	}
	return false
}

// Kind names the operation that produced a Result.
type Kind string

const (
	KindSetup          Kind = "setup"
	KindUpdateConfig   Kind = "update_config"
	KindUpdateServices Kind = "update_services"
	KindResync         Kind = "resync"
	KindOffboard       Kind = "offboard"
)

// SetupInput is the onboarding payload. An empty profile or service list
// is filled from the tenant's static data when available.
type SetupInput struct {
	Snapshot tenant.Snapshot `json:"snapshot"`
}

// Result is what every operation reports to its caller.
type Result struct {
	OperationID string         `json:"operation_id"`
	TenantID    string         `json:"tenant_id"`
	Kind        Kind           `json:"kind"`
	State       State          `json:"state"`
	VectorCount int            `json:"vector_count"`
	Warnings    []string       `json:"warnings,omitempty"`
	Stats       indexing.Stats `json:"stats"`
	Duration    time.Duration  `json:"duration"`
}

func (r *Result) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Status describes a tenant's index as last recorded.
type Status struct {
	TenantID      string                      `json:"tenant_id"`
	Namespace     string                      `json:"namespace"`
	Exists        bool                        `json:"exists"`
	VectorCount   int                         `json:"vector_count"`
	LastOperation *Transition                 `json:"last_operation,omitempty"`
	Sections      map[tenant.Section][]string `json:"sections,omitempty"`
}

// Transition is one journaled state change.
type Transition struct {
	OperationID string    `json:"operation_id"`
	Kind        Kind      `json:"kind"`
	State       State     `json:"state"`
	Detail      string    `json:"detail,omitempty"`
	At          time.Time `json:"at"`
}

// Match is one search hit.
type Match struct {
	ID       string            `json:"id"`
	Score    float32           `json:"score"`
	Type     string            `json:"type"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
