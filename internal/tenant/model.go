// Package tenant holds the tenant domain model, deterministic chunk
// identifiers and the document access guard.
package tenant

import (
	"encoding/json"

	"github.com/fyrsmithlabs/knowledged/internal/sanitize"
)

// Sources flags which live sources a tenant has enabled.
type Sources struct {
	Tabular   bool `json:"tabular" koanf:"tabular"`
	Documents bool `json:"documents" koanf:"documents"`
}

// Config identifies one tenant and its source locators.
type Config struct {
	ID            string   `json:"id" koanf:"id"`
	BusinessName  string   `json:"business_name" koanf:"business_name"`
	PlanType      string   `json:"plan_type" koanf:"plan_type"`
	Active        bool     `json:"active" koanf:"active"`
	Sources       Sources  `json:"sources" koanf:"sources"`
	SpreadsheetID string   `json:"spreadsheet_id,omitempty" koanf:"spreadsheet_id"`
	ContainerIDs  []string `json:"container_ids,omitempty" koanf:"container_ids"`
	AllowedKinds  []string `json:"allowed_kinds,omitempty" koanf:"allowed_kinds"`
}

// Namespace returns the tenant's vector namespace.
func (c Config) Namespace() string {
	return Namespace(c.ID)
}

// Profile is the tenant's agent configuration row.
type Profile struct {
	ToneStyle           string `json:"tone_style,omitempty" koanf:"tone_style"`
	CommunicationStyle  string `json:"communication_style,omitempty" koanf:"communication_style"`
	FormalityLevel      string `json:"formality_level,omitempty" koanf:"formality_level"`
	BusinessHours       string `json:"business_hours,omitempty" koanf:"business_hours"`
	ContactPhone        string `json:"contact_phone,omitempty" koanf:"contact_phone"`
	ContactEmail        string `json:"contact_email,omitempty" koanf:"contact_email"`
	ContactAddress      string `json:"contact_address,omitempty" koanf:"contact_address"`
	EmergencyContact    string `json:"emergency_contact,omitempty" koanf:"emergency_contact"`
	SpecialInstructions string `json:"special_instructions,omitempty" koanf:"special_instructions"`
	GeneralFAQsRaw      string `json:"general_faqs_raw,omitempty" koanf:"general_faqs_raw"`
}

// HasContact reports whether any contact field is set.
func (p Profile) HasContact() bool {
	return p.ContactPhone != "" || p.ContactEmail != "" || p.ContactAddress != "" || p.EmergencyContact != ""
}

// HasStyle reports whether any tone or style field is set.
func (p Profile) HasStyle() bool {
	return p.ToneStyle != "" || p.CommunicationStyle != "" || p.FormalityLevel != "" || p.SpecialInstructions != ""
}

// Service is one service row. Position is its stable index within the
// tenant and drives the deterministic ids derived from it. A decoded
// service without "position" gets -1 until NormalizeServices numbers it;
// one without "active" is active.
type Service struct {
	Position    int    `json:"position" koanf:"position"`
	Name        string `json:"name" koanf:"name"`
	Category    string `json:"category,omitempty" koanf:"category"`
	Description string `json:"description,omitempty" koanf:"description"`
	Pricing     string `json:"pricing,omitempty" koanf:"pricing"`
	Duration    string `json:"duration,omitempty" koanf:"duration"`
	FAQsRaw     string `json:"faqs_raw,omitempty" koanf:"faqs_raw"`
	Active      bool   `json:"active" koanf:"active"`
}

func (s *Service) UnmarshalJSON(data []byte) error {
	type plain Service
	p := plain{Position: -1, Active: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = Service(p)
	return nil
}

// NormalizeServices returns services with usable positions. When every
// position is set and distinct they are kept; otherwise the list is
// renumbered 0..n-1 in the order given.
func NormalizeServices(services []Service) []Service {
	out := append([]Service(nil), services...)
	seen := make(map[int]bool, len(out))
	valid := true
	for _, svc := range out {
		if svc.Position < 0 || seen[svc.Position] {
			valid = false
			break
		}
		seen[svc.Position] = true
	}
	if !valid {
		for i := range out {
			out[i].Position = i
		}
	}
	return out
}

// Snapshot is the durable state an index is rebuilt from.
type Snapshot struct {
	Config   Config    `json:"config" koanf:"config"`
	Profile  Profile   `json:"profile" koanf:"profile"`
	Services []Service `json:"services" koanf:"services"`
}

// Namespace maps a tenant id onto its vector namespace, kb_<id>.
func Namespace(tenantID string) string {
	return sanitize.Namespace("kb_", tenantID)
}
