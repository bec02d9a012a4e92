package chunking

import (
	"github.com/fyrsmithlabs/knowledged/internal/tenant"
)

// Metadata type tags read by the downstream agent.
const (
	TypeServicesOverview   = "services_overview"
	TypeServiceDescription = "service_description"
	TypeServicePricing     = "service_pricing"
	TypeServiceFAQ         = "service_faq"
	TypeGeneralFAQ         = "general_faq"
	TypeBusinessHours      = "business_hours"
	TypeContactInfo        = "contact_info"
	TypeCommunicationStyle = "communication_style"
	TypeDocument           = "document"
	TypeServiceListing     = "service_listing"
	TypePromotion          = "promotion"
)

// Metadata keys attached to every chunk.
const (
	MetaType      = "type"
	MetaSource    = "source"
	MetaSection   = "section"
	MetaTenant    = "tenant_id"
	MetaContainer = "container"
	MetaTitle     = "title"
	MetaText      = "text"
)

// Chunk is one unit ready for embedding.
type Chunk struct {
	ID       string
	Text     string
	Section  tenant.Section
	Metadata map[string]string
}

func newChunk(tenantID string, cat tenant.Category, index int, typ, source, text string) Chunk {
	section := tenant.SectionOf(cat)
	return Chunk{
		ID:      tenant.DeriveID(tenantID, cat, index),
		Text:    text,
		Section: section,
		Metadata: map[string]string{
			MetaType:    typ,
			MetaSource:  source,
			MetaSection: string(section),
			MetaTenant:  tenantID,
		},
	}
}

// IDs returns the ids of chunks in order.
func IDs(chunks []Chunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids
}
