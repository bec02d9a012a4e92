package chunking

import (
	"strings"

	"github.com/fyrsmithlabs/knowledged/internal/sources"
	"github.com/fyrsmithlabs/knowledged/internal/tenant"
)

// Synthesizer renders tenant data into fixed-shape text blocks and splits
// documents with Split. Its output depends only on its input, iterated in
// stored order.
type Synthesizer struct {
	TargetSize   int
	OverlapWords int
}

// NewSynthesizer returns a Synthesizer with the given document chunking
// parameters.
func NewSynthesizer(targetSize, overlapWords int) *Synthesizer {
	return &Synthesizer{TargetSize: targetSize, OverlapWords: overlapWords}
}

// Snapshot renders both relational sections.
func (s *Synthesizer) Snapshot(snap tenant.Snapshot) []Chunk {
	return append(s.Services(snap), s.Config(snap)...)
}

// Section renders one relational section. The sources section is not
// derived from the snapshot and yields nil.
func (s *Synthesizer) Section(snap tenant.Snapshot, section tenant.Section) []Chunk {
	switch section {
	case tenant.SectionConfig:
		return s.Config(snap)
	case tenant.SectionServices:
		return s.Services(snap)
	}
	return nil
}

// Services renders the overview, one description block per active
// service, one pricing block per priced active service, and per-service
// FAQ pairs. Ids use the service position, so pricing ids can be sparse.
func (s *Synthesizer) Services(snap tenant.Snapshot) []Chunk {
	id := snap.Config.ID
	var active []tenant.Service
	for _, svc := range snap.Services {
		if svc.Active && strings.TrimSpace(svc.Name) != "" {
			active = append(active, svc)
		}
	}
	if len(active) == 0 {
		return nil
	}

	names := make([]string, len(active))
	for i, svc := range active {
		names[i] = svc.Name
	}
	business := businessName(snap.Config)
	chunks := []Chunk{newChunk(id, tenant.CategoryServicesOverview, 0, TypeServicesOverview, "services",
		business+" offers the following services: "+strings.Join(names, ", ")+".")}

	for _, svc := range active {
		var b strings.Builder
		b.WriteString("Service: " + svc.Name)
		writeLine(&b, "Category", svc.Category)
		writeLine(&b, "Description", svc.Description)
		writeLine(&b, "Duration", svc.Duration)
		c := newChunk(id, tenant.CategoryServiceDescription, svc.Position, TypeServiceDescription, "services", b.String())
		c.Metadata["service_name"] = svc.Name
		chunks = append(chunks, c)
	}

	for _, svc := range active {
		if strings.TrimSpace(svc.Pricing) == "" {
			continue
		}
		text := "Pricing for " + svc.Name + ": " + svc.Pricing
		if svc.Duration != "" {
			text += " (" + svc.Duration + ")"
		}
		c := newChunk(id, tenant.CategoryServicePricing, svc.Position, TypeServicePricing, "services", text)
		c.Metadata["service_name"] = svc.Name
		chunks = append(chunks, c)
	}

	for _, svc := range active {
		for j, faq := range ParseFAQs(svc.FAQsRaw) {
			c := newChunk(id, tenant.ServiceFAQCategory(svc.Position), j, TypeServiceFAQ, "services",
				"About "+svc.Name+"\n"+faq.text())
			c.Metadata["service_name"] = svc.Name
			chunks = append(chunks, c)
		}
	}
	return chunks
}

// Config renders general FAQ pairs, business hours, contact info and
// communication style. Blocks with no underlying data are omitted.
func (s *Synthesizer) Config(snap tenant.Snapshot) []Chunk {
	id := snap.Config.ID
	p := snap.Profile
	business := businessName(snap.Config)
	var chunks []Chunk

	for i, faq := range ParseFAQs(p.GeneralFAQsRaw) {
		chunks = append(chunks, newChunk(id, tenant.CategoryGeneralFAQ, i, TypeGeneralFAQ, "config", faq.text()))
	}

	if hours := strings.TrimSpace(p.BusinessHours); hours != "" {
		chunks = append(chunks, newChunk(id, tenant.CategoryBusinessHours, 0, TypeBusinessHours, "config",
			"Business hours for "+business+": "+hours))
	}

	if p.HasContact() {
		var b strings.Builder
		b.WriteString("Contact information for " + business)
		writeLine(&b, "Phone", p.ContactPhone)
		writeLine(&b, "Email", p.ContactEmail)
		writeLine(&b, "Address", p.ContactAddress)
		writeLine(&b, "Emergency contact", p.EmergencyContact)
		chunks = append(chunks, newChunk(id, tenant.CategoryContactInfo, 0, TypeContactInfo, "config", b.String()))
	}

	if p.HasStyle() {
		var b strings.Builder
		b.WriteString("Communication guidelines for " + business)
		writeLine(&b, "Tone", p.ToneStyle)
		writeLine(&b, "Style", p.CommunicationStyle)
		writeLine(&b, "Formality", p.FormalityLevel)
		writeLine(&b, "Special instructions", p.SpecialInstructions)
		chunks = append(chunks, newChunk(id, tenant.CategoryCommunicationStyle, 0, TypeCommunicationStyle, "config", b.String()))
	}
	return chunks
}

// Records renders tabular service and specials rows. Schedule rows are
// per-appointment and not indexed.
func (s *Synthesizer) Records(tenantID string, records []sources.Record) []Chunk {
	var (
		chunks             []Chunk
		nService, nSpecial int
	)
	for _, r := range records {
		switch r.Section {
		case sources.SectionServices:
			var b strings.Builder
			b.WriteString("Service: " + r.Name)
			writeLine(&b, "Category", r.Category)
			writeLine(&b, "Duration", r.Duration)
			writeLine(&b, "Price", r.Price)
			writeLine(&b, "Description", r.Description)
			if r.FAQ != "" {
				b.WriteString("\n" + r.FAQ)
			}
			c := newChunk(tenantID, tenant.CategorySheetService, nService, TypeServiceListing, "sheets", b.String())
			c.Metadata["service_name"] = r.Name
			chunks = append(chunks, c)
			nService++
		case sources.SectionSpecials:
			var b strings.Builder
			b.WriteString("Special offer: " + r.Name)
			writeLine(&b, "Details", r.Description)
			writeLine(&b, "Discount", r.Discount)
			writeLine(&b, "Valid until", r.Expiry)
			chunks = append(chunks, newChunk(tenantID, tenant.CategorySheetSpecial, nSpecial, TypePromotion, "sheets", b.String()))
			nSpecial++
		}
	}
	return chunks
}

// Document splits doc.Content with the synthesizer's parameters.
func (s *Synthesizer) Document(tenantID string, doc sources.Document) []Chunk {
	return DocumentChunks(tenantID, doc, s.TargetSize, s.OverlapWords)
}

// DocumentChunks splits doc.Content into chunks with ids
// {tenant}-doc-{sanitized name}-{file id prefix}-{n}.
func DocumentChunks(tenantID string, doc sources.Document, target, overlapWords int) []Chunk {
	parts := Split(doc.Content, target, overlapWords)
	cat := tenant.DocumentCategory(doc.Name, doc.ID)
	chunks := make([]Chunk, 0, len(parts))
	for i, text := range parts {
		c := newChunk(tenantID, cat, i, TypeDocument, doc.Name, text)
		c.Metadata[MetaTitle] = doc.Name
		c.Metadata[MetaContainer] = doc.ContainerID
		chunks = append(chunks, c)
	}
	return chunks
}

func businessName(cfg tenant.Config) string {
	if cfg.BusinessName != "" {
		return cfg.BusinessName
	}
	return cfg.ID
}

func writeLine(b *strings.Builder, label, value string) {
	if v := strings.TrimSpace(value); v != "" {
		b.WriteString("\n" + label + ": " + v)
	}
}
