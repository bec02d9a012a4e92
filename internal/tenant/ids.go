package tenant

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/knowledged/internal/sanitize"
)

// Category is the logical family segment of a chunk id.
type Category string

const (
	CategoryServicesOverview   Category = "services-overview"
	CategoryServiceDescription Category = "service-description"
	CategoryServicePricing     Category = "service-pricing"
	CategoryGeneralFAQ         Category = "general-faq"
	CategoryBusinessHours      Category = "business-hours"
	CategoryContactInfo        Category = "contact-info"
	CategoryCommunicationStyle Category = "communication-style"
	CategorySheetService       Category = "sheet-service"
	CategorySheetSpecial       Category = "sheet-special"
)

// ServiceFAQCategory is the family of FAQ pairs attached to the service
// at position.
func ServiceFAQCategory(position int) Category {
	return Category(fmt.Sprintf("service-%d-faq", position))
}

// DocumentCategory is the family of chunks split from one document. The
// first fileIDPrefix characters of the sanitized file id keep documents
// that share a name apart.
func DocumentCategory(name, fileID string) Category {
	cat := "doc-" + sanitize.Slug(name)
	if id := sanitize.Slug(fileID); id != "" {
		if len(id) > fileIDPrefix {
			id = strings.TrimRight(id[:fileIDPrefix], "-")
		}
		cat += "-" + id
	}
	return Category(cat)
}

const fileIDPrefix = 8

// DeriveID returns {tenant}-{category}-{index}. It is the only way chunk
// ids are built, so replacing a family by id never needs a scan.
func DeriveID(tenantID string, category Category, index int) string {
	return fmt.Sprintf("%s-%s-%d", sanitize.Slug(tenantID), category, index)
}

// Section groups categories that are replaced together.
type Section string

const (
	SectionConfig   Section = "config"
	SectionServices Section = "services"
	SectionSources  Section = "sources"
)

// Sections lists every section in replacement order.
var Sections = []Section{SectionConfig, SectionServices, SectionSources}

// SectionOf reports which section a category belongs to.
func SectionOf(c Category) Section {
	switch c {
	case CategoryGeneralFAQ, CategoryBusinessHours, CategoryContactInfo, CategoryCommunicationStyle:
		return SectionConfig
	case CategoryServicesOverview, CategoryServiceDescription, CategoryServicePricing:
		return SectionServices
	}
	s := string(c)
	if strings.HasPrefix(s, "service-") && strings.HasSuffix(s, "-faq") {
		return SectionServices
	}
	return SectionSources
}
