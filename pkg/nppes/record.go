package nppes

import "encoding/json"

// EnumerationType distinguishes individual practitioners (NPI-1) from
// organizations (NPI-2). The two populate different name fields downstream.
type EnumerationType string

const (
	EnumerationIndividual   EnumerationType = "NPI-1"
	EnumerationOrganization EnumerationType = "NPI-2"
)

// Address is a single registry address entry.
type Address struct {
	Address1    string `json:"address_1"`
	Address2    string `json:"address_2,omitempty"`
	City        string `json:"city"`
	State       string `json:"state"`
	PostalCode  string `json:"postal_code"`
	Telephone   string `json:"telephone_number,omitempty"`
	Fax         string `json:"fax_number,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	Purpose     string `json:"address_purpose,omitempty"`
}

// Taxonomy is a single registry taxonomy (specialty) entry.
type Taxonomy struct {
	Code    string `json:"code"`
	Desc    string `json:"desc"`
	Primary bool   `json:"primary"`
	State   string `json:"state,omitempty"`
	License string `json:"license,omitempty"`
}

// CanonicalRecord is the normalized registry record for one NPI.
type CanonicalRecord struct {
	NPI             string          `json:"npi"`
	EnumerationType EnumerationType `json:"enumeration_type"`
	Status          string          `json:"status,omitempty"`

	// Individual (NPI-1)
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Credential string `json:"credential,omitempty"`

	// Organization (NPI-2)
	OrganizationName string `json:"organization_name,omitempty"`

	// First address entry is the primary practice location; the second, when
	// present, is the mailing address.
	PrimaryPracticeAddress *Address `json:"primary_practice_address,omitempty"`
	MailingAddress         *Address `json:"mailing_address,omitempty"`

	PrimaryTaxonomy *Taxonomy  `json:"primary_taxonomy,omitempty"`
	AllTaxonomies   []Taxonomy `json:"all_taxonomies,omitempty"`

	// Raw is the full registry response, retained for audit.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Individual reports whether the record describes a person rather than an
// organization.
func (r *CanonicalRecord) Individual() bool {
	return r.EnumerationType == EnumerationIndividual
}

// rawResult mirrors the registry's wire shape for a single result.
type rawResult struct {
	Number          string `json:"number"`
	EnumerationType string `json:"enumeration_type"`
	Basic           struct {
		Status           string `json:"status"`
		FirstName        string `json:"first_name"`
		LastName         string `json:"last_name"`
		Credential       string `json:"credential"`
		OrganizationName string `json:"organization_name"`
	} `json:"basic"`
	Addresses  []Address  `json:"addresses"`
	Taxonomies []Taxonomy `json:"taxonomies"`
}

// normalize extracts the canonical record from the first registry result.
func normalize(raw rawResult, body []byte) *CanonicalRecord {
	rec := &CanonicalRecord{
		NPI:              raw.Number,
		EnumerationType:  EnumerationType(raw.EnumerationType),
		Status:           raw.Basic.Status,
		FirstName:        raw.Basic.FirstName,
		LastName:         raw.Basic.LastName,
		Credential:       raw.Basic.Credential,
		OrganizationName: raw.Basic.OrganizationName,
		AllTaxonomies:    raw.Taxonomies,
		Raw:              json.RawMessage(body),
	}

	if len(raw.Addresses) >= 1 {
		a := raw.Addresses[0]
		rec.PrimaryPracticeAddress = &a
	}
	if len(raw.Addresses) >= 2 {
		a := raw.Addresses[1]
		rec.MailingAddress = &a
	}

	// The first listed taxonomy is the primary one, regardless of the
	// per-entry primary flag. Registry records sometimes carry the flag on
	// a later entry while still listing the operative specialty first.
	if len(raw.Taxonomies) > 0 {
		rec.PrimaryTaxonomy = &raw.Taxonomies[0]
	}

	return rec
}
