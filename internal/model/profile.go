package model

// ProviderType distinguishes individual practitioners from organizations.
type ProviderType string

const (
	TypeIndividual   ProviderType = "individual"
	TypeOrganization ProviderType = "organization"
	TypeUnknown      ProviderType = "unknown"
)

// Location is a single practice, mailing, or billing address. Enrichment
// retains every distinct location it finds rather than picking a winner.
type Location struct {
	StreetAddress1 string `json:"street_address_1,omitempty"`
	StreetAddress2 string `json:"street_address_2,omitempty"`
	City           string `json:"city,omitempty"`
	State          string `json:"state,omitempty"`
	ZipCode        string `json:"zip_code,omitempty"`
	AddressType    string `json:"address_type,omitempty"` // Practice, Mailing, Billing
	Phone          string `json:"phone,omitempty"`
	Fax            string `json:"fax,omitempty"`
}

// License is a state professional license.
type License struct {
	Number string `json:"license_number,omitempty"`
	State  string `json:"state,omitempty"`
	Type   string `json:"license_type,omitempty"`
	Status string `json:"status,omitempty"`
}

// ProviderProfile is the structured profile produced by document extraction
// and web enrichment. Fields absent from the source text are empty, never
// guessed.
type ProviderProfile struct {
	ProviderType ProviderType `json:"provider_type"`
	NPI          string       `json:"npi,omitempty"`

	// Individual
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Credential string `json:"credential,omitempty"`

	// Organization
	OrganizationName string `json:"organization_name,omitempty"`

	// Contact. Phones holds every distinct number found.
	Email   string   `json:"primary_email,omitempty"`
	Website string   `json:"website_url,omitempty"`
	Phones  []string `json:"phones,omitempty"`
	Fax     string   `json:"fax,omitempty"`

	// Professional
	TaxonomyCodes []string  `json:"taxonomy_codes,omitempty"`
	Specialties   []string  `json:"specialties,omitempty"`
	Licenses      []License `json:"licenses,omitempty"`

	// Operational
	AcceptingNewPatients *bool    `json:"accepting_new_patients,omitempty"`
	Telehealth           *bool    `json:"offers_telehealth,omitempty"`
	Languages            []string `json:"languages_spoken,omitempty"`

	Locations []Location `json:"locations,omitempty"`

	Confidence float64  `json:"data_confidence_score,omitempty"`
	Sources    []string `json:"verification_sources,omitempty"`

	// AdditionalFields is the catch-all for relevant identifiers outside the
	// fixed schema (DEA number, CLIA ID, hospital affiliations).
	AdditionalFields map[string]string `json:"additional_fields,omitempty"`
}

// PrimaryPhone returns the first phone found, or "".
func (p *ProviderProfile) PrimaryPhone() string {
	if len(p.Phones) > 0 {
		return p.Phones[0]
	}
	return ""
}

// PrimaryLocation returns the first practice location, falling back to the
// first location of any type. Returns nil if none were found.
func (p *ProviderProfile) PrimaryLocation() *Location {
	for i := range p.Locations {
		if p.Locations[i].AddressType == "" || p.Locations[i].AddressType == "Practice" {
			return &p.Locations[i]
		}
	}
	if len(p.Locations) > 0 {
		return &p.Locations[0]
	}
	return nil
}
