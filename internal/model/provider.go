package model

import "time"

// ProviderStatus represents the verification state of a golden record.
type ProviderStatus string

const (
	ProviderVerified    ProviderStatus = "verified"
	ProviderNeedsReview ProviderStatus = "needs_review"
	ProviderEnriched    ProviderStatus = "enriched"
	ProviderRejected    ProviderStatus = "rejected"
)

// VerificationStatus is the per-field validation outcome.
type VerificationStatus string

const (
	FieldVerified VerificationStatus = "VERIFIED"
	FieldMismatch VerificationStatus = "MISMATCH"
)

// FieldVerification pairs a per-field status with the comparator's
// confidence in [0.0, 1.0].
type FieldVerification struct {
	Status     VerificationStatus `json:"status"`
	Confidence float64            `json:"confidence"`
}

// TrackedFields are the fields carrying verification metadata on a provider.
var TrackedFields = []string{"npi", "name", "practice", "address", "taxonomy", "license"}

// Provider is the reconciled golden record. At most one exists per NPI.
// Authoritative fields come from the NPPES registry; only contact fields the
// registry does not carry (email, website) fall back to submitted input.
// Enrichment fills empty fields only, never overwriting populated ones.
type Provider struct {
	ID          int64  `json:"provider_id"`
	NPI         string `json:"npi"`
	DisplayName string `json:"display_name,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`

	// Professional
	TaxonomyCode  string   `json:"taxonomy_code,omitempty"`
	Specialties   []string `json:"specialties,omitempty"`
	LicenseNumber string   `json:"license_number,omitempty"`

	// Contact
	Phone   string `json:"phone,omitempty"`
	Fax     string `json:"fax,omitempty"`
	Email   string `json:"email,omitempty"`
	Website string `json:"website,omitempty"`

	// Practice
	PracticeName string `json:"practice_name,omitempty"`

	// Address
	AddressLine1 string `json:"address_line1,omitempty"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	Country      string `json:"country,omitempty"`

	// Operational
	AcceptingNewPatients *bool    `json:"accepting_new_patients,omitempty"`
	Telehealth           *bool    `json:"telehealth,omitempty"`
	Languages            []string `json:"languages,omitempty"`

	// Verification metadata
	Status            ProviderStatus               `json:"status"`
	OverallConfidence float64                      `json:"overall_confidence"`
	Verifications     map[string]FieldVerification `json:"verifications,omitempty"`

	// Original submitted payload, retained for audit.
	RawInput map[string]any `json:"raw_input,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastVerified time.Time `json:"last_verified"`
}

// SetVerification records a per-field verification outcome.
func (p *Provider) SetVerification(field string, match bool, confidence float64) {
	if p.Verifications == nil {
		p.Verifications = make(map[string]FieldVerification, len(TrackedFields))
	}
	status := FieldMismatch
	if match {
		status = FieldVerified
	}
	p.Verifications[field] = FieldVerification{Status: status, Confidence: confidence}
}
