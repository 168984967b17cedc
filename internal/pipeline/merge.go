package pipeline

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/provider-cli/internal/model"
	"github.com/sells-group/provider-cli/pkg/nppes"
)

var titleCaser = cases.Title(language.AmericanEnglish)

// titleCase normalizes registry ALL-CAPS values to display casing. Values
// with mixed case are left alone; someone already cased them deliberately.
func titleCase(s string) string {
	if s == "" || s != strings.ToUpper(s) {
		return s
	}
	return titleCaser.String(strings.ToLower(s))
}

// displayName builds the golden record's display name. Individuals get
// "First Last, Credential"; organizations use the registered name.
func displayName(rec *nppes.CanonicalRecord) string {
	if rec.Individual() {
		name := strings.TrimSpace(titleCase(rec.FirstName) + " " + titleCase(rec.LastName))
		if rec.Credential != "" {
			return fmt.Sprintf("%s, %s", name, rec.Credential)
		}
		return name
	}
	return titleCase(rec.OrganizationName)
}

// payloadString pulls a trimmed string value out of the submitted payload,
// checking each key in order.
func payloadString(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := payload[key]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// buildProvider reconciles the registry record and submitted payload into a
// golden record. The registry wins every field it carries; submitted input
// only fills contact fields the registry has no notion of (email, website)
// and anything the registry left blank.
func buildProvider(rec *nppes.CanonicalRecord, payload map[string]any, result *model.ComparisonResult) *model.Provider {
	p := &model.Provider{
		NPI:         rec.NPI,
		DisplayName: displayName(rec),
		FirstName:   titleCase(rec.FirstName),
		LastName:    titleCase(rec.LastName),
		RawInput:    payload,
	}

	if t := rec.PrimaryTaxonomy; t != nil {
		p.TaxonomyCode = t.Code
		p.LicenseNumber = t.License
	}
	for _, t := range rec.AllTaxonomies {
		if t.Desc != "" {
			p.Specialties = append(p.Specialties, t.Desc)
		}
	}

	if !rec.Individual() {
		p.PracticeName = titleCase(rec.OrganizationName)
	}

	if a := rec.PrimaryPracticeAddress; a != nil {
		p.AddressLine1 = titleCase(a.Address1)
		p.AddressLine2 = titleCase(a.Address2)
		p.City = titleCase(a.City)
		p.State = a.State
		p.PostalCode = a.PostalCode
		p.Country = a.CountryCode
		p.Phone = a.Telephone
		p.Fax = a.Fax
	}

	// The registry carries no email or website; these come from the caller.
	p.Email = payloadString(payload, "email", "primary_email")
	p.Website = payloadString(payload, "website", "website_url")
	if p.Phone == "" {
		p.Phone = payloadString(payload, "phone", "phone_number")
	}
	if p.PracticeName == "" {
		p.PracticeName = payloadString(payload, "practice", "practice_name", "organization")
	}

	if result != nil {
		p.OverallConfidence = result.Confidence
		p.SetVerification("npi", true, 1.0)
		for field, fc := range result.Fields {
			providerField := field
			if field == "specialty" {
				providerField = "taxonomy"
			}
			p.SetVerification(providerField, fc.Match, fc.Confidence)
		}
	}

	return p
}

// enrichableFields lists the golden-record fields enrichment is allowed to
// fill, in reporting order.
var enrichableFields = []string{
	"email", "website", "phone", "fax", "practice_name",
	"accepting_new_patients", "telehealth", "languages",
}

// missingFields reports which enrichable fields are currently empty.
func missingFields(p *model.Provider) []string {
	var missing []string
	for _, f := range enrichableFields {
		switch f {
		case "email":
			if p.Email == "" {
				missing = append(missing, f)
			}
		case "website":
			if p.Website == "" {
				missing = append(missing, f)
			}
		case "phone":
			if p.Phone == "" {
				missing = append(missing, f)
			}
		case "fax":
			if p.Fax == "" {
				missing = append(missing, f)
			}
		case "practice_name":
			if p.PracticeName == "" {
				missing = append(missing, f)
			}
		case "accepting_new_patients":
			if p.AcceptingNewPatients == nil {
				missing = append(missing, f)
			}
		case "telehealth":
			if p.Telehealth == nil {
				missing = append(missing, f)
			}
		case "languages":
			if len(p.Languages) == 0 {
				missing = append(missing, f)
			}
		}
	}
	return missing
}

// applyEnrichment copies resolver findings into currently-empty fields only.
// Populated authoritative fields are never overwritten. Returns the number
// of fields filled.
func applyEnrichment(p *model.Provider, profile *model.ProviderProfile) int {
	filled := 0

	if p.Email == "" && profile.Email != "" {
		p.Email = profile.Email
		filled++
	}
	if p.Website == "" && profile.Website != "" {
		p.Website = profile.Website
		filled++
	}
	if p.Phone == "" && profile.PrimaryPhone() != "" {
		p.Phone = profile.PrimaryPhone()
		filled++
	}
	if p.Fax == "" && profile.Fax != "" {
		p.Fax = profile.Fax
		filled++
	}
	if p.PracticeName == "" && profile.OrganizationName != "" {
		p.PracticeName = profile.OrganizationName
		filled++
	}
	if p.AcceptingNewPatients == nil && profile.AcceptingNewPatients != nil {
		p.AcceptingNewPatients = profile.AcceptingNewPatients
		filled++
	}
	if p.Telehealth == nil && profile.Telehealth != nil {
		p.Telehealth = profile.Telehealth
		filled++
	}
	if len(p.Languages) == 0 && len(profile.Languages) > 0 {
		p.Languages = profile.Languages
		filled++
	}
	if len(p.Specialties) == 0 && len(profile.Specialties) > 0 {
		p.Specialties = profile.Specialties
		filled++
	}
	if p.AddressLine1 == "" {
		if loc := profile.PrimaryLocation(); loc != nil && loc.StreetAddress1 != "" {
			p.AddressLine1 = loc.StreetAddress1
			p.AddressLine2 = loc.StreetAddress2
			p.City = loc.City
			p.State = loc.State
			p.PostalCode = loc.ZipCode
			filled++
		}
	}

	return filled
}
