package fetcher

import "strings"

// npiHeaderAliases are the header spellings under which the NPI column is
// recognized in batch files.
var npiHeaderAliases = []string{"npi", "npi_number", "provider_npi", "npi number", "national provider identifier"}

// RowMapper turns positional rows into submission payload maps using a
// header row.
type RowMapper struct {
	headers  []string
	npiIndex int
}

// NewRowMapper builds a mapper from a header row. Header matching is
// case-insensitive; the NPI column is located via its known alias spellings.
func NewRowMapper(headers []string) *RowMapper {
	m := &RowMapper{headers: make([]string, len(headers)), npiIndex: -1}
	for i, h := range headers {
		normalized := strings.ToLower(strings.TrimSpace(h))
		m.headers[i] = normalized
		if m.npiIndex == -1 {
			for _, alias := range npiHeaderAliases {
				if normalized == alias {
					m.npiIndex = i
					break
				}
			}
		}
	}
	return m
}

// HasNPIColumn reports whether any header matched an NPI alias.
func (m *RowMapper) HasNPIColumn() bool {
	return m.npiIndex >= 0
}

// Map converts a positional row into (npi, payload). Columns beyond the
// header width are ignored; empty cells are omitted from the payload.
func (m *RowMapper) Map(row []string) (string, map[string]any) {
	payload := make(map[string]any, len(m.headers))
	var npi string

	for i, h := range m.headers {
		if i >= len(row) {
			break
		}
		value := strings.TrimSpace(row[i])
		if value == "" {
			continue
		}
		if i == m.npiIndex {
			npi = value
			payload["npi"] = value
			continue
		}
		payload[h] = value
	}

	return npi, payload
}
