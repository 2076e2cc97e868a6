// Package contactimport parses the CSV contact rosters accepted by
// POST /api/db/contacts/import and POST /api/db/campaigns/start-from-csv.
// Kept as a pure, store-independent parser so the header-synonym
// and skip-on-missing-phone rules can be tested without a database.
//
// Grounded on apicall's own encoding/csv usage pattern (no third-party
// CSV library appears anywhere in the retrieval pack, so stdlib is the
// grounded choice here).
package contactimport

import (
	"encoding/csv"
	"io"
	"strings"
)

// Row is one parsed, not-yet-persisted contact.
type Row struct {
	Phone string
	Name  string
	Email string
}

// phoneSynonyms is the accepted header synonym set, matched case-
// insensitively after stripping spaces/underscores/hyphens so "Phone
// Number", "phone_number" and "PHONENUMBER" all resolve to the same
// column.
var phoneSynonyms = map[string]bool{
	"phone":         true,
	"phonenumber":   true,
	"mobile":        true,
	"telephone":     true,
	"contactnumber": true,
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(h)
	return h
}

// Parse reads a CSV roster and returns every row that has a non-empty
// phone number; rows without one are silently skipped. The phone
// column is located by header synonym, not fixed position, since
// uploaded CSVs vary in column order.
func Parse(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // tolerate ragged rows; short rows just miss trailing columns

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	phoneCol, nameCol, emailCol := -1, -1, -1
	for i, h := range header {
		switch normalized := normalizeHeader(h); {
		case phoneSynonyms[normalized] && phoneCol == -1:
			phoneCol = i
		case normalized == "name" && nameCol == -1:
			nameCol = i
		case normalized == "email" && emailCol == -1:
			emailCol = i
		}
	}
	if phoneCol == -1 {
		return nil, nil // no recognizable phone column: nothing to import
	}

	var out []Row
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		phone := field(record, phoneCol)
		if phone == "" {
			continue // rows without a phone are skipped
		}
		out = append(out, Row{
			Phone: phone,
			Name:  field(record, nameCol),
			Email: field(record, emailCol),
		})
	}
	return out, nil
}

func field(record []string, col int) string {
	if col < 0 || col >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[col])
}
