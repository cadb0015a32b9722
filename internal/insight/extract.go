package insight

import "strings"

// Fields holds whatever the extractor managed to recover from a
// generated analysis. Absent sections are empty strings, never errors:
// the generator is free-form and a missing marker is expected, not
// exceptional.
type Fields struct {
	Observations         string
	PriceRecommendations string
	ProductFocus         string
}

// sectionMarkers are tested against each candidate section in order.
// The first match wins, so "Price" never claims a section that also
// says "Observations".
var sectionMarkers = []struct {
	substr string
	prefix string
	assign func(*Fields, string)
}{
	{"Observations", "Observations:", func(f *Fields, s string) { f.Observations = s }},
	{"Price", "Price:", func(f *Fields, s string) { f.PriceRecommendations = s }},
	{"Product", "Product:", func(f *Fields, s string) { f.ProductFocus = s }},
}

// ExtractSections splits raw generated text on blank lines and assigns
// each piece to the first field whose marker appears in it, with the
// marker label stripped. Unrecognized sections are
// dropped and a later match overwrites an earlier one.
func ExtractSections(raw string) Fields {
	var fields Fields
	for _, section := range strings.Split(raw, "\n\n") {
		if strings.TrimSpace(section) == "" {
			continue
		}
		for _, m := range sectionMarkers {
			if strings.Contains(section, m.substr) {
				m.assign(&fields, strings.TrimSpace(strings.ReplaceAll(section, m.prefix, "")))
				break
			}
		}
	}
	return fields
}
