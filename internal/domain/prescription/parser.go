package prescription

import (
	"regexp"
	"strings"
)

const (
	defaultFrequency = "As prescribed"
	defaultDuration  = "N/A"
)

var medicineLine = regexp.MustCompile(`(?i)(Paracetamol|Amoxicillin|Ibuprofen)\s*(\d+mg)?\s*(.*)`)

// ParseMedicines extracts recognized medicines from OCR text, one per
// matching line, in line order. The name keeps the casing found in the
// text. Lines without a known medicine are dropped.
func ParseMedicines(text string) []Medicine {
	var out []Medicine
	for _, line := range strings.Split(text, "\n") {
		m := medicineLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out = append(out, Medicine{
			Name:      m[1],
			Dosage:    m[2],
			Frequency: defaultFrequency,
			Duration:  defaultDuration,
		})
	}
	return out
}
