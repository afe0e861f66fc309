package analysis

import "strings"

// Severity ranks how serious a finding is. Values are ordered; use Rank
// for comparisons.
type Severity string

const (
	SeverityInformative Severity = "informative"
	SeverityLow         Severity = "low"
	SeverityMedium      Severity = "medium"
	SeverityHigh        Severity = "high"
	SeverityCritical    Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInformative: 0,
	SeverityLow:         1,
	SeverityMedium:      2,
	SeverityHigh:        3,
	SeverityCritical:    4,
}

// Rank returns the ordinal position of the severity. Unknown values rank
// lowest.
func (s Severity) Rank() int {
	return severityRank[s]
}

// severitySynonyms maps worker vocabulary onto the canonical scale.
// Workers report severity as free text; canonical names are matched
// first, then this table, and anything unrecognized is Informative.
var severitySynonyms = map[string]Severity{
	"blocker":  SeverityCritical,
	"major":    SeverityHigh,
	"error":    SeverityHigh,
	"moderate": SeverityMedium,
	"warning":  SeverityMedium,
	"minor":    SeverityLow,
}

// ParseSeverity normalizes a raw severity string. It is total: every
// input maps to a severity, with Informative as the default.
func ParseSeverity(raw string) Severity {
	s := strings.ToLower(strings.TrimSpace(raw))
	if _, ok := severityRank[Severity(s)]; ok {
		return Severity(s)
	}
	if sev, ok := severitySynonyms[s]; ok {
		return sev
	}
	return SeverityInformative
}
