package goals

import (
	"regexp"
	"strings"
)

// Canonical names assigned by the naming rules.
const (
	ExternalName = "External"
	BodyName     = "Body"
)

var (
	revisionMark = regexp.MustCompile(`(?i)new`)
	scratchName  = regexp.MustCompile(`^(old|donotuse|dontuse|dnu|skip|ignore|testing)`)
	// names that contain "test" but are anatomy
	testAnatomy = regexp.MustCompile(`^(testis|teste|testic|testa|testo)`)
)

type targetRule struct {
	prefix    string
	canonical string
	skip      []string
	excluded  []string
}

// Target volumes. Planning aids derived from a target are left to the
// other rules.
var targetRules = []targetRule{
	{
		prefix:    "ptv",
		canonical: "PTV",
		skip:      []string{"ptvall"},
		excluded:  []string{"opti", "eval", "dvh", "planning", "temp", "test", "max", "cool", "ev", "mm", "cm", "exp"},
	},
	{prefix: "ctv", canonical: "CTV", excluded: []string{"temp", "test"}},
	{prefix: "itv", canonical: "ITV", excluded: []string{"temp", "test"}},
	{prefix: "gtv", canonical: "GTV", excluded: []string{"temp", "test"}},
}

// Couch and immobilisation structures, matched by substring.
var supportNames = []string{
	"Z1-Bridge", "Z2a-Bridge", "Z2b-Bridge", "Z3-Bridge", "Z4-Couch Support",
	"Z5-Hard-plate", "Z6-Couch Support", "Z7-Couch Support", "Z8-Mattress",
	"Z10-Couch Support",
}

// RuleName formats an ROI name for the naming rules: FormatName with every
// "new" removed.
func RuleName(name string) string {
	return revisionMark.ReplaceAllString(FormatName(name), "")
}

// IsScratch reports whether a rule name marks a retired or test structure.
func IsScratch(formatted string) bool {
	if scratchName.MatchString(formatted) {
		return true
	}
	return strings.Contains(formatted, "test") && !testAnatomy.MatchString(formatted)
}

// External names the body outline. The interpreted type wins over the
// name; a structure only named "external" is a body contour.
func External(roiType, formatted string) (string, bool) {
	if FormatName(roiType) == "external" {
		return ExternalName, true
	}
	if formatted == "external" {
		return BodyName, true
	}
	return "", false
}

// Target returns the generic target volume a rule name stands for.
// Names starting with w, x, y or z are helpers and never targets.
func Target(formatted string) (string, bool) {
	if formatted == "" || strings.ContainsRune("wxyz", rune(formatted[0])) {
		return "", false
	}
	for _, r := range targetRules {
		if !strings.HasPrefix(formatted, r.prefix) || hasAnyPrefix(formatted, r.skip) || hasAnySuffix(formatted, r.excluded) {
			continue
		}
		return r.canonical, true
	}
	return "", false
}

// Support returns the couch or support structure a rule name contains.
func Support(formatted string) (string, bool) {
	for _, s := range supportNames {
		if strings.Contains(formatted, FormatName(s)) {
			return s, true
		}
	}
	return "", false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}
