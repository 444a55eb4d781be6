package analyzer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// "SN 35.28", "SN35.28", "sn-35-28", "SN:35:28", "MN 10". Lowercase "an" is
	// left out since it is an English article.
	shortRefRe = regexp.MustCompile(`\b([DMSA]N|[dms]n)\s*[-.: ]?\s*(\d{1,3})(?:\s*[-.: ]\s*(\d{1,3}))?\b`)

	// "Samyutta Nikaya 35.28" (matched on folded text)
	longRefRe = regexp.MustCompile(`(?i)\b(digha|majjhima|samyutta|anguttara)\s+nikaya\s+(\d{1,3})(?:\s*[.:]\s*(\d{1,3}))?\b`)

	longNames = map[string]string{
		"digha":     "DN",
		"majjhima":  "MN",
		"samyutta":  "SN",
		"anguttara": "AN",
	}
)

type namedSutta struct {
	re  *regexp.Regexp
	ref string
}

// Well-known discourses cited by name rather than number.
var namedSuttas = []namedSutta{
	{regexp.MustCompile(`(?i)\bmahasatipatthana\b`), "DN 22"},
	{regexp.MustCompile(`(?i)\bsatipatthana\b`), "MN 10"},
	{regexp.MustCompile(`(?i)\banapanasati\b`), "MN 118"},
	{regexp.MustCompile(`(?i)\badittapariyaya\b|\bfire\s+sermon\b`), "SN 35.28"},
	{regexp.MustCompile(`(?i)\banattalakkhana\b`), "SN 22.59"},
	{regexp.MustCompile(`(?i)\bdhammacakkappavattana\b`), "SN 56.11"},
	{regexp.MustCompile(`(?i)\bkalama\s+sutta\b|\bkesamutti\b`), "AN 3.65"},
	{regexp.MustCompile(`(?i)\bbrahmajala\b`), "DN 1"},
	{regexp.MustCompile(`(?i)\bsamannaphala\b`), "DN 2"},
	{regexp.MustCompile(`(?i)\bmulapariyaya\b`), "MN 1"},
	{regexp.MustCompile(`(?i)\bsabbasava\b`), "MN 2"},
}

// Khuddaka texts are cited by collection abbreviation.
var khuddakaTexts = []namedSutta{
	{regexp.MustCompile(`(?i)\bdhammapada\b`), "Dhp"},
	{regexp.MustCompile(`(?i)\budana\b`), "Ud"},
	{regexp.MustCompile(`(?i)\bitivuttaka\b`), "It"},
	{regexp.MustCompile(`(?i)\bsutta\s*nipata\b`), "Snp"},
	{regexp.MustCompile(`(?i)\btheragatha\b`), "Thag"},
	{regexp.MustCompile(`(?i)\btherigatha\b`), "Thig"},
}

// FormatRef renders a canonical reference such as "SN 35.28" or "MN 10".
func FormatRef(nikaya string, major, minor int) string {
	if minor > 0 {
		return fmt.Sprintf("%s %d.%d", strings.ToUpper(nikaya), major, minor)
	}
	return fmt.Sprintf("%s %d", strings.ToUpper(nikaya), major)
}

// ExtractCitations finds canonical references in text and returns them in
// normalized form, deduplicated, in order of discovery.
func ExtractCitations(text string) []string {
	folded := Fold(text)

	var refs []string
	seen := make(map[string]struct{})
	add := func(ref string) {
		if _, ok := seen[ref]; ok {
			return
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}

	for _, m := range shortRefRe.FindAllStringSubmatch(folded, -1) {
		if ref, ok := refFromMatch(m[1], m[2], m[3]); ok {
			add(ref)
		}
	}
	for _, m := range longRefRe.FindAllStringSubmatch(folded, -1) {
		if ref, ok := refFromMatch(longNames[strings.ToLower(m[1])], m[2], m[3]); ok {
			add(ref)
		}
	}
	for _, s := range namedSuttas {
		if s.re.MatchString(folded) {
			add(s.ref)
		}
	}
	for _, s := range khuddakaTexts {
		if s.re.MatchString(folded) {
			add(s.ref)
		}
	}

	return refs
}

func refFromMatch(nikaya, major, minor string) (string, bool) {
	a, err := strconv.Atoi(major)
	if err != nil || a == 0 {
		return "", false
	}
	b := 0
	if minor != "" {
		if b, err = strconv.Atoi(minor); err != nil {
			return "", false
		}
	}
	return FormatRef(nikaya, a, b), true
}
