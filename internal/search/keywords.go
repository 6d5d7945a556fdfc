package search

import "strings"

// stopWords are dropped from title keyword extraction: boilerplate that
// appears in nearly every notice title and only broadens the search.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "for": {},
	"of": {}, "to": {}, "in": {}, "on": {}, "at": {},
	"services": {}, "service": {}, "support": {}, "solicitation": {},
	"notice": {}, "request": {}, "sources": {}, "intent": {}, "award": {},
	"contract": {}, "procurement": {},
}

// TitleKeywords extracts up to max meaningful search terms from a title.
// Words of four letters or more survive; stop words do not.
func TitleKeywords(title string, max int) string {
	if max <= 0 {
		max = 5
	}
	var kept []string
	for _, w := range strings.Fields(strings.ToLower(title)) {
		w = strings.Trim(w, ".,;:()[]\"'")
		if len(w) <= 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		kept = append(kept, w)
		if len(kept) == max {
			break
		}
	}
	return strings.Join(kept, " ")
}

// AgencyKeyword reduces a department name to a searchable agency term: the
// segment before the first comma, with the "DEPARTMENT OF [THE]" boilerplate
// stripped. Returns "" when nothing usable remains.
func AgencyKeyword(department string) string {
	name := department
	if idx := strings.Index(name, ","); idx >= 0 {
		name = name[:idx]
	}
	upper := strings.ToUpper(name)
	for _, prefix := range []string{"DEPARTMENT OF THE", "DEPARTMENT OF"} {
		if strings.HasPrefix(upper, prefix) {
			name = name[len(prefix):]
			break
		}
	}
	name = strings.TrimSpace(name)
	if len(name) <= 3 {
		return ""
	}
	return name
}
