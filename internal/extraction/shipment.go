package extraction

import (
	"regexp"
	"strings"
)

// shipping modes, folded keyword to canonical value
var shippingTerms = []struct {
	term, mode string
}{
	{"ro-ro", "roro"}, {"ro/ro", "roro"}, {"roro", "roro"}, {"roll on roll off", "roro"},
	{"flat rack", "flatrack"}, {"flatrack", "flatrack"}, {"flat-rack", "flatrack"},
	{"shared container", "consolidation"}, {"groupage", "consolidation"},
	{"consolidation", "consolidation"}, {"consolidated", "consolidation"},
	{"container", "container"}, {"conteneur", "container"}, {"containers", "container"},
	{"40ft", "container"}, {"20ft", "container"}, {"40hc", "container"}, {"40'", "container"},
	{"20'", "container"},
}

var cargoLineRe = regexp.MustCompile(`(?im)^[ \t]*(?:cargo|goods|commodity|marchandises?|lading|goederen|ladung|mercancias?|carga)[ \t]*[:\-][ \t]*(.+)$`)

// shipmentGroup reads the shipping mode and a cargo description line.
func shipmentGroup(s *scan, r *Result, o Origin) int {
	hits := 0
	first, mode := -1, ""
	for _, st := range shippingTerms {
		idx := wordIndexes(s.folded, st.term)
		if len(idx) > 0 && (first < 0 || idx[0] < first) {
			first, mode = idx[0], st.mode
		}
	}
	if r.set(FieldShippingType, mode, o) {
		hits++
	}
	if m := cargoLineRe.FindStringSubmatch(s.text); m != nil {
		if r.set(FieldCargo, strings.TrimSpace(m[1]), o) {
			hits++
		}
	}
	return hits
}
