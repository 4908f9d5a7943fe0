package extraction

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

type quantity int

const (
	qtyLength quantity = iota
	qtyMass
)

// measureHit is a number immediately followed by a unit, normalized to
// meters or kilograms.
type measureHit struct {
	value      float64
	qty        quantity
	start, end int
}

var (
	numUnitRe = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s?(mm|cm|mtrs?|meters?|metres?|m|kgs?|kilos?|kilograms?|tonnes?|tons?|t|lbs?)\b`)
	tripleRe  = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s?(mm|cm|m)?\s*[x×*]\s*(\d+(?:[.,]\d+)?)\s?(mm|cm|m)?\s*[x×*]\s*(\d+(?:[.,]\d+)?)\s?(mm|cm|m)?\b`)
)

var dimensionKeywords = map[string][]string{
	FieldVehicleLength: {"length", "lengte", "longueur", "lange", "largo", "longitud", "len", "long", "lang"},
	FieldVehicleWidth:  {"width", "breedte", "largeur", "breite", "ancho", "anchura", "wide", "breed", "breit"},
	FieldVehicleHeight: {"height", "hoogte", "hauteur", "hohe", "alto", "altura", "high", "tall", "hoog", "hoch", "haut"},
	FieldVehicleWeight: {"weight", "gewicht", "poids", "peso", "gvw", "masse", "weighs", "heavy"},
}

// plausible ranges after normalization
var measureRanges = map[string][2]float64{
	FieldVehicleLength: {1, 30},
	FieldVehicleWidth:  {0.5, 5},
	FieldVehicleHeight: {0.3, 5},
	FieldVehicleWeight: {10, 80000},
}

// keywordWindow bounds the distance between a keyword and its number.
const keywordWindow = 30

func inRange(path string, v float64) bool {
	r := measureRanges[path]
	return v >= r[0] && v <= r[1]
}

func unitScale(unit string) (quantity, float64) {
	switch {
	case unit == "mm":
		return qtyLength, 0.001
	case unit == "cm":
		return qtyLength, 0.01
	case unit == "m" || strings.HasPrefix(unit, "mtr") || strings.HasPrefix(unit, "met"):
		return qtyLength, 1
	case unit == "t" || strings.HasPrefix(unit, "ton"):
		return qtyMass, 1000
	case strings.HasPrefix(unit, "lb"):
		return qtyMass, 0.45359237
	}
	return qtyMass, 1
}

// readAmount parses a number, reading "1.500" and "2,000" as thousands for
// masses in kilograms.
func readAmount(num string, qty quantity, scale float64) (float64, bool) {
	if qty == qtyMass && scale == 1 {
		if i := strings.IndexAny(num, ".,"); i > 0 && len(num)-i-1 == 3 {
			num = num[:i] + num[i+1:]
		}
	}
	v, ok := parseNumber(num)
	return v, ok
}

func measureHits(folded string) []measureHit {
	var out []measureHit
	for _, m := range numUnitRe.FindAllStringSubmatchIndex(folded, -1) {
		num, unit := folded[m[2]:m[3]], folded[m[4]:m[5]]
		qty, scale := unitScale(unit)
		v, ok := readAmount(num, qty, scale)
		if !ok {
			continue
		}
		out = append(out, measureHit{value: round(v*scale, 3), qty: qty, start: m[0], end: m[1]})
	}
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// measurementGroup extracts dimensions and weight. A "L x W x H" triple is
// read first; keywords then fill what is missing.
func measurementGroup(s *scan, r *Result, o Origin) int {
	hits := 0
	if l, w, h, ok := dimensionTriple(s.folded); ok {
		for path, v := range map[string]float64{FieldVehicleLength: l, FieldVehicleWidth: w, FieldVehicleHeight: h} {
			if inRange(path, v) && r.set(path, v, o) {
				hits++
			}
		}
	}

	all := measureHits(s.folded)
	used := map[int]bool{}

	// Keywords are visited in text order so each one consumes its own
	// number before a later keyword can reach for it.
	type mention struct {
		path     string
		pos, end int
	}
	var mentions []mention
	for path, kws := range dimensionKeywords {
		if r.Has(path) {
			continue
		}
		for _, kw := range kws {
			for _, pos := range wordIndexes(s.folded, kw) {
				mentions = append(mentions, mention{path, pos, pos + len(kw)})
			}
		}
	}
	sort.Slice(mentions, func(i, j int) bool {
		if mentions[i].pos != mentions[j].pos {
			return mentions[i].pos < mentions[j].pos
		}
		return mentions[i].path < mentions[j].path
	})

	for _, m := range mentions {
		if r.Has(m.path) {
			continue
		}
		i := nearestHit(all, used, m.path, m.pos, m.end)
		if i < 0 {
			continue
		}
		used[i] = true
		if r.set(m.path, all[i].value, o) {
			hits++
		}
	}

	// A lone mass is unambiguous; lone lengths are not.
	if !r.Has(FieldVehicleWeight) {
		for i, h := range all {
			if h.qty == qtyMass && !used[i] && inRange(FieldVehicleWeight, h.value) {
				if r.set(FieldVehicleWeight, h.value, o) {
					hits++
				}
				break
			}
		}
	}
	return hits
}

// nearestHit picks the closest unused, plausible hit for path within
// keywordWindow of the keyword. When numbers sit on both sides the
// preceding one wins.
func nearestHit(all []measureHit, used map[int]bool, path string, kwStart, kwEnd int) int {
	qty := qtyLength
	if path == FieldVehicleWeight {
		qty = qtyMass
	}
	after, before := -1, -1
	for i, h := range all {
		if used[i] || h.qty != qty || !inRange(path, h.value) {
			continue
		}
		if h.start >= kwEnd && h.start-kwEnd <= keywordWindow {
			if after < 0 || h.start < all[after].start {
				after = i
			}
		}
		if h.end <= kwStart && kwStart-h.end <= keywordWindow {
			if before < 0 || h.end > all[before].end {
				before = i
			}
		}
	}
	if before >= 0 {
		return before
	}
	return after
}

func dimensionTriple(folded string) (l, w, h float64, ok bool) {
	m := tripleRe.FindStringSubmatch(folded)
	if m == nil {
		return 0, 0, 0, false
	}
	nums := [3]string{m[1], m[3], m[5]}
	units := [3]string{m[2], m[4], m[6]}

	fallback := ""
	for i := 2; i >= 0; i-- {
		if units[i] != "" {
			fallback = units[i]
			break
		}
	}

	var vals [3]float64
	maxV := 0.0
	for i, n := range nums {
		v, ok := parseNumber(n)
		if !ok {
			return 0, 0, 0, false
		}
		vals[i] = v
		maxV = math.Max(maxV, v)
	}
	if fallback == "" {
		switch {
		case maxV > 1000:
			fallback = "mm"
		case maxV > 30:
			fallback = "cm"
		default:
			fallback = "m"
		}
	}
	for i := range vals {
		u := units[i]
		if u == "" {
			u = fallback
		}
		_, scale := unitScale(u)
		vals[i] = round(vals[i]*scale, 3)
	}
	return vals[0], vals[1], vals[2], true
}
