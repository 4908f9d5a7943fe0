package extraction

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/quoted/internal/normalize"
)

// scan is a text together with its folded form and the offset map back.
type scan struct {
	text   string
	folded string
	idx    []int
}

func newScan(text string) *scan {
	folded, idx := normalize.FoldIndex(text)
	return &scan{text: text, folded: folded, idx: idx}
}

// orig returns the original text behind folded[start:end].
func (s *scan) orig(start, end int) string {
	return strings.TrimSpace(s.text[s.idx[start]:s.idx[end]])
}

// maxModelGap bounds how far after the make a model may start.
const maxModelGap = 24

type termHit struct {
	make, model int
	start, end  int
}

type vehicleMatch struct {
	make, model          int // model is -1 when only the make matched
	start, end           int
	modelStart, modelEnd int
}

func overlaps(hits []termHit, start, end int) bool {
	for _, h := range hits {
		if start < h.end && h.start < end {
			return true
		}
	}
	return false
}

func findTerms(folded string, terms []catalogTerm) []termHit {
	var hits []termHit
	for _, t := range terms {
		for _, pos := range wordIndexes(folded, t.term) {
			end := pos + len(t.term)
			if overlaps(hits, pos, end) {
				continue
			}
			hits = append(hits, termHit{make: t.make, model: t.model, start: pos, end: end})
		}
	}
	return hits
}

// matchVehicle finds the make and model mentioned in s. A make followed by
// one of its models wins; among those the longest model alias wins, then the
// earliest. Standalone models and bare makes are the fallbacks.
func (c *Catalog) matchVehicle(s *scan) (vehicleMatch, bool) {
	makes := findTerms(s.folded, c.makeTerms)
	models := findTerms(s.folded, c.modelTerms)

	best := vehicleMatch{make: -1}
	bestLen := 0
	consider := func(m vehicleMatch) {
		l := m.modelEnd - m.modelStart
		if best.make < 0 || l > bestLen || (l == bestLen && m.start < best.start) {
			best, bestLen = m, l
		}
	}

	for _, md := range models {
		for _, mk := range makes {
			if mk.make != md.make || mk.end > md.start || md.start-mk.end > maxModelGap {
				continue
			}
			consider(vehicleMatch{make: md.make, model: md.model, start: mk.start, end: md.end, modelStart: md.start, modelEnd: md.end})
		}
	}
	if best.make >= 0 {
		return best, true
	}

	for _, md := range models {
		if c.Makes[md.make].Models[md.model].Standalone {
			consider(vehicleMatch{make: md.make, model: md.model, start: md.start, end: md.end, modelStart: md.start, modelEnd: md.end})
		}
	}
	if best.make >= 0 {
		return best, true
	}

	for _, mk := range makes {
		if best.make < 0 || mk.start < best.start {
			best = vehicleMatch{make: mk.make, model: -1, start: mk.start, end: mk.end}
		}
	}
	return best, best.make >= 0
}

var (
	trailingModelRe = regexp.MustCompile(`^[ \t]+([\p{L}\d][\p{L}\d\-]*)`)
	yearLabelRe     = regexp.MustCompile(`\b(?:model year|year|annee|bouwjaar|baujahr|jaar|ano|anno)\s*[:\-]?\s*((?:19|20)\d{2})\b`)
	yearAfterRe     = regexp.MustCompile(`^[\s,(\-]{0,3}((?:19|20)\d{2})\b`)
	yearBeforeRe    = regexp.MustCompile(`\b((?:19|20)\d{2})[\s,]{1,3}$`)
	ccRe            = regexp.MustCompile(`\b(\d{3,5})\s?(?:ccm|cc|cm3|cm³)(?:[^\p{L}\d]|$)`)
	litreRe         = regexp.MustCompile(`\b(\d[.,]\d)\s?(?:litres?|liters?|ltr|l|tdi|tsi|tfsi|hdi|dci|crdi|cdi|tdci|d4d|vvti|v6|v8)\b`)
)

// notModel lists words that follow a make but never name a model.
var notModel = map[string]bool{
	"from": true, "to": true, "de": true, "van": true, "naar": true, "a": true,
	"with": true, "for": true, "and": true, "et": true, "en": true, "y": true,
	"model": true, "year": true, "vehicle": true, "car": true, "voiture": true,
	"auto": true, "please": true, "in": true, "on": true, "by": true, "the": true,
}

var fuelTerms = map[string]string{
	"petrol": "petrol", "gasoline": "petrol", "essence": "petrol", "benzine": "petrol",
	"benzin": "petrol", "gasolina": "petrol",
	"diesel": "diesel", "gasoil": "diesel", "gazole": "diesel",
	"hybrid": "hybrid", "hybride": "hybrid", "hibrido": "hybrid",
	"electric": "electric", "electrique": "electric", "elektrisch": "electric",
	"elektro": "electric", "electrico": "electric",
	"lpg": "lpg", "gpl": "lpg", "cng": "cng",
}

// vehicleGroup sets brand, model, type and year and returns the matched
// catalog model for reference backfill.
func (c *Catalog) vehicleGroup(s *scan, r *Result, o Origin) (*Model, int) {
	hits := 0
	var model *Model

	if m, ok := c.matchVehicle(s); ok {
		mk := c.Makes[m.make]
		if r.set(FieldVehicleBrand, mk.Name, o) {
			hits++
		}
		end := m.end
		if m.model >= 0 {
			md := mk.Models[m.model]
			model = &md
			if r.set(FieldVehicleModel, s.orig(m.modelStart, m.modelEnd), o) {
				hits++
			}
			r.set(FieldVehicleCategory, md.Type, OriginReference)
		} else if sub := trailingModelRe.FindStringSubmatchIndex(s.folded[m.end:]); sub != nil {
			word := s.folded[m.end+sub[2] : m.end+sub[3]]
			if !notModel[word] && !isYear(word) {
				if r.set(FieldVehicleModel, s.orig(m.end+sub[2], m.end+sub[3]), o) {
					hits++
				}
				end = m.end + sub[3]
			}
		}

		if y, ok := yearNear(s.folded, m.start, end); ok && r.set(FieldVehicleYear, y, o) {
			hits++
		}
	}

	if _, ok := r.Data[FieldVehicleYear]; !ok {
		if sub := yearLabelRe.FindStringSubmatch(s.folded); sub != nil {
			if y, ok := parseYear(sub[1]); ok && r.set(FieldVehicleYear, y, o) {
				hits++
			}
		}
	}

	if cc, ok := engineSize(s.folded); ok && r.set(FieldVehicleEngine, cc, o) {
		hits++
	}
	if f, ok := fuelType(s.folded); ok && r.set(FieldVehicleFuel, f, o) {
		hits++
	}
	return model, hits
}

func yearNear(folded string, start, end int) (int, bool) {
	if sub := yearAfterRe.FindStringSubmatch(folded[end:]); sub != nil {
		return parseYear(sub[1])
	}
	if sub := yearBeforeRe.FindStringSubmatch(folded[:start]); sub != nil {
		return parseYear(sub[1])
	}
	return 0, false
}

func isYear(s string) bool {
	_, ok := parseYear(s)
	return ok
}

func parseYear(s string) (int, bool) {
	y, err := strconv.Atoi(s)
	if err != nil || len(s) != 4 {
		return 0, false
	}
	return y, y >= 1950 && y <= time.Now().Year()+1
}

func engineSize(folded string) (int, bool) {
	if sub := ccRe.FindStringSubmatch(folded); sub != nil {
		cc, err := strconv.Atoi(sub[1])
		if err == nil && cc >= 500 && cc <= 20000 {
			return cc, true
		}
	}
	if sub := litreRe.FindStringSubmatch(folded); sub != nil {
		l, ok := parseNumber(sub[1])
		if ok && l >= 0.6 && l <= 9.9 {
			return int(math.Round(l * 1000)), true
		}
	}
	return 0, false
}

func fuelType(folded string) (string, bool) {
	first, val := -1, ""
	for term, canon := range fuelTerms {
		if idx := wordIndexes(folded, term); len(idx) > 0 && (first < 0 || idx[0] < first) {
			first, val = idx[0], canon
		}
	}
	return val, first >= 0
}

// referenceBackfill fills factory data for fields the text did not give.
// Text values are never overridden.
func referenceBackfill(model *Model, r *Result) int {
	if model == nil || model.Spec == nil {
		return 0
	}
	sp := model.Spec
	n := 0
	for path, v := range map[string]any{
		FieldVehicleLength: sp.LengthM,
		FieldVehicleWidth:  sp.WidthM,
		FieldVehicleHeight: sp.HeightM,
		FieldVehicleWeight: sp.WeightKg,
		FieldVehicleEngine: sp.EngineCC,
		FieldVehicleFuel:   sp.FuelType,
	} {
		if r.set(path, v, OriginReference) {
			n++
		}
	}
	return n
}
