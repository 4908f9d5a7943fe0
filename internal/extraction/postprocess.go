package extraction

import (
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/quoted/internal/normalize"
)

// BackfillStrategy is the provenance of route values recovered after merge.
const BackfillStrategy = "backfill"

const backfillConfidence = 0.5

var sentinels = words("n/a", "na", "n.a.", "-", "--", "---", "?", "unknown", "none", "null", "nil",
	"tbd", "tba", "inconnu", "onbekend", "unbekannt", "desconocido", "nvt", "n.v.t.", "/")

func isSentinel(v any) bool {
	s, ok := v.(string)
	return ok && sentinels[strings.TrimSpace(normalize.Fold(s))]
}

// NormalizeBlanks clears every leaf holding a blank-like sentinel such as
// "N/A" or "-", and drops sentinel entries from destination options.
func NormalizeBlanks(rec *Record) {
	for _, path := range Leaves {
		v, ok := rec.Value(path)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			if isSentinel(t) {
				rec.clear(path)
			}
		case []string:
			kept := t[:0:0]
			for _, e := range t {
				if !isSentinel(e) && strings.TrimSpace(e) != "" {
					kept = append(kept, e)
				}
			}
			if len(kept) < 2 {
				rec.clear(path)
			} else {
				rec.Shipment.DestinationOptions = kept
			}
		}
	}
}

// BackfillRoute fills a missing origin or destination from free text using
// the same keyword approach as the pattern strategy. Present values stay.
func BackfillRoute(rec *Record, cat *Catalog, text string) int {
	if cat == nil || strings.TrimSpace(text) == "" {
		return 0
	}
	if rec.Shipment.Origin != "" && rec.Shipment.Destination != "" {
		return 0
	}
	if rec.Provenance == nil {
		rec.Provenance = map[string]Provenance{}
	}
	route := guardRoute(cat.ExtractRoute(text), rec.Contact.Name)
	n := 0
	prov := Provenance{Strategy: BackfillStrategy, Origin: OriginText, Confidence: backfillConfidence}
	if rec.Shipment.Origin == "" && route.Origin != "" && !sameFold(route.Origin, rec.Shipment.Destination) {
		rec.Shipment.Origin = route.Origin
		rec.Provenance[FieldOrigin] = prov
		n++
	}
	if rec.Shipment.Destination == "" && route.Destination != "" && !sameFold(route.Destination, rec.Shipment.Origin) {
		rec.Shipment.Destination = route.Destination
		rec.Provenance[FieldDestination] = prov
		n++
		if len(rec.Shipment.DestinationOptions) == 0 && len(route.Options) > 1 {
			rec.Shipment.DestinationOptions = route.Options
			rec.Provenance[FieldDestOptions] = prov
		}
	}
	return n
}

func sameFold(a, b string) bool {
	return a != "" && b != "" && normalize.Fold(a) == normalize.Fold(b)
}

var (
	emptyParensRe = regexp.MustCompile(`\s*(?:\(\s*\)|\[\s*\]|\{\s*\})`)
	spaceRunRe    = regexp.MustCompile(`[ \t]{2,}`)
)

// StripArtifacts removes empty parentheticals, dangling separators and
// doubled spaces from free-text leaves.
func StripArtifacts(rec *Record) {
	for _, path := range []string{
		FieldCargo, FieldContactName, FieldContactCompany,
		FieldVehicleModel, FieldOrigin, FieldDestination,
	} {
		v, ok := rec.Value(path)
		if !ok {
			continue
		}
		s := cleanText(v.(string))
		if s == "" {
			rec.clear(path)
			continue
		}
		_ = rec.Set(path, s)
	}
}

func cleanText(s string) string {
	s = emptyParensRe.ReplaceAllString(s, "")
	s = spaceRunRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), ",;:-/"))
}
