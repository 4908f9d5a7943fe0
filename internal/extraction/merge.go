package extraction

import (
	"fmt"
	"reflect"
)

// referenceOutranksAI lists the field classes where factory reference data
// beats an AI guess regardless of confidence.
var referenceOutranksAI = map[string]bool{
	FieldVehicleLength: true,
	FieldVehicleWidth:  true,
	FieldVehicleHeight: true,
	FieldVehicleWeight: true,
	FieldVehicleEngine: true,
	FieldVehicleFuel:   true,
}

type candidate struct {
	value      any
	strategy   string
	origin     Origin
	confidence float64
}

func machineGuess(o Origin) bool {
	return o == OriginAI || o == OriginOCR
}

// merge combines results leaf by leaf. Empty and blank-like values ("N/A")
// never override present ones. On conflict the higher-confidence result
// wins, except where referenceOutranksAI applies. Equal confidence keeps
// the earlier result and reports a warning.
func merge(results []Result) (Record, []string) {
	rec := Record{Provenance: map[string]Provenance{}}
	var warnings []string

	for _, path := range Leaves {
		var cands []candidate
		for _, r := range results {
			v, ok := r.Data[path]
			if !ok || isEmpty(v) || isSentinel(v) {
				continue
			}
			cands = append(cands, candidate{value: v, strategy: r.Strategy, origin: r.Origins[path], confidence: r.Confidence})
		}
		if len(cands) == 0 {
			continue
		}

		best, tie := pick(path, cands)
		if tie != nil {
			warnings = append(warnings, fmt.Sprintf(
				"conflicting values for %s at equal confidence: kept %v from %s over %v from %s",
				path, best.value, best.strategy, tie.value, tie.strategy))
		}
		if err := rec.Set(path, best.value); err != nil {
			warnings = append(warnings, err.Error())
			continue
		}
		rec.Provenance[path] = Provenance{Strategy: best.strategy, Origin: best.origin, Confidence: best.confidence}
	}
	return rec, warnings
}

// pick chooses the winning candidate. The second return value is the
// runner-up when the choice fell to a confidence tie with a different value.
func pick(path string, cands []candidate) (candidate, *candidate) {
	if len(cands) == 1 {
		return cands[0], nil
	}

	if referenceOutranksAI[path] {
		hasRef, hasGuess := false, false
		for _, c := range cands {
			hasRef = hasRef || c.origin == OriginReference
			hasGuess = hasGuess || machineGuess(c.origin)
		}
		if hasRef && hasGuess {
			kept := cands[:0:0]
			for _, c := range cands {
				if !machineGuess(c.origin) {
					kept = append(kept, c)
				}
			}
			cands = kept
		}
	}

	best := 0
	for i := 1; i < len(cands); i++ {
		if cands[i].confidence > cands[best].confidence {
			best = i
		}
	}
	for i, c := range cands {
		if i != best && c.confidence == cands[best].confidence && !reflect.DeepEqual(c.value, cands[best].value) {
			return cands[best], &c
		}
	}
	return cands[best], nil
}
