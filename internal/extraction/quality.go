package extraction

// Assess computes the quality assessment of rec. quality_score is the mean
// confidence of the strategies that contributed at least one merged leaf;
// completeness is the populated share of expected.
func Assess(rec *Record, results []Result, expected []string) Quality {
	q := Quality{Warnings: rec.Quality.Warnings}

	contributed := map[string]bool{}
	for _, p := range rec.Provenance {
		contributed[p.Strategy] = true
	}
	sum, n := 0.0, 0
	for _, r := range results {
		if contributed[r.Strategy] && len(r.Data) > 0 {
			sum += r.Confidence
			n++
		}
	}
	if n > 0 {
		q.QualityScore = round(sum/float64(n), 4)
	}

	if len(expected) == 0 {
		q.CompletenessScore = 1
	} else {
		have := 0
		for _, path := range expected {
			if _, ok := rec.Value(path); ok {
				have++
				continue
			}
			q.Warnings = append(q.Warnings, "missing expected field: "+path)
		}
		q.CompletenessScore = round(float64(have)/float64(len(expected)), 4)
	}
	if q.Warnings == nil {
		q.Warnings = []string{}
	}
	return q
}
