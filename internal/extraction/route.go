package extraction

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fyrsmithlabs/quoted/internal/normalize"
)

// Route is an origin/destination pair read from free text.
type Route struct {
	Origin      string
	Destination string
	Options     []string // all coordinated destinations, primary first
}

// Empty reports whether nothing was found.
func (r Route) Empty() bool {
	return r.Origin == "" && r.Destination == ""
}

type token struct {
	text       string // folded
	start, end int    // folded offsets
	word       bool
}

// tokenize splits folded text into words and single punctuation runes.
// French elisions ("d'anvers") are split so the article can anchor.
func tokenize(folded string) []token {
	var toks []token
	i := 0
	for i < len(folded) {
		r, size := utf8.DecodeRuneInString(folded[i:])
		switch {
		case r == '\n':
			toks = append(toks, token{text: "\n", start: i, end: i + size})
			i += size
		case unicode.IsSpace(r):
			i += size
		case isWordRune(r):
			j := i
			for j < len(folded) {
				r2, s2 := utf8.DecodeRuneInString(folded[j:])
				if !isWordRune(r2) && r2 != '-' && r2 != '\'' {
					break
				}
				j += s2
			}
			w := strings.TrimRight(folded[i:j], "-'")
			j = i + len(w)
			if (strings.HasPrefix(w, "d'") || strings.HasPrefix(w, "l'")) && len(w) > 2 {
				toks = append(toks, token{text: w[:2], start: i, end: i + 2, word: true})
				toks = append(toks, token{text: w[2:], start: i + 2, end: j, word: true})
			} else {
				toks = append(toks, token{text: w, start: i, end: j, word: true})
			}
			if j == i {
				j += size
			}
			i = j
		default:
			toks = append(toks, token{text: string(r), start: i, end: i + size})
			i += size
		}
	}
	return toks
}

type anchorSet struct {
	origin map[string]bool
	dest   map[string]bool
	split  map[string]bool
}

func words(ws ...string) map[string]bool {
	m := make(map[string]bool, len(ws))
	for _, w := range ws {
		m[w] = true
	}
	return m
}

// one set per language; "a" is the folded "à"
var anchorSets = []anchorSet{
	{origin: words("from"), dest: words("to"), split: words("or")},
	{origin: words("de", "depuis", "d'"), dest: words("a", "vers", "pour"), split: words("ou")},
	{origin: words("van", "vanuit", "uit"), dest: words("naar"), split: words("of")},
	{origin: words("desde", "de"), dest: words("a", "hasta", "para"), split: words("o")},
	{origin: words("von", "ab", "aus"), dest: words("nach", "bis"), split: words("oder")},
}

// strongOrigins open a route even when no destination anchor follows.
var strongOrigins = words("from", "depuis", "vanuit", "desde", "von")

var (
	originLabels = words("origin", "origine", "herkomst", "origen", "pickup", "pick-up",
		"loading", "pol", "vertrek", "departure", "depart", "abholung", "chargement")
	destLabels = words("destination", "bestemming", "destino", "ziel", "pod", "delivery",
		"discharge", "arrival", "arrivee", "livraison", "levering", "lieferung")
)

var placeStops = words("to", "a", "naar", "vers", "pour", "hasta", "para", "nach", "bis",
	"via", "by", "on", "in", "for", "with", "and", "et", "en", "y", "und",
	"please", "asap", "port", "contact", "vehicle", "car", "the", "le", "la", "les", "het", "el")

var leadingArticles = words("the", "le", "la", "les", "het", "el")

const maxPlaceWords = 4

// capturePlace reads a place phrase starting at toks[i]. splits are the
// coordination words of the active language.
func (c *Catalog) capturePlace(s *scan, toks []token, i int, splits map[string]bool) (string, int) {
	for i < len(toks) && toks[i].word && leadingArticles[toks[i].text] {
		i++
	}
	if end, ok := sentinelRun(s, toks, i); ok {
		return "", end
	}
	start := i
	for i < len(toks) && i-start < maxPlaceWords {
		t := toks[i]
		if !t.word || placeStops[t.text] || splits[t.text] || isNumeric(t.text) {
			break
		}
		if i > start && c.isAnchor(t.text) {
			break
		}
		i++
	}
	if i == start {
		return "", i
	}
	phrase := s.orig(toks[start].start, toks[i-1].end)
	if isSentinel(phrase) {
		return "", i
	}
	// Lowercase phrases are only accepted when the vocabulary knows them.
	if _, known := c.LookupPlace(phrase); !known {
		r, _ := utf8.DecodeRuneInString(phrase)
		if !unicode.IsUpper(r) {
			return "", i
		}
		// Trim to a known place if the capture ran on ("Lagos Nigeria").
		for j := i - 1; j > start; j-- {
			if p := s.orig(toks[start].start, toks[j-1].end); p != "" {
				if _, ok := c.LookupPlace(p); ok {
					return p, i
				}
			}
		}
	}
	return phrase, i
}

// sentinelRun reports whether the run of touching tokens at toks[i] spells
// a blank-like value such as "N/A" or "TBD", and where that run ends.
func sentinelRun(s *scan, toks []token, i int) (int, bool) {
	if i >= len(toks) || toks[i].text == "\n" {
		return i, false
	}
	j := i
	for j+1 < len(toks) && toks[j+1].start == toks[j].end && toks[j+1].text != "\n" {
		j++
	}
	run := strings.TrimRight(s.folded[toks[i].start:toks[j].end], ".,;:!")
	if sentinels[run] || sentinels[s.folded[toks[i].start:toks[j].end]] {
		return j + 1, true
	}
	return i, false
}

func (c *Catalog) isAnchor(w string) bool {
	for _, a := range anchorSets {
		if a.dest[w] {
			return true
		}
	}
	return false
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '-' {
			return false
		}
	}
	return s != ""
}

func skipSeparator(toks []token, i int) int {
	if i < len(toks) && !toks[i].word && (toks[i].text == ":" || toks[i].text == "-") {
		return i + 1
	}
	return i
}

// ExtractRoute reads origin and destination from text: keyword-anchored
// phrases first, labelled lines next, the place vocabulary last.
func (c *Catalog) ExtractRoute(text string) Route {
	s := newScan(text)
	toks := tokenize(s.folded)

	if r := c.anchoredRoute(s, toks); !r.Empty() {
		if r.Origin == "" || r.Destination == "" {
			fill := c.labelledRoute(s, toks)
			if r.Origin == "" {
				r.Origin = fill.Origin
			}
			if r.Destination == "" {
				r.Destination, r.Options = fill.Destination, fill.Options
			}
		}
		return r
	}
	if r := c.labelledRoute(s, toks); !r.Empty() {
		return r
	}
	return c.vocabularyRoute(s.folded)
}

func (c *Catalog) anchoredRoute(s *scan, toks []token) Route {
	var single Route
	for i, t := range toks {
		if !t.word {
			continue
		}
		for _, set := range anchorSets {
			if !set.origin[t.text] {
				continue
			}
			origin, next := c.capturePlace(s, toks, i+1, set.split)
			if origin == "" {
				continue
			}
			if next < len(toks) && toks[next].word && set.dest[toks[next].text] {
				dest, opts := c.captureDestinations(s, toks, next+1, set.split)
				if dest != "" {
					return Route{Origin: origin, Destination: dest, Options: opts}
				}
			}
			if single.Origin == "" && strongOrigins[t.text] {
				if _, ok := c.LookupPlace(origin); ok {
					single.Origin = origin
				}
			}
		}
	}
	return single
}

// captureDestinations reads "X or Y / Z" and returns the primary plus the
// options when there is more than one.
func (c *Catalog) captureDestinations(s *scan, toks []token, i int, splits map[string]bool) (string, []string) {
	first, next := c.capturePlace(s, toks, i, splits)
	if first == "" {
		return "", nil
	}
	opts := []string{first}
	for next < len(toks) && len(opts) < 4 {
		t := toks[next]
		if !(t.word && splits[t.text]) && t.text != "/" {
			break
		}
		p, n := c.capturePlace(s, toks, next+1, splits)
		if p == "" {
			break
		}
		opts = append(opts, p)
		next = n
	}
	if len(opts) == 1 {
		return first, nil
	}
	return first, opts
}

func (c *Catalog) labelledRoute(s *scan, toks []token) Route {
	var r Route
	allSplits := words("or", "ou", "of", "o", "oder")
	for i, t := range toks {
		if !t.word {
			continue
		}
		switch {
		case r.Origin == "" && originLabels[t.text]:
			r.Origin, _ = c.capturePlace(s, toks, skipSeparator(toks, i+1), allSplits)
		case r.Destination == "" && destLabels[t.text]:
			r.Destination, r.Options = c.captureDestinations(s, toks, skipSeparator(toks, i+1), allSplits)
		}
	}
	return r
}

// vocabularyRoute takes the first two distinct known places in text order.
func (c *Catalog) vocabularyRoute(folded string) Route {
	type found struct{ place, start, end int }
	var hits []found
	for _, pt := range c.placeTerms {
		for _, pos := range wordIndexes(folded, pt.term) {
			end := pos + len(pt.term)
			clash := false
			for _, h := range hits {
				if pos < h.end && h.start < end {
					clash = true
					break
				}
			}
			if !clash {
				hits = append(hits, found{place: pt.place, start: pos, end: end})
			}
		}
	}

	var order []int
	for len(hits) > 0 {
		min := 0
		for i, h := range hits {
			if h.start < hits[min].start {
				min = i
			}
		}
		p := hits[min].place
		hits = append(hits[:min], hits[min+1:]...)
		dup := false
		for _, o := range order {
			if o == p {
				dup = true
			}
		}
		if !dup {
			order = append(order, p)
		}
	}
	if len(order) < 2 {
		return Route{}
	}
	return Route{Origin: c.Places[order[0]].Name, Destination: c.Places[order[1]].Name}
}

// guardRoute drops route values that equal the contact's name or one of
// its tokens; a person called "Paris" is not a port.
func guardRoute(r Route, contactName string) Route {
	if contactName == "" {
		return r
	}
	names := map[string]bool{normalize.Fold(contactName): true}
	for _, f := range strings.Fields(normalize.Fold(contactName)) {
		names[f] = true
	}
	clash := func(p string) bool { return p != "" && names[normalize.Fold(p)] }

	if clash(r.Origin) {
		r.Origin = ""
	}
	var opts []string
	for _, o := range r.Options {
		if !clash(o) {
			opts = append(opts, o)
		}
	}
	if clash(r.Destination) {
		r.Destination = ""
		if len(opts) > 0 {
			r.Destination = opts[0]
		}
	}
	if len(opts) < 2 {
		opts = nil
	}
	r.Options = opts
	return r
}

// routeGroup applies the route to r, guarded against the contact name.
func (c *Catalog) routeGroup(text, contactName string, r *Result, o Origin) int {
	route := guardRoute(c.ExtractRoute(text), contactName)
	hits := 0
	if r.set(FieldOrigin, route.Origin, o) {
		hits++
	}
	if r.set(FieldDestination, route.Destination, o) {
		hits++
	}
	if len(route.Options) > 1 && r.set(FieldDestOptions, route.Options, o) {
		hits++
	}
	return hits
}
