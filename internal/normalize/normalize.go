// Package normalize folds and compares party names.
//
// Normalize lowercases, strips diacritics, drops legal-entity suffix tokens
// and collapses punctuation. Similarity scores two names on a 0..100 scale
// from a blend of token overlap and character edit distance. Both are pure.
package normalize

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultSuffixes are legal-entity tokens removed by Normalize.
var DefaultSuffixes = []string{
	"ab", "ag", "as", "bv", "bvba", "co", "company", "corp", "corporation",
	"gmbh", "inc", "kg", "limited", "llc", "llp", "lp", "ltd", "nv", "oy",
	"plc", "pty", "sa", "sarl", "sas", "spa", "sprl", "srl", "sl",
}

// Config tunes a Normalizer.
type Config struct {
	// Suffixes are whole tokens dropped after folding. Matched against folded,
	// dot-free tokens, so "B.V." matches "bv".
	Suffixes []string
	// TokenWeight is the share of the score taken by token overlap; the rest
	// comes from character distance over the sorted token string.
	TokenWeight float64
}

// DefaultConfig returns the suffix list and an even token/character blend.
func DefaultConfig() Config {
	return Config{Suffixes: DefaultSuffixes, TokenWeight: 0.5}
}

// Validate checks config for errors.
func (c Config) Validate() error {
	if c.TokenWeight < 0 || c.TokenWeight > 1 {
		return fmt.Errorf("token weight must be between 0 and 1, got %f", c.TokenWeight)
	}
	return nil
}

// Normalizer is immutable after New and safe for concurrent use.
type Normalizer struct {
	suffixes    map[string]struct{}
	tokenWeight float64
}

// New builds a Normalizer from cfg.
func New(cfg Config) (*Normalizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := &Normalizer{
		suffixes:    make(map[string]struct{}, len(cfg.Suffixes)),
		tokenWeight: cfg.TokenWeight,
	}
	for _, s := range cfg.Suffixes {
		n.suffixes[strings.ToLower(strings.ReplaceAll(s, ".", ""))] = struct{}{}
	}
	return n, nil
}

// Default returns a Normalizer with DefaultConfig.
func Default() *Normalizer {
	n, _ := New(DefaultConfig())
	return n
}

// Normalize returns the canonical form of name.
//
// A name made only of suffix tokens ("SA") keeps them, so it never
// normalizes to the empty string.
func (n *Normalizer) Normalize(name string) string {
	return strings.Join(n.tokens(name), " ")
}

func (n *Normalizer) tokens(name string) []string {
	raw := splitTokens(Fold(name))
	if len(raw) == 0 {
		return nil
	}

	kept := make([]string, 0, len(raw))
	for _, tok := range raw {
		if _, ok := n.suffixes[tok]; ok {
			continue
		}
		kept = append(kept, tok)
	}
	if len(kept) == 0 {
		return raw
	}
	return kept
}

// Similarity scores a against b on [0,100]. It is symmetric and returns 100
// for names that normalize identically, including two empty names.
func (n *Normalizer) Similarity(a, b string) float64 {
	ta, tb := n.tokens(a), n.tokens(b)
	switch {
	case len(ta) == 0 && len(tb) == 0:
		return 100
	case len(ta) == 0 || len(tb) == 0:
		return 0
	}

	sort.Strings(ta)
	sort.Strings(tb)
	sa, sb := strings.Join(ta, " "), strings.Join(tb, " ")
	if sa == sb {
		return 100
	}

	score := n.tokenWeight*softTokenOverlap(ta, tb) + (1-n.tokenWeight)*ratio(sa, sb)
	return clamp(score * 100)
}

// softTokenOverlap averages, over every token on both sides, the best
// character ratio against the other side's tokens.
func softTokenOverlap(a, b []string) float64 {
	var sa, sb float64
	for _, x := range a {
		sa += bestRatio(x, b)
	}
	for _, y := range b {
		sb += bestRatio(y, a)
	}
	// sa+sb commutes exactly, which keeps the score symmetric.
	return (sa + sb) / float64(len(a)+len(b))
}

func bestRatio(tok string, others []string) float64 {
	var best float64
	for _, o := range others {
		if r := ratio(tok, o); r > best {
			best = r
		}
	}
	return best
}

// ratio is 1 - edit distance / longer rune length.
func ratio(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// splitTokens drops dots and apostrophes inside tokens and splits on any
// other non-alphanumeric rune.
func splitTokens(s string) []string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '.' || r == '\'' || r == '’':
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Fields(b.String())
}

var foldChain = func() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// Fold lowercases s and strips combining marks ("Série" -> "serie").
func Fold(s string) string {
	out, _, err := transform.String(foldChain(), s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// FoldIndex folds s rune by rune and returns, for every byte of the folded
// string, the byte offset of the originating rune in s. The extra trailing
// entry maps len(folded) to len(s), so folded[i:j] spans s[idx[i]:idx[j]].
func FoldIndex(s string) (string, []int) {
	var b strings.Builder
	b.Grow(len(s))
	idx := make([]int, 0, len(s)+1)

	t := foldChain()
	for off, r := range s {
		t.Reset()
		f, _, err := transform.String(t, string(r))
		if err != nil {
			f = string(r)
		}
		f = strings.ToLower(f)
		for i := 0; i < len(f); i++ {
			idx = append(idx, off)
		}
		b.WriteString(f)
	}
	idx = append(idx, len(s))
	return b.String(), idx
}
