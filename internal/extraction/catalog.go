package extraction

import (
	"embed"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/quoted/internal/normalize"
)

//go:embed catalog/*.yaml
var catalogFS embed.FS

// VehicleSpec is factory reference data for one model.
type VehicleSpec struct {
	LengthM  float64 `yaml:"length_m"`
	WidthM   float64 `yaml:"width_m"`
	HeightM  float64 `yaml:"height_m"`
	WeightKg float64 `yaml:"weight_kg"`
	EngineCC int     `yaml:"engine_cc"`
	FuelType string  `yaml:"fuel_type"`
}

// Model is one catalogued model of a make.
type Model struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
	Type    string   `yaml:"type"`
	// Standalone models are recognised without their make in the text.
	Standalone bool         `yaml:"standalone"`
	Spec       *VehicleSpec `yaml:"spec"`
}

// Make is a vehicle manufacturer.
type Make struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
	Models  []Model  `yaml:"models"`
}

// Place is a port or city of the route vocabulary.
type Place struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
	Kind    string   `yaml:"kind"`
	Country string   `yaml:"country"`
}

type catalogTerm struct {
	term  string // folded
	make  int
	model int // -1 for a make alias
}

type placeTerm struct {
	term  string // folded
	place int
}

// Catalog holds the vehicle reference table and the place vocabulary.
// It is immutable after loading.
type Catalog struct {
	Makes  []Make
	Places []Place

	makeTerms  []catalogTerm
	modelTerms []catalogTerm
	placeTerms []placeTerm
	placeIndex map[string]int
}

type vehiclesFile struct {
	Makes []Make `yaml:"makes"`
}

type placesFile struct {
	Places []Place `yaml:"places"`
}

var loadDefaultCatalog = sync.OnceValues(func() (*Catalog, error) {
	vehicles, err := catalogFS.ReadFile("catalog/vehicles.yaml")
	if err != nil {
		return nil, err
	}
	places, err := catalogFS.ReadFile("catalog/places.yaml")
	if err != nil {
		return nil, err
	}
	return LoadCatalog(vehicles, places)
})

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return loadDefaultCatalog()
}

// LoadCatalog parses vehicle and place YAML documents.
func LoadCatalog(vehicles, places []byte) (*Catalog, error) {
	var vf vehiclesFile
	if err := yaml.Unmarshal(vehicles, &vf); err != nil {
		return nil, fmt.Errorf("parse vehicle catalog: %w", err)
	}
	var pf placesFile
	if err := yaml.Unmarshal(places, &pf); err != nil {
		return nil, fmt.Errorf("parse place vocabulary: %w", err)
	}

	c := &Catalog{Makes: vf.Makes, Places: pf.Places, placeIndex: map[string]int{}}
	for mi, mk := range c.Makes {
		if mk.Name == "" {
			return nil, fmt.Errorf("vehicle catalog: make %d has no name", mi)
		}
		for _, a := range withName(mk.Name, mk.Aliases) {
			c.makeTerms = append(c.makeTerms, catalogTerm{term: a, make: mi, model: -1})
		}
		for di, md := range mk.Models {
			if md.Name == "" {
				return nil, fmt.Errorf("vehicle catalog: %s model %d has no name", mk.Name, di)
			}
			for _, a := range withName(md.Name, md.Aliases) {
				c.modelTerms = append(c.modelTerms, catalogTerm{term: a, make: mi, model: di})
			}
		}
	}
	for pi, p := range c.Places {
		if p.Name == "" {
			return nil, fmt.Errorf("place vocabulary: entry %d has no name", pi)
		}
		for _, a := range withName(p.Name, p.Aliases) {
			c.placeTerms = append(c.placeTerms, placeTerm{term: a, place: pi})
			c.placeIndex[a] = pi
		}
	}

	// Longest terms first so a longer alias wins over its substrings.
	sort.SliceStable(c.makeTerms, func(i, j int) bool { return len(c.makeTerms[i].term) > len(c.makeTerms[j].term) })
	sort.SliceStable(c.modelTerms, func(i, j int) bool { return len(c.modelTerms[i].term) > len(c.modelTerms[j].term) })
	sort.SliceStable(c.placeTerms, func(i, j int) bool { return len(c.placeTerms[i].term) > len(c.placeTerms[j].term) })
	return c, nil
}

func withName(name string, aliases []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(aliases)+1)
	for _, a := range append([]string{name}, aliases...) {
		f := strings.TrimSpace(normalize.Fold(a))
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// LookupPlace returns the vocabulary entry for a place phrase.
func (c *Catalog) LookupPlace(s string) (Place, bool) {
	if c == nil {
		return Place{}, false
	}
	i, ok := c.placeIndex[strings.TrimSpace(normalize.Fold(s))]
	if !ok {
		return Place{}, false
	}
	return c.Places[i], true
}

// Model returns the model entry for a make and model name, case and
// diacritic insensitive.
func (c *Catalog) Model(makeName, modelName string) (Make, Model, bool) {
	if c == nil {
		return Make{}, Model{}, false
	}
	fm, fd := normalize.Fold(makeName), normalize.Fold(modelName)
	for _, t := range c.modelTerms {
		if t.term != fd {
			continue
		}
		mk := c.Makes[t.make]
		if fm == "" || containsFold(withName(mk.Name, mk.Aliases), fm) {
			return mk, mk.Models[t.model], true
		}
	}
	return Make{}, Model{}, false
}

func containsFold(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

// wordIndexes returns every start offset of term in s that sits on word
// boundaries. Both strings are expected to be folded.
func wordIndexes(s, term string) []int {
	var out []int
	if term == "" {
		return out
	}
	for from := 0; from <= len(s)-len(term); {
		i := strings.Index(s[from:], term)
		if i < 0 {
			break
		}
		start := from + i
		end := start + len(term)
		if boundaryBefore(s, start) && boundaryAfter(s, end) {
			out = append(out, start)
		}
		from = start + 1
	}
	return out
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
