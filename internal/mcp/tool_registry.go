package mcp

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// ToolCategory groups tools by what they act on.
type ToolCategory string

const (
	// CategoryIntake is for tools that ingest or read quotes.
	CategoryIntake ToolCategory = "intake"
	// CategoryClients is for client directory tools.
	CategoryClients ToolCategory = "clients"
	// CategorySearch is for tool discovery.
	CategorySearch ToolCategory = "search"
)

// ToolMetadata describes a registered tool for discovery.
type ToolMetadata struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Category    ToolCategory `json:"category"`
	// Keywords are extra searchable terms.
	Keywords []string `json:"keywords,omitempty"`
}

// ToolRegistry holds metadata for every registered tool.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*ToolMetadata
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*ToolMetadata)}
}

// Register adds or replaces tool. Unnamed tools are ignored.
func (r *ToolRegistry) Register(tool *ToolMetadata) {
	if tool == nil || tool.Name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
}

// Get returns the metadata for name.
func (r *ToolRegistry) Get(name string) (*ToolMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all tools sorted by name.
func (r *ToolRegistry) List() []*ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ToolMetadata, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// SearchResult is one tool matching a query.
type SearchResult struct {
	Tool *ToolMetadata `json:"tool"`
	// Score is 3 for an exact name, 2 for a name match, 1 for a
	// description or keyword match.
	Score       int    `json:"score"`
	MatchReason string `json:"match_reason"`
}

// Search matches query case-insensitively against names, descriptions and
// keywords. A query that compiles as a regular expression is also tried as
// one. Results are ordered by score, then name.
func (r *ToolRegistry) Search(query string) []*SearchResult {
	if query == "" {
		return nil
	}
	q := strings.ToLower(query)
	re, _ := regexp.Compile("(?i)" + query)
	matches := func(s string) bool {
		return strings.Contains(strings.ToLower(s), q) || (re != nil && re.MatchString(s))
	}

	var results []*SearchResult
	for _, t := range r.List() {
		switch {
		case strings.ToLower(t.Name) == q:
			results = append(results, &SearchResult{Tool: t, Score: 3, MatchReason: "exact name match"})
		case matches(t.Name):
			results = append(results, &SearchResult{Tool: t, Score: 2, MatchReason: "name match"})
		case matches(t.Description):
			results = append(results, &SearchResult{Tool: t, Score: 1, MatchReason: "description match"})
		default:
			for _, kw := range t.Keywords {
				if matches(kw) {
					results = append(results, &SearchResult{Tool: t, Score: 1, MatchReason: "keyword match"})
					break
				}
			}
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}

// SearchByCategory is Search restricted to one category.
func (r *ToolRegistry) SearchByCategory(query string, category ToolCategory) []*SearchResult {
	var out []*SearchResult
	for _, res := range r.Search(query) {
		if res.Tool.Category == category {
			out = append(out, res)
		}
	}
	return out
}
