package browser

import (
	"strings"

	"github.com/gobwas/glob"
)

// DefaultBlockedTypes are dropped on every page: they cost bandwidth and
// widen the fingerprint without helping the interaction.
var DefaultBlockedTypes = []string{"image", "stylesheet", "font", "media"}

// Filter decides which page requests are aborted.
type Filter struct {
	types    map[string]struct{}
	patterns []glob.Glob
}

// NewFilter builds a filter over resource types (case-insensitive) and URL
// glob patterns such as "*doubleclick.net/*". "*" matches any run of
// characters, separators included.
func NewFilter(types []string, patterns []string) (*Filter, error) {
	f := &Filter{types: make(map[string]struct{}, len(types))}
	for _, t := range types {
		f.types[strings.ToLower(t)] = struct{}{}
	}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, err
		}
		f.patterns = append(f.patterns, g)
	}
	return f, nil
}

func (f *Filter) Blocks(resourceType, url string) bool {
	if f == nil {
		return false
	}
	if _, ok := f.types[strings.ToLower(resourceType)]; ok {
		return true
	}
	for _, g := range f.patterns {
		if g.Match(url) {
			return true
		}
	}
	return false
}
