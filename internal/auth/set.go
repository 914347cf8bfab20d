package auth

import (
	"encoding/json"
	"sort"
	"strings"
)

// StringSet is a deduplicated collection of permission names. It
// marshals as a sorted JSON array so persisted documents are stable.
// The zero value is usable for reads.
type StringSet map[string]struct{}

// NewStringSet builds a set from names, trimming whitespace and dropping
// empties and duplicates.
func NewStringSet(names ...string) StringSet {
	s := make(StringSet, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		s[name] = struct{}{}
	}
	return s
}

func (s StringSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

func (s *StringSet) Add(name string) {
	if *s == nil {
		*s = make(StringSet)
	}
	(*s)[name] = struct{}{}
}

func (s StringSet) Remove(name string) {
	delete(s, name)
}

func (s StringSet) Len() int { return len(s) }

// Sorted returns the members as a sorted slice; never nil.
func (s StringSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s StringSet) Clone() StringSet {
	out := make(StringSet, len(s))
	for name := range s {
		out[name] = struct{}{}
	}
	return out
}

func (s StringSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *StringSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*s = NewStringSet(names...)
	return nil
}
