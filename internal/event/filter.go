package event

import "encoding/json"

// Filter selects events by kind, author set, id set and indexed tag
// values, matching the relay query semantics.
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	Tags    map[string][]string // tag name -> accepted values, e.g. "e" -> ids
	Since   int64
	Until   int64
	Limit   int
}

// MarshalJSON emits the relay wire form, where tag filters appear as
// "#<name>" keys alongside the fixed fields.
func (f Filter) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{})
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	for name, values := range f.Tags {
		if len(values) > 0 {
			m["#"+name] = values
		}
	}
	if f.Since > 0 {
		m["since"] = f.Since
	}
	if f.Until > 0 {
		m["until"] = f.Until
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}
	return json.Marshal(m)
}

// UnmarshalJSON parses the wire form back; used by the in-process
// relay in tests.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw struct {
		IDs     []string `json:"ids"`
		Authors []string `json:"authors"`
		Kinds   []int    `json:"kinds"`
		Since   int64    `json:"since"`
		Until   int64    `json:"until"`
		Limit   int      `json:"limit"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.IDs = raw.IDs
	f.Authors = raw.Authors
	f.Kinds = raw.Kinds
	f.Since = raw.Since
	f.Until = raw.Until
	f.Limit = raw.Limit

	var tags map[string]json.RawMessage
	if err := json.Unmarshal(data, &tags); err != nil {
		return err
	}
	for k, v := range tags {
		if len(k) < 2 || k[0] != '#' {
			continue
		}
		var values []string
		if err := json.Unmarshal(v, &values); err != nil {
			return err
		}
		if f.Tags == nil {
			f.Tags = make(map[string][]string)
		}
		f.Tags[k[1:]] = values
	}
	return nil
}

// Matches reports whether the event satisfies every clause of the
// filter. Empty clauses match everything.
func (f *Filter) Matches(e *Event) bool {
	if len(f.IDs) > 0 && !contains(f.IDs, e.ID) {
		return false
	}
	if len(f.Authors) > 0 && !contains(f.Authors, e.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 {
		ok := false
		for _, k := range f.Kinds {
			if k == e.Kind {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for name, accepted := range f.Tags {
		ok := false
		for _, v := range e.TagValues(name) {
			if contains(accepted, v) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Since > 0 && e.CreatedAt < f.Since {
		return false
	}
	if f.Until > 0 && e.CreatedAt > f.Until {
		return false
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
