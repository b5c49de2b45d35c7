package crawler

import "encoding/json"

// Fields merged as lists: entries from every source are kept, deduped
// by canonical JSON encoding.
var listFields = map[string]bool{
	"awards":         true,
	"ratings":        true,
	"images":         true,
	"primary_aromas": true,
	"palate_flavors": true,
}

// mergeSources combines accepted extractions in preference order. The
// first source is primary: scalars take the first non-empty value, and
// later disagreement is recorded as a conflict rather than overwriting.
// List fields union across all sources. Confidences follow the source
// that supplied each chosen value.
func mergeSources(attempts []*attempt) (map[string]any, map[string]float64, []Conflict) {
	merged := make(map[string]any)
	confs := make(map[string]float64)
	chosenBy := make(map[string]string)
	var conflicts []Conflict

	for _, a := range attempts {
		for field, value := range a.data {
			if isEmpty(value) {
				continue
			}
			if listFields[field] {
				merged[field] = mergeList(merged[field], value)
				if _, ok := confs[field]; !ok {
					confs[field] = a.confs[field]
				}
				continue
			}
			existing, ok := merged[field]
			if !ok {
				merged[field] = value
				confs[field] = a.confs[field]
				chosenBy[field] = a.url
				continue
			}
			if canonical(existing) == canonical(value) {
				continue
			}
			conflicts = appendConflict(conflicts, field, existing, chosenBy[field], value, a.url)
		}
	}
	return merged, confs, conflicts
}

func appendConflict(conflicts []Conflict, field string, chosen any, chosenSource string, value any, source string) []Conflict {
	for i := range conflicts {
		if conflicts[i].Field == field {
			conflicts[i].Values = append(conflicts[i].Values, ConflictValue{Source: source, Value: value})
			return conflicts
		}
	}
	return append(conflicts, Conflict{
		Field: field,
		Values: []ConflictValue{
			{Source: chosenSource, Value: chosen},
			{Source: source, Value: value},
		},
		Chosen: chosen,
		Reason: "Used value from primary source",
	})
}

// mergeList unions two list values, deduping entries by their
// canonical JSON encoding. Non-list values pass through unchanged.
func mergeList(existing, incoming any) any {
	a := asList(existing)
	b := asList(incoming)
	if a == nil && b == nil {
		if existing != nil {
			return existing
		}
		return incoming
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]any, 0, len(a)+len(b))
	for _, item := range append(a, b...) {
		key := canonical(item)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}

func asList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out
	default:
		return nil
	}
}

// mergeAwardInfo folds a known award record into the awards list,
// skipping it when an entry for the same competition and year already
// exists.
func mergeAwardInfo(data, award map[string]any) map[string]any {
	if data == nil {
		data = make(map[string]any)
	}
	awards := asList(data["awards"])
	comp, _ := award["competition"].(string)
	year := canonical(award["year"])
	for _, item := range awards {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		ec, _ := entry["competition"].(string)
		if ec == comp && canonical(entry["year"]) == year {
			return data
		}
	}
	data["awards"] = append(awards, award)
	return data
}

func canonical(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}
