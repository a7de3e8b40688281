package tracker

import (
	"encoding/json"
	"reflect"
)

// changeSet accumulates the from/to pairs of an update. Values are stored in
// their JSON form so an entry reads back identically after a reload.
type changeSet map[string]any

func (c changeSet) compare(field string, from, to any) {
	f, t := normalize(from), normalize(to)
	if reflect.DeepEqual(f, t) {
		return
	}
	c[field] = map[string]any{"from": f, "to": t}
}

func (c changeSet) empty() bool { return len(c) == 0 }

func payload(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = normalize(v)
	}
	return out
}

func normalize(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
