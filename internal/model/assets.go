package model

import (
	"encoding/json"
	"regexp"
	"sort"
)

var assetRefPattern = regexp.MustCompile(`^assets/[0-9a-f]{64}\.[A-Za-z0-9]+$`)

// IsAssetRef reports whether s looks like a host asset path (assets/<sha256>.<ext>).
func IsAssetRef(s string) bool {
	return assetRefPattern.MatchString(s)
}

// AssetRefs returns every distinct asset path referenced anywhere in the
// graph, sorted.
func AssetRefs(db *Database) []string {
	seen := map[string]struct{}{}
	visit := func(v any) { collectRefs(v, seen) }
	for _, c := range db.Characters {
		visit(map[string]any(c.Fields))
		for _, chat := range c.Chats {
			visit(map[string]any(chat.Fields))
			for _, m := range chat.Messages {
				visit(map[string]any(m.Fields))
			}
		}
	}
	for _, raw := range db.Aux {
		if raw == nil {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			visit(v)
		}
	}
	refs := make([]string, 0, len(seen))
	for r := range seen {
		refs = append(refs, r)
	}
	sort.Strings(refs)
	return refs
}

func collectRefs(v any, seen map[string]struct{}) {
	switch t := v.(type) {
	case string:
		if IsAssetRef(t) {
			seen[t] = struct{}{}
		}
	case []any:
		for _, e := range t {
			collectRefs(e, seen)
		}
	case map[string]any:
		for _, e := range t {
			collectRefs(e, seen)
		}
	case Fields:
		for _, e := range t {
			collectRefs(e, seen)
		}
	}
}
