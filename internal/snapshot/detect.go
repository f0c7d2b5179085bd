package snapshot

import (
	"encoding/json"

	"github.com/rhplus0831/risugit/internal/model"
	"github.com/rhplus0831/risugit/internal/syncerr"
)

// Marker is what the last written data.json says about a character.
type Marker struct {
	Exists          bool
	LastInteraction json.Number
	Index           int
}

// ReadMarker reads the persisted marker of a character from src. A missing
// or unreadable data.json yields a zero Marker so the character is rewritten.
func ReadMarker(src Source, charID string) (Marker, error) {
	data, err := src.ReadFile(CharacterDataPath(charID))
	if syncerr.IsNotFound(err) {
		return Marker{}, nil
	}
	if err != nil {
		return Marker{}, err
	}
	obj, err := model.DecodeObject(data)
	if err != nil {
		return Marker{}, nil
	}
	m := Marker{Exists: true, Index: -1}
	if n, ok := obj["lastInteraction"].(json.Number); ok {
		m.LastInteraction = n
	}
	if idx, ok := indexOf(obj); ok {
		m.Index = idx
	}
	return m, nil
}

// HasChanged reports whether candidate must be rewritten. An absent marker on
// either side counts as a change.
func HasChanged(candidate model.Character, persisted Marker) bool {
	if !persisted.Exists || persisted.LastInteraction == "" || candidate.LastInteraction == "" {
		return true
	}
	return candidate.LastInteraction.String() != persisted.LastInteraction.String()
}

func indexOf(obj map[string]any) (int, bool) {
	n, ok := obj[indexKey].(json.Number)
	if !ok {
		return 0, false
	}
	i, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return int(i), true
}
