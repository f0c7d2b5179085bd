package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/rhplus0831/risugit/internal/dataencryption"
	"github.com/rhplus0831/risugit/internal/gather"
	"github.com/rhplus0831/risugit/internal/model"
	"github.com/rhplus0831/risugit/internal/syncerr"
)

const messageReadConcurrency = 32

// Decode rebuilds the entity graph from src. The returned Database carries
// no host Fields; callers merge it into the live state.
func Decode(ctx context.Context, src Source, key *dataencryption.Key) (*model.Database, error) {
	aux, err := decodeAux(src, key)
	if err != nil {
		return nil, err
	}
	dirs, err := subdirs(src, CharactersDir)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list %s: %w", CharactersDir, err)
	}
	chars, err := gather.Map(ctx, DefaultConcurrency, dirs, func(ctx context.Context, id string) (*positioned[model.Character], error) {
		return decodeCharacter(ctx, src, key, id)
	})
	if err != nil {
		return nil, err
	}
	return &model.Database{
		Characters: sortPositioned(chars),
		Aux:        aux,
		Fields:     model.Fields{},
	}, nil
}

func decodeAux(src Source, key *dataencryption.Key) (map[string]json.RawMessage, error) {
	aux := make(map[string]json.RawMessage, len(model.AuxiliaryNames))
	for _, name := range model.AuxiliaryNames {
		data, err := src.ReadFile(AuxFile(name))
		if syncerr.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("snapshot: read %s: %w", AuxFile(name), err)
		}
		plain, err := key.DecryptJSON(data)
		if err != nil {
			return nil, fmt.Errorf("snapshot: %s: %w", AuxFile(name), err)
		}
		aux[name] = plain
	}
	return aux, nil
}

type positioned[T any] struct {
	index int
	value T
}

// sortPositioned orders by index and drops nil entries (skipped directories).
func sortPositioned[T any](items []*positioned[T]) []T {
	kept := make([]*positioned[T], 0, len(items))
	for _, it := range items {
		if it != nil {
			kept = append(kept, it)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].index < kept[j].index })
	out := make([]T, len(kept))
	for i, it := range kept {
		out[i] = it.value
	}
	return out
}

// readEntity reads, decrypts and un-indexes an entity file. A missing file
// returns (nil, 0, nil).
func readEntity(src Source, key *dataencryption.Key, p string) (map[string]any, int, error) {
	data, err := src.ReadFile(p)
	if syncerr.IsNotFound(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("snapshot: read %s: %w", p, err)
	}
	obj, err := model.DecodeObject(data)
	if err != nil {
		return nil, 0, fmt.Errorf("snapshot: parse %s: %w", p, err)
	}
	plain, err := key.DecryptValue(obj)
	if err != nil {
		return nil, 0, fmt.Errorf("snapshot: %s: %w", p, err)
	}
	out := plain.(map[string]any)
	idx, ok := indexOf(out)
	if !ok {
		idx = math.MaxInt
	}
	delete(out, indexKey)
	return out, idx, nil
}

func decodeCharacter(ctx context.Context, src Source, key *dataencryption.Key, id string) (*positioned[model.Character], error) {
	obj, idx, err := readEntity(src, key, CharacterDataPath(id))
	if err != nil {
		return nil, err
	}
	if obj == nil {
		log.Warn("Skipping character directory without data.json", "character", id)
		return nil, nil
	}
	c := model.CharacterFromObject(obj)
	if c.ID == "" {
		c.ID = id
	}
	chatDirs, err := subdirs(src, CharacterDir(id))
	if err != nil {
		return nil, fmt.Errorf("snapshot: list %s: %w", CharacterDir(id), err)
	}
	chats, err := gather.Map(ctx, 0, chatDirs, func(ctx context.Context, chatID string) (*positioned[model.Chat], error) {
		return decodeChat(ctx, src, key, id, chatID)
	})
	if err != nil {
		return nil, err
	}
	c.Chats = sortPositioned(chats)
	return &positioned[model.Character]{index: idx, value: c}, nil
}

func decodeChat(ctx context.Context, src Source, key *dataencryption.Key, charID, chatID string) (*positioned[model.Chat], error) {
	obj, idx, err := readEntity(src, key, ChatDataPath(charID, chatID))
	if err != nil {
		return nil, err
	}
	if obj == nil {
		log.Warn("Skipping chat directory without data.json", "character", charID, "chat", chatID)
		return nil, nil
	}
	chat := model.ChatFromObject(obj)
	if chat.ID == "" {
		chat.ID = chatID
	}

	entries, err := src.ReadDir(MessagesPath(charID, chatID))
	if err != nil && !syncerr.IsNotFound(err) {
		return nil, fmt.Errorf("snapshot: list %s: %w", MessagesPath(charID, chatID), err)
	}
	var files []string
	for _, e := range entries {
		if !e.Dir && strings.HasSuffix(e.Name, jsonExt) {
			files = append(files, e.Name)
		}
	}
	msgs, err := gather.Map(ctx, messageReadConcurrency, files, func(_ context.Context, name string) (*positioned[model.Message], error) {
		obj, idx, err := readEntity(src, key, MessagesPath(charID, chatID)+"/"+name)
		if err != nil || obj == nil {
			return nil, err
		}
		return &positioned[model.Message]{index: idx, value: model.MessageFromObject(obj)}, nil
	})
	if err != nil {
		return nil, err
	}
	chat.Messages = sortPositioned(msgs)
	return &positioned[model.Chat]{index: idx, value: chat}, nil
}

// Summary is the top-level view of a snapshot used to present a remote diff.
type Summary struct {
	Aux        map[string]json.RawMessage `json:"aux"`
	Characters []CharacterSummary         `json:"characters"`
}

// CharacterSummary describes a character without its chats.
type CharacterSummary struct {
	ID              string      `json:"id"`
	Name            string      `json:"name,omitempty"`
	LastInteraction json.Number `json:"lastInteraction,omitempty"`
	Chats           int         `json:"chats"`
}

// DecodeSummary reads auxiliary data and per-character metadata from src.
func DecodeSummary(ctx context.Context, src Source, key *dataencryption.Key) (*Summary, error) {
	aux, err := decodeAux(src, key)
	if err != nil {
		return nil, err
	}
	dirs, err := subdirs(src, CharactersDir)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list %s: %w", CharactersDir, err)
	}
	items, err := gather.Map(ctx, DefaultConcurrency, dirs, func(_ context.Context, id string) (*positioned[CharacterSummary], error) {
		obj, idx, err := readEntity(src, key, CharacterDataPath(id))
		if err != nil || obj == nil {
			return nil, err
		}
		chats, err := subdirs(src, CharacterDir(id))
		if err != nil {
			return nil, err
		}
		c := model.CharacterFromObject(obj)
		return &positioned[CharacterSummary]{index: idx, value: CharacterSummary{
			ID:              id,
			Name:            c.Name(),
			LastInteraction: c.LastInteraction,
			Chats:           len(chats),
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return &Summary{Aux: aux, Characters: sortPositioned(items)}, nil
}
