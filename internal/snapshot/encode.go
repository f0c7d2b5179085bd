package snapshot

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/rhplus0831/risugit/internal/dataencryption"
	"github.com/rhplus0831/risugit/internal/gather"
	"github.com/rhplus0831/risugit/internal/model"
	"github.com/rhplus0831/risugit/internal/syncerr"
)

type scopeKind int

const (
	scopeFull scopeKind = iota
	scopeAuxiliary
	scopeCharacter
	scopeChat
)

// Scope selects how much of the graph a save writes.
type Scope struct {
	kind        scopeKind
	CharacterID string
	ChatID      string
}

// Full writes the probe, every auxiliary collection and every character.
func Full() Scope { return Scope{kind: scopeFull} }

// Auxiliary writes only the auxiliary collections.
func Auxiliary() Scope { return Scope{kind: scopeAuxiliary} }

// Character writes one character with all its chats.
func Character(id string) Scope { return Scope{kind: scopeCharacter, CharacterID: id} }

// Chat writes one chat of one character; sibling chats only get their metadata.
func Chat(charID, chatID string) Scope {
	return Scope{kind: scopeChat, CharacterID: charID, ChatID: chatID}
}

// Narrow reports whether the scope requires an earlier full save.
func (s Scope) Narrow() bool { return s.kind != scopeFull }

func (s Scope) String() string {
	switch s.kind {
	case scopeAuxiliary:
		return "auxiliary"
	case scopeCharacter:
		return "character " + s.CharacterID
	case scopeChat:
		return "chat " + s.CharacterID + "/" + s.ChatID
	default:
		return "full"
	}
}

func (s Scope) includesAux() bool { return s.kind == scopeFull || s.kind == scopeAuxiliary }

// DefaultConcurrency bounds how many characters are encoded at once.
const DefaultConcurrency = 8

// Encoder turns the entity graph into a Plan. Source is the current working
// tree; it is read for change detection and the baseline probe.
type Encoder struct {
	Key         *dataencryption.Key
	Source      Source
	Concurrency int
}

// Encode builds the plan for scope. Narrow scopes fail with a precondition
// error until a full save has written keytest.json.
func (e *Encoder) Encode(ctx context.Context, db *model.Database, scope Scope) (*Plan, error) {
	probe, err := e.Source.ReadFile(ProbeFile)
	switch {
	case syncerr.IsNotFound(err):
		if scope.Narrow() {
			return nil, syncerr.Precondition("a full backup must be performed first")
		}
	case err != nil:
		return nil, fmt.Errorf("snapshot: read %s: %w", ProbeFile, err)
	default:
		if err := e.Key.VerifyProbe(probe); err != nil {
			return nil, err
		}
	}

	plan := &Plan{Scope: scope}
	if scope.kind == scopeFull {
		data, err := marshal(e.Key.EncryptValue(dataencryption.ProbeDocument()))
		if err != nil {
			return nil, fmt.Errorf("snapshot: encode probe: %w", err)
		}
		plan.Files = append(plan.Files, File{Path: ProbeFile, Data: data})
	}
	if scope.includesAux() {
		if err := e.encodeAux(db, plan); err != nil {
			return nil, err
		}
	}

	switch scope.kind {
	case scopeFull:
		if err := e.removeStaleCharacters(db, plan); err != nil {
			return nil, err
		}
		plans, err := gather.Map(ctx, e.concurrency(), indexed(db.Characters), func(ctx context.Context, ic indexedItem[model.Character]) (*entityPlan, error) {
			return e.encodeCharacter(ctx, ic.c, ic.index, scope)
		})
		if err != nil {
			return nil, err
		}
		for _, p := range plans {
			plan.merge(p)
		}
	case scopeCharacter, scopeChat:
		i := db.FindCharacter(scope.CharacterID)
		if i < 0 {
			return nil, fmt.Errorf("snapshot: character %s not found", scope.CharacterID)
		}
		p, err := e.encodeCharacter(ctx, db.Characters[i], i, scope)
		if err != nil {
			return nil, err
		}
		plan.merge(p)
	}
	log.Debug("Encoded snapshot plan", "scope", scope, "files", len(plan.Files), "removed", len(plan.Remove), "skipped", len(plan.Skipped))
	return plan, nil
}

func (e *Encoder) concurrency() int {
	if e.Concurrency > 0 {
		return e.Concurrency
	}
	return DefaultConcurrency
}

func (e *Encoder) encodeAux(db *model.Database, plan *Plan) error {
	for _, name := range model.AuxiliaryNames {
		raw := db.Aux[name]
		if raw == nil {
			plan.Remove = append(plan.Remove, AuxFile(name))
			continue
		}
		enc, err := e.Key.EncryptJSON(raw)
		if err != nil {
			return fmt.Errorf("snapshot: encode %s: %w", name, err)
		}
		data, err := indent(enc)
		if err != nil {
			return fmt.Errorf("snapshot: encode %s: %w", name, err)
		}
		plan.Files = append(plan.Files, File{Path: AuxFile(name), Data: data})
	}
	return nil
}

func (e *Encoder) removeStaleCharacters(db *model.Database, plan *Plan) error {
	onDisk, err := subdirs(e.Source, CharactersDir)
	if err != nil {
		return fmt.Errorf("snapshot: list %s: %w", CharactersDir, err)
	}
	live := make(map[string]bool, len(db.Characters))
	for _, c := range db.Characters {
		live[c.ID] = true
	}
	for _, id := range onDisk {
		if !live[id] {
			plan.Remove = append(plan.Remove, CharacterDir(id))
		}
	}
	return nil
}

func (e *Encoder) encodeCharacter(ctx context.Context, c model.Character, index int, scope Scope) (*entityPlan, error) {
	if err := checkID("character", c.ID); err != nil {
		return nil, err
	}
	persisted, err := ReadMarker(e.Source, c.ID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read marker of %s: %w", c.ID, err)
	}
	out := &entityPlan{}
	if !HasChanged(c, persisted) {
		if persisted.Index == index {
			out.skipped = c.ID
			return out, nil
		}
		// Only the position moved.
		f, err := e.entityFile(CharacterDataPath(c.ID), c.Object(), index)
		if err != nil {
			return nil, err
		}
		out.files = append(out.files, f)
		return out, nil
	}

	if scope.kind == scopeChat {
		return e.encodeChatScope(ctx, c, index, scope.ChatID)
	}

	out.remove = append(out.remove, CharacterDir(c.ID))
	chats, err := gather.Map(ctx, 0, indexed(c.Chats), func(_ context.Context, ic indexedItem[model.Chat]) ([]File, error) {
		return e.encodeChat(c.ID, ic.c, ic.index, true)
	})
	if err != nil {
		return nil, err
	}
	for _, files := range chats {
		out.files = append(out.files, files...)
	}
	return e.appendCharacterData(out, c, index)
}

// appendCharacterData adds the character's data.json after its chats. It
// carries the change marker, so a save interrupted before it is written is
// redone by the next one.
func (e *Encoder) appendCharacterData(out *entityPlan, c model.Character, index int) (*entityPlan, error) {
	f, err := e.entityFile(CharacterDataPath(c.ID), c.Object(), index)
	if err != nil {
		return nil, err
	}
	out.files = append(out.files, f)
	return out, nil
}

func (e *Encoder) encodeChatScope(ctx context.Context, c model.Character, index int, chatID string) (*entityPlan, error) {
	target := -1
	live := make(map[string]bool, len(c.Chats))
	for i, chat := range c.Chats {
		if err := checkID("chat", chat.ID); err != nil {
			return nil, err
		}
		live[chat.ID] = true
		if chat.ID == chatID {
			target = i
		}
	}
	if target < 0 {
		return nil, fmt.Errorf("snapshot: chat %s not found in character %s", chatID, c.ID)
	}

	out := &entityPlan{}
	onDisk, err := subdirs(e.Source, CharacterDir(c.ID))
	if err != nil {
		return nil, fmt.Errorf("snapshot: list %s: %w", CharacterDir(c.ID), err)
	}
	for _, id := range onDisk {
		if !live[id] {
			out.remove = append(out.remove, ChatDir(c.ID, id))
		}
	}
	out.remove = append(out.remove, ChatDir(c.ID, chatID))

	chats, err := gather.Map(ctx, 0, indexed(c.Chats), func(_ context.Context, ic indexedItem[model.Chat]) ([]File, error) {
		full := ic.index == target
		if !full {
			written, err := exists(e.Source, ChatDataPath(c.ID, ic.c.ID))
			if err != nil {
				return nil, err
			}
			full = !written
		}
		return e.encodeChat(c.ID, ic.c, ic.index, full)
	})
	if err != nil {
		return nil, err
	}
	for _, files := range chats {
		out.files = append(out.files, files...)
	}
	return e.appendCharacterData(out, c, index)
}

// encodeChat renders a chat's data.json and, when withMessages is set, its
// message files.
func (e *Encoder) encodeChat(charID string, chat model.Chat, index int, withMessages bool) ([]File, error) {
	if err := checkID("chat", chat.ID); err != nil {
		return nil, err
	}
	f, err := e.entityFile(ChatDataPath(charID, chat.ID), chat.Object(), index)
	if err != nil {
		return nil, err
	}
	files := []File{f}
	if !withMessages {
		return files, nil
	}
	used := make(map[string]bool, len(chat.Messages))
	for i, m := range chat.Messages {
		id := MessageID(charID, chat.ID, i, m)
		if used[id] {
			id = MessageID(charID, chat.ID, i, model.Message{})
		}
		used[id] = true
		f, err := e.entityFile(MessagePath(charID, chat.ID, id), m.Object(), i)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func (e *Encoder) entityFile(p string, obj map[string]any, index int) (File, error) {
	obj[indexKey] = index
	data, err := marshal(e.Key.EncryptValue(obj))
	if err != nil {
		return File{}, fmt.Errorf("snapshot: encode %s: %w", p, err)
	}
	return File{Path: p, Data: data}, nil
}

type indexedItem[T any] struct {
	index int
	c     T
}

func indexed[T any](items []T) []indexedItem[T] {
	out := make([]indexedItem[T], len(items))
	for i, it := range items {
		out[i] = indexedItem[T]{index: i, c: it}
	}
	return out
}
