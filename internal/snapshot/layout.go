// Package snapshot maps the entity graph to a per-entity file tree and back.
//
//	<aux>.json                                        one per auxiliary collection
//	keytest.json                                      encrypted key probe, baseline marker
//	characters/<chaId>/data.json                      character minus chats, plus index
//	characters/<chaId>/<chatId>/data.json             chat minus messages, plus index
//	characters/<chaId>/<chatId>/messages/<id>.json    message plus index
//
// The file system has no list order, so every entity file records its
// position in an "index" field that restore sorts by and strips.
package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/rhplus0831/risugit/internal/model"
)

const (
	CharactersDir = "characters"
	DataFile      = "data.json"
	MessagesDir   = "messages"
	ProbeFile     = "keytest.json"

	indexKey = "index"
	jsonExt  = ".json"
)

func AuxFile(name string) string { return name + jsonExt }

func CharacterDir(charID string) string { return path.Join(CharactersDir, charID) }

func CharacterDataPath(charID string) string { return path.Join(CharacterDir(charID), DataFile) }

func ChatDir(charID, chatID string) string { return path.Join(CharacterDir(charID), chatID) }

func ChatDataPath(charID, chatID string) string { return path.Join(ChatDir(charID, chatID), DataFile) }

func MessagesPath(charID, chatID string) string { return path.Join(ChatDir(charID, chatID), MessagesDir) }

func MessagePath(charID, chatID, messageID string) string {
	return path.Join(MessagesPath(charID, chatID), messageID+jsonExt)
}

// MessageID names a message file. Messages carrying their own ID use it;
// anonymous ones get hex(sha256("<charID>-<chatID>-<index>")), which is stable
// for a given position.
func MessageID(charID, chatID string, index int, m model.Message) string {
	if m.ChatID != "" && safeName(m.ChatID) {
		return m.ChatID
	}
	sum := sha256.Sum256([]byte(charID + "-" + chatID + "-" + strconv.Itoa(index)))
	return hex.EncodeToString(sum[:])
}

// safeName reports whether s can be used as a single path element.
func safeName(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, `/\`)
}

func checkID(kind, id string) error {
	if !safeName(id) {
		return fmt.Errorf("snapshot: %s id %q cannot be used as a file name", kind, id)
	}
	return nil
}

// marshal encodes v the way the host plugin does: one-space indentation,
// no HTML escaping.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", " ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// indent lays out an already encoded document like marshal without
// reordering keys.
func indent(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", " "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
