package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// AuxiliaryNames lists the top-level collections synced as opaque blobs, in
// the order they are written.
var AuxiliaryNames = []string{
	"characterOrder",
	"loreBook",
	"personas",
	"modules",
	"statics",
	"statistics",
	"botPresets",
}

// Fields holds entity attributes the sync layer does not interpret.
type Fields map[string]any

// Database is the host's entity graph.
type Database struct {
	Characters []Character
	// Aux maps an entry of AuxiliaryNames to its raw JSON. Missing entries are nil.
	Aux map[string]json.RawMessage
	// Fields keeps every other top-level host setting. They are never written to
	// the repository and survive a restore untouched.
	Fields Fields
}

// Character is a persona with its ordered chats.
type Character struct {
	ID string
	// LastInteraction is the change marker. Empty when the host never set it.
	LastInteraction json.Number
	Chats           []Chat
	Fields          Fields
}

// Name returns the display name, if any.
func (c Character) Name() string {
	s, _ := c.Fields["name"].(string)
	return s
}

// Chat is an ordered list of messages.
type Chat struct {
	ID       string
	Messages []Message
	Fields   Fields
}

// Message is a single chat turn. ChatID is empty for anonymous messages.
type Message struct {
	ChatID string
	Fields Fields
}

const (
	keyCharacters      = "characters"
	keyCharacterID     = "chaId"
	keyLastInteraction = "lastInteraction"
	keyChats           = "chats"
	keyChatID          = "id"
	keyMessages        = "message"
	keyMessageID       = "chatId"
)

// DecodeObject parses a JSON object keeping numbers as json.Number.
func DecodeObject(data []byte) (map[string]any, error) {
	var obj map[string]any
	if err := DecodeValue(data, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		obj = map[string]any{}
	}
	return obj, nil
}

// DecodeValue parses any JSON value keeping numbers as json.Number.
func DecodeValue(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// Marshal encodes v compactly without HTML escaping, as the host writes JSON.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func copyFields(f Fields) map[string]any {
	out := make(map[string]any, len(f)+4)
	for k, v := range f {
		out[k] = v
	}
	return out
}

func takeString(obj map[string]any, key string) string {
	v, ok := obj[key]
	if !ok {
		return ""
	}
	delete(obj, key)
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		return fmt.Sprint(s)
	}
}

func takeNumber(obj map[string]any, key string) json.Number {
	v, ok := obj[key]
	if !ok {
		return ""
	}
	delete(obj, key)
	switch n := v.(type) {
	case json.Number:
		return n
	case string:
		return json.Number(n)
	case float64:
		return json.Number(fmt.Sprint(n))
	default:
		return ""
	}
}

// Object returns the message as a JSON object.
func (m Message) Object() map[string]any {
	obj := copyFields(m.Fields)
	if m.ChatID != "" {
		obj[keyMessageID] = m.ChatID
	}
	return obj
}

// MessageFromObject is the inverse of Message.Object. obj is consumed.
func MessageFromObject(obj map[string]any) Message {
	id := takeString(obj, keyMessageID)
	return Message{ChatID: id, Fields: Fields(obj)}
}

// Object returns the chat without its messages.
func (c Chat) Object() map[string]any {
	obj := copyFields(c.Fields)
	obj[keyChatID] = c.ID
	return obj
}

// ChatFromObject is the inverse of Chat.Object. Any embedded messages are dropped.
func ChatFromObject(obj map[string]any) Chat {
	delete(obj, keyMessages)
	id := takeString(obj, keyChatID)
	return Chat{ID: id, Fields: Fields(obj)}
}

// Object returns the character without its chats.
func (c Character) Object() map[string]any {
	obj := copyFields(c.Fields)
	obj[keyCharacterID] = c.ID
	if c.LastInteraction != "" {
		obj[keyLastInteraction] = c.LastInteraction
	}
	return obj
}

// CharacterFromObject is the inverse of Character.Object. Embedded chats are dropped.
func CharacterFromObject(obj map[string]any) Character {
	delete(obj, keyChats)
	id := takeString(obj, keyCharacterID)
	marker := takeNumber(obj, keyLastInteraction)
	return Character{ID: id, LastInteraction: marker, Fields: Fields(obj)}
}

func (m Message) MarshalJSON() ([]byte, error) {
	return Marshal(m.Object())
}

func (m *Message) UnmarshalJSON(data []byte) error {
	obj, err := DecodeObject(data)
	if err != nil {
		return err
	}
	*m = MessageFromObject(obj)
	return nil
}

func (c Chat) MarshalJSON() ([]byte, error) {
	obj := c.Object()
	msgs := c.Messages
	if msgs == nil {
		msgs = []Message{}
	}
	obj[keyMessages] = msgs
	return Marshal(obj)
}

func (c *Chat) UnmarshalJSON(data []byte) error {
	var raw struct {
		Messages []Message `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	obj, err := DecodeObject(data)
	if err != nil {
		return err
	}
	*c = ChatFromObject(obj)
	c.Messages = raw.Messages
	return nil
}

func (c Character) MarshalJSON() ([]byte, error) {
	obj := c.Object()
	chats := c.Chats
	if chats == nil {
		chats = []Chat{}
	}
	obj[keyChats] = chats
	return Marshal(obj)
}

func (c *Character) UnmarshalJSON(data []byte) error {
	var raw struct {
		Chats []Chat `json:"chats"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	obj, err := DecodeObject(data)
	if err != nil {
		return err
	}
	*c = CharacterFromObject(obj)
	c.Chats = raw.Chats
	return nil
}

func (d Database) MarshalJSON() ([]byte, error) {
	obj := copyFields(d.Fields)
	for _, name := range AuxiliaryNames {
		if raw := d.Aux[name]; raw != nil {
			obj[name] = raw
		}
	}
	chars := d.Characters
	if chars == nil {
		chars = []Character{}
	}
	obj[keyCharacters] = chars
	return Marshal(obj)
}

func (d *Database) UnmarshalJSON(data []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return err
	}
	out := Database{Aux: map[string]json.RawMessage{}, Fields: Fields{}}
	if raw, ok := top[keyCharacters]; ok {
		if err := json.Unmarshal(raw, &out.Characters); err != nil {
			return fmt.Errorf("characters: %w", err)
		}
		delete(top, keyCharacters)
	}
	for _, name := range AuxiliaryNames {
		if raw, ok := top[name]; ok {
			out.Aux[name] = raw
			delete(top, name)
		}
	}
	for k, raw := range top {
		var v any
		if err := DecodeValue(raw, &v); err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		out.Fields[k] = v
	}
	*d = out
	return nil
}

// FindCharacter returns the index of the character with the given ID, or -1.
func (d *Database) FindCharacter(id string) int {
	for i := range d.Characters {
		if d.Characters[i].ID == id {
			return i
		}
	}
	return -1
}
