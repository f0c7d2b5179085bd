package model_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/rhplus0831/risugit/internal/model"
	"github.com/stretchr/testify/require"
)

const hostDB = `{
 "formatVersion": 3,
 "characters": [
  {
   "chaId": "c1",
   "name": "Alice",
   "lastInteraction": 1718000000123,
   "image": "assets/` + "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa" + `.png",
   "chats": [
    {"id": "chat-1", "name": "first", "message": [
     {"role": "user", "data": "hi", "chatId": "m1"},
     {"role": "char", "data": "hello"}
    ]}
   ]
  }
 ],
 "loreBook": [{"key": "k"}],
 "botPresets": []
}`

func TestDatabaseJSONRoundTrip(t *testing.T) {
	var db model.Database
	require.NoError(t, json.Unmarshal([]byte(hostDB), &db))

	require.Len(t, db.Characters, 1)
	c := db.Characters[0]
	require.Equal(t, "c1", c.ID)
	require.Equal(t, "Alice", c.Name())
	require.Equal(t, json.Number("1718000000123"), c.LastInteraction)
	require.Len(t, c.Chats, 1)
	require.Equal(t, "chat-1", c.Chats[0].ID)
	require.Len(t, c.Chats[0].Messages, 2)
	require.Equal(t, "m1", c.Chats[0].Messages[0].ChatID)
	require.Empty(t, c.Chats[0].Messages[1].ChatID)
	require.NotNil(t, db.Aux["loreBook"])
	require.Nil(t, db.Aux["personas"])
	require.Equal(t, json.Number("3"), db.Fields["formatVersion"])

	out, err := json.Marshal(db)
	require.NoError(t, err)
	require.JSONEq(t, hostDB, string(out))
}

func TestCharacterObjectExcludesChats(t *testing.T) {
	c := model.Character{
		ID:              "c1",
		LastInteraction: "42",
		Chats:           []model.Chat{{ID: "x"}},
		Fields:          model.Fields{"name": "Bob"},
	}
	obj := c.Object()
	require.NotContains(t, obj, "chats")
	require.Equal(t, "c1", obj["chaId"])

	back := model.CharacterFromObject(obj)
	require.Equal(t, "c1", back.ID)
	require.Equal(t, json.Number("42"), back.LastInteraction)
	require.Equal(t, model.Fields{"name": "Bob"}, back.Fields)
}

func TestAssetRefs(t *testing.T) {
	var db model.Database
	require.NoError(t, json.Unmarshal([]byte(hostDB), &db))
	db.Aux["personas"] = json.RawMessage(`[{"icon":"assets/` + strings.Repeat("b", 64) + `.webp"},{"icon":"not-an-asset"}]`)

	refs := model.AssetRefs(&db)
	require.Equal(t, []string{
		"assets/" + strings.Repeat("a", 64) + ".png",
		"assets/" + strings.Repeat("b", 64) + ".webp",
	}, refs)
}
