package host

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rhplus0831/risugit/internal/model"
	"github.com/rhplus0831/risugit/internal/syncerr"
	"github.com/stretchr/testify/require"
)

const sampleDB = `{
  "characters": [
    {"chaId": "old", "lastInteraction": 100, "chatPage": 0, "chats": [{"id": "c0", "message": []}]},
    {"chaId": "new", "lastInteraction": 200, "chatPage": 1, "chats": [
      {"id": "c0", "message": []},
      {"id": "c1", "message": [{"chatId": "m1", "data": "hi"}]}
    ]}
  ],
  "loreBook": [],
  "username": "me"
}`

func TestJSONFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "database.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleDB), 0o600))
	f := &JSONFile{Path: path}
	ctx := context.Background()

	db, err := f.Database(ctx)
	require.NoError(t, err)
	require.Len(t, db.Characters, 2)
	require.Equal(t, "me", db.Fields["username"])

	ref, err := f.CurrentRef(ctx)
	require.NoError(t, err)
	require.Equal(t, Ref{CharacterID: "new", ChatIndex: 1}, ref)

	db.Characters = db.Characters[:1]
	require.NoError(t, f.ReplaceDatabase(ctx, db))

	again, err := f.Database(ctx)
	require.NoError(t, err)
	require.Len(t, again.Characters, 1)
	require.Equal(t, "old", again.Characters[0].ID)
	require.Equal(t, "me", again.Fields["username"])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
}

func TestJSONFileKeepsAuxiliaryBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "database.json")
	f := &JSONFile{Path: path}
	ctx := context.Background()
	lore := `[{"z":1,"a":"<b>&</b>"}]`

	require.NoError(t, f.ReplaceDatabase(ctx, &model.Database{
		Aux: map[string]json.RawMessage{"loreBook": json.RawMessage(lore), "statics": json.RawMessage(`null`)},
	}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"loreBook":`+lore)

	db, err := f.Database(ctx)
	require.NoError(t, err)
	require.Equal(t, lore, string(db.Aux["loreBook"]))
	require.Equal(t, "null", string(db.Aux["statics"]))
}

func TestCurrentRefErrors(t *testing.T) {
	_, err := CurrentRef(&model.Database{})
	require.ErrorIs(t, err, syncerr.ErrPrecondition)

	db := &model.Database{Characters: []model.Character{{
		ID:     "a",
		Fields: model.Fields{"chatPage": json.Number("3")},
	}}}
	_, err = CurrentRef(db)
	require.ErrorIs(t, err, syncerr.ErrPrecondition)
}

func TestMemoryPinnedRef(t *testing.T) {
	m := NewMemory(nil)
	m.SetCurrent(Ref{CharacterID: "x", ChatIndex: 2})
	ref, err := m.CurrentRef(context.Background())
	require.NoError(t, err)
	require.Equal(t, Ref{CharacterID: "x", ChatIndex: 2}, ref)
}

func TestMissingPath(t *testing.T) {
	_, err := (&JSONFile{}).Database(context.Background())
	require.ErrorIs(t, err, syncerr.ErrConfig)
}
