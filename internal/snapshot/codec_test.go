package snapshot_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/rhplus0831/risugit/internal/dataencryption"
	"github.com/rhplus0831/risugit/internal/model"
	"github.com/rhplus0831/risugit/internal/snapshot"
	"github.com/rhplus0831/risugit/internal/syncerr"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T, passphrase string) *dataencryption.Key {
	t.Helper()
	key, err := dataencryption.NewKeyring(1000).Derive(passphrase)
	require.NoError(t, err)
	return key
}

func msg(id, text string) model.Message {
	return model.Message{ChatID: id, Fields: model.Fields{"role": "user", "data": text}}
}

func chat(id string, msgs ...model.Message) model.Chat {
	return model.Chat{ID: id, Messages: msgs, Fields: model.Fields{"name": "chat " + id}}
}

func character(id, marker string, chats ...model.Chat) model.Character {
	return model.Character{
		ID:              id,
		LastInteraction: json.Number(marker),
		Chats:           chats,
		Fields:          model.Fields{"name": "Character " + id, "desc": strings.Repeat("long description ", 4)},
	}
}

func save(t *testing.T, fs billy.Filesystem, key *dataencryption.Key, db *model.Database, scope snapshot.Scope) *snapshot.Plan {
	t.Helper()
	enc := &snapshot.Encoder{Key: key, Source: snapshot.FS(fs)}
	plan, err := enc.Encode(context.Background(), db, scope)
	require.NoError(t, err)
	require.NoError(t, plan.Apply(fs))
	return plan
}

func restore(t *testing.T, fs billy.Filesystem, key *dataencryption.Key) *model.Database {
	t.Helper()
	db, err := snapshot.Decode(context.Background(), snapshot.FS(fs), key)
	require.NoError(t, err)
	return db
}

func requireSameGraph(t *testing.T, want, got *model.Database) {
	t.Helper()
	w, err := json.Marshal(want)
	require.NoError(t, err)
	g, err := json.Marshal(got)
	require.NoError(t, err)
	require.JSONEq(t, string(w), string(g))
}

func TestRoundTrip(t *testing.T) {
	many := &model.Database{Aux: map[string]json.RawMessage{
		"loreBook":   json.RawMessage(`[{"key":"dragon","content":"` + strings.Repeat("lore ", 20) + `"}]`),
		"personas":   json.RawMessage(`[{"name":"me"}]`),
		"statistics": json.RawMessage(`{"saves":12345678901234567}`),
	}}
	for c := 0; c < 4; c++ {
		var chats []model.Chat
		for h := 0; h < 3; h++ {
			var msgs []model.Message
			for m := 0; m < 5; m++ {
				id := fmt.Sprintf("m-%d-%d-%d", c, h, m)
				if m%2 == 1 {
					id = ""
				}
				msgs = append(msgs, msg(id, fmt.Sprintf("message %d of chat %d: %s", m, h, strings.Repeat("x", m*10))))
			}
			chats = append(chats, chat(fmt.Sprintf("chat-%d-%d", c, h), msgs...))
		}
		many.Characters = append(many.Characters, character(fmt.Sprintf("char-%d", c), fmt.Sprint(1000+c), chats...))
	}

	cases := map[string]*model.Database{
		"empty":          {},
		"no chats":       {Characters: []model.Character{character("solo", "1")}},
		"anonymous only": {Characters: []model.Character{character("anon", "1", chat("c", msg("", "a"), msg("", "b"), msg("", "c")))}},
		"many":           many,
	}
	for name, db := range cases {
		t.Run(name, func(t *testing.T) {
			fs := memfs.New()
			key := testKey(t, "pw")
			save(t, fs, key, db, snapshot.Full())
			requireSameGraph(t, db, restore(t, fs, key))
		})
	}
}

func TestOrderPreserved(t *testing.T) {
	db := &model.Database{Characters: []model.Character{
		character("zeta", "3", chat("b2"), chat("a1", msg("z", "first"), msg("a", "second"), msg("", "third"))),
		character("alpha", "2"),
		character("mid", "1", chat("only")),
	}}
	fs := memfs.New()
	key := testKey(t, "pw")
	save(t, fs, key, db, snapshot.Full())

	got := restore(t, fs, key)
	require.Equal(t, []string{"zeta", "alpha", "mid"}, []string{got.Characters[0].ID, got.Characters[1].ID, got.Characters[2].ID})
	require.Equal(t, "b2", got.Characters[0].Chats[0].ID)
	require.Empty(t, got.Characters[0].Chats[0].Messages)
	msgs := got.Characters[0].Chats[1].Messages
	require.Len(t, msgs, 3)
	require.Equal(t, "first", msgs[0].Fields["data"])
	require.Equal(t, "second", msgs[1].Fields["data"])
	require.Equal(t, "third", msgs[2].Fields["data"])
	requireSameGraph(t, db, got)
}

func TestFilesAreEncryptedAndIndexed(t *testing.T) {
	secret := "a very private message that should never appear in clear text"
	db := &model.Database{Characters: []model.Character{character("c", "1", chat("h", msg("m", secret)))}}
	fs := memfs.New()
	save(t, fs, testKey(t, "pw"), db, snapshot.Full())

	data, err := util.ReadFile(fs, snapshot.MessagePath("c", "h", "m"))
	require.NoError(t, err)
	require.NotContains(t, string(data), secret)
	require.Contains(t, string(data), `"index": 0`)
	require.Contains(t, string(data), dataencryption.Tag)

	probe, err := util.ReadFile(fs, snapshot.ProbeFile)
	require.NoError(t, err)
	require.NotContains(t, string(probe), dataencryption.ProbePlaintext)
}

func TestUnchangedCharacterIsSkipped(t *testing.T) {
	db := &model.Database{
		Characters: []model.Character{character("a", "10", chat("h", msg("m", "hi"))), character("b", "20")},
		Aux:        map[string]json.RawMessage{"loreBook": json.RawMessage(`[]`)},
	}
	fs := memfs.New()
	key := testKey(t, "pw")
	save(t, fs, key, db, snapshot.Full())

	db.Aux["loreBook"] = json.RawMessage(`[{"key":"new"}]`)
	db.Characters[1].LastInteraction = "21"
	plan := save(t, fs, key, db, snapshot.Full())

	require.Equal(t, []string{"a"}, plan.Skipped)
	for _, f := range plan.Files {
		require.False(t, strings.HasPrefix(f.Path, snapshot.CharacterDir("a")), f.Path)
	}
	require.NotContains(t, plan.Remove, snapshot.CharacterDir("a"))
	require.Contains(t, plan.Remove, snapshot.CharacterDir("b"))
	requireSameGraph(t, db, restore(t, fs, key))
}

func TestMovedCharacterRewritesOnlyItsDataFile(t *testing.T) {
	db := &model.Database{Characters: []model.Character{
		character("a", "1", chat("h", msg("m", "hi"))),
		character("b", "2"),
	}}
	fs := memfs.New()
	key := testKey(t, "pw")
	save(t, fs, key, db, snapshot.Full())

	db.Characters[0], db.Characters[1] = db.Characters[1], db.Characters[0]
	plan := save(t, fs, key, db, snapshot.Full())
	require.Empty(t, plan.Skipped)
	var charFiles []string
	for _, f := range plan.Files {
		if strings.HasPrefix(f.Path, snapshot.CharactersDir+"/") {
			charFiles = append(charFiles, f.Path)
		}
	}
	require.ElementsMatch(t, []string{snapshot.CharacterDataPath("a"), snapshot.CharacterDataPath("b")}, charFiles)
	requireSameGraph(t, db, restore(t, fs, key))
}

func TestMissingMarkerAlwaysRewrites(t *testing.T) {
	db := &model.Database{Characters: []model.Character{character("a", "", chat("h"))}}
	fs := memfs.New()
	key := testKey(t, "pw")
	save(t, fs, key, db, snapshot.Full())
	plan := save(t, fs, key, db, snapshot.Full())
	require.Empty(t, plan.Skipped)
}

func TestNarrowSaveRequiresBaseline(t *testing.T) {
	db := &model.Database{Characters: []model.Character{character("a", "1", chat("h", msg("m", "hi")))}}
	key := testKey(t, "pw")
	for _, scope := range []snapshot.Scope{snapshot.Chat("a", "h"), snapshot.Character("a"), snapshot.Auxiliary()} {
		fs := memfs.New()
		enc := &snapshot.Encoder{Key: key, Source: snapshot.FS(fs)}
		plan, err := enc.Encode(context.Background(), db, scope)
		require.ErrorIs(t, err, syncerr.ErrPrecondition, scope.String())
		require.Contains(t, err.Error(), "a full backup must be performed first")
		require.Nil(t, plan)

		_, err = fs.Stat(snapshot.ProbeFile)
		require.Error(t, err)
		_, err = fs.Stat(snapshot.CharactersDir)
		require.Error(t, err)
	}
}

func TestNarrowChatSaveLeavesSiblingMessages(t *testing.T) {
	db := &model.Database{Characters: []model.Character{
		character("a", "1",
			chat("target", msg("t1", "old target")),
			chat("sibling", msg("s1", "old sibling")),
		),
	}}
	fs := memfs.New()
	key := testKey(t, "pw")
	save(t, fs, key, db, snapshot.Full())

	db.Characters[0].LastInteraction = "2"
	db.Characters[0].Chats[0].Messages = []model.Message{msg("t1", "new target"), msg("t2", "reply")}
	db.Characters[0].Chats[1].Messages = []model.Message{msg("s1", "edited sibling in memory")}
	db.Characters[0].Chats = append(db.Characters[0].Chats, chat("fresh", msg("f1", "never saved")))
	save(t, fs, key, db, snapshot.Chat("a", "target"))

	got := restore(t, fs, key)
	chats := got.Characters[0].Chats
	require.Len(t, chats, 3)
	require.Equal(t, "target", chats[0].ID)
	require.Len(t, chats[0].Messages, 2)
	require.Equal(t, "new target", chats[0].Messages[0].Fields["data"])
	require.Equal(t, "sibling", chats[1].ID)
	require.Equal(t, "old sibling", chats[1].Messages[0].Fields["data"])
	require.Equal(t, "fresh", chats[2].ID)
	require.Equal(t, "never saved", chats[2].Messages[0].Fields["data"])
}

func TestNarrowChatSaveDropsDeletedChats(t *testing.T) {
	db := &model.Database{Characters: []model.Character{
		character("a", "1", chat("keep", msg("k", "x")), chat("gone", msg("g", "y"))),
	}}
	fs := memfs.New()
	key := testKey(t, "pw")
	save(t, fs, key, db, snapshot.Full())

	db.Characters[0].LastInteraction = "2"
	db.Characters[0].Chats = db.Characters[0].Chats[:1]
	plan := save(t, fs, key, db, snapshot.Chat("a", "keep"))
	require.Contains(t, plan.Remove, snapshot.ChatDir("a", "gone"))
	requireSameGraph(t, db, restore(t, fs, key))
}

func TestStaleCharactersRemovedOnFullSave(t *testing.T) {
	db := &model.Database{Characters: []model.Character{character("a", "1"), character("b", "1")}}
	fs := memfs.New()
	key := testKey(t, "pw")
	save(t, fs, key, db, snapshot.Full())

	db.Characters = db.Characters[1:]
	save(t, fs, key, db, snapshot.Full())
	requireSameGraph(t, db, restore(t, fs, key))
}

func TestWrongKeyFailsBeforeWriting(t *testing.T) {
	db := &model.Database{Characters: []model.Character{character("a", "1")}}
	fs := memfs.New()
	save(t, fs, testKey(t, "right"), db, snapshot.Full())

	enc := &snapshot.Encoder{Key: testKey(t, "wrong"), Source: snapshot.FS(fs)}
	_, err := enc.Encode(context.Background(), db, snapshot.Full())
	require.ErrorIs(t, err, syncerr.ErrDecrypt)

	_, err = snapshot.Decode(context.Background(), snapshot.FS(fs), testKey(t, "wrong"))
	require.ErrorIs(t, err, syncerr.ErrDecrypt)
}

func TestAuxiliarySaveTouchesOnlyAux(t *testing.T) {
	db := &model.Database{
		Characters: []model.Character{character("a", "1")},
		Aux:        map[string]json.RawMessage{"modules": json.RawMessage(`[1]`)},
	}
	fs := memfs.New()
	key := testKey(t, "pw")
	save(t, fs, key, db, snapshot.Full())

	db.Aux["modules"] = json.RawMessage(`[1,2]`)
	db.Characters[0].LastInteraction = "99"
	plan := save(t, fs, key, db, snapshot.Auxiliary())
	for _, f := range plan.Files {
		require.False(t, strings.HasPrefix(f.Path, snapshot.CharactersDir), f.Path)
	}
	got := restore(t, fs, key)
	require.JSONEq(t, `[1,2]`, string(got.Aux["modules"]))
	require.Equal(t, json.Number("1"), got.Characters[0].LastInteraction)
}

func TestAuxiliaryRoundTripIsExact(t *testing.T) {
	raw := `[{"z":1,"a":"<b>&</b>","text":"` + strings.Repeat("<p>lore & more</p>", 3) + `"}]`
	db := &model.Database{Aux: map[string]json.RawMessage{
		"loreBook": json.RawMessage(raw),
		"statics":  json.RawMessage(`null`),
	}}
	fs := memfs.New()
	key := testKey(t, "pw")
	save(t, fs, key, db, snapshot.Full())

	data, err := util.ReadFile(fs, snapshot.AuxFile("loreBook"))
	require.NoError(t, err)
	require.NotContains(t, string(data), "<p>lore")

	got := restore(t, fs, key)
	require.Equal(t, raw, string(got.Aux["loreBook"]))
	require.Contains(t, got.Aux, "statics")
	require.Equal(t, "null", string(got.Aux["statics"]))
	require.NotContains(t, got.Aux, "personas")
}

// failingFS refuses to create files whose path contains match.
type failingFS struct {
	billy.Filesystem
	match string
}

func (f failingFS) OpenFile(name string, flag int, perm os.FileMode) (billy.File, error) {
	if strings.Contains(name, f.match) {
		return nil, errors.New("disk full")
	}
	return f.Filesystem.OpenFile(name, flag, perm)
}

func TestInterruptedSaveIsRedone(t *testing.T) {
	for name, scope := range map[string]snapshot.Scope{
		"full": snapshot.Full(),
		"chat": snapshot.Chat("a", "h"),
	} {
		t.Run(name, func(t *testing.T) {
			db := &model.Database{Characters: []model.Character{
				character("a", "1", chat("h", msg("m1", "one"), msg("m2", "two"))),
			}}
			fs := memfs.New()
			key := testKey(t, "pw")
			save(t, fs, key, db, snapshot.Full())

			db.Characters[0].LastInteraction = "2"
			db.Characters[0].Chats[0].Messages = append(db.Characters[0].Chats[0].Messages, msg("m3", "three"))
			enc := &snapshot.Encoder{Key: key, Source: snapshot.FS(fs)}
			plan, err := enc.Encode(context.Background(), db, scope)
			require.NoError(t, err)
			require.Equal(t, snapshot.CharacterDataPath("a"), plan.Files[len(plan.Files)-1].Path)
			require.Error(t, plan.Apply(failingFS{Filesystem: fs, match: "/" + snapshot.MessagesDir + "/"}))

			marker, err := snapshot.ReadMarker(snapshot.FS(fs), "a")
			require.NoError(t, err)
			require.True(t, snapshot.HasChanged(db.Characters[0], marker))

			plan = save(t, fs, key, db, scope)
			require.Empty(t, plan.Skipped)
			got := restore(t, fs, key)
			var ids []string
			for _, m := range got.Characters[0].Chats[0].Messages {
				ids = append(ids, m.ChatID)
			}
			require.Equal(t, []string{"m1", "m2", "m3"}, ids)
		})
	}
}

func TestMessageIDDerivation(t *testing.T) {
	anon := model.Message{}
	id := snapshot.MessageID("c", "h", 3, anon)
	require.Len(t, id, 64)
	require.Equal(t, id, snapshot.MessageID("c", "h", 3, anon))
	require.NotEqual(t, id, snapshot.MessageID("c", "h", 4, anon))
	require.NotEqual(t, id, snapshot.MessageID("c", "h2", 3, anon))
	require.Equal(t, "own-id", snapshot.MessageID("c", "h", 3, model.Message{ChatID: "own-id"}))
	require.Len(t, snapshot.MessageID("c", "h", 3, model.Message{ChatID: "../escape"}), 64)
}

func TestDecodeToleratesMissingMessagesDir(t *testing.T) {
	db := &model.Database{Characters: []model.Character{character("a", "1", chat("empty"), chat("full", msg("m", "x")))}}
	fs := memfs.New()
	key := testKey(t, "pw")
	save(t, fs, key, db, snapshot.Full())

	_, err := fs.Stat(snapshot.MessagesPath("a", "empty"))
	require.Error(t, err)
	requireSameGraph(t, db, restore(t, fs, key))
}

func TestDecodeSummary(t *testing.T) {
	db := &model.Database{
		Characters: []model.Character{character("b", "7", chat("x"), chat("y")), character("a", "8")},
		Aux:        map[string]json.RawMessage{"botPresets": json.RawMessage(`[{"name":"default"}]`)},
	}
	fs := memfs.New()
	key := testKey(t, "pw")
	save(t, fs, key, db, snapshot.Full())

	sum, err := snapshot.DecodeSummary(context.Background(), snapshot.FS(fs), key)
	require.NoError(t, err)
	require.Len(t, sum.Characters, 2)
	require.Equal(t, "b", sum.Characters[0].ID)
	require.Equal(t, "Character b", sum.Characters[0].Name)
	require.Equal(t, 2, sum.Characters[0].Chats)
	require.Equal(t, json.Number("8"), sum.Characters[1].LastInteraction)
	require.JSONEq(t, `[{"name":"default"}]`, string(sum.Aux["botPresets"]))
}

func TestHasChanged(t *testing.T) {
	c := model.Character{ID: "a", LastInteraction: "5"}
	require.True(t, snapshot.HasChanged(c, snapshot.Marker{}))
	require.False(t, snapshot.HasChanged(c, snapshot.Marker{Exists: true, LastInteraction: "5"}))
	require.True(t, snapshot.HasChanged(c, snapshot.Marker{Exists: true, LastInteraction: "6"}))
	require.True(t, snapshot.HasChanged(model.Character{ID: "a"}, snapshot.Marker{Exists: true}))
}
