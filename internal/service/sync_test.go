package service_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/rhplus0831/risugit/internal/dataencryption"
	"github.com/rhplus0831/risugit/internal/gitrepo"
	"github.com/rhplus0831/risugit/internal/host"
	"github.com/rhplus0831/risugit/internal/model"
	"github.com/rhplus0831/risugit/internal/service"
	"github.com/rhplus0831/risugit/internal/snapshot"
	"github.com/rhplus0831/risugit/internal/syncerr"
	"github.com/rhplus0831/risugit/internal/testutil/testgit"
	"github.com/stretchr/testify/require"
)

const passphrase = "correct horse battery staple"

var keyring = dataencryption.NewKeyring(1000)

func sampleDB() *model.Database {
	return &model.Database{
		Characters: []model.Character{
			{
				ID:              "alice",
				LastInteraction: json.Number("100"),
				Fields:          model.Fields{"name": "Alice", "desc": "a character description long enough to encrypt"},
				Chats: []model.Chat{
					{ID: "c1", Fields: model.Fields{"name": "first"}, Messages: []model.Message{
						{ChatID: "m1", Fields: model.Fields{"role": "user", "data": "hello there"}},
						{ChatID: "m2", Fields: model.Fields{"role": "char", "data": "general kenobi"}},
					}},
					{ID: "c2", Fields: model.Fields{"name": "second"}},
				},
			},
			{ID: "bob", LastInteraction: json.Number("50"), Fields: model.Fields{"name": "Bob"}},
		},
		Aux:    map[string]json.RawMessage{"loreBook": json.RawMessage(`[{"key":"k","content":"lore"}]`)},
		Fields: model.Fields{"username": "me"},
	}
}

func newSyncer(t *testing.T, url string, db *model.Database) (*service.Syncer, *host.Memory) {
	t.Helper()
	h := host.NewMemory(db)
	return &service.Syncer{
		Repo:       gitrepo.Open(gitrepo.Options{FS: memfs.New(), RemoteURL: url, AuthorName: "tester"}),
		Host:       h,
		Keyring:    keyring,
		Passphrase: passphrase,
	}, h
}

func TestSaveSkipsUnchangedButCommitsAuxChange(t *testing.T) {
	ctx := context.Background()
	s, h := newSyncer(t, "", sampleDB())

	first, err := s.SaveAll(ctx, "")
	require.NoError(t, err)
	require.False(t, first.IsZero())

	again, err := s.SaveAll(ctx, "")
	require.NoError(t, err)
	require.True(t, again.IsZero(), "unchanged graph must not commit")

	db, _ := h.Database(ctx)
	db.Aux["loreBook"] = json.RawMessage(`[{"key":"k","content":"changed lore"}]`)
	aux, err := s.SaveOther(ctx, "")
	require.NoError(t, err)
	require.False(t, aux.IsZero())

	log, err := s.History(ctx)
	require.NoError(t, err)
	require.Len(t, log, 2)
	require.Equal(t, service.MessageSaveOther, log[0].Message)
	require.Equal(t, service.MessageSaveAll, log[1].Message)
}

func TestNarrowSaveBeforeFullSave(t *testing.T) {
	ctx := context.Background()
	s, _ := newSyncer(t, "", sampleDB())

	_, err := s.SaveChat(ctx, "alice", "c1", "")
	require.ErrorIs(t, err, syncerr.ErrPrecondition)
	_, err = s.Repo.FS().Stat(snapshot.ProbeFile)
	require.Error(t, err)
}

func TestSaveCurrentChat(t *testing.T) {
	ctx := context.Background()
	s, h := newSyncer(t, "", sampleDB())
	_, err := s.SaveAll(ctx, "")
	require.NoError(t, err)

	db, _ := h.Database(ctx)
	db.Characters[0].LastInteraction = json.Number("200")
	db.Characters[0].Chats[0].Messages = append(db.Characters[0].Chats[0].Messages,
		model.Message{ChatID: "m3", Fields: model.Fields{"role": "user", "data": "new"}})
	h.SetCurrent(host.Ref{CharacterID: "alice", ChatIndex: 0})

	hash, err := s.SaveCurrentChat(ctx)
	require.NoError(t, err)
	require.False(t, hash.IsZero())

	log, err := s.History(ctx)
	require.NoError(t, err)
	require.Equal(t, "Alice[first] / 3 messages", log[0].Message)
	_, err = s.Repo.FS().Stat(snapshot.MessagePath("alice", "c1", "m3"))
	require.NoError(t, err)
}

func TestRestoreKeepsHostSettings(t *testing.T) {
	ctx := context.Background()
	s, h := newSyncer(t, "", sampleDB())
	first, err := s.SaveAll(ctx, "")
	require.NoError(t, err)

	db, _ := h.Database(ctx)
	db.Characters = db.Characters[:1]
	db.Characters[0].LastInteraction = json.Number("300")
	_, err = s.SaveAll(ctx, "")
	require.NoError(t, err)

	require.NoError(t, h.ReplaceDatabase(ctx, &model.Database{Fields: model.Fields{"username": "still me"}}))
	require.NoError(t, s.Restore(ctx, first.String()))

	restored, _ := h.Database(ctx)
	require.Len(t, restored.Characters, 2)
	require.Equal(t, "still me", restored.Fields["username"])
	require.JSONEq(t, `[{"key":"k","content":"lore"}]`, string(restored.Aux["loreBook"]))

	st, err := s.Repo.State(ctx)
	require.NoError(t, err)
	require.Equal(t, gitrepo.Clean, st)

	require.NoError(t, s.Restore(ctx, ""))
	restored, _ = h.Database(ctx)
	require.Len(t, restored.Characters, 1)
}

func TestRestoreReplacesAuxiliaryCollections(t *testing.T) {
	ctx := context.Background()
	db := sampleDB()
	db.Aux["loreBook"] = json.RawMessage(`[{"z":"` + "<b>a long entry & some markup to encrypt</b>" + `","a":1}]`)
	db.Aux["statics"] = json.RawMessage(`null`)
	want := string(db.Aux["loreBook"])
	s, h := newSyncer(t, "", db)
	_, err := s.SaveAll(ctx, "")
	require.NoError(t, err)

	require.NoError(t, h.ReplaceDatabase(ctx, &model.Database{
		Aux: map[string]json.RawMessage{
			"loreBook": json.RawMessage(`[]`),
			"personas": json.RawMessage(`[{"name":"added later"}]`),
		},
		Fields: model.Fields{"username": "me"},
	}))
	require.NoError(t, s.Restore(ctx, ""))

	restored, _ := h.Database(ctx)
	require.Equal(t, want, string(restored.Aux["loreBook"]))
	require.Equal(t, "null", string(restored.Aux["statics"]))
	require.NotContains(t, restored.Aux, "personas")
	require.Equal(t, "me", restored.Fields["username"])
}

func TestRestoreWithWrongPassphrase(t *testing.T) {
	ctx := context.Background()
	s, h := newSyncer(t, "", sampleDB())
	_, err := s.SaveAll(ctx, "")
	require.NoError(t, err)

	s.Passphrase = "not the passphrase"
	require.ErrorIs(t, s.Restore(ctx, ""), syncerr.ErrDecrypt)
	db, _ := h.Database(ctx)
	require.Len(t, db.Characters, 2, "host untouched")
}

func TestRestoreWithoutSnapshot(t *testing.T) {
	s, _ := newSyncer(t, "", sampleDB())
	require.ErrorIs(t, s.Restore(context.Background(), ""), syncerr.ErrPrecondition)
}

func TestPushPullAndDiff(t *testing.T) {
	ctx := context.Background()
	remote := testgit.NewRemote(t)
	a, _ := newSyncer(t, remote.URL, sampleDB())
	b, hb := newSyncer(t, remote.URL, &model.Database{Fields: model.Fields{}})

	_, err := a.SaveAll(ctx, "")
	require.NoError(t, err)
	require.NoError(t, a.Push(ctx))

	require.NoError(t, b.Pull(ctx))
	require.NoError(t, b.Restore(ctx, ""))
	db, _ := hb.Database(ctx)
	require.Len(t, db.Characters, 2)
	require.Equal(t, "Alice", db.Characters[0].Name())

	local, remoteSum, err := a.Diff(ctx)
	require.NoError(t, err)
	require.Equal(t, local, remoteSum)
	require.Len(t, local.Characters, 2)
	require.Equal(t, 2, local.Characters[0].Chats)

	raw, err := a.ReadAt(ctx, "HEAD", snapshot.CharacterDataPath("alice"))
	require.NoError(t, err)
	require.Contains(t, string(raw), "a character description long enough to encrypt")
	missing, err := a.ReadAt(ctx, "HEAD", "nope.json")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestBootstrap(t *testing.T) {
	ctx := context.Background()
	remote := testgit.NewRemote(t)
	s, _ := newSyncer(t, remote.URL, sampleDB())

	require.NoError(t, s.Bootstrap(ctx, service.BootstrapOptions{Pull: true, SaveOther: true, SaveCharacter: true}))

	fresh, hf := newSyncer(t, remote.URL, &model.Database{Fields: model.Fields{}})
	require.NoError(t, fresh.Bootstrap(ctx, service.BootstrapOptions{Pull: true}))
	require.NoError(t, fresh.Restore(ctx, ""))
	db, _ := hf.Database(ctx)
	require.Len(t, db.Characters, 2)

	_, err := s.PushAssets(ctx, nil)
	require.ErrorIs(t, err, syncerr.ErrConfig)
}
