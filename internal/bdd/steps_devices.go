package bdd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/rhplus0831/risugit/internal/assetsync"
	"github.com/rhplus0831/risugit/internal/dataencryption"
	"github.com/rhplus0831/risugit/internal/gitrepo"
	"github.com/rhplus0831/risugit/internal/host"
	"github.com/rhplus0831/risugit/internal/model"
	"github.com/rhplus0831/risugit/internal/plugin/blob/dir"
	"github.com/rhplus0831/risugit/internal/service"
	"github.com/rhplus0831/risugit/internal/syncerr"
	"github.com/rhplus0831/risugit/internal/testutil/cucumber"
	"github.com/rhplus0831/risugit/internal/testutil/testgit"
)

// Scenarios run one at a time; a low iteration count keeps key derivation fast.
var keyring = dataencryption.NewKeyring(1000)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.Scenario) {
		w := &world{s: s, devices: map[string]*device{}}

		ctx.Step(`^a git remote$`, w.aGitRemote)
		ctx.Step(`^a device "([^"]*)" with passphrase "([^"]*)"$`, w.aDeviceWithPassphrase)
		ctx.Step(`^the host database of "([^"]*)" is:$`, w.theHostDatabaseIs)
		ctx.Step(`^"([^"]*)" changes the "([^"]*)" field of character "([^"]*)" to "([^"]*)"$`, w.changesCharacterField)
		ctx.Step(`^"([^"]*)" appends message "([^"]*)" saying "([^"]*)" to chat (\d+) of character "([^"]*)"$`, w.appendsMessage)
		ctx.Step(`^"([^"]*)" opens chat (\d+) of character "([^"]*)"$`, w.opensChat)

		ctx.Step(`^"([^"]*)" saves (everything|other data|the current chat)$`, w.saves)
		ctx.Step(`^"([^"]*)" saves character "([^"]*)"$`, w.savesCharacter)
		ctx.Step(`^"([^"]*)" saves chat "([^"]*)" of character "([^"]*)"$`, w.savesChat)
		ctx.Step(`^"([^"]*)" restores the latest snapshot$`, w.restoresLatest)
		ctx.Step(`^"([^"]*)" restores the snapshot \${([^}]*)}$`, w.restoresRevision)
		ctx.Step(`^"([^"]*)" (pushes|pulls|reclones)$`, w.remoteOp)
		ctx.Step(`^"([^"]*)" merges preferring (local|remote)$`, w.merges)
		ctx.Step(`^"([^"]*)" (pushes|pulls) assets$`, w.transfersAssets)

		ctx.Step(`^the operation should succeed$`, w.theOperationShouldSucceed)
		ctx.Step(`^the operation should fail with a (config|precondition|decrypt|push rejected|diverged) error$`, w.theOperationShouldFail)
		ctx.Step(`^a commit should have been made$`, w.aCommitShouldHaveBeenMade)
		ctx.Step(`^nothing should have been committed$`, w.nothingShouldHaveBeenCommitted)
		ctx.Step(`^I store the last commit as \${([^}]*)}$`, w.iStoreTheLastCommit)
		ctx.Step(`^the history of "([^"]*)" should be:$`, w.theHistoryShouldBe)
		ctx.Step(`^the host database of "([^"]*)" should contain json:$`, w.theHostDatabaseShouldContain)
		ctx.Step(`^"([^"]*)" should have (\d+) characters?$`, w.shouldHaveCharacters)
		ctx.Step(`^the repository of "([^"]*)" should (contain|not contain) "([^"]*)"$`, w.theRepositoryShouldContain)

		ctx.Step(`^"([^"]*)" has a local asset "([^"]*)" containing "([^"]*)"$`, w.hasLocalAsset)
		ctx.Step(`^"([^"]*)" should have a local asset "([^"]*)" containing "([^"]*)"$`, w.shouldHaveLocalAsset)
		ctx.Step(`^the asset transfer should report (\d+) transferred, (\d+) already in place and (\d+) failed$`, w.theAssetTransferShouldReport)
	})
}

type device struct {
	name   string
	syncer *service.Syncer
	host   *host.Memory
	local  *dir.Store
}

// world is the per-scenario state of the device steps.
type world struct {
	s       *cucumber.Scenario
	remote  *testgit.Remote
	devices map[string]*device

	lastErr     error
	lastHash    plumbing.Hash
	lastSummary assetsync.Summary
}

func (w *world) ctx() context.Context {
	return context.Background()
}

func (w *world) device(name string) (*device, error) {
	d := w.devices[name]
	if d == nil {
		return nil, fmt.Errorf("device %q is not defined", name)
	}
	return d, nil
}

func (w *world) aGitRemote() error {
	w.remote = testgit.NewRemote(w.s.Suite.TestingT)
	return nil
}

func (w *world) aDeviceWithPassphrase(name, passphrase string) error {
	t := w.s.Suite.TestingT
	local, err := dir.New(t.TempDir(), "")
	if err != nil {
		return err
	}
	url := ""
	if w.remote != nil {
		url = w.remote.URL
	}
	h := host.NewMemory(&model.Database{Aux: map[string]json.RawMessage{}, Fields: model.Fields{}})
	w.devices[name] = &device{
		name:  name,
		host:  h,
		local: local,
		syncer: &service.Syncer{
			Repo:       gitrepo.Open(gitrepo.Options{FS: memfs.New(), RemoteURL: url, AuthorName: name}),
			Host:       h,
			Keyring:    keyring,
			Passphrase: passphrase,
			Assets: &assetsync.Syncer{
				Local:          local,
				Client:         assetsync.NewClient(w.s.Suite.APIURL, []time.Duration{10 * time.Millisecond}),
				MaxConnections: 2,
			},
		},
	}
	return nil
}

func (w *world) theHostDatabaseIs(name string, doc *godog.DocString) error {
	d, err := w.device(name)
	if err != nil {
		return err
	}
	expanded, err := w.s.Expand(doc.Content)
	if err != nil {
		return err
	}
	db := &model.Database{}
	if err := json.Unmarshal([]byte(expanded), db); err != nil {
		return fmt.Errorf("host database: %w", err)
	}
	return d.host.ReplaceDatabase(w.ctx(), db)
}

func (w *world) changesCharacterField(name, field, charID, value string) error {
	d, err := w.device(name)
	if err != nil {
		return err
	}
	db, err := d.host.Database(w.ctx())
	if err != nil {
		return err
	}
	i := db.FindCharacter(charID)
	if i < 0 {
		return fmt.Errorf("character %q not found on %s", charID, name)
	}
	c := &db.Characters[i]
	if c.Fields == nil {
		c.Fields = model.Fields{}
	}
	c.Fields[field] = value
	// The host bumps the marker on every edit.
	at, _ := c.LastInteraction.Int64()
	c.LastInteraction = json.Number(fmt.Sprint(at + 1))
	return nil
}

func (w *world) appendsMessage(name, msgID, text string, page int, charID string) error {
	d, err := w.device(name)
	if err != nil {
		return err
	}
	db, err := d.host.Database(w.ctx())
	if err != nil {
		return err
	}
	i := db.FindCharacter(charID)
	if i < 0 || page < 0 || page >= len(db.Characters[i].Chats) {
		return fmt.Errorf("chat %s#%d not found on %s", charID, page, name)
	}
	chat := &db.Characters[i].Chats[page]
	chat.Messages = append(chat.Messages, model.Message{
		ChatID: msgID,
		Fields: model.Fields{"role": "user", "data": text},
	})
	return nil
}

func (w *world) opensChat(name string, page int, charID string) error {
	d, err := w.device(name)
	if err != nil {
		return err
	}
	d.host.SetCurrent(host.Ref{CharacterID: charID, ChatIndex: page})
	return nil
}

func (w *world) record(hash plumbing.Hash, err error) error {
	w.lastHash, w.lastErr = hash, err
	return nil
}

func (w *world) saves(name, what string) error {
	d, err := w.device(name)
	if err != nil {
		return err
	}
	switch what {
	case "everything":
		return w.record(d.syncer.SaveAll(w.ctx(), ""))
	case "other data":
		return w.record(d.syncer.SaveOther(w.ctx(), ""))
	default:
		return w.record(d.syncer.SaveCurrentChat(w.ctx()))
	}
}

func (w *world) savesCharacter(name, charID string) error {
	d, err := w.device(name)
	if err != nil {
		return err
	}
	return w.record(d.syncer.SaveCharacter(w.ctx(), charID, ""))
}

func (w *world) savesChat(name, chatID, charID string) error {
	d, err := w.device(name)
	if err != nil {
		return err
	}
	return w.record(d.syncer.SaveChat(w.ctx(), charID, chatID, ""))
}

func (w *world) restoresLatest(name string) error {
	return w.restoresRevision(name, "")
}

func (w *world) restoresRevision(name, variable string) error {
	d, err := w.device(name)
	if err != nil {
		return err
	}
	rev := ""
	if variable != "" {
		if rev, err = w.s.Resolve(variable); err != nil {
			return err
		}
	}
	return w.record(plumbing.ZeroHash, d.syncer.Restore(w.ctx(), rev))
}

func (w *world) remoteOp(name, op string) error {
	d, err := w.device(name)
	if err != nil {
		return err
	}
	switch op {
	case "pushes":
		err = d.syncer.Push(w.ctx())
	case "pulls":
		err = d.syncer.Pull(w.ctx())
	default:
		err = d.syncer.Reclone(w.ctx())
	}
	return w.record(plumbing.ZeroHash, err)
}

func (w *world) merges(name, prefer string) error {
	d, err := w.device(name)
	if err != nil {
		return err
	}
	return w.record(d.syncer.Merge(w.ctx(), prefer == "local"))
}

func (w *world) transfersAssets(name, op string) error {
	d, err := w.device(name)
	if err != nil {
		return err
	}
	if op == "pushes" {
		w.lastSummary, w.lastErr = d.syncer.PushAssets(w.ctx(), nil)
	} else {
		w.lastSummary, w.lastErr = d.syncer.PullAssets(w.ctx(), nil)
	}
	return nil
}

func (w *world) theOperationShouldSucceed() error {
	if w.lastErr != nil {
		return fmt.Errorf("expected success, got: %w", w.lastErr)
	}
	return nil
}

var errorKinds = map[string]error{
	"config":        syncerr.ErrConfig,
	"precondition":  syncerr.ErrPrecondition,
	"decrypt":       syncerr.ErrDecrypt,
	"push rejected": syncerr.ErrPushRejected,
	"diverged":      syncerr.ErrDiverged,
}

func (w *world) theOperationShouldFail(kind string) error {
	want := errorKinds[kind]
	if w.lastErr == nil {
		return fmt.Errorf("expected a %s error, but the operation succeeded", kind)
	}
	if !errors.Is(w.lastErr, want) {
		return fmt.Errorf("expected a %s error, got: %v", kind, w.lastErr)
	}
	return nil
}

func (w *world) aCommitShouldHaveBeenMade() error {
	if err := w.theOperationShouldSucceed(); err != nil {
		return err
	}
	if w.lastHash.IsZero() {
		return fmt.Errorf("expected a commit, but nothing was committed")
	}
	return nil
}

func (w *world) nothingShouldHaveBeenCommitted() error {
	if err := w.theOperationShouldSucceed(); err != nil {
		return err
	}
	if !w.lastHash.IsZero() {
		return fmt.Errorf("expected no commit, got %s", w.lastHash)
	}
	return nil
}

func (w *world) iStoreTheLastCommit(as string) error {
	if w.lastHash.IsZero() {
		return fmt.Errorf("no commit to store")
	}
	w.s.Variables[as] = w.lastHash.String()
	return nil
}

func (w *world) theHistoryShouldBe(name string, doc *godog.DocString) error {
	d, err := w.device(name)
	if err != nil {
		return err
	}
	revs, err := d.syncer.History(w.ctx())
	if err != nil {
		return err
	}
	lines := make([]string, len(revs))
	for i, r := range revs {
		lines[i] = fmt.Sprintf("%s: %s", r.Author, strings.TrimSpace(r.Message))
	}
	return w.s.TextMustMatch(strings.Join(lines, "\n"), strings.TrimSpace(doc.Content))
}

func (w *world) theHostDatabaseShouldContain(name string, doc *godog.DocString) error {
	d, err := w.device(name)
	if err != nil {
		return err
	}
	db, err := d.host.Database(w.ctx())
	if err != nil {
		return err
	}
	actual, err := json.Marshal(db)
	if err != nil {
		return err
	}
	return w.s.JSONMustContain(string(actual), doc.Content)
}

func (w *world) shouldHaveCharacters(name string, n int) error {
	d, err := w.device(name)
	if err != nil {
		return err
	}
	db, err := d.host.Database(w.ctx())
	if err != nil {
		return err
	}
	if len(db.Characters) != n {
		return fmt.Errorf("expected %d characters on %s, got %d", n, name, len(db.Characters))
	}
	return nil
}

func (w *world) theRepositoryShouldContain(name, mode, path string) error {
	d, err := w.device(name)
	if err != nil {
		return err
	}
	expanded, err := w.s.Expand(path)
	if err != nil {
		return err
	}
	_, statErr := d.syncer.Repo.FS().Stat(expanded)
	switch {
	case mode == "contain" && statErr != nil:
		return fmt.Errorf("expected %s in the repository of %s: %v", expanded, name, statErr)
	case mode == "not contain" && statErr == nil:
		return fmt.Errorf("expected %s to be absent from the repository of %s", expanded, name)
	}
	return nil
}

func (w *world) hasLocalAsset(name, asset, content string) error {
	d, err := w.device(name)
	if err != nil {
		return err
	}
	asset, err = w.s.Expand(asset)
	if err != nil {
		return err
	}
	if content, err = w.s.Expand(content); err != nil {
		return err
	}
	_, err = d.local.Put(w.ctx(), asset, strings.NewReader(content), assetsync.MimeType(asset))
	return err
}

func (w *world) shouldHaveLocalAsset(name, asset, content string) error {
	d, err := w.device(name)
	if err != nil {
		return err
	}
	asset, err = w.s.Expand(asset)
	if err != nil {
		return err
	}
	if content, err = w.s.Expand(content); err != nil {
		return err
	}
	rc, err := d.local.Get(w.ctx(), asset)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	if !bytes.Equal(data, []byte(content)) {
		return fmt.Errorf("asset %s on %s holds %q, expected %q", asset, name, data, content)
	}
	return nil
}

func (w *world) theAssetTransferShouldReport(done, already, failed int) error {
	if err := w.theOperationShouldSucceed(); err != nil {
		return err
	}
	got := w.lastSummary
	if got.Done != done || got.Already != already || got.Failed != failed {
		return fmt.Errorf("expected %d/%d/%d transferred/already/failed, got %d/%d/%d",
			done, already, failed, got.Done, got.Already, got.Failed)
	}
	return nil
}
