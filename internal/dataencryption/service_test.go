package dataencryption_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/rhplus0831/risugit/internal/dataencryption"
	"github.com/rhplus0831/risugit/internal/syncerr"
	"github.com/stretchr/testify/require"
)

// Low iteration count keeps the suite fast; derivation is otherwise identical.
const testIterations = 1000

func newKey(t *testing.T, passphrase string) *dataencryption.Key {
	t.Helper()
	key, err := dataencryption.NewKeyring(testIterations).Derive(passphrase)
	require.NoError(t, err)
	return key
}

func TestDeriveRejectsEmptyPassphrase(t *testing.T) {
	_, err := dataencryption.NewKeyring(testIterations).Derive("")
	require.ErrorIs(t, err, syncerr.ErrConfig)
}

func TestDeriveCachesUntilPassphraseChanges(t *testing.T) {
	kr := dataencryption.NewKeyring(testIterations)
	a1, err := kr.Derive("alpha")
	require.NoError(t, err)
	a2, err := kr.Derive("alpha")
	require.NoError(t, err)
	require.Same(t, a1, a2)

	b, err := kr.Derive("beta")
	require.NoError(t, err)
	require.NotSame(t, a1, b)

	kr.Forget()
	a3, err := kr.Derive("alpha")
	require.NoError(t, err)
	require.NotSame(t, a1, a3)
	require.Equal(t, a1.EncryptString("same input"), a3.EncryptString("same input"))
}

func TestEncryptIsDeterministicAndReversible(t *testing.T) {
	key := newKey(t, "correct horse")
	for _, s := range []string{"", "short", "こんにちは世界 🌏 unicode payload", strings.Repeat("long ", 100)} {
		c1 := key.EncryptString(s)
		c2 := key.EncryptString(s)
		require.Equal(t, c1, c2)
		require.True(t, dataencryption.IsEncrypted(c1))
		require.Len(t, strings.Split(strings.TrimPrefix(c1, dataencryption.Tag), "::"), 2)

		plain, err := key.DecryptString(c1)
		require.NoError(t, err)
		require.Equal(t, s, plain)
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	ct := newKey(t, "right").EncryptString("a secret that must not leak out")
	_, err := newKey(t, "wrong").DecryptString(ct)
	require.ErrorIs(t, err, syncerr.ErrDecrypt)
	require.Contains(t, err.Error(), "key mismatch or corrupted data")
}

func TestDecryptPassesPlaintextThrough(t *testing.T) {
	key := newKey(t, "any")
	plain, err := key.DecryptString("just some legacy text")
	require.NoError(t, err)
	require.Equal(t, "just some legacy text", plain)
}

func TestDecryptRejectsMalformedTag(t *testing.T) {
	key := newKey(t, "any")
	for _, s := range []string{"enc::nope", "enc::!!!::AAAA", "enc::AAAAAAAAAAAAAAAA::%%%"} {
		_, err := key.DecryptString(s)
		require.ErrorIs(t, err, syncerr.ErrDecrypt, s)
	}
}

func TestEncryptValueHonoursLengthThreshold(t *testing.T) {
	key := newKey(t, "pw")
	long := strings.Repeat("x", dataencryption.MinEncryptLength)
	in := map[string]any{
		"id":     "short-id",
		"body":   long,
		"n":      json.Number("12"),
		"flag":   true,
		"nested": []any{long, "tiny", map[string]any{"deep": long}},
	}

	out := key.EncryptValue(in).(map[string]any)
	require.Equal(t, "short-id", out["id"])
	require.True(t, dataencryption.IsEncrypted(out["body"].(string)))
	require.Equal(t, json.Number("12"), out["n"])
	require.Equal(t, true, out["flag"])
	nested := out["nested"].([]any)
	require.True(t, dataencryption.IsEncrypted(nested[0].(string)))
	require.Equal(t, "tiny", nested[1])
	require.True(t, dataencryption.IsEncrypted(nested[2].(map[string]any)["deep"].(string)))

	back, err := key.DecryptValue(out)
	require.NoError(t, err)
	require.Equal(t, in, back)
}

func TestEncryptJSONKeepsNumbersExact(t *testing.T) {
	key := newKey(t, "pw")
	raw := json.RawMessage(`{"big":12345678901234567890,"text":"` + strings.Repeat("y", 40) + `"}`)
	enc, err := key.EncryptJSON(raw)
	require.NoError(t, err)
	require.Contains(t, string(enc), "12345678901234567890")
	require.NotContains(t, string(enc), strings.Repeat("y", 40))

	dec, err := key.DecryptJSON(enc)
	require.NoError(t, err)
	require.JSONEq(t, string(raw), string(dec))
}

func TestEncryptJSONKeepsKeyOrderAndEscaping(t *testing.T) {
	key := newKey(t, "pw")
	long := "<i>" + strings.Repeat("& lore ", 6) + "</i>"
	raw := json.RawMessage(`[{"z":1,"a":"<b>&</b>","long":"` + long + `","n":null,"t":false,"e":[],"o":{},"q":"say \"hi\"\n"},null,1.50]`)

	enc, err := key.EncryptJSON(raw)
	require.NoError(t, err)
	require.NotContains(t, string(enc), long)
	require.Contains(t, string(enc), `{"z":1,"a":"<b>&</b>","long":"`)

	dec, err := key.DecryptJSON(enc)
	require.NoError(t, err)
	require.Equal(t, string(raw), string(dec))
}

func TestDecryptJSONNull(t *testing.T) {
	key := newKey(t, "pw")
	dec, err := key.DecryptJSON(json.RawMessage(" null "))
	require.NoError(t, err)
	require.Equal(t, "null", string(dec))

	_, err = key.DecryptJSON(json.RawMessage(`{"a":`))
	require.ErrorIs(t, err, syncerr.ErrDecrypt)
}

func TestProbe(t *testing.T) {
	key := newKey(t, "pw")
	data, err := json.Marshal(key.EncryptValue(dataencryption.ProbeDocument()))
	require.NoError(t, err)

	require.NoError(t, key.VerifyProbe(data))
	require.ErrorIs(t, newKey(t, "other").VerifyProbe(data), syncerr.ErrDecrypt)
	require.ErrorIs(t, key.VerifyProbe([]byte(`{"test":"plain"}`)), syncerr.ErrDecrypt)
}
