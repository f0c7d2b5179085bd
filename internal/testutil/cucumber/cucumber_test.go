package cucumber

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rhplus0831/risugit/internal/security"
	"github.com/stretchr/testify/require"
)

func newScenario(apiURL string) *Scenario {
	return &Scenario{
		Suite:     &Suite{APIURL: apiURL},
		Variables: map[string]string{},
		Client:    http.DefaultClient,
	}
}

func TestExpandVariablesLiteralsAndPipes(t *testing.T) {
	s := newScenario("")
	s.Variables["name"] = "pixels"

	out, err := s.Expand(`${name}/${"abc" | sha256}.png`)
	require.NoError(t, err)
	require.Equal(t, "pixels/ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad.png", out)

	id, err := s.Resolve("uuid")
	require.NoError(t, err)
	require.Len(t, id, 36)

	_, err = s.Expand("${missing}")
	require.ErrorContains(t, err, "not set")
	_, err = s.Expand(`${name | base64}`)
	require.ErrorContains(t, err, "unknown pipe")
}

func TestRequestsAndResponseQueries(t *testing.T) {
	flags := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flags <- r.Header.Get(security.FlagHeader)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","items":[{"n":1}]}`))
	}))
	defer srv.Close()

	s := newScenario(srv.URL)
	_, err := s.Resolve("response.status")
	require.Error(t, err)

	require.NoError(t, s.request(http.MethodGet, "/health"))
	require.NoError(t, s.requestsCarryTheFlag())
	require.NoError(t, s.request(http.MethodGet, "/health"))
	require.Equal(t, "", <-flags)
	require.Equal(t, "1", <-flags)

	require.NoError(t, s.theResponseCodeShouldBe(200))
	require.Error(t, s.theResponseCodeShouldBe(404))
	require.NoError(t, s.theResponseHeaderShouldBe("Content-Type", "application/json"))

	out, err := s.Expand("${response.status}/${response.items[0].n}/${response.items}")
	require.NoError(t, err)
	require.Equal(t, `ok/1/[{"n":1}]`, out)
	require.NoError(t, s.theResponseFieldShouldBe(".status", "ok"))
	require.Error(t, s.theResponseFieldShouldBe(".nothing.here", "ok"))
}

func TestResponseBodyMatchesAssetName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("abc"))
	}))
	defer srv.Close()

	s := newScenario(srv.URL)
	require.NoError(t, s.request(http.MethodGet, "/x"))
	require.NoError(t, s.theResponseBodyShouldMatchName("ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad.png"))
	require.Error(t, s.theResponseBodyShouldMatchName("0000.png"))
	require.NoError(t, s.theResponseBodyShouldBe("abc"))
}

func TestJSONMustContain(t *testing.T) {
	s := newScenario("")
	s.Variables["id"] = "c1"
	actual := `{"a":1,"b":{"c":[1,2],"d":"c1"}}`
	require.NoError(t, s.JSONMustContain(actual, `{"b":{"c":[1,2],"d":"${id}"}}`))
	require.ErrorContains(t, s.JSONMustContain(actual, `{"b":{"c":[1]}}`), "$.b.c: want 1 elements")
	require.ErrorContains(t, s.JSONMustContain(actual, `{"e":null}`), `missing key "e"`)
}

func TestTextMustMatch(t *testing.T) {
	s := newScenario("")
	require.NoError(t, s.TextMustMatch("a\nb", "a\nb"))
	require.ErrorContains(t, s.TextMustMatch("a\nc", "a\nb"), "-b")
}
