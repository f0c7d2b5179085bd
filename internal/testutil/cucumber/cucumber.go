// Package cucumber is the godog step library shared by the feature suites.
// Scenarios talk to a running asset server over HTTP and keep string
// variables that every step argument may reference as ${expr} (see Expand).
package cucumber

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/cucumber/godog/colors"
)

// Suite is shared by the scenarios of one feature file.
type Suite struct {
	// APIURL is the base URL of the asset server under test.
	APIURL   string
	TestingT *testing.T
}

// Scenario is the state of a single scenario.
type Scenario struct {
	Suite     *Suite
	Variables map[string]string
	Client    *http.Client

	// flagged adds the client flag header to every request.
	flagged bool
	resp    *http.Response
	body    []byte
	doc     any
}

// StepModules register additional steps for every scenario.
var StepModules []func(ctx *godog.ScenarioContext, s *Scenario)

// InitializeScenario is the godog scenario initializer of the suite.
func (suite *Suite) InitializeScenario(ctx *godog.ScenarioContext) {
	s := &Scenario{
		Suite:     suite,
		Variables: map[string]string{},
		Client:    &http.Client{Timeout: 30 * time.Second},
	}
	registerAssetServerSteps(ctx, s)
	for _, module := range StepModules {
		module(ctx, s)
	}
}

// Options returns godog options running one feature file. Output is pretty
// under go test -v and a junit report when GODOG_REPORT_DIR is set; the
// returned func closes that report.
func Options(t *testing.T, featurePath string) (godog.Options, func()) {
	opts := godog.Options{
		Output:      colors.Colored(os.Stdout),
		Format:      "progress",
		Paths:       []string{featurePath},
		Randomize:   time.Now().UTC().UnixNano(),
		Concurrency: 1,
		TestingT:    t,
	}
	if testing.Verbose() {
		opts.Format = "pretty"
	}

	dir := os.Getenv("GODOG_REPORT_DIR")
	if dir == "" {
		return opts, func() {}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Logf("junit report disabled: %v", err)
		return opts, func() {}
	}
	f, err := os.Create(filepath.Join(dir, strings.ReplaceAll(t.Name(), "/", "-")+".xml"))
	if err != nil {
		t.Logf("junit report disabled: %v", err)
		return opts, func() {}
	}
	opts.Output = f
	opts.Format = "junit"
	return opts, func() { _ = f.Close() }
}
