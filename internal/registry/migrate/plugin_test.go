package migrate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	name string
	log  *[]string
	err  error
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Migrate(context.Context) error {
	*r.log = append(*r.log, r.name)
	return r.err
}

func TestRunAllOrdersAndStops(t *testing.T) {
	saved := plugins
	t.Cleanup(func() { plugins = saved })
	plugins = nil

	var ran []string
	Register(Plugin{Order: 20, Migrator: &recorder{name: "second", log: &ran, err: errors.New("boom")}})
	Register(Plugin{Order: 10, Migrator: &recorder{name: "first", log: &ran}})
	Register(Plugin{Order: 30, Migrator: &recorder{name: "third", log: &ran}})

	require.Equal(t, []string{"first", "second", "third"}, Names())
	err := RunAll(context.Background())
	require.ErrorContains(t, err, "migration second failed")
	require.Equal(t, []string{"first", "second"}, ran)
}
