package gather_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rhplus0831/risugit/internal/gather"
	"github.com/stretchr/testify/require"
)

func TestMapKeepsOrder(t *testing.T) {
	in := []int{5, 3, 8, 1, 9, 2}
	out, err := gather.Map(context.Background(), 2, in, func(_ context.Context, v int) (int, error) {
		return v * 10, nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{50, 30, 80, 10, 90, 20}, out)
}

func TestEachPropagatesFirstError(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32
	err := gather.Each(context.Background(), 0, []string{"a", "b", "c"}, func(_ context.Context, _ int, s string) error {
		calls.Add(1)
		if s == "b" {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, int32(3), calls.Load())
}

func TestEachEmpty(t *testing.T) {
	out, err := gather.Map(context.Background(), 4, []int(nil), func(_ context.Context, v int) (int, error) {
		return v, nil
	})
	require.NoError(t, err)
	require.Empty(t, out)
}
