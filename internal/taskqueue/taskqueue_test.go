package taskqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubmitRunsAndCompletes(t *testing.T) {
	q := New(2)
	q.Register("echo", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return args[0], nil
	})

	id, skipped, err := q.Submit(context.Background(), "echo", []any{"hi"}, nil)
	require.NoError(t, err)
	require.False(t, skipped)

	require.Eventually(t, func() bool {
		r, ok := q.Result(id)
		return ok && r.Status == StatusSuccess
	}, time.Second, time.Millisecond)
}

func TestDuplicateIdentityIsSkipped(t *testing.T) {
	q := New(2)
	release := make(chan struct{})
	var once sync.Once
	q.Register("slow", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		<-release
		return nil, nil
	})

	id1, skipped1, err := q.Submit(context.Background(), "slow", []any{"A"}, nil)
	require.NoError(t, err)
	require.False(t, skipped1)

	id2, skipped2, err := q.Submit(context.Background(), "slow", []any{"A"}, nil)
	require.NoError(t, err)
	require.True(t, skipped2)
	require.Equal(t, id1, id2)

	once.Do(func() { close(release) })
}

func TestDifferentArgsAreNotDeduped(t *testing.T) {
	q := New(2)
	release := make(chan struct{})
	q.Register("slow", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		<-release
		return nil, nil
	})

	_, skipped1, err := q.Submit(context.Background(), "slow", []any{"A"}, nil)
	require.NoError(t, err)
	require.False(t, skipped1)

	_, skipped2, err := q.Submit(context.Background(), "slow", []any{"B"}, nil)
	require.NoError(t, err)
	require.False(t, skipped2)

	close(release)
}

// TestSubmitSurvivesSubmitterCancellation covers the HTTP-handler case:
// the caller's ctx (e.g. r.Context()) is canceled the instant Submit
// returns, but the dispatched handler must still run to completion so
// that a later GET /task/{id} observes success rather than ctx.Err().
func TestSubmitSurvivesSubmitterCancellation(t *testing.T) {
	q := New(2)
	started := make(chan struct{})
	q.Register("detached", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		close(started)
		<-time.After(50 * time.Millisecond)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return "done", nil
	})

	submitCtx, cancel := context.WithCancel(context.Background())
	id, skipped, err := q.Submit(submitCtx, "detached", []any{"A"}, nil)
	require.NoError(t, err)
	require.False(t, skipped)

	<-started
	cancel() // simulate ServeHTTP returning and net/http canceling r.Context()

	require.Eventually(t, func() bool {
		r, ok := q.Result(id)
		return ok && r.Status == StatusSuccess
	}, time.Second, time.Millisecond, "handler must not observe submitter cancellation")
}
