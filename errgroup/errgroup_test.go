package errgroup

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroup_AllSucceed(t *testing.T) {
	grp, _ := WithContext(context.Background())

	var count atomic.Int32

	for n := 0; n < 3; n++ {
		grp.Go(func() error {
			count.Add(1)
			return nil
		})
	}

	require.NoError(t, grp.Wait())
	assert.Equal(t, int32(3), count.Load())
}

func TestGroup_FirstErrorWinsAndCancels(t *testing.T) {
	grp, ctx := WithContext(context.Background())

	boom := errors.New("boom")

	grp.Go(func() error { return boom })
	grp.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})

	assert.ErrorIs(t, grp.Wait(), boom)
}

func TestGroup_PanicBecomesError(t *testing.T) {
	grp, _ := WithContext(context.Background())

	grp.Go(func() error { panic("exploded") })

	err := grp.Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPanicRecovered)
	assert.Contains(t, err.Error(), "exploded")
}

func TestGroup_WaitContext_TimesOut(t *testing.T) {
	grp, groupCtx := WithContext(context.Background())

	release := make(chan struct{})

	grp.Go(func() error {
		select {
		case <-release:
		case <-groupCtx.Done():
		}

		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := grp.WaitContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestGroup_WaitContext_CompletesInTime(t *testing.T) {
	grp, _ := WithContext(context.Background())

	grp.Go(func() error { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NoError(t, grp.WaitContext(ctx))
}
