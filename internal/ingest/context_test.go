package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type valueKey struct{}

func TestDetach(t *testing.T) {
	t.Parallel()

	parent, cancel := context.WithCancel(context.WithValue(context.Background(), valueKey{}, "v"))
	detached := Detach(parent)
	cancel()

	assert.NoError(t, detached.Err())
	assert.Nil(t, detached.Done())
	assert.Equal(t, "v", detached.Value(valueKey{}))
	assert.ErrorIs(t, IssueContext(detached).Err(), context.Canceled)
}

func TestIssueContextWithoutDetach(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assert.Equal(t, ctx, IssueContext(ctx))
}
