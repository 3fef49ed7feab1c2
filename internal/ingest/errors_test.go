package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"canceled sentinel", ErrCanceled, ErrorKindCanceled},
		{"context canceled", fmt.Errorf("colly: %w", context.Canceled), ErrorKindCanceled},
		{"deadline is a timeout", fmt.Errorf("fetch: %w", context.DeadlineExceeded), ErrorKindNetwork},
		{"invalid url", fmt.Errorf("%w: missing host", ErrInvalidURL), ErrorKindInvalidRequest},
		{"status", &StatusError{URL: "https://example.test", StatusCode: http.StatusNotFound}, ErrorKindHTTPStatus},
		{"store", fmt.Errorf("%w: disk full", ErrStore), ErrorKindIO},
		{"unknown", errors.New("connection reset"), ErrorKindNetwork},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestStatusErrorMessage(t *testing.T) {
	t.Parallel()

	err := &StatusError{URL: "https://example.test/a.png", StatusCode: http.StatusTeapot}
	assert.Equal(t, "https://example.test/a.png: 418 I'm a teapot", err.Error())
	assert.ErrorIs(t, fmt.Errorf("wrapped: %w", err), ErrStatus)
}
