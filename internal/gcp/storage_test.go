package gcp

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestParseGCSURI(t *testing.T) {
	bucket, object, err := ParseGCSURI("gs://slides/runs/abc/checkpoint.json")
	require.NoError(t, err)
	assert.Equal(t, "slides", bucket)
	assert.Equal(t, "runs/abc/checkpoint.json", object)
	assert.Equal(t, "gs://slides/runs/abc/checkpoint.json", GCSURI(bucket, object))

	for _, bad := range []string{"", "slides/a.json", "gs://", "gs://slides", "gs:///a.json", "https://slides/a.json"} {
		_, _, err := ParseGCSURI(bad)
		assert.Error(t, err, bad)
	}
}

func TestIsPreconditionFailed(t *testing.T) {
	conflict := &googleapi.Error{Code: http.StatusPreconditionFailed}
	assert.True(t, isPreconditionFailed(conflict))
	assert.True(t, isPreconditionFailed(fmt.Errorf("finalize: %w", conflict)))
	assert.False(t, isPreconditionFailed(&googleapi.Error{Code: http.StatusNotFound}))
	assert.False(t, isPreconditionFailed(errors.New("412")))
}

type closeResult struct{ err error }

func (c closeResult) Close() error { return c.err }

func TestCloseWriteOnce(t *testing.T) {
	assert.NoError(t, closeWriteOnce(closeResult{}, "runs/r/a_slides/slide_001.png"))

	exists := &googleapi.Error{Code: http.StatusPreconditionFailed}
	assert.NoError(t, closeWriteOnce(closeResult{err: exists}, "runs/r/a_slides/slide_001.png"))

	err := closeWriteOnce(closeResult{err: &googleapi.Error{Code: http.StatusServiceUnavailable}}, "runs/r/a_slides/slide_001.png")
	require.Error(t, err)
	assert.ErrorContains(t, err, "finalize upload")
}

func TestOutcomeDocID(t *testing.T) {
	id := OutcomeDocID("deck_d0/inner_d1#0003")
	assert.Len(t, id, 32)
	assert.NotContains(t, id, "/")
	assert.Equal(t, id, OutcomeDocID("deck_d0/inner_d1#0003"))
	assert.NotEqual(t, id, OutcomeDocID("deck_d0/inner_d1#0004"))
}
