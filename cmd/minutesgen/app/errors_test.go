package app

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mtokuhisa/minutesgen/pkg/intake"
	"github.com/mtokuhisa/minutesgen/pkg/segmentstore"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
	}{
		{"session unknown", intake.ErrSessionUnknown, "IntakeSessionUnknown"},
		{"chunk out of range", intake.ErrChunkOutOfRange, "ChunkOutOfRange"},
		{"chunk duplicate", segmentstore.ErrChunkDuplicate, "ChunkDuplicate"},
		{"size exceeded", segmentstore.ErrSizeExceeded, "SizeExceeded"},
		{"incomplete upload", segmentstore.ErrIncompleteUpload, "IncompleteUpload"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ae := classify(c.err)
			require.Equal(t, c.code, ae.Code)
		})
	}
}

func TestHTTPStatusForCode(t *testing.T) {
	require.Equal(t, http.StatusNotFound, httpStatusForCode("IntakeSessionUnknown"))
	require.Equal(t, http.StatusConflict, httpStatusForCode("ChunkDuplicate"))
	require.Equal(t, http.StatusUnprocessableEntity, httpStatusForCode("SizeExceeded"))
	require.Equal(t, http.StatusInternalServerError, httpStatusForCode("Internal"))
	require.Equal(t, http.StatusInternalServerError, httpStatusForCode("something-unmapped"))
}

func TestToHumaErrNilIsNil(t *testing.T) {
	require.NoError(t, toHumaErr(nil))
}
