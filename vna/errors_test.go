package vna

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	require := require.New(t)

	tests := []struct {
		err  error
		kind Kind
		code Code
	}{
		{ErrWrongState, KindState, CodeWrongState},
		{ErrMissingFreqs, KindConfigMissing, CodeMissingFreqs},
		{ErrBadPath, KindConfigInvalid, CodeBadPath},
		{ErrTooManyPoints, KindFrequencyRange, CodeTooManyPoints},
		{ErrBadCal, KindCalibration, CodeBadCal},
		{ErrNoResponse, KindTransport, CodeNoResponse},
		{ErrInterrupted, KindCancelled, CodeInterrupted},
		{ErrBadHandle, KindHandle, CodeBadHandle},
	}

	for _, tt := range tests {
		wrapped := fmt.Errorf("measure: %w", tt.err)
		require.ErrorIs(wrapped, tt.err)
		require.Equal(tt.kind, KindOf(wrapped), tt.err.Error())
		require.Equal(tt.code, CodeOf(wrapped), tt.err.Error())
	}

	require.Equal(KindNone, KindOf(nil))
	require.Equal(KindNone, KindOf(errors.New("plain")))
	require.Equal(CodeOK, CodeOf(errors.New("plain")))
	require.Equal("transport", KindTransport.String())
}
