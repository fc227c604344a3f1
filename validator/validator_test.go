package validator_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tolelom/continuity/validator"
)

func TestSizeLimitRejectsEmpty(t *testing.T) {
	v := validator.NewSizeLimit(0)
	require.Error(t, v.Validate(nil))
}

func TestSizeLimitRejectsOversized(t *testing.T) {
	v := validator.NewSizeLimit(8)
	require.Error(t, v.Validate([]byte(`"012345678901234"`)))
}

func TestSizeLimitRejectsInvalidJSON(t *testing.T) {
	v := validator.NewSizeLimit(0)
	require.Error(t, v.Validate([]byte(`not json`)))
}

func TestSizeLimitAcceptsWithinBounds(t *testing.T) {
	v := validator.NewSizeLimit(0)
	require.NoError(t, v.Validate([]byte(`{"action":"transfer"}`)))
}

func TestDefaultMaxOperationBytesUsedWhenZero(t *testing.T) {
	v := validator.NewSizeLimit(0)
	require.Equal(t, validator.DefaultMaxOperationBytes, v.MaxBytes)

	big := `"` + strings.Repeat("a", validator.DefaultMaxOperationBytes+1) + `"`
	require.Error(t, v.Validate([]byte(big)))
}
