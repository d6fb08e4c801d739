package flowerrors

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndError(t *testing.T) {
	err := New(ErrorTypeValidation, "bad parameter")
	assert.Equal(t, "validation: bad parameter", err.Error())
	assert.NotEmpty(t, err.Stack)
}

func TestNewf(t *testing.T) {
	err := Newf(ErrorTypeConfig, "workers must be <= %d", 8)
	assert.Equal(t, "config: workers must be <= 8", err.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := os.ErrNotExist
	err := Wrap(cause, ErrorTypeFile, "open input")

	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "file: open input")
}

func TestWrapNilIsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeFile, "ignored"))
}

func TestWrapPreservesOriginalStack(t *testing.T) {
	inner := New(ErrorTypeData, "bad record")
	outer := Wrap(inner, ErrorTypeFile, "chunk failed")

	assert.Equal(t, inner.Stack, outer.Stack)
	assert.ErrorIs(t, outer, inner)
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypeFile, "open failed").
		WithDetail("path", "/data/in.bin").
		WithDetail("attempt", 2)

	assert.Equal(t, "/data/in.bin", err.Details["path"])
	assert.Equal(t, 2, err.Details["attempt"])
}

func TestIsType(t *testing.T) {
	err := New(ErrorTypeTimeout, "budget expired")
	assert.True(t, IsType(err, ErrorTypeTimeout))
	assert.False(t, IsType(err, ErrorTypeData))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, IsType(wrapped, ErrorTypeTimeout))

	assert.False(t, IsType(errors.New("plain"), ErrorTypeTimeout))
	assert.False(t, IsType(nil, ErrorTypeTimeout))
}

func TestIsFatal(t *testing.T) {
	assert.False(t, IsFatal(New(ErrorTypeData, "bad record")))
	assert.True(t, IsFatal(New(ErrorTypeFile, "disk full")))
	assert.True(t, IsFatal(New(ErrorTypeTimeout, "expired")))
	assert.True(t, IsFatal(errors.New("unclassified")))
}

func TestSentinelsSurviveWrapping(t *testing.T) {
	err := Wrap(ErrEmptySample, ErrorTypeAnalytics, "no data rows")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptySample)
	assert.True(t, IsType(err, ErrorTypeAnalytics))

	err = Wrap(ErrSourceUnavailable, ErrorTypeAnalytics, "table missing")
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}
