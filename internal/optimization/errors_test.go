package optimization

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"message only", NewError("boom"), "boom"},
		{"with op", NewError("boom").WithOperation("Inference.Update"), "Inference.Update: boom"},
		{"with component and op", NewError("boom").WithOperation("Update").WithComponent("laplace"), "laplace: Update: boom"},
		{"wrapped", WrapError(errors.New("inner"), "outer"), "outer: inner"},
		{"wrapped without message", WrapError(errors.New("inner"), ""), "inner"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}

	var nilErr *Error
	assert.Equal(t, "<nil>", nilErr.Error())
	assert.Nil(t, nilErr.Unwrap())
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, WrapError(nil, "ignored"))
	assert.Nil(t, WrapErrorf(nil, "ignored %d", 1))
}

func TestDimensionError(t *testing.T) {
	err := DimensionError("Inference.Update", "labels", 3, 4)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	assert.Contains(t, err.Error(), "labels has length 3, want 4")

	wrapped := fmt.Errorf("request: %w", err)
	got, ok := IsOptimizationError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "Inference.Update", got.Op)

	_, ok = IsOptimizationError(errors.New("plain"))
	assert.False(t, ok)
}
