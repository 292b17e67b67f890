package model

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGeneratorProviders(t *testing.T) {
	g, err := NewGenerator(Config{Provider: "mock"})
	require.NoError(t, err)
	_, ok := g.(*StaticGenerator)
	assert.True(t, ok)

	g, err = NewGenerator(Config{})
	require.NoError(t, err)
	_, ok = g.(*StaticGenerator)
	assert.True(t, ok)

	_, err = NewGenerator(Config{Provider: "gpt2"})
	assert.Error(t, err)
}

func TestStaticGenerator(t *testing.T) {
	g := &StaticGenerator{}
	out, err := g.Generate(context.Background(), "", "", "hello")
	require.NoError(t, err)
	assert.Equal(t, "I hear you: hello", out)

	g.Reply = "fixed"
	out, err = g.Generate(context.Background(), "sys", "ctx", "hello")
	require.NoError(t, err)
	assert.Equal(t, "fixed", out)
}

func TestGenerationErrorUnwrap(t *testing.T) {
	inner := errors.New("deadline exceeded")
	err := fmt.Errorf("call failed: %w", &GenerationError{Op: "generate", Err: inner})

	assert.True(t, IsGenerationError(err))
	assert.ErrorIs(t, err, inner)
	assert.False(t, IsGenerationError(errors.New("other")))
}
