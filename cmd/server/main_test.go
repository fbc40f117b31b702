package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pipewatch/pipewatch/internal/cli"
)

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()

	// The "-h" (help) flag should cause cli.Parse to return `shouldExit=true`.
	out := &bytes.Buffer{}
	err := run(context.Background(), out, []string{"-h"})
	require.NoError(t, err, "run() should return a nil error when shouldExit is true")
	require.Contains(t, out.String(), "Usage:", "Expected help text to be printed to the output buffer")
}

func TestRun_BadFlags(t *testing.T) {
	t.Parallel()

	err := run(context.Background(), &bytes.Buffer{}, []string{"-workers", "0"})
	var exitErr *cli.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 2, exitErr.Code)
}
