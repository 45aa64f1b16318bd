// source_test.go: Tests for shell evaluation of configuration files
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package shellparser

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := os.Stat(DefaultShell); err != nil {
		t.Skipf("%s not available: %v", DefaultShell, err)
	}
}

func writeConf(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hwclock")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestEvaluateExpansions(t *testing.T) {
	requireShell(t)
	path := writeConf(t, `# hwclock
base=/dev
clock="local"
rtc="${base}/rtc0"
echo "noise on stdout"
`)

	values, err := NewEvaluator("").Evaluate(context.Background(), path,
		"${clock}", "${rtc}", "${missing:-fallback}", "${missing}")
	require.NoError(t, err)
	require.Len(t, values, 4)
	assert.Equal(t, Value{Text: "local", Set: true}, values[0])
	assert.Equal(t, Value{Text: "/dev/rtc0", Set: true}, values[1])
	assert.Equal(t, Value{Text: "fallback", Set: true}, values[2])
	assert.Equal(t, Value{Text: "", Set: true}, values[3])
}

func TestEvaluateLastAssignmentWins(t *testing.T) {
	requireShell(t)
	path := writeConf(t, "clock=UTC\nclock=local\n")

	v, err := NewEvaluator("").EvaluateOne(context.Background(), path, "${clock}")
	require.NoError(t, err)
	assert.Equal(t, "local", v.Text)
}

func TestEvaluateMissingFileIsUnset(t *testing.T) {
	values, err := NewEvaluator("").Evaluate(context.Background(),
		filepath.Join(t.TempDir(), "absent"), "${clock}", "${rtc}")
	require.NoError(t, err)
	assert.Equal(t, []Value{{}, {}}, values)
}

func TestEvaluateShellFailure(t *testing.T) {
	requireShell(t)
	path := writeConf(t, "echo broken >&2\nexit 3\n")

	_, err := NewEvaluator("").Evaluate(context.Background(), path, "${clock}")
	require.Error(t, err)
	assert.Equal(t, ErrCodeEval, Code(err))
}

func TestEvaluateShellNotFound(t *testing.T) {
	path := writeConf(t, "clock=UTC\n")

	_, err := NewEvaluator("/nonexistent/sh").Evaluate(context.Background(), path, "${clock}")
	require.Error(t, err)
	assert.Equal(t, ErrCodeEval, Code(err))
}

func TestEvaluateRejectsMultilineExpression(t *testing.T) {
	path := writeConf(t, "clock=UTC\n")
	_, err := NewEvaluator("").Evaluate(context.Background(), path, "${clock}\nrm -rf /")
	require.Error(t, err)
	assert.Equal(t, ErrCodeEval, Code(err))
}
