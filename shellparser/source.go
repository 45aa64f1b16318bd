// source.go: Shell-semantics reader
//
// Evaluator answers "what would the shell see" by sourcing the file in a
// real POSIX shell and printing the requested expressions. It never writes
// to the file.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package shellparser

import (
	"bytes"
	"context"
	goerrors "errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/agilira/go-errors"
)

// DefaultShell is the interpreter used when Evaluator.Shell is empty.
const DefaultShell = "/bin/sh"

// defaultEnv is the environment handed to the shell.
var defaultEnv = []string{"PATH=/usr/sbin:/usr/bin:/sbin:/bin", "LC_ALL=C"}

// Value is the result of one evaluated expression. Set is false when the
// file did not exist.
type Value struct {
	Text string
	Set  bool
}

// Evaluator runs shell expansions against a sourced file.
type Evaluator struct {
	Shell string
	Env   []string
}

// NewEvaluator returns an evaluator for shell, or DefaultShell if empty.
func NewEvaluator(shell string) *Evaluator {
	return &Evaluator{Shell: shell}
}

// Evaluate sources path and returns the value of each expression, such as
// "${clock}" or "${rtc:-/dev/rtc}". A missing file yields unset values.
func (ev *Evaluator) Evaluate(ctx context.Context, path string, exprs ...string) ([]Value, error) {
	values := make([]Value, len(exprs))
	if len(exprs) == 0 {
		return values, nil
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return values, nil
		}
		return nil, errors.Wrap(err, ErrCodeIO, "failed to stat configuration file").
			WithContext("path", path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIO, "invalid configuration path").
			WithContext("path", path)
	}

	script, err := buildScript(exprs)
	if err != nil {
		return nil, err
	}

	shell := ev.Shell
	if shell == "" {
		shell = DefaultShell
	}
	env := ev.Env
	if env == nil {
		env = defaultEnv
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, shell, "-c", script, "timedated-eval", abs)
	cmd.Env = env
	cmd.Stdin = nil
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if goerrors.As(err, &exitErr) {
			return nil, errors.Wrap(err, ErrCodeEval, "shell exited with an error").
				WithContext("path", path).
				WithContext("exit_code", exitErr.ExitCode()).
				WithContext("stderr", strings.TrimSpace(stderr.String()))
		}
		return nil, errors.Wrap(err, ErrCodeEval, "failed to run shell").
			WithContext("shell", shell)
	}

	fields := strings.Split(stdout.String(), "\x00")
	if len(fields) != len(exprs)+1 || fields[len(exprs)] != "" {
		return nil, errors.New(ErrCodeEval, "unexpected shell output").
			WithContext("path", path).
			WithContext("expected", len(exprs)).
			WithContext("stderr", strings.TrimSpace(stderr.String()))
	}
	for i := range exprs {
		values[i] = Value{Text: fields[i], Set: true}
	}
	return values, nil
}

// EvaluateOne is Evaluate for a single expression.
func (ev *Evaluator) EvaluateOne(ctx context.Context, path, expr string) (Value, error) {
	values, err := ev.Evaluate(ctx, path, expr)
	if err != nil {
		return Value{}, err
	}
	return values[0], nil
}

// buildScript sources "$1" with its output discarded, then prints each
// expression NUL-terminated. Expressions are placed inside double quotes
// so they expand exactly as they would in the sourced file.
func buildScript(exprs []string) (string, error) {
	var b strings.Builder
	b.WriteString(". \"$1\" >/dev/null || exit $?\nprintf '%s\\000'")
	for _, expr := range exprs {
		if strings.ContainsAny(expr, "\x00\n") {
			return "", errors.New(ErrCodeEval, "expression contains a control character").
				WithContext("expression", expr)
		}
		b.WriteString(" \"")
		b.WriteString(expr)
		b.WriteString("\"")
	}
	b.WriteString("\n")
	return b.String(), nil
}
