// authorizer_test.go: Tests for caller authorization
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package timedated

import (
	"context"
	goerrors "errors"
	"strings"
	"testing"

	"github.com/agilira/go-errors"
)

func decide(t *testing.T, a Authorizer, ctx context.Context, s Subject, action string) Decision {
	t.Helper()
	ch := a.Authorize(ctx, s, action, false)
	d, ok := <-ch
	if !ok {
		t.Fatal("authorizer closed its channel without a decision")
	}
	return d
}

func TestPolicyAuthorizer(t *testing.T) {
	p := NewPolicyAuthorizer(map[string]AuthorizationRule{
		ActionSetTimezone: {UIDs: []uint32{1000}},
		"*":               {GIDs: []uint32{10}},
	})
	ctx := context.Background()

	tests := []struct {
		name    string
		subject Subject
		action  string
		allowed bool
	}{
		{"root", Subject{UID: 0, GID: 0}, ActionSetNTP, true},
		{"listed uid", Subject{UID: 1000, GID: 100}, ActionSetTimezone, true},
		{"uid on other action", Subject{UID: 1000, GID: 100}, ActionSetTime, false},
		{"wildcard gid", Subject{UID: 1001, GID: 10}, ActionSetLocalRTC, true},
		{"stranger", Subject{UID: 65534, GID: 65534}, ActionSetTime, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := decide(t, p, ctx, tt.subject, tt.action)
			if d.Allowed != tt.allowed {
				t.Errorf("Allowed = %v, want %v", d.Allowed, tt.allowed)
			}
			if !d.Allowed && !strings.Contains(d.Reason, tt.action) {
				t.Errorf("Reason %q should name the action", d.Reason)
			}
		})
	}
}

func TestPolicyAuthorizerCopiesRules(t *testing.T) {
	rules := map[string]AuthorizationRule{ActionSetTime: {UIDs: []uint32{1000}}}
	p := NewPolicyAuthorizer(rules)
	delete(rules, ActionSetTime)

	if d := decide(t, p, context.Background(), Subject{UID: 1000}, ActionSetTime); !d.Allowed {
		t.Error("later edits to the rule map should not affect the authorizer")
	}
}

func TestPolicyAuthorizerCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := decide(t, NewPolicyAuthorizer(nil), ctx, Subject{UID: 0}, ActionSetTime)
	if d.Allowed || !goerrors.Is(d.Err, context.Canceled) {
		t.Errorf("decision = %+v, want context error", d)
	}
}

func TestAllowAll(t *testing.T) {
	if d := decide(t, AllowAll, context.Background(), Subject{UID: 4242}, ActionSetNTP); !d.Allowed {
		t.Error("AllowAll denied a request")
	}
}

func TestSubjectString(t *testing.T) {
	s := Subject{UID: 1000, GID: 100, PID: 42}
	if got := s.String(); got != "uid=1000 gid=100 pid=42" {
		t.Errorf("String() = %q", got)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		err         error
		unsupported bool
		auth        bool
	}{
		{errors.New(ErrCodeReadOnly, "ro"), true, false},
		{errors.New(ErrCodeNoNTPService, "none"), true, false},
		{errors.New(ErrCodeUnsupported, "no symlinks"), true, false},
		{errors.New(ErrCodeAuthorizationDenied, "no"), false, true},
		{errors.Wrap(goerrors.New("x"), ErrCodeAuthorizationFailed, "broken"), false, true},
		{errors.New(ErrCodeIO, "disk"), false, false},
		{goerrors.New("plain"), false, false},
		{nil, false, false},
	}
	for _, tt := range tests {
		if got := IsUnsupported(tt.err); got != tt.unsupported {
			t.Errorf("IsUnsupported(%v) = %v", tt.err, got)
		}
		if got := IsAuthorizationError(tt.err); got != tt.auth {
			t.Errorf("IsAuthorizationError(%v) = %v", tt.err, got)
		}
	}
	if Code(goerrors.New("plain")) != "" {
		t.Error("plain errors have no code")
	}
}
