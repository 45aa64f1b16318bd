// authorizer.go: Caller authorization
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package timedated

import (
	"context"
	"fmt"
	"slices"
)

// Action names checked by the authorizer
const (
	ActionSetTime     = "org.freedesktop.timedate1.set-time"
	ActionSetTimezone = "org.freedesktop.timedate1.set-timezone"
	ActionSetLocalRTC = "org.freedesktop.timedate1.set-local-rtc"
	ActionSetNTP      = "org.freedesktop.timedate1.set-ntp"
)

func isKnownAction(action string) bool {
	switch action {
	case ActionSetTime, ActionSetTimezone, ActionSetLocalRTC, ActionSetNTP:
		return true
	}
	return false
}

// Subject identifies the caller of a request.
type Subject struct {
	UID uint32
	GID uint32
	PID int32
}

func (s Subject) String() string {
	return fmt.Sprintf("uid=%d gid=%d pid=%d", s.UID, s.GID, s.PID)
}

// Decision is the outcome of an authorization check. Err is set when the
// check itself could not be completed.
type Decision struct {
	Allowed bool
	Reason  string
	Err     error
}

// Authorizer answers asynchronously whether subject may perform action. The
// returned channel delivers exactly one Decision.
type Authorizer interface {
	Authorize(ctx context.Context, subject Subject, action string, interactive bool) <-chan Decision
}

// AuthorizerFunc adapts a synchronous check to Authorizer.
type AuthorizerFunc func(ctx context.Context, subject Subject, action string, interactive bool) Decision

// Authorize runs f in its own goroutine.
func (f AuthorizerFunc) Authorize(ctx context.Context, subject Subject, action string, interactive bool) <-chan Decision {
	ch := make(chan Decision, 1)
	go func() {
		ch <- f(ctx, subject, action, interactive)
	}()
	return ch
}

// PolicyAuthorizer allows root, plus the users and groups listed for an
// action or for "*".
type PolicyAuthorizer struct {
	rules map[string]AuthorizationRule
}

// NewPolicyAuthorizer returns an authorizer over rules keyed by action name.
func NewPolicyAuthorizer(rules map[string]AuthorizationRule) *PolicyAuthorizer {
	copied := make(map[string]AuthorizationRule, len(rules))
	for action, rule := range rules {
		copied[action] = rule
	}
	return &PolicyAuthorizer{rules: copied}
}

// Authorize implements Authorizer.
func (p *PolicyAuthorizer) Authorize(ctx context.Context, subject Subject, action string, interactive bool) <-chan Decision {
	return AuthorizerFunc(p.check).Authorize(ctx, subject, action, interactive)
}

func (p *PolicyAuthorizer) check(ctx context.Context, subject Subject, action string, _ bool) Decision {
	if err := ctx.Err(); err != nil {
		return Decision{Err: err}
	}
	if subject.UID == 0 {
		return Decision{Allowed: true}
	}
	for _, key := range []string{action, "*"} {
		rule, ok := p.rules[key]
		if !ok {
			continue
		}
		if slices.Contains(rule.UIDs, subject.UID) || slices.Contains(rule.GIDs, subject.GID) {
			return Decision{Allowed: true}
		}
	}
	return Decision{Reason: fmt.Sprintf("%s is not allowed to perform %s", subject, action)}
}

// AllowAll permits every request.
var AllowAll Authorizer = AuthorizerFunc(func(context.Context, Subject, string, bool) Decision {
	return Decision{Allowed: true}
})
