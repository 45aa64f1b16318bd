// Command handlers for the timedatectl client
//
// Daemon handlers encode one request per call on the control socket; config
// handlers edit shell-syntax files in place through shellparser.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/orpheus/pkg/orpheus"
	"github.com/agilira/timedated"
	clifmt "github.com/agilira/timedated/internal/cli"
	"github.com/agilira/timedated/shellparser"
	"github.com/agilira/timedated/transport"
)

// callTimeout bounds one daemon call, including an interactive
// authorization prompt.
const callTimeout = 2 * time.Minute

// call performs action on the socket named by the --socket flag.
func (m *Manager) call(ctx *orpheus.Context, action string, request, result any) error {
	callCtx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return transport.NewClient(ctx.GetFlagString("socket")).Call(callCtx, action, request, result)
}

// interactiveAuth reports whether the daemon may prompt for authorization.
func (m *Manager) interactiveAuth(ctx *orpheus.Context) bool {
	return !ctx.GetFlagBool("no-ask-password") && m.interactive()
}

func requireArg(ctx *orpheus.Context, index int, name string) (string, error) {
	value := ctx.GetArg(index)
	if value == "" {
		return "", errors.New(timedated.ErrCodeInvalidArgument, "missing argument: "+name)
	}
	return value, nil
}

// handleStatus prints the published time settings.
func (m *Manager) handleStatus(ctx *orpheus.Context) error {
	var props transport.Properties
	if err := m.call(ctx, transport.ActionProperties, nil, &props); err != nil {
		return err
	}

	loc, err := timedated.LoadLocation(m.fs, ctx.GetFlagString("zoneinfo-dir"), props.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return clifmt.FormatStatus(m.out, props, loc)
}

// handleSetTime sets an absolute time or applies a signed adjustment.
func (m *Manager) handleSetTime(ctx *orpheus.Context) error {
	arg, err := requireArg(ctx, 0, "time")
	if err != nil {
		return err
	}
	usec, relative, err := clifmt.ParseTimeArgument(arg, time.Local)
	if err != nil {
		return err
	}

	return m.call(ctx, transport.ActionSetTime, transport.SetTimeRequest{
		USecUTC:     usec,
		Relative:    relative,
		Interactive: m.interactiveAuth(ctx),
	}, nil)
}

// handleSetTimezone changes the system timezone.
func (m *Manager) handleSetTimezone(ctx *orpheus.Context) error {
	zone, err := requireArg(ctx, 0, "timezone")
	if err != nil {
		return err
	}
	return m.call(ctx, transport.ActionSetTimezone, transport.SetTimezoneRequest{
		Timezone:    zone,
		Interactive: m.interactiveAuth(ctx),
	}, nil)
}

// handleSetLocalRTC switches the hardware clock between local time and UTC.
func (m *Manager) handleSetLocalRTC(ctx *orpheus.Context) error {
	arg, err := requireArg(ctx, 0, "local-rtc")
	if err != nil {
		return err
	}
	local, err := clifmt.ParseBool(arg)
	if err != nil {
		return err
	}
	return m.call(ctx, transport.ActionSetLocalRTC, transport.SetLocalRTCRequest{
		LocalRTC:    local,
		FixSystem:   ctx.GetFlagBool("adjust-system-clock"),
		Interactive: m.interactiveAuth(ctx),
	}, nil)
}

// handleSetNTP enables or disables the NTP service.
func (m *Manager) handleSetNTP(ctx *orpheus.Context) error {
	arg, err := requireArg(ctx, 0, "ntp")
	if err != nil {
		return err
	}
	enabled, err := clifmt.ParseBool(arg)
	if err != nil {
		return err
	}
	return m.call(ctx, transport.ActionSetNTP, transport.SetNTPRequest{
		Enabled:     enabled,
		Interactive: m.interactiveAuth(ctx),
	}, nil)
}

// handleListTimezones prints zone identifiers from the local database.
func (m *Manager) handleListTimezones(ctx *orpheus.Context) error {
	zones, err := timedated.ListTimezones(m.fs, ctx.GetFlagString("zoneinfo-dir"))
	if err != nil {
		return err
	}
	prefix := ctx.GetFlagString("prefix")
	for _, zone := range zones {
		if strings.HasPrefix(zone, prefix) {
			fmt.Fprintln(m.out, zone)
		}
	}
	return nil
}

// loadShellFile parses the file named by the first argument.
func (m *Manager) loadShellFile(ctx *orpheus.Context) (*shellparser.Parser, error) {
	path, err := requireArg(ctx, 0, "file")
	if err != nil {
		return nil, err
	}
	return shellparser.Load(path, shellparser.WithFs(m.fs))
}

// handleConfigGet prints the literal value of the last assignment.
func (m *Manager) handleConfigGet(ctx *orpheus.Context) error {
	p, err := m.loadShellFile(ctx)
	if err != nil {
		return err
	}
	name, err := requireArg(ctx, 1, "name")
	if err != nil {
		return err
	}

	value, ok := p.Get(name)
	if !ok {
		return errors.New(timedated.ErrCodeInvalidArgument, fmt.Sprintf("variable '%s' is not set", name)).
			WithContext("file", p.Path())
	}
	fmt.Fprintln(m.out, value)
	return nil
}

// handleConfigSet changes one variable and saves atomically. With --add a
// missing variable is appended, creating the file if needed.
func (m *Manager) handleConfigSet(ctx *orpheus.Context) error {
	path, err := requireArg(ctx, 0, "file")
	if err != nil {
		return err
	}
	name, err := requireArg(ctx, 1, "name")
	if err != nil {
		return err
	}
	value := ctx.GetArg(2)

	var old interface{}
	if ctx.GetFlagBool("add") {
		if p, loadErr := shellparser.Load(path, shellparser.WithFs(m.fs)); loadErr == nil {
			if v, ok := p.Get(name); ok {
				old = v
			}
		}
		if err := shellparser.SetAndSave(path, []shellparser.Update{{Name: name, Value: value}}, shellparser.WithFs(m.fs)); err != nil {
			return err
		}
	} else {
		if !shellparser.ValidName(name) {
			return errors.New(shellparser.ErrCodeInvalidName, "invalid variable name").
				WithContext("name", name)
		}
		p, err := shellparser.Load(path, shellparser.WithFs(m.fs))
		if err != nil {
			return err
		}
		current, ok := p.Get(name)
		if !ok {
			return errors.New(timedated.ErrCodeInvalidArgument,
				fmt.Sprintf("variable '%s' is not set; use --add to append it", name)).
				WithContext("file", path)
		}
		old = current
		if p.SetVariable(name, value, false) {
			if err := p.Save(); err != nil {
				return err
			}
		}
	}

	if m.auditLogger != nil {
		m.auditLogger.Log(timedated.AuditInfo, "cli_config_set", path, old, value, nil,
			map[string]interface{}{"name": name})
	}
	fmt.Fprintf(m.out, "Set %s=%s in %s\n", name, value, path)
	return nil
}

// handleConfigUnset removes every assignment to a variable.
func (m *Manager) handleConfigUnset(ctx *orpheus.Context) error {
	p, err := m.loadShellFile(ctx)
	if err != nil {
		return err
	}
	name, err := requireArg(ctx, 1, "name")
	if err != nil {
		return err
	}

	old, _ := p.Get(name)
	if !p.ClearVariable(name) {
		return errors.New(timedated.ErrCodeInvalidArgument, fmt.Sprintf("variable '%s' is not set", name)).
			WithContext("file", p.Path())
	}
	if err := p.Save(); err != nil {
		return err
	}

	if m.auditLogger != nil {
		m.auditLogger.Log(timedated.AuditInfo, "cli_config_unset", p.Path(), old, nil, nil,
			map[string]interface{}{"name": name})
	}
	fmt.Fprintf(m.out, "Removed %s from %s\n", name, p.Path())
	return nil
}

// handleConfigList prints name=value for each assigned variable.
func (m *Manager) handleConfigList(ctx *orpheus.Context) error {
	p, err := m.loadShellFile(ctx)
	if err != nil {
		return err
	}
	prefix := ctx.GetFlagString("prefix")

	for _, name := range p.Names() {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		value, _ := p.Get(name)
		fmt.Fprintf(m.out, "%s=%s\n", name, value)
	}
	return nil
}

// handleConfigEval sources the file in a shell and prints one expansion per
// line, such as ${clock} or ${rtc:-/dev/rtc}.
func (m *Manager) handleConfigEval(ctx *orpheus.Context) error {
	path, err := requireArg(ctx, 0, "file")
	if err != nil {
		return err
	}
	var exprs []string
	for i := 1; ctx.GetArg(i) != ""; i++ {
		exprs = append(exprs, ctx.GetArg(i))
	}
	if len(exprs) == 0 {
		return errors.New(timedated.ErrCodeInvalidArgument, "missing argument: expression")
	}

	evalCtx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	values, err := shellparser.NewEvaluator(m.shell).Evaluate(evalCtx, path, exprs...)
	if err != nil {
		return err
	}
	for _, v := range values {
		fmt.Fprintln(m.out, v.Text)
	}
	return nil
}
