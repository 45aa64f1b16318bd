// Package cli provides the timedatectl command-line client.
//
// Daemon commands talk to timedated over its control socket:
//
//	timedatectl status
//	timedatectl set-time "2025-03-01 12:00:00"
//	timedatectl set-time +90s
//	timedatectl set-timezone Europe/Rome
//	timedatectl set-local-rtc 1 --adjust-system-clock
//	timedatectl set-ntp yes
//
// Every daemon command accepts --socket and --no-ask-password. The config
// command group edits shell-syntax files such as /etc/conf.d/hwclock
// directly, without the daemon.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"io"
	"os"

	"github.com/agilira/orpheus/pkg/orpheus"
	"github.com/agilira/timedated"
	"github.com/agilira/timedated/shellparser"
	"github.com/spf13/afero"
	"golang.org/x/term"
)

// Version is reported by --version.
const Version = "1.0.0"

// Manager wires the timedatectl commands onto an Orpheus app.
type Manager struct {
	app         *orpheus.App
	out         io.Writer
	fs          afero.Fs
	shell       string
	interactive func() bool
	auditLogger *timedated.AuditLogger // Optional audit of offline config edits
}

// NewManager creates the CLI with all commands registered.
func NewManager() *Manager {
	app := orpheus.New("timedatectl").
		SetDescription("Query and change the system clock and its settings").
		SetVersion(Version)

	manager := &Manager{
		app:         app,
		out:         os.Stdout,
		fs:          afero.NewOsFs(),
		shell:       shellparser.DefaultShell,
		interactive: stdinIsTerminal,
	}

	manager.setupTimedateCommands()
	manager.setupConfigCommands()

	return manager
}

// WithAudit records config set and unset edits in auditLogger.
func (m *Manager) WithAudit(auditLogger *timedated.AuditLogger) *Manager {
	m.auditLogger = auditLogger
	return m
}

// WithOutput redirects command output, which defaults to stdout.
func (m *Manager) WithOutput(w io.Writer) *Manager {
	m.out = w
	return m
}

// Run executes the command named by args.
func (m *Manager) Run(args []string) error {
	return m.app.Run(args)
}

// stdinIsTerminal decides whether the daemon may prompt for authorization.
func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) // #nosec G115 -- file descriptors fit in int
}

// addDaemonFlags adds the flags shared by every command that calls the daemon.
func addDaemonFlags(cmd *orpheus.Command) *orpheus.Command {
	cmd.AddFlag("socket", "s", timedated.DefaultSocketPath, "Daemon control socket")
	cmd.AddBoolFlag("no-ask-password", "", false, "Do not let the daemon prompt for authorization")
	return cmd
}

// setupTimedateCommands registers the commands served by the daemon.
func (m *Manager) setupTimedateCommands() {
	statusCmd := orpheus.NewCommand("status", "Show the current time settings").
		AddFlag("zoneinfo-dir", "", timedated.DefaultZoneinfoDir, "Timezone database used to render local time").
		SetHandler(m.handleStatus)
	m.app.AddCommand(addDaemonFlags(statusCmd))

	// set-time <RFC3339 | "YYYY-MM-DD HH:MM[:SS]" | +/-duration>
	setTimeCmd := orpheus.NewCommand("set-time", "Set the system clock").
		SetHandler(m.handleSetTime)
	m.app.AddCommand(addDaemonFlags(setTimeCmd))

	// set-timezone <zone>
	setTimezoneCmd := orpheus.NewCommand("set-timezone", "Set the system timezone").
		SetHandler(m.handleSetTimezone)
	m.app.AddCommand(addDaemonFlags(setTimezoneCmd))

	// set-local-rtc <bool> [--adjust-system-clock]
	setLocalRTCCmd := orpheus.NewCommand("set-local-rtc", "Keep the hardware clock in local time or UTC").
		SetHandler(m.handleSetLocalRTC)
	setLocalRTCCmd.AddBoolFlag("adjust-system-clock", "a", false, "Set the system clock from the hardware clock")
	m.app.AddCommand(addDaemonFlags(setLocalRTCCmd))

	// set-ntp <bool>
	setNTPCmd := orpheus.NewCommand("set-ntp", "Enable or disable network time synchronization").
		SetHandler(m.handleSetNTP)
	m.app.AddCommand(addDaemonFlags(setNTPCmd))

	// list-timezones [--prefix=Europe/]
	listCmd := orpheus.NewCommand("list-timezones", "List known timezones").
		AddFlag("prefix", "p", "", "Only list zones starting with prefix").
		AddFlag("zoneinfo-dir", "", timedated.DefaultZoneinfoDir, "Timezone database directory").
		SetHandler(m.handleListTimezones)
	m.app.AddCommand(listCmd)
}

// setupConfigCommands registers offline edits of shell-syntax files.
func (m *Manager) setupConfigCommands() {
	configCmd := orpheus.NewCommand("config", "Shell-syntax configuration file operations")

	// config get <file> <name>
	configCmd.Subcommand("get", "Print the value assigned to a variable", m.handleConfigGet)

	// config set <file> <name> <value> [--add]
	setCmd := configCmd.Subcommand("set", "Change a variable, keeping comments and layout", m.handleConfigSet)
	setCmd.AddBoolFlag("add", "a", false, "Append the assignment if the variable is not set")

	// config unset <file> <name>
	configCmd.Subcommand("unset", "Remove every assignment to a variable", m.handleConfigUnset)

	// config list <file> [--prefix=]
	listCmd := configCmd.Subcommand("list", "List assigned variables", m.handleConfigList)
	listCmd.AddFlag("prefix", "p", "", "Variable name prefix filter")

	// config eval <file> <expr>...
	configCmd.Subcommand("eval", "Source the file in a shell and expand expressions", m.handleConfigEval)

	m.app.AddCommand(configCmd)
}
