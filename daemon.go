// daemon.go: Time-state coordinator
//
// Daemon owns the published time state: the timezone identifier, whether
// the hardware clock runs in local time, and whether NTP is enabled. The
// timezone and RTC mode are guarded by the clock domain, NTP by the ntp
// domain, so operations on one never wait for the other.
//
// Every mutating request follows the same two phases. The first runs
// unlocked: read-only check, argument validation and the asynchronous
// authorization check. The second holds the domain lock for the whole
// mutation and publish sequence and re-reads state after acquiring it.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package timedated

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/timedated/internal/hwclock"
	"github.com/agilira/timedated/internal/services"
	"github.com/agilira/timedated/shellparser"
	"github.com/spf13/afero"
)

// ShellReader evaluates shell expressions against a sourced file.
type ShellReader interface {
	Evaluate(ctx context.Context, path string, exprs ...string) ([]shellparser.Value, error)
}

// Options carries the daemon's collaborators. Nil fields get defaults: the
// OS filesystem, a real shell, a PolicyAuthorizer over Config.Authorization,
// OpenRC services, the system clock and slog.Default. A nil Audit records
// nothing.
type Options struct {
	Clock      hwclock.Clock
	Services   services.Manager
	Authorizer Authorizer
	Shell      ShellReader
	Fs         afero.Fs
	Logger     *slog.Logger
	Audit      *AuditLogger
}

// State is a snapshot of the published attributes.
type State struct {
	Timezone   string
	LocalRTC   bool
	NTP        bool
	CanNTP     bool
	NTPService string
	CanRTC     bool
	RTCDevice  string
}

// Published property names
const (
	PropertyTimezone = "Timezone"
	PropertyLocalRTC = "LocalRTC"
	PropertyNTP      = "NTP"
)

// PropertyChange is delivered to subscribers after a publish.
type PropertyChange struct {
	Name  string
	Value interface{}
	State State
}

// Daemon is the time-state coordinator.
type Daemon struct {
	config     *Config
	clock      hwclock.Clock
	services   services.Manager
	authorizer Authorizer
	shell      ShellReader
	fs         afero.Fs
	logger     *slog.Logger
	audit      *AuditLogger

	// clock domain
	clockMu   sync.Mutex
	timezone  string
	localRTC  bool
	canRTC    bool
	rtcDevice string

	// ntp domain
	ntpMu      sync.Mutex
	useNTP     bool
	ntpService string

	// published snapshot, replaced under pubMu
	pubMu     sync.Mutex
	published atomic.Pointer[State]

	subsMu  sync.Mutex
	subs    map[int]chan PropertyChange
	nextSub int
}

// New creates a daemon. Call Init before serving requests.
func New(config Config, opts Options) *Daemon {
	cfg := config.WithDefaults()

	d := &Daemon{
		config:     cfg,
		clock:      opts.Clock,
		services:   opts.Services,
		authorizer: opts.Authorizer,
		shell:      opts.Shell,
		fs:         opts.Fs,
		logger:     opts.Logger,
		audit:      opts.Audit,
		subs:       make(map[int]chan PropertyChange),
	}
	if d.fs == nil {
		d.fs = afero.NewOsFs()
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.shell == nil {
		d.shell = shellparser.NewEvaluator(cfg.Shell)
	}
	if d.authorizer == nil {
		d.authorizer = NewPolicyAuthorizer(cfg.Authorization)
	}
	if d.services == nil {
		d.services = services.NewOpenRC()
	}
	if d.clock == nil {
		d.clock = hwclock.NewSystem("")
	}
	d.published.Store(&State{Timezone: "UTC"})
	return d
}

// Config returns the effective configuration.
func (d *Daemon) Config() *Config {
	return d.config
}

// DiscoverRTCDevice evaluates ${rtc:-/dev/rtc} from the hardware-clock
// config, falling back to the default device on any error.
func DiscoverRTCDevice(ctx context.Context, reader ShellReader, hwclockConfig string) string {
	values, err := reader.Evaluate(ctx, hwclockConfig, "${rtc:-"+hwclock.DefaultDevice+"}")
	if err != nil || !values[0].Set || values[0].Text == "" {
		return hwclock.DefaultDevice
	}
	return values[0].Text
}

// Init establishes the initial state from the backing stores. Problems with
// individual stores are logged and degrade to defaults; Init itself only
// fails if ctx is done.
func (d *Daemon) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.clockMu.Lock()
	local, device, err := d.readClockConfig(ctx)
	if err != nil {
		d.logger.Warn("could not evaluate hardware clock configuration; assuming UTC",
			"path", d.config.HwclockConfig, "error", err)
		local = d.kernelHint()
	}
	d.rtcDevice = device
	d.canRTC = d.deviceExists(device)
	d.timezone = ResolveTimezone(d.fs, d.config)
	if local {
		if err := ensureRTCZoneLink(d.fs, d.config.RTCZoneLink, d.timezone); err != nil {
			d.logger.Warn("hardware clock configured for local time but the RTC zone link could not be repaired; reporting UTC",
				"link", d.config.RTCZoneLink, "timezone", d.timezone, "error", err)
			d.audit.Log(AuditWarn, EventSelfHeal, d.config.RTCZoneLink, true, false, nil,
				map[string]interface{}{"error": err.Error()})
			local = false
		}
	}
	d.localRTC = local
	d.clockMu.Unlock()

	d.ntpMu.Lock()
	d.ntpService = ""
	d.useNTP = false
	if service, err := d.resolveNTPService(); err != nil {
		d.logger.Warn("no NTP implementation available", "error", err)
	} else {
		d.ntpService = service
		running, err := d.services.Running(ctx, service)
		if err != nil {
			d.logger.Warn("could not query NTP service state", "service", service, "error", err)
		}
		d.useNTP = running
	}
	d.ntpMu.Unlock()

	state := d.snapshot()
	d.published.Store(&state)

	d.logger.Info("initial time state",
		"timezone", state.Timezone, "local_rtc", state.LocalRTC, "ntp", state.NTP,
		"ntp_service", state.NTPService, "rtc_device", state.RTCDevice, "can_rtc", state.CanRTC)
	d.audit.Log(AuditInfo, EventStartupState, "", nil, state, nil, nil)
	return nil
}

// readClockConfig evaluates clock, falling back to the legacy CLOCK, and rtc
// from the hardware-clock config. On error the device is the default.
// Caller holds clockMu.
func (d *Daemon) readClockConfig(ctx context.Context) (bool, string, error) {
	values, err := d.shell.Evaluate(ctx, d.config.HwclockConfig,
		"${"+clockVariable+":-${"+legacyClockVariable+"}}", "${rtc:-"+hwclock.DefaultDevice+"}")
	if err != nil {
		return false, hwclock.DefaultDevice, err
	}

	local := isLocalClock(values[0].Text)
	if values[0].Text == "" {
		local = d.kernelHint()
	}
	device := values[1].Text
	if !values[1].Set || device == "" {
		device = hwclock.DefaultDevice
	}
	return local, device, nil
}

func (d *Daemon) kernelHint() bool {
	return d.config.HonorKernelCmdline && KernelCmdlineLocalRTC(d.fs, d.config.KernelCmdline)
}

func (d *Daemon) deviceExists(device string) bool {
	_, err := d.fs.Stat(device)
	return err == nil
}

// snapshot builds State from the guarded fields. The caller must hold
// neither domain lock.
func (d *Daemon) snapshot() State {
	d.clockMu.Lock()
	s := d.clockSnapshotLocked()
	d.clockMu.Unlock()

	d.ntpMu.Lock()
	d.ntpSnapshotLocked(&s)
	d.ntpMu.Unlock()
	return s
}

func (d *Daemon) clockSnapshotLocked() State {
	return State{
		Timezone:  d.timezone,
		LocalRTC:  d.localRTC,
		CanRTC:    d.canRTC,
		RTCDevice: d.rtcDevice,
	}
}

func (d *Daemon) ntpSnapshotLocked(s *State) {
	s.NTP = d.useNTP
	s.NTPService = d.ntpService
	s.CanNTP = d.ntpService != ""
}

// State returns the published attributes.
func (d *Daemon) State() State {
	return *d.published.Load()
}

// publish replaces the published snapshot with update applied and notifies
// subscribers of each changed property.
func (d *Daemon) publish(update func(*State)) {
	d.pubMu.Lock()
	defer d.pubMu.Unlock()

	old := *d.published.Load()
	next := old
	update(&next)
	d.published.Store(&next)

	var changes []PropertyChange
	if old.Timezone != next.Timezone {
		changes = append(changes, PropertyChange{Name: PropertyTimezone, Value: next.Timezone, State: next})
	}
	if old.LocalRTC != next.LocalRTC {
		changes = append(changes, PropertyChange{Name: PropertyLocalRTC, Value: next.LocalRTC, State: next})
	}
	if old.NTP != next.NTP {
		changes = append(changes, PropertyChange{Name: PropertyNTP, Value: next.NTP, State: next})
	}

	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	for _, change := range changes {
		for _, ch := range d.subs {
			select {
			case ch <- change:
			default:
				d.logger.Debug("dropping property change for slow subscriber", "property", change.Name)
			}
		}
	}
}

// Subscribe returns a channel of property changes and a function that ends
// the subscription. Changes are dropped when the channel is full.
func (d *Daemon) Subscribe(buffer int) (<-chan PropertyChange, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan PropertyChange, buffer)

	d.subsMu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = ch
	d.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.subsMu.Lock()
			delete(d.subs, id)
			d.subsMu.Unlock()
			close(ch)
		})
	}
}

// Properties returns the published state with the current system time and,
// when an RTC is present, its reading.
type Properties struct {
	State
	Time    time.Time
	RTCTime time.Time
}

// Properties reads the published attributes.
func (d *Daemon) Properties() Properties {
	p := Properties{State: d.State(), Time: d.clock.Now()}
	if p.CanRTC {
		if rtc, err := d.clock.ReadRTC(); err == nil {
			p.RTCTime = rtc
		} else {
			d.logger.Debug("could not read RTC", "error", err)
		}
	}
	return p
}

// location loads the zone for name, or UTC with a warning.
func (d *Daemon) location(name string) *time.Location {
	loc, err := LoadLocation(d.fs, d.config.ZoneinfoDir, name)
	if err != nil {
		d.logger.Warn("could not load timezone; using UTC", "timezone", name, "error", err)
		return time.UTC
	}
	return loc
}

// request is a pending mutation. validate runs before authorization;
// apply runs after, holding domain.
type request struct {
	action      string
	subject     Subject
	interactive bool
	domain      *sync.Mutex
	validate    func(ctx context.Context) error
	apply       func(ctx context.Context) error
}

func (d *Daemon) execute(ctx context.Context, r request) error {
	if d.config.ReadOnly {
		return errors.New(ErrCodeReadOnly, "time daemon is running in read-only mode").
			WithContext("action", r.action)
	}
	if r.validate != nil {
		if err := r.validate(ctx); err != nil {
			return err
		}
	}
	if err := d.authorize(ctx, r.subject, r.action, r.interactive); err != nil {
		return err
	}

	r.domain.Lock()
	defer r.domain.Unlock()
	return r.apply(ctx)
}

// authorize waits for the authorizer's decision or ctx.
func (d *Daemon) authorize(ctx context.Context, subject Subject, action string, interactive bool) error {
	select {
	case decision, ok := <-d.authorizer.Authorize(ctx, subject, action, interactive):
		if !ok {
			return errors.New(ErrCodeAuthorizationFailed, "authorization check returned no decision").
				WithContext("action", action)
		}
		if decision.Err != nil {
			return errors.Wrap(decision.Err, ErrCodeAuthorizationFailed, "authorization check failed: "+decision.Err.Error()).
				WithContext("action", action)
		}
		if !decision.Allowed {
			reason := decision.Reason
			if reason == "" {
				reason = "not authorized"
			}
			d.logger.Info("request denied", "action", action, "subject", subject.String(), "reason", reason)
			d.audit.LogDenied(action, subject, reason)
			return errors.New(ErrCodeAuthorizationDenied, reason).
				WithContext("action", action)
		}
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), ErrCodeAuthorizationFailed, "authorization interrupted").
			WithContext("action", action)
	}
}
