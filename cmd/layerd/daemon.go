// Daemon wiring for 'layerd run': input sources feed per-device
// routers into the shared engine, engine signals fan out to the
// journal, IPC subscribers, metrics, and the policy hook.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"layerd/internal/autolayer"
	"layerd/internal/config"
	"layerd/internal/health"
	"layerd/internal/input"
	"layerd/internal/ipc"
	"layerd/internal/keymap"
	"layerd/internal/logging"
	"layerd/internal/metrics"
	"layerd/internal/policy"
	"layerd/internal/profile"
	"layerd/internal/session"
	"layerd/internal/store"
	"layerd/internal/watcher"
)

// boundDevice is one captured input device with its event source and
// resolved activation parameters.
type boundDevice struct {
	dev    input.Device
	src    input.Source
	router *autolayer.Router
	params profile.Params
}

type daemon struct {
	cfg     *config.Config
	cfgPath string
	log     *logging.Logger
	audit   *logging.AuditLogger // nil when the trail is disabled

	startedAt time.Time
	sessionID string

	stack    *keymap.Stack
	engine   *autolayer.Engine
	journal  *store.Store
	hooks    *policy.Hooks
	profiles *profile.Manager
	stats    *metrics.Set
	checker  *health.Checker

	server      *ipc.Server
	handler     *ipc.DaemonHandler
	sessions    *session.Watcher
	hotplug     *input.Watcher
	policyWatch *watcher.Watcher
	httpSrv     *http.Server

	mu      sync.Mutex
	sources map[string]*boundDevice // keyed by device path
	lastDev string                  // device behind the latest pointer event

	// open activation bookkeeping, touched only by the signal consumer
	openRow     int64
	openDev     string
	activatedAt time.Time

	wg      sync.WaitGroup
	stopped bool
}

func cmdRun() {
	defer logging.RecoverPanic()

	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create directories: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	logging.SetDefault(logger)
	defer logger.Close()
	logging.DefaultCrashHandler().SetVersion(Version)

	if err := writePidFile(cfg.Daemon.PidFile); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer os.Remove(cfg.Daemon.PidFile)

	d := newDaemon(cfg, *configPath)
	if err := d.Start(); err != nil {
		d.log.Error("startup failed", "error", err)
		d.Stop()
		os.Remove(cfg.Daemon.PidFile)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	uptimeTicker := time.NewTicker(30 * time.Second)
	defer uptimeTicker.Stop()
	pruneTicker := time.NewTicker(6 * time.Hour)
	defer pruneTicker.Stop()

	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				d.log.Info("reloading on SIGHUP")
				if err := d.Reload(); err != nil {
					d.log.Error("reload failed", "error", err)
				}
				continue
			}
			d.log.Info("shutting down", "signal", sig.String())
			d.audit.LogShutdown(sig.String())
			d.Stop()
			return

		case <-uptimeTicker.C:
			d.stats.UpdateUptime()

		case <-pruneTicker.C:
			d.pruneJournal()
			logging.DefaultCrashHandler().CleanupOldCrashReports(90 * 24 * time.Hour)
		}
	}
}

func newDaemon(cfg *config.Config, cfgPath string) *daemon {
	return &daemon{
		cfg:     cfg,
		cfgPath: cfgPath,
		log:     logging.Default().WithComponent("daemon"),
		stats:   metrics.Get(),
		checker: health.NewChecker(),
		sources: make(map[string]*boundDevice),
	}
}

// Start brings the daemon up. Components come up in dependency order:
// journal and engine first, then devices, then the outward-facing
// surfaces (IPC, session watcher, telemetry listener).
func (d *daemon) Start() error {
	d.startedAt = time.Now()
	d.sessionID = uuid.NewString()

	if err := d.openJournal(); err != nil {
		return err
	}
	d.openAudit()

	crash := logging.DefaultCrashHandler()
	crash.SetSessionID(d.sessionID)
	crash.SetOnCrash(func(r logging.CrashReport) {
		d.audit.LogError("panic", fmt.Errorf("%s", r.PanicValue))
	})

	d.stack = keymap.NewStack()
	eng, err := autolayer.New(d.engineParams(), d.stack)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	d.engine = eng

	if d.cfg.Policy.Enabled {
		d.loadPolicy()
		d.engine.SetGate(func(layer int) bool {
			if h := d.policyHooks(); h != nil {
				return h.Activate(layer, d.lastPointerDevice())
			}
			return true
		})
		if d.cfg.Policy.Reload {
			d.watchPolicy()
		}
	}

	d.profiles = profile.NewManager(d.cfg.Profiles.Path, profileDefaults(d.cfg))
	d.profiles.Load()
	d.profiles.OnChange(d.applyProfiles)
	if d.cfg.Profiles.Reload {
		if err := d.profiles.Watch(); err != nil {
			d.log.Warn("profile watch unavailable", "error", err)
		}
	}

	// Subscribe before any source can produce events so no signal is
	// lost between first activation and consumer start.
	signals := d.engine.Subscribe()
	d.wg.Add(1)
	go d.consumeSignals(signals)

	if err := d.bindDevices(); err != nil {
		return err
	}

	if d.cfg.Input.Hotplug {
		d.hotplug = input.NewWatcher()
		if err := d.hotplug.Start(d.onDeviceEvent); err != nil {
			d.log.Warn("hotplug watch unavailable", "error", err)
			d.hotplug = nil
		}
	}

	if d.cfg.IPC.Enabled {
		if err := d.startIPC(); err != nil {
			return err
		}
	}

	if d.cfg.Session.Enabled {
		d.sessions = session.NewWatcher(session.Config{
			PauseOnLock:  d.cfg.Session.PauseOnLock,
			PauseOnSleep: d.cfg.Session.PauseOnSleep,
		}, sessionPauser{d})
		if err := d.sessions.Start(); err != nil {
			d.log.Warn("session watch unavailable", "error", err)
			d.sessions = nil
		}
	}

	d.registerHealthChecks()
	if d.cfg.Metrics.Enabled {
		d.startTelemetry()
	}
	d.checker.SetReady(true)

	d.mu.Lock()
	n := len(d.sources)
	d.mu.Unlock()
	d.audit.LogStartup(Version, map[string]interface{}{
		"session": d.sessionID,
		"devices": n,
	})
	d.log.Info("layerd started",
		"version", Version,
		"session", d.sessionID,
		"devices", n,
		"layer", d.cfg.Engine.DefaultLayer)
	return nil
}

// openAudit wires the control audit trail when configured. Audit
// failures degrade to a warning, the daemon runs without the trail.
func (d *daemon) openAudit() {
	if d.cfg.Logging.AuditPath == "" {
		return
	}
	auditCfg := logging.DefaultAuditConfig()
	auditCfg.FilePath = d.cfg.Logging.AuditPath
	audit, err := logging.NewAuditLogger(auditCfg)
	if err != nil {
		d.log.Warn("audit trail unavailable", "path", d.cfg.Logging.AuditPath, "error", err)
		return
	}
	audit.SetSessionID(d.sessionID)
	d.audit = audit
}

func (d *daemon) openJournal() error {
	opts := store.Options{
		Memory:         d.cfg.Storage.Type == "memory",
		BusyTimeoutMs:  d.cfg.Storage.BusyTimeoutMs,
		MaxConnections: d.cfg.Storage.MaxConnections,
	}
	journal, err := store.Open(d.cfg.Storage.Path, opts)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	d.journal = journal

	hostname, _ := os.Hostname()
	if err := d.journal.BeginSession(&store.Session{
		ID:        d.sessionID,
		StartedAt: d.startedAt.UnixNano(),
		Hostname:  hostname,
		Version:   Version,
	}); err != nil {
		return fmt.Errorf("journal session: %w", err)
	}

	// Clean up rows a crashed previous run left open.
	if n, err := d.journal.CloseOpenActivations("", d.startedAt.UnixNano(), "shutdown"); err == nil && n > 0 {
		d.log.Warn("closed stale activations from previous run", "count", n)
	}
	d.pruneJournal()
	return nil
}

func (d *daemon) pruneJournal() {
	if d.cfg.Storage.RetainDays <= 0 {
		return
	}
	n, err := d.journal.Prune(d.cfg.Storage.RetainDays)
	if err != nil {
		d.log.Error("journal prune failed", "error", err)
		return
	}
	if n > 0 {
		d.log.Info("pruned journal", "rows", n, "retain_days", d.cfg.Storage.RetainDays)
	}
}

// loadPolicy loads or reloads the hook script. A rejected script keeps
// whatever was loaded before, which at startup means no hooks.
func (d *daemon) loadPolicy() {
	timeout := policy.DefaultTimeout
	if d.cfg.Policy.TimeoutMs > 0 {
		timeout = time.Duration(d.cfg.Policy.TimeoutMs) * time.Millisecond
	}

	hooks, err := policy.Load(d.cfg.Policy.ScriptPath, timeout)
	if err != nil {
		d.log.Error("policy script rejected",
			"script", d.cfg.Policy.ScriptPath, "error", err)
		return
	}

	d.mu.Lock()
	old := d.hooks
	d.hooks = hooks
	d.mu.Unlock()
	if old != nil {
		old.Close()
	}
	d.log.Info("policy script loaded", "script", d.cfg.Policy.ScriptPath)
}

func (d *daemon) policyHooks() *policy.Hooks {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hooks
}

// watchPolicy reloads the hook script when it changes on disk, the same
// live-edit loop profiles get.
func (d *daemon) watchPolicy() {
	w, err := watcher.New([]string{d.cfg.Policy.ScriptPath}, 500*time.Millisecond)
	if err != nil {
		d.log.Warn("policy watch unavailable", "error", err)
		return
	}
	if err := w.Start(); err != nil {
		d.log.Warn("policy watch unavailable", "error", err)
		return
	}
	d.policyWatch = w

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for range w.Events() {
			d.log.Info("policy script changed, reloading")
			d.loadPolicy()
		}
	}()
}

func (d *daemon) startIPC() error {
	d.handler = ipc.NewDaemonHandler(d, d.journal)

	serverCfg := ipc.DefaultServerConfig(d.cfg.IPC.SocketPath)
	serverCfg.Version = Version
	if d.cfg.IPC.Permissions != "" {
		serverCfg.Permissions = d.cfg.IPC.Permissions
	}
	if d.cfg.IPC.MaxConnections > 0 {
		serverCfg.MaxConnections = d.cfg.IPC.MaxConnections
	}
	if d.cfg.IPC.TimeoutSec > 0 {
		serverCfg.ReadTimeout = time.Duration(d.cfg.IPC.TimeoutSec) * time.Second
	}

	d.server = ipc.NewServer(serverCfg, d.handler)
	d.handler.SetBroadcaster(d.server.Broadcast)
	if err := d.server.Start(); err != nil {
		return fmt.Errorf("ipc: %w", err)
	}
	return nil
}

func (d *daemon) registerHealthChecks() {
	d.checker.RegisterFunc("journal", true, health.DatabaseCheck(func(ctx context.Context) error {
		return d.journal.Ping()
	}))
	d.checker.RegisterFunc("input", true, health.CustomCheck(func() error {
		d.mu.Lock()
		n := len(d.sources)
		d.mu.Unlock()
		if n == 0 {
			return fmt.Errorf("no input devices bound")
		}
		return nil
	}))
	if d.cfg.IPC.Enabled {
		d.checker.RegisterFunc("ipc", false, health.CustomCheck(func() error {
			if d.server == nil || !d.server.Running() {
				return fmt.Errorf("control socket down")
			}
			return nil
		}))
	}
}

func (d *daemon) startTelemetry() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.stats.UpdateUptime()
		metrics.Default().HTTPHandler().ServeHTTP(w, r)
	}))
	mux.Handle("/livez", d.checker.LivenessHandler())
	mux.Handle("/readyz", d.checker.ReadinessHandler())
	mux.Handle("/healthz", d.checker.HealthHandler())
	mux.Handle("/healthz/component", d.checker.ComponentHandler())

	d.httpSrv = &http.Server{
		Addr:         d.cfg.Metrics.Listen,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := d.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.log.Error("telemetry listener failed", "addr", d.cfg.Metrics.Listen, "error", err)
		}
	}()
	d.log.Info("telemetry listening", "addr", d.cfg.Metrics.Listen)
}

// bindDevices discovers and captures every device the config selects.
func (d *daemon) bindDevices() error {
	devices, err := input.Discover()
	if err != nil {
		return fmt.Errorf("device discovery: %w", err)
	}

	for _, dev := range devices {
		if !d.shouldBind(dev) {
			continue
		}
		if err := d.bindDevice(dev); err != nil {
			d.log.Warn("skipping device", "device", dev.Name, "path", dev.Path, "error", err)
		}
	}

	d.mu.Lock()
	n := len(d.sources)
	d.mu.Unlock()
	d.stats.SetDevices(n)
	if n == 0 {
		d.log.Warn("no input devices bound, check permissions and filters")
	}
	return nil
}

func (d *daemon) shouldBind(dev input.Device) bool {
	if dev.Class == 0 {
		return false
	}
	if d.cfg.Input.IgnoreVirtual && dev.IsVirtual() {
		return false
	}
	for _, pattern := range d.cfg.Input.ExcludeDevices {
		if globMatch(pattern, dev.Name) {
			return false
		}
	}
	if len(d.cfg.Input.IncludeDevices) == 0 {
		return true
	}
	for _, pattern := range d.cfg.Input.IncludeDevices {
		if globMatch(pattern, dev.Name) {
			return true
		}
	}
	return false
}

// globMatch matches shell-style patterns against device names. A bad
// pattern falls back to a case-insensitive substring test.
func globMatch(pattern, name string) bool {
	ok, err := filepath.Match(pattern, name)
	if err == nil {
		return ok
	}
	return strings.Contains(strings.ToLower(name), strings.ToLower(pattern))
}

func (d *daemon) bindDevice(dev input.Device) error {
	params := d.profiles.Resolve(dev)

	grab := params.Grab && dev.IsPointer()
	src := input.NewEvdevSource(dev, grab)
	if err := src.Start(); err != nil {
		return err
	}

	b := &boundDevice{
		dev:    dev,
		src:    src,
		router: autolayer.NewRouter(d.engine, params.Layer, params.TimeoutMs, keymap.IsModifier),
		params: params,
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		src.Stop()
		return fmt.Errorf("daemon stopping")
	}
	d.sources[dev.Path] = b
	d.wg.Add(1)
	d.mu.Unlock()

	if err := d.engine.Reconfigure(d.engineParams()); err != nil {
		d.log.Error("engine reconfigure failed", "error", err)
	}

	go d.pump(b)

	d.audit.LogDeviceBind(dev.Name, map[string]interface{}{
		"path":       dev.Path,
		"class":      dev.Class.String(),
		"layer":      params.Layer,
		"timeout_ms": params.TimeoutMs,
	})
	d.log.Info("device bound",
		"device", dev.Name,
		"path", dev.Path,
		"class", dev.Class.String(),
		"layer", params.Layer,
		"timeout_ms", params.TimeoutMs,
		"profile", params.Profile)
	return nil
}

func (d *daemon) unbindDevice(path string) {
	d.mu.Lock()
	b, ok := d.sources[path]
	if ok {
		delete(d.sources, path)
	}
	n := len(d.sources)
	d.mu.Unlock()
	if !ok {
		return
	}

	b.src.Stop()
	d.stats.SetDevices(n)
	if err := d.engine.Reconfigure(d.engineParams()); err != nil {
		d.log.Error("engine reconfigure failed", "error", err)
	}
	d.audit.LogDeviceUnbind(b.dev.Name, "removed")
	d.log.Info("device unbound", "device", b.dev.Name, "path", path)
}

// pump drains one device's event stream into its router. Exits when
// the source closes its channel on Stop. A panicking pump takes down
// only its own device, not the daemon.
func (d *daemon) pump(b *boundDevice) {
	defer d.wg.Done()
	defer logging.RecoverGoroutine()
	for ev := range b.src.Events() {
		switch ev.Type {
		case input.EventPointer:
			d.stats.RecordEvent("pointer")
			d.setLastPointer(ev.Device)
		case input.EventKey:
			d.stats.RecordEvent("key")
		case input.EventPosition:
			d.stats.RecordEvent("position")
		}
		b.router.Route(ev)
	}
}

func (d *daemon) setLastPointer(name string) {
	d.mu.Lock()
	d.lastDev = name
	d.mu.Unlock()
}

func (d *daemon) lastPointerDevice() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastDev
}

func (d *daemon) onDeviceEvent(dev input.Device, ev input.DeviceEvent) {
	switch ev {
	case input.DeviceAdded:
		if !d.shouldBind(dev) {
			return
		}
		d.mu.Lock()
		_, bound := d.sources[dev.Path]
		d.mu.Unlock()
		if bound {
			return
		}
		if err := d.bindDevice(dev); err != nil {
			d.log.Warn("hotplug bind failed", "device", dev.Name, "error", err)
			return
		}
		d.mu.Lock()
		n := len(d.sources)
		d.mu.Unlock()
		d.stats.SetDevices(n)

	case input.DeviceRemoved:
		d.unbindDevice(dev.Path)
	}
}

// engineParams computes the engine-wide guard settings. The tap clock
// and exclusion set are shared across devices, so the strictest
// resolved profile wins: largest idle threshold, union of excluded
// positions. Call with d.mu released.
func (d *daemon) engineParams() *autolayer.Config {
	d.mu.Lock()
	out := &autolayer.Config{
		RequirePriorIdleMs: d.cfg.Engine.RequirePriorIdleMs,
		ExcludedPositions:  append([]int(nil), d.cfg.Engine.ExcludedPositions...),
	}
	seen := make(map[int]bool, len(out.ExcludedPositions))
	for _, p := range out.ExcludedPositions {
		seen[p] = true
	}
	for _, b := range d.sources {
		if b.params.RequirePriorIdleMs > out.RequirePriorIdleMs {
			out.RequirePriorIdleMs = b.params.RequirePriorIdleMs
		}
		for _, p := range b.params.ExcludedPositions {
			if !seen[p] {
				seen[p] = true
				out.ExcludedPositions = append(out.ExcludedPositions, p)
			}
		}
	}
	d.mu.Unlock()

	sort.Ints(out.ExcludedPositions)
	return out
}

// applyProfiles re-resolves every bound device after a profile change.
func (d *daemon) applyProfiles() {
	d.mu.Lock()
	bound := make([]*boundDevice, 0, len(d.sources))
	for _, b := range d.sources {
		bound = append(bound, b)
	}
	d.mu.Unlock()

	for _, b := range bound {
		params := d.profiles.Resolve(b.dev)
		changed := params.Layer != b.params.Layer || params.TimeoutMs != b.params.TimeoutMs
		b.router.Update(params.Layer, params.TimeoutMs)
		d.mu.Lock()
		b.params = params
		d.mu.Unlock()
		if changed {
			d.log.Info("device profile updated",
				"device", b.dev.Name,
				"layer", params.Layer,
				"timeout_ms", params.TimeoutMs,
				"profile", params.Profile)
		}
	}

	if err := d.engine.Reconfigure(d.engineParams()); err != nil {
		d.log.Error("engine reconfigure failed", "error", err)
	}
}

// consumeSignals is the single consumer of engine signals. It owns the
// open-activation bookkeeping, so journal rows and broadcasts never
// race.
func (d *daemon) consumeSignals(signals <-chan autolayer.Signal) {
	defer d.wg.Done()

	for sig := range signals {
		switch sig.Type {
		case autolayer.SignalActivated:
			d.onActivated(sig)
		case autolayer.SignalDeactivated:
			d.onDeactivated(sig)
		case autolayer.SignalSuppressed:
			d.onSuppressed(sig)
		}
	}
}

func (d *daemon) onActivated(sig autolayer.Signal) {
	dev := d.lastPointerDevice()
	d.openDev = dev
	d.activatedAt = sig.Timestamp
	d.openRow = 0

	d.stats.RecordActivation(sig.Layer)

	id, err := d.journal.RecordActivation(&store.Activation{
		Session:     d.sessionID,
		Device:      dev,
		Layer:       sig.Layer,
		ActivatedAt: sig.Timestamp.UnixNano(),
	})
	if err != nil {
		d.log.Error("journal write failed", "error", err)
	} else {
		d.openRow = id
	}

	d.broadcast(&ipc.Event{
		Type:      ipc.EvtActivated,
		Layer:     sig.Layer,
		Device:    dev,
		Timestamp: sig.Timestamp,
	})
	d.log.Debug("layer activated", "layer", sig.Layer, "device", dev)
}

func (d *daemon) onDeactivated(sig autolayer.Signal) {
	var held time.Duration
	if !d.activatedAt.IsZero() {
		held = sig.Timestamp.Sub(d.activatedAt)
	}
	d.stats.RecordDeactivation(string(sig.Cause), held)

	if d.openRow != 0 {
		if err := d.journal.CloseActivation(d.openRow, sig.Timestamp.UnixNano(), string(sig.Cause)); err != nil {
			d.log.Error("journal close failed", "error", err)
		}
	}

	if h := d.policyHooks(); h != nil {
		h.Deactivated(sig.Layer, string(sig.Cause))
	}

	d.broadcast(&ipc.Event{
		Type:      ipc.EvtDeactivated,
		Layer:     sig.Layer,
		Device:    d.openDev,
		Cause:     string(sig.Cause),
		Timestamp: sig.Timestamp,
	})
	d.log.Debug("layer deactivated", "layer", sig.Layer, "cause", sig.Cause, "held", held)

	d.openRow = 0
	d.openDev = ""
	d.activatedAt = time.Time{}
}

func (d *daemon) onSuppressed(sig autolayer.Signal) {
	dev := d.lastPointerDevice()
	d.stats.RecordSuppression(string(sig.Reason))

	if err := d.journal.RecordSuppression(d.sessionID, dev, sig.Layer, string(sig.Reason), sig.Timestamp.UnixNano()); err != nil {
		d.log.Error("journal write failed", "error", err)
	}

	d.broadcast(&ipc.Event{
		Type:      ipc.EvtSuppressed,
		Layer:     sig.Layer,
		Device:    dev,
		Reason:    string(sig.Reason),
		Timestamp: sig.Timestamp,
	})
}

func (d *daemon) broadcast(ev *ipc.Event) {
	if d.server != nil {
		d.server.Broadcast(ev)
	}
}

// sessionPauser adapts the daemon to the session watcher and mirrors
// lock-driven transitions to IPC subscribers, the same way layerctl
// pause does.
type sessionPauser struct{ d *daemon }

func (p sessionPauser) Pause() {
	if p.d.pause("session") {
		p.d.broadcast(&ipc.Event{Type: ipc.EvtPaused, Timestamp: time.Now()})
	}
}

func (p sessionPauser) Resume() {
	if p.d.resume("session") {
		p.d.broadcast(&ipc.Event{Type: ipc.EvtResumed, Timestamp: time.Now()})
	}
}

// Pause implements the control-surface daemon interface.
func (d *daemon) Pause() bool {
	return d.pause("ipc")
}

// Resume implements the control-surface daemon interface.
func (d *daemon) Resume() bool {
	return d.resume("ipc")
}

func (d *daemon) pause(source string) bool {
	if d.engine.Paused() {
		return false
	}
	d.engine.Pause()
	d.audit.LogPause(source)
	d.log.Info("engine paused", "source", source)
	return true
}

func (d *daemon) resume(source string) bool {
	if !d.engine.Paused() {
		return false
	}
	d.engine.Resume()
	d.audit.LogResume(source)
	d.log.Info("engine resumed", "source", source)
	return true
}

// Reload re-reads the config file and profiles. Device selection,
// storage, and listener settings need a restart; activation parameters
// apply immediately.
func (d *daemon) Reload() error {
	err := d.reload()
	d.audit.LogReload(err)
	return err
}

func (d *daemon) reload() error {
	cfg, err := config.Load(d.cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()

	d.profiles.SetDefaults(profileDefaults(cfg))
	d.profiles.Load()
	d.applyProfiles()

	d.log.Info("configuration reloaded")
	return nil
}

// Status implements the control-surface daemon interface.
func (d *daemon) Status() *ipc.StatusResponse {
	st := &ipc.StatusResponse{
		Version:   Version,
		PID:       os.Getpid(),
		SessionID: d.sessionID,
		StartedAt: d.startedAt,
		UptimeMs:  time.Since(d.startedAt).Milliseconds(),
		Paused:    d.engine.Paused(),
	}

	// Report raised layers above the base layer; base is always up.
	for _, layer := range d.stack.ActiveLayers() {
		if layer != 0 {
			st.ActiveLayers = append(st.ActiveLayers, layer)
		}
	}

	d.mu.Lock()
	for _, b := range d.sources {
		st.Devices = append(st.Devices, ipc.DeviceStatus{
			Name:      b.dev.Name,
			Path:      b.dev.Path,
			Class:     b.dev.Class.String(),
			Layer:     b.params.Layer,
			TimeoutMs: b.params.TimeoutMs,
			Profile:   b.params.Profile,
			Active:    d.stack.IsLayerActive(b.params.Layer),
		})
	}
	d.mu.Unlock()
	sort.Slice(st.Devices, func(i, j int) bool {
		return st.Devices[i].Name < st.Devices[j].Name
	})

	if totals, err := d.journal.LayerTotals(); err == nil {
		for _, t := range totals {
			st.Totals = append(st.Totals, ipc.LayerTotalStatus{
				Layer:       t.Layer,
				Activations: t.Activations,
				ActiveMs:    t.ActiveMs,
			})
		}
	}
	return st
}

// Stop tears the daemon down in reverse dependency order. Safe to call
// more than once.
func (d *daemon) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	bound := make([]*boundDevice, 0, len(d.sources))
	for _, b := range d.sources {
		bound = append(bound, b)
	}
	d.mu.Unlock()

	d.checker.SetReady(false)

	if d.sessions != nil {
		d.sessions.Stop()
	}
	if d.hotplug != nil {
		d.hotplug.Stop()
	}
	if d.policyWatch != nil {
		d.policyWatch.Stop()
	}
	for _, b := range bound {
		b.src.Stop()
	}
	if d.engine != nil {
		// Emits the final deactivation, then closes the signal
		// channel, so the consumer drains everything before wg.Wait
		// returns.
		d.engine.Close()
	}
	d.wg.Wait()

	if d.server != nil {
		d.server.Stop()
	}
	if d.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		d.httpSrv.Shutdown(ctx)
		cancel()
	}

	if d.journal != nil {
		now := time.Now().UnixNano()
		if _, err := d.journal.CloseOpenActivations(d.sessionID, now, "shutdown"); err != nil {
			d.log.Error("journal close failed", "error", err)
		}
		if err := d.journal.EndSession(d.sessionID, now); err != nil {
			d.log.Error("journal session end failed", "error", err)
		}
		d.journal.Close()
	}

	if h := d.policyHooks(); h != nil {
		h.Close()
	}
	if d.profiles != nil {
		d.profiles.Close()
	}
	d.audit.Close()

	d.log.Info("layerd stopped", "session", d.sessionID)
}

func buildLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format := logging.FormatText
	if cfg.Logging.Format == "json" {
		format = logging.FormatJSON
	}
	return logging.New(&logging.Config{
		Level:      level,
		Format:     format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    int64(cfg.Logging.MaxSizeMB),
		MaxAge:     cfg.Logging.MaxAgeDays,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
		Component:  "layerd",
	})
}

// writePidFile records our PID, refusing to start when another live
// daemon owns the file.
func writePidFile(path string) error {
	if path == "" {
		return nil
	}
	if pid, alive := readPidFile(path); alive {
		return fmt.Errorf("layerd already running (pid %d)", pid)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
}

// readPidFile returns the recorded PID and whether that process is
// still alive.
func readPidFile(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	// FindProcess always succeeds on Unix; signal 0 probes liveness.
	return pid, process.Signal(syscall.Signal(0)) == nil
}
