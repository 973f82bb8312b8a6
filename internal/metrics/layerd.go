package metrics

import (
	"sync"
	"time"
)

// Known label values, pre-registered so a scrape shows every series
// from the first request. Unknown values still get a series lazily.
var (
	knownCauses  = []string{"timeout", "key", "pause", "shutdown"}
	knownReasons = []string{"quicktap", "policy", "paused"}
	knownEvents  = []string{"pointer", "key", "position"}
)

// Set holds the daemon's metric series.
type Set struct {
	registry *Registry

	Activations *Counter
	ActiveLayer *Gauge
	LayerRaised *Gauge
	Devices     *Gauge
	Uptime      *Gauge
	HeldSeconds *Histogram

	mu            sync.Mutex
	deactivations map[string]*Counter
	suppressions  map[string]*Counter
	events        map[string]*Counter
}

// startTime anchors the uptime gauge.
var startTime = time.Now()

// NewSet creates and registers the daemon metric set on registry,
// defaulting to the global one.
func NewSet(registry *Registry) *Set {
	if registry == nil {
		registry = Default()
	}

	m := &Set{
		registry: registry,

		Activations: registry.RegisterCounter(
			"activations_total",
			"Layers raised by pointer activity",
			nil,
		),
		ActiveLayer: registry.RegisterGauge(
			"active_layer",
			"Index of the currently raised layer, 0 when none",
			nil,
		),
		LayerRaised: registry.RegisterGauge(
			"layer_raised",
			"Whether a layer is currently raised",
			nil,
		),
		Devices: registry.RegisterGauge(
			"devices",
			"Input devices currently attached",
			nil,
		),
		Uptime: registry.RegisterGauge(
			"uptime_seconds",
			"Seconds since the daemon started",
			nil,
		),
		HeldSeconds: registry.RegisterHistogram(
			"activation_duration_seconds",
			"How long raised layers stayed up",
			nil,
			DurationBuckets,
		),

		deactivations: make(map[string]*Counter),
		suppressions:  make(map[string]*Counter),
		events:        make(map[string]*Counter),
	}

	for _, cause := range knownCauses {
		m.deactivations[cause] = registry.RegisterCounter(
			"deactivations_total",
			"Layers lowered, by cause",
			Labels{"cause": cause},
		)
	}
	for _, reason := range knownReasons {
		m.suppressions[reason] = registry.RegisterCounter(
			"suppressions_total",
			"Activations suppressed, by reason",
			Labels{"reason": reason},
		)
	}
	for _, typ := range knownEvents {
		m.events[typ] = registry.RegisterCounter(
			"events_total",
			"Input events routed, by type",
			Labels{"type": typ},
		)
	}

	return m
}

// RecordEvent counts one routed input event.
func (m *Set) RecordEvent(typ string) {
	m.counter(m.events, "events_total", "Input events routed, by type", "type", typ).Inc()
}

// RecordActivation marks the layer as raised.
func (m *Set) RecordActivation(layer int) {
	m.Activations.Inc()
	m.ActiveLayer.Set(int64(layer))
	m.LayerRaised.Set(1)
}

// RecordDeactivation marks the layer as lowered and observes how long
// it was held. A zero or negative held duration is counted but not
// observed.
func (m *Set) RecordDeactivation(cause string, held time.Duration) {
	m.counter(m.deactivations, "deactivations_total", "Layers lowered, by cause", "cause", cause).Inc()
	m.ActiveLayer.Set(0)
	m.LayerRaised.Set(0)
	if held > 0 {
		m.HeldSeconds.ObserveDuration(held)
	}
}

// RecordSuppression counts one suppressed activation.
func (m *Set) RecordSuppression(reason string) {
	m.counter(m.suppressions, "suppressions_total", "Activations suppressed, by reason", "reason", reason).Inc()
}

// SetDevices sets the attached-device gauge.
func (m *Set) SetDevices(n int) {
	m.Devices.Set(int64(n))
}

// UpdateUptime refreshes the uptime gauge. Called before each scrape.
func (m *Set) UpdateUptime() {
	m.Uptime.Set(int64(time.Since(startTime).Seconds()))
}

// counter resolves a labeled series from the cache, registering it on
// first sight of a new label value.
func (m *Set) counter(cache map[string]*Counter, name, help, label, value string) *Counter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := cache[value]; ok {
		return c
	}
	c := m.registry.RegisterCounter(name, help, Labels{label: value})
	cache[value] = c
	return c
}

// Global daemon metric set.
var (
	defaultSet     *Set
	defaultSetOnce sync.Once
)

// Get returns the global metric set, creating it on the default
// registry on first use.
func Get() *Set {
	defaultSetOnce.Do(func() {
		if defaultSet == nil {
			defaultSet = NewSet(Default())
		}
	})
	return defaultSet
}

// Init installs the global metric set on a specific registry. Must be
// called before the first Get.
func Init(registry *Registry) *Set {
	defaultSet = NewSet(registry)
	defaultSetOnce.Do(func() {})
	return defaultSet
}
