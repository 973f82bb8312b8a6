package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestCounterAndGauge(t *testing.T) {
	r := NewRegistry("layerd", "")

	c := r.RegisterCounter("activations_total", "help", nil)
	c.Inc()
	c.Add(2)
	if got := c.Value(); got != 3 {
		t.Fatalf("counter value = %d, want 3", got)
	}

	g := r.RegisterGauge("active_layer", "help", nil)
	g.Set(4)
	g.Inc()
	g.Dec()
	if got := g.Value(); got != 4 {
		t.Fatalf("gauge value = %d, want 4", got)
	}
}

func TestRegisterIdempotentPerSeries(t *testing.T) {
	r := NewRegistry("layerd", "")

	a := r.RegisterCounter("deactivations_total", "help", Labels{"cause": "timeout"})
	b := r.RegisterCounter("deactivations_total", "help", Labels{"cause": "timeout"})
	other := r.RegisterCounter("deactivations_total", "help", Labels{"cause": "key"})

	if a != b {
		t.Fatal("same series registered twice returned distinct counters")
	}
	if a == other {
		t.Fatal("distinct label values share a counter")
	}
}

func TestHistogramBuckets(t *testing.T) {
	h := NewHistogram("activation_duration_seconds", "help", nil, []float64{0.1, 1, 10})

	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(5)
	h.Observe(50)

	if got := h.Count(); got != 4 {
		t.Fatalf("count = %d, want 4", got)
	}
	if got := h.Sum(); got != 55.55 {
		t.Fatalf("sum = %v, want 55.55", got)
	}
	if got := h.Mean(); got != 55.55/4 {
		t.Fatalf("mean = %v", got)
	}
}

func TestWritePrometheusFormat(t *testing.T) {
	r := NewRegistry("layerd", "")

	r.RegisterCounter("deactivations_total", "Layers lowered, by cause", Labels{"cause": "timeout"}).Inc()
	r.RegisterCounter("deactivations_total", "Layers lowered, by cause", Labels{"cause": "key"}).Add(2)
	r.RegisterGauge("active_layer", "Raised layer", nil).Set(3)

	h := r.RegisterHistogram("activation_duration_seconds", "Held time", nil, []float64{0.5, 1})
	h.Observe(0.25)
	h.Observe(2)

	var sb strings.Builder
	if err := r.WritePrometheus(&sb); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := sb.String()

	for _, want := range []string{
		"# TYPE layerd_deactivations_total counter",
		`layerd_deactivations_total{cause="key"} 2`,
		`layerd_deactivations_total{cause="timeout"} 1`,
		"# TYPE layerd_active_layer gauge",
		"layerd_active_layer 3",
		"# TYPE layerd_activation_duration_seconds histogram",
		`layerd_activation_duration_seconds_bucket{le="0.5"} 1`,
		`layerd_activation_duration_seconds_bucket{le="1"} 1`,
		`layerd_activation_duration_seconds_bucket{le="+Inf"} 2`,
		"layerd_activation_duration_seconds_count 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}

	// One HELP block per metric name even with several series.
	if got := strings.Count(out, "# HELP layerd_deactivations_total"); got != 1 {
		t.Errorf("HELP emitted %d times, want 1", got)
	}
}

func TestWritePrometheusDeterministic(t *testing.T) {
	r := NewRegistry("layerd", "")
	for _, cause := range []string{"timeout", "key", "pause", "shutdown"} {
		r.RegisterCounter("deactivations_total", "help", Labels{"cause": cause})
	}

	var first strings.Builder
	r.WritePrometheus(&first)
	for i := 0; i < 5; i++ {
		var again strings.Builder
		r.WritePrometheus(&again)
		if again.String() != first.String() {
			t.Fatal("output order varies between renders")
		}
	}
}

func TestSetRecordsLifecycle(t *testing.T) {
	r := NewRegistry("layerd", "")
	m := NewSet(r)

	m.RecordEvent("pointer")
	m.RecordEvent("pointer")
	m.RecordEvent("key")

	m.RecordActivation(4)
	if m.ActiveLayer.Value() != 4 || m.LayerRaised.Value() != 1 {
		t.Fatalf("active=%d raised=%d after activation",
			m.ActiveLayer.Value(), m.LayerRaised.Value())
	}

	m.RecordDeactivation("timeout", 600*time.Millisecond)
	if m.ActiveLayer.Value() != 0 || m.LayerRaised.Value() != 0 {
		t.Fatalf("active=%d raised=%d after deactivation",
			m.ActiveLayer.Value(), m.LayerRaised.Value())
	}

	m.RecordSuppression("quicktap")

	if got := r.GetCounter("events_total", Labels{"type": "pointer"}).Value(); got != 2 {
		t.Errorf("pointer events = %d, want 2", got)
	}
	if got := r.GetCounter("deactivations_total", Labels{"cause": "timeout"}).Value(); got != 1 {
		t.Errorf("timeout deactivations = %d, want 1", got)
	}
	if got := r.GetCounter("suppressions_total", Labels{"reason": "quicktap"}).Value(); got != 1 {
		t.Errorf("quicktap suppressions = %d, want 1", got)
	}
	if got := m.HeldSeconds.Count(); got != 1 {
		t.Errorf("held observations = %d, want 1", got)
	}
}

func TestSetUnknownLabelValue(t *testing.T) {
	r := NewRegistry("layerd", "")
	m := NewSet(r)

	m.RecordDeactivation("manual", 0)

	if got := r.GetCounter("deactivations_total", Labels{"cause": "manual"}).Value(); got != 1 {
		t.Errorf("manual deactivations = %d, want 1", got)
	}
	if got := m.HeldSeconds.Count(); got != 0 {
		t.Errorf("zero held duration observed: count = %d", got)
	}
}
