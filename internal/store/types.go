// Package store keeps the activation journal in SQLite.
package store

// Activation is one journal row covering a layer activation interval.
// DeactivatedAt stays NULL while the layer is up.
type Activation struct {
	ID          int64
	Session     string // daemon run UUID
	Device      string
	Layer       int
	ActivatedAt int64 // unix nanoseconds

	DeactivatedAt *int64
	Cause         string // timeout, key, pause, shutdown
}

// Duration returns the activation length in milliseconds, or -1 while
// the interval is still open.
func (a *Activation) Duration() int64 {
	if a.DeactivatedAt == nil {
		return -1
	}
	return (*a.DeactivatedAt - a.ActivatedAt) / 1e6
}

// Suppression is a counter row for blocked activation attempts,
// aggregated per (session, device, layer, reason).
type Suppression struct {
	ID      int64
	Session string
	Device  string
	Layer   int
	Reason  string // quicktap, policy, paused
	Count   int64
	FirstAt int64 // unix nanoseconds
	LastAt  int64
}

// LayerTotal aggregates journal rows per layer. ActiveMs sums closed
// intervals only.
type LayerTotal struct {
	Layer       int
	Activations int64
	ActiveMs    int64
}

// Session is one daemon run.
type Session struct {
	ID        string
	StartedAt int64 // unix nanoseconds
	EndedAt   *int64
	Hostname  string
	Version   string
}
