//go:build linux

package input

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"layerd/internal/logging"
)

// DeviceEvent says what happened to a device.
type DeviceEvent int

const (
	DeviceAdded DeviceEvent = iota
	DeviceRemoved
)

// WatchFunc receives device arrivals and departures.
type WatchFunc func(Device, DeviceEvent)

// Watcher tracks /dev/input for hotplugged devices. It prefers inotify
// and falls back to polling when the watch cannot be established.
type Watcher struct {
	log *logging.Logger

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	stopCh   chan struct{}
	watching bool
}

func NewWatcher() *Watcher {
	return &Watcher{log: logging.Default().WithComponent("hotplug")}
}

// Start begins watching. The callback runs on the watcher goroutine.
func (w *Watcher) Start(callback WatchFunc) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watching {
		return errors.New("input: watcher already running")
	}

	initial, err := Discover()
	if err != nil {
		return err
	}

	w.stopCh = make(chan struct{})
	w.watching = true

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		if err := fsw.Add("/dev/input"); err != nil {
			fsw.Close()
			fsw = nil
		}
	} else {
		fsw = nil
	}

	if fsw != nil {
		w.fsw = fsw
		go w.notifyLoop(indexDevices(initial), callback)
	} else {
		w.log.Warn("inotify unavailable, polling for devices")
		go w.pollLoop(indexDevices(initial), callback)
	}

	return nil
}

func (w *Watcher) notifyLoop(known map[string]Device, callback WatchFunc) {
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !strings.Contains(ev.Name, "event") {
				continue
			}
			// Give the kernel a moment to finish registering the node.
			time.Sleep(100 * time.Millisecond)
			known = w.rescan(known, callback)
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) pollLoop(known map[string]Device, callback WatchFunc) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			known = w.rescan(known, callback)
		}
	}
}

// rescan diffs the current device list against the known set and
// reports changes.
func (w *Watcher) rescan(known map[string]Device, callback WatchFunc) map[string]Device {
	devices, err := Discover()
	if err != nil {
		w.log.Warn("device rescan failed", "error", err)
		return known
	}

	current := indexDevices(devices)

	for path, dev := range current {
		if _, ok := known[path]; !ok {
			callback(dev, DeviceAdded)
		}
	}
	for path, dev := range known {
		if _, ok := current[path]; !ok {
			callback(dev, DeviceRemoved)
		}
	}

	return current
}

func indexDevices(devices []Device) map[string]Device {
	m := make(map[string]Device, len(devices))
	for _, d := range devices {
		m[d.Path] = d
	}
	return m
}

// Stop ends the watch.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.watching {
		return
	}
	close(w.stopCh)
	if w.fsw != nil {
		w.fsw.Close()
		w.fsw = nil
	}
	w.watching = false
}
