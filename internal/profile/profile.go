// Package profile resolves per-device activation parameters. Each
// profile is one JSON file in the profiles directory, validated
// against an embedded schema before it is trusted.
package profile

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"layerd/internal/input"
)

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("profile.schema.json", bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile("profile.schema.json")
	})
	return schema, schemaErr
}

// Version is the profile document version this build understands.
const Version = 1

// Match selects devices by identity. Empty fields match anything; the
// schema requires at least one to be set.
type Match struct {
	// Name is a glob matched against the device name.
	Name string `json:"name,omitempty"`

	// Vendor and Product are hex IDs as shown by `layerd devices`.
	Vendor  string `json:"vendor,omitempty"`
	Product string `json:"product,omitempty"`
}

// Profile is one device profile document. Pointer fields distinguish
// "absent, inherit the config default" from an explicit zero.
type Profile struct {
	Version int   `json:"version"`
	Match   Match `json:"match"`

	// Layer is the layer this device toggles.
	Layer int `json:"layer"`

	// TimeoutMs is the inactivity deadline; explicit 0 keeps the
	// layer active until a key press.
	TimeoutMs *int64 `json:"timeout_ms,omitempty"`

	// RequirePriorIdleMs overrides the quick-tap idle threshold.
	RequirePriorIdleMs *int64 `json:"require_prior_idle_ms,omitempty"`

	// ExcludedPositions overrides the cancel-exempt position set.
	// An explicit empty array clears it.
	ExcludedPositions []int `json:"excluded_positions,omitempty"`

	// Grab requests exclusive capture of matched devices.
	Grab *bool `json:"grab,omitempty"`

	// File is the source path, set on load.
	File string `json:"-"`
}

// Matches reports whether the profile's match rule selects the device.
func (p *Profile) Matches(dev input.Device) bool {
	m := p.Match
	if m.Name != "" {
		ok, err := filepath.Match(m.Name, dev.Name)
		if err != nil || !ok {
			return false
		}
	}
	if m.Vendor != "" && !hexEqual(m.Vendor, dev.Vendor) {
		return false
	}
	if m.Product != "" && !hexEqual(m.Product, dev.Product) {
		return false
	}
	return true
}

func hexEqual(s string, id uint16) bool {
	n, err := strconv.ParseUint(s, 16, 16)
	return err == nil && uint16(n) == id
}

// Load reads and validates a single profile file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	return Parse(data, path)
}

// Parse validates a profile document against the schema, then decodes
// it. The path only labels errors.
func Parse(data []byte, path string) (*Profile, error) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("profile: compile schema: %w", err)
	}

	base := filepath.Base(path)

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("profile %s: %w", base, err)
	}
	if err := sch.Validate(instance); err != nil {
		return nil, fmt.Errorf("profile %s: %w", base, err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("profile %s: %w", base, err)
	}
	if p.Version != Version {
		return nil, fmt.Errorf("profile %s: unsupported version %d", base, p.Version)
	}
	p.File = path
	return &p, nil
}

// LoadDir loads every *.json profile under dir in file-name order,
// which is also the match order. Unparseable profiles come back as
// errors alongside the good ones; a missing directory is an empty set.
func LoadDir(dir string) ([]*Profile, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, []error{fmt.Errorf("profile: %w", err)}
	}

	var (
		profiles []*Profile
		errs     []error
	)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		p, err := Load(filepath.Join(dir, name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles, errs
}
