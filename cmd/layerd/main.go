// layerd - Automatic mouse layer for Linux input devices
//
// layerd watches evdev pointer activity and raises a configured keymap
// layer while the pointer is in use. The layer drops again after a
// per-device timeout or as soon as a key outside the exclusion list is
// pressed, so button overlays get out of the way the moment typing
// resumes:
//
//	layerd run              Run the daemon in the foreground
//	layerd status           Show daemon status via the control socket
//	layerd devices          List input devices and resolved profiles
//	layerd check            Validate configuration and profile files
//	layerd replay <trace>   Drive the engine from a recorded event trace
//	layerd version          Print the version
package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"layerd/internal/autolayer"
	"layerd/internal/config"
	"layerd/internal/input"
	"layerd/internal/ipc"
	"layerd/internal/keymap"
	"layerd/internal/logging"
	"layerd/internal/profile"
)

// Version is the layerd release version, overridable at build time
// with -ldflags "-X main.Version=...".
var Version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		cmdRun()
	case "status":
		cmdStatus()
	case "devices":
		cmdDevices()
	case "check":
		cmdCheck()
	case "replay":
		cmdReplay()
	case "version", "-v", "--version":
		fmt.Printf("layerd %s\n", Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`layerd - Automatic mouse layer daemon

USAGE:
    layerd <command> [options]

COMMANDS:
    run              Run the daemon in the foreground
    status           Show daemon status via the control socket
    devices          List input devices and their resolved profiles
    check            Validate configuration and profile files
    replay <trace>   Drive the engine from a recorded event trace
    version          Print the version
    help             Show this help message

The daemon reads its configuration from the first of:
    $LAYERD_CONFIG, $XDG_CONFIG_HOME/layerd/config.toml,
    ~/.config/layerd/config.toml
(.json and .yaml variants are also accepted). Per-device profiles live
in the profiles directory next to the config file.

Use 'layerctl' to pause, resume, and watch a running daemon.`)
}

func mustLoadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func cmdStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(os.Args[2:])

	cfg := mustLoadConfig(*configPath)

	client := ipc.NewClient(ipc.DefaultClientConfig(cfg.IPC.SocketPath))
	if err := client.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "layerd is not running (%v)\n", err)
		os.Exit(1)
	}
	defer client.Close()

	st, err := client.Status()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status request failed: %v\n", err)
		os.Exit(1)
	}

	printStatus(st)
}

func printStatus(st *ipc.StatusResponse) {
	fmt.Printf("layerd %s (pid %d, session %s)\n", st.Version, st.PID, st.SessionID)
	fmt.Printf("  started:  %s (up %s)\n",
		st.StartedAt.Format(time.RFC3339),
		(time.Duration(st.UptimeMs) * time.Millisecond).Round(time.Second))
	if st.Paused {
		fmt.Println("  state:    paused")
	} else {
		fmt.Println("  state:    running")
	}
	if len(st.ActiveLayers) == 0 {
		fmt.Println("  layers:   none active")
	} else {
		fmt.Printf("  layers:   %v active\n", st.ActiveLayers)
	}

	if len(st.Devices) > 0 {
		fmt.Println("\nDEVICES:")
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "  NAME\tCLASS\tLAYER\tTIMEOUT\tPROFILE")
		for _, d := range st.Devices {
			profileName := d.Profile
			if profileName == "" {
				profileName = "(defaults)"
			}
			fmt.Fprintf(w, "  %s\t%s\t%d\t%dms\t%s\n",
				d.Name, d.Class, d.Layer, d.TimeoutMs, profileName)
		}
		w.Flush()
	}

	if len(st.Totals) > 0 {
		fmt.Println("\nTOTALS:")
		for _, t := range st.Totals {
			fmt.Printf("  layer %d: %d activations, %s active\n",
				t.Layer, t.Activations,
				(time.Duration(t.ActiveMs) * time.Millisecond).Round(time.Second))
		}
	}
}

func cmdDevices() {
	fs := flag.NewFlagSet("devices", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	all := fs.Bool("all", false, "include virtual and unclassified devices")
	fs.Parse(os.Args[2:])

	cfg := mustLoadConfig(*configPath)

	devices, err := input.Discover()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Device discovery failed: %v\n", err)
		os.Exit(1)
	}

	profiles := profile.NewManager(cfg.Profiles.Path, profileDefaults(cfg))
	profiles.Load()

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCLASS\tVENDOR:PRODUCT\tPATH\tLAYER\tTIMEOUT\tPROFILE")
	shown := 0
	for _, dev := range devices {
		if !*all && (dev.IsVirtual() || dev.Class == 0) {
			continue
		}
		params := profiles.Resolve(dev)
		profileName := params.Profile
		if profileName == "" {
			profileName = "(defaults)"
		}
		fmt.Fprintf(w, "%s\t%s\t%04x:%04x\t%s\t%d\t%dms\t%s\n",
			dev.Name, dev.Class, dev.Vendor, dev.Product, dev.Path,
			params.Layer, params.TimeoutMs, profileName)
		shown++
	}
	w.Flush()

	if shown == 0 {
		fmt.Println("No input devices found. Are you in the 'input' group?")
	}
}

// profileDefaults builds the fallback activation parameters handed to
// the profile manager from the config file's engine section.
func profileDefaults(cfg *config.Config) profile.Params {
	return profile.Params{
		Layer:              cfg.Engine.DefaultLayer,
		TimeoutMs:          cfg.Engine.DefaultTimeoutMs,
		RequirePriorIdleMs: cfg.Engine.RequirePriorIdleMs,
		ExcludedPositions:  cfg.Engine.ExcludedPositions,
		Grab:               cfg.Input.Grab,
	}
}

func cmdCheck() {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(os.Args[2:])

	failed := false

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("config: FAIL (%v)\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("config: FAIL (%v)\n", err)
		failed = true
	} else {
		fmt.Println("config: ok")
	}

	profiles, errs := profile.LoadDir(cfg.Profiles.Path)
	for _, p := range profiles {
		fmt.Printf("profile %s: ok (layer %d)\n", p.File, p.Layer)
	}
	for _, err := range errs {
		fmt.Printf("profile: FAIL (%v)\n", err)
		failed = true
	}
	if len(profiles) == 0 && len(errs) == 0 {
		fmt.Printf("profiles: none in %s, config defaults apply\n", cfg.Profiles.Path)
	}

	if cfg.Policy.Enabled {
		if _, err := os.Stat(cfg.Policy.ScriptPath); err != nil {
			fmt.Printf("policy: FAIL (%v)\n", err)
			failed = true
		} else {
			fmt.Println("policy: ok")
		}
	}

	if reports, err := logging.DefaultCrashHandler().CrashReports(); err == nil && len(reports) > 0 {
		fmt.Printf("crashes: %d report(s) in %s\n", len(reports), logging.DefaultCrashDir())
	}

	if failed {
		os.Exit(1)
	}
}

// cmdReplay feeds a recorded event trace through an engine configured
// like the daemon's and prints every resulting signal. Useful for
// reproducing timing-sensitive bugs from the field without hardware.
func cmdReplay() {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	layer := fs.Int("layer", -1, "override the activation layer")
	timeoutMs := fs.Int64("timeout", -1, "override the timeout in milliseconds")
	fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: layerd replay [options] <trace-file>")
		os.Exit(1)
	}

	cfg := mustLoadConfig(*configPath)

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open trace: %v\n", err)
		os.Exit(1)
	}
	events, err := input.ReadTrace(f)
	f.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse trace: %v\n", err)
		os.Exit(1)
	}

	engCfg := &autolayer.Config{
		RequirePriorIdleMs: cfg.Engine.RequirePriorIdleMs,
		ExcludedPositions:  cfg.Engine.ExcludedPositions,
	}
	stack := keymap.NewStack()
	eng, err := autolayer.New(engCfg, stack)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Engine setup failed: %v\n", err)
		os.Exit(1)
	}
	signals := eng.Subscribe()

	replayLayer := cfg.Engine.DefaultLayer
	if *layer >= 0 {
		replayLayer = *layer
	}
	replayTimeout := cfg.Engine.DefaultTimeoutMs
	if *timeoutMs >= 0 {
		replayTimeout = *timeoutMs
	}
	router := autolayer.NewRouter(eng, replayLayer, replayTimeout, keymap.IsModifier)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for sig := range signals {
			switch sig.Type {
			case autolayer.SignalActivated:
				fmt.Printf("%s  ACTIVATE   layer %d\n", sig.Timestamp.Format("15:04:05.000"), sig.Layer)
			case autolayer.SignalDeactivated:
				fmt.Printf("%s  DEACTIVATE layer %d (%s)\n", sig.Timestamp.Format("15:04:05.000"), sig.Layer, sig.Cause)
			case autolayer.SignalSuppressed:
				fmt.Printf("%s  SUPPRESS   layer %d (%s)\n", sig.Timestamp.Format("15:04:05.000"), sig.Layer, sig.Reason)
			}
		}
	}()

	start := time.Now()
	var prev int64
	for i, ev := range events {
		// Honor the trace's inter-event gaps so timer behavior
		// matches the original recording.
		if i > 0 && ev.When > prev {
			time.Sleep(time.Duration(ev.When-prev) * time.Millisecond)
		}
		prev = ev.When
		router.Route(ev)
	}

	// Let a pending timeout fire before tearing down.
	if replayTimeout > 0 {
		time.Sleep(time.Duration(replayTimeout)*time.Millisecond + 50*time.Millisecond)
	}
	eng.Close()
	<-done

	fmt.Printf("replayed %d events in %s\n", len(events), time.Since(start).Round(time.Millisecond))
}
