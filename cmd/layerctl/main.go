// layerctl is the control CLI for layerd.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"layerd/internal/config"
	"layerd/internal/ipc"
)

var (
	configPath = flag.String("config", "", "path to config file")
	socketPath = flag.String("socket", "", "control socket path (overrides config)")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	switch flag.Arg(0) {
	case "status":
		cmdStatus()
	case "pause":
		cmdPause()
	case "resume":
		cmdResume()
	case "reload":
		cmdReload()
	case "recent":
		cmdRecent()
	case "watch":
		cmdWatch()
	case "ping":
		cmdPing()
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", flag.Arg(0))
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `layerctl - Control utility for layerd

Usage: layerctl [options] <command> [args]

Commands:
  status          Show daemon status, devices, and layer totals
  pause           Stop raising layers until resumed
  resume          Lift a pause
  reload          Re-read configuration and profiles
  recent [n]      Show the n most recent activations (default 20)
  watch           Stream activation events until interrupted
  ping            Check whether the daemon is responding
  help            Show this help message

Options:
  -config <path>  Path to config file
  -socket <path>  Control socket path (overrides config)`)
}

// ANSI palette, empty when stdout is not a terminal or NO_COLOR is set.
type palette struct {
	Reset, Bold, Dim, Red, Green, Yellow, Cyan string
}

var c = newPalette()

func newPalette() palette {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return palette{}
	}
	fi, err := os.Stdout.Stat()
	if err != nil || fi.Mode()&os.ModeCharDevice == 0 {
		return palette{}
	}
	return palette{
		Reset:  "\033[0m",
		Bold:   "\033[1m",
		Dim:    "\033[2m",
		Red:    "\033[31m",
		Green:  "\033[32m",
		Yellow: "\033[33m",
		Cyan:   "\033[36m",
	}
}

func printSection(title string) {
	fmt.Printf("\n%s%s%s\n", c.Bold, title, c.Reset)
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%sError:%s %s\n", c.Red, c.Reset, msg)
}

// socket resolves the control socket path from the -socket flag or the
// config file.
func socket() string {
	if *socketPath != "" {
		return *socketPath
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		printError(fmt.Sprintf("Cannot load config: %v", err))
		os.Exit(1)
	}
	return cfg.IPC.SocketPath
}

func connect() *ipc.Client {
	client := ipc.NewClient(ipc.DefaultClientConfig(socket()))
	if err := client.Connect(); err != nil {
		printError(fmt.Sprintf("Cannot connect to daemon: %v", err))
		fmt.Fprintf(os.Stderr, "  %sTip%s: start the daemon with: layerd run\n", c.Dim, c.Reset)
		os.Exit(1)
	}
	return client
}

func cmdStatus() {
	client := connect()
	defer client.Close()

	st, err := client.Status()
	if err != nil {
		printError(fmt.Sprintf("Failed to get status: %v", err))
		os.Exit(1)
	}

	printSection("DAEMON")
	fmt.Printf("  %sVersion%s   %s%s%s\n", c.Dim, c.Reset, c.Cyan, st.Version, c.Reset)
	fmt.Printf("  %sPID%s       %d\n", c.Dim, c.Reset, st.PID)
	fmt.Printf("  %sSession%s   %s\n", c.Dim, c.Reset, st.SessionID)
	fmt.Printf("  %sStarted%s   %s\n", c.Dim, c.Reset, st.StartedAt.Format(time.RFC3339))
	fmt.Printf("  %sUptime%s    %s\n", c.Dim, c.Reset,
		(time.Duration(st.UptimeMs) * time.Millisecond).Round(time.Second))
	if st.Paused {
		fmt.Printf("  %sState%s     %s%sPAUSED%s\n", c.Dim, c.Reset, c.Bold, c.Yellow, c.Reset)
	} else {
		fmt.Printf("  %sState%s     %s%sRUNNING%s\n", c.Dim, c.Reset, c.Bold, c.Green, c.Reset)
	}
	if len(st.ActiveLayers) > 0 {
		fmt.Printf("  %sLayers%s    %v raised\n", c.Dim, c.Reset, st.ActiveLayers)
	} else {
		fmt.Printf("  %sLayers%s    none raised\n", c.Dim, c.Reset)
	}

	if len(st.Devices) > 0 {
		printSection("DEVICES")
		for _, d := range st.Devices {
			marker := " "
			if d.Active {
				marker = c.Green + "*" + c.Reset
			}
			profileName := d.Profile
			if profileName == "" {
				profileName = "defaults"
			}
			fmt.Printf("  %s %s%s%s (%s)\n", marker, c.Cyan, d.Name, c.Reset, d.Class)
			fmt.Printf("      %slayer%s %d  %stimeout%s %dms  %sprofile%s %s\n",
				c.Dim, c.Reset, d.Layer,
				c.Dim, c.Reset, d.TimeoutMs,
				c.Dim, c.Reset, profileName)
		}
	}

	if len(st.Totals) > 0 {
		printSection("TOTALS")
		for _, t := range st.Totals {
			fmt.Printf("  %slayer %d%s   %d activations, %s active\n",
				c.Dim, t.Layer, c.Reset, t.Activations,
				(time.Duration(t.ActiveMs) * time.Millisecond).Round(time.Second))
		}
	}
	fmt.Println()
}

func cmdPause() {
	client := connect()
	defer client.Close()

	ack, err := client.Pause()
	if err != nil {
		printError(fmt.Sprintf("Pause failed: %v", err))
		os.Exit(1)
	}
	if ack.Changed {
		fmt.Printf("%sPaused.%s Layers stay down until 'layerctl resume'.\n", c.Bold, c.Reset)
	} else {
		fmt.Printf("%s%s%s\n", c.Dim, ack.Detail, c.Reset)
	}
}

func cmdResume() {
	client := connect()
	defer client.Close()

	ack, err := client.Resume()
	if err != nil {
		printError(fmt.Sprintf("Resume failed: %v", err))
		os.Exit(1)
	}
	if ack.Changed {
		fmt.Printf("%sResumed.%s\n", c.Bold, c.Reset)
	} else {
		fmt.Printf("%s%s%s\n", c.Dim, ack.Detail, c.Reset)
	}
}

func cmdReload() {
	client := connect()
	defer client.Close()

	if _, err := client.Reload(); err != nil {
		printError(fmt.Sprintf("Reload failed: %v", err))
		os.Exit(1)
	}
	fmt.Println("Configuration reloaded.")
}

func cmdRecent() {
	limit := 20
	if flag.NArg() >= 2 {
		n, err := strconv.Atoi(flag.Arg(1))
		if err != nil || n <= 0 {
			printError(fmt.Sprintf("Bad count: %s", flag.Arg(1)))
			os.Exit(1)
		}
		limit = n
	}

	client := connect()
	defer client.Close()

	activations, err := client.Recent(limit)
	if err != nil {
		printError(fmt.Sprintf("Recent query failed: %v", err))
		os.Exit(1)
	}
	if len(activations) == 0 {
		fmt.Printf("  %sNo activations recorded.%s\n", c.Dim, c.Reset)
		return
	}

	printSection("RECENT ACTIVATIONS")
	for _, a := range activations {
		duration := "open"
		if a.DurationMs >= 0 {
			duration = (time.Duration(a.DurationMs) * time.Millisecond).Round(time.Millisecond).String()
		}
		fmt.Printf("  %s%s%s  layer %d  %s%-8s%s  %s%s%s",
			c.Dim, a.ActivatedAt.Format("15:04:05"), c.Reset,
			a.Layer,
			c.Cyan, duration, c.Reset,
			c.Dim, a.Device, c.Reset)
		if a.Cause != "" {
			fmt.Printf("  (%s)", a.Cause)
		}
		fmt.Println()
	}
	fmt.Println()
}

func cmdWatch() {
	client := connect()
	defer client.Close()

	if err := client.Subscribe(); err != nil {
		printError(fmt.Sprintf("Subscribe failed: %v", err))
		os.Exit(1)
	}

	fmt.Printf("%sWatching layer events.%s Press Ctrl+C to stop.\n\n", c.Bold, c.Reset)

	for ev := range client.Events() {
		ts := ev.Timestamp.Format("15:04:05.000")
		switch ev.Type {
		case ipc.EvtActivated:
			fmt.Printf("%s  %sACTIVATE%s   layer %d", ts, c.Green, c.Reset, ev.Layer)
			if ev.Device != "" {
				fmt.Printf("  %s%s%s", c.Dim, ev.Device, c.Reset)
			}
			fmt.Println()
		case ipc.EvtDeactivated:
			fmt.Printf("%s  %sDEACTIVATE%s layer %d  (%s)\n", ts, c.Yellow, c.Reset, ev.Layer, ev.Cause)
		case ipc.EvtSuppressed:
			fmt.Printf("%s  %sSUPPRESS%s   layer %d  (%s)\n", ts, c.Dim, c.Reset, ev.Layer, ev.Reason)
		case ipc.EvtPaused:
			fmt.Printf("%s  %sPAUSED%s\n", ts, c.Yellow, c.Reset)
		case ipc.EvtResumed:
			fmt.Printf("%s  %sRESUMED%s\n", ts, c.Green, c.Reset)
		default:
			fmt.Printf("%s  event 0x%04x\n", ts, uint16(ev.Type))
		}
	}

	fmt.Printf("\n%sConnection closed.%s\n", c.Dim, c.Reset)
}

func cmdPing() {
	client := ipc.NewClient(ipc.DefaultClientConfig(socket()))
	if err := client.Connect(); err != nil {
		fmt.Printf("  %sDaemon%s  %s%sNOT RUNNING%s\n", c.Dim, c.Reset, c.Bold, c.Red, c.Reset)
		os.Exit(1)
	}
	defer client.Close()

	start := time.Now()
	if err := client.Ping(); err != nil {
		fmt.Printf("  %sDaemon%s  %s%sNOT RESPONDING%s (%v)\n", c.Dim, c.Reset, c.Bold, c.Red, c.Reset, err)
		os.Exit(1)
	}
	latency := time.Since(start)

	fmt.Printf("  %sDaemon%s  %s%sRUNNING%s (latency: %s)\n",
		c.Dim, c.Reset, c.Bold, c.Green, c.Reset, latency.Round(time.Microsecond))
}
