// layerd-hud is a small always-available window showing the live layer
// state of a running layerd: which layer is raised, by which device,
// and a feed of recent activation events. It is a pure IPC subscriber
// and never touches input devices itself.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"gioui.org/app"
	"gioui.org/op"
	"gioui.org/unit"
	"gioui.org/widget/material"

	"layerd/cmd/layerd-hud/internal/theme"
	"layerd/cmd/layerd-hud/internal/ui"
	"layerd/internal/config"
	"layerd/internal/ipc"
)

var (
	configPath = flag.String("config", "", "path to config file")
	socketPath = flag.String("socket", "", "control socket path (overrides config)")
)

func main() {
	flag.Parse()

	socket := *socketPath
	if socket == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Cannot load config: %v\n", err)
			os.Exit(1)
		}
		socket = cfg.IPC.SocketPath
	}

	go func() {
		w := new(app.Window)
		w.Option(app.Title("layerd"))
		w.Option(app.Size(unit.Dp(320), unit.Dp(420)))

		if err := loop(w, socket); err != nil {
			log.Fatal(err)
		}
		os.Exit(0)
	}()
	app.Main()
}

func loop(w *app.Window, socket string) error {
	t := theme.New(material.NewTheme())
	hud := ui.New(t)

	go feed(w, hud, socket)

	var ops op.Ops
	for {
		switch e := w.Event().(type) {
		case app.DestroyEvent:
			return e.Err
		case app.FrameEvent:
			gtx := app.NewContext(&ops, e)
			hud.Layout(gtx)
			e.Frame(gtx.Ops)
		}
	}
}

// feed keeps the HUD fed from the daemon, reconnecting with backoff
// when the daemon goes away.
func feed(w *app.Window, hud *ui.HUD, socket string) {
	for {
		client := ipc.NewClient(ipc.DefaultClientConfig(socket))
		if err := client.Connect(); err != nil {
			hud.SetConnected(false)
			w.Invalidate()
			time.Sleep(2 * time.Second)
			continue
		}

		if st, err := client.Status(); err == nil {
			hud.ApplyStatus(st)
			w.Invalidate()
		}
		if err := client.Subscribe(); err != nil {
			client.Close()
			hud.SetConnected(false)
			w.Invalidate()
			time.Sleep(2 * time.Second)
			continue
		}

		// Blocks until the daemon closes the connection.
		for ev := range client.Events() {
			hud.ApplyEvent(ev)
			w.Invalidate()
		}

		client.Close()
		hud.SetConnected(false)
		w.Invalidate()
		time.Sleep(time.Second)
	}
}
