// Package ui renders the layerd heads-up display: the current layer
// state front and center, a scrolling feed of activation events below.
package ui

import (
	"fmt"
	"image"
	"sync"
	"time"

	"gioui.org/layout"
	"gioui.org/op/clip"
	"gioui.org/op/paint"
	"gioui.org/unit"
	"gioui.org/widget"
	"gioui.org/widget/material"

	"layerd/cmd/layerd-hud/internal/theme"
	"layerd/internal/ipc"
)

// feedCap bounds the event feed so a long-running HUD stays flat.
const feedCap = 50

type feedEntry struct {
	when   time.Time
	label  string
	detail string
	layer  int // -1 for entries without a layer
}

// HUD is the main UI component. State setters are safe to call from
// the IPC pump goroutine; Layout runs on the window goroutine.
type HUD struct {
	theme *theme.Theme

	mu        sync.Mutex
	connected bool
	paused    bool
	layer     int // raised layer, -1 when none
	device    string
	daemon    string // version string from the last status
	feed      []feedEntry

	feedList widget.List
}

// New creates the HUD in the disconnected state.
func New(t *theme.Theme) *HUD {
	return &HUD{
		theme: t,
		layer: -1,
		feedList: widget.List{
			List: layout.List{Axis: layout.Vertical},
		},
	}
}

// SetConnected flips the connection indicator. Losing the connection
// clears the layer state; the daemon may have exited mid-activation.
func (h *HUD) SetConnected(ok bool) {
	h.mu.Lock()
	h.connected = ok
	if !ok {
		h.layer = -1
		h.device = ""
	}
	h.mu.Unlock()
}

// ApplyStatus seeds the HUD from a status snapshot, used on (re)connect.
func (h *HUD) ApplyStatus(st *ipc.StatusResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connected = true
	h.paused = st.Paused
	h.daemon = st.Version
	h.layer = -1
	if len(st.ActiveLayers) > 0 {
		h.layer = st.ActiveLayers[len(st.ActiveLayers)-1]
	}
}

// ApplyEvent folds one streamed event into the display state.
func (h *HUD) ApplyEvent(ev *ipc.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry := feedEntry{when: ev.Timestamp, layer: ev.Layer}
	switch ev.Type {
	case ipc.EvtActivated:
		h.layer = ev.Layer
		h.device = ev.Device
		entry.label = "raised"
		entry.detail = ev.Device
	case ipc.EvtDeactivated:
		h.layer = -1
		h.device = ""
		entry.label = "lowered"
		entry.detail = ev.Cause
	case ipc.EvtSuppressed:
		entry.label = "suppressed"
		entry.detail = ev.Reason
	case ipc.EvtPaused:
		h.paused = true
		entry.label = "paused"
		entry.layer = -1
	case ipc.EvtResumed:
		h.paused = false
		entry.label = "resumed"
		entry.layer = -1
	default:
		return
	}

	h.feed = append([]feedEntry{entry}, h.feed...)
	if len(h.feed) > feedCap {
		h.feed = h.feed[:feedCap]
	}
}

// snapshot copies the display state out from under the lock.
func (h *HUD) snapshot() (connected, paused bool, layer int, device, daemon string, feed []feedEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected, h.paused, h.layer, h.device, h.daemon, append([]feedEntry(nil), h.feed...)
}

// Layout renders the HUD.
func (h *HUD) Layout(gtx layout.Context) layout.Dimensions {
	paint.Fill(gtx.Ops, h.theme.Palette.Background)

	connected, paused, layer, device, daemon, feed := h.snapshot()

	return layout.UniformInset(h.theme.Config.Padding).Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				return h.layoutHeader(gtx, connected, daemon)
			}),
			layout.Rigid(layout.Spacer{Height: h.theme.Config.Spacing}.Layout),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				return h.layoutLayerCard(gtx, connected, paused, layer, device)
			}),
			layout.Rigid(layout.Spacer{Height: h.theme.Config.Spacing}.Layout),
			layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
				return h.layoutFeed(gtx, feed)
			}),
		)
	})
}

func (h *HUD) layoutHeader(gtx layout.Context, connected bool, daemon string) layout.Dimensions {
	return layout.Flex{Axis: layout.Horizontal, Alignment: layout.Middle}.Layout(gtx,
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			title := material.H6(h.theme.Theme, "LAYERD")
			title.Color = h.theme.Palette.Text
			title.TextSize = h.theme.Config.FontTitle
			return title.Layout(gtx)
		}),
		layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
			return layout.Dimensions{Size: image.Pt(gtx.Constraints.Max.X, 0)}
		}),
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			label := "offline"
			dot := h.theme.Palette.Error
			if connected {
				label = daemon
				dot = h.theme.Palette.Raised
			}
			return layout.Flex{Axis: layout.Horizontal, Alignment: layout.Middle}.Layout(gtx,
				layout.Rigid(func(gtx layout.Context) layout.Dimensions {
					size := gtx.Dp(unit.Dp(8))
					rect := clip.Ellipse{Max: image.Pt(size, size)}.Op(gtx.Ops)
					paint.FillShape(gtx.Ops, dot, rect)
					return layout.Dimensions{Size: image.Pt(size, size)}
				}),
				layout.Rigid(layout.Spacer{Width: unit.Dp(6)}.Layout),
				layout.Rigid(func(gtx layout.Context) layout.Dimensions {
					l := material.Caption(h.theme.Theme, label)
					l.Color = h.theme.Palette.TextMuted
					return l.Layout(gtx)
				}),
			)
		}),
	)
}

// layoutLayerCard draws the headline state: which layer is up, or why
// nothing is.
func (h *HUD) layoutLayerCard(gtx layout.Context, connected, paused bool, layer int, device string) layout.Dimensions {
	accent := h.theme.LayerAccent(layer)
	headline := "—"
	caption := "layer down"
	switch {
	case !connected:
		caption = "daemon offline"
	case paused:
		accent = h.theme.Palette.Warning
		caption = "paused"
	case layer >= 0:
		headline = fmt.Sprintf("%d", layer)
		caption = "layer raised"
		if device != "" {
			caption = "raised by " + device
		}
	}

	return h.card(gtx, func(gtx layout.Context) layout.Dimensions {
		return layout.Flex{Axis: layout.Vertical, Alignment: layout.Middle}.Layout(gtx,
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				return layout.Center.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
					l := material.H3(h.theme.Theme, headline)
					l.Color = accent
					l.TextSize = h.theme.Config.FontLayer
					return l.Layout(gtx)
				})
			}),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				return layout.Center.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
					l := material.Body2(h.theme.Theme, caption)
					l.Color = h.theme.Palette.TextMuted
					l.TextSize = h.theme.Config.FontBody
					return l.Layout(gtx)
				})
			}),
		)
	})
}

func (h *HUD) layoutFeed(gtx layout.Context, feed []feedEntry) layout.Dimensions {
	return h.card(gtx, func(gtx layout.Context) layout.Dimensions {
		if len(feed) == 0 {
			return layout.Center.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
				l := material.Body2(h.theme.Theme, "no events yet")
				l.Color = h.theme.Palette.TextMuted
				return l.Layout(gtx)
			})
		}

		list := material.List(h.theme.Theme, &h.feedList)
		return list.Layout(gtx, len(feed), func(gtx layout.Context, i int) layout.Dimensions {
			return h.layoutFeedRow(gtx, feed[i])
		})
	})
}

func (h *HUD) layoutFeedRow(gtx layout.Context, e feedEntry) layout.Dimensions {
	return layout.Inset{Top: unit.Dp(3), Bottom: unit.Dp(3)}.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		return layout.Flex{Axis: layout.Horizontal, Alignment: layout.Baseline}.Layout(gtx,
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				l := material.Caption(h.theme.Theme, e.when.Format("15:04:05"))
				l.Color = h.theme.Palette.TextMuted
				l.TextSize = h.theme.Config.FontCaption
				return l.Layout(gtx)
			}),
			layout.Rigid(layout.Spacer{Width: unit.Dp(8)}.Layout),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				text := e.label
				if e.layer >= 0 {
					text = fmt.Sprintf("%s %d", e.label, e.layer)
				}
				l := material.Body2(h.theme.Theme, text)
				l.Color = h.theme.LayerAccent(e.layer)
				if e.layer < 0 {
					l.Color = h.theme.Palette.Text
				}
				l.TextSize = h.theme.Config.FontBody
				return l.Layout(gtx)
			}),
			layout.Rigid(layout.Spacer{Width: unit.Dp(8)}.Layout),
			layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
				l := material.Caption(h.theme.Theme, e.detail)
				l.Color = h.theme.Palette.TextMuted
				l.TextSize = h.theme.Config.FontCaption
				return l.Layout(gtx)
			}),
		)
	})
}

// card wraps content in the HUD's rounded surface.
func (h *HUD) card(gtx layout.Context, content layout.Widget) layout.Dimensions {
	return layout.Background{}.Layout(gtx,
		func(gtx layout.Context) layout.Dimensions {
			size := gtx.Constraints.Min
			rect := clip.UniformRRect(image.Rect(0, 0, size.X, size.Y),
				gtx.Dp(h.theme.Config.CornerRadius)).Op(gtx.Ops)
			paint.FillShape(gtx.Ops, h.theme.Palette.Surface, rect)
			return layout.Dimensions{Size: size}
		},
		func(gtx layout.Context) layout.Dimensions {
			return layout.UniformInset(unit.Dp(10)).Layout(gtx, content)
		},
	)
}
