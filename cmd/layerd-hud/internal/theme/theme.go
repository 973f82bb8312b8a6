package theme

import (
	"image/color"

	"gioui.org/unit"
	"gioui.org/widget/material"
)

// Palette defines the HUD colors.
type Palette struct {
	Background color.NRGBA
	Surface    color.NRGBA
	Text       color.NRGBA
	TextMuted  color.NRGBA
	Border     color.NRGBA
	Raised     color.NRGBA
	Lowered    color.NRGBA
	Warning    color.NRGBA
	Error      color.NRGBA
}

// Config defines the HUD metrics.
type Config struct {
	CornerRadius unit.Dp
	Spacing      unit.Dp
	Padding      unit.Dp
	FontTitle    unit.Sp
	FontLayer    unit.Sp
	FontBody     unit.Sp
	FontCaption  unit.Sp
}

// Theme wraps the material theme with HUD styling.
type Theme struct {
	*material.Theme
	Palette Palette
	Config  Config
}

// New creates the HUD theme. A single dark palette: the HUD floats
// over arbitrary desktops and must stay readable on all of them.
func New(mtheme *material.Theme) *Theme {
	return &Theme{
		Theme: mtheme,
		Palette: Palette{
			Background: color.NRGBA{R: 0x16, G: 0x18, B: 0x1D, A: 0xFF},
			Surface:    color.NRGBA{R: 0x20, G: 0x23, B: 0x2A, A: 0xFF},
			Text:       color.NRGBA{R: 0xE8, G: 0xEA, B: 0xED, A: 0xFF},
			TextMuted:  color.NRGBA{R: 0x8A, G: 0x91, B: 0x99, A: 0xFF},
			Border:     color.NRGBA{R: 0x33, G: 0x38, B: 0x41, A: 0xFF},
			Raised:     color.NRGBA{R: 0x3F, G: 0xB9, B: 0x50, A: 0xFF},
			Lowered:    color.NRGBA{R: 0x5C, G: 0x63, B: 0x70, A: 0xFF},
			Warning:    color.NRGBA{R: 0xE5, G: 0xA5, B: 0x0A, A: 0xFF},
			Error:      color.NRGBA{R: 0xE5, G: 0x48, B: 0x4D, A: 0xFF},
		},
		Config: Config{
			CornerRadius: unit.Dp(8),
			Spacing:      unit.Dp(8),
			Padding:      unit.Dp(14),
			FontTitle:    unit.Sp(16),
			FontLayer:    unit.Sp(40),
			FontBody:     unit.Sp(13),
			FontCaption:  unit.Sp(11),
		},
	}
}

// layerAccents cycle per layer index so adjacent layers read apart at
// a glance.
var layerAccents = [...]color.NRGBA{
	{R: 0x3F, G: 0xB9, B: 0x50, A: 0xFF}, // green
	{R: 0x4C, G: 0x9E, B: 0xE8, A: 0xFF}, // blue
	{R: 0xC7, G: 0x77, B: 0xE8, A: 0xFF}, // purple
	{R: 0xE8, G: 0x9A, B: 0x3C, A: 0xFF}, // orange
	{R: 0x3C, G: 0xC8, B: 0xB4, A: 0xFF}, // teal
	{R: 0xE8, G: 0x5C, B: 0x8A, A: 0xFF}, // pink
}

// LayerAccent picks a stable accent color for a layer index.
func (t *Theme) LayerAccent(layer int) color.NRGBA {
	if layer < 0 {
		return t.Palette.Lowered
	}
	return layerAccents[layer%len(layerAccents)]
}
