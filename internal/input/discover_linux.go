//go:build linux

package input

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Linux input event type bits in the B: EV= bitmask.
const (
	evBitKey = 1 << 1 // EV_KEY
	evBitRel = 1 << 2 // EV_REL
	evBitAbs = 1 << 3 // EV_ABS
)

// relAxisXY are the REL_X and REL_Y bits in the B: REL= bitmask.
const relAxisXY = 0x3

// A keyboard's B: KEY= bitmap spans many groups; a bare mouse's fits
// in one or two. The length cutoff matches what shows up in practice.
const keyboardBitmapMin = 20

// Discover lists input devices from /proc/bus/input/devices.
func Discover() ([]Device, error) {
	f, err := os.Open("/proc/bus/input/devices")
	if err != nil {
		return nil, fmt.Errorf("input: reading device list: %w", err)
	}
	defer f.Close()

	return parseDeviceList(f)
}

// parseDeviceList reads the /proc/bus/input/devices format: one block
// per device, blank-line separated, with I/N/P/H/B prefixed lines.
func parseDeviceList(r io.Reader) ([]Device, error) {
	var (
		devices []Device
		cur     Device
		kbdHint bool
		keyBits string
		relBits uint64
		evBits  uint64
	)

	flush := func() {
		if cur.Path == "" {
			cur = Device{}
			kbdHint, keyBits, relBits, evBits = false, "", 0, 0
			return
		}

		if kbdHint && evBits&evBitKey != 0 && len(keyBits) > keyboardBitmapMin {
			cur.Class |= ClassKeyboard
		}
		if evBits&evBitRel != 0 && relBits&relAxisXY != 0 {
			cur.Class |= ClassPointer
		}
		if evBits&evBitAbs != 0 {
			cur.Class |= ClassPointer
		}

		if cur.Class != 0 {
			devices = append(devices, cur)
		}
		cur = Device{}
		kbdHint, keyBits, relBits, evBits = false, "", 0, 0
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "I:"):
			for _, part := range strings.Fields(line) {
				if v, ok := strings.CutPrefix(part, "Vendor="); ok {
					if n, err := strconv.ParseUint(v, 16, 16); err == nil {
						cur.Vendor = uint16(n)
					}
				}
				if v, ok := strings.CutPrefix(part, "Product="); ok {
					if n, err := strconv.ParseUint(v, 16, 16); err == nil {
						cur.Product = uint16(n)
					}
				}
			}

		case strings.HasPrefix(line, "N: Name="):
			cur.Name = strings.Trim(strings.TrimPrefix(line, "N: Name="), `"`)

		case strings.HasPrefix(line, "P: Phys="):
			cur.Phys = strings.TrimPrefix(line, "P: Phys=")

		case strings.HasPrefix(line, "H: Handlers="):
			for _, h := range strings.Fields(strings.TrimPrefix(line, "H: Handlers=")) {
				if strings.HasPrefix(h, "event") {
					cur.Path = "/dev/input/" + h
				}
				if strings.HasPrefix(h, "kbd") {
					kbdHint = true
				}
				if strings.HasPrefix(h, "mouse") {
					cur.Class |= ClassPointer
				}
			}

		case strings.HasPrefix(line, "B: EV="):
			if n, err := strconv.ParseUint(strings.TrimPrefix(line, "B: EV="), 16, 64); err == nil {
				evBits = n
			}

		case strings.HasPrefix(line, "B: KEY="):
			keyBits = strings.TrimSpace(strings.TrimPrefix(line, "B: KEY="))

		case strings.HasPrefix(line, "B: REL="):
			if n, err := strconv.ParseUint(strings.TrimPrefix(line, "B: REL="), 16, 64); err == nil {
				relBits = n
			}

		case line == "":
			flush()
		}
	}
	flush()

	return devices, scanner.Err()
}
