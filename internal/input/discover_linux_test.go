//go:build linux

package input

import (
	"strings"
	"testing"
)

const procDevicesFixture = `I: Bus=0003 Vendor=046d Product=c52b Version=0111
N: Name="Logitech USB Receiver"
P: Phys=usb-0000:00:14.0-2/input1
S: Sysfs=/devices/pci0000:00/0000:00:14.0/usb1/1-2/1-2:1.1/0003:046D:C52B.0002/input/input3
U: Uniq=
H: Handlers=mouse0 event3
B: PROP=0
B: EV=17
B: KEY=1f0000 0 0 0 0
B: REL=903
B: MSC=10

I: Bus=0011 Vendor=0001 Product=0001 Version=ab41
N: Name="AT Translated Set 2 keyboard"
P: Phys=isa0060/serio0/input0
S: Sysfs=/devices/platform/i8042/serio0/input/input0
U: Uniq=
H: Handlers=sysrq kbd event0 leds
B: PROP=0
B: EV=120013
B: KEY=402000000 3803078f800d001 feffffdfffefffff fffffffffffffffe
B: MSC=10
B: LED=7

I: Bus=0019 Vendor=0000 Product=0001 Version=0000
N: Name="Power Button"
P: Phys=PNP0C0C/button/input0
S: Sysfs=/devices/LNXSYSTM:00/LNXPWRBN:00/input/input1
U: Uniq=
H: Handlers=kbd event1
B: PROP=0
B: EV=3
B: KEY=10000000000000 0

I: Bus=0006 Vendor=0000 Product=0000 Version=0000
N: Name="Virtual Keyboard"
P: Phys=
S: Sysfs=/devices/virtual/input/input9
U: Uniq=
H: Handlers=sysrq kbd event9
B: PROP=0
B: EV=120013
B: KEY=402000000 3803078f800d001 feffffdfffefffff fffffffffffffffe

I: Bus=0011 Vendor=0002 Product=000a Version=0000
N: Name="TPPS/2 IBM TrackPoint"
P: Phys=synaptics-pt/serio0/input0
S: Sysfs=/devices/platform/i8042/serio1/serio2/input/input6
U: Uniq=
H: Handlers=mouse1 event5
B: PROP=21
B: EV=7
B: KEY=70000 0 0 0 0
B: REL=3
`

func TestParseDeviceList(t *testing.T) {
	devices, err := parseDeviceList(strings.NewReader(procDevicesFixture))
	if err != nil {
		t.Fatalf("parseDeviceList() error = %v", err)
	}

	byName := make(map[string]Device)
	for _, d := range devices {
		byName[d.Name] = d
	}

	tests := []struct {
		name        string
		wantPath    string
		wantClass   DeviceClass
		wantVirtual bool
	}{
		{
			name:      "Logitech USB Receiver",
			wantPath:  "/dev/input/event3",
			wantClass: ClassPointer,
		},
		{
			name:      "AT Translated Set 2 keyboard",
			wantPath:  "/dev/input/event0",
			wantClass: ClassKeyboard,
		},
		{
			name:        "Virtual Keyboard",
			wantPath:    "/dev/input/event9",
			wantClass:   ClassKeyboard,
			wantVirtual: true,
		},
		{
			name:      "TPPS/2 IBM TrackPoint",
			wantPath:  "/dev/input/event5",
			wantClass: ClassPointer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, ok := byName[tt.name]
			if !ok {
				t.Fatalf("device %q not discovered", tt.name)
			}
			if dev.Path != tt.wantPath {
				t.Errorf("Path = %q, want %q", dev.Path, tt.wantPath)
			}
			if dev.Class != tt.wantClass {
				t.Errorf("Class = %v, want %v", dev.Class, tt.wantClass)
			}
			if dev.IsVirtual() != tt.wantVirtual {
				t.Errorf("IsVirtual() = %v, want %v", dev.IsVirtual(), tt.wantVirtual)
			}
		})
	}

	// The power button carries a kbd handler but only a few key bits.
	if _, ok := byName["Power Button"]; ok {
		t.Error("power button classified as an input device")
	}
}

func TestParseDeviceListVendorProduct(t *testing.T) {
	devices, err := parseDeviceList(strings.NewReader(procDevicesFixture))
	if err != nil {
		t.Fatalf("parseDeviceList() error = %v", err)
	}

	for _, d := range devices {
		if d.Name == "Logitech USB Receiver" {
			if d.Vendor != 0x046d {
				t.Errorf("Vendor = %#x, want 0x046d", d.Vendor)
			}
			if d.Product != 0xc52b {
				t.Errorf("Product = %#x, want 0xc52b", d.Product)
			}
			return
		}
	}
	t.Fatal("receiver not found")
}

func TestParseDeviceListNoTrailingNewline(t *testing.T) {
	fixture := strings.TrimRight(procDevicesFixture, "\n")

	devices, err := parseDeviceList(strings.NewReader(fixture))
	if err != nil {
		t.Fatalf("parseDeviceList() error = %v", err)
	}

	found := false
	for _, d := range devices {
		if d.Name == "TPPS/2 IBM TrackPoint" {
			found = true
		}
	}
	if !found {
		t.Error("last device block lost without trailing newline")
	}
}

func TestDeviceClassString(t *testing.T) {
	tests := []struct {
		class DeviceClass
		want  string
	}{
		{ClassKeyboard, "keyboard"},
		{ClassPointer, "pointer"},
		{ClassKeyboard | ClassPointer, "keyboard+pointer"},
		{0, "none"},
	}

	for _, tt := range tests {
		if got := tt.class.String(); got != tt.want {
			t.Errorf("DeviceClass(%d).String() = %q, want %q", tt.class, got, tt.want)
		}
	}
}
