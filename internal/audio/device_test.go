package audio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chaz8081/voicecore/internal/events"
)

type failingDriver struct{ ReplayDriver }

func (*failingDriver) Devices() ([]Device, error) { return nil, errors.New("no audio service") }

func TestEnumerateMarksActive(t *testing.T) {
	m := NewDeviceManager(NewReplayDriver(testDevices()...))

	devices, err := m.Enumerate()
	if err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("Enumerate() returned %d devices", len(devices))
	}
	if !devices[0].IsActive || devices[1].IsActive {
		t.Errorf("default device should be active: %+v", devices)
	}

	if _, err := m.Select("mic-1"); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	devices, _ = m.Enumerate()
	if devices[0].IsActive || !devices[1].IsActive {
		t.Errorf("selected device should be active: %+v", devices)
	}

	dev, err := m.Select("")
	if err != nil || dev.ID != "mic-0" {
		t.Errorf("Select(\"\") = %+v, %v, want default", dev, err)
	}
}

func TestDefaultFallsBackToFirst(t *testing.T) {
	d := NewReplayDriver()
	d.Plug(Device{ID: "a", Name: "A"})
	d.Plug(Device{ID: "b", Name: "B"})
	dev, err := NewDeviceManager(d).Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if dev.ID != "a" {
		t.Errorf("Default() = %q, want a", dev.ID)
	}
}

func TestDeviceErrors(t *testing.T) {
	if _, err := NewDeviceManager(NewReplayDriver()).Default(); !errors.Is(err, ErrDevice) {
		t.Errorf("Default() with no devices error = %v, want ErrDevice", err)
	}
	if _, err := NewDeviceManager(&failingDriver{}).Enumerate(); !errors.Is(err, ErrDevice) {
		t.Errorf("Enumerate() error = %v, want ErrDevice", err)
	}

	d := NewReplayDriver(testDevices()...)
	m := NewDeviceManager(d)
	if _, err := m.Select("mic-1"); err != nil {
		t.Fatal(err)
	}
	d.Unplug("mic-1")
	if _, err := m.Resolve(); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Resolve() after unplug error = %v, want ErrDeviceNotFound", err)
	}
}

func TestWatchEmitsDeviceChanges(t *testing.T) {
	d := NewReplayDriver(testDevices()...)
	m := NewDeviceManager(d)
	if _, err := m.Enumerate(); err != nil {
		t.Fatal(err)
	}

	bus := events.NewBus(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Watch(ctx, 10*time.Millisecond, bus)

	d.Plug(Device{ID: "mic-2", Name: "Webcam"})
	d.Unplug("mic-1")

	var added, removed bool
	timeout := time.After(2 * time.Second)
	for !added || !removed {
		select {
		case ev := <-bus.Events():
			if ev.Type != events.DeviceChanged {
				t.Fatalf("unexpected event %v", ev.Type)
			}
			if ev.DeviceID == "mic-2" && ev.Connected {
				added = true
			}
			if ev.DeviceID == "mic-1" && !ev.Connected {
				removed = true
			}
		case <-timeout:
			t.Fatalf("timed out: added=%v removed=%v", added, removed)
		}
	}
}

func TestDeviceStateString(t *testing.T) {
	if DeviceUnplugged.String() != "unplugged" || DeviceState(9).String() != "state(9)" {
		t.Error("unexpected DeviceState strings")
	}
}
