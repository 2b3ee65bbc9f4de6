package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/voicecore/internal/events"
)

// DeviceState describes the availability of a capture endpoint.
type DeviceState int

const (
	DeviceActive DeviceState = iota
	DeviceDisabled
	DeviceUnplugged
)

func (s DeviceState) String() string {
	switch s {
	case DeviceActive:
		return "active"
	case DeviceDisabled:
		return "disabled"
	case DeviceUnplugged:
		return "unplugged"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Device is an immutable snapshot of one capture endpoint.
type Device struct {
	ID        string
	Name      string
	IsDefault bool
	// IsActive marks the device the recorder currently has selected.
	IsActive bool
	State    DeviceState
}

// DeviceManager enumerates capture endpoints and tracks the selected one.
type DeviceManager struct {
	driver Driver

	mu       sync.Mutex
	selected string
	known    map[string]Device
}

// NewDeviceManager creates a manager backed by driver.
func NewDeviceManager(driver Driver) *DeviceManager {
	return &DeviceManager{driver: driver, known: make(map[string]Device)}
}

// Enumerate returns a fresh list of capture devices with IsActive set on
// the selected (or default) device.
func (m *DeviceManager) Enumerate() ([]Device, error) {
	devices, err := m.driver.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate: %v", ErrDevice, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	active := m.activeIDLocked(devices)
	m.known = make(map[string]Device, len(devices))
	for i := range devices {
		devices[i].IsActive = devices[i].ID == active
		m.known[devices[i].ID] = devices[i]
	}
	return devices, nil
}

// Default returns the system default device, or the first device when the
// driver marks none as default.
func (m *DeviceManager) Default() (Device, error) {
	devices, err := m.Enumerate()
	if err != nil {
		return Device{}, err
	}
	if len(devices) == 0 {
		return Device{}, fmt.Errorf("%w: no capture devices", ErrDevice)
	}
	for _, d := range devices {
		if d.IsDefault {
			return d, nil
		}
	}
	return devices[0], nil
}

// Select makes id the active device. An empty id reverts to the default.
func (m *DeviceManager) Select(id string) (Device, error) {
	if id == "" {
		m.mu.Lock()
		m.selected = ""
		m.mu.Unlock()
		return m.Default()
	}

	devices, err := m.Enumerate()
	if err != nil {
		return Device{}, err
	}
	for _, d := range devices {
		if d.ID == id {
			m.mu.Lock()
			m.selected = id
			m.mu.Unlock()
			d.IsActive = true
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("%w: %q", ErrDeviceNotFound, id)
}

// Selected returns the explicitly selected device id, or "" for default.
func (m *DeviceManager) Selected() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}

// Resolve returns the device the recorder should open.
func (m *DeviceManager) Resolve() (Device, error) {
	selected := m.Selected()
	if selected == "" {
		return m.Default()
	}
	devices, err := m.Enumerate()
	if err != nil {
		return Device{}, err
	}
	for _, d := range devices {
		if d.ID == selected {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("%w: selected device %q is gone", ErrDeviceNotFound, selected)
}

// Watch re-enumerates every interval and emits a device-changed event for
// each device that appeared or disappeared. It returns when ctx is done.
func (m *DeviceManager) Watch(ctx context.Context, interval time.Duration, bus *events.Bus) {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	m.mu.Lock()
	prev := make(map[string]Device, len(m.known))
	for id, d := range m.known {
		prev[id] = d
	}
	m.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		devices, err := m.Enumerate()
		if err != nil {
			slog.Warn("[AUDIO] device enumeration failed", "error", err)
			continue
		}

		current := make(map[string]Device, len(devices))
		for _, d := range devices {
			current[d.ID] = d
			if _, ok := prev[d.ID]; !ok {
				slog.Info("[AUDIO] device added", "id", d.ID, "name", d.Name)
				bus.Emit(events.Event{Type: events.DeviceChanged, DeviceID: d.ID, DeviceName: d.Name, Connected: true})
			}
		}
		for id, d := range prev {
			if _, ok := current[id]; !ok {
				slog.Info("[AUDIO] device removed", "id", id, "name", d.Name)
				bus.Emit(events.Event{Type: events.DeviceChanged, DeviceID: id, DeviceName: d.Name, Connected: false})
			}
		}
		prev = current
	}
}

// activeIDLocked picks the selected id when present, else the default.
func (m *DeviceManager) activeIDLocked(devices []Device) string {
	if m.selected != "" {
		return m.selected
	}
	for _, d := range devices {
		if d.IsDefault {
			return d.ID
		}
	}
	if len(devices) > 0 {
		return devices[0].ID
	}
	return ""
}
