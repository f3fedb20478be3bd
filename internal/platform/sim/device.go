// Package sim implements platform.Device on top of a YAML device profile.
// It reproduces the documented behavior of both ios and android devices
// and is used on development hosts and in tests.
package sim

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/koios/device-bridge/internal/platform"
	"github.com/koios/device-bridge/pkg/models"
)

// Device is a simulated device
type Device struct {
	profile  models.DeviceProfile
	procRoot string

	mu         sync.Mutex
	torchOn    bool
	vibrations int
	monitors   int
}

// New creates a simulated device from a validated profile
func New(profile models.DeviceProfile, procRoot string) *Device {
	if procRoot == "" {
		procRoot = "/proc"
	}
	return &Device{profile: profile, procRoot: procRoot}
}

// Platform returns the platform tag of the profile
func (d *Device) Platform() string {
	return d.profile.Platform
}

// Vibrator returns the simulated vibration motor
func (d *Device) Vibrator(ctx context.Context) (platform.Vibrator, error) {
	if !d.profile.HasVibrator {
		return nil, platform.ErrUnavailable
	}
	return vibrator{d}, nil
}

type vibrator struct{ d *Device }

func (v vibrator) Vibrate(ctx context.Context, _ time.Duration) error {
	v.d.mu.Lock()
	defer v.d.mu.Unlock()
	v.d.vibrations++
	return nil
}

// Torch returns the simulated torch
func (d *Device) Torch(ctx context.Context) (platform.Torch, error) {
	if !d.profile.HasTorch {
		return nil, platform.ErrUnavailable
	}
	return torch{d}, nil
}

type torch struct{ d *Device }

func (t torch) SetTorch(ctx context.Context, on bool) error {
	if msg := t.d.profile.TorchError; msg != "" {
		return errors.New(msg)
	}
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	t.d.torchOn = on
	return nil
}

// TorchOn reports the hardware torch state
func (d *Device) TorchOn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.torchOn
}

// Vibrations reports how many pulses were triggered
func (d *Device) Vibrations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.vibrations
}

// Identifier returns the profile identifier, "" when unset
func (d *Device) Identifier(ctx context.Context) (string, error) {
	return d.profile.Identifier, nil
}

// Info returns the profile metadata with platform-specific defaults
func (d *Device) Info(ctx context.Context) (platform.Info, error) {
	p := d.profile

	info := platform.Info{
		Name:            p.Name,
		Model:           p.Model,
		OperatingSystem: p.OperatingSystem,
		OSVersion:       p.OSVersion,
		Manufacturer:    p.Manufacturer,
		IsVirtual:       true,
		MemUsed:         platform.ResidentMemory(d.procRoot),
		WebViewVersion:  p.WebViewVersion,
	}

	switch p.Platform {
	case platform.IOS:
		info.Manufacturer = "Apple"
		if info.OperatingSystem == "" {
			info.OperatingSystem = "iOS"
		}
		if info.WebViewVersion == "" {
			info.WebViewVersion = p.OSVersion
		}
	case platform.Android:
		info.SDKVersion = p.SDKVersion
		if info.OperatingSystem == "" {
			info.OperatingSystem = "Android"
		}
		if info.Name == "" {
			info.Name = p.Manufacturer + " " + p.Model
		}
		if info.WebViewVersion == "" {
			info.WebViewVersion = "unknown"
		}
	}

	return info, nil
}

// SetBatteryMonitoring acquires (true) or releases (false) battery
// monitoring. Monitoring stays on until every acquisition is released; iOS
// profiles report an unknown level while it is off.
func (d *Device) SetBatteryMonitoring(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if enabled {
		d.monitors++
	} else if d.monitors > 0 {
		d.monitors--
	}
}

// BatteryMonitoring reports whether monitoring is currently enabled
func (d *Device) BatteryMonitoring() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.monitors > 0
}

// Battery returns the simulated battery reading
func (d *Device) Battery(ctx context.Context) (platform.Battery, error) {
	b := d.profile.Battery

	if d.profile.Platform == platform.IOS {
		if !d.BatteryMonitoring() {
			return platform.Battery{Level: -1}, nil
		}
		return platform.Battery{
			Level:    b.Level,
			Charging: b.State == models.BatteryStateCharging,
		}, nil
	}

	return platform.Battery{
		Level:    b.Level,
		Charging: b.State == models.BatteryStateCharging || b.State == models.BatteryStateFull,
	}, nil
}
