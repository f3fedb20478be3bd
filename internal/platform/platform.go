// Package platform abstracts the native hardware a bridge operation talks
// to. Backends live in the android and sim subpackages.
package platform

import (
	"context"
	"errors"
	"time"
)

// Platform tags reported in device info
const (
	Android = "android"
	IOS     = "ios"
)

// ErrUnavailable is returned when the requested hardware does not exist
var ErrUnavailable = errors.New("hardware not available")

// Vibrator drives the vibration motor or haptic engine
type Vibrator interface {
	Vibrate(ctx context.Context, d time.Duration) error
}

// Torch is the LED attached to a camera module
type Torch interface {
	SetTorch(ctx context.Context, on bool) error
}

// Info is the static and computed metadata of a device
type Info struct {
	Name            string
	Model           string
	OperatingSystem string
	OSVersion       string
	Manufacturer    string
	IsVirtual       bool
	MemUsed         int64
	WebViewVersion  string
	SDKVersion      int // android API level, 0 elsewhere
}

// Battery is a single battery reading. Level is a fraction in [0,1], or
// negative when unknown.
type Battery struct {
	Level    float64
	Charging bool
}

// Device is the native context every bridge operation runs against
type Device interface {
	// Platform returns Android or IOS
	Platform() string
	// Vibrator returns ErrUnavailable when the device has no vibrator
	Vibrator(ctx context.Context) (Vibrator, error)
	// Torch returns ErrUnavailable when no camera has a torch
	Torch(ctx context.Context) (Torch, error)
	// Identifier returns "" with a nil error when the platform id is unset
	Identifier(ctx context.Context) (string, error)
	Info(ctx context.Context) (Info, error)
	Battery(ctx context.Context) (Battery, error)
}

// BatteryMonitor is implemented by devices that only report battery state
// while monitoring is switched on. Every SetBatteryMonitoring(true) is paired
// with a SetBatteryMonitoring(false); monitoring stays on while any pair is
// still open.
type BatteryMonitor interface {
	SetBatteryMonitoring(enabled bool)
}
