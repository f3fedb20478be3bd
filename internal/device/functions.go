// Package device implements the Device.* bridge functions on top of a
// platform.Device.
package device

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koios/device-bridge/internal/bridge"
	"github.com/koios/device-bridge/internal/platform"
	"go.uber.org/zap"
)

// Bridge function names
const (
	MethodVibrate          = "Device.Vibrate"
	MethodToggleFlashlight = "Device.ToggleFlashlight"
	MethodGetID            = "Device.GetId"
	MethodGetInfo          = "Device.GetInfo"
	MethodGetBatteryInfo   = "Device.GetBatteryInfo"
)

const (
	errFlashlightUnavailable = "Flashlight not available"
	errUnknown               = "Unknown error"

	unknownAndroidID = "unknown"
)

// DefaultVibrateDuration is the pulse length used when none is configured
const DefaultVibrateDuration = 200 * time.Millisecond

func errorMessage(err error) string {
	if err == nil || err.Error() == "" {
		return errUnknown
	}
	return err.Error()
}

func failure(err error) bridge.Result {
	return bridge.Result{"success": false, "error": errorMessage(err)}
}

// encodeInfo serializes payload into the "info" string field. Any encoding
// failure is reported as an embedded {"error": ...} JSON string.
func encodeInfo(payload any) bridge.Result {
	data, err := json.Marshal(payload)
	if err != nil {
		return infoError(err)
	}
	return bridge.Result{"info": string(data)}
}

// infoError renders {"error": "<message>"} with the space after the colon
// that existing consumers match on
func infoError(err error) bridge.Result {
	msg, _ := json.Marshal(errorMessage(err))
	return bridge.Result{"info": `{"error": ` + string(msg) + `}`}
}

// Vibrate triggers a short pulse on the vibration motor
type Vibrate struct {
	device   platform.Device
	duration time.Duration
	logger   *zap.Logger
}

// Execute implements bridge.Function
func (f *Vibrate) Execute(ctx context.Context, _ bridge.Params) (bridge.Result, error) {
	vibrator, err := f.device.Vibrator(ctx)
	if errors.Is(err, platform.ErrUnavailable) {
		f.logger.Error("Vibrator service not available")
		return bridge.Result{"success": false}, nil
	}
	if err != nil {
		f.logger.Error("Vibrate failed", zap.Error(err))
		return failure(err), nil
	}

	if err := vibrator.Vibrate(ctx, f.duration); err != nil {
		f.logger.Error("Vibrate failed", zap.Error(err))
		return failure(err), nil
	}

	f.logger.Debug("Vibration triggered", zap.Duration("duration", f.duration))
	return bridge.Result{"success": true}, nil
}

// Flashlight remembers the last torch state set through the bridge. The
// hardware is never queried; the flag changes only when an update succeeds.
type Flashlight struct {
	mu sync.Mutex
	on bool
}

// On reports the remembered torch state
func (s *Flashlight) On() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on
}

// ToggleFlashlight flips the torch between on and off
type ToggleFlashlight struct {
	device platform.Device
	state  *Flashlight
	logger *zap.Logger
}

// Execute implements bridge.Function. Concurrent toggles are serialized so
// the flag and the hardware cannot diverge.
func (f *ToggleFlashlight) Execute(ctx context.Context, _ bridge.Params) (bridge.Result, error) {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()

	torch, err := f.device.Torch(ctx)
	if errors.Is(err, platform.ErrUnavailable) {
		f.logger.Error("Flashlight not available on this device")
		return bridge.Result{"success": false, "error": errFlashlightUnavailable}, nil
	}
	if err != nil {
		f.logger.Error("Failed to toggle flashlight", zap.Error(err))
		return failure(err), nil
	}

	next := !f.state.on
	if err := torch.SetTorch(ctx, next); err != nil {
		f.logger.Error("Failed to toggle flashlight", zap.Error(err))
		return failure(err), nil
	}
	f.state.on = next

	f.logger.Debug("Flashlight toggled", zap.Bool("state", next))
	return bridge.Result{"success": true, "state": next}, nil
}

// GetID returns the stable device identifier
type GetID struct {
	device   platform.Device
	fallback func() string
	logger   *zap.Logger
}

// Execute implements bridge.Function. It never fails; a missing
// identifier is replaced by the platform fallback.
func (f *GetID) Execute(ctx context.Context, _ bridge.Params) (bridge.Result, error) {
	id, err := f.device.Identifier(ctx)
	if err != nil {
		f.logger.Error("Failed to read device ID", zap.Error(err))
		id = ""
	}
	if id == "" {
		id = f.fallback()
	}

	f.logger.Debug("Device ID retrieved", zap.String("id", id))
	return bridge.Result{"id": id}, nil
}

// idFallback returns the replacement for a missing identifier: the literal
// "unknown" on android, a fresh random UUID on ios.
func idFallback(platformName string) func() string {
	if platformName == platform.IOS {
		return func() string { return strings.ToUpper(uuid.NewString()) }
	}
	return func() string { return unknownAndroidID }
}

type infoPayload struct {
	Name              string `json:"name"`
	Model             string `json:"model"`
	Platform          string `json:"platform"`
	OperatingSystem   string `json:"operatingSystem"`
	OSVersion         string `json:"osVersion"`
	AndroidSDKVersion *int   `json:"androidSDKVersion,omitempty"`
	IOSVersion        *int   `json:"iOSVersion,omitempty"`
	Manufacturer      string `json:"manufacturer"`
	IsVirtual         bool   `json:"isVirtual"`
	MemUsed           int64  `json:"memUsed"`
	WebViewVersion    string `json:"webViewVersion"`
}

// GetInfo returns device metadata as a JSON string
type GetInfo struct {
	device platform.Device
	logger *zap.Logger
}

// Execute implements bridge.Function
func (f *GetInfo) Execute(ctx context.Context, _ bridge.Params) (bridge.Result, error) {
	info, err := f.device.Info(ctx)
	if err != nil {
		f.logger.Error("Failed to collect device info", zap.Error(err))
		return infoError(err), nil
	}

	payload := infoPayload{
		Name:            info.Name,
		Model:           info.Model,
		Platform:        f.device.Platform(),
		OperatingSystem: info.OperatingSystem,
		OSVersion:       info.OSVersion,
		Manufacturer:    info.Manufacturer,
		IsVirtual:       info.IsVirtual,
		MemUsed:         info.MemUsed,
		WebViewVersion:  info.WebViewVersion,
	}

	switch payload.Platform {
	case platform.IOS:
		v := VersionNumber(info.OSVersion)
		payload.IOSVersion = &v
	case platform.Android:
		sdk := info.SDKVersion
		payload.AndroidSDKVersion = &sdk
	}

	f.logger.Debug("Device info retrieved")
	return encodeInfo(payload), nil
}

// VersionNumber encodes "major.minor.patch" as major*10000 + minor*100 +
// patch, so "16.3.1" becomes 160301. Missing components count as zero and
// an unparsable version yields 0.
func VersionNumber(version string) int {
	var parts []int
	for _, s := range strings.Split(version, ".") {
		n, err := strconv.Atoi(s)
		if err != nil {
			continue
		}
		parts = append(parts, n)
	}

	weights := []int{10000, 100, 1}
	total := 0
	for i := 0; i < len(parts) && i < len(weights); i++ {
		total += parts[i] * weights[i]
	}
	return total
}

type batteryPayload struct {
	BatteryLevel float64 `json:"batteryLevel"`
	IsCharging   bool    `json:"isCharging"`
}

// GetBatteryInfo returns charge level and charging state as a JSON string
type GetBatteryInfo struct {
	device platform.Device
	logger *zap.Logger
}

// Execute implements bridge.Function. Devices that need battery monitoring
// hold it for the duration of the call only. Levels outside [0,1] are
// reported as -1.
func (f *GetBatteryInfo) Execute(ctx context.Context, _ bridge.Params) (bridge.Result, error) {
	if monitor, ok := f.device.(platform.BatteryMonitor); ok {
		monitor.SetBatteryMonitoring(true)
		defer monitor.SetBatteryMonitoring(false)
	}

	battery, err := f.device.Battery(ctx)
	if err != nil {
		f.logger.Error("Failed to read battery", zap.Error(err))
		return infoError(err), nil
	}

	level := battery.Level
	if level < 0 || level > 1 {
		level = -1
	}

	f.logger.Debug("Battery info retrieved",
		zap.Int("percent", int(level*100)),
		zap.Bool("charging", battery.Charging))

	return encodeInfo(batteryPayload{BatteryLevel: level, IsCharging: battery.Charging}), nil
}
