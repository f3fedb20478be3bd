// Package android drives a real Android device from a native binary using
// the stock shell tools (getprop, settings, dumpsys, service, cmd) and the
// kernel LED class in sysfs.
package android

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/koios/device-bridge/internal/platform"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	webViewPackage = "com.google.android.webview"

	// Battery status values from android.os.BatteryManager
	batteryStatusCharging = 2
	batteryStatusFull     = 5

	sdkNMR1 = 25 // device_name setting
	sdkS    = 31 // vibrator_manager service
)

var (
	versionNameRe   = regexp.MustCompile(`versionName=(\S+)`)
	chromeVersionRe = regexp.MustCompile(`Chrome/([\d.]+)`)
)

// Options configures a Device
type Options struct {
	Runner           Runner
	SysfsRoot        string
	ProcRoot         string
	WebViewUserAgent string
	Logger           *zap.Logger
}

// Device is the Android implementation of platform.Device
type Device struct {
	shell     Runner
	sysfsRoot string
	procRoot  string
	userAgent string
	logger    *zap.Logger

	// Concurrent Info calls share one round of shell commands
	infoGroup singleflight.Group
}

// New creates an Android device backend
func New(opts Options) *Device {
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.SysfsRoot == "" {
		opts.SysfsRoot = "/sys"
	}
	if opts.ProcRoot == "" {
		opts.ProcRoot = "/proc"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Device{
		shell:     opts.Runner,
		sysfsRoot: opts.SysfsRoot,
		procRoot:  opts.ProcRoot,
		userAgent: opts.WebViewUserAgent,
		logger:    opts.Logger,
	}
}

// Platform returns platform.Android
func (d *Device) Platform() string {
	return platform.Android
}

func (d *Device) props(ctx context.Context) (Props, error) {
	out, err := d.shell.Run(ctx, "getprop")
	if err != nil {
		return nil, fmt.Errorf("read system properties: %w", err)
	}
	return parseProps(out), nil
}

// setting reads a value from the settings provider. Unset values come
// back from the tool as the literal "null" and are returned as "".
func (d *Device) setting(ctx context.Context, namespace, key string) (string, error) {
	out, err := d.shell.Run(ctx, "settings", "get", namespace, key)
	if err != nil {
		return "", fmt.Errorf("read setting %s/%s: %w", namespace, key, err)
	}

	value := strings.TrimSpace(string(out))
	if value == "null" {
		return "", nil
	}
	return value, nil
}

// Identifier returns the ANDROID_ID of the device
func (d *Device) Identifier(ctx context.Context) (string, error) {
	return d.setting(ctx, "secure", "android_id")
}

// Info collects build metadata, memory usage and the WebView version
func (d *Device) Info(ctx context.Context) (platform.Info, error) {
	// Shared lookups must outlive the caller that started them
	ch := d.infoGroup.DoChan("info", func() (any, error) {
		return d.collectInfo(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return platform.Info{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return platform.Info{}, res.Err
		}
		return res.Val.(platform.Info), nil
	}
}

func (d *Device) collectInfo(ctx context.Context) (platform.Info, error) {
	props, err := d.props(ctx)
	if err != nil {
		return platform.Info{}, err
	}
	b := buildFromProps(props)

	return platform.Info{
		Name:            d.deviceName(ctx, b),
		Model:           b.Model,
		OperatingSystem: "Android",
		OSVersion:       b.Release,
		Manufacturer:    b.Manufacturer,
		IsVirtual:       isEmulator(b),
		MemUsed:         platform.ResidentMemory(d.procRoot),
		WebViewVersion:  d.webViewVersion(ctx),
		SDKVersion:      b.SDK,
	}, nil
}

// deviceName prefers the user-visible device name, then the Bluetooth
// name, then "<manufacturer> <model>".
func (d *Device) deviceName(ctx context.Context, b build) string {
	fallback := b.Manufacturer + " " + b.Model
	if b.SDK < sdkNMR1 {
		return fallback
	}

	name, err := d.setting(ctx, "global", "device_name")
	if err != nil {
		d.logger.Debug("Falling back to build name", zap.Error(err))
		return fallback
	}
	if name != "" {
		return name
	}

	name, err = d.setting(ctx, "secure", "bluetooth_name")
	if err != nil {
		d.logger.Debug("Falling back to build name", zap.Error(err))
		return fallback
	}
	if name != "" {
		return name
	}

	return fallback
}

func (d *Device) webViewVersion(ctx context.Context) string {
	out, err := d.shell.Run(ctx, "dumpsys", "package", webViewPackage)
	if err == nil {
		if m := versionNameRe.FindSubmatch(out); m != nil {
			return string(m[1])
		}
	}

	if m := chromeVersionRe.FindStringSubmatch(d.userAgent); m != nil {
		return m[1]
	}

	d.logger.Debug("WebView version unavailable", zap.Error(err))
	return "unknown"
}

// Battery reads level, scale and status from the battery service
func (d *Device) Battery(ctx context.Context) (platform.Battery, error) {
	out, err := d.shell.Run(ctx, "dumpsys", "battery")
	if err != nil {
		return platform.Battery{}, fmt.Errorf("read battery service: %w", err)
	}
	return parseBattery(out), nil
}

func parseBattery(out []byte) platform.Battery {
	values := make(map[string]int)
	for _, line := range strings.Split(string(out), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			continue
		}
		values[key] = n
	}

	battery := platform.Battery{Level: -1}

	level, hasLevel := values["level"]
	scale, hasScale := values["scale"]
	if hasLevel && hasScale && scale > 0 && level >= 0 && level <= scale {
		battery.Level = float64(level) / float64(scale)
	}

	status := values["status"]
	battery.Charging = status == batteryStatusCharging || status == batteryStatusFull

	return battery
}
