package android

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/koios/device-bridge/internal/platform"
	"go.uber.org/zap"
)

// Vibrator checks that the vibrator service is registered. Android 12 and
// later expose it through vibrator_manager.
func (d *Device) Vibrator(ctx context.Context) (platform.Vibrator, error) {
	props, err := d.props(ctx)
	if err != nil {
		return nil, err
	}

	service := "vibrator"
	if props.Int("ro.build.version.sdk") >= sdkS {
		service = "vibrator_manager"
	}

	out, err := d.shell.Run(ctx, "service", "check", service)
	if err != nil {
		return nil, fmt.Errorf("check %s service: %w", service, err)
	}
	if strings.Contains(string(out), "not found") {
		return nil, platform.ErrUnavailable
	}

	return &serviceVibrator{shell: d.shell, service: service}, nil
}

type serviceVibrator struct {
	shell   Runner
	service string
}

// Vibrate runs a one-shot effect at the default amplitude
func (v *serviceVibrator) Vibrate(ctx context.Context, d time.Duration) error {
	ms := strconv.FormatInt(d.Milliseconds(), 10)

	var args []string
	if v.service == "vibrator_manager" {
		args = []string{"vibrator_manager", "synced", "-f", "oneshot", ms}
	} else {
		args = []string{"vibrator", "vibrate", "-f", ms}
	}

	out, err := v.shell.Run(ctx, "cmd", args...)
	if err != nil {
		return err
	}
	// cmd reports bad arguments on stdout with a zero exit status
	if msg := strings.TrimSpace(string(out)); strings.HasPrefix(msg, "Error") {
		return errors.New(msg)
	}
	return nil
}

// Torch finds the first LED class device that drives a camera flash
func (d *Device) Torch(ctx context.Context) (platform.Torch, error) {
	ledsDir := filepath.Join(d.sysfsRoot, "class", "leds")

	entries, err := os.ReadDir(ledsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, platform.ErrUnavailable
		}
		return nil, fmt.Errorf("list LEDs: %w", err)
	}

	for _, entry := range entries {
		name := strings.ToLower(entry.Name())
		if strings.Contains(name, "torch") || strings.Contains(name, "flash") {
			d.logger.Debug("Using torch LED", zap.String("led", entry.Name()))
			return &ledTorch{dir: filepath.Join(ledsDir, entry.Name())}, nil
		}
	}

	return nil, platform.ErrUnavailable
}

type ledTorch struct {
	dir string
}

// SetTorch writes max_brightness (or 0) to the LED brightness attribute
func (t *ledTorch) SetTorch(ctx context.Context, on bool) error {
	value := "0"
	if on {
		value = strconv.Itoa(t.maxBrightness())
	}

	// O_WRONLY without O_CREATE: the attribute must already exist
	f, err := os.OpenFile(filepath.Join(t.dir, "brightness"), os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteString(value); err != nil {
		return err
	}
	return nil
}

func (t *ledTorch) maxBrightness() int {
	data, err := os.ReadFile(filepath.Join(t.dir, "max_brightness"))
	if err != nil {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n <= 0 {
		return 1
	}
	return n
}
