package device

import (
	"fmt"
	"time"

	"github.com/koios/device-bridge/internal/bridge"
	"github.com/koios/device-bridge/internal/config"
	"github.com/koios/device-bridge/internal/platform"
	"github.com/koios/device-bridge/internal/platform/android"
	"github.com/koios/device-bridge/internal/platform/sim"
	"github.com/koios/device-bridge/pkg/models"
	"go.uber.org/zap"
)

// Options configures the Device.* functions
type Options struct {
	VibrateDuration time.Duration
	Logger          *zap.Logger
}

// Register binds the five Device.* functions to dev. Every function is
// guarded so a panic in the platform layer still produces the documented
// response shape. The returned Flashlight is the state owned by
// Device.ToggleFlashlight.
func Register(reg *bridge.Registry, dev platform.Device, opts Options) *Flashlight {
	if opts.VibrateDuration <= 0 {
		opts.VibrateDuration = DefaultVibrateDuration
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.With(zap.String("platform", dev.Platform()))
	fallbackID := idFallback(dev.Platform())

	state := &Flashlight{}

	reg.Register(MethodVibrate, bridge.Guard(&Vibrate{
		device:   dev,
		duration: opts.VibrateDuration,
		logger:   logger.Named(MethodVibrate),
	}, failure))

	reg.Register(MethodToggleFlashlight, bridge.Guard(&ToggleFlashlight{
		device: dev,
		state:  state,
		logger: logger.Named(MethodToggleFlashlight),
	}, failure))

	reg.Register(MethodGetID, bridge.Guard(&GetID{
		device:   dev,
		fallback: fallbackID,
		logger:   logger.Named(MethodGetID),
	}, func(error) bridge.Result {
		return bridge.Result{"id": fallbackID()}
	}))

	reg.Register(MethodGetInfo, bridge.Guard(&GetInfo{
		device: dev,
		logger: logger.Named(MethodGetInfo),
	}, infoError))

	reg.Register(MethodGetBatteryInfo, bridge.Guard(&GetBatteryInfo{
		device: dev,
		logger: logger.Named(MethodGetBatteryInfo),
	}, infoError))

	return state
}

// NewPlatform builds the hardware backend selected by cfg.Platform
func NewPlatform(cfg config.BridgeConfig, logger *zap.Logger) (platform.Device, error) {
	switch cfg.Platform {
	case "android":
		logger.Info("Using Android hardware backend",
			zap.String("sysfs_root", cfg.SysfsRoot))
		return android.New(android.Options{
			Runner:           android.ExecRunner{Timeout: cfg.CommandTimeout},
			SysfsRoot:        cfg.SysfsRoot,
			ProcRoot:         cfg.ProcRoot,
			WebViewUserAgent: cfg.WebViewUserAgent,
			Logger:           logger.Named("android"),
		}), nil
	case "sim":
		profile, err := models.LoadProfile(cfg.ProfilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load device profile: %w", err)
		}
		logger.Info("Using simulated device",
			zap.String("profile", cfg.ProfilePath),
			zap.String("platform", profile.Platform))
		return sim.New(*profile, cfg.ProcRoot), nil
	default:
		return nil, fmt.Errorf("unknown bridge platform %q", cfg.Platform)
	}
}
