package models

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Battery states accepted in a device profile
const (
	BatteryStateUnknown   = "unknown"
	BatteryStateUnplugged = "unplugged"
	BatteryStateCharging  = "charging"
	BatteryStateFull      = "full"
)

// BatteryProfile describes the simulated battery
type BatteryProfile struct {
	Level float64 `yaml:"level" json:"level"` // fraction in [0,1], negative for unknown
	State string  `yaml:"state" json:"state"`
}

// DeviceProfile represents a simulated device definition (YAML)
type DeviceProfile struct {
	Platform        string         `yaml:"platform" json:"platform"`
	Name            string         `yaml:"name" json:"name"`
	Model           string         `yaml:"model" json:"model"`
	OperatingSystem string         `yaml:"operatingSystem" json:"operatingSystem"`
	OSVersion       string         `yaml:"osVersion" json:"osVersion"`
	Manufacturer    string         `yaml:"manufacturer" json:"manufacturer"`
	SDKVersion      int            `yaml:"sdkVersion" json:"sdkVersion"`
	Identifier      string         `yaml:"identifier" json:"identifier"`
	WebViewVersion  string         `yaml:"webViewVersion" json:"webViewVersion"`
	HasVibrator     bool           `yaml:"hasVibrator" json:"hasVibrator"`
	HasTorch        bool           `yaml:"hasTorch" json:"hasTorch"`
	TorchError      string         `yaml:"torchError" json:"torchError"` // returned by every torch update when set
	Battery         BatteryProfile `yaml:"battery" json:"battery"`

	// Runtime fields (not in profile)
	Path string `yaml:"-" json:"path"`
}

// LoadProfile loads and validates a device profile from a YAML file
func LoadProfile(path string) (*DeviceProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}

	var profile DeviceProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile file: %w", err)
	}

	profile.Path = path

	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}

	return &profile, nil
}

// Validate checks the platform tag and battery fields
func (p *DeviceProfile) Validate() error {
	switch p.Platform {
	case "ios", "android":
	default:
		return fmt.Errorf("platform must be ios or android, got %q", p.Platform)
	}

	if p.Battery.Level > 1 {
		return fmt.Errorf("battery level %v exceeds 1", p.Battery.Level)
	}

	switch p.Battery.State {
	case "":
		p.Battery.State = BatteryStateUnknown
	case BatteryStateUnknown, BatteryStateUnplugged, BatteryStateCharging, BatteryStateFull:
	default:
		return fmt.Errorf("unknown battery state %q", p.Battery.State)
	}

	return nil
}
