package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/koios/device-bridge/internal/platform"
	"github.com/koios/device-bridge/pkg/models"
)

func iosProfile() models.DeviceProfile {
	return models.DeviceProfile{
		Platform:     "ios",
		Name:         "Test iPhone",
		Model:        "iPhone",
		OSVersion:    "17.4.1",
		Manufacturer: "Someone Else",
		HasVibrator:  true,
		HasTorch:     true,
		Battery:      models.BatteryProfile{Level: 0.5, State: models.BatteryStateFull},
	}
}

func TestInfo_IOS(t *testing.T) {
	d := New(iosProfile(), t.TempDir())

	info, err := d.Info(context.Background())
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Manufacturer != "Apple" {
		t.Errorf("Manufacturer = %q, want Apple", info.Manufacturer)
	}
	if info.OperatingSystem != "iOS" {
		t.Errorf("OperatingSystem = %q, want iOS", info.OperatingSystem)
	}
	if info.WebViewVersion != "17.4.1" {
		t.Errorf("WebViewVersion = %q, want OS version fallback", info.WebViewVersion)
	}
	if !info.IsVirtual {
		t.Error("simulated device must be virtual")
	}
	if info.MemUsed != -1 {
		t.Errorf("MemUsed = %d, want -1 with empty proc root", info.MemUsed)
	}
}

func TestInfo_Android(t *testing.T) {
	d := New(models.DeviceProfile{
		Platform:     "android",
		Model:        "Pixel 8",
		Manufacturer: "Google",
		SDKVersion:   34,
	}, t.TempDir())

	info, err := d.Info(context.Background())
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Name != "Google Pixel 8" {
		t.Errorf("Name = %q", info.Name)
	}
	if info.SDKVersion != 34 || info.OperatingSystem != "Android" || info.WebViewVersion != "unknown" {
		t.Errorf("unexpected info %+v", info)
	}
}

func TestBattery_IOSRequiresMonitoring(t *testing.T) {
	d := New(iosProfile(), "")

	b, _ := d.Battery(context.Background())
	if b.Level != -1 || b.Charging {
		t.Errorf("unmonitored battery = %+v, want level -1", b)
	}

	d.SetBatteryMonitoring(true)
	b, _ = d.Battery(context.Background())
	if b.Level != 0.5 {
		t.Errorf("Level = %v, want 0.5", b.Level)
	}
	if b.Charging {
		t.Error("ios reports charging only for the charging state, not full")
	}
}

func TestBatteryMonitoring_Nested(t *testing.T) {
	d := New(iosProfile(), "")

	d.SetBatteryMonitoring(true)
	d.SetBatteryMonitoring(true)
	d.SetBatteryMonitoring(false)
	if !d.BatteryMonitoring() {
		t.Fatal("monitoring released while another holder was active")
	}
	if b, _ := d.Battery(context.Background()); b.Level != 0.5 {
		t.Errorf("Level = %v, want 0.5", b.Level)
	}

	d.SetBatteryMonitoring(false)
	if d.BatteryMonitoring() {
		t.Error("monitoring still on after last release")
	}

	// Unpaired releases do not go negative
	d.SetBatteryMonitoring(false)
	d.SetBatteryMonitoring(true)
	if !d.BatteryMonitoring() {
		t.Error("monitoring off after acquire")
	}
}

func TestBattery_AndroidFullCountsAsCharging(t *testing.T) {
	d := New(models.DeviceProfile{
		Platform: "android",
		Battery:  models.BatteryProfile{Level: 1, State: models.BatteryStateFull},
	}, "")

	b, _ := d.Battery(context.Background())
	if b.Level != 1 || !b.Charging {
		t.Errorf("got %+v", b)
	}
}

func TestHardware(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		d := New(iosProfile(), "")

		v, err := d.Vibrator(context.Background())
		if err != nil {
			t.Fatalf("Vibrator: %v", err)
		}
		v.Vibrate(context.Background(), 200*time.Millisecond)
		if d.Vibrations() != 1 {
			t.Errorf("Vibrations = %d, want 1", d.Vibrations())
		}

		torch, err := d.Torch(context.Background())
		if err != nil {
			t.Fatalf("Torch: %v", err)
		}
		torch.SetTorch(context.Background(), true)
		if !d.TorchOn() {
			t.Error("torch should be on")
		}
	})

	t.Run("absent", func(t *testing.T) {
		d := New(models.DeviceProfile{Platform: "android"}, "")
		if _, err := d.Vibrator(context.Background()); !errors.Is(err, platform.ErrUnavailable) {
			t.Errorf("Vibrator err = %v", err)
		}
		if _, err := d.Torch(context.Background()); !errors.Is(err, platform.ErrUnavailable) {
			t.Errorf("Torch err = %v", err)
		}
	})

	t.Run("torch failure", func(t *testing.T) {
		p := iosProfile()
		p.TorchError = "Torch is in use by another app"
		d := New(p, "")

		torch, err := d.Torch(context.Background())
		if err != nil {
			t.Fatalf("Torch: %v", err)
		}
		if err := torch.SetTorch(context.Background(), true); err == nil || err.Error() != p.TorchError {
			t.Errorf("SetTorch err = %v", err)
		}
		if d.TorchOn() {
			t.Error("failed update must not change torch state")
		}
	})
}
