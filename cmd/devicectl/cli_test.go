package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kong"
)

func writeProfile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "device.yaml")
	content := "platform: ios\nosVersion: 17.4.1\nhasTorch: true\nbattery:\n  level: 0.5\n  state: charging\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write profile: %v", err)
	}
	return path
}

func TestParseParams(t *testing.T) {
	params := parseParams(map[string]string{
		"n":    "3",
		"flag": "true",
		"name": "hello",
		"obj":  `{"a":1}`,
	})

	if params["n"] != float64(3) || params["flag"] != true || params["name"] != "hello" {
		t.Errorf("unexpected params %v", params)
	}
	if obj, ok := params["obj"].(map[string]any); !ok || obj["a"] != float64(1) {
		t.Errorf("obj = %v", params["obj"])
	}
}

func TestExpandInfo(t *testing.T) {
	in := map[string]any{"info": `{"batteryLevel":0.5}`}
	out := expandInfo(in)

	info, ok := out["info"].(map[string]any)
	if !ok || info["batteryLevel"] != 0.5 {
		t.Errorf("info not expanded: %v", out)
	}
	if _, ok := in["info"].(string); !ok {
		t.Error("input result was mutated")
	}

	plain := map[string]any{"success": true}
	if got := expandInfo(plain); got["success"] != true {
		t.Errorf("non-info result changed: %v", got)
	}
}

func TestParseCommandLine(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli)
	if err != nil {
		t.Fatalf("kong.New: %v", err)
	}

	ctx, err := parser.Parse([]string{"call", "Device.Vibrate", "--param", "ms=300", "--platform", "sim"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ctx.Command() != "call <method>" {
		t.Errorf("Command = %q", ctx.Command())
	}
	if cli.Call.Method != "Device.Vibrate" || cli.Call.Param["ms"] != "300" || cli.Platform != "sim" {
		t.Errorf("unexpected parse result %+v", cli)
	}
}

func TestCall_Local(t *testing.T) {
	var out bytes.Buffer
	cli := &CLI{Platform: "sim", Profile: writeProfile(t), Timeout: 5 * time.Second, out: &out}

	cmd := &CallCmd{Method: "Device.ToggleFlashlight"}
	if err := cmd.Run(cli); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var result map[string]any
	if err := json.Unmarshal(out.Bytes(), &result); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, out.String())
	}
	if result["success"] != true || result["state"] != true {
		t.Errorf("unexpected result %v", result)
	}
}

func TestCall_LocalExpandsInfo(t *testing.T) {
	var out bytes.Buffer
	cli := &CLI{Platform: "sim", Profile: writeProfile(t), Timeout: 5 * time.Second, out: &out}

	if err := (&CallCmd{Method: "Device.GetBatteryInfo"}).Run(cli); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var result struct {
		Info struct {
			BatteryLevel float64 `json:"batteryLevel"`
			IsCharging   bool    `json:"isCharging"`
		} `json:"info"`
	}
	if err := json.Unmarshal(out.Bytes(), &result); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, out.String())
	}
	if result.Info.BatteryLevel != 0.5 || !result.Info.IsCharging {
		t.Errorf("unexpected battery %+v", result.Info)
	}
}

func TestCall_LocalUnknownMethod(t *testing.T) {
	cli := &CLI{Platform: "sim", Profile: writeProfile(t), Timeout: time.Second, out: &bytes.Buffer{}}
	if err := (&CallCmd{Method: "Device.Nope"}).Run(cli); err == nil {
		t.Error("Expected error for unknown method")
	}
}

func TestList_Local(t *testing.T) {
	var out bytes.Buffer
	cli := &CLI{Platform: "sim", Profile: writeProfile(t), out: &out}

	if err := (&ListCmd{}).Run(cli); err != nil {
		t.Fatalf("Run: %v", err)
	}
	lines := strings.Fields(out.String())
	if len(lines) != 5 || lines[0] != "Device.GetBatteryInfo" {
		t.Errorf("unexpected list %v", lines)
	}
}

func TestCall_Remote(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		if strings.HasSuffix(r.URL.Path, "Device.Nope") {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "Function not found"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "abc"})
	}))
	defer srv.Close()

	var out bytes.Buffer
	cli := &CLI{Server: srv.URL + "/", Timeout: 5 * time.Second, out: &out}

	if err := (&CallCmd{Method: "Device.GetId", Param: map[string]string{"x": "1"}}).Run(cli); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gotPath != "/bridge/Device.GetId" || gotBody["x"] != float64(1) {
		t.Errorf("path=%q body=%v", gotPath, gotBody)
	}
	if !strings.Contains(out.String(), `"abc"`) {
		t.Errorf("unexpected output %s", out.String())
	}

	err := (&CallCmd{Method: "Device.Nope"}).Run(cli)
	if err == nil || !strings.Contains(err.Error(), "Function not found") {
		t.Errorf("Expected server error, got %v", err)
	}
}
