package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/koios/device-bridge/internal/bridge"
	"github.com/koios/device-bridge/internal/config"
	"github.com/koios/device-bridge/internal/device"
	"github.com/koios/device-bridge/pkg/models"
	"go.uber.org/zap"
)

// CLI is the root command structure for devicectl.
type CLI struct {
	Verbose  bool          `short:"v" help:"Enable debug logging"`
	Server   string        `help:"Base URL of a running bridge server; calls run in-process when empty" env:"DEVICECTL_SERVER"`
	Platform string        `help:"Override BRIDGE_PLATFORM for in-process calls (android, sim)"`
	Profile  string        `help:"Device profile for the sim platform" type:"path"`
	Timeout  time.Duration `default:"10s" help:"Per-call timeout"`

	List ListCmd `cmd:"" help:"List bridge functions"`
	Call CallCmd `cmd:"" help:"Invoke a bridge function"`

	out io.Writer `kong:"-"`
}

// --- List Command ---

type ListCmd struct{}

func (c *ListCmd) Run(globals *CLI) error {
	if globals.Server != "" {
		var functions []models.FunctionInfo
		if err := globals.get("/functions", &functions); err != nil {
			return err
		}
		for _, fn := range functions {
			fmt.Fprintln(globals.writer(), fn.Name)
		}
		return nil
	}

	registry, err := globals.localRegistry()
	if err != nil {
		return err
	}
	for _, name := range registry.Names() {
		fmt.Fprintln(globals.writer(), name)
	}
	return nil
}

// --- Call Command ---

type CallCmd struct {
	Method string            `arg:"" help:"Function name, e.g. Device.GetInfo"`
	Param  map[string]string `short:"p" help:"Call parameter as key=value; values are parsed as JSON when possible"`
	Raw    bool              `help:"Print info strings as returned instead of expanding them"`
}

func (c *CallCmd) Run(globals *CLI) error {
	params := parseParams(c.Param)

	var result bridge.Result
	if globals.Server != "" {
		if err := globals.post("/bridge/"+c.Method, params, &result); err != nil {
			return err
		}
	} else {
		registry, err := globals.localRegistry()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), globals.Timeout)
		defer cancel()

		result, err = registry.Call(ctx, c.Method, params)
		if err != nil {
			return err
		}
	}

	if !c.Raw {
		result = expandInfo(result)
	}

	enc := json.NewEncoder(globals.writer())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// parseParams decodes each value as JSON, keeping it as a string otherwise
func parseParams(raw map[string]string) bridge.Params {
	params := bridge.Params{}
	for k, v := range raw {
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			params[k] = decoded
			continue
		}
		params[k] = v
	}
	return params
}

// expandInfo replaces a JSON string under "info" with the decoded object
// so it prints readably
func expandInfo(result bridge.Result) bridge.Result {
	raw, ok := result["info"].(string)
	if !ok {
		return result
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return result
	}

	out := make(bridge.Result, len(result))
	for k, v := range result {
		out[k] = v
	}
	out["info"] = decoded
	return out
}

func (g *CLI) writer() io.Writer {
	if g.out != nil {
		return g.out
	}
	return os.Stdout
}

func (g *CLI) logger() *zap.Logger {
	if !g.Verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// localRegistry builds the same registry the server uses, bound to the
// configured platform
func (g *CLI) localRegistry() (*bridge.Registry, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if g.Platform != "" {
		cfg.Bridge.Platform = g.Platform
	}
	if g.Profile != "" {
		cfg.Bridge.ProfilePath = g.Profile
	}

	logger := g.logger()
	dev, err := device.NewPlatform(cfg.Bridge, logger)
	if err != nil {
		return nil, err
	}

	registry := bridge.NewRegistry(logger)
	device.Register(registry, dev, device.Options{
		VibrateDuration: cfg.Bridge.VibrateDuration,
		Logger:          logger,
	})
	return registry, nil
}

func (g *CLI) url(path string) string {
	return strings.TrimRight(g.Server, "/") + path
}

func (g *CLI) get(path string, out any) error {
	client := &http.Client{Timeout: g.Timeout}
	resp, err := client.Get(g.url(path))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func (g *CLI) post(path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}

	client := &http.Client{Timeout: g.Timeout}
	resp, err := client.Post(g.url(path), "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
