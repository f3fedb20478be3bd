package android

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
)

// Props holds Android system properties as printed by getprop
type Props map[string]string

// parseProps parses getprop output: one "[key]: [value]" per line
func parseProps(out []byte) Props {
	props := make(Props)

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "[") {
			continue
		}

		key, value, ok := strings.Cut(line, "]: [")
		if !ok {
			continue
		}

		props[strings.TrimPrefix(key, "[")] = strings.TrimSuffix(value, "]")
	}

	return props
}

// Get returns the property value or ""
func (p Props) Get(key string) string {
	return p[key]
}

// Int returns the property as an int, 0 when missing or malformed
func (p Props) Int(key string) int {
	n, err := strconv.Atoi(p[key])
	if err != nil {
		return 0
	}
	return n
}

// build mirrors the android.os.Build fields the bridge reads
type build struct {
	Fingerprint  string
	Model        string
	Manufacturer string
	Brand        string
	Device       string
	Hardware     string
	Product      string
	Release      string
	SDK          int
}

func buildFromProps(p Props) build {
	return build{
		Fingerprint:  p.Get("ro.build.fingerprint"),
		Model:        p.Get("ro.product.model"),
		Manufacturer: p.Get("ro.product.manufacturer"),
		Brand:        p.Get("ro.product.brand"),
		Device:       p.Get("ro.product.device"),
		Hardware:     p.Get("ro.hardware"),
		Product:      p.Get("ro.product.name"),
		Release:      p.Get("ro.build.version.release"),
		SDK:          p.Int("ro.build.version.sdk"),
	}
}

// isEmulator reports whether the build looks like an emulator image.
// Any single match is enough.
func isEmulator(b build) bool {
	return strings.HasPrefix(b.Fingerprint, "generic") ||
		strings.HasPrefix(b.Fingerprint, "unknown") ||
		strings.Contains(b.Fingerprint, "test-keys") ||
		strings.Contains(b.Model, "google_sdk") ||
		strings.Contains(b.Model, "Emulator") ||
		strings.Contains(b.Model, "Android SDK built for x86") ||
		strings.Contains(b.Model, "sdk_gphone") ||
		strings.Contains(b.Manufacturer, "Genymotion") ||
		strings.EqualFold(b.Manufacturer, "Google") ||
		(strings.HasPrefix(b.Brand, "generic") && strings.HasPrefix(b.Device, "generic")) ||
		strings.Contains(b.Device, "generic") ||
		strings.Contains(b.Device, "emulator") ||
		strings.Contains(b.Hardware, "goldfish") ||
		strings.Contains(b.Hardware, "ranchu") ||
		strings.Contains(b.Product, "sdk") ||
		strings.Contains(b.Product, "emulator")
}
