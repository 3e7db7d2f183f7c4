package entity

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/raterudder/indrav2h/pkg/types"
)

// number converts a decoded JSON value to a float.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// present reports whether v carries a value. Empty strings don't.
func present(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s != ""
	}
	return true
}

// Power returns the power delivered to the EV in kW.
func Power(stats types.Statistics) (float64, bool) {
	w, ok := number(stats.Data()["powerToEv"])
	if !ok {
		return 0, false
	}
	return w / 1000, true
}

// Energy returns the energy counter in kWh. The energy delivered to the EV
// takes precedence over the energy taken from it whenever it is present, even
// if it does not parse; an unparseable value leaves the counter absent.
func Energy(stats types.Statistics) (float64, bool) {
	data := stats.Data()
	v := data["activeEnergyToEv"]
	if !present(v) {
		v = data["activeEnergyFromEv"]
	}
	wh, ok := number(v)
	if !ok {
		return 0, false
	}
	return wh / 1000, true
}

// Status returns the charger state, falling back to the mode and then to
// "unknown".
func Status(stats types.Statistics) string {
	if v := stats["state"]; present(v) {
		return fmt.Sprint(v)
	}
	if v := stats["mode"]; present(v) {
		return fmt.Sprint(v)
	}
	return "unknown"
}

// CurrentMode matches the reported mode against the known modes. Anything
// unrecognized shows as the first mode; it is a display fallback and says
// nothing about the charger's real mode.
func CurrentMode(stats types.Statistics) types.Mode {
	s, ok := stats["mode"].(string)
	if !ok {
		return types.Modes[0]
	}
	m, err := types.ParseMode(strings.ToLower(s))
	if err != nil {
		return types.Modes[0]
	}
	return m
}

// DeviceField reads field from the authoritative device record.
func DeviceField(device types.DeviceInfo, field string) (string, bool) {
	v, ok := device.First()[field]
	if !ok || v == nil {
		return "", false
	}
	return fmt.Sprint(v), true
}
