// ABOUTME: Raw get_status payload decoding and normalization into named fields.
// ABOUTME: Maps numeric state, error, fan power, and mop mode codes to stable names.

package device

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// StateCharging is the state name reported while the robot sits on the dock.
const StateCharging = "charging"

var stateNames = map[int]string{
	1:   "starting",
	2:   "charger_disconnected",
	3:   "idle",
	4:   "remote_control_active",
	5:   "cleaning",
	6:   "returning_home",
	7:   "manual_mode",
	8:   StateCharging,
	9:   "charging_problem",
	10:  "paused",
	11:  "spot_cleaning",
	12:  "error",
	13:  "shutting_down",
	14:  "updating",
	15:  "docking",
	16:  "going_to_target",
	17:  "zoned_cleaning",
	18:  "segment_cleaning",
	22:  "emptying_the_bin",
	23:  "washing_the_mop",
	26:  "going_to_wash_the_mop",
	100: "charging_complete",
	101: "device_offline",
}

var errorNames = map[int]string{
	0:  "none",
	1:  "lidar_blocked",
	2:  "bumper_stuck",
	3:  "wheels_suspended",
	4:  "cliff_sensor_error",
	5:  "main_brush_jammed",
	6:  "side_brush_jammed",
	7:  "wheels_jammed",
	8:  "robot_trapped",
	9:  "no_dustbin",
	12: "low_battery",
	13: "charging_error",
	14: "battery_error",
	15: "wall_sensor_dirty",
	16: "robot_tilted",
	17: "side_brush_error",
	18: "fan_error",
	21: "vertical_bumper_pressed",
	22: "dock_locator_error",
	23: "return_to_dock_fail",
	24: "nogo_zone_detected",
	27: "vibrarise_jammed",
	28: "robot_on_carpet",
	29: "filter_blocked",
	30: "invisible_wall_detected",
	31: "cannot_cross_carpet",
	32: "internal_error",
}

var fanPowerNames = map[int]string{
	101: "quiet",
	102: "balanced",
	103: "turbo",
	104: "max",
	105: "off",
	106: "custom",
	108: "max_plus",
}

var mopModeNames = map[int]string{
	300: "standard",
	301: "deep",
	302: "custom",
	303: "deep_plus",
}

// RawStatus is the get_status payload as the device reports it.
type RawStatus struct {
	State               int `json:"state"`
	Battery             int `json:"battery"`
	CleanTime           int `json:"clean_time"`
	CleanArea           int `json:"clean_area"`
	ErrorCode           int `json:"error_code"`
	FanPower            int `json:"fan_power"`
	MopMode             int `json:"mop_mode"`
	WaterShortageStatus int `json:"water_shortage_status"`
	InCleaning          int `json:"in_cleaning"`
	DockType            int `json:"dock_type"`
}

// Status is the normalized status returned to tool callers.
type Status struct {
	State          string  `json:"state"`
	Battery        int     `json:"battery"`
	CleanTime      int     `json:"clean_time"`
	CleanArea      float64 `json:"clean_area"`
	Error          string  `json:"error"`
	FanSpeed       string  `json:"fan_speed"`
	MopMode        string  `json:"mop_mode"`
	Docked         bool    `json:"docked"`
	WaterTankEmpty bool    `json:"water_tank_empty"`
}

// ParseStatus decodes a get_status response. Devices wrap the status object
// in a one-element array; a bare object is accepted too.
func ParseStatus(data json.RawMessage) (*RawStatus, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil, fmt.Errorf("empty status response")
	}

	if strings.HasPrefix(trimmed, "[") {
		var list []RawStatus
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("decoding status: %w", err)
		}
		if len(list) == 0 {
			return nil, fmt.Errorf("empty status response")
		}
		return &list[0], nil
	}

	var raw RawStatus
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding status: %w", err)
	}
	return &raw, nil
}

// Normalize converts raw codes into names and derives the docked and
// water-tank flags.
func (r *RawStatus) Normalize() Status {
	state := codeName(stateNames, r.State)
	return Status{
		State:          state,
		Battery:        r.Battery,
		CleanTime:      r.CleanTime,
		CleanArea:      squareMeters(r.CleanArea),
		Error:          codeName(errorNames, r.ErrorCode),
		FanSpeed:       codeName(fanPowerNames, r.FanPower),
		MopMode:        codeName(mopModeNames, r.MopMode),
		Docked:         state == StateCharging,
		WaterTankEmpty: r.WaterShortageStatus != 0,
	}
}

func codeName(names map[int]string, code int) string {
	if name, ok := names[code]; ok {
		return name
	}
	return fmt.Sprintf("unknown_%d", code)
}

// squareMeters converts the device's mm² counter to m² with one decimal.
func squareMeters(mm2 int) float64 {
	return math.Round(float64(mm2)/100000) / 10
}
