package adcs

import (
	"encoding/json"
	"fmt"
)

// Verb is one typed station command. The HTTP layer parses the wire strings
// once, in ParseCommand; everything past that point switches on the enum.
type Verb int

const (
	VerbNone Verb = iota
	VerbCalibrate
	VerbManualCalibrate
	VerbZeroYaw
	VerbSetTarget
	VerbStartAuto
	VerbStopAuto
	VerbSetGains
	VerbManualStartCW
	VerbManualStartCCW
	VerbManualStop
	VerbEnvStart
	VerbEnvStop
	VerbVisionStart
	VerbVisionStop
	VerbReturnToRaw
)

func (v Verb) String() string {
	switch v {
	case VerbCalibrate:
		return "calibrate"
	case VerbManualCalibrate:
		return "manual_calibrate"
	case VerbZeroYaw:
		return "zero_yaw"
	case VerbSetTarget:
		return "set_target"
	case VerbStartAuto:
		return "start_auto"
	case VerbStopAuto:
		return "stop_auto"
	case VerbSetGains:
		return "set_gains"
	case VerbManualStartCW:
		return "manual_start_cw"
	case VerbManualStartCCW:
		return "manual_start_ccw"
	case VerbManualStop:
		return "manual_stop"
	case VerbEnvStart:
		return "env_start"
	case VerbEnvStop:
		return "env_stop"
	case VerbVisionStart:
		return "vision_start"
	case VerbVisionStop:
		return "vision_stop"
	case VerbReturnToRaw:
		return "return_to_raw"
	default:
		return "none"
	}
}

// Command pairs a verb with its decoded payload. Value is set for
// VerbSetTarget and VerbManualCalibrate; Gains for VerbSetGains.
type Command struct {
	Verb  Verb
	Value *float64
	Gains *GainUpdate
}

// Result is the uniform command outcome returned to clients.
type Result struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

func Successf(format string, args ...any) Result {
	return Result{Status: StatusSuccess, Message: fmt.Sprintf(format, args...)}
}

func Errorf(format string, args ...any) Result {
	return Result{Status: StatusError, Message: fmt.Sprintf(format, args...)}
}

func (r Result) OK() bool { return r.Status == StatusSuccess }

// ParseCommand maps a wire (mode, command) pair plus its raw JSON value onto
// a typed Command. The strings match what the control-panel client sends.
func ParseCommand(mode, command string, value json.RawMessage) (Command, error) {
	switch mode {
	case "calibration":
		switch command {
		case "calibrate", "start_calibration":
			return Command{Verb: VerbCalibrate}, nil
		}
		return Command{}, fmt.Errorf("unknown calibration command %q", command)
	case "adcs":
		switch command {
		case "calibrate":
			return Command{Verb: VerbCalibrate}, nil
		case "manual_cal":
			v, err := floatValue(command, value)
			if err != nil {
				return Command{}, err
			}
			return Command{Verb: VerbManualCalibrate, Value: v}, nil
		case "set_zero", "zero_yaw":
			return Command{Verb: VerbZeroYaw}, nil
		case "set_value":
			v, err := floatValue(command, value)
			if err != nil {
				return Command{}, err
			}
			return Command{Verb: VerbSetTarget, Value: v}, nil
		case "start":
			return Command{Verb: VerbStartAuto}, nil
		case "stop":
			return Command{Verb: VerbStopAuto}, nil
		case "set_pd_values":
			if len(value) == 0 {
				return Command{}, fmt.Errorf("command %q requires a gains object", command)
			}
			var g GainUpdate
			if err := json.Unmarshal(value, &g); err != nil {
				return Command{}, fmt.Errorf("command %q: bad gains object: %w", command, err)
			}
			return Command{Verb: VerbSetGains, Gains: &g}, nil
		case "manual_clockwise_start":
			return Command{Verb: VerbManualStartCW}, nil
		case "manual_counterclockwise_start":
			return Command{Verb: VerbManualStartCCW}, nil
		case "manual_stop":
			return Command{Verb: VerbManualStop}, nil
		case "auto_zero_lux":
			return Command{Verb: VerbEnvStart}, nil
		case "stop_auto_zero_lux":
			return Command{Verb: VerbEnvStop}, nil
		case "auto_zero_tag":
			return Command{Verb: VerbVisionStart}, nil
		case "stop_auto_zero_tag":
			return Command{Verb: VerbVisionStop}, nil
		case "raw":
			return Command{Verb: VerbReturnToRaw}, nil
		}
		return Command{}, fmt.Errorf("unknown adcs command %q", command)
	}
	return Command{}, fmt.Errorf("unknown command mode %q", mode)
}

func floatValue(command string, value json.RawMessage) (*float64, error) {
	if len(value) == 0 {
		return nil, fmt.Errorf("command %q requires a numeric value", command)
	}
	var v float64
	if err := json.Unmarshal(value, &v); err != nil {
		// The panel sometimes sends numbers as strings.
		var s string
		if err2 := json.Unmarshal(value, &s); err2 != nil {
			return nil, fmt.Errorf("command %q: value %s is not numeric", command, value)
		}
		if _, err2 := fmt.Sscanf(s, "%f", &v); err2 != nil {
			return nil, fmt.Errorf("command %q: value %q is not numeric", command, s)
		}
	}
	return &v, nil
}
