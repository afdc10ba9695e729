package telemetry

import (
	"os"
)

var (
	calibrationModeEnabled bool
	observeEnabled         bool
	persistPayloadsEnabled bool
)

func init() {
	// Read once at process start; later changes only matter through the
	// explicit "1" overrides below.
	calibrationModeEnabled = os.Getenv("AGT_CALIBRATION_MODE") == "1"

	// Calibration turns on observation and payload persistence unless the
	// corresponding variable is set explicitly.
	if v, ok := os.LookupEnv("AGT_OBSERVE_JSON"); ok {
		observeEnabled = v == "1"
	} else {
		observeEnabled = calibrationModeEnabled
	}
	if v, ok := os.LookupEnv("AGT_PERSIST_API_PAYLOADS"); ok {
		persistPayloadsEnabled = v == "1"
	} else {
		persistPayloadsEnabled = calibrationModeEnabled
	}
}

// CalibrationModeEnabled reports whether turns run without tools so that
// request sizes can be measured against local text features.
func CalibrationModeEnabled() bool {
	if os.Getenv("AGT_CALIBRATION_MODE") == "1" {
		return true
	}
	return calibrationModeEnabled
}

// ObserveEnabled reports whether events are appended to events.jsonl.
func ObserveEnabled() bool {
	switch os.Getenv("AGT_OBSERVE_JSON") {
	case "1":
		return true
	case "0":
		return false
	}
	return observeEnabled
}

// PersistPayloadsEnabled reports whether LLM requests and responses are saved under payloads/.
func PersistPayloadsEnabled() bool {
	if os.Getenv("AGT_PERSIST_API_PAYLOADS") == "1" {
		return true
	}
	return persistPayloadsEnabled
}
