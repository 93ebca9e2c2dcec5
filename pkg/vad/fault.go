package vad

import "strings"

// Fault categorizes a capture or detector startup failure so callers
// can show an actionable message instead of a raw error string.
type Fault string

const (
	// FaultPermission means access to the microphone was denied.
	FaultPermission Fault = "permission"

	// FaultNoDevice means no usable capture device was found.
	FaultNoDevice Fault = "no_device"

	// FaultModelLoad means the detector model or asset failed to load.
	FaultModelLoad Fault = "model_load"

	// FaultUnsupported means the runtime lacks required audio support.
	FaultUnsupported Fault = "unsupported"

	// FaultNetwork means a network failure while fetching assets.
	FaultNetwork Fault = "network"

	// FaultUnknown is the explicit fallback for unclassified errors.
	FaultUnknown Fault = "unknown"
)

// Remediation returns a short user-facing hint for the fault.
func (f Fault) Remediation() string {
	switch f {
	case FaultPermission:
		return "Microphone access denied. Grant permission and try again."
	case FaultNoDevice:
		return "No microphone found. Connect an input device and try again."
	case FaultModelLoad:
		return "Voice detection failed to initialize. Try restarting."
	case FaultUnsupported:
		return "Audio capture is not supported in this environment."
	case FaultNetwork:
		return "Network error while starting voice detection. Check your connection."
	default:
		return "Could not start voice capture. Check your microphone and try again."
	}
}

// Matching is ordered: permission beats device, device beats model,
// so an error mentioning both gets the more specific category.
var faultPatterns = []struct {
	fault    Fault
	keywords []string
}{
	{FaultPermission, []string{"permission denied", "not allowed", "access denied", "notallowederror"}},
	{FaultNoDevice, []string{"no such device", "device not found", "no device", "notfounderror", "no input device", "device busy"}},
	{FaultModelLoad, []string{"model", "asset", "wasm", "onnx"}},
	{FaultUnsupported, []string{"not supported", "unsupported", "executable file not found"}},
	{FaultNetwork, []string{"network", "timeout", "connection refused", "fetch"}},
}

// ClassifyFault maps an error to a fault category by substring
// matching on the error text. A nil error returns FaultUnknown.
func ClassifyFault(err error) Fault {
	if err == nil {
		return FaultUnknown
	}
	text := strings.ToLower(err.Error())
	for _, p := range faultPatterns {
		for _, kw := range p.keywords {
			if strings.Contains(text, kw) {
				return p.fault
			}
		}
	}
	return FaultUnknown
}
