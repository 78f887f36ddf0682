package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Payload discriminators carried in the TYP field. The value of a payload is found
// in the field named after its type.
const (
	TypeURL     = "URL"
	TypeBattery = "BATTERY"
	TypeCPU     = "CPU"
	TypeIP      = "IP"
	TypeHost    = "HOST"
	TypeMemory  = "MEMORY"
	TypeEvent   = "EVENT"
	TypeError   = "ERROR"
	TypeVolume  = "VOLUME"
	TypeMute    = "MUTE"

	typeField = "TYP"
)

const (
	eventGotFocus = "GOTFOCUS"
	flagTrue      = "TRUE"
	bytesPerMB    = 1_000_000
)

// StatusEvent is a status notification decoded from the kiosk device.
type StatusEvent interface {
	// Type returns the TYP discriminator the event was decoded from.
	Type() string

	statusEvent()
}

type (
	// URLReceived reports the URL currently shown by the browser.
	URLReceived struct{ URL string }
	// Battery reports the battery charge in percent.
	Battery struct{ Percent float64 }
	// CPU reports the CPU load in percent.
	CPU struct{ Percent float64 }
	// IP reports the device IP address.
	IP struct{ Addr string }
	// Host reports the device host name.
	Host struct{ Name string }
	// Memory reports memory usage in megabytes, rounded to two decimals.
	Memory struct{ MB float64 }
	// FocusGained reports that the browser window got the focus, i.e. a user
	// interacted with the kiosk.
	FocusGained struct{}
	// ErrorRaised reports that the browser failed to load a page.
	ErrorRaised struct{}
	// Volume reports the speaker volume.
	Volume struct{ Level float64 }
	// Mute reports the speaker mute state.
	Mute struct{ Muted bool }
)

func (URLReceived) Type() string { return TypeURL }
func (Battery) Type() string     { return TypeBattery }
func (CPU) Type() string         { return TypeCPU }
func (IP) Type() string          { return TypeIP }
func (Host) Type() string        { return TypeHost }
func (Memory) Type() string      { return TypeMemory }
func (FocusGained) Type() string { return TypeEvent }
func (ErrorRaised) Type() string { return TypeError }
func (Volume) Type() string      { return TypeVolume }
func (Mute) Type() string        { return TypeMute }

func (URLReceived) statusEvent() {}
func (Battery) statusEvent()     {}
func (CPU) statusEvent()         {}
func (IP) statusEvent()          {}
func (Host) statusEvent()        {}
func (Memory) statusEvent()      {}
func (FocusGained) statusEvent() {}
func (ErrorRaised) statusEvent() {}
func (Volume) statusEvent()      {}
func (Mute) statusEvent()        {}

// Decode decodes one inbound JSON payload.
//
// Decode never panics. Any payload that does not yield a StatusEvent returns a
// *DecodeError wrapping ErrMalformedPayload, ErrUnknownType or ErrUnhandledValue.
//
// Numeric values are accepted both as JSON numbers and as numeric strings; values
// that cannot be interpreted as a number decode to NaN.
func Decode(payload []byte) (StatusEvent, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, newDecodeError("", payload, fmt.Errorf("%w: %v", ErrMalformedPayload, err))
	}
	if fields == nil {
		return nil, newDecodeError("", payload, ErrMalformedPayload)
	}

	typ, ok := fields[typeField]
	if !ok {
		return nil, newDecodeError("", payload, ErrUnknownType)
	}
	var t string
	if err := json.Unmarshal(typ, &t); err != nil {
		return nil, newDecodeError("", payload, ErrUnknownType)
	}

	val := fields[t]

	switch t {
	case TypeURL:
		return URLReceived{URL: toString(val)}, nil
	case TypeBattery:
		return Battery{Percent: toNumber(val)}, nil
	case TypeCPU:
		return CPU{Percent: toNumber(val)}, nil
	case TypeIP:
		return IP{Addr: toString(val)}, nil
	case TypeHost:
		return Host{Name: toString(val)}, nil
	case TypeMemory:
		return Memory{MB: bytesToMB(toInteger(val))}, nil
	case TypeEvent:
		if toString(val) == eventGotFocus {
			return FocusGained{}, nil
		}
	case TypeError:
		if toString(val) == flagTrue {
			return ErrorRaised{}, nil
		}
	case TypeVolume:
		return Volume{Level: toNumber(val)}, nil
	case TypeMute:
		return Mute{Muted: toString(val) == flagTrue}, nil
	default:
		return nil, newDecodeError(t, payload, ErrUnknownType)
	}

	return nil, newDecodeError(t, payload, ErrUnhandledValue)
}

// toString returns the string value of raw. Non-string JSON values are returned
// in their JSON text form, a missing value as the empty string.
func toString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	return string(bytes.TrimSpace(raw))
}

// toNumber converts raw the way the device firmware expects numbers to be read:
// numbers as-is, numeric strings parsed, blank strings, null and false as 0, true
// as 1 and everything else as NaN.
func toNumber(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return math.NaN()
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return math.NaN()
	}

	switch x := v.(type) {
	case nil:
		return 0
	case float64:
		return x
	case bool:
		if x {
			return 1
		}
		return 0
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

// toInteger reads the leading integer of raw. JSON numbers are truncated, strings
// are scanned for an optional sign followed by digits and NaN is returned when no
// digit is found.
func toInteger(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return math.NaN()
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return math.NaN()
	}

	switch x := v.(type) {
	case float64:
		return math.Trunc(x)
	case string:
		return leadingInt(x)
	default:
		return math.NaN()
	}
}

func leadingInt(s string) float64 {
	s = strings.TrimSpace(s)

	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return math.NaN()
	}

	f, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return math.NaN()
	}

	return f
}

func bytesToMB(b float64) float64 {
	return math.Round(b/bytesPerMB*100) / 100
}
