package protocol

import (
	"strconv"
	"strings"
)

// LineTerminator terminates every outbound line.
const LineTerminator = "\r\n"

// Command is an outbound instruction for the kiosk device.
//
// The set of commands is closed: every implementation lives in this package and
// provides its own wire key and value.
type Command interface {
	// Key returns the wire key of the command, e.g. "brightness".
	Key() string
	// Value returns the wire value of the command, already formatted.
	Value() string

	command()
}

type (
	// SetBrightness sets the screen brightness.
	SetBrightness struct{ Level float64 }
	// SetVolume sets the speaker volume.
	SetVolume struct{ Level float64 }
	// SetMute mutes or unmutes the speaker.
	SetMute struct{ Muted bool }
	// ScreenOn switches the screen on.
	ScreenOn struct{}
	// ScreenOff switches the screen off.
	ScreenOff struct{}
	// Close closes the browser application.
	Close struct{}
	// RunCommand executes a program on the device. The first word of Text is the
	// program, the rest its arguments.
	RunCommand struct{ Text string }
	// SendURL navigates the browser to URL.
	SendURL struct{ URL string }
	// SetZoom sets the page zoom factor.
	SetZoom struct{ Factor float64 }
	// TextToSpeech speaks Text on the device.
	TextToSpeech struct{ Text string }
)

func (SetBrightness) Key() string     { return "brightness" }
func (c SetBrightness) Value() string { return formatNumber(c.Level) }

func (SetVolume) Key() string     { return "volume" }
func (c SetVolume) Value() string { return formatNumber(c.Level) }

func (SetMute) Key() string     { return "mute" }
func (c SetMute) Value() string { return strconv.FormatBool(c.Muted) }

func (ScreenOn) Key() string   { return "screenon" }
func (ScreenOn) Value() string { return "true" }

func (ScreenOff) Key() string   { return "screenoff" }
func (ScreenOff) Value() string { return "true" }

func (Close) Key() string   { return "close" }
func (Close) Value() string { return "true" }

func (RunCommand) Key() string { return "command" }

// Value separates the program from its arguments. Only the first space is replaced,
// the argument string is passed through verbatim.
func (c RunCommand) Value() string { return strings.Replace(c.Text, " ", "|", 1) }

func (SendURL) Key() string     { return "sendUrl" }
func (c SendURL) Value() string { return c.URL }

func (SetZoom) Key() string     { return "zoom" }
func (c SetZoom) Value() string { return formatNumber(c.Factor) }

func (TextToSpeech) Key() string     { return "texttospeech" }
func (c TextToSpeech) Value() string { return c.Text }

func (SetBrightness) command() {}
func (SetVolume) command()     {}
func (SetMute) command()       {}
func (ScreenOn) command()      {}
func (ScreenOff) command()     {}
func (Close) command()         {}
func (RunCommand) command()    {}
func (SendURL) command()       {}
func (SetZoom) command()       {}
func (TextToSpeech) command()  {}

// Encode returns the wire line for cmd, including the line terminator.
func Encode(cmd Command) string {
	key, val := cmd.Key(), cmd.Value()

	var sb strings.Builder
	sb.Grow(len(key) + len(val) + 1 + len(LineTerminator))
	sb.WriteString(key)
	sb.WriteByte('|')
	sb.WriteString(val)
	sb.WriteString(LineTerminator)

	return sb.String()
}

// CommandString returns cmd as "key|value" without terminator, for logging.
func CommandString(cmd Command) string {
	return cmd.Key() + "|" + cmd.Value()
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
