package bridge

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/arloliu/go-kiosk/kiosk"
	"github.com/arloliu/go-kiosk/logger"
	"github.com/arloliu/go-kiosk/protocol"
	"github.com/arloliu/go-kiosk/slideshow"
	"github.com/arloliu/go-kiosk/state"
)

// State keys written by the bridge.
const (
	KeyConnection = "info.connection"
	KeyBattery    = "info.battery"
	KeyCPU        = "info.cpu"
	KeyIP         = "info.ip"
	KeyHost       = "info.host"
	KeyMemory     = "info.memory"
	KeyReceiveURL = "web.receiveURL"
	KeyWebError   = "web.error"
	KeyWebSlide   = "web.slide"
	KeyVolume     = "volume"
	KeyMute       = "mute"
)

// ErrInvalidValue is returned by OnExternalChange when a state value cannot be
// converted to the command argument.
var ErrInvalidValue = errors.New("invalid state value")

// Device is the part of a kiosk session used by the bridge.
type Device interface {
	Send(cmd protocol.Command)
	IsConnected() bool
	StartSlideshow()
	StopSlideshow()
}

var _ Device = (*kiosk.Session)(nil)

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger of the bridge.
func WithLogger(l logger.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// Bridge translates between the external state store and a kiosk device.
type Bridge struct {
	device Device
	store  state.Store
	speak  []string
	logger logger.Logger
}

// New creates a Bridge for device and store. speak is the list of predefined messages
// addressed by messages.speakmessage, starting at 1.
func New(device Device, store state.Store, speak []string, opts ...Option) *Bridge {
	b := &Bridge{
		device: device,
		store:  store,
		speak:  append([]string(nil), speak...),
		logger: logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Attach subscribes the bridge to all state changes of the store namespace and
// registers its handlers on session. The returned function cancels the subscription.
func (b *Bridge) Attach(ctx context.Context, session *kiosk.Session) (func(), error) {
	session.AddConnStateChangeHandler(b.ConnStateChangeHandler(ctx))
	session.AddStatusHandler(b.StatusHandler(ctx))
	session.AddSlideHandler(b.SlideHandler(ctx))

	if err := b.OnConnectionChange(ctx, session.IsConnected()); err != nil {
		return nil, err
	}

	return b.store.Subscribe(ctx, "*", b.ChangeHandler(ctx))
}

// ChangeHandler returns a state.ChangeHandler calling OnExternalChange.
func (b *Bridge) ChangeHandler(ctx context.Context) state.ChangeHandler {
	return func(id string, st state.State) {
		if err := b.OnExternalChange(ctx, id, st); err != nil {
			b.logger.Debug("failed to handle state change", "id", id, "error", err)
		}
	}
}

// ConnStateChangeHandler returns a kiosk.ConnStateChangeHandler that reports the
// connected flag to the store whenever it flips.
func (b *Bridge) ConnStateChangeHandler(ctx context.Context) kiosk.ConnStateChangeHandler {
	return func(_ *kiosk.Session, prevState kiosk.ConnState, newState kiosk.ConnState) {
		if prevState.IsConnected() == newState.IsConnected() {
			return
		}
		if err := b.OnConnectionChange(ctx, newState.IsConnected()); err != nil {
			b.logger.Debug("failed to write connection state", "error", err)
		}
	}
}

// StatusHandler returns a kiosk.StatusHandler calling OnStatusEvent.
func (b *Bridge) StatusHandler(ctx context.Context) kiosk.StatusHandler {
	return func(ev protocol.StatusEvent) {
		if err := b.OnStatusEvent(ctx, ev); err != nil {
			b.logger.Debug("failed to write status", "type", ev.Type(), "error", err)
		}
	}
}

// SlideHandler returns a kiosk.SlideHandler calling OnSlide.
func (b *Bridge) SlideHandler(ctx context.Context) kiosk.SlideHandler {
	return func(page slideshow.Page) {
		if err := b.OnSlide(ctx, page); err != nil {
			b.logger.Debug("failed to clear web error", "page", page.Name, "error", err)
		}
	}
}

// OnExternalChange maps a state change to a device command.
//
// Acknowledged states and ids outside the store namespace are ignored, as are keys
// that do not address a device function.
func (b *Bridge) OnExternalChange(ctx context.Context, id string, st state.State) error {
	if st.Ack {
		return nil
	}

	key, ok := state.RelativeKey(b.store.Namespace(), id)
	if !ok {
		return nil
	}

	route := ParseRoute(key)
	b.logger.Debug("state change", "id", id, "route", route, "val", st.Val)

	switch route {
	case RouteBrightness:
		level, ok := toNumber(st.Val)
		if !ok {
			return invalidValue(route, st.Val)
		}
		b.device.Send(protocol.SetBrightness{Level: level})

	case RouteVolume:
		level, ok := toNumber(st.Val)
		if !ok {
			return invalidValue(route, st.Val)
		}
		b.device.Send(protocol.SetVolume{Level: level})

	case RouteMute:
		b.device.Send(protocol.SetMute{Muted: toBool(st.Val)})

	case RouteScreenOn, RouteScreenOff, RouteClose:
		if !toBool(st.Val) {
			return nil
		}
		b.device.Send(triggerCommand(route))

		return b.store.WriteState(ctx, route.Key(), false, true)

	case RouteCommand:
		b.device.Send(protocol.RunCommand{Text: toText(st.Val)})

	case RouteWebSendURL:
		b.device.Send(protocol.SendURL{URL: toText(st.Val)})

		return b.store.WriteState(ctx, KeyWebError, false, true)

	case RouteWebZoom:
		factor, ok := toNumber(st.Val)
		if !ok {
			return invalidValue(route, st.Val)
		}
		b.device.Send(protocol.SetZoom{Factor: factor})

	case RouteWebSlide:
		if !toBool(st.Val) {
			b.device.StopSlideshow()
			return nil
		}
		if b.device.IsConnected() {
			b.device.StartSlideshow()
			return nil
		}

		return b.store.WriteState(ctx, KeyWebSlide, false, true)

	case RouteTextToSpeech:
		b.device.Send(protocol.TextToSpeech{Text: toText(st.Val)})

	case RouteSpeakMessage:
		if text, ok := b.speakEntry(st.Val); ok {
			b.device.Send(protocol.TextToSpeech{Text: text})
		}

	case RouteUnknown:
	}

	return nil
}

// OnStatusEvent writes the state derived from a device status event.
func (b *Bridge) OnStatusEvent(ctx context.Context, ev protocol.StatusEvent) error {
	switch e := ev.(type) {
	case protocol.URLReceived:
		return b.store.WriteState(ctx, KeyReceiveURL, e.URL, true)
	case protocol.Battery:
		return b.store.WriteState(ctx, KeyBattery, numberState(e.Percent), true)
	case protocol.CPU:
		return b.store.WriteState(ctx, KeyCPU, numberState(e.Percent), true)
	case protocol.IP:
		return b.store.WriteState(ctx, KeyIP, e.Addr, true)
	case protocol.Host:
		return b.store.WriteState(ctx, KeyHost, e.Name, true)
	case protocol.Memory:
		return b.store.WriteState(ctx, KeyMemory, numberState(e.MB), true)
	case protocol.FocusGained:
		return b.onFocusGained(ctx)
	case protocol.ErrorRaised:
		return b.store.WriteState(ctx, KeyWebError, true, true)
	case protocol.Volume:
		return b.store.WriteState(ctx, KeyVolume, numberState(e.Level), true)
	case protocol.Mute:
		return b.store.WriteState(ctx, KeyMute, e.Muted, true)
	default:
		return fmt.Errorf("unsupported status event %T", ev)
	}
}

// OnConnectionChange writes the connected flag.
func (b *Bridge) OnConnectionChange(ctx context.Context, connected bool) error {
	return b.store.WriteState(ctx, KeyConnection, connected, true)
}

// OnSlide clears the web error flag every time the slideshow loads a page.
func (b *Bridge) OnSlide(ctx context.Context, _ slideshow.Page) error {
	return b.store.WriteState(ctx, KeyWebError, false, true)
}

// onFocusGained ends the slideshow when the user touches the kiosk. The flag is
// written unacknowledged, so the change comes back through OnExternalChange and stops
// the scheduler.
func (b *Bridge) onFocusGained(ctx context.Context) error {
	st, err := b.store.ReadState(ctx, KeyWebSlide)
	if err != nil {
		if errors.Is(err, state.ErrStateNotFound) {
			return nil
		}
		return err
	}

	if !toBool(st.Val) {
		return nil
	}

	return b.store.WriteState(ctx, KeyWebSlide, false, false)
}

// speakEntry resolves a 1-based index into the speak list.
func (b *Bridge) speakEntry(v any) (string, bool) {
	n, ok := toNumber(v)
	if !ok || n < 1 || n != math.Trunc(n) || n > float64(len(b.speak)) {
		return "", false
	}

	return b.speak[int(n)-1], true
}

func triggerCommand(route Route) protocol.Command {
	switch route {
	case RouteScreenOn:
		return protocol.ScreenOn{}
	case RouteScreenOff:
		return protocol.ScreenOff{}
	default:
		return protocol.Close{}
	}
}

func invalidValue(route Route, v any) error {
	return fmt.Errorf("%w: %s=%v", ErrInvalidValue, route, v)
}
