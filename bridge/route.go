package bridge

import "strings"

// Route identifies a writable state of the kiosk device.
type Route int

// Routes, named after the state key relative to the store namespace.
const (
	RouteUnknown Route = iota
	RouteBrightness
	RouteVolume
	RouteMute
	RouteScreenOn
	RouteScreenOff
	RouteClose
	RouteCommand
	RouteWebSendURL
	RouteWebZoom
	RouteWebSlide
	RouteTextToSpeech
	RouteSpeakMessage
)

var routeKeys = map[Route]string{
	RouteBrightness:   "brightness",
	RouteVolume:       "volume",
	RouteMute:         "mute",
	RouteScreenOn:     "screenon",
	RouteScreenOff:    "screenoff",
	RouteClose:        "close",
	RouteCommand:      "command",
	RouteWebSendURL:   "web.sendURL",
	RouteWebZoom:      "web.zoom",
	RouteWebSlide:     "web.slide",
	RouteTextToSpeech: "messages.texttospeech",
	RouteSpeakMessage: "messages.speakmessage",
}

// Key returns the state key of the route, empty for RouteUnknown.
func (r Route) Key() string { return routeKeys[r] }

// String returns the state key of the route, or "unknown".
func (r Route) String() string {
	if key, ok := routeKeys[r]; ok {
		return key
	}

	return "unknown"
}

// ParseRoute maps a state key relative to the store namespace to its Route.
//
// Top-level keys route on their single segment; the "web" and "messages" groups
// route on their second segment.
func ParseRoute(key string) Route {
	group, sub, nested := strings.Cut(key, ".")

	switch group {
	case "web":
		if !nested {
			return RouteUnknown
		}
		switch sub {
		case "sendURL":
			return RouteWebSendURL
		case "zoom":
			return RouteWebZoom
		case "slide":
			return RouteWebSlide
		}

	case "messages":
		if !nested {
			return RouteUnknown
		}
		switch sub {
		case "texttospeech":
			return RouteTextToSpeech
		case "speakmessage":
			return RouteSpeakMessage
		}

	default:
		if nested {
			return RouteUnknown
		}
		switch group {
		case "brightness":
			return RouteBrightness
		case "volume":
			return RouteVolume
		case "mute":
			return RouteMute
		case "screenon":
			return RouteScreenOn
		case "screenoff":
			return RouteScreenOff
		case "close":
			return RouteClose
		case "command":
			return RouteCommand
		}
	}

	return RouteUnknown
}

// IsTrigger reports whether the route models a momentary button, which is reset to
// false right after the command was sent.
func (r Route) IsTrigger() bool {
	switch r {
	case RouteScreenOn, RouteScreenOff, RouteClose:
		return true
	default:
		return false
	}
}
