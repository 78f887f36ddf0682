// Package protocol implements the line protocol spoken by the WinSIP kiosk browser.
//
// Outbound traffic consists of Command values. Each command is encoded by Encode into a
// single CRLF terminated line of the form "key|value":
//
//	brightness|75
//	mute|true
//	command|shutdown|-s -t 0
//	sendUrl|https://example.com
//
// Inbound traffic is one JSON object per line. The "TYP" field selects the payload
// field carrying the value, e.g. {"TYP":"BATTERY","BATTERY":"87"}. Decode turns such a
// payload into one of the StatusEvent types, or into a *DecodeError when the payload
// is malformed or not understood.
//
// The package performs no I/O and keeps no state.
package protocol
