package protocol

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	require := require.New(t)

	tests := []struct {
		payload string
		want    StatusEvent
	}{
		{`{"TYP":"URL","URL":"https://example.com"}`, URLReceived{URL: "https://example.com"}},
		{`{"TYP":"BATTERY","BATTERY":"87"}`, Battery{Percent: 87}},
		{`{"TYP":"BATTERY","BATTERY":55}`, Battery{Percent: 55}},
		{`{"TYP":"CPU","CPU":"12.5"}`, CPU{Percent: 12.5}},
		{`{"TYP":"IP","IP":"192.168.1.20"}`, IP{Addr: "192.168.1.20"}},
		{`{"TYP":"HOST","HOST":"kiosk-01"}`, Host{Name: "kiosk-01"}},
		{`{"TYP":"MEMORY","MEMORY":"2048000000"}`, Memory{MB: 2048}},
		{`{"TYP":"MEMORY","MEMORY":"1234567890"}`, Memory{MB: 1234.57}},
		{`{"TYP":"MEMORY","MEMORY":"512345678 bytes"}`, Memory{MB: 512.35}},
		{`{"TYP":"MEMORY","MEMORY":1500000}`, Memory{MB: 1.5}},
		{`{"TYP":"EVENT","EVENT":"GOTFOCUS"}`, FocusGained{}},
		{`{"TYP":"ERROR","ERROR":"TRUE"}`, ErrorRaised{}},
		{`{"TYP":"VOLUME","VOLUME":"40"}`, Volume{Level: 40}},
		{`{"TYP":"MUTE","MUTE":"TRUE"}`, Mute{Muted: true}},
		{`{"TYP":"MUTE","MUTE":"FALSE"}`, Mute{Muted: false}},
		{`{"TYP":"MUTE","MUTE":"true"}`, Mute{Muted: false}},
		{`{"TYP":"MUTE"}`, Mute{Muted: false}},
		{` {"MUTE":"TRUE","TYP":"MUTE"} `, Mute{Muted: true}},
	}

	for _, tt := range tests {
		ev, err := Decode([]byte(tt.payload))
		require.NoError(err, tt.payload)
		require.Equal(tt.want, ev, tt.payload)
	}
}

func TestDecode_NaN(t *testing.T) {
	require := require.New(t)

	ev, err := Decode([]byte(`{"TYP":"BATTERY","BATTERY":"full"}`))
	require.NoError(err)
	require.True(math.IsNaN(ev.(Battery).Percent))

	ev, err = Decode([]byte(`{"TYP":"CPU"}`))
	require.NoError(err)
	require.True(math.IsNaN(ev.(CPU).Percent))

	ev, err = Decode([]byte(`{"TYP":"MEMORY","MEMORY":"n/a"}`))
	require.NoError(err)
	require.True(math.IsNaN(ev.(Memory).MB))

	ev, err = Decode([]byte(`{"TYP":"VOLUME","VOLUME":""}`))
	require.NoError(err)
	require.Equal(Volume{Level: 0}, ev)
}

func TestDecode_Errors(t *testing.T) {
	require := require.New(t)

	tests := []struct {
		payload string
		want    error
	}{
		{``, ErrMalformedPayload},
		{`not json`, ErrMalformedPayload},
		{`{"TYP":"URL"`, ErrMalformedPayload},
		{`null`, ErrMalformedPayload},
		{`[1,2]`, ErrMalformedPayload},
		{`{}`, ErrUnknownType},
		{`{"TYP":42}`, ErrUnknownType},
		{`{"TYP":"REBOOT","REBOOT":"1"}`, ErrUnknownType},
		{`{"TYP":"EVENT","EVENT":"LOSTFOCUS"}`, ErrUnhandledValue},
		{`{"TYP":"ERROR","ERROR":"FALSE"}`, ErrUnhandledValue},
	}

	for _, tt := range tests {
		ev, err := Decode([]byte(tt.payload))
		require.Nil(ev, tt.payload)
		require.ErrorIs(err, tt.want, tt.payload)

		var decErr *DecodeError
		require.True(errors.As(err, &decErr), tt.payload)
		require.Equal(tt.payload, string(decErr.Payload))
	}
}

func TestDecode_EventTypes(t *testing.T) {
	require := require.New(t)

	ev, err := Decode([]byte(`{"TYP":"EVENT","EVENT":"GOTFOCUS"}`))
	require.NoError(err)
	require.Equal(TypeEvent, ev.Type())

	ev, err = Decode([]byte(`{"TYP":"ERROR","ERROR":"TRUE"}`))
	require.NoError(err)
	require.Equal(TypeError, ev.Type())
}
