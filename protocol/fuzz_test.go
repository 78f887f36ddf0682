package protocol

import (
	"errors"
	"testing"
)

// FuzzDecode feeds arbitrary payloads to Decode.
// The invariant is: Decode never panics and returns exactly one of an event or a *DecodeError.
func FuzzDecode(f *testing.F) {
	f.Add([]byte(`{"TYP":"URL","URL":"https://example.com"}`))
	f.Add([]byte(`{"TYP":"MEMORY","MEMORY":"2048000000"}`))
	f.Add([]byte(`{"TYP":"MEMORY","MEMORY":-1e300}`))
	f.Add([]byte(`{"TYP":"MUTE","MUTE":{"a":[1,2,3]}}`))
	f.Add([]byte(`{"TYP":null}`))
	f.Add([]byte(`{"TYP":"EVENT","EVENT":"GOTFOCUS"}`))
	f.Add([]byte(`[]`))
	f.Add([]byte{})
	f.Add([]byte{0xff, 0xfe, '{'})

	f.Fuzz(func(t *testing.T, payload []byte) {
		ev, err := Decode(payload)
		if err == nil && ev == nil {
			t.Fatalf("nil event without error for %q", payload)
		}
		if err != nil {
			if ev != nil {
				t.Fatalf("event %v returned with error %v", ev, err)
			}
			var decErr *DecodeError
			if !errors.As(err, &decErr) {
				t.Fatalf("unexpected error type %T", err)
			}
		}
	})
}
