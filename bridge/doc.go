// Package bridge connects a kiosk Session to an external state store.
//
// User writes to the store (unacknowledged states) become device commands:
//
//	brightness             -> brightness|<level>
//	volume                 -> volume|<level>
//	mute                   -> mute|true|false
//	screenon, screenoff    -> screenon|true, screenoff|true (momentary, reset to false)
//	close                  -> close|true (momentary, reset to false)
//	command                -> command|<program>|<arguments>
//	web.sendURL            -> sendUrl|<url>, clears web.error
//	web.zoom               -> zoom|<factor>
//	web.slide              -> starts or stops the slideshow
//	messages.texttospeech  -> texttospeech|<text>
//	messages.speakmessage  -> texttospeech|<n-th predefined message>
//
// Device status events are written back as acknowledged states under info.*, web.*,
// volume and mute. The connection flag info.connection is true only while the
// session is connected.
package bridge
