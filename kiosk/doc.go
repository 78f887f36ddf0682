// Package kiosk manages the TCP session to a WinSIP kiosk browser.
//
// A Session keeps one logical connection to the device alive for as long as it
// exists. It dials the device, reads the inbound status stream, writes outbound
// commands and, whenever the transport fails, schedules a reconnect attempt after a
// fixed delay. The cycle
//
//	Disconnected -> Connecting -> Connected -> Disconnected -> ReconnectPending -> Connecting ...
//
// repeats until Destroy is called, which moves the session to the terminal
// DestroyedState.
//
// Every lifecycle event (dial result, end of the inbound stream, write failure,
// reconnect timer) is handled by a single goroutine, so state transitions are
// applied and reported one at a time, in order. Each physical connection gets a
// generation number; events belonging to an older generation are discarded, which
// guarantees that a failure reported by both the reader and the writer arms only one
// reconnect timer.
//
// Transport errors never reach the caller: Send drops commands while the session is
// not connected, and connection state is observed through ConnStateChangeHandler.
//
// Example:
//
//	cfg, err := kiosk.NewSessionConfig("192.168.1.50", 8080,
//		kiosk.WithPages(pages...),
//		kiosk.WithLogger(log),
//	)
//	if err != nil {
//		return err
//	}
//
//	session := kiosk.NewSession(ctx, cfg)
//	session.AddStatusHandler(func(ev protocol.StatusEvent) { ... })
//	if err := session.Open(); err != nil {
//		return err
//	}
//	defer session.Destroy()
//
//	session.Send(protocol.SetBrightness{Level: 80})
package kiosk
