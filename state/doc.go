// Package state defines the external key/state store the kiosk bridge reads from and
// writes to, and provides two implementations: an in-process MemoryStore and a
// NATSStore backed by a JetStream key-value bucket.
//
// Keys passed to ReadState and WriteState are relative to the store namespace,
// e.g. "web.slide" in namespace "winsipbrowser.0". Change notifications carry the
// full id ("winsipbrowser.0.web.slide").
//
// Every state carries an acknowledged flag. Values written by the device side are
// acknowledged; values written by users are not, and only those are turned into
// device commands.
package state
