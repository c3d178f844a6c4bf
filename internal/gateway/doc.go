// Package gateway implements the session lifecycle manager: it creates,
// tracks, transitions, expires, restores, and tears down connections to the
// messaging platform, enforces a global concurrency ceiling, and propagates
// state changes to the control plane via webhooks.
//
// All session state lives in the Registry and is mutated only through its
// operations. Connection event callbacks, API calls, and timer sweeps are
// independent asynchronous tasks that synchronize on the registry's lock.
//
// Transport (HTTP) integration is intentionally out of scope here.
package gateway
