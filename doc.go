// Package callcore implements the signaling core of a voice and video
// calling stack: one-to-one calls with glare resolution, SFU group calls,
// and the media connection state machine beneath both.
//
// The root package is a thin facade. An [Endpoint] connects a local peer to
// a websocket signaling relay, builds media connections with pion/webrtc and
// runs a [call.Manager] between them.
//
// # Getting Started
//
// Start a relay (see cmd/signal), then create one endpoint per peer:
//
//	ep, err := callcore.NewEndpoint(ctx, "alice", callcore.Options{
//	    RelayURL: "ws://127.0.0.1:8443/signal",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ep.Close()
//
//	ep.OnIncomingCall(func(c *call.Call) {
//	    _ = ep.Answer(c.ID())
//	})
//	ep.OnCallEnded(func(c *call.Call, reason call.EndReason) {
//	    fmt.Printf("call %s ended: %s\n", c.ID(), reason)
//	})
//
//	c, err := ep.Call("bob", true)
//
// # Packages
//
//   - call: application-facing call lifecycle, glare and busy handling
//   - connection: per-device media connection state machine
//   - groupcall: SFU join, peek, roster and membership proofs
//   - member: opaque member id resolution with bounded caches
//   - signaling: wire messages exchanged between peers
//   - wsignal: websocket transport and relay for signaling
//   - pionmedia: media connections backed by pion/webrtc
//   - config: viper-backed configuration and logging setup
//
// # Concurrency
//
// Every call runs its state machine on its own actor goroutine. Public
// methods post work to that actor and return immediately; observers and
// the callbacks registered on an [Endpoint] are invoked from it and must
// not block.
//
// # Deterministic Testing
//
// Timers go through [clock.TimeProvider]. Tests install a [clock.Manual]
// with [call.Manager.SetTimeProvider] and advance time explicitly:
//
//	mc := clock.NewManual(start)
//	manager.SetTimeProvider(mc)
//	mc.Advance(61 * time.Second) // ring timeout fires synchronously
package callcore
