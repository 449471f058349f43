// Package monitor implements the binary debug-monitor client for a C64
// emulator.
//
// The emulator exposes one TCP socket carrying a duplexed stream of
// synchronous responses and unsolicited event frames. This package frames
// requests, reassembles frames from partial reads, correlates responses to
// in-flight calls, and exposes typed operations over the result.
//
// # Architecture
//
//   - Dialect: one protocol generation's wire geometry and code tables
//   - Decoder: extracts complete frames from the accumulating byte stream
//   - Client: socket lifecycle, pending-call table, event dispatch
//   - Command facade: typed operations (memory, registers, checkpoints,
//     execution control, display, snapshots)
//
// # Quick Start
//
//	client := monitor.NewClient(monitor.DialectV2())
//	if err := client.Connect("127.0.0.1", 6502); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect()
//
//	data, err := client.ReadMemory(ctx, 0x0400, 0x07E7, monitor.MemMain)
//
// # Correlation
//
// Request ids are allocated from a wrapping counter but never reused while
// a call holding the id is still pending. Frames tagged with the async
// sentinel id cannot be matched by id; they resolve the oldest pending call
// expecting their kind, or are handled as events (run-state changes,
// checkpoint hits), or are dropped with a diagnostic.
//
// # Concurrency
//
// One goroutine owns all socket reads. Callers may issue commands from any
// goroutine; each call suspends until its response, its timeout, or
// disconnection, whichever resolves it first, and resolves exactly once.
package monitor
