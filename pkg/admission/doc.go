// Package admission bounds the load Switchboard puts on the upstream.
//
// A Controller admits a request immediately while three ceilings hold: the
// number of in-flight operations, the admissions in the current second and
// the admissions in the current minute. Otherwise the request waits in a
// bounded queue:
//
//   - high priority requests are served before normal ones, FIFO within a
//     priority
//   - a full queue fails fast with ErrCapacityExceeded
//   - a request that waits past its timeout fails with ErrQueueTimeout and
//     never runs
//
// The per-second and per-minute windows reset on fixed wall-clock
// boundaries, not sliding windows, so bursts at a window edge are possible.
//
// # Usage
//
//	slot, err := controller.Acquire(ctx, admission.Options{Priority: admission.PriorityHigh})
//	if err != nil {
//		return err
//	}
//	defer slot.Release()
package admission
