/*
Package worker implements a single capability worker: an isolated execution unit plus the
request correlation, admission control and failure handling in front of it.

# Overview

An Instance owns exactly one Unit. Callers never talk to the unit directly:

	inst := worker.NewInstance(types.WorkerTypeEncryption, handler, worker.DefaultConfig())
	h, err := inst.Send(ops.Encrypt{Plaintext: p, Key: k}, nil)
	res, err := worker.Await[ops.Encrypted](ctx, h)

# Correlation

Every dispatched request gets a decimal correlation id from a per-instance counter ("1", "2",
...). Ids are unique and strictly increasing for the life of the instance. A response settles
the pending request with the same id; responses for unknown ids are dropped.

# Timeouts and retries

Each transmission arms a timer from the configured types.Clock. When it fires and retries are
left, the request is retransmitted after RetryDelay (or the Backoff strategy) under the same id,
so a late answer to an earlier transmission is still accepted. When retries run out the
request fails with a types.WorkerError of kind Timeout that names the worker type and the
retry count.

# Admission

At most MaxBusyCount requests are in flight. A request dispatches immediately only when a slot
is free and nothing is queued; otherwise it waits in a priority heap (high, normal, low; FIFO
within a priority). Every completion drains the queue into the freed slots.

# Faults

A handler panic, a success result that does not fit its operation, or a message the unit
cannot take marks the instance unhealthy and rejects every pending and queued request with a
WorkerFault error. Terminate rejects them with a Terminated error and stops the unit.
*/
package worker
