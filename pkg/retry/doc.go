// Package retry provides the retry policies used by the worker layer.
//
// Two places consume it:
//
//   - worker.SendConfig.Backoff computes the delay before each retransmission of a timed-out
//     request. Without it the fixed RetryDelay is used.
//   - orchestrator.InitializeWithRetry runs Initialize under a RetryExecutor so that a worker
//     which fails its first probe can be brought up again.
//
// Basic usage:
//
//	policy := retry.NewExponentialBackoffRetry(3, 100*time.Millisecond,
//		retry.WithRetryCondition(retry.InitializationCondition))
//	executor := retry.NewRetryExecutor(policy, retry.WithLogger(logger))
//
//	err := retry.Do(executor, ctx, "initialize encryption", func(ctx context.Context) error {
//		return orch.Initialize(ctx, types.WorkerTypeEncryption)
//	})
//
// Operation errors are never retried by the default condition: they are the authoritative
// result of a request that reached a healthy worker.
package retry
