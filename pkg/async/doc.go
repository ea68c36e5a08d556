// Package async provides the goroutine primitives used for audit dispatch and export generation.
//
// # Overview
//
// Work handed off from a caller resolves through a Future. The caller may Wait on it
// or drop it; dropping a future never blocks or fails the submitting goroutine.
//
// # Key Functions
//
// Go: run one task on its own goroutine with a timeout and panic recovery
//
//	f := async.Go(ctx, 5*time.Minute, "export", func(ctx context.Context) (*audit.ExportResult, error) {
//		return build(ctx)
//	})
//
// WorkerPool: bounded pool for high-volume tasks
//
//	pool := async.NewWorkerPool(ctx, 4, 1024, "audit dispatch", 10*time.Second, logger)
//	defer pool.Shutdown(5 * time.Second)
//
//	f := async.Submit(pool, func(ctx context.Context) (*audit.AuditEvent, error) {
//		return store.Save(ctx, event)
//	})
//
// # Related Packages
//
//   - pkg/audit: asynchronous dispatch and exports
package async
