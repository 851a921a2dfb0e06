package shipping

import "context"

// BatchSender ships batches of records to the remote log service.
type BatchSender interface {
	// Initialize performs one health probe and must succeed before the
	// transport starts accepting records.
	Initialize(ctx context.Context) error
	// SendBatch serializes and sends one batch, returning bytes sent.
	SendBatch(ctx context.Context, records []LogRecord) (int, error)
	// HealthCheck is a lightweight connectivity probe. It never panics;
	// any failure is reported as false.
	HealthCheck(ctx context.Context) bool
	// Cleanup releases connection resources. Idempotent.
	Cleanup()
}
