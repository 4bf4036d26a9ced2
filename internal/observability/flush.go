package observability

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"go.uber.org/zap"
)

// FlushTelemetry syncs the logger before process exit. Prometheus is pull-based,
// so only logs need flushing. Sync errors from console streams that cannot be
// fsynced (ENOTTY, EINVAL) are ignored.
func FlushTelemetry(ctx context.Context, logger *zap.Logger) error {
	if logger == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("flush telemetry: %w", err)
	}
	if err := logger.Sync(); err != nil && !errors.Is(err, syscall.ENOTTY) && !errors.Is(err, syscall.EINVAL) {
		return fmt.Errorf("flush logs: %w", err)
	}
	return nil
}
