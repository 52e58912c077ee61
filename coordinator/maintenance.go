package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ruteri/ceremony-coordinator/interfaces"
)

// RunMaintenance runs Update followed by VerifyPending every interval until
// ctx is canceled or the coordinator stops.
func (c *Coordinator) RunMaintenance(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.log.Info("Maintenance loop started", slog.Duration("interval", interval))
	for {
		select {
		case <-ticker.C:
			if stopped := c.maintain(ctx); stopped {
				c.log.Info("Maintenance loop stopping, coordinator stopped")
				return nil
			}
		case <-ctx.Done():
			c.log.Info("Maintenance loop stopping")
			return nil
		}
	}
}

func (c *Coordinator) maintain(ctx context.Context) bool {
	if err := c.Update(ctx); err != nil {
		if errors.Is(err, interfaces.ErrCoordinatorStopped) {
			return true
		}
		c.log.Error("Maintenance update failed", "err", err)
	}
	if err := c.VerifyPending(ctx); err != nil {
		if errors.Is(err, interfaces.ErrCoordinatorStopped) {
			return true
		}
		c.log.Warn("Verification pass reported failures", "err", err)
	}
	return false
}
