package aws

import (
	"context"
	"time"
)

// waitBudget sizes a waiter from the remaining context deadline, falling
// back to the given duration when the caller set none.
func waitBudget(ctx context.Context, fallback time.Duration) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 {
			return rem
		}
	}
	return fallback
}
