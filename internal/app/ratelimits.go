package app

import (
	"context"
	"strings"
)

// AllowManualSync throttles user triggered syncs per caller using
// sync.manual_per_minute. It returns limits.ErrLimitExceeded when the
// caller is over budget.
func (c *Container) AllowManualSync(ctx context.Context, caller string) error {
	if c == nil || c.RateLimiter == nil {
		return nil
	}
	caller = strings.TrimSpace(caller)
	if caller == "" {
		caller = "anonymous"
	}
	perMinute := 0
	if c.Config != nil {
		perMinute = c.Config.Sync.ManualPerMinute
	}
	return c.RateLimiter.Allow(ctx, "manual-sync:"+caller, perMinute)
}

