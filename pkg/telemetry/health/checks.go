package health

import (
	"context"
	"fmt"
	"time"
)

// Pinger is implemented by *sql.DB and by the daemon's persistence layers.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingCheck reports whether p answers a ping.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.PingContext(ctx)
	}
}

// CycleFreshnessCheck fails when no lifecycle cycle has finished within
// maxAge. last returns the zero time before the first cycle; the check
// passes until startup+maxAge so a fresh process is not reported stale.
func CycleFreshnessCheck(last func() time.Time, maxAge time.Duration, now func() time.Time) CheckFunc {
	if now == nil {
		now = time.Now
	}
	started := now()
	return func(ctx context.Context) error {
		ref := last()
		if ref.IsZero() {
			ref = started
		}
		if age := now().Sub(ref); age > maxAge {
			return fmt.Errorf("last cycle finished %s ago (limit %s)", age.Round(time.Second), maxAge)
		}
		return nil
	}
}
