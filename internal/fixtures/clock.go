package fixtures

import (
	"context"
	"time"

	"github.com/tilinna/clock"
)

// NextStep advances clck to its next pending timer, spinning until a goroutine has
// armed one or ctx is done. Tickers created inside goroutines are not visible until
// the goroutine runs, so a single AddNext may find nothing to fire.
func NextStep(ctx context.Context, clck *clock.Mock) {
	for {
		if _, d := clck.AddNext(); d != 0 || ctx.Err() != nil {
			return
		}
		time.Sleep(time.Microsecond)
	}
}
