package render

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// waitNetworkIdle returns a channel closed once no request has been in
// flight for idleAfter. Listening stops with ctx.
func waitNetworkIdle(ctx context.Context, idleAfter time.Duration) <-chan struct{} {
	idle := make(chan struct{})
	var (
		active  int32
		mu      sync.Mutex
		timer   *time.Timer
		once    sync.Once
		signal  = func() { once.Do(func() { close(idle) }) }
		restart = func() {
			mu.Lock()
			defer mu.Unlock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(idleAfter, func() {
				if atomic.LoadInt32(&active) == 0 {
					signal()
				}
			})
		}
	)

	chromedp.ListenTarget(ctx, func(ev any) {
		switch ev.(type) {
		case *network.EventRequestWillBeSent:
			atomic.AddInt32(&active, 1)
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			if atomic.AddInt32(&active, -1) <= 0 {
				restart()
			}
		}
	})
	return idle
}
