package core

import (
	"context"

	"github.com/iamanmiglani/Image-to-text/v1/metrics"
)

// Watch returns a channel signalled whenever the turn changes hands or the
// queue moves. It is closed once ctx is done.
func (a *App) Watch(ctx context.Context) (chan struct{}, error) {
	ch, err := a.coord.Watch(ctx)
	if err != nil {
		return nil, err
	}
	metrics.WatcherGauge.Inc()
	go func() {
		<-ctx.Done()
		metrics.WatcherGauge.Dec()
	}()
	return ch, nil
}
