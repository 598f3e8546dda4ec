package app

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// startWorkers runs the background loops until ctx is cancelled: the job
// worker, the conversation timeout detector, the optimization scheduler and
// the cross-store reconciler. The returned group's Wait unblocks once all
// loops have drained.
func startWorkers(ctx context.Context, services Services) *errgroup.Group {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return services.JobWorker.Run(ctx)
	})
	g.Go(func() error {
		services.Detector.Run(ctx)
		return nil
	})
	g.Go(func() error {
		services.Scheduler.Run(ctx)
		return nil
	})
	g.Go(func() error {
		services.Reconciler.Run(ctx)
		return nil
	})

	return g
}
