package orchestrator

import (
	"context"

	"github.com/meridian-commerce/orchestrator/events"
	"github.com/meridian-commerce/orchestrator/log"
	"github.com/meridian-commerce/orchestrator/saga"
)

// InitiateGracefulShutdown stops the service: it flips the shutdown flag,
// broadcasts a prepare-shutdown event, waits (bounded) for in-flight
// asynchronous tasks, asks the downstream modules to shut down, and releases
// the task pool. An expired drain is logged and shutdown proceeds; nothing is
// retried. Repeated calls return a no-op result.
func (svc *Service) InitiateGracefulShutdown(ctx context.Context) saga.Result {
	if svc == nil {
		return saga.Fail("service not available")
	}

	if !svc.lifecycle.BeginShutdown() {
		return saga.Ok("shutdown already in progress", nil)
	}

	svc.logger.Log(ctx, log.LevelInfo, "graceful shutdown initiated")

	// Broadcast first so other components stop accepting new work while we
	// drain.
	if svc.publisher != nil {
		svc.publisher.Publish(ctx, events.EventPrepareShutdown, nil)
	}

	abandoned := svc.tasks.Drain(svc.shutdownGrace)
	if abandoned > 0 {
		svc.logger.Log(ctx, log.LevelWarn, "shutdown drain expired with unfinished tasks",
			log.Int("abandoned_tasks", abandoned))
	}

	svc.shutdownClients(ctx)

	svc.lifecycle.finish()

	svc.logger.Log(ctx, log.LevelInfo, "graceful shutdown complete",
		log.Int("abandoned_tasks", abandoned))

	return saga.Ok("shutdown complete", map[string]any{"abandonedTasks": abandoned})
}

func (svc *Service) shutdownClients(ctx context.Context) {
	clients := []struct {
		name string
		stop func(context.Context) error
	}{
		{"user-module", svc.users.Shutdown},
		{"catalog-module", svc.catalog.Shutdown},
		{"order-module", svc.orders.Shutdown},
		{"notification-module", svc.notifications.Shutdown},
	}

	for _, client := range clients {
		if err := client.stop(ctx); err != nil {
			svc.logger.Log(ctx, log.LevelWarn, "module shutdown failed",
				log.String("module", client.name), log.Err(err))
		}
	}
}
