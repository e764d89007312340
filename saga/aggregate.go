package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/meridian-commerce/orchestrator/errgroup"
	"github.com/meridian-commerce/orchestrator/log"
	"github.com/meridian-commerce/orchestrator/modules"
)

// ErrUnknownDataType is returned when FetchAggregatedData is asked for a
// data type it has no fan-out plan for. This is a configuration error and
// propagates instead of being absorbed into a failure result.
var ErrUnknownDataType = errors.New("unknown aggregated data type")

// Aggregated data types.
const (
	DataUserOrders          = "user_orders"
	DataUserRecommendations = "user_recommendations"
	DataOrderDetails        = "order_details"
)

// defaultHistoryLimit caps order-history sub-fetches in aggregations.
const defaultHistoryLimit = 20

// subFetch is one parallel leg of an aggregation, producing the value stored
// under key in the composite result.
type subFetch struct {
	key   string
	fetch func(ctx context.Context) (any, error)
}

// FetchAggregatedData fans out to the module clients relevant to dataType in
// parallel, joins the results within the coordinator's bounded timeout, and
// merges them into one composite result keyed by sub-resource name. A failed
// or abandoned sub-fetch yields a nil entry rather than aborting the whole
// aggregation.
func (co *Coordinator) FetchAggregatedData(ctx context.Context, dataType string, filters map[string]string) (Result, error) {
	if co == nil {
		return Result{}, ErrNilCoordinator
	}

	ctx, span := co.tracer.Start(ctx, "saga.aggregated_fetch")
	defer span.End()

	span.SetAttributes(attribute.String("aggregate.data_type", dataType))

	fetches, err := co.planFetches(dataType, filters)
	if err != nil {
		return Result{}, err
	}

	composite := make(map[string]any, len(fetches))

	var mu sync.Mutex

	for _, sub := range fetches {
		composite[sub.key] = nil
	}

	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLogger(co.logger)

	for _, sub := range fetches {
		sub := sub
		grp.Go(func() error {
			value, fetchErr := sub.fetch(grpCtx)
			if fetchErr != nil {
				co.logger.Log(grpCtx, log.LevelWarn, "aggregation sub-fetch failed",
					log.String("data_type", dataType),
					log.String("sub_resource", sub.key),
					log.Err(fetchErr))

				return nil
			}

			mu.Lock()
			composite[sub.key] = value
			mu.Unlock()

			return nil
		})
	}

	joinCtx, cancel := context.WithTimeout(ctx, co.joinTimeout)
	defer cancel()

	if waitErr := grp.WaitContext(joinCtx); waitErr != nil {
		co.logger.Log(ctx, log.LevelWarn, "aggregation join timed out, returning partial result",
			log.String("data_type", dataType), log.Err(waitErr))
	}

	mu.Lock()
	snapshot := make(map[string]any, len(composite))
	for key, value := range composite {
		snapshot[key] = value
	}
	mu.Unlock()

	return Ok("aggregated "+dataType, snapshot), nil
}

// planFetches maps a data type to its parallel sub-fetches.
func (co *Coordinator) planFetches(dataType string, filters map[string]string) ([]subFetch, error) {
	switch dataType {
	case DataUserOrders:
		userID := filters["userId"]

		return []subFetch{
			{key: "user", fetch: func(ctx context.Context) (any, error) {
				active, err := co.users.IsUserActive(ctx, userID)
				if err != nil {
					return nil, err
				}

				return map[string]any{"id": userID, "active": active}, nil
			}},
			{key: "orders", fetch: func(ctx context.Context) (any, error) {
				return co.orders.GetOrderHistory(ctx, userID, defaultHistoryLimit)
			}},
		}, nil

	case DataUserRecommendations:
		userID := filters["userId"]

		return []subFetch{
			{key: "user", fetch: func(ctx context.Context) (any, error) {
				active, err := co.users.IsUserActive(ctx, userID)
				if err != nil {
					return nil, err
				}

				return map[string]any{"id": userID, "active": active}, nil
			}},
			{key: "recommendations", fetch: func(ctx context.Context) (any, error) {
				return co.catalog.GetRecommendations(ctx, userID, modules.Preferences{}, filters)
			}},
		}, nil

	case DataOrderDetails:
		orderID := filters["orderId"]
		userID := filters["userId"]

		fetches := []subFetch{
			{key: "order", fetch: func(ctx context.Context) (any, error) {
				order, err := co.orders.GetOrder(ctx, orderID)
				if err != nil {
					return nil, err
				}

				return order, nil
			}},
		}

		if userID != "" {
			fetches = append(fetches, subFetch{key: "user", fetch: func(ctx context.Context) (any, error) {
				active, err := co.users.IsUserActive(ctx, userID)
				if err != nil {
					return nil, err
				}

				return map[string]any{"id": userID, "active": active}, nil
			}})
		}

		return fetches, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownDataType, dataType)
}
