// Package store is the record store client consumed by the sync engine:
// query a baseline, mutate a case, subscribe to its change feed.
package store

import (
	"context"

	"github.com/psds-microservice/walkin-service/internal/changefeed"
	"github.com/psds-microservice/walkin-service/internal/model"
)

// Store is the record store surface. Every error returned by Query and
// Mutate is an *errs.StoreError; Subscribe failures are
// *errs.SubscriptionError.
type Store interface {
	Query(ctx context.Context, q model.CaseQuery) ([]model.Case, error)
	Mutate(ctx context.Context, id string, patch model.CasePatch) error
	Subscribe(ctx context.Context, filter changefeed.Filter) (Subscription, error)
}

// Subscription delivers change events in commit order until it ends.
// Events is closed when it ends; Err then tells why (nil after a plain
// Unsubscribe).
type Subscription interface {
	Events() <-chan model.ChangeEvent
	Err() error
	Unsubscribe()
}

// AgentSource lists the agents cases can be assigned to.
type AgentSource interface {
	Agents(ctx context.Context) ([]model.Agent, error)
}

var _ Subscription = (*changefeed.Subscription)(nil)
