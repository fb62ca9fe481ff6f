package store

import (
	"context"

	"github.com/psds-microservice/walkin-service/internal/changefeed"
	"github.com/psds-microservice/walkin-service/internal/errs"
	"github.com/psds-microservice/walkin-service/internal/model"
	"github.com/psds-microservice/walkin-service/internal/service"
)

// Local talks to the case service and hub in the same process.
type Local struct {
	cases  service.CaseServicer
	agents *service.AgentService
	hub    *changefeed.Hub
}

var (
	_ Store       = (*Local)(nil)
	_ AgentSource = (*Local)(nil)
)

// NewLocal builds a Local store. agents may be nil.
func NewLocal(cases service.CaseServicer, agents *service.AgentService, hub *changefeed.Hub) *Local {
	return &Local{cases: cases, agents: agents, hub: hub}
}

func (l *Local) Query(ctx context.Context, q model.CaseQuery) ([]model.Case, error) {
	items, _, err := l.cases.List(ctx, q)
	if err != nil {
		return nil, &errs.StoreError{Op: "query", Err: err}
	}
	return items, nil
}

func (l *Local) Mutate(ctx context.Context, id string, patch model.CasePatch) error {
	if _, err := l.cases.Update(ctx, id, patch); err != nil {
		return &errs.StoreError{Op: "mutate", ID: id, Err: err}
	}
	return nil
}

func (l *Local) Subscribe(ctx context.Context, filter changefeed.Filter) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, &errs.SubscriptionError{Scope: filter.Scope(), Err: err}
	}
	return l.hub.Subscribe(filter), nil
}

func (l *Local) Agents(ctx context.Context) ([]model.Agent, error) {
	if l.agents == nil {
		return nil, nil
	}
	agents, err := l.agents.List(ctx)
	if err != nil {
		return nil, &errs.StoreError{Op: "agents", Err: err}
	}
	return agents, nil
}
