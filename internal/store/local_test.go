package store

import (
	"context"
	"testing"

	"github.com/psds-microservice/walkin-service/internal/changefeed"
	"github.com/psds-microservice/walkin-service/internal/errs"
	"github.com/psds-microservice/walkin-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_QueryMutateSubscribe(t *testing.T) {
	api := newTestAPI(t)
	local := NewLocal(api.Cases, api.Agents, api.Hub())
	ctx := context.Background()

	sub, err := local.Subscribe(ctx, changefeed.Filter{})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	c := createCase(t, api, "ann")
	assert.Equal(t, model.EventInserted, nextEvent(t, sub).Kind)

	require.NoError(t, local.Mutate(ctx, c.ID, model.CasePatch{model.ColSummary: "printer"}))
	e := nextEvent(t, sub)
	assert.Equal(t, model.EventUpdated, e.Kind)
	assert.Equal(t, "printer", e.Case.Summary)

	cases, err := local.Query(ctx, model.CaseQuery{})
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "printer", cases[0].Summary)

	err = local.Mutate(ctx, "nope", model.CasePatch{model.ColSummary: "x"})
	var se *errs.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "mutate", se.Op)
	assert.ErrorIs(t, err, errs.ErrCaseNotFound)
}

func TestLocal_SubscribeCancelledContext(t *testing.T) {
	api := newTestAPI(t)
	local := NewLocal(api.Cases, nil, api.Hub())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := local.Subscribe(ctx, changefeed.Filter{})
	var subErr *errs.SubscriptionError
	require.ErrorAs(t, err, &subErr)

	agents, err := local.Agents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, agents)
}
