package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/psds-microservice/walkin-service/internal/config"
	"github.com/psds-microservice/walkin-service/internal/errs"
	"github.com/psds-microservice/walkin-service/internal/logging"
	"github.com/psds-microservice/walkin-service/internal/model"
	"github.com/psds-microservice/walkin-service/internal/status"
	"github.com/psds-microservice/walkin-service/internal/store"
	"github.com/psds-microservice/walkin-service/internal/subscription"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Mirror the case list from a running API and log every change",
	RunE:  runWatch,
}

var (
	watchServer string
	watchSince  time.Duration
	watchRetry  time.Duration
)

func init() {
	watchCmd.Flags().StringVar(&watchServer, "server", "", "API base URL (default WATCH_SERVER_URL)")
	watchCmd.Flags().DurationVar(&watchSince, "since", 0, "only cases created within this window, e.g. 72h")
	watchCmd.Flags().DurationVar(&watchRetry, "retry", 3*time.Second, "delay before re-opening a dropped feed")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := logging.Setup(os.Stderr, cfg.LogLevel, cfg.AppEnv)
	if watchServer == "" {
		watchServer = cfg.WatchServerURL
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	remote := store.NewRemote(watchServer)
	var agents atomic.Pointer[[]model.Agent]
	refreshAgents := func() {
		list, err := remote.Agents(ctx)
		if err != nil {
			logger.Warn("agents unavailable", "err", errs.Loggable(err))
			return
		}
		agents.Store(&list)
	}

	// Fired from the feed goroutine; the loop below re-opens.
	dropped := make(chan struct{}, 1)
	reporter := errs.ReporterFunc(func(err error) {
		logger.Error("watch", "kind", errs.Kind(err), "err", errs.Loggable(err))
		var subErr *errs.SubscriptionError
		if errors.As(err, &subErr) {
			select {
			case dropped <- struct{}{}:
			default:
			}
		}
	})

	ctrl := subscription.New(remote, subscription.WithReporter(reporter), subscription.WithLogger(logger))
	defer ctrl.Close()
	ctrl.Mirror().Watch(func(e model.ChangeEvent) {
		logChange(logger, e, agents.Load())
	})

	scope := subscription.All(watchQuery())
	for {
		refreshAgents()
		if err := ctrl.Open(ctx, scope); err == nil {
			logger.Info("watching", "server", watchServer, "scope", scope.Key(), "cases", ctrl.Mirror().Len())
			logSnapshot(logger, ctrl.Mirror().Snapshot(), agents.Load())
			select {
			case <-ctx.Done():
				return nil
			case <-dropped:
			}
		} else if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(watchRetry):
		}
		// An Open failure also reports a SubscriptionError; drain it.
		select {
		case <-dropped:
		default:
		}
	}
}

func watchQuery() model.CaseQuery {
	var q model.CaseQuery
	if watchSince > 0 {
		from := time.Now().Add(-watchSince)
		q.CreatedFrom = &from
	}
	return q
}

func logSnapshot(logger *slog.Logger, cases []model.Case, agents *[]model.Agent) {
	for _, c := range cases {
		logger.Info("case", caseAttrs(c, agents)...)
	}
}

func logChange(logger *slog.Logger, e model.ChangeEvent, agents *[]model.Agent) {
	if e.Case == nil {
		logger.Info("case "+string(e.Kind), "id", e.ID)
		return
	}
	logger.Info("case "+string(e.Kind), caseAttrs(*e.Case, agents)...)
}

func caseAttrs(c model.Case, agents *[]model.Agent) []any {
	var known []model.Agent
	if agents != nil {
		known = *agents
	}
	return []any{
		"id", c.ID,
		"name", c.Name,
		"status", status.Derive(c).Label(),
		"assignee", model.AssigneeLabel(known, c.Assignee),
		"created_at", c.CreatedAt.Format(time.RFC3339),
	}
}
