package main

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/config"
	"github.com/fyrsmithlabs/knowledged/internal/logging"
	"github.com/fyrsmithlabs/knowledged/internal/workflows"
)

// fleetWorker runs the fleet resync worker and starts fleet workflows for
// the HTTP API.
type fleetWorker struct {
	client    client.Client
	worker    worker.Worker
	taskQueue string
}

// startWorker dials Temporal, registers the fleet workflow and its
// activities against app, and starts polling cfg.TaskQueue.
func startWorker(ctx context.Context, cfg config.TemporalConfig, a *app) (*fleetWorker, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    newTemporalLogger(a.logger),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	a.logger.Info(ctx, "temporal client connected",
		zap.String("host", cfg.HostPort),
		zap.String("namespace", cfg.Namespace))

	w := worker.New(c, cfg.TaskQueue, worker.Options{})
	workflows.Register(w, &workflows.Activities{
		Orchestrator: a.orch,
		Tenants:      a.store,
	})
	if err := w.Start(); err != nil {
		c.Close()
		return nil, fmt.Errorf("worker start: %w", err)
	}
	a.logger.Info(ctx, "worker configured", zap.String("task_queue", cfg.TaskQueue))

	return &fleetWorker{client: c, worker: w, taskQueue: cfg.TaskQueue}, nil
}

// StartFleetResync implements http.FleetStarter.
func (f *fleetWorker) StartFleetResync(ctx context.Context, in workflows.FleetResyncInput) (string, error) {
	return workflows.StartFleetResync(ctx, f.client, f.taskQueue, in)
}

// Close stops the worker, then the client.
func (f *fleetWorker) Close() {
	f.worker.Stop()
	f.client.Close()
}

// temporalLogger routes SDK logs through zap. The SDK passes alternating
// key/value pairs, which is what the sugared *w methods take.
type temporalLogger struct {
	s *zap.SugaredLogger
}

var _ tlog.Logger = temporalLogger{}

func newTemporalLogger(l *logging.Logger) temporalLogger {
	return temporalLogger{s: l.Underlying().Named("temporal").Sugar()}
}

func (t temporalLogger) Debug(msg string, keyvals ...interface{}) { t.s.Debugw(msg, keyvals...) }
func (t temporalLogger) Info(msg string, keyvals ...interface{})  { t.s.Infow(msg, keyvals...) }
func (t temporalLogger) Warn(msg string, keyvals ...interface{})  { t.s.Warnw(msg, keyvals...) }
func (t temporalLogger) Error(msg string, keyvals ...interface{}) { t.s.Errorw(msg, keyvals...) }
