package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/glint/internal/learning"
	"github.com/dyluth/glint/pkg/blackboard"
)

// Daemon serves analysis requests published on the instance's request
// channel and publishes one analysis event per request.
type Daemon struct {
	engine       *Engine
	client       *blackboard.Client
	instanceName string
	healthServer *HealthServer
}

// NewDaemon creates a daemon. healthAddr is where /healthz and /metrics are served.
func NewDaemon(engine *Engine, client *blackboard.Client, healthAddr string) *Daemon {
	d := &Daemon{
		engine:       engine,
		client:       client,
		instanceName: client.InstanceName(),
	}
	d.healthServer = NewHealthServer(client, d.Stats, healthAddr)
	return d
}

// Stats reports the instance, the manifests in effect and, when the engine
// has a coordinator attached, its queue statistics.
func (d *Daemon) Stats() DaemonStats {
	stats := DaemonStats{
		Instance:  d.instanceName,
		Manifests: d.engine.manifests.Current().Names(),
	}
	if c, ok := d.engine.currentLearner().(interface{ Stats() learning.Stats }); ok {
		s := c.Stats()
		stats.Coordinator = &s
	}
	return stats
}

// Run starts the daemon and blocks until context is cancelled.
// Returns error if the health server or subscription fails to start.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.healthServer.Start(); err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}
	defer d.healthServer.Shutdown(context.Background())

	log.Printf("[Orchestrator] Starting for instance '%s'", d.instanceName)

	subscription, err := d.client.SubscribeRequests(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to analysis requests: %w", err)
	}
	defer subscription.Close()

	log.Printf("[Orchestrator] Subscribed to analysis_requests")

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Orchestrator] Shutting down...")
			return nil

		case req, ok := <-subscription.Events():
			if !ok {
				log.Printf("[Orchestrator] Subscription closed")
				return nil
			}

			d.engine.logEvent("request_received", map[string]interface{}{
				"request_id": req.ID,
				"image":      req.ImagePath,
			})

			if err := d.handleRequest(ctx, req); err != nil {
				log.Printf("[Orchestrator] Error handling request %s: %v", req.ID, err)
			}

		case err, ok := <-subscription.Errors():
			if !ok {
				log.Printf("[Orchestrator] Error channel closed")
				return nil
			}
			log.Printf("[Orchestrator] Subscription error: %v", err)
		}
	}
}

// handleRequest analyzes one request and publishes its event. Analysis
// failures are published as error or rejected events; only a publish
// failure is returned.
func (d *Daemon) handleRequest(ctx context.Context, req *blackboard.AnalysisRequest) error {
	event := d.analyze(ctx, req)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := d.client.PublishAnalysis(ctx, event); err != nil {
		return fmt.Errorf("failed to publish analysis event: %w", err)
	}
	return nil
}

func (d *Daemon) analyze(ctx context.Context, req *blackboard.AnalysisRequest) *blackboard.AnalysisEvent {
	errorEvent := func(err error) *blackboard.AnalysisEvent {
		return &blackboard.AnalysisEvent{
			RequestID:      req.ID,
			SessionID:      req.ID,
			ImagePath:      req.ImagePath,
			Status:         blackboard.AnalysisStatusError,
			CompletedWaves: []string{},
			FailedWaves:    []string{},
			Error:          err.Error(),
			CreatedAtMs:    time.Now().UnixMilli(),
		}
	}

	if err := req.Validate(); err != nil {
		return errorEvent(err)
	}

	res, err := d.engine.AnalyzePath(ctx, req.ImagePath, Options{SessionID: req.ID, Caption: req.Caption})
	if res != nil {
		// Rejected runs carry a result alongside the error.
		return res.Event(req.ID)
	}
	return errorEvent(err)
}
