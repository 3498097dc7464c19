package main

import (
	"context"
	"log"
	"time"

	"github.com/racepulse/core/internal/config"
	"github.com/racepulse/core/internal/crm"
	"github.com/racepulse/core/internal/das"
	"github.com/racepulse/core/internal/dns"
	"github.com/racepulse/core/internal/eb"
	"github.com/racepulse/core/internal/observability"
	"github.com/racepulse/core/internal/pt"
	"github.com/racepulse/core/internal/store"
	"github.com/racepulse/core/internal/ted"
	"github.com/racepulse/core/internal/wsm"
)

// topicPositions etc name the EB topics the pipeline publishes onto,
// mirroring spec.md §6's topic list.
const (
	topicPositions      = "telemetry.positions"
	topicTacticalEvents = "telemetry.tactical_events"
	topicWeather        = "telemetry.weather"
	topicRaceState      = "telemetry.race_state"
)

// Pipeline owns every component the platform wires together: endpoints
// feed CRM, CRM hands resolved frames to DAS, DAS's resolved points drive
// PT and TED, and EB/WSM/DNS fan the results back out to subscribers.
// The struct plays the role the teacher's API type does in control_plane/api.go:
// a single place downstream HTTP handlers reach into.
type Pipeline struct {
	cfg    config.Config
	raceID string

	crm *crm.Manager
	das *das.Aggregator
	pt  *pt.Tracker
	ted *ted.Detector

	bus       *eb.Bus
	producer  *eb.Producer
	hub       *wsm.Hub
	notifier  *dns.Dispatcher
	registry  *dns.Registry
	janitor   *dns.Janitor

	store   store.Store
	archive *store.ArchiveStore // nil unless DATABASE_URL is configured

	// runDetectionTick bookkeeping: how long each currently-observed group
	// signature has persisted and its last gap reading, feeding TED's
	// breakaway "sustained over 5 min" and chase "gap decreasing" facts;
	// plus the set of TED event ids already published onto EB/DNS/WSM.
	groupFirstSeen     map[string]time.Time
	groupLastGapSecs   map[string]float64
	seenTacticalEvents map[string]struct{}
}

// NewPipeline wires every component per its own Config slice, using
// dialer for CRM's endpoint probes.
func NewPipeline(cfg config.Config, raceID string, dialer crm.Dialer, st store.Store, archive *store.ArchiveStore) *Pipeline {
	bus := eb.NewBus()
	bus.RegisterTopic(topicPositions, 4, cfg.EventRetention)
	bus.RegisterTopic(topicTacticalEvents, 4, cfg.EventRetention)
	bus.RegisterTopic(topicWeather, 2, cfg.EventRetention)
	bus.RegisterTopic(topicRaceState, 1, cfg.EventRetention)
	bus.RegisterDeadLetterTopic(topicPositions, cfg.EventRetention)
	bus.RegisterDeadLetterTopic(topicTacticalEvents, cfg.EventRetention)
	bus.RegisterDeadLetterTopic(topicWeather, cfg.EventRetention)

	hubCfg := wsm.DefaultConfig()
	hubCfg.HeartbeatInterval = cfg.HeartbeatInterval
	hubCfg.RateLimitWindow = cfg.RateLimitWindow
	hubCfg.RateLimitMax = cfg.RateLimitMax
	hubCfg.MaxConnections = cfg.MaxConnections
	hub := wsm.NewHub(hubCfg)

	registry := dns.NewRegistry()
	sinks := map[dns.Channel]dns.Sink{
		dns.ChannelWebSocket: dns.WebSocketSink{Hub: hub},
		dns.ChannelSSE:       dns.SSESink{},
		dns.ChannelWebhook:   dns.WebhookSink{},
	}
	notifier := dns.NewDispatcher(registry, sinks)
	janitor := dns.NewJanitor(registry, notifier, 30*time.Second, 10*time.Minute)

	p := &Pipeline{
		cfg:                cfg,
		raceID:             raceID,
		groupFirstSeen:     make(map[string]time.Time),
		groupLastGapSecs:   make(map[string]float64),
		seenTacticalEvents: make(map[string]struct{}),
		crm: crm.NewManager(crm.Config{
			HealthCheckInterval:   cfg.HealthCheckInterval,
			ConnectionTimeout:     cfg.ConnectionTimeout,
			FailoverTimeout:       cfg.FailoverTimeout,
			MaxRetryAttempts:      cfg.MaxRetryAttempts,
			RetryDelay:            cfg.RetryDelay,
			BackoffMultiplier:     cfg.BackoffMultiplier,
			MaxRetryDelay:         cfg.MaxRetryDelay,
			FailureThreshold:      cfg.FailureThreshold,
			CircuitBreakerTimeout: cfg.CircuitBreakerTimeout,
			DuplicateWindow:       cfg.DuplicateWindow,
		}, dialer),
		das: das.NewAggregator(das.Config{
			AggregationWindow: cfg.AggregationWindow,
			MaxDataAge:        cfg.MaxDataAge,
			ConflictThreshold: cfg.ConflictThreshold,
			MinSources:        cfg.MinSources,
		}),
		pt: pt.NewTracker(pt.Config{
			UpdateInterval:       cfg.UpdateInterval,
			PositionTimeout:      cfg.PositionTimeout,
			GroupDistanceMeters:  cfg.GroupDistanceMeters,
			GroupTimeThreshold:   cfg.GroupTimeThreshold,
			MaxInterpolationTime: cfg.MaxInterpolationTime,
		}),
		ted: ted.NewDetector(ted.Config{
			DetectionInterval:   cfg.DetectionInterval,
			ConfidenceThreshold: cfg.ConfidenceThreshold,
			EventRetention:      cfg.EventRetention,
		}),
		bus:      bus,
		producer: eb.NewProducer(bus, nil, cfg.MaxConcurrentUpdates, cfg.MaxRetryAttempts, cfg.RetryDelay),
		hub:      hub,
		notifier: notifier,
		registry: registry,
		janitor:  janitor,
		store:    st,
		archive:  archive,
	}
	return p
}

// Run starts every background loop and blocks until ctx is cancelled,
// mirroring the teacher's one-goroutine-per-subsystem convention (each
// RunXLoop is independently cancellable off the same context).
func (p *Pipeline) Run(ctx context.Context) {
	stop := ctx.Done()

	go p.crm.RunHealthLoop(ctx)
	go p.das.RunResolutionLoop(chanFromCtx(ctx))
	go p.das.RunHealthLoop(chanFromCtx(ctx))
	go p.pt.RunLoop(chanFromCtx(ctx))
	go p.ted.RunCorrelationLoop(chanFromCtx(ctx))
	go p.ted.RunRetentionSweep(chanFromCtx(ctx))
	go p.hub.Run(ctx)
	p.janitor.Start(ctx)

	go p.runResolvedPointDrain(ctx)
	go p.runDetectionLoop(ctx)

	<-stop
	log.Println("pipeline: shutdown signal received")
}

// chanFromCtx adapts context cancellation to the teacher's stop-channel
// convention, which das/pt/ted's loops were already written against.
func chanFromCtx(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

// RegisterEndpoint registers id as both a CRM pool member and a DAS
// telemetry source, since every upstream endpoint this platform talks to
// is simultaneously a connection CRM must keep healthy and a source DAS
// must fuse — one registration call keeps them from drifting apart.
func (p *Pipeline) RegisterEndpoint(id, address string, role crm.Role, weight float64, priority int, accuracy float64, sourceType string) {
	p.crm.Register(id, address, role, weight)
	p.das.RegisterSource(id, priority, accuracy, sourceType)
}

// IngestFrame is the single entrypoint an upstream endpoint adapter calls
// with a raw telemetry frame. It verifies integrity through CRM, then
// hands the frame to DAS for multi-source resolution.
func (p *Pipeline) IngestFrame(f crm.RawTelemetryFrame) error {
	if err := p.crm.VerifyIntegrity(f); err != nil {
		return err
	}
	p.das.Ingest(f.SourceID, f.DataType, f.Key, f.Value, f.Timestamp, f.Metadata.Confidence)
	return nil
}

// runResolvedPointDrain polls DAS's resolved points on the same cadence
// DAS resolves them, fans position updates into PT, and republishes
// every resolved point onto EB so WSM/DNS subscribers see it.
func (p *Pipeline) runResolvedPointDrain(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.AggregationWindow)
	defer ticker.Stop()
	seen := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, point := range p.das.GetAllResolved() {
				if last, ok := seen[point.DataType+":"+point.Key]; ok && !point.ResolvedAt.After(last) {
					continue
				}
				seen[point.DataType+":"+point.Key] = point.ResolvedAt
				p.handleResolvedPoint(ctx, point)
			}
		}
	}
}

func (p *Pipeline) handleResolvedPoint(ctx context.Context, point das.AggregatedPoint) {
	switch point.DataType {
	case "position":
		rp, ok := point.ResolvedValue.(pt.RiderPosition)
		if !ok {
			return
		}
		if err := p.pt.ApplyPosition(rp); err != nil {
			observability.PositionsDiscarded.WithLabelValues("apply_error").Inc()
			return
		}
		if err := p.store.PutPosition(ctx, store.Position{
			RiderID:      rp.RiderID,
			Latitude:     rp.GPS.Lat,
			Longitude:    rp.GPS.Lon,
			Speed:        rp.GroundSpeed,
			Timestamp:    rp.Timestamp,
			RacePosition: rp.RacePosition,
		}); err != nil {
			log.Printf("pipeline: store position: %v", err)
		}
		p.publishAndBroadcast(ctx, topicPositions, "position.update", point.Key, rp)

	case "weather":
		p.publishAndBroadcast(ctx, topicWeather, "weather.update", point.Key, point.ResolvedValue)

	case "tactical_event":
		te, ok := point.ResolvedValue.(ted.TacticalEvent)
		if !ok {
			return
		}
		p.dispatchTacticalEvent(ctx, point.Key, te)

	default:
		p.publishAndBroadcast(ctx, topicRaceState, point.DataType+".update", point.Key, point.ResolvedValue)
	}
}

func (p *Pipeline) publishAndBroadcast(ctx context.Context, topic, eventType, key string, payload any) {
	body, err := marshalPayload(payload)
	if err != nil {
		log.Printf("pipeline: marshal %s: %v", eventType, err)
		return
	}
	if err := p.producer.Publish(ctx, topic, eb.StreamEvent{
		ID:              uuidOrKey(key),
		EventType:       eventType,
		PartitionKey:    key,
		Payload:         body,
		OriginTimestamp: time.Now(),
		Priority:        eb.PriorityNormal,
	}); err != nil {
		log.Printf("pipeline: publish %s: %v", eventType, err)
	}
	p.hub.Broadcast(wsmTopicFor(eventType), payload, nil, "")
}

// dispatchTacticalEvent publishes, archives, and notifies on a detected
// tactical event. ted.TacticalEvent itself is race-agnostic (TED sees
// only position samples, per spec.md §4.4's "inputs consumed, not
// owned"), so callers supply raceID: the DAS aggregation key for events
// ingested pre-computed via /ingest, or the pipeline's own raceID for
// events runDetectionTick derives from PT's live state.
func (p *Pipeline) dispatchTacticalEvent(ctx context.Context, raceID string, te ted.TacticalEvent) {
	eventType := "tactical_event." + string(te.Type)
	body, err := marshalPayload(te)
	if err == nil {
		_ = p.producer.Publish(ctx, topicTacticalEvents, eb.StreamEvent{
			ID:              te.ID,
			EventType:       eventType,
			PartitionKey:    raceID,
			RaceID:          raceID,
			Payload:         body,
			OriginTimestamp: te.Timestamp,
			Priority:        eb.PriorityHigh,
		})
	}
	if p.archive != nil {
		if err := p.archive.ArchiveTacticalEvent(ctx, store.TacticalEvent{
			EventID:    te.ID,
			EventType:  string(te.Type),
			RaceID:     raceID,
			Riders:     te.InvolvedRiders,
			Confidence: te.Confidence,
			Timestamp:  te.Timestamp,
		}); err != nil {
			log.Printf("pipeline: archive tactical event: %v", err)
		}
	}

	p.notifier.Send(ctx, dns.Notification{
		ID:        te.ID,
		Category:  dns.CategoryTactical,
		Priority:  dns.PriorityNormal,
		Title:     eventType,
		RaceID:    raceID,
		CreatedAt: te.Timestamp,
		ExpiresAt: te.Timestamp.Add(10 * time.Minute),
	})
	p.hub.Broadcast(wsmTopicFor(eventType), te, nil, "")
}
