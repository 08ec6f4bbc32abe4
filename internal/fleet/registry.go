// Package fleet tracks which riffcore nodes share the bus and which
// transcription backends each of them can run.
package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/riffscribe/riffcore/internal/bus"
	"github.com/riffscribe/riffcore/internal/config"
)

const (
	SubjectAnnounce        = "riffcore.fleet.announce"
	SubjectHeartbeatPrefix = "riffcore.fleet.heartbeat."

	instrumentationName = "github.com/riffscribe/riffcore/internal/fleet"
)

// Backend is one transcription capability a node offers.
type Backend struct {
	Name       string            `json:"name"`
	Mode       string            `json:"mode"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Descriptor is what a node says about itself.
type Descriptor struct {
	NodeID   string    `json:"node_id"`
	Runtime  string    `json:"runtime"`
	Version  string    `json:"version,omitempty"`
	Worker   bool      `json:"worker"`
	Backends []Backend `json:"backends"`
}

// Node is the registry's view of a peer.
type Node struct {
	Descriptor
	LastSeen time.Time `json:"last_seen"`
	Healthy  bool      `json:"healthy"`
}

type message struct {
	Descriptor
	Timestamp time.Time `json:"timestamp"`
}

// Describe derives a node descriptor from runtime configuration. Disabled
// backends are left out.
func Describe(cfg config.Config, version string) Descriptor {
	id := cfg.Fleet.ID
	if id == "" {
		id = cfg.RuntimeName + "-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
	}
	d := Descriptor{
		NodeID:  id,
		Runtime: cfg.RuntimeName,
		Version: version,
		Worker:  cfg.Worker.Enabled,
	}
	if cfg.Precise.Enabled {
		b := Backend{Name: "precise", Mode: cfg.Precise.Mode}
		if cfg.Precise.ModelPath != "" {
			b.Attributes = map[string]string{"model_path": cfg.Precise.ModelPath}
		}
		d.Backends = append(d.Backends, b)
	}
	if cfg.Generative.Enabled {
		b := Backend{Name: "generative", Mode: cfg.Generative.Mode}
		if cfg.Generative.Mode == "openai" {
			b.Attributes = map[string]string{"model": cfg.Generative.Model}
		}
		d.Backends = append(d.Backends, b)
	}
	if cfg.Signal.Mode == "exec" {
		d.Backends = append(d.Backends, Backend{Name: "signal", Mode: cfg.Signal.Mode})
	}
	return d
}

// Registry announces this node, heartbeats on an interval and keeps the
// last known state of every peer.
type Registry struct {
	cfg          config.FleetConfig
	self         Descriptor
	bus          *bus.Client
	log          *slog.Logger
	clock        func() time.Time
	mu           sync.RWMutex
	nodes        map[string]*Node
	subs         []*nats.Subscription
	registration metric.Registration
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

func NewRegistry(ctx context.Context, cfg config.FleetConfig, self Descriptor, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:    cfg,
		self:   self,
		bus:    busClient,
		log:    log.With(slog.String("component", "fleet-registry"), slog.String("node_id", self.NodeID)),
		clock:  time.Now,
		nodes:  make(map[string]*Node),
		cancel: cancel,
	}

	if err := r.initMetrics(otel.GetMeterProvider().Meter(instrumentationName)); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	if err := r.subscribe(); err != nil {
		r.Close()
		return nil, err
	}

	r.observe(r.self, r.clock().UTC())
	if err := r.publish(SubjectAnnounce); err != nil {
		r.log.Warn("failed to announce node", slog.String("error", err.Error()))
	}

	r.wg.Add(1)
	go r.run(ctx)
	return r, nil
}

func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
	for _, sub := range r.subs {
		_ = sub.Unsubscribe()
	}
	r.subs = nil
	if r.registration != nil {
		_ = r.registration.Unregister()
		r.registration = nil
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(SubjectAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(SubjectHeartbeatPrefix+"*", r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)
	return conn.Flush()
}

func (r *Registry) run(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(time.Duration(r.cfg.HeartbeatIntervalMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.publish(SubjectHeartbeatPrefix + r.self.NodeID); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
			r.evaluateHealth(r.clock())
		}
	}
}

func (r *Registry) publish(subject string) error {
	return r.bus.PublishJSON(subject, message{Descriptor: r.self, Timestamp: r.clock().UTC()})
}

// handleAnnounce records a newcomer and answers with a heartbeat so it
// learns about this node without waiting a full interval.
func (r *Registry) handleAnnounce(msg *nats.Msg) {
	m, ok := r.decode(msg, "announce")
	if !ok || m.NodeID == r.self.NodeID {
		return
	}
	if known := r.observe(m.Descriptor, m.Timestamp); !known {
		r.log.Info("node joined", slog.String("peer", m.NodeID), slog.Int("backends", len(m.Backends)))
		if err := r.publish(SubjectHeartbeatPrefix + r.self.NodeID); err != nil {
			r.log.Warn("failed to answer announce", slog.String("error", err.Error()))
		}
	}
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	m, ok := r.decode(msg, "heartbeat")
	if !ok {
		return
	}
	r.observe(m.Descriptor, m.Timestamp)
}

func (r *Registry) decode(msg *nats.Msg, kind string) (message, bool) {
	var m message
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		r.log.Warn("invalid fleet message", slog.String("kind", kind), slog.String("error", err.Error()))
		return m, false
	}
	if m.NodeID == "" {
		r.log.Warn("fleet message without node id", slog.String("kind", kind))
		return m, false
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = r.clock().UTC()
	}
	return m, true
}

// observe stores d and reports whether the node was already known.
func (r *Registry) observe(d Descriptor, seen time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, known := r.nodes[d.NodeID]
	if !known {
		node = &Node{}
		r.nodes[d.NodeID] = node
	}
	node.Descriptor = d
	if seen.After(node.LastSeen) {
		node.LastSeen = seen
	}
	node.Healthy = true
	return known
}

func (r *Registry) evaluateHealth(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeoutMS) * time.Millisecond
	for id, node := range r.nodes {
		if id == r.self.NodeID {
			node.LastSeen = now.UTC()
			continue
		}
		if node.Healthy && now.Sub(node.LastSeen) > timeout {
			node.Healthy = false
			r.log.Warn("node missed heartbeats", slog.String("peer", id), slog.Time("last_seen", node.LastSeen))
		}
	}
}

// Self is this node's descriptor.
func (r *Registry) Self() Descriptor {
	return r.self
}

// Nodes returns every known node matching filter, ordered by id.
func (r *Registry) Nodes(filter func(Node) bool) []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Node
	for _, node := range r.nodes {
		n := *node
		n.Backends = append([]Backend(nil), node.Backends...)
		if filter == nil || filter(n) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// WithBackend matches healthy nodes offering the named backend.
func WithBackend(name string) func(Node) bool {
	return func(n Node) bool {
		if !n.Healthy {
			return false
		}
		for _, b := range n.Backends {
			if b.Name == name {
				return true
			}
		}
		return false
	}
}

// Workers matches healthy nodes that serve bus requests.
func Workers(n Node) bool { return n.Healthy && n.Worker }

func (r *Registry) initMetrics(meter metric.Meter) error {
	nodes, err := meter.Int64ObservableGauge("riffcore.fleet.nodes",
		metric.WithDescription("Known riffcore nodes by health"))
	if err != nil {
		return err
	}
	backends, err := meter.Int64ObservableGauge("riffcore.fleet.backends",
		metric.WithDescription("Healthy nodes offering each backend"))
	if err != nil {
		return err
	}
	r.registration, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		healthy, unhealthy, perBackend := r.snapshotCounts()
		obs.ObserveInt64(nodes, healthy, metric.WithAttributes(attribute.Bool("healthy", true)))
		obs.ObserveInt64(nodes, unhealthy, metric.WithAttributes(attribute.Bool("healthy", false)))
		for name, count := range perBackend {
			obs.ObserveInt64(backends, count, metric.WithAttributes(attribute.String("backend", name)))
		}
		return nil
	}, nodes, backends)
	return err
}

func (r *Registry) snapshotCounts() (healthy, unhealthy int64, perBackend map[string]int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	perBackend = make(map[string]int64)
	for _, node := range r.nodes {
		if !node.Healthy {
			unhealthy++
			continue
		}
		healthy++
		for _, b := range node.Backends {
			perBackend[b.Name]++
		}
	}
	return healthy, unhealthy, perBackend
}
