// Package moderation turns user-initiated abuse reports into trust
// penalties, amplified when reports on the same item arrive in a
// burst, and relays them to the network.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vidmesh/vidmesh/internal/event"
	"github.com/vidmesh/vidmesh/internal/trust"
)

// ErrReportSubmissionFailed wraps a report whose network publication
// failed. The local trust penalty has been applied regardless.
var ErrReportSubmissionFailed = errors.New("report submission failed")

// Network is the slice of the protocol client the gateway needs.
type Network interface {
	PublicKey() string
	Query(ctx context.Context, f event.Filter) ([]*event.Event, error)
	Report(ctx context.Context, itemID, authorPubkey, reason string) error
}

// Config tunes burst detection and penalty weight.
type Config struct {
	// A burst is at least Threshold reports within Window.
	Threshold int
	Window    time.Duration
	// Multiplier applied to the penalty during a burst; 1.0 otherwise.
	Multiplier float64
	// BaseWeight of one report before actor- and velocity-scaling.
	BaseWeight float64
	// FetchLimit bounds how many recent reports are examined.
	FetchLimit int
}

// DefaultConfig mirrors the moderation constants the network has
// converged on.
func DefaultConfig() Config {
	return Config{
		Threshold:  5,
		Window:     300 * time.Second,
		Multiplier: 3.0,
		BaseWeight: 10,
		FetchLimit: 16,
	}
}

// Gateway coordinates trust penalties and report publication.
type Gateway struct {
	net    Network
	trust  *trust.Engine
	cfg    Config
	logger *slog.Logger
}

// NewGateway wires the gateway. The trust engine is shared with the
// feed; the gateway only ever adds negative evidence to it.
func NewGateway(net Network, engine *trust.Engine, cfg Config, logger *slog.Logger) *Gateway {
	if cfg.Threshold <= 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{net: net, trust: engine, cfg: cfg, logger: logger}
}

// VelocityMultiplier inspects the most recent reports targeting the
// item. When at least Threshold of them fall inside Window the
// amplified multiplier applies; otherwise 1.0.
func (g *Gateway) VelocityMultiplier(ctx context.Context, itemID string) float64 {
	evs, err := g.net.Query(ctx, event.Filter{
		Kinds: []int{event.KindReport},
		Tags:  map[string][]string{"e": {itemID}},
		Limit: g.cfg.FetchLimit,
	})
	if err != nil {
		// Burst detection is best-effort; a failed lookup must not
		// block the report itself.
		g.logger.Warn("velocity lookup failed", "item", itemID, "error", err)
		return 1.0
	}
	if len(evs) > g.cfg.FetchLimit {
		evs = evs[:g.cfg.FetchLimit]
	}
	if len(evs) < g.cfg.Threshold {
		return 1.0
	}
	newest, oldest := evs[0].CreatedAt, evs[0].CreatedAt
	for _, ev := range evs {
		if ev.CreatedAt > newest {
			newest = ev.CreatedAt
		}
		if ev.CreatedAt < oldest {
			oldest = ev.CreatedAt
		}
	}
	if time.Duration(newest-oldest)*time.Second <= g.cfg.Window {
		return g.cfg.Multiplier
	}
	return 1.0
}

// SubmitReport applies the trust penalty locally, then publishes the
// report. Local moderation state is authoritative for this session;
// publication is best-effort and its failure is reported but does not
// undo the penalty.
func (g *Gateway) SubmitReport(ctx context.Context, itemID, authorPubkey, reason string) error {
	multiplier := g.VelocityMultiplier(ctx, itemID)
	g.trust.RecordNegative(authorPubkey, g.net.PublicKey(), g.cfg.BaseWeight, multiplier)
	g.logger.Info("report recorded",
		"item", itemID, "velocity", multiplier, "author_score", g.trust.Score(authorPubkey))

	if err := g.net.Report(ctx, itemID, authorPubkey, reason); err != nil {
		return fmt.Errorf("%w: %v", ErrReportSubmissionFailed, err)
	}
	return nil
}
