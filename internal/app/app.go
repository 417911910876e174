// Package app assembles the client core: identity, relay networking,
// swarm transport, trust and moderation, profiles and the feed, behind
// the surface a UI embeds.
package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/vidmesh/vidmesh/internal/config"
	"github.com/vidmesh/vidmesh/internal/event"
	"github.com/vidmesh/vidmesh/internal/feed"
	"github.com/vidmesh/vidmesh/internal/identity"
	"github.com/vidmesh/vidmesh/internal/moderation"
	"github.com/vidmesh/vidmesh/internal/profile"
	"github.com/vidmesh/vidmesh/internal/relay"
	"github.com/vidmesh/vidmesh/internal/transport"
	"github.com/vidmesh/vidmesh/internal/trust"
)

// App owns every engine for one client identity. Construct with New,
// share by handle, Close once.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	signer    identity.Signer
	client    *relay.Client
	trust     *trust.Engine
	gateway   *moderation.Gateway
	transport *transport.Manager
	profiles  *profile.Manager
	feed      *feed.Coordinator
}

// feedNetwork narrows the relay client to what the feed needs; the
// concrete subscription type becomes a Canceler at this seam.
type feedNetwork struct {
	*relay.Client
}

func (n feedNetwork) Subscribe(filters []event.Filter, onEvent func(*event.Event)) feed.Canceler {
	return n.Client.Subscribe(filters, onEvent)
}

// New wires the full client core from configuration. The relay
// connections and the swarm host start immediately; feeds start on
// SubscribeFeed.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var signer identity.Signer
	var err error
	if cfg.SignerURL != "" {
		signer, err = identity.NewDelegatedSigner(ctx, cfg.SignerURL)
		if err != nil {
			return nil, fmt.Errorf("connect signing agent: %w", err)
		}
	} else {
		signer, err = identity.LoadOrCreate(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("load identity: %w", err)
		}
	}

	client := relay.New(ctx, cfg.Relays, signer, relay.Options{
		PowDifficulty:       cfg.PowDifficulty,
		ReportPowDifficulty: cfg.ReportPowDifficulty,
		Timeout:             cfg.RelayTimeout,
	}, logger)

	engine := trust.NewEngine(cfg.HideThreshold, logger)
	gateway := moderation.NewGateway(client, engine, moderation.Config{
		Threshold:  cfg.VelocityThreshold,
		Window:     cfg.VelocityWindow,
		Multiplier: cfg.VelocityMultiplier,
		BaseWeight: cfg.ReportBaseWeight,
		FetchLimit: moderation.DefaultConfig().FetchLimit,
	}, logger)

	tm, err := transport.NewManager(transport.Config{
		ListenAddrs:    cfg.ListenAddrs,
		BootstrapPeers: cfg.BootstrapPeers,
		JoinTimeout:    cfg.JoinTimeout,
		CacheCeiling:   cfg.CacheCeiling,
		MaxSessions:    cfg.MaxSessions,
		GatewayURL:     cfg.GatewayURL,
	}, logger)
	if err != nil {
		client.Close()
		return nil, err
	}

	a := &App{
		cfg:       cfg,
		logger:    logger,
		signer:    signer,
		client:    client,
		trust:     engine,
		gateway:   gateway,
		transport: tm,
		profiles:  profile.NewManager(client, 10*time.Minute, logger),
	}
	a.feed = feed.NewCoordinator(feedNetwork{client}, engine, cfg.FeedWindow, logger)
	logger.Info("client core ready", "pubkey", signer.PublicKey(), "relays", len(cfg.Relays))
	return a, nil
}

// Close shuts every engine down.
func (a *App) Close() error {
	a.feed.Close()
	a.client.Close()
	return a.transport.Close()
}

// PublicKey returns the identity this client acts as.
func (a *App) PublicKey() string { return a.signer.PublicKey() }

// SubscribeFeed switches the live timeline to the given mode. onChange
// receives a fresh snapshot after every visible change.
func (a *App) SubscribeFeed(ctx context.Context, mode feed.Mode, onChange func([]*event.ContentItem)) error {
	return a.feed.Subscribe(ctx, mode, onChange)
}

// FeedItems returns the current timeline window.
func (a *App) FeedItems() []*event.ContentItem { return a.feed.Items() }

// PublishRequest is one video post to be seeded and announced.
type PublishRequest struct {
	Title       string
	Summary     string
	Hashtags    []string
	Thumbnail   string
	Media       []byte
	FallbackCID string
}

// Publish seeds the media into the swarm, then announces it to the
// relays with the content digest the swarm delivery will be checked
// against.
func (a *App) Publish(ctx context.Context, req PublishRequest) (*event.ContentItem, error) {
	locator, err := a.transport.Seed(ctx, req.Title, req.Media)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(req.Media)
	item, err := a.client.PublishItem(ctx, event.Draft{
		Title:           req.Title,
		Summary:         req.Summary,
		Hashtags:        req.Hashtags,
		Thumbnail:       req.Thumbnail,
		Locator:         locator,
		FallbackLocator: req.FallbackCID,
		IntegrityHash:   hex.EncodeToString(sum[:]),
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("published", "item", item.ID, "title", item.Title)
	return item, nil
}

// Stream plays an item into the sink, swarm first with the announced
// fallback and integrity declaration.
func (a *App) Stream(ctx context.Context, item *event.ContentItem, sink transport.Sink) error {
	return a.transport.Stream(ctx, item.Locator, sink, transport.StreamOptions{
		FallbackLocator: item.FallbackLocator,
		IntegrityHash:   item.IntegrityHash,
	})
}

// ReleaseStream is the ordinary player teardown for an item.
func (a *App) ReleaseStream(item *event.ContentItem) {
	a.transport.Release(item.Locator)
}

// ToggleLike flips the caller's reaction on the item and feeds the
// positive evidence into the author's trust score when liking.
func (a *App) ToggleLike(ctx context.Context, item *event.ContentItem) (bool, error) {
	liked, err := a.client.Like(ctx, item)
	if err != nil {
		return false, err
	}
	if liked {
		a.trust.RecordPositive(item.Author, a.signer.PublicKey(), a.cfg.LikeWeight)
	}
	return liked, nil
}

// Report files an abuse report against the item. If the resulting
// penalty pushes the author below the visibility threshold, their items
// leave the feed and any session playing this item is torn down.
func (a *App) Report(ctx context.Context, item *event.ContentItem, reason string) error {
	err := a.gateway.SubmitReport(ctx, item.ID, item.Author, reason)
	if a.trust.ShouldHide(item.Author) {
		a.feed.RemoveAuthor(item.Author)
		a.transport.Destroy(item.Locator)
	}
	return err
}

// Follow adds the pubkey to the caller's contact list.
func (a *App) Follow(ctx context.Context, pubkey string) error {
	return a.client.Follow(ctx, pubkey)
}

// Unfollow removes the pubkey from the caller's contact list.
func (a *App) Unfollow(ctx context.Context, pubkey string) error {
	return a.client.Unfollow(ctx, pubkey)
}

// Contacts returns the caller's current follow list.
func (a *App) Contacts(ctx context.Context) ([]string, error) {
	return a.client.Contacts(ctx)
}

// GetProfile resolves a user's metadata record.
func (a *App) GetProfile(ctx context.Context, pubkey string) (profile.Profile, error) {
	return a.profiles.Get(ctx, pubkey)
}

// UpdateOwnProfile merges the given fields over the caller's record
// and republishes it.
func (a *App) UpdateOwnProfile(ctx context.Context, p profile.Profile) (profile.Profile, error) {
	return a.profiles.UpdateOwn(ctx, p)
}

// TrustScore exposes the author's current reputation.
func (a *App) TrustScore(pubkey string) float64 { return a.trust.Score(pubkey) }

// Sessions snapshots every live transfer session.
func (a *App) Sessions() []transport.Info { return a.transport.Sessions() }
