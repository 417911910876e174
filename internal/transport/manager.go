// Package transport delivers playable media bytes for a content
// locator, preferring a peer swarm and falling back to a
// content-addressed gateway, with integrity verification and a bounded
// process-wide byte cache.
package transport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// ProtocolID is the swarm piece-exchange protocol.
const ProtocolID = "/vidmesh/swarm/1.0.0"

// Config tunes the transport manager.
type Config struct {
	ListenAddrs    []string
	BootstrapPeers []string
	JoinTimeout    time.Duration
	RequestTimeout time.Duration
	CacheCeiling   int64
	MaxSessions    int
	GatewayURL     string
	PieceSize      int
}

// DefaultConfig returns the stock transport configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddrs:    []string{"/ip4/0.0.0.0/tcp/0"},
		JoinTimeout:    12 * time.Second,
		RequestTimeout: 30 * time.Second,
		CacheCeiling:   1 << 30,
		MaxSessions:    16,
		GatewayURL:     "https://ipfs.io",
		PieceSize:      DefaultPieceSize,
	}
}

// StreamOptions carries the optional fallback path and declared
// content digest for one Stream call.
type StreamOptions struct {
	FallbackLocator string
	IntegrityHash   string
}

// Manager owns every SwarmSession and CacheEntry lifetime. One
// instance per process, shared by handle.
type Manager struct {
	cfg    Config
	host   host.Host
	cache  *ByteCache
	httpc  *http.Client
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	seeded   map[string][]byte
}

// NewManager starts the swarm host and registers the piece-exchange
// handler, so seeded content is served from the moment of creation.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PieceSize <= 0 {
		cfg.PieceSize = DefaultPieceSize
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultConfig().JoinTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddrs...))
	if err != nil {
		return nil, fmt.Errorf("start swarm host: %w", err)
	}
	m := &Manager{
		cfg:      cfg,
		host:     h,
		cache:    NewByteCache(cfg.CacheCeiling),
		httpc:    &http.Client{Timeout: cfg.RequestTimeout},
		logger:   logger.With("component", "transport"),
		sessions: make(map[string]*Session),
		seeded:   make(map[string][]byte),
	}
	h.SetStreamHandler(ProtocolID, m.handleStream)
	if len(cfg.BootstrapPeers) > 0 {
		go m.bootstrap(cfg.BootstrapPeers)
	}
	m.logger.Info("swarm host started", "peer_id", h.ID().String())
	return m, nil
}

// bootstrap dials the configured long-lived peers so fresh clients have
// swarm connectivity before their first transfer.
func (m *Manager) bootstrap(addrs []string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.JoinTimeout)
	defer cancel()
	for _, raw := range addrs {
		addr, err := ma.NewMultiaddr(raw)
		if err != nil {
			m.logger.Warn("bad bootstrap peer", "addr", raw, "error", err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			m.logger.Warn("bad bootstrap peer", "addr", raw, "error", err)
			continue
		}
		if err := m.host.Connect(ctx, *info); err != nil {
			m.logger.Debug("bootstrap peer unreachable", "peer", info.ID.String(), "error", err)
		}
	}
}

// Close shuts down the swarm host.
func (m *Manager) Close() error {
	return m.host.Close()
}

// HostAddrs returns this peer's dialable multiaddrs, as embedded in
// locators it seeds.
func (m *Manager) HostAddrs() []ma.Multiaddr {
	var out []ma.Multiaddr
	for _, a := range m.host.Addrs() {
		full, err := ma.NewMultiaddr(fmt.Sprintf("%s/p2p/%s", a, m.host.ID()))
		if err == nil {
			out = append(out, full)
		}
	}
	return out
}

// transferID fingerprints content; every locator encoding of the same
// bytes resolves to the same id.
func transferID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:20])
}

// Seed registers this client as a swarm participant for the bytes and
// returns a locator other participants can resolve.
func (m *Manager) Seed(_ context.Context, name string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", newError(CodeNoPlayableFile, "refusing to seed empty content", nil)
	}
	tid := transferID(data)

	m.mu.Lock()
	m.seeded[tid] = data
	sess, ok := m.sessions[tid]
	if !ok {
		sess = newSession(tid)
		m.registerLocked(sess)
	}
	sess.mu.Lock()
	sess.seeding = true
	sess.state = StateSeeding
	sess.mu.Unlock()
	m.mu.Unlock()

	loc := &Locator{TransferID: tid, Name: name, Peers: m.HostAddrs()}
	m.logger.Info("seeding", "transfer", tid, "bytes", len(data))
	return loc.String(), nil
}

// registerLocked inserts a session and enforces the concurrent-session
// cap with oldest-session eviction. Caller holds m.mu.
func (m *Manager) registerLocked(sess *Session) {
	m.sessions[sess.transferID] = sess
	if m.cfg.MaxSessions <= 0 || len(m.sessions) <= m.cfg.MaxSessions {
		return
	}
	var oldest *Session
	for _, s := range m.sessions {
		if s == sess {
			continue
		}
		// evicting an in-flight fetch would let a second join for the
		// same transfer start
		s.mu.Lock()
		busy := s.fetching
		s.mu.Unlock()
		if busy {
			continue
		}
		if oldest == nil || s.createdAt.Before(oldest.createdAt) {
			oldest = s
		}
	}
	if oldest != nil {
		delete(m.sessions, oldest.transferID)
		delete(m.seeded, oldest.transferID)
		m.cache.Remove(oldest.transferID)
		m.logger.Info("session cap reached, evicted oldest", "transfer", oldest.transferID)
	}
}

// contentFor returns resident bytes for a transfer, seeded or cached.
func (m *Manager) contentFor(tid string) ([]byte, bool) {
	m.mu.Lock()
	data, ok := m.seeded[tid]
	m.mu.Unlock()
	if ok {
		return data, true
	}
	return m.cache.Get(tid)
}

// Stream joins or reuses the session for the locator and attaches the
// sink. It returns once the sink holds enough data to begin playback,
// or with a transport error. Two calls for locators resolving to the
// same transfer share one session; the second attaches to the
// in-flight retrieval instead of starting a new join.
func (m *Manager) Stream(ctx context.Context, locator string, sink Sink, opts StreamOptions) error {
	loc, err := ParseLocator(locator)
	if err != nil {
		sink.Fail(err)
		return err
	}
	verifier, err := NewVerifier(opts.IntegrityHash)
	if err != nil {
		sink.Fail(err)
		return err
	}

	for {
		m.mu.Lock()
		sess, ok := m.sessions[loc.TransferID]
		if !ok {
			sess = newSession(loc.TransferID)
			m.registerLocked(sess)
		}
		m.mu.Unlock()

		// fast path: bytes already resident
		if data, ok := m.contentFor(loc.TransferID); ok {
			return m.deliver(sess, data, verifier, sink)
		}

		sess.mu.Lock()
		if sess.fetching {
			done := sess.done
			sess.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
			// the owner finished; next loop pass either finds the
			// bytes or takes ownership of a retry
			sess.mu.Lock()
			err := sess.err
			fetched := !sess.fetching && err == nil
			sess.mu.Unlock()
			if _, ok := m.contentFor(loc.TransferID); ok || fetched {
				continue
			}
			if err != nil {
				sink.Fail(err)
				return err
			}
			continue
		}
		// become the fetch owner; a fresh attempt re-enters the state
		// machine from the top
		sess.fetching = true
		sess.done = make(chan struct{})
		sess.err = nil
		sess.state = StateJoining
		sess.mu.Unlock()

		data, err := m.fetch(ctx, sess, loc, opts)
		sess.mu.Lock()
		destroyed := sess.destroyed
		sess.mu.Unlock()
		if destroyed {
			derr := newError(CodeSessionDestroyed, "session destroyed during transfer", nil)
			sink.Fail(derr)
			return derr
		}
		if err != nil {
			m.finishFetch(sess, err)
			sink.Fail(err)
			return err
		}
		if err := verifier.Verify(data); err != nil {
			m.cache.Remove(loc.TransferID)
			m.finishFetch(sess, err)
			sink.Fail(err)
			return err
		}
		m.cache.Put(loc.TransferID, data)
		m.finishFetch(sess, nil)
		return m.attach(sess, data, sink)
	}
}

// finishFetch resolves the in-flight attempt; on error the session
// parks in StateError until a caller retry re-enters from Idle. A
// no-op when Destroy already resolved the attempt.
func (m *Manager) finishFetch(sess *Session, err error) {
	sess.mu.Lock()
	if !sess.fetching {
		sess.mu.Unlock()
		return
	}
	sess.err = err
	sess.fetching = false
	if err != nil {
		sess.state = StateError
	}
	close(sess.done)
	sess.mu.Unlock()
	if err != nil {
		m.logger.Warn("transfer failed", "transfer", sess.transferID, "error", err)
	}
}

// deliver hands resident bytes to an attaching caller, honoring the
// caller's own integrity declaration.
func (m *Manager) deliver(sess *Session, data []byte, verifier *Verifier, sink Sink) error {
	if err := verifier.Verify(data); err != nil {
		m.cache.Remove(sess.transferID)
		sink.Fail(err)
		return err
	}
	return m.attach(sess, data, sink)
}

// attach writes verified bytes to the sink and completes the state
// machine for this call.
func (m *Manager) attach(sess *Session, data []byte, sink Sink) error {
	sess.mu.Lock()
	if !sess.seeding {
		sess.state = StateStreaming
	}
	sess.mu.Unlock()

	if _, err := sink.Write(data); err != nil {
		err = newError(CodeNoPlayableFile, "sink rejected media bytes", err)
		sink.Fail(err)
		return err
	}
	sink.Ready(int64(len(data)))

	sess.mu.Lock()
	if !sess.seeding {
		sess.state = StateDone
	}
	sess.progress = 1
	sess.mu.Unlock()
	return nil
}

// fetch runs Joining -> Downloading for one attempt: swarm first, then
// the content-addressed fallback once the join wait lapses.
func (m *Manager) fetch(ctx context.Context, sess *Session, loc *Locator, opts StreamOptions) ([]byte, error) {
	data, swarmErr := m.fetchSwarm(ctx, sess, loc)
	if swarmErr == nil {
		return data, nil
	}
	if ctx.Err() != nil {
		return nil, newError(CodeTimeout, "stream canceled", ctx.Err())
	}
	if opts.FallbackLocator == "" {
		return nil, swarmErr
	}
	m.logger.Info("swarm join failed, using fallback",
		"transfer", loc.TransferID, "error", swarmErr)
	sess.setState(StateDownloading)
	data, err := m.fetchFallback(ctx, opts.FallbackLocator)
	if err != nil {
		return nil, newError(CodeFallbackFailed, "fallback retrieval failed", err)
	}
	return data, nil
}

// fetchSwarm connects to peer hints within the join timeout and pulls
// pieces from the first reachable peer, verifying each piece digest.
func (m *Manager) fetchSwarm(ctx context.Context, sess *Session, loc *Locator) ([]byte, error) {
	if len(loc.Peers) == 0 {
		return nil, newError(CodeNoPeers, "locator carries no peer hints", nil)
	}
	joinCtx, cancel := context.WithTimeout(ctx, m.cfg.JoinTimeout)
	defer cancel()

	var connected []peer.ID
	for _, addr := range loc.Peers {
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			continue
		}
		if info.ID == m.host.ID() {
			continue
		}
		if err := m.host.Connect(joinCtx, *info); err != nil {
			m.logger.Debug("peer unreachable", "peer", info.ID.String(), "error", err)
			continue
		}
		connected = append(connected, info.ID)
	}
	if len(connected) == 0 {
		if joinCtx.Err() != nil && ctx.Err() == nil {
			return nil, newError(CodeNoPeers, "no peer joined before the timeout", joinCtx.Err())
		}
		return nil, newError(CodeNoPeers, "no reachable peers for transfer "+loc.TransferID, nil)
	}
	sess.setProgress(0, len(connected))
	sess.setState(StateDownloading)

	var lastErr error
	for _, pid := range connected {
		data, err := m.downloadFrom(ctx, sess, pid, loc.TransferID)
		if err == nil {
			return data, nil
		}
		lastErr = err
		m.logger.Debug("peer download failed", "peer", pid.String(), "error", err)
	}
	return nil, lastErr
}

// downloadFrom pulls every piece of the transfer over one stream.
func (m *Manager) downloadFrom(ctx context.Context, sess *Session, pid peer.ID, tid string) ([]byte, error) {
	s, err := m.host.NewStream(ctx, pid, ProtocolID)
	if err != nil {
		return nil, newError(CodeNoPeers, "open piece stream", err)
	}
	defer s.Close()

	var buf bytes.Buffer
	var pieceCount uint64
	for index := uint64(0); ; index++ {
		_ = s.SetDeadline(time.Now().Add(m.cfg.RequestTimeout))
		req := pieceRequest{TransferID: tid, Index: index}
		if err := writeFrame(s, req.marshal()); err != nil {
			return nil, newError(CodeTimeout, "send piece request", err)
		}
		payload, err := readFrame(s)
		if err != nil {
			return nil, newError(CodeTimeout, "read piece response", err)
		}
		var resp pieceResponse
		if err := resp.unmarshal(payload); err != nil {
			return nil, newError(CodeNoPlayableFile, "malformed piece response", err)
		}
		if resp.PieceCount == 0 {
			return nil, newError(CodeNoPlayableFile, "peer does not hold transfer "+tid, nil)
		}
		if !bytes.Equal(resp.Digest, pieceDigest(resp.Data)) {
			return nil, newError(CodeIntegrityMismatch,
				fmt.Sprintf("piece %d digest mismatch", index), nil)
		}
		pieceCount = resp.PieceCount
		buf.Write(resp.Data)
		sess.setProgress(float64(index+1)/float64(pieceCount), sess.info().PeerCount)
		if index+1 >= pieceCount {
			break
		}
		select {
		case <-ctx.Done():
			return nil, newError(CodeTimeout, "download canceled", ctx.Err())
		default:
		}
	}
	return buf.Bytes(), nil
}

// fetchFallback retrieves the bytes from the content-addressed gateway.
func (m *Manager) fetchFallback(ctx context.Context, fallback string) ([]byte, error) {
	c, err := ParseFallback(fallback)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/ipfs/%s", m.cfg.GatewayURL, c.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned %d for %s", resp.StatusCode, c.String())
	}
	return io.ReadAll(resp.Body)
}

// handleStream serves pieces of seeded or cached transfers to other
// swarm members.
func (m *Manager) handleStream(s network.Stream) {
	defer s.Close()
	for {
		payload, err := readFrame(s)
		if err != nil {
			return
		}
		var req pieceRequest
		if err := req.unmarshal(payload); err != nil {
			return
		}
		resp := m.pieceFor(req)
		if err := writeFrame(s, resp.marshal()); err != nil {
			return
		}
	}
}

func (m *Manager) pieceFor(req pieceRequest) pieceResponse {
	data, ok := m.contentFor(req.TransferID)
	if !ok {
		return pieceResponse{Index: req.Index}
	}
	size := uint64(len(data))
	piece := uint64(m.cfg.PieceSize)
	count := (size + piece - 1) / piece
	if req.Index >= count {
		return pieceResponse{TotalSize: size, PieceCount: count, Index: req.Index}
	}
	start := req.Index * piece
	end := start + piece
	if end > size {
		end = size
	}
	chunk := data[start:end]
	return pieceResponse{
		TotalSize:  size,
		PieceCount: count,
		Index:      req.Index,
		Digest:     pieceDigest(chunk),
		Data:       chunk,
	}
}

// Release is the ordinary teardown: a session the caller is also
// seeding survives to sustain swarm health; anything else is removed.
// Cached bytes stay resident either way, subject to the cache ceiling.
func (m *Manager) Release(locator string) {
	loc, err := ParseLocator(locator)
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[loc.TransferID]
	if !ok {
		return
	}
	sess.mu.Lock()
	if sess.seeding {
		sess.state = StateSeeding
		sess.mu.Unlock()
		return
	}
	sess.mu.Unlock()
	delete(m.sessions, loc.TransferID)
}

// Destroy forcibly tears the session down and releases every resident
// byte; used only for moderation-hidden content.
func (m *Manager) Destroy(locator string) {
	loc, err := ParseLocator(locator)
	if err != nil {
		return
	}
	m.mu.Lock()
	sess := m.sessions[loc.TransferID]
	delete(m.sessions, loc.TransferID)
	delete(m.seeded, loc.TransferID)
	m.mu.Unlock()
	if sess != nil {
		sess.mu.Lock()
		sess.destroyed = true
		sess.state = StateError
		if sess.fetching {
			// resolve the in-flight attempt so attachers wake and fail
			sess.err = newError(CodeSessionDestroyed, "session destroyed during transfer", nil)
			sess.fetching = false
			close(sess.done)
		}
		sess.mu.Unlock()
	}
	m.cache.Remove(loc.TransferID)
	m.logger.Info("session destroyed", "transfer", loc.TransferID)
}

// Sessions snapshots every live session for status surfaces.
func (m *Manager) Sessions() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.info())
	}
	return out
}

// CacheResident reports the resident cached bytes.
func (m *Manager) CacheResident() int64 {
	return m.cache.Resident()
}
