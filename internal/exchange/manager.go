package exchange

import (
	"context"
	"io"

	"go.uber.org/zap"

	longpoll "github.com/joeycumines/go-longpoll"

	"github.com/dreamware/coordsvc/internal/coordpath"
	"github.com/dreamware/coordsvc/internal/metrics"
	"github.com/dreamware/coordsvc/internal/sessionid"
	"github.com/dreamware/coordsvc/internal/waitdir"
)

// LiveSession is the minimal addressing information the exchange
// manager needs about a session to broadcast to it.
type LiveSession struct {
	ID      sessionid.ID
	Address sessionid.Address
}

// SessionLister enumerates currently-live sessions for broadcast.
// Implemented by the session manager.
type SessionLister interface {
	LiveSessions(ctx context.Context) ([]LiveSession, error)
}

// CacheInvalidator drops a cached entry slot and reloads it from
// storage in one step, matching spec.md §4.6's receipt handling for
// InvalidateCacheEntry ("invalidate the cache slot, reload the entry
// from storage for consistent staging"). Implemented by the entry
// cache.
type CacheInvalidator interface {
	InvalidateAndReload(ctx context.Context, path coordpath.Path) error
}

// ReadLockReleaser releases self's local read-lock on path. Supplied
// by the lock manager to break the exchange/lock dependency cycle
// (spec.md §9).
type ReadLockReleaser interface {
	ReleaseLocalReadLock(ctx context.Context, path coordpath.Path, self sessionid.ID) error
}

// Manager implements the exchange protocol: best-effort sends, a
// background receive loop, and the local directory notifications that
// the wait manager blocks on.
type Manager struct {
	self      sessionid.ID
	transport Transport
	sessions  SessionLister
	cache     CacheInvalidator
	locks     ReadLockReleaser
	readDir   *waitdir.Directory
	writeDir  *waitdir.Directory
	logger    *zap.Logger
	metrics   *metrics.Metrics

	inbound chan []byte
}

// NewManager constructs an exchange manager for the given local
// session. readDir and writeDir are the wait manager's two
// directories; Manager fires their notifications on receipt of the
// matching Released* message. m may be nil (metrics.Disabled()).
//
// locks may be nil at construction time and supplied later via
// SetReadLockReleaser: the lock manager this exchange manager needs
// to call back into on InvalidateCacheEntry receipt itself depends on
// this exchange manager (spec.md §9's one residual lock↔exchange
// cycle), so the participant container constructs both, then wires
// this one field, before starting Run.
func NewManager(
	self sessionid.ID,
	transport Transport,
	sessions SessionLister,
	cache CacheInvalidator,
	locks ReadLockReleaser,
	readDir, writeDir *waitdir.Directory,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		self:      self,
		transport: transport,
		sessions:  sessions,
		cache:     cache,
		locks:     locks,
		readDir:   readDir,
		writeDir:  writeDir,
		logger:    logger,
		metrics:   m,
		inbound:   make(chan []byte, 256),
	}
}

// Handler returns the http.Handler to register at the frame receipt
// path on the participant's HTTP server.
func (m *Manager) Handler() *InboundHandler {
	return newInboundHandler(m.inbound)
}

// SetReadLockReleaser wires the lock manager's read-lock-release
// capability in after both have been constructed. Must be called
// exactly once, before Run.
func (m *Manager) SetReadLockReleaser(locks ReadLockReleaser) {
	m.locks = locks
}

// RequestInvalidation sends an InvalidateCacheEntry frame to holder at
// addr for path, asking it to drop its read-lock.
func (m *Manager) RequestInvalidation(ctx context.Context, holder sessionid.ID, addr sessionid.Address, path coordpath.Path) {
	m.send(ctx, addr, Frame{Type: InvalidateCacheEntry, Path: path, Session: holder})
}

// NotifyReadLockReleased broadcasts ReleasedReadLock for path to every
// live session, firing self's own read-release directory directly.
func (m *Manager) NotifyReadLockReleased(ctx context.Context, path coordpath.Path) {
	m.broadcast(ctx, path, ReleasedReadLock, m.readDir)
}

// NotifyWriteLockReleased broadcasts ReleasedWriteLock for path.
func (m *Manager) NotifyWriteLockReleased(ctx context.Context, path coordpath.Path) {
	m.broadcast(ctx, path, ReleasedWriteLock, m.writeDir)
}

func (m *Manager) broadcast(ctx context.Context, path coordpath.Path, typ MessageType, dir *waitdir.Directory) {
	dir.Notify(m.self, path)

	live, err := m.sessions.LiveSessions(ctx)
	if err != nil {
		m.logger.Warn("exchange: list live sessions for broadcast failed", zap.Error(err))
		return
	}
	for _, s := range live {
		if s.ID == m.self {
			continue
		}
		m.send(ctx, s.Address, Frame{Type: typ, Path: path, Session: m.self})
	}
}

func (m *Manager) send(ctx context.Context, addr sessionid.Address, frame Frame) {
	encoded, err := Encode(frame)
	if err != nil {
		m.logger.Error("exchange: encode frame failed", zap.Error(err))
		return
	}
	m.metrics.IncExchangeSent(frame.Type.String())
	if err := m.transport.Send(ctx, addr, encoded); err != nil {
		m.logger.Debug("exchange: send failed, relying on polling fallback", zap.Error(err), zap.String("addr", string(addr)))
	}
}

// Run drives the background receive loop until ctx is cancelled. Each
// batch of inbound frames is drained via longpoll.Channel and
// dispatched to a fire-and-forget goroutine per spec.md §4.6.
func (m *Manager) Run(ctx context.Context) error {
	cfg := &longpoll.ChannelConfig{MaxSize: 32, MinSize: 1}
	for {
		err := longpoll.Channel(ctx, cfg, m.inbound, func(raw []byte) error {
			go m.handleFrame(ctx, raw)
			return nil
		})
		if err == io.EOF {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			m.logger.Warn("exchange: receive batch error", zap.Error(err))
		}
	}
}

func (m *Manager) handleFrame(ctx context.Context, raw []byte) {
	frame, err := Decode(raw)
	if err != nil {
		m.logger.Warn("exchange: dropping malformed frame", zap.Error(err))
		m.metrics.IncExchangeDropped("malformed")
		return
	}

	switch frame.Type {
	case ReleasedReadLock:
		m.readDir.Notify(frame.Session, frame.Path)
	case ReleasedWriteLock:
		m.writeDir.Notify(frame.Session, frame.Path)
	case InvalidateCacheEntry:
		if frame.Session != m.self {
			m.logger.Debug("exchange: dropping invalidation addressed to another session", zap.String("addressee", string(frame.Session)))
			m.metrics.IncExchangeDropped("misaddressed")
			return
		}
		if err := m.cache.InvalidateAndReload(ctx, frame.Path); err != nil {
			m.logger.Warn("exchange: cache reload on invalidation failed", zap.Error(err))
			return
		}
		if err := m.locks.ReleaseLocalReadLock(ctx, frame.Path, m.self); err != nil {
			m.logger.Warn("exchange: release local read-lock on invalidation failed", zap.Error(err))
		}
	default:
		m.logger.Warn("exchange: unknown frame type", zap.Uint8("type", uint8(frame.Type)))
		m.metrics.IncExchangeDropped("unknown_type")
	}
}
