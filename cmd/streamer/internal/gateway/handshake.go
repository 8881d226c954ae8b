package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/finwatch/price-stream/cmd/streamer/internal/auth"
	"github.com/finwatch/price-stream/cmd/streamer/internal/protocol"
	"github.com/finwatch/price-stream/cmd/streamer/internal/registry"
	"github.com/finwatch/price-stream/cmd/streamer/internal/repository"
)

const handshakeTimeout = 5 * time.Second

// TokenConsumer is the one-time-token side of the auth collaborator.
type TokenConsumer interface {
	Consume(ctx context.Context, token string) (int64, error)
}

// Handler upgrades inbound connections and runs the in-band handshake:
// consume the one-time token, check the user, authorize the watchlist.
// The upgrade itself always succeeds; failures close the socket with a
// distinct application code so the client never sees a raw error.
type Handler struct {
	registry    *registry.Registry
	tokens      TokenConsumer
	store       repository.WatchlistStore
	idleTimeout time.Duration
	logger      *zap.Logger
}

func NewHandler(reg *registry.Registry, tokens TokenConsumer, store repository.WatchlistStore, idleTimeout time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		registry:    reg,
		tokens:      tokens,
		store:       store,
		idleTimeout: idleTimeout,
		logger:      logger,
	}
}

func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}

	watchlistID, ok := h.authorize(r, conn)
	if !ok {
		conn.Close()
		return
	}

	client := NewClient(conn, h.registry, watchlistID, h.idleTimeout, h.logger)
	h.registry.Register(client, watchlistID)
	client.Start()
}

// authorize runs the handshake against an already-upgraded socket. On any
// failure it writes a close frame with the matching code and reports false.
func (h *Handler) authorize(r *http.Request, conn net.Conn) (int64, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()

	q := r.URL.Query()

	token := q.Get("token")
	if token == "" {
		h.refuse(conn, protocol.CloseTokenMissing, "token required")
		return 0, false
	}

	userID, err := h.tokens.Consume(ctx, token)
	switch {
	case errors.Is(err, auth.ErrStoreUnavailable):
		h.refuse(conn, protocol.CloseStoreUnavailable, "auth store unavailable")
		return 0, false
	case errors.Is(err, auth.ErrTokenNotFound):
		h.refuse(conn, protocol.CloseTokenInvalid, "token invalid or expired")
		return 0, false
	case errors.Is(err, auth.ErrMalformedToken):
		h.refuse(conn, protocol.CloseMalformedToken, "malformed token")
		return 0, false
	case err != nil:
		h.refuse(conn, protocol.CloseStoreUnavailable, "auth store unavailable")
		return 0, false
	}

	user, err := h.store.GetUser(ctx, userID)
	if err != nil || !user.Active {
		h.refuse(conn, protocol.CloseUserInactive, "user missing or inactive")
		return 0, false
	}

	// Missing id, unknown list and forbidden list all close identically so
	// watchlist existence cannot be probed.
	watchlistID, err := strconv.ParseInt(q.Get("watchlist_id"), 10, 64)
	if err != nil {
		h.refuse(conn, protocol.CloseAccessDenied, "not found or access denied")
		return 0, false
	}

	wl, err := h.store.GetWatchlist(ctx, watchlistID)
	if err != nil {
		h.refuse(conn, protocol.CloseAccessDenied, "not found or access denied")
		return 0, false
	}
	if wl.UserID != userID && !wl.IsPublic {
		h.refuse(conn, protocol.CloseAccessDenied, "not found or access denied")
		return 0, false
	}

	return watchlistID, true
}

func (h *Handler) refuse(conn net.Conn, code ws.StatusCode, reason string) {
	h.logger.Info("handshake refused",
		zap.Uint16("code", uint16(code)), zap.String("reason", reason))
	conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	frame := ws.NewCloseFrame(ws.NewCloseFrameBody(code, reason))
	if err := ws.WriteFrame(conn, frame); err != nil {
		h.logger.Debug("write close frame", zap.Error(err))
	}
}
