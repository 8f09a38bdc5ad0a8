package transport

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/TheMichaelB/strongroom/internal/config"
	"github.com/TheMichaelB/strongroom/internal/events"
	"github.com/TheMichaelB/strongroom/internal/models"
	"github.com/TheMichaelB/strongroom/internal/services/vaults"
)

// Path is where the bridge accepts WebSocket upgrades.
const Path = "/ws"

// TokenParam is the query parameter carrying the access token. Clients
// that can set headers may send "Authorization: Bearer <token>" instead.
const TokenParam = "token"

// Gallery is the session surface the bridge exposes.
type Gallery interface {
	Name() string
	Items() map[string]models.DecryptedItem
	LoadItem(ctx context.Context, id string) (vaults.ItemResult, error)
	LoadThumbnail(ctx context.Context, id string) (string, error)
}

// Bridge serves one open gallery to local WebSocket clients.
type Bridge struct {
	gallery Gallery
	addr    string
	token   string
	logger  *events.Logger

	upgrader websocket.Upgrader

	// Heartbeat
	pingInterval time.Duration
	pongTimeout  time.Duration

	mu     sync.Mutex
	conns  map[*bridgeConn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithHeartbeat overrides the ping interval and pong timeout.
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(b *Bridge) {
		b.pingInterval = interval
		b.pongTimeout = timeout
	}
}

// WithToken sets the access token instead of a random one.
func WithToken(token string) Option {
	return func(b *Bridge) {
		b.token = token
	}
}

// NewBridge creates a bridge for gallery listening on addr. Clients must
// present the bridge token, random per bridge unless WithToken is given.
func NewBridge(gallery Gallery, addr string, logger *events.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		gallery:      gallery,
		addr:         addr,
		token:        strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", ""),
		logger:       logger.WithField("component", "bridge").WithField("vault", gallery.Name()),
		conns:        make(map[*bridgeConn]struct{}),
		pingInterval: 30 * time.Second,
		pongTimeout:  10 * time.Second,
	}
	b.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      sameMachineOrigin,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Token returns the access token clients must present.
func (b *Bridge) Token() string {
	return b.token
}

// URL returns the WebSocket URL for addr including the access token.
func (b *Bridge) URL(addr string) string {
	u := url.URL{
		Scheme:   "ws",
		Host:     addr,
		Path:     Path,
		RawQuery: url.Values{TokenParam: {b.token}}.Encode(),
	}
	return u.String()
}

// Handler returns the HTTP handler serving Path.
func (b *Bridge) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(Path, b.serveWS)
	return mux
}

// ListenAndServe listens on the configured loopback address and serves
// until ctx is cancelled.
func (b *Bridge) ListenAndServe(ctx context.Context) error {
	if err := config.ValidateLoopback(b.addr); err != nil {
		return err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", b.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", b.addr, err)
	}
	return b.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. Open WebSocket
// connections are closed before it returns.
func (b *Bridge) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           b.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			b.logger.WithError(err).Warn("Bridge shutdown incomplete")
		}
		b.closeAll()
	})
	defer stop()

	b.logger.WithField("addr", ln.Addr().String()).Info("Bridge listening")

	err := server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		// Shutdown does not track hijacked connections
		b.closeAll()
		b.wg.Wait()
		b.logger.Info("Bridge stopped")
		return nil
	}
	return fmt.Errorf("serve bridge: %w", err)
}

func (b *Bridge) serveWS(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(r) {
		b.logger.WithField("remote", r.RemoteAddr).Warn("Bridge client rejected: bad token")
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		b.logger.WithError(err).Debug("WebSocket upgrade failed")
		return
	}

	c := &bridgeConn{
		ws:     ws,
		bridge: b,
		done:   make(chan struct{}),
		logger: b.logger.WithField("remote", r.RemoteAddr),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		c.close(websocket.CloseGoingAway)
		return
	}
	b.conns[c] = struct{}{}
	b.wg.Add(1)
	b.mu.Unlock()

	c.logger.Debug("Bridge client connected")

	go c.pingLoop()
	go func() {
		defer b.wg.Done()
		c.readLoop()
	}()
}

func (b *Bridge) authorized(r *http.Request) bool {
	presented := r.URL.Query().Get(TokenParam)
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		presented = strings.TrimPrefix(auth, "Bearer ")
	}
	if presented == "" || b.token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(b.token)) == 1
}

func (b *Bridge) closeAll() {
	b.mu.Lock()
	b.closed = true
	conns := make([]*bridgeConn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.close(websocket.CloseGoingAway)
	}
}

func (b *Bridge) forget(c *bridgeConn) {
	b.mu.Lock()
	delete(b.conns, c)
	b.mu.Unlock()
}

// bridgeConn is one client connection. Requests are answered concurrently;
// writeMu serializes frames since a gorilla conn allows one writer.
type bridgeConn struct {
	ws     *websocket.Conn
	bridge *Bridge
	logger *events.Logger

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

func (c *bridgeConn) readLoop() {
	ctx, cancel := context.WithCancel(events.WithLogger(context.Background(), c.logger))
	var handlers sync.WaitGroup
	defer func() {
		cancel()
		handlers.Wait()
		c.close(websocket.CloseNormalClosure)
		c.bridge.forget(c)
		c.logger.Debug("Bridge client disconnected")
	}()

	deadline := c.bridge.pongTimeout + c.bridge.pingInterval
	_ = c.ws.SetReadDeadline(time.Now().Add(deadline))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		// Only transport errors end the loop
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				c.logger.WithError(err).Warn("Bridge read error")
			}
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.logger.WithField("bytes", len(data)).WithError(err).Debug("Malformed bridge frame")
			if err := c.write(Response{
				Status: StatusError,
				Error:  fmt.Sprintf("malformed request: %v", err),
				Code:   models.ErrCodeBadRequest,
			}); err != nil {
				return
			}
			continue
		}

		handlers.Add(1)
		go func() {
			defer handlers.Done()
			if err := c.write(c.bridge.handle(ctx, req)); err != nil {
				c.logger.WithError(err).Debug("Bridge write failed")
			}
		}()
	}
}

func (c *bridgeConn) pingLoop() {
	ticker := time.NewTicker(c.bridge.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(c.bridge.pongTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.WithError(err).Debug("Ping failed")
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *bridgeConn) write(resp Response) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return net.ErrClosed
	default:
	}

	_ = c.ws.SetWriteDeadline(time.Now().Add(c.bridge.pongTimeout))
	return c.ws.WriteJSON(resp)
}

func (c *bridgeConn) close(code int) {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
}

// handle answers one request. Errors are reported in the response, never
// by dropping the connection.
func (b *Bridge) handle(ctx context.Context, req Request) Response {
	ctx = events.WithRequestID(ctx, strconv.FormatInt(req.Seq, 10))
	resp := Response{Op: req.Op, Seq: req.Seq, ID: req.ID, Status: StatusOK}

	switch req.Op {
	case OpItems:
		resp.Items = summarize(b.gallery.Items())

	case OpLoad:
		result, err := b.gallery.LoadItem(ctx, req.ID)
		if err != nil {
			return fail(ctx, resp, err)
		}
		if result.Pending {
			resp.Status = StatusPending
			return resp
		}
		resp.Payload = result.Payload

	case OpThumbnail:
		thumb, err := b.gallery.LoadThumbnail(ctx, req.ID)
		if err != nil {
			return fail(ctx, resp, err)
		}
		resp.Payload = thumb

	default:
		resp.Status = StatusError
		resp.Error = fmt.Sprintf("unknown op %q", req.Op)
		resp.Code = models.ErrCodeBadRequest
		events.FromContext(ctx).WithField("op", req.Op).Debug("Unknown bridge op")
	}

	return resp
}

func fail(ctx context.Context, resp Response, err error) Response {
	resp.Status = StatusError
	resp.Error = err.Error()
	resp.Code = vaults.ErrorCode(err)

	events.FromContext(ctx).WithFields(map[string]interface{}{
		"op":   resp.Op,
		"id":   resp.ID,
		"code": resp.Code,
	}).WithError(err).Debug("Bridge request failed")

	return resp
}

// sameMachineOrigin accepts requests without an Origin header and browser
// pages served from a loopback host.
func sameMachineOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
