package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/bnema/whatsapp-accounts-broker/internal/application"
	"github.com/bnema/whatsapp-accounts-broker/internal/domain"
	"github.com/bnema/whatsapp-accounts-broker/internal/ports"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
	writeTimeout      = 10 * time.Second
	maxRequestBytes   = 64 << 10
)

var (
	ErrUnknownRequest   = errors.New("unknown request type")
	ErrMalformedRequest = errors.New("malformed request")
)

type Options struct {
	Logger *slog.Logger
	// AllowedOrigins lists browser origins accepted for sockets and CORS.
	// "*" allows any origin; empty allows same-origin only.
	AllowedOrigins []string
	QueueSize      int
}

// Server exposes the session registry to observers: a WebSocket endpoint
// carrying requests and pushed events, and a small REST surface.
type Server struct {
	registry  *application.Registry
	logger    *slog.Logger
	origins   []string
	patterns  []string
	queueSize int
	newID     func() string
}

func NewServer(registry *application.Registry, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	return &Server{
		registry:  registry,
		logger:    opts.Logger,
		origins:   opts.AllowedOrigins,
		patterns:  originPatterns(opts.AllowedOrigins),
		queueSize: opts.QueueSize,
		newID:     uuid.NewString,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleSocket)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return s.withCORS(mux)
}

// Serve runs the HTTP server on listener until ctx is cancelled. Open
// sockets share ctx, so cancelling it also ends every observer connection.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		s.logger.Info("listening", "addr", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http: %w", err)
		}
		return nil
	})

	return group.Wait()
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	return s.Serve(ctx, listener)
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.patterns})
	if err != nil {
		s.logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(maxRequestBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	observer := newConnObserver(s.newID(), s.queueSize)
	logger := s.logger.With("observer", observer.ID())
	logger.Info("observer connected", "remote", r.RemoteAddr)

	written := make(chan struct{})
	go func() {
		defer close(written)
		s.writeEvents(ctx, conn, observer, logger)
	}()

	defer func() {
		// Sessions outlive their observer; only the bindings go.
		observer.close()
		released := s.registry.Router().UnbindObserver(observer)
		cancel()
		<-written
		logger.Info("observer disconnected", "released", len(released))
	}()

	s.readRequests(ctx, conn, observer, logger)
}

func (s *Server) readRequests(ctx context.Context, conn *websocket.Conn, observer ports.Observer, logger *slog.Logger) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				logger.Debug("observer closed socket")
			default:
				if ctx.Err() == nil {
					logger.Warn("websocket read failed", "error", err)
				}
			}
			return
		}

		var response Response
		var req Request
		switch {
		case typ != websocket.MessageText:
			response = errorResponse("", fmt.Errorf("%w: expected a text frame", ErrMalformedRequest))
		case json.Unmarshal(data, &req) != nil:
			response = errorResponse("", fmt.Errorf("%w: invalid json", ErrMalformedRequest))
		default:
			response = s.handle(ctx, observer, req)
		}

		if !response.OK {
			logger.Debug("request rejected", "type", req.Type, "error", response.Error)
		}

		if err := write(ctx, conn, response); err != nil {
			logger.Debug("write response failed", "error", err)
			return
		}
	}
}

func (s *Server) writeEvents(ctx context.Context, conn *websocket.Conn, observer *connObserver, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-observer.Gone():
			if observer.Overflowed() {
				logger.Warn("observer too slow, closing socket")
				_ = conn.Close(websocket.StatusPolicyViolation, "event queue overflow")
			}
			return
		case event := <-observer.Events():
			if err := write(ctx, conn, event); err != nil {
				logger.Debug("write event failed", "type", event.Type, "error", err)
				_ = conn.CloseNow()
				return
			}
		}
	}
}

func (s *Server) handle(ctx context.Context, observer ports.Observer, req Request) Response {
	switch req.Type {
	case RequestSession, legacyCreateSession:
		return s.requestSession(ctx, observer, req)
	case LogoutSession:
		return s.logoutSession(ctx, req)
	case ListSessions:
		return okResponse(req.ID, ListResult{Sessions: s.summaries()})
	default:
		return errorResponse(req.ID, fmt.Errorf("%w: %q", ErrUnknownRequest, req.Type))
	}
}

func (s *Server) requestSession(ctx context.Context, observer ports.Observer, req Request) Response {
	id, err := domain.ParseAccountID(req.account())
	if err != nil {
		return errorResponse(req.ID, err)
	}

	var snapshot application.SessionSnapshot
	if req.Restart {
		snapshot, err = s.registry.Replace(ctx, id, observer)
	} else {
		snapshot, err = s.registry.GetOrCreate(ctx, id, observer)
	}
	if err != nil {
		s.logger.Warn("request session failed", "account", id, "error", err)
		return errorResponse(req.ID, err)
	}

	return okResponse(req.ID, SessionResult{
		AccountID: snapshot.AccountID,
		State:     snapshot.State,
		QRCode:    snapshot.QRCode,
	})
}

func (s *Server) logoutSession(ctx context.Context, req Request) Response {
	id, err := domain.ParseAccountID(req.account())
	if err != nil {
		return errorResponse(req.ID, err)
	}

	if err := s.registry.Logout(ctx, id); err != nil {
		s.logger.Warn("logout failed", "account", id, "error", err)
		return errorResponse(req.ID, err)
	}

	return okResponse(req.ID, LogoutResult{AccountID: id})
}

func (s *Server) summaries() []application.SessionSummary {
	snapshots := s.registry.Snapshots()
	summaries := make([]application.SessionSummary, 0, len(snapshots))
	for _, snapshot := range snapshots {
		summaries = append(summaries, snapshot.Summary())
	}
	return summaries
}

func write(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}

// originPatterns turns configured origins into the host patterns the
// websocket handshake matches against.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, origin := range origins {
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			patterns = append(patterns, parsed.Host)
			continue
		}
		patterns = append(patterns, origin)
	}
	return patterns
}
