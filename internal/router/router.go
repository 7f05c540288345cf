package router

import (
	"context"
	"time"

	"go.uber.org/zap"

	"chatline/internal/presence"
	"chatline/pkg/interfaces"
	"chatline/pkg/types"
)

// Options carries the chat policy knobs
type Options struct {
	BroadcastLimit int
	HistoryTail    int
	Location       *time.Location
}

// Router implements the MessageRouter interface
// ARCHITECTURAL DISCOVERY: Pure message routing logic without connection handling;
// sessions feed it parsed requests and it decides persistence and fan-out
type Router struct {
	presence    *presence.Tracker
	store       interfaces.HistoryStore
	rateLimiter *RateLimiter
	historyTail int
	location    *time.Location
	logger      *zap.Logger
	now         func() time.Time
}

// NewRouter creates a new message router
// FUNCTIONAL DISCOVERY: Dependency injection enables testing with real or fake stores
func NewRouter(tracker *presence.Tracker, store interfaces.HistoryStore, opts Options, logger *zap.Logger) (*Router, error) {
	if tracker == nil {
		return nil, ErrNilPresence
	}
	if store == nil {
		return nil, ErrNilStore
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	return &Router{
		presence:    tracker,
		store:       store,
		rateLimiter: NewRateLimiter(opts.BroadcastLimit, store),
		historyTail: opts.HistoryTail,
		location:    opts.Location,
		logger:      logger.Named("router"),
		now:         time.Now,
	}, nil
}

// Dispatch handles one validated request from conn
func (r *Router) Dispatch(ctx context.Context, conn interfaces.Connection, req *types.Request) {
	switch req.Target {
	case types.TargetHello:
		r.handleHello(ctx, conn, req)
	case types.TargetAll:
		r.handleBroadcast(ctx, conn, req)
	case types.TargetOneToOne:
		r.handleDirect(ctx, conn, req)
	case types.TargetStatus:
		r.handleStatus(ctx, conn, req)
	default:
		r.Reject(conn, types.ErrUnknownTarget)
	}
}

// Reject tells the requester its frame was dropped
func (r *Router) Reject(conn interfaces.Connection, reason error) {
	r.logger.Warn("rejected request",
		zap.String("conn_id", conn.ID()),
		zap.String("remote_addr", conn.RemoteAddr()),
		zap.Error(reason),
	)
	r.send(conn, formatReject(reason))
}

// Leave deregisters conn and announces departure if its user went offline
func (r *Router) Leave(ctx context.Context, conn interfaces.Connection) {
	username, wentOffline := r.presence.Deregister(conn)
	if !wentOffline {
		return
	}

	r.logger.Info("user left", zap.String("username", username))
	r.fanOut(r.presence.Connections(), nil, formatLeft(username))
}

// ensureUser loads or registers the requesting user.
// FUNCTIONAL DISCOVERY: Every request registers an unseen username, not only hello
func (r *Router) ensureUser(ctx context.Context, username string) (*types.User, bool) {
	user, created, err := r.store.GetOrCreateUser(ctx, username)
	if err != nil {
		r.logger.Error("failed to load user", zap.String("username", username), zap.Error(err))
		return nil, false
	}
	if created {
		r.logger.Debug("first request from user", zap.String("username", username))
	}
	return user, true
}

func (r *Router) handleHello(ctx context.Context, conn interfaces.Connection, req *types.Request) {
	user, ok := r.ensureUser(ctx, req.Username)

	// Register before replay so nothing sent meanwhile is missed
	cameOnline := r.presence.Register(req.Username, conn)

	if ok {
		r.replayHistory(ctx, conn, user)
	}

	if !cameOnline {
		return
	}

	r.logger.Info("user came online",
		zap.String("username", req.Username),
		zap.String("remote_addr", conn.RemoteAddr()),
	)

	own := make(map[string]struct{})
	for _, c := range r.presence.ConnectionsFor(req.Username) {
		own[c.ID()] = struct{}{}
	}
	r.fanOut(r.presence.Connections(), own, formatGuest(req.Username))
}

func (r *Router) replayHistory(ctx context.Context, conn interfaces.Connection, user *types.User) {
	messages, err := r.store.HistoryWindow(ctx, user.Username, user.RegisteredAt, r.historyTail)
	if err != nil {
		r.logger.Error("failed to load history window", zap.String("username", user.Username), zap.Error(err))
		return
	}

	for _, m := range messages {
		if err := conn.WriteLine(r.formatMessage(m.SentAt, m.Sender, m.Receiver, m.Body)); err != nil {
			r.logger.Debug("history replay interrupted", zap.String("conn_id", conn.ID()), zap.Error(err))
			return
		}
	}
}

func (r *Router) handleBroadcast(ctx context.Context, conn interfaces.Connection, req *types.Request) {
	release := r.rateLimiter.Guard(req.Username)
	defer release()

	user, ok := r.ensureUser(ctx, req.Username)
	if ok && !r.rateLimiter.Allow(user) {
		r.logger.Info("broadcast limit reached", zap.String("username", req.Username))
		r.send(conn, LimitWarning)
		return
	}

	message := &types.Message{
		Sender:   req.Username,
		Receiver: types.ReceiverAll,
		Body:     req.Message,
		SentAt:   r.now(),
	}
	r.persist(ctx, message)

	if err := r.rateLimiter.Record(ctx, req.Username); err != nil {
		r.logger.Error("failed to record broadcast", zap.String("username", req.Username), zap.Error(err))
	}

	exclude := map[string]struct{}{conn.ID(): {}}
	line := r.formatMessage(message.SentAt, message.Sender, types.ReceiverAll, message.Body)
	r.fanOut(r.presence.Connections(), exclude, line)
}

func (r *Router) handleDirect(ctx context.Context, conn interfaces.Connection, req *types.Request) {
	r.ensureUser(ctx, req.Username)

	message := &types.Message{
		Sender:   req.Username,
		Receiver: req.Receiver,
		Body:     req.Message,
		SentAt:   r.now(),
	}
	r.persist(ctx, message)

	recipients := r.presence.ConnectionsFor(req.Username)
	if req.Receiver != req.Username {
		recipients = append(recipients, r.presence.ConnectionsFor(req.Receiver)...)
	}

	exclude := map[string]struct{}{conn.ID(): {}}
	line := r.formatMessage(message.SentAt, message.Sender, message.Receiver, message.Body)
	r.fanOut(recipients, exclude, line)
}

func (r *Router) handleStatus(ctx context.Context, conn interfaces.Connection, req *types.Request) {
	r.ensureUser(ctx, req.Username)
	r.send(conn, formatStatus(req.Username, conn.RemoteAddr(), r.presence.ListOnline()))
}

// persist stores a message; failures are logged and delivery continues
func (r *Router) persist(ctx context.Context, message *types.Message) {
	if err := r.store.StoreMessage(ctx, message); err != nil {
		r.logger.Error("failed to persist message",
			zap.String("sender", message.Sender),
			zap.String("receiver", message.Receiver),
			zap.Error(err),
		)
	}
}

// fanOut writes line to every connection not in exclude
// FUNCTIONAL DISCOVERY: Continue delivery to other recipients even if one fails
func (r *Router) fanOut(conns []interfaces.Connection, exclude map[string]struct{}, line string) {
	for _, c := range conns {
		if _, skip := exclude[c.ID()]; skip {
			continue
		}
		r.send(c, line)
	}
}

func (r *Router) send(conn interfaces.Connection, line string) {
	if err := conn.WriteLine(line); err != nil {
		r.logger.Debug("failed to deliver line",
			zap.String("conn_id", conn.ID()),
			zap.Error(err),
		)
	}
}
