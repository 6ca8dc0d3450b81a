package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kpmajid/chat-app/internal/events"
	"github.com/kpmajid/chat-app/internal/metrics"
	"github.com/kpmajid/chat-app/internal/models"
	"github.com/kpmajid/chat-app/internal/presence"
	"github.com/kpmajid/chat-app/internal/repository"
)

// Dispatcher is the engine's view of the fanout layer. It is injected so
// tests can observe what would have been pushed.
type Dispatcher interface {
	DispatchMessageSent(msg *models.MessageView, conv *models.ConversationView, excludeUserID string)
	DispatchMessageEdited(msg *models.MessageView, conversationID string, recipients []string)
	DispatchMessageDeleted(messageID, conversationID string, deletedAt time.Time, recipients []string)
	DispatchPresenceChange(ctx context.Context, userID string, online bool)
}

// PresenceMirror mirrors online/offline edges into a shared cache (Redis)
// so out-of-process consumers can read presence without hitting this node.
type PresenceMirror interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
}

const DefaultStoreTimeout = 10 * time.Second

// Engine drives every conversation mutation: authorize, update the store,
// then hand the result to the dispatcher. The transaction boundary lives
// here; on any store error nothing reaches the dispatcher, and once the
// store write succeeds no fanout problem can fail the operation. Both the
// HTTP handlers and the websocket event handlers call these same methods, so
// the two transports cannot drift apart in side effects or authorization.
//
// Callers that need their own operations applied in issue order must await
// each call before making the next; the engine does not serialize concurrent
// calls from one actor.
type Engine struct {
	store        repository.Store
	registry     *presence.Registry
	dispatcher   Dispatcher
	producer     *events.Producer
	mirror       PresenceMirror
	log          *zap.SugaredLogger
	storeTimeout time.Duration
}

type Option func(*Engine)

// WithStoreTimeout overrides the per-call store deadline.
func WithStoreTimeout(d time.Duration) Option {
	return func(e *Engine) { e.storeTimeout = d }
}

// WithProducer attaches the outbound event stream.
func WithProducer(p *events.Producer) Option {
	return func(e *Engine) { e.producer = p }
}

// WithPresenceMirror attaches the shared presence cache.
func WithPresenceMirror(m PresenceMirror) Option {
	return func(e *Engine) { e.mirror = m }
}

func New(store repository.Store, registry *presence.Registry, dispatcher Dispatcher, log *zap.SugaredLogger, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		registry:     registry,
		dispatcher:   dispatcher,
		log:          log,
		storeTimeout: DefaultStoreTimeout,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.storeTimeout)
}

// --- connection lifecycle ---

// Connect registers a live connection. On the user's first connection it
// flips the stored online flag and fans the transition out to contacts;
// additional tabs and devices register silently.
func (e *Engine) Connect(ctx context.Context, userID, username, avatar, connID string, p presence.Pusher) error {
	sctx, cancel := e.withTimeout(ctx)
	defer cancel()
	if err := e.store.EnsureUser(sctx, userID, username, avatar); err != nil {
		return err
	}
	first := e.registry.Register(userID, connID, p)
	metrics.LiveConnections.Set(float64(e.registry.Count()))
	if !first {
		return nil
	}
	if err := e.store.SetOnline(sctx, userID, true); err != nil {
		e.log.Warnw("set online flag", "user_id", userID, "err", err)
	}
	if e.mirror != nil {
		if err := e.mirror.SetOnline(ctx, userID); err != nil {
			e.log.Warnw("mirror online", "user_id", userID, "err", err)
		}
	}
	e.dispatcher.DispatchPresenceChange(sctx, userID, true)
	return nil
}

// Disconnect drops a connection; the offline transition fires only when the
// last connection for the user goes away.
func (e *Engine) Disconnect(ctx context.Context, userID, connID string) {
	last := e.registry.Unregister(userID, connID)
	metrics.LiveConnections.Set(float64(e.registry.Count()))
	if !last {
		return
	}
	sctx, cancel := e.withTimeout(ctx)
	defer cancel()
	if err := e.store.SetOnline(sctx, userID, false); err != nil {
		e.log.Warnw("set offline flag", "user_id", userID, "err", err)
	}
	if e.mirror != nil {
		if err := e.mirror.SetOffline(ctx, userID); err != nil {
			e.log.Warnw("mirror offline", "user_id", userID, "err", err)
		}
	}
	e.dispatcher.DispatchPresenceChange(sctx, userID, false)
}

// --- conversations ---

func (e *Engine) CreateDirect(ctx context.Context, actorID, otherUserID string) (*models.ConversationView, error) {
	sctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.store.FindOrCreateDirect(sctx, actorID, otherUserID)
}

func (e *Engine) CreateGroup(ctx context.Context, actorID, name string, memberIDs []string) (*models.ConversationView, error) {
	sctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.store.CreateGroup(sctx, actorID, name, memberIDs)
}

func (e *Engine) ListConversations(ctx context.Context, actorID string) ([]*models.ConversationView, error) {
	sctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.store.ListConversationsForUser(sctx, actorID)
}

func (e *Engine) ListUsers(ctx context.Context, actorID string) ([]models.UserView, error) {
	sctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.store.ListUsersExcept(sctx, actorID)
}

// --- messages ---

func (e *Engine) SendMessage(ctx context.Context, actorID, convID, content string) (*repository.AppendResult, error) {
	sctx, cancel := e.withTimeout(ctx)
	defer cancel()
	res, err := e.store.AppendMessage(sctx, convID, actorID, content)
	if err != nil {
		return nil, err
	}
	metrics.MessagesSent.Inc()
	e.dispatcher.DispatchMessageSent(res.Message, res.Conversation, actorID)
	e.publish(ctx, events.ChatEvent{
		Type:           events.TypeMessageSent,
		ConversationID: res.Message.ConversationID,
		MessageID:      res.Message.ID,
		SenderID:       actorID,
		Recipients:     res.Conversation.ParticipantIDs(actorID),
	})
	return res, nil
}

func (e *Engine) EditMessage(ctx context.Context, actorID, msgID, content string) (*models.MessageView, error) {
	sctx, cancel := e.withTimeout(ctx)
	defer cancel()
	res, err := e.store.EditMessage(sctx, msgID, actorID, content)
	if err != nil {
		return nil, err
	}
	e.dispatcher.DispatchMessageEdited(res.Message, res.ConversationID, res.Recipients)
	e.publish(ctx, events.ChatEvent{
		Type:           events.TypeMessageUpdated,
		ConversationID: res.ConversationID,
		MessageID:      res.Message.ID,
		SenderID:       actorID,
		Recipients:     res.Recipients,
	})
	return res.Message, nil
}

func (e *Engine) DeleteMessage(ctx context.Context, actorID, msgID string) (*repository.DeleteResult, error) {
	sctx, cancel := e.withTimeout(ctx)
	defer cancel()
	res, err := e.store.SoftDeleteMessage(sctx, msgID, actorID)
	if err != nil {
		return nil, err
	}
	e.dispatcher.DispatchMessageDeleted(res.MessageID, res.ConversationID, res.DeletedAt, res.Recipients)
	e.publish(ctx, events.ChatEvent{
		Type:           events.TypeMessageDeleted,
		ConversationID: res.ConversationID,
		MessageID:      res.MessageID,
		SenderID:       actorID,
		Recipients:     res.Recipients,
	})
	return res, nil
}

func (e *Engine) MarkRead(ctx context.Context, actorID, convID string) error {
	sctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.store.MarkRead(sctx, convID, actorID)
}

func (e *Engine) ListMessages(ctx context.Context, actorID, convID string, limit, offset int) (*repository.MessagePage, error) {
	sctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.store.ListMessages(sctx, convID, actorID, limit, offset)
}

func (e *Engine) publish(ctx context.Context, ev events.ChatEvent) {
	if e.producer == nil {
		return
	}
	e.producer.Publish(ctx, ev)
}
