package services

import (
	"context"
	"sync"

	"eventmarket/server/internal/models"
)

// IIdentityProvider supplies the actor an operation runs as.
type IIdentityProvider interface {
	CurrentActor(ctx context.Context) (models.Actor, bool)
}

type actorCtxKey struct{}

// WithActor returns a context carrying actor. The API auth middleware calls it per request.
func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorCtxKey{}, actor)
}

// ActorFromContext returns the actor stored by WithActor.
func ActorFromContext(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(actorCtxKey{}).(models.Actor)
	return actor, ok && !actor.ID.IsZero()
}

// ContextIdentityProvider reads the actor from the request context.
type ContextIdentityProvider struct{}

func (ContextIdentityProvider) CurrentActor(ctx context.Context) (models.Actor, bool) {
	return ActorFromContext(ctx)
}

// SessionIdentityProvider holds a single signed-in actor, for one-user processes such as
// tools and tests. An actor set on the context still takes precedence.
type SessionIdentityProvider struct {
	mu    sync.RWMutex
	actor *models.Actor
}

func NewSessionIdentityProvider() *SessionIdentityProvider {
	return &SessionIdentityProvider{}
}

func (p *SessionIdentityProvider) SignIn(actor models.Actor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actor = &actor
}

func (p *SessionIdentityProvider) SignOut() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actor = nil
}

func (p *SessionIdentityProvider) CurrentActor(ctx context.Context) (models.Actor, bool) {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor, true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.actor == nil {
		return models.Actor{}, false
	}
	return *p.actor, true
}

func requireActor(ctx context.Context, identity IIdentityProvider) (models.Actor, error) {
	actor, ok := identity.CurrentActor(ctx)
	if !ok {
		return models.Actor{}, ErrUnauthenticated
	}
	return actor, nil
}
