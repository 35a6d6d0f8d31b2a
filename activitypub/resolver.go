package activitypub

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/deemkeen/threadfed/db"
	"github.com/deemkeen/threadfed/domain"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// actorFreshness is how long a cached remote actor is trusted before refetching
const actorFreshness = 24 * time.Hour

// Resolver dereferences ids to local records, fetching unknown remote ones
type Resolver interface {
	ResolvePerson(ctx context.Context, apId string) (*domain.Person, error)
	ResolveCommunity(ctx context.Context, apId string) (*domain.Community, error)
	ResolveFollowTarget(ctx context.Context, apId string) (domain.FollowTarget, error)
	ResolveInstance(ctx context.Context, domainName string) (*domain.Instance, error)
}

// RemoteFetcher loads actors and instance metadata from their home servers
type RemoteFetcher interface {
	FetchActor(ctx context.Context, uri string) (domain.FollowTarget, error)
	FetchInstance(ctx context.Context, baseURL string) (*domain.Instance, error)
}

// ObjectResolver looks up actors in memory, then in the store, then remotely.
// A nil fetcher makes unknown ids ErrNotFound.
type ObjectResolver struct {
	store       Store
	fetcher     RemoteFetcher
	cache       *expirable.LRU[string, domain.FollowTarget]
	localDomain string
	log         *zap.Logger
}

func NewObjectResolver(store Store, fetcher RemoteFetcher, localDomain string, cacheSize int, logger *zap.Logger) *ObjectResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	return &ObjectResolver{
		store:       store,
		fetcher:     fetcher,
		cache:       expirable.NewLRU[string, domain.FollowTarget](cacheSize, nil, actorFreshness),
		localDomain: localDomain,
		log:         logger.Named("resolver"),
	}
}

// Invalidate drops an id from the memory cache after a local update
func (r *ObjectResolver) Invalidate(apId string) {
	r.cache.Remove(apId)
}

func (r *ObjectResolver) ResolvePerson(ctx context.Context, apId string) (*domain.Person, error) {
	target, err := r.ResolveFollowTarget(ctx, apId)
	if err != nil {
		return nil, err
	}
	var person *domain.Person
	err = target.Match(
		func(p *domain.Person) error { person = p; return nil },
		func(*domain.Community) error { return fmt.Errorf("%w: %s is a community, not a person", ErrNotFound, apId) },
		func(*domain.MultiCommunity) error { return fmt.Errorf("%w: %s is a multi-community, not a person", ErrNotFound, apId) },
	)
	return person, err
}

func (r *ObjectResolver) ResolveCommunity(ctx context.Context, apId string) (*domain.Community, error) {
	target, err := r.ResolveFollowTarget(ctx, apId)
	if err != nil {
		return nil, err
	}
	var community *domain.Community
	err = target.Match(
		func(*domain.Person) error { return fmt.Errorf("%w: %s is a person, not a community", ErrNotFound, apId) },
		func(c *domain.Community) error { community = c; return nil },
		func(*domain.MultiCommunity) error { return fmt.Errorf("%w: %s is a multi-community, not a community", ErrNotFound, apId) },
	)
	return community, err
}

// ResolveFollowTarget dereferences an actor id of any of the three kinds
func (r *ObjectResolver) ResolveFollowTarget(ctx context.Context, apId string) (domain.FollowTarget, error) {
	if target, ok := r.cache.Get(apId); ok {
		return target, nil
	}

	stored, fetchedAt, err := r.readStored(ctx, apId)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return domain.FollowTarget{}, err
	}
	// local actors change outside federation and are always read from the store
	if err == nil && stored.Local() {
		return stored, nil
	}
	if err == nil && time.Since(fetchedAt) < actorFreshness {
		r.cache.Add(apId, stored)
		return stored, nil
	}

	host, hostErr := hostOf(apId)
	if hostErr != nil {
		return domain.FollowTarget{}, hostErr
	}
	if r.fetcher == nil || host == r.localDomain {
		if !stored.IsZero() {
			return stored, nil
		}
		return domain.FollowTarget{}, fmt.Errorf("%w: %s", ErrNotFound, apId)
	}

	fetched, fetchErr := r.fetch(ctx, apId)
	if fetchErr != nil {
		if !stored.IsZero() {
			r.log.Warn("Refetch failed, using stale actor", zap.String("id", apId), zap.Error(fetchErr))
			return stored, nil
		}
		return domain.FollowTarget{}, fetchErr
	}
	r.cache.Add(apId, fetched)
	return fetched, nil
}

func (r *ObjectResolver) readStored(ctx context.Context, apId string) (domain.FollowTarget, time.Time, error) {
	if p, err := r.store.ReadPersonByApId(ctx, apId); err == nil {
		return domain.PersonTarget(p), p.LastFetchedAt, nil
	} else if !errors.Is(err, db.ErrNotFound) {
		return domain.FollowTarget{}, time.Time{}, err
	}
	if c, err := r.store.ReadCommunityByApId(ctx, apId); err == nil {
		return domain.CommunityTarget(c), c.LastFetchedAt, nil
	} else if !errors.Is(err, db.ErrNotFound) {
		return domain.FollowTarget{}, time.Time{}, err
	}
	if m, err := r.store.ReadMultiCommunityByApId(ctx, apId); err == nil {
		return domain.MultiCommunityTarget(m), m.LastFetchedAt, nil
	} else if !errors.Is(err, db.ErrNotFound) {
		return domain.FollowTarget{}, time.Time{}, err
	}
	return domain.FollowTarget{}, time.Time{}, ErrNotFound
}

// fetch loads a remote actor, stores it and refreshes its instance
func (r *ObjectResolver) fetch(ctx context.Context, apId string) (domain.FollowTarget, error) {
	r.log.Debug("Fetching remote actor", zap.String("id", apId))
	target, err := r.fetcher.FetchActor(ctx, apId)
	if err != nil {
		return domain.FollowTarget{}, fmt.Errorf("%w: fetching %s: %v", ErrNotFound, apId, err)
	}

	var stored domain.FollowTarget
	var instanceDomain string
	err = target.Match(
		func(p *domain.Person) error {
			saved, err := r.store.UpsertPerson(ctx, p)
			if err == nil {
				stored, instanceDomain = domain.PersonTarget(saved), saved.InstanceDomain
			}
			return err
		},
		func(c *domain.Community) error {
			saved, err := r.store.UpsertCommunity(ctx, c)
			if err == nil {
				stored, instanceDomain = domain.CommunityTarget(saved), saved.InstanceDomain
			}
			return err
		},
		func(m *domain.MultiCommunity) error {
			saved, err := r.store.UpsertMultiCommunity(ctx, m)
			if err == nil {
				stored, instanceDomain = domain.MultiCommunityTarget(saved), saved.InstanceDomain
			}
			return err
		},
	)
	if err != nil {
		return domain.FollowTarget{}, fmt.Errorf("failed to store remote actor: %w", err)
	}

	if _, err := r.store.ReadInstance(ctx, instanceDomain); errors.Is(err, db.ErrNotFound) {
		r.refreshInstance(ctx, apId, instanceDomain)
	}
	return stored, nil
}

// ResolveInstance returns the known software of a peer, fetching nodeinfo once
func (r *ObjectResolver) ResolveInstance(ctx context.Context, domainName string) (*domain.Instance, error) {
	inst, err := r.store.ReadInstance(ctx, domainName)
	if err == nil {
		return inst, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	if r.fetcher == nil || domainName == r.localDomain {
		return nil, fmt.Errorf("%w: instance %s", ErrNotFound, domainName)
	}
	if inst := r.refreshInstance(ctx, "https://"+domainName, domainName); inst != nil {
		return inst, nil
	}
	return nil, fmt.Errorf("%w: instance %s", ErrNotFound, domainName)
}

// refreshInstance is best effort; a peer without nodeinfo is stored with empty software
func (r *ObjectResolver) refreshInstance(ctx context.Context, anyURI, domainName string) *domain.Instance {
	u, err := url.Parse(anyURI)
	if err != nil {
		return nil
	}
	inst, err := r.fetcher.FetchInstance(ctx, u.Scheme+"://"+domainName)
	if err != nil {
		r.log.Debug("Nodeinfo unavailable", zap.String("domain", domainName), zap.Error(err))
		inst = &domain.Instance{Domain: domainName}
	}
	inst.Domain = domainName
	inst.UpdatedAt = time.Now()
	if err := r.store.UpsertInstance(ctx, inst); err != nil {
		r.log.Warn("Failed to store instance", zap.String("domain", domainName), zap.Error(err))
	}
	return inst
}

// hostOf returns the host of an id, or ErrMalformedURL
func hostOf(id string) (string, error) {
	u, err := url.Parse(id)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrMalformedURL, id)
	}
	return u.Host, nil
}
