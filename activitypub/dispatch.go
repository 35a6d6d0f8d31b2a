package activitypub

import (
	"context"
	"fmt"
	"sync"

	"github.com/deemkeen/threadfed/domain"
	"github.com/deemkeen/threadfed/util"
	"go.uber.org/zap"
)

// Dispatcher turns one domain event into one persisted outgoing activity
type Dispatcher interface {
	Match(ctx context.Context, data domain.SendActivityData) error
}

// ActivityChannel is the bounded queue between event producers and the
// single dispatch consumer. When full, Submit either blocks or discards the
// oldest queued event, depending on the policy.
type ActivityChannel struct {
	mu     sync.RWMutex
	ch     chan domain.SendActivityData
	closed bool
	policy string
	log    *zap.Logger
}

func NewActivityChannel(size int, policy string, logger *zap.Logger) *ActivityChannel {
	if size <= 0 {
		size = 1000
	}
	if policy == "" {
		policy = util.QueuePolicyBlock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityChannel{
		ch:     make(chan domain.SendActivityData, size),
		policy: policy,
		log:    logger.Named("dispatch"),
	}
}

// Submit enqueues an event. It fails with ErrQueueClosed after Close.
func (q *ActivityChannel) Submit(ctx context.Context, data domain.SendActivityData) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	if q.policy == util.QueuePolicyDropOldest {
		for {
			select {
			case q.ch <- data:
				return nil
			default:
			}
			select {
			case dropped := <-q.ch:
				q.log.Warn("Queue full, dropping oldest event", zap.String("event", eventName(dropped)))
			default:
			}
		}
	}

	select {
	case q.ch <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events. Queued events are still drained by Run.
func (q *ActivityChannel) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Len is the number of queued events
func (q *ActivityChannel) Len() int {
	return len(q.ch)
}

// Run dispatches events one at a time until the queue is closed and empty.
// A failing or panicking event is logged and skipped.
func (q *ActivityChannel) Run(ctx context.Context, d Dispatcher) {
	q.log.Info("Dispatch loop started")
	for data := range q.ch {
		q.dispatch(ctx, d, data)
	}
	q.log.Info("Dispatch loop stopped")
}

func (q *ActivityChannel) dispatch(ctx context.Context, d Dispatcher, data domain.SendActivityData) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("Dispatch panicked", zap.String("event", eventName(data)), zap.Any("panic", r))
		}
	}()
	if err := d.Match(ctx, data); err != nil {
		q.log.Warn("Failed to send activity", zap.String("event", eventName(data)), zap.Error(err))
	}
}

func eventName(data domain.SendActivityData) string {
	return fmt.Sprintf("%T", data)
}

// Router maps every domain event onto its outgoing activity
type Router struct {
	fed *Federation
}

func NewRouter(fed *Federation) *Router {
	return &Router{fed: fed}
}

func (r *Router) Match(ctx context.Context, data domain.SendActivityData) error {
	f := r.fed
	switch ev := data.(type) {
	case domain.CreatePost:
		return f.sendCreateOrUpdatePost(ctx, &ev.Post, TypeCreate)
	case domain.UpdatePost:
		return f.sendCreateOrUpdatePost(ctx, &ev.Post, TypeUpdate)
	case domain.DeletePost:
		community, err := f.postCommunity(ctx, &ev.Post)
		if err != nil {
			return err
		}
		return f.sendDeleteInCommunity(ctx, &ev.Actor, community, ev.Post.ApId, "", ev.Deleted)
	case domain.RemovePost:
		community, err := f.postCommunity(ctx, &ev.Post)
		if err != nil {
			return err
		}
		return f.sendDeleteInCommunity(ctx, &ev.Moderator, community, ev.Post.ApId, ev.Reason, ev.Removed)
	case domain.LockPost:
		return f.sendLockPost(ctx, &ev.Post, &ev.Actor, ev.Locked, ev.Reason)
	case domain.FeaturePost:
		community, err := f.postCommunity(ctx, &ev.Post)
		if err != nil {
			return err
		}
		return f.sendCollectionChange(ctx, &ev.Actor, community, ev.Post.ApId, "featured", ev.Featured)
	case domain.CreateComment:
		return f.sendCreateOrUpdateComment(ctx, &ev.Comment, TypeCreate)
	case domain.UpdateComment:
		return f.sendCreateOrUpdateComment(ctx, &ev.Comment, TypeUpdate)
	case domain.DeleteComment:
		return f.sendDeleteInCommunity(ctx, &ev.Actor, &ev.Community, ev.Comment.ApId, "", ev.Comment.Deleted)
	case domain.RemoveComment:
		return f.sendDeleteInCommunity(ctx, &ev.Moderator, &ev.Community, ev.Comment.ApId, ev.Reason, ev.Comment.Removed)
	case domain.LikePostOrComment:
		return f.sendVote(ctx, ev)
	case domain.FollowCommunity:
		return f.sendFollowChange(ctx, &ev.Person, domain.CommunityTarget(&ev.Community), ev.Follow)
	case domain.FollowMultiCommunity:
		return f.sendFollowChange(ctx, &ev.Person, domain.MultiCommunityTarget(&ev.Multi), ev.Follow)
	case domain.UpdateCommunity:
		return f.sendUpdateCommunity(ctx, &ev.Actor, &ev.Community)
	case domain.DeleteCommunity:
		return f.sendDeleteInCommunity(ctx, &ev.Actor, &ev.Community, ev.Community.ApId, "", ev.Deleted)
	case domain.RemoveCommunity:
		return f.sendDeleteInCommunity(ctx, &ev.Moderator, &ev.Community, ev.Community.ApId, ev.Reason, ev.Removed)
	case domain.AddModToCommunity:
		community, err := f.store.ReadCommunityById(ctx, ev.CommunityId)
		if err != nil {
			return fmt.Errorf("mod community: %w", storeErr(err))
		}
		var extra []string
		if !ev.Target.Local {
			extra = append(extra, ev.Target.Inbox())
		}
		return f.sendCollectionChange(ctx, &ev.Moderator, community, ev.Target.ApId, "moderators", ev.Added, extra...)
	case domain.BanFromCommunity:
		return f.sendBanFromCommunity(ctx, ev)
	case domain.BanFromSite:
		return f.sendBanFromSite(ctx, ev)
	case domain.CreatePrivateMessage:
		return f.sendCreateOrUpdatePrivateMessage(ctx, &ev.PrivateMessage, TypeCreate)
	case domain.UpdatePrivateMessage:
		return f.sendCreateOrUpdatePrivateMessage(ctx, &ev.PrivateMessage, TypeUpdate)
	case domain.DeletePrivateMessage:
		return f.sendDeletePrivateMessage(ctx, &ev.Actor, &ev.PrivateMessage, ev.Deleted)
	case domain.DeleteUser:
		return f.sendDeleteUser(ctx, &ev.Person, ev.RemoveData)
	case domain.CreateReport:
		return f.sendReport(ctx, ev)
	case domain.SendResolveReport:
		return f.sendResolveReport(ctx, ev)
	case domain.AcceptFollower:
		return f.sendFollowResponse(ctx, ev.CommunityId, ev.PersonId, true)
	case domain.RejectFollower:
		return f.sendFollowResponse(ctx, ev.CommunityId, ev.PersonId, false)
	case domain.UpdateMultiCommunity:
		return f.sendUpdateMultiCommunity(ctx, &ev.Multi, &ev.Actor)
	default:
		return fmt.Errorf("unhandled event %s", eventName(data))
	}
}

func (f *Federation) postCommunity(ctx context.Context, post *domain.Post) (*domain.Community, error) {
	community, err := f.store.ReadCommunityById(ctx, post.CommunityId)
	if err != nil {
		return nil, fmt.Errorf("post community: %w", storeErr(err))
	}
	return community, nil
}

// submit hands an event to the queue, or dispatches it inline without one
func (f *Federation) submit(ctx context.Context, data domain.SendActivityData) error {
	if f.queue != nil {
		return f.queue.Submit(ctx, data)
	}
	return NewRouter(f).Match(ctx, data)
}
