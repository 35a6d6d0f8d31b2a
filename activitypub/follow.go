package activitypub

import (
	"context"
	"errors"
	"fmt"

	"github.com/deemkeen/threadfed/domain"
	"go.uber.org/zap"
)

func (a *Follow) verify(ctx context.Context, f *Federation) error {
	follower, err := f.verifyPerson(ctx, a.Actor)
	if err != nil {
		return err
	}
	if err := verifyAddressedTo(a.To, a.Object); err != nil {
		return err
	}
	target, err := f.resolver.ResolveFollowTarget(ctx, a.Object)
	if err != nil {
		return storeErr(err)
	}
	return target.Match(
		func(*domain.Person) error { return nil },
		// a follow is the membership request itself, so only bans apply
		func(c *domain.Community) error { return f.verifyPersonInCommunity(ctx, follower, c) },
		func(*domain.MultiCommunity) error { return nil },
	)
}

// receive stores the relationship and answers with Accept when it is accepted
func (a *Follow) receive(ctx context.Context, f *Federation) error {
	follower, err := f.resolver.ResolvePerson(ctx, a.Actor)
	if err != nil {
		return storeErr(err)
	}
	target, err := f.resolver.ResolveFollowTarget(ctx, a.Object)
	if err != nil {
		return storeErr(err)
	}

	state := domain.FollowAccepted
	err = target.Match(
		func(*domain.Person) error { return nil },
		func(c *domain.Community) error {
			software, err := f.instanceSoftware(ctx, follower.InstanceDomain)
			if err != nil {
				return err
			}
			if state, err = FollowStateFor(c.Visibility, software); err != nil {
				return fmt.Errorf("follow of %s: %w", c.ApId, err)
			}
			return nil
		},
		func(*domain.MultiCommunity) error { return nil },
	)
	if err != nil {
		return err
	}

	stored, err := f.store.UpsertFollow(ctx, &domain.Follow{
		FollowerId: follower.Id,
		TargetId:   target.Id(),
		TargetKind: target.Kind(),
		State:      state,
		URI:        a.ID,
	})
	if err != nil {
		return err
	}
	if stored.State != domain.FollowAccepted {
		f.log.Info("Follow awaits approval",
			zap.String("follower", follower.ApId), zap.String("target", target.ApId()))
		return nil
	}
	return f.sendAccept(ctx, a, follower, target)
}

func (f *Federation) sendAccept(ctx context.Context, follow *Follow, follower *domain.Person, target domain.FollowTarget) error {
	base, err := f.newBase(TypeAccept, target.ApId(), follower.ApId)
	if err != nil {
		return err
	}
	activity := &FollowResponse{Base: base, Object: *follow}
	actor := actorRef{ApId: target.ApId(), Type: actorTypeOf(target)}
	return f.sendActivity(ctx, activity, actor, ToInbox(follower.Inbox()), true)
}

func actorTypeOf(target domain.FollowTarget) domain.ActorType {
	switch target.Kind() {
	case domain.TargetCommunity:
		return domain.ActorTypeCommunity
	case domain.TargetMultiCommunity:
		return domain.ActorTypeMultiCommunity
	default:
		return domain.ActorTypePerson
	}
}

// instanceSoftware returns the advertised software of a peer, or "" when unknown
func (f *Federation) instanceSoftware(ctx context.Context, domainName string) (string, error) {
	inst, err := f.resolver.ResolveInstance(ctx, domainName)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return inst.Software, nil
}

// verify checks an Accept or Reject. The actor answering must be the
// followed object, and the follower must be known here.
func (a *FollowResponse) verify(ctx context.Context, f *Federation) error {
	if _, err := f.verifyActor(ctx, a.Actor); err != nil {
		return err
	}
	if err := verifyURLsMatch(a.Actor, a.Object.Object); err != nil {
		return err
	}
	if _, err := f.resolver.ResolvePerson(ctx, a.Object.Actor); err != nil {
		return storeErr(err)
	}
	return nil
}

func (a *FollowResponse) receive(ctx context.Context, f *Federation) error {
	follower, err := f.resolver.ResolvePerson(ctx, a.Object.Actor)
	if err != nil {
		return storeErr(err)
	}
	target, err := f.resolver.ResolveFollowTarget(ctx, a.Actor)
	if err != nil {
		return storeErr(err)
	}

	if a.Type == TypeReject {
		f.log.Info("Follow rejected", zap.String("follower", follower.ApId), zap.String("target", target.ApId()))
		return f.store.DeleteFollow(ctx, follower.Id, target.Id(), target.Kind())
	}
	// an Accept racing ahead of its Follow is dangling; the sender redelivers
	if err := f.store.AcceptFollow(ctx, follower.Id, target.Id(), target.Kind()); err != nil {
		return fmt.Errorf("accept of %s: %w", a.Object.ID, storeErr(err))
	}
	return nil
}

type undoFollow struct {
	Undo[Follow]
}

func (a *undoFollow) verify(ctx context.Context, f *Federation) error {
	if _, err := f.verifyPerson(ctx, a.Actor); err != nil {
		return err
	}
	if err := verifyURLsMatch(a.Actor, a.Object.Actor); err != nil {
		return err
	}
	return verifyAddressedTo(a.Object.To, a.Object.Object)
}

func (a *undoFollow) receive(ctx context.Context, f *Federation) error {
	follower, err := f.resolver.ResolvePerson(ctx, a.Actor)
	if err != nil {
		return storeErr(err)
	}
	target, err := f.resolver.ResolveFollowTarget(ctx, a.Object.Object)
	if err != nil {
		return storeErr(err)
	}
	return f.store.DeleteFollow(ctx, follower.Id, target.Id(), target.Kind())
}

// FollowLocally records a follow made by a local person. Remote targets start
// Pending until their Accept arrives; the Follow itself is sent through the
// queue.
func (f *Federation) FollowLocally(ctx context.Context, person *domain.Person, targetApId string) (*domain.Follow, error) {
	target, err := f.resolver.ResolveFollowTarget(ctx, targetApId)
	if err != nil {
		return nil, storeErr(err)
	}

	state := domain.FollowPending
	if target.Local() {
		state = domain.FollowAccepted
	}
	var event domain.SendActivityData
	err = target.Match(
		func(*domain.Person) error { return nil },
		func(c *domain.Community) error {
			if c.Local {
				state = localFollowState(c.Visibility)
			} else if !c.Visibility.CanFederate() {
				return fmt.Errorf("%w: %s", ErrNotFound, c.ApId)
			}
			event = domain.FollowCommunity{Community: *c, Person: *person, Follow: true}
			return nil
		},
		func(m *domain.MultiCommunity) error {
			event = domain.FollowMultiCommunity{Multi: *m, Person: *person, Follow: true}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	stored, err := f.store.UpsertFollow(ctx, &domain.Follow{
		FollowerId: person.Id,
		TargetId:   target.Id(),
		TargetKind: target.Kind(),
		State:      state,
	})
	if err != nil {
		return nil, err
	}
	if target.Local() {
		return stored, nil
	}
	if event == nil {
		return stored, f.sendFollow(ctx, person, target, true)
	}
	return stored, f.submit(ctx, event)
}

// localFollowState is the state of a local follow of a local community
func localFollowState(v domain.CommunityVisibility) domain.FollowState {
	switch v {
	case domain.VisibilityPrivate, domain.VisibilityLocalOnlyPrivate:
		return domain.FollowApprovalRequired
	default:
		return domain.FollowAccepted
	}
}

// UnfollowLocally removes a local person's follow. A remote relationship is
// flagged pending undo until the Undo is in the outbox.
func (f *Federation) UnfollowLocally(ctx context.Context, person *domain.Person, targetApId string) error {
	target, err := f.resolver.ResolveFollowTarget(ctx, targetApId)
	if err != nil {
		return storeErr(err)
	}
	if target.Local() {
		return f.store.DeleteFollow(ctx, person.Id, target.Id(), target.Kind())
	}

	err = storeErr(f.store.MarkFollowPendingUndo(ctx, person.Id, target.Id(), target.Kind()))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var event domain.SendActivityData
	_ = target.Match(
		func(*domain.Person) error { return nil },
		func(c *domain.Community) error {
			event = domain.FollowCommunity{Community: *c, Person: *person, Follow: false}
			return nil
		},
		func(m *domain.MultiCommunity) error {
			event = domain.FollowMultiCommunity{Multi: *m, Person: *person, Follow: false}
			return nil
		},
	)
	if event == nil {
		return f.sendFollowChange(ctx, person, target, false)
	}
	return f.submit(ctx, event)
}

// sendFollowChange persists Follow or Undo(Follow). An undone relationship
// is removed once its Undo is stored.
func (f *Federation) sendFollowChange(ctx context.Context, person *domain.Person, target domain.FollowTarget, follow bool) error {
	if err := f.sendFollow(ctx, person, target, follow); err != nil {
		return err
	}
	if follow {
		return nil
	}
	return f.store.DeleteFollow(ctx, person.Id, target.Id(), target.Kind())
}
