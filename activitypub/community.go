package activitypub

import (
	"context"
	"fmt"
	"net/url"

	"github.com/deemkeen/threadfed/domain"
	"go.uber.org/zap"
)

type updateGroup struct {
	CreateOrUpdate[Group]
}

func (a *updateGroup) verify(ctx context.Context, f *Federation) error {
	person, err := f.verifyPerson(ctx, a.Actor)
	if err != nil {
		return err
	}
	if err := f.verifyIsRemoteObject(a.Object.ID); err != nil {
		return err
	}
	community, err := f.resolver.ResolveCommunity(ctx, a.Object.ID)
	if err != nil {
		return storeErr(err)
	}
	if err := f.verifyPersonInCommunity(ctx, person, community); err != nil {
		return err
	}
	return f.verifyModAction(ctx, a.Actor, community)
}

func (a *updateGroup) receive(ctx context.Context, f *Federation) error {
	community, err := f.resolver.ResolveCommunity(ctx, a.Object.ID)
	if err != nil {
		return storeErr(err)
	}
	updated := *community
	updated.Name = a.Object.PreferredUsername
	updated.Title = a.Object.Name
	updated.Description = a.Object.Summary
	if a.Object.Source != nil && a.Object.Source.MediaType == MediaTypeMarkdown {
		updated.Description = a.Object.Source.Content
	}
	updated.InboxURL = a.Object.Inbox
	if _, err := f.store.UpsertCommunity(ctx, &updated); err != nil {
		return err
	}
	f.invalidate(community.ApId)
	f.log.Info("Community updated", zap.String("community", community.ApId), zap.String("actor", a.Actor))
	return nil
}

// invalidate drops a cached actor when the resolver keeps one
func (f *Federation) invalidate(apId string) {
	if inv, ok := f.resolver.(interface{ Invalidate(string) }); ok {
		inv.Invalidate(apId)
	}
}

// isSiteId reports whether id names a whole instance rather than an actor
func isSiteId(id string) bool {
	u, err := url.Parse(id)
	return err == nil && u.Host != "" && (u.Path == "" || u.Path == "/")
}

// verifyBlock authorizes a ban. Community bans need a moderator; site bans
// must come from the banning site and name one of its own users.
func (f *Federation) verifyBlock(ctx context.Context, b *Block) error {
	if _, err := f.verifyPerson(ctx, b.Actor); err != nil {
		return err
	}
	if _, err := f.resolver.ResolvePerson(ctx, b.Object); err != nil {
		return storeErr(err)
	}
	if isSiteId(b.Target) {
		if err := verifyDomainsMatch(b.Actor, b.Target); err != nil {
			return err
		}
		return verifyDomainsMatch(b.Target, b.Object)
	}
	community, err := f.resolver.ResolveCommunity(ctx, b.Target)
	if err != nil {
		return storeErr(err)
	}
	return f.verifyModAction(ctx, b.Actor, community)
}

func (f *Federation) applyBlock(ctx context.Context, b *Block, ban bool) error {
	person, err := f.resolver.ResolvePerson(ctx, b.Object)
	if err != nil {
		return storeErr(err)
	}
	if isSiteId(b.Target) {
		host, err := hostOf(b.Target)
		if err != nil {
			return err
		}
		f.log.Info("Site ban", zap.String("person", person.ApId), zap.String("site", host), zap.Bool("ban", ban))
		if ban {
			return f.store.BanFromInstance(ctx, person.Id, host, b.EndTime)
		}
		return f.store.UnbanFromInstance(ctx, person.Id, host)
	}

	community, err := f.resolver.ResolveCommunity(ctx, b.Target)
	if err != nil {
		return storeErr(err)
	}
	f.log.Info("Community ban", zap.String("person", person.ApId), zap.String("community", community.ApId), zap.Bool("ban", ban))
	if !ban {
		return f.store.UnbanFromCommunity(ctx, community.Id, person.Id)
	}
	if err := f.store.BanFromCommunity(ctx, community.Id, person.Id, b.EndTime); err != nil {
		return err
	}
	return f.store.DeleteFollow(ctx, person.Id, community.Id, domain.TargetCommunity)
}

func (a *Block) verify(ctx context.Context, f *Federation) error {
	return f.verifyBlock(ctx, a)
}

func (a *Block) receive(ctx context.Context, f *Federation) error {
	return f.applyBlock(ctx, a, true)
}

type undoBlock struct {
	Undo[Block]
}

func (a *undoBlock) verify(ctx context.Context, f *Federation) error {
	if err := verifyURLsMatch(a.Actor, a.Object.Actor); err != nil {
		return err
	}
	return f.verifyBlock(ctx, &a.Object)
}

func (a *undoBlock) receive(ctx context.Context, f *Federation) error {
	return f.applyBlock(ctx, &a.Object, false)
}

// reportedCommunity is the community a Flag is addressed to
func (a *Report) reportedCommunity(ctx context.Context, f *Federation) (*domain.Community, error) {
	if len(a.To) == 0 {
		return nil, fmt.Errorf("%w: report %s has no community", ErrSerialization, a.ID)
	}
	community, err := f.resolver.ResolveCommunity(ctx, a.To[0])
	if err != nil {
		return nil, storeErr(err)
	}
	return community, nil
}

func (a *Report) verify(ctx context.Context, f *Federation) error {
	person, err := f.verifyPerson(ctx, a.Actor)
	if err != nil {
		return err
	}
	community, err := a.reportedCommunity(ctx, f)
	if err != nil {
		return err
	}
	return f.verifyCommunityMember(ctx, person, community)
}

func (a *Report) receive(ctx context.Context, f *Federation) error {
	person, err := f.resolver.ResolvePerson(ctx, a.Actor)
	if err != nil {
		return storeErr(err)
	}
	community, err := a.reportedCommunity(ctx, f)
	if err != nil {
		return err
	}
	return f.store.CreateReport(ctx, &domain.Report{
		ApId:        a.ID,
		CreatorId:   person.Id,
		ObjectApId:  a.Object[0],
		CommunityId: community.Id,
		Reason:      a.Summary,
	})
}
