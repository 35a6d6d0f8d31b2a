package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/threadfed/domain"
	"github.com/deemkeen/threadfed/util"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// actorRef identifies who an outgoing activity is sent as
type actorRef struct {
	ApId string
	Type domain.ActorType
}

func personActor(p *domain.Person) actorRef {
	return actorRef{ApId: p.ApId, Type: domain.ActorTypePerson}
}

func communityActor(c *domain.Community) actorRef {
	return actorRef{ApId: c.ApId, Type: domain.ActorTypeCommunity}
}

// sendActivity persists one outbox record. Delivery happens elsewhere.
func (f *Federation) sendActivity(ctx context.Context, activity Activity, actor actorRef, targets domain.ActivitySendTargets, sensitive bool) error {
	if targets.IsEmpty() {
		return fmt.Errorf("activity %s has no send targets", activity.ActivityID())
	}
	data, err := withContext(activity)
	if err != nil {
		return err
	}
	f.log.Info("Saving outgoing activity",
		zap.String("id", activity.ActivityID()),
		zap.String("type", activity.ActivityType()),
		zap.String("actor", actor.ApId))

	return f.store.CreateSentActivity(ctx, &domain.SentActivity{
		ApId:        activity.ActivityID(),
		Data:        string(data),
		Sensitive:   sensitive,
		SendTargets: targets,
		ActorType:   actor.Type,
		ActorApId:   actor.ApId,
		PublishedAt: time.Now(),
	})
}

// sendInCommunity sends an activity happening inside a community. A local
// community relays it to its followers as an Announce; a remote one gets it
// in its inbox.
func (f *Federation) sendInCommunity(ctx context.Context, activity Activity, actor *domain.Person, community *domain.Community, extraInboxes ...string) error {
	sensitive := community.Visibility != domain.VisibilityPublic
	if !community.Local {
		targets := ToInbox(community.Inbox())
		targets.AddInboxes(extraInboxes...)
		return f.sendActivity(ctx, activity, personActor(actor), targets, sensitive)
	}

	announce, err := f.announce(activity, community)
	if err != nil {
		return err
	}
	targets := ToLocalCommunityFollowers(community.Id)
	targets.AddInboxes(extraInboxes...)
	return f.sendActivity(ctx, announce, communityActor(community), targets, sensitive)
}

func (f *Federation) announce(inner Activity, community *domain.Community) (*Announce, error) {
	id, err := NewWrappedActivityID(inner.ActivityType(), f.baseURL)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(inner)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return &Announce{
		Base: Base{
			ID:    id.String(),
			Type:  TypeAnnounce,
			Actor: community.ApId,
			To:    URIList{PublicAddress},
			Cc:    URIList{community.FollowersURL()},
		},
		Object: raw,
	}, nil
}

func (f *Federation) newBase(kind, actor string, to ...string) (Base, error) {
	id, err := f.activityID(kind)
	if err != nil {
		return Base{}, err
	}
	return Base{ID: id, Type: kind, Actor: actor, To: to}, nil
}

// maybeUndo returns inner when active, otherwise inner wrapped in an Undo
func maybeUndo[T Activity](f *Federation, inner T, active bool) (Activity, error) {
	if active {
		return inner, nil
	}
	base, err := f.newBase(TypeUndo, inner.ActorID(), inner.ActivityBase().To...)
	if err != nil {
		return nil, err
	}
	return &Undo[T]{Base: base, Object: inner}, nil
}

func postToWire(post *domain.Post, creator *domain.Person, community *domain.Community) *Page {
	published := post.PublishedAt
	return &Page{
		Type:         TypePage,
		ID:           post.ApId,
		AttributedTo: creator.ApId,
		To:           URIList{community.ApId, PublicAddress},
		Audience:     community.ApId,
		Name:         post.Name,
		Content:      util.MarkdownToHTML(post.Body),
		MediaType:    MediaTypeHTML,
		Source:       NewMarkdownSource(post.Body),
		URL:          post.URL,
		Published:    &published,
		Updated:      post.UpdatedAt,
	}
}

func commentToWire(comment *domain.Comment, creator *domain.Person, post *domain.Post, community *domain.Community) *Note {
	published := comment.PublishedAt
	return &Note{
		Type:         TypeNote,
		ID:           comment.ApId,
		AttributedTo: creator.ApId,
		To:           URIList{PublicAddress},
		Cc:           URIList{community.ApId},
		Audience:     community.ApId,
		InReplyTo:    post.ApId,
		Content:      util.MarkdownToHTML(comment.Content),
		MediaType:    MediaTypeHTML,
		Source:       NewMarkdownSource(comment.Content),
		Published:    &published,
		Updated:      comment.UpdatedAt,
	}
}

func groupToWire(community *domain.Community) *Group {
	return &Group{
		Type:              TypeGroup,
		ID:                community.ApId,
		PreferredUsername: community.Name,
		Name:              community.Title,
		Summary:           util.MarkdownToHTML(community.Description),
		Source:            NewMarkdownSource(community.Description),
		Inbox:             community.InboxURL,
		Followers:         community.FollowersURL(),
	}
}

func (f *Federation) sendCreateOrUpdatePost(ctx context.Context, post *domain.Post, kind string) error {
	creator, err := f.store.ReadPersonById(ctx, post.CreatorId)
	if err != nil {
		return fmt.Errorf("post creator: %w", storeErr(err))
	}
	community, err := f.store.ReadCommunityById(ctx, post.CommunityId)
	if err != nil {
		return fmt.Errorf("post community: %w", storeErr(err))
	}
	base, err := f.newBase(kind, creator.ApId, PublicAddress)
	if err != nil {
		return err
	}
	base.Cc = URIList{community.ApId}
	activity := &CreateOrUpdate[*Page]{Base: base, Object: postToWire(post, creator, community)}
	return f.sendInCommunity(ctx, activity, creator, community)
}

func (f *Federation) sendCreateOrUpdateComment(ctx context.Context, comment *domain.Comment, kind string) error {
	creator, err := f.store.ReadPersonById(ctx, comment.CreatorId)
	if err != nil {
		return fmt.Errorf("comment creator: %w", storeErr(err))
	}
	post, err := f.store.ReadPostById(ctx, comment.PostId)
	if err != nil {
		return fmt.Errorf("comment post: %w", storeErr(err))
	}
	community, err := f.store.ReadCommunityById(ctx, post.CommunityId)
	if err != nil {
		return fmt.Errorf("comment community: %w", storeErr(err))
	}
	postCreator, err := f.store.ReadPersonById(ctx, post.CreatorId)
	if err != nil {
		return fmt.Errorf("post creator: %w", storeErr(err))
	}

	base, err := f.newBase(kind, creator.ApId, PublicAddress)
	if err != nil {
		return err
	}
	base.Cc = URIList{community.ApId}
	activity := &CreateOrUpdate[*Note]{Base: base, Object: commentToWire(comment, creator, post, community)}

	var extra []string
	if !postCreator.Local {
		extra = append(extra, postCreator.Inbox())
	}
	return f.sendInCommunity(ctx, activity, creator, community, extra...)
}

// sendDeleteInCommunity sends Delete, or Undo(Delete) when restoring.
// A non-empty reason marks a mod removal.
func (f *Federation) sendDeleteInCommunity(ctx context.Context, actor *domain.Person, community *domain.Community, objectId string, reason string, deleted bool) error {
	base, err := f.newBase(TypeDelete, actor.ApId, PublicAddress)
	if err != nil {
		return err
	}
	base.Cc = URIList{community.ApId}
	activity, err := maybeUndo(f, &Delete{Base: base, Object: objectId, Summary: reason}, deleted)
	if err != nil {
		return err
	}
	return f.sendInCommunity(ctx, activity, actor, community)
}

func (f *Federation) sendLockPost(ctx context.Context, post *domain.Post, actor *domain.Person, locked bool, reason string) error {
	community, err := f.store.ReadCommunityById(ctx, post.CommunityId)
	if err != nil {
		return fmt.Errorf("post community: %w", storeErr(err))
	}
	base, err := f.newBase(TypeLock, actor.ApId, PublicAddress)
	if err != nil {
		return err
	}
	base.Cc = URIList{community.ApId}
	activity, err := maybeUndo(f, &LockPage{Base: base, Object: post.ApId, Summary: reason}, locked)
	if err != nil {
		return err
	}
	return f.sendInCommunity(ctx, activity, actor, community)
}

// sendCollectionChange adds or removes objectId in a community collection
func (f *Federation) sendCollectionChange(ctx context.Context, actor *domain.Person, community *domain.Community, objectId, collection string, added bool, extraInboxes ...string) error {
	kind := TypeRemove
	if added {
		kind = TypeAdd
	}
	base, err := f.newBase(kind, actor.ApId, PublicAddress)
	if err != nil {
		return err
	}
	base.Cc = URIList{community.ApId}
	activity := &CollectionChange{Base: base, Object: objectId, Target: community.ApId + "/" + collection}
	return f.sendInCommunity(ctx, activity, actor, community, extraInboxes...)
}

func (f *Federation) sendVote(ctx context.Context, v domain.LikePostOrComment) error {
	score := v.NewScore
	if score == 0 {
		score = v.PreviousScore
	}
	if score == 0 {
		return errors.New("vote retraction without a previous vote")
	}
	kind := TypeLike
	if score < 0 {
		kind = TypeDislike
	}
	base, err := f.newBase(kind, v.Actor.ApId, PublicAddress)
	if err != nil {
		return err
	}
	base.Cc = URIList{v.Community.ApId}
	activity, err := maybeUndo(f, &Vote{Base: base, Object: v.ObjectId}, v.NewScore != 0)
	if err != nil {
		return err
	}
	return f.sendInCommunity(ctx, activity, &v.Actor, &v.Community)
}

// sendFollow sends Follow, or Undo(Follow) when unfollowing
func (f *Federation) sendFollow(ctx context.Context, person *domain.Person, target domain.FollowTarget, follow bool) error {
	base, err := f.newBase(TypeFollow, person.ApId, target.ApId())
	if err != nil {
		return err
	}
	activity, err := maybeUndo(f, &Follow{Base: base, Object: target.ApId()}, follow)
	if err != nil {
		return err
	}
	return f.sendActivity(ctx, activity, personActor(person), ToInbox(target.Inbox()), true)
}

func (f *Federation) sendUpdateCommunity(ctx context.Context, actor *domain.Person, community *domain.Community) error {
	base, err := f.newBase(TypeUpdate, actor.ApId, PublicAddress)
	if err != nil {
		return err
	}
	base.Cc = URIList{community.ApId}
	activity := &CreateOrUpdate[*Group]{Base: base, Object: groupToWire(community)}
	return f.sendInCommunity(ctx, activity, actor, community)
}

func (f *Federation) sendBanFromCommunity(ctx context.Context, ban domain.BanFromCommunity) error {
	community, err := f.store.ReadCommunityById(ctx, ban.CommunityId)
	if err != nil {
		return fmt.Errorf("ban community: %w", storeErr(err))
	}
	base, err := f.newBase(TypeBlock, ban.Moderator.ApId, PublicAddress)
	if err != nil {
		return err
	}
	base.Cc = URIList{community.ApId}
	block := &Block{
		Base:       base,
		Object:     ban.Target.ApId,
		Target:     community.ApId,
		Summary:    ban.Reason,
		RemoveData: ban.RemoveData,
		EndTime:    ban.ExpiresAt,
	}
	activity, err := maybeUndo(f, block, ban.Ban)
	if err != nil {
		return err
	}
	var extra []string
	if !ban.Target.Local {
		extra = append(extra, ban.Target.Inbox())
	}
	return f.sendInCommunity(ctx, activity, &ban.Moderator, community, extra...)
}

func (f *Federation) sendBanFromSite(ctx context.Context, ban domain.BanFromSite) error {
	base, err := f.newBase(TypeBlock, ban.Moderator.ApId, PublicAddress)
	if err != nil {
		return err
	}
	block := &Block{
		Base:       base,
		Object:     ban.BannedUser.ApId,
		Target:     f.baseURL + "/",
		Summary:    ban.Reason,
		RemoveData: ban.RemoveData,
		EndTime:    ban.ExpiresAt,
	}
	activity, err := maybeUndo(f, block, ban.Ban)
	if err != nil {
		return err
	}
	return f.sendActivity(ctx, activity, personActor(&ban.Moderator), ToAllInstances(), false)
}

func (f *Federation) sendDeleteUser(ctx context.Context, person *domain.Person, removeData bool) error {
	base, err := f.newBase(TypeDelete, person.ApId, PublicAddress)
	if err != nil {
		return err
	}
	activity := &Delete{Base: base, Object: person.ApId, RemoveData: removeData}
	return f.sendActivity(ctx, activity, personActor(person), ToAllInstances(), false)
}

func (f *Federation) sendReport(ctx context.Context, r domain.CreateReport) error {
	community, err := f.store.ReadCommunityById(ctx, r.CommunityId)
	if err != nil {
		return fmt.Errorf("report community: %w", storeErr(err))
	}
	base, err := f.newBase(TypeFlag, r.Actor.ApId, community.ApId)
	if err != nil {
		return err
	}
	activity := &Report{Base: base, Object: URIList{r.ObjectId}, Summary: r.Reason}
	return f.sendActivity(ctx, activity, personActor(&r.Actor), ToInbox(community.Inbox()), false)
}

func (f *Federation) sendResolveReport(ctx context.Context, r domain.SendResolveReport) error {
	community, err := f.store.ReadCommunityById(ctx, r.CommunityId)
	if err != nil {
		return fmt.Errorf("report community: %w", storeErr(err))
	}
	reportBase, err := f.newBase(TypeFlag, r.ReportCreator.ApId, community.ApId)
	if err != nil {
		return err
	}
	base, err := f.newBase(TypeResolve, r.Actor.ApId, community.ApId)
	if err != nil {
		return err
	}
	activity := &ResolveReport{Base: base, Object: Report{Base: reportBase, Object: URIList{r.ObjectId}}}
	targets := ToInbox(community.Inbox())
	if !r.ReportCreator.Local {
		targets.AddInbox(r.ReportCreator.Inbox())
	}
	return f.sendActivity(ctx, activity, personActor(&r.Actor), targets, false)
}

// sendFollowResponse answers a stored community follow with Accept or Reject
// and applies the decision to the relationship.
func (f *Federation) sendFollowResponse(ctx context.Context, communityId, personId uuid.UUID, accept bool) error {
	community, err := f.store.ReadCommunityById(ctx, communityId)
	if err != nil {
		return fmt.Errorf("follow community: %w", storeErr(err))
	}
	person, err := f.store.ReadPersonById(ctx, personId)
	if err != nil {
		return fmt.Errorf("follower: %w", storeErr(err))
	}
	follow, err := f.store.ReadFollow(ctx, person.Id, community.Id, domain.TargetCommunity)
	if err != nil {
		return fmt.Errorf("follow relationship: %w", storeErr(err))
	}

	followID := follow.URI
	if followID == "" {
		if followID, err = f.activityID(TypeFollow); err != nil {
			return err
		}
	}
	original := Follow{
		Base:   Base{ID: followID, Type: TypeFollow, Actor: person.ApId, To: URIList{community.ApId}},
		Object: community.ApId,
	}
	kind := TypeReject
	if accept {
		kind = TypeAccept
	}
	base, err := f.newBase(kind, community.ApId, person.ApId)
	if err != nil {
		return err
	}
	activity := &FollowResponse{Base: base, Object: original}
	if err := f.sendActivity(ctx, activity, communityActor(community), ToInbox(person.Inbox()), true); err != nil {
		return err
	}
	if accept {
		return storeErr(f.store.AcceptFollow(ctx, person.Id, community.Id, domain.TargetCommunity))
	}
	return f.store.DeleteFollow(ctx, person.Id, community.Id, domain.TargetCommunity)
}

func (f *Federation) sendUpdateMultiCommunity(ctx context.Context, multi *domain.MultiCommunity, actor *domain.Person) error {
	base, err := f.newBase(TypeUpdate, actor.ApId, PublicAddress)
	if err != nil {
		return err
	}
	activity := &CreateOrUpdate[*Feed]{Base: base, Object: &Feed{
		Type:         TypeFeed,
		ID:           multi.ApId,
		Name:         multi.Title,
		AttributedTo: actor.ApId,
		Inbox:        multi.InboxURL,
	}}
	return f.sendActivity(ctx, activity, personActor(actor), ToAllInstances(), false)
}
