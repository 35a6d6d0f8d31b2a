package activitypub

import (
	"testing"

	"github.com/deemkeen/threadfed/db"
	"github.com/deemkeen/threadfed/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyModAction(t *testing.T) {
	fx := newFixture(t)
	community := fx.community(t, "golang", testRemoteDomain, domain.VisibilityPublic)
	homeAdmin := fx.person(t, "admin", testRemoteDomain)
	outsider := fx.person(t, "eve", "other.example")
	mod := fx.person(t, "mod", "other.example")
	require.NoError(t, fx.db.AddModerator(fx.ctx, community.Id, mod.Id))
	localAdmin, err := fx.db.UpsertPerson(fx.ctx, &domain.Person{
		ApId: "https://local.example/u/root", Username: "root", InstanceDomain: testLocalDomain,
		InboxURL: "https://local.example/u/root/inbox", Local: true, Admin: true,
	})
	require.NoError(t, err)

	assert.NoError(t, fx.fed.verifyModAction(fx.ctx, homeAdmin.ApId, community), "same host is trusted")
	assert.NoError(t, fx.fed.verifyModAction(fx.ctx, mod.ApId, community))
	assert.NoError(t, fx.fed.verifyModAction(fx.ctx, localAdmin.ApId, community))
	assert.ErrorIs(t, fx.fed.verifyModAction(fx.ctx, outsider.ApId, community), ErrNotAModerator)
	assert.ErrorIs(t, fx.fed.verifyModAction(fx.ctx, "not a url", community), ErrMalformedURL)
}

func TestVerifyHelpers(t *testing.T) {
	assert.NoError(t, verifyURLsMatch("https://a.example/x", "https://a.example/x"))
	assert.ErrorIs(t, verifyURLsMatch("https://a.example/x", "https://a.example/y"), ErrURLVerification)

	assert.NoError(t, verifyAddressedTo(nil, "https://a.example/c/x"))
	assert.ErrorIs(t, verifyAddressedTo(URIList{"https://a.example/c/y"}, "https://a.example/c/x"), ErrURLVerification)

	assert.NoError(t, verifyDomainsMatch("https://a.example/u/1", "https://a.example/pm/2"))
	assert.ErrorIs(t, verifyDomainsMatch("https://a.example/u/1", "https://b.example/pm/2"), ErrDomainMismatch)
}

func newReport(actor *domain.Person, community *domain.Community, object string) *Report {
	return &Report{
		Base:    Base{ID: remoteActivityID("flag"), Type: TypeFlag, Actor: actor.ApId, To: URIList{community.ApId}},
		Object:  URIList{object},
		Summary: "spam",
	}
}

func TestReceiveReport(t *testing.T) {
	fx := newFixture(t)
	alice := fx.person(t, "alice", testRemoteDomain)
	community := fx.community(t, "golang", testLocalDomain, domain.VisibilityPublic)
	post := "https://local.example/post/1"

	assert.ErrorIs(t, fx.receive(t, newReport(alice, community, post)), ErrNotAPartOfCommunity)

	require.NoError(t, fx.receive(t, newFollow(alice.ApId, community.ApId)))
	require.NoError(t, fx.receive(t, newReport(alice, community, post)))

	reports, err := fx.db.ReadOpenReports(fx.ctx, community.Id)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, post, reports[0].ObjectApId)
	assert.Equal(t, "spam", reports[0].Reason)
	assert.Equal(t, alice.Id, reports[0].CreatorId)
}

func TestReceiveReportNeedsAcceptedFollow(t *testing.T) {
	fx := newFixture(t)
	fx.instance(t, testRemoteDomain, "lemmy", "0.19.0")
	alice := fx.person(t, "alice", testRemoteDomain)
	community := fx.community(t, "golang", testLocalDomain, domain.VisibilityPrivate)

	require.NoError(t, fx.receive(t, newFollow(alice.ApId, community.ApId)))
	err := fx.receive(t, newReport(alice, community, "https://local.example/post/1"))
	assert.ErrorIs(t, err, ErrNotAPartOfCommunity, "approval pending is not membership")
}

func TestReceiveCommunityBan(t *testing.T) {
	fx := newFixture(t)
	community := fx.community(t, "golang", testRemoteDomain, domain.VisibilityPublic)
	mod := fx.person(t, "mod", testRemoteDomain)
	bob := fx.person(t, "bob", testLocalDomain)
	_, err := fx.fed.FollowLocally(fx.ctx, bob, community.ApId)
	require.NoError(t, err)

	block := &Block{
		Base:   Base{ID: remoteActivityID("block"), Type: TypeBlock, Actor: mod.ApId},
		Object: bob.ApId,
		Target: community.ApId,
	}
	require.NoError(t, fx.receive(t, block))

	banned, err := fx.db.IsBannedFromCommunity(fx.ctx, community.Id, bob.Id)
	require.NoError(t, err)
	assert.True(t, banned)
	_, err = fx.db.ReadFollow(fx.ctx, bob.Id, community.Id, domain.TargetCommunity)
	assert.ErrorIs(t, err, db.ErrNotFound, "a ban ends the membership")

	undo := &Undo[Block]{
		Base:   Base{ID: remoteActivityID("undo"), Type: TypeUndo, Actor: mod.ApId},
		Object: *block,
	}
	require.NoError(t, fx.receive(t, undo))
	banned, err = fx.db.IsBannedFromCommunity(fx.ctx, community.Id, bob.Id)
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestReceiveCommunityBanFromNonModerator(t *testing.T) {
	fx := newFixture(t)
	community := fx.community(t, "golang", testRemoteDomain, domain.VisibilityPublic)
	eve := fx.person(t, "eve", "other.example")
	bob := fx.person(t, "bob", testLocalDomain)

	block := &Block{
		Base:   Base{ID: remoteActivityID("block"), Type: TypeBlock, Actor: eve.ApId},
		Object: bob.ApId,
		Target: community.ApId,
	}
	assert.ErrorIs(t, fx.receive(t, block), ErrNotAModerator)
}

func TestReceiveSiteBan(t *testing.T) {
	fx := newFixture(t)
	admin := fx.person(t, "admin", testRemoteDomain)
	alice := fx.person(t, "alice", testRemoteDomain)
	eve := fx.person(t, "eve", "other.example")
	site := "https://remote.example/"

	foreign := &Block{
		Base:   Base{ID: remoteActivityID("block"), Type: TypeBlock, Actor: eve.ApId},
		Object: alice.ApId,
		Target: site,
	}
	assert.ErrorIs(t, fx.receive(t, foreign), ErrDomainMismatch)

	outsider := &Block{
		Base:   Base{ID: remoteActivityID("block"), Type: TypeBlock, Actor: admin.ApId},
		Object: eve.ApId,
		Target: site,
	}
	assert.ErrorIs(t, fx.receive(t, outsider), ErrDomainMismatch)
	banned, err := fx.db.IsBannedFromInstance(fx.ctx, eve.Id, testRemoteDomain)
	require.NoError(t, err)
	assert.False(t, banned, "a site can only ban its own users")

	block := &Block{
		Base:   Base{ID: remoteActivityID("block"), Type: TypeBlock, Actor: admin.ApId},
		Object: alice.ApId,
		Target: site,
	}
	require.NoError(t, fx.receive(t, block))
	banned, err = fx.db.IsBannedFromInstance(fx.ctx, alice.Id, testRemoteDomain)
	require.NoError(t, err)
	assert.True(t, banned)

	// the banned person can no longer act here
	community := fx.community(t, "golang", testLocalDomain, domain.VisibilityPublic)
	assert.ErrorIs(t, fx.receive(t, newFollow(alice.ApId, community.ApId)), ErrBanned)
}

func TestReceiveGroupUpdate(t *testing.T) {
	fx := newFixture(t)
	community := fx.community(t, "golang", testRemoteDomain, domain.VisibilityPublic)
	mod := fx.person(t, "mod", testRemoteDomain)
	eve := fx.person(t, "eve", "other.example")

	update := func(actor string) *CreateOrUpdate[*Group] {
		return &CreateOrUpdate[*Group]{
			Base: Base{ID: remoteActivityID("update"), Type: TypeUpdate, Actor: actor},
			Object: &Group{
				Type:              TypeGroup,
				ID:                community.ApId,
				PreferredUsername: "golang",
				Name:              "Go Programming",
				Summary:           "<p>All things Go</p>",
				Source:            NewMarkdownSource("All things Go"),
				Inbox:             community.InboxURL,
			},
		}
	}

	assert.ErrorIs(t, fx.receive(t, update(eve.ApId)), ErrNotAModerator)
	require.NoError(t, fx.receive(t, update(mod.ApId)))

	stored, err := fx.fed.resolver.ResolveCommunity(fx.ctx, community.ApId)
	require.NoError(t, err)
	assert.Equal(t, "Go Programming", stored.Title)
	assert.Equal(t, "All things Go", stored.Description)
}

func TestReceiveGroupUpdateOfLocalCommunity(t *testing.T) {
	fx := newFixture(t)
	community := fx.community(t, "golang", testLocalDomain, domain.VisibilityPublic)
	mod := fx.person(t, "mod", testRemoteDomain)

	update := &CreateOrUpdate[*Group]{
		Base: Base{ID: remoteActivityID("update"), Type: TypeUpdate, Actor: mod.ApId},
		Object: &Group{
			Type: TypeGroup, ID: community.ApId, PreferredUsername: "golang", Inbox: community.InboxURL,
		},
	}
	assert.ErrorIs(t, fx.receive(t, update), ErrNotRemote)
}
