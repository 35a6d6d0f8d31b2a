package activitypub

import (
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/threadfed/db"
	"github.com/deemkeen/threadfed/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFollowPersonIsAcceptedAndAnswered(t *testing.T) {
	fx := newFixture(t)
	alice := fx.person(t, "alice", testRemoteDomain)
	bob := fx.person(t, "bob", testLocalDomain)

	follow := newFollow(alice.ApId, bob.ApId)
	require.NoError(t, fx.receive(t, follow))

	stored, err := fx.db.ReadFollow(fx.ctx, alice.Id, bob.Id, domain.TargetPerson)
	require.NoError(t, err)
	assert.Equal(t, domain.FollowAccepted, stored.State)
	assert.Equal(t, follow.ID, stored.URI)

	sent := fx.sent(t)
	require.Len(t, sent, 1)
	assert.Equal(t, bob.ApId, sent[0].ActorApId)
	assert.Equal(t, domain.ActorTypePerson, sent[0].ActorType)
	assert.True(t, sent[0].Sensitive)
	assert.Equal(t, []string{alice.InboxURL}, sent[0].SendTargets.InboxList())

	accept := payload(t, sent[0])
	assert.Equal(t, TypeAccept, accept["type"])
	assert.Equal(t, follow.ID, accept["object"].(map[string]any)["id"])
}

func TestFollowCommunityByVisibility(t *testing.T) {
	tests := []struct {
		name       string
		visibility domain.CommunityVisibility
		software   string
		wantState  domain.FollowState
		wantErr    error
		wantAccept bool
	}{
		{name: "public", visibility: domain.VisibilityPublic, software: "lemmy", wantState: domain.FollowAccepted, wantAccept: true},
		{name: "unlisted", visibility: domain.VisibilityUnlisted, software: "lemmy", wantState: domain.FollowAccepted, wantAccept: true},
		{name: "private", visibility: domain.VisibilityPrivate, software: "lemmy", wantState: domain.FollowApprovalRequired},
		{name: "private from mbin", visibility: domain.VisibilityPrivate, software: "mbin", wantErr: ErrPlatformLackingPrivateCommunitySupport},
		{name: "local only public", visibility: domain.VisibilityLocalOnlyPublic, software: "lemmy", wantErr: ErrNotFound},
		{name: "local only private", visibility: domain.VisibilityLocalOnlyPrivate, software: "lemmy", wantErr: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			fx.instance(t, testRemoteDomain, tt.software, "0.19.3")
			alice := fx.person(t, "alice", testRemoteDomain)
			community := fx.community(t, "golang", testLocalDomain, tt.visibility)

			err := fx.receive(t, newFollow(alice.ApId, community.ApId))
			stored, readErr := fx.db.ReadFollow(fx.ctx, alice.Id, community.Id, domain.TargetCommunity)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, readErr, db.ErrNotFound)
				assert.Empty(t, fx.sent(t))
				return
			}
			require.NoError(t, err)
			require.NoError(t, readErr)
			assert.Equal(t, tt.wantState, stored.State)
			if tt.wantAccept {
				sent := fx.sent(t)
				require.Len(t, sent, 1)
				assert.Equal(t, domain.ActorTypeCommunity, sent[0].ActorType)
				assert.Equal(t, community.ApId, sent[0].ActorApId)
			} else {
				assert.Empty(t, fx.sent(t))
			}
		})
	}
}

func TestFollowSeesVisibilityChange(t *testing.T) {
	fx := newFixture(t)
	alice := fx.person(t, "alice", testRemoteDomain)
	carol := fx.person(t, "carol", testRemoteDomain)
	community := fx.community(t, "golang", testLocalDomain, domain.VisibilityPublic)

	require.NoError(t, fx.receive(t, newFollow(alice.ApId, community.ApId)))
	require.Len(t, fx.sent(t), 1)

	community.Visibility = domain.VisibilityLocalOnlyPrivate
	_, err := fx.db.UpsertCommunity(fx.ctx, community)
	require.NoError(t, err)

	assert.ErrorIs(t, fx.receive(t, newFollow(carol.ApId, community.ApId)), ErrNotFound)
	_, err = fx.db.ReadFollow(fx.ctx, carol.Id, community.Id, domain.TargetCommunity)
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.Len(t, fx.sent(t), 1, "no Accept for a local-only community")
}

func TestFollowMultiCommunityIsAccepted(t *testing.T) {
	fx := newFixture(t)
	alice := fx.person(t, "alice", testRemoteDomain)
	multi, err := fx.db.UpsertMultiCommunity(fx.ctx, &domain.MultiCommunity{
		ApId:           "https://local.example/m/systems",
		Name:           "systems",
		InstanceDomain: testLocalDomain,
		InboxURL:       "https://local.example/m/systems/inbox",
		Local:          true,
	})
	require.NoError(t, err)

	require.NoError(t, fx.receive(t, newFollow(alice.ApId, multi.ApId)))

	stored, err := fx.db.ReadFollow(fx.ctx, alice.Id, multi.Id, domain.TargetMultiCommunity)
	require.NoError(t, err)
	assert.Equal(t, domain.FollowAccepted, stored.State)
	sent := fx.sent(t)
	require.Len(t, sent, 1)
	assert.Equal(t, domain.ActorTypeMultiCommunity, sent[0].ActorType)
}

func TestFollowReplayIsNoop(t *testing.T) {
	fx := newFixture(t)
	alice := fx.person(t, "alice", testRemoteDomain)
	community := fx.community(t, "golang", testLocalDomain, domain.VisibilityPublic)

	follow := newFollow(alice.ApId, community.ApId)
	require.NoError(t, fx.receive(t, follow))
	require.NoError(t, fx.receive(t, follow))

	follows, err := fx.db.ReadFollowsByTarget(fx.ctx, community.Id, domain.TargetCommunity)
	require.NoError(t, err)
	assert.Len(t, follows, 1)
	assert.Len(t, fx.sent(t), 1, "replayed follow must not send a second Accept")
}

func TestFollowAddressingMismatch(t *testing.T) {
	fx := newFixture(t)
	alice := fx.person(t, "alice", testRemoteDomain)
	community := fx.community(t, "golang", testLocalDomain, domain.VisibilityPublic)
	other := fx.community(t, "rust", testLocalDomain, domain.VisibilityPublic)

	follow := newFollow(alice.ApId, community.ApId)
	follow.To = URIList{other.ApId}

	err := fx.receive(t, follow)
	assert.ErrorIs(t, err, ErrURLVerification)
	_, err = fx.db.ReadFollow(fx.ctx, alice.Id, community.Id, domain.TargetCommunity)
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.Empty(t, fx.sent(t))
}

func TestFollowFromBannedActor(t *testing.T) {
	fx := newFixture(t)
	alice := fx.person(t, "alice", testRemoteDomain)
	community := fx.community(t, "golang", testLocalDomain, domain.VisibilityPublic)

	t.Run("banned on this instance", func(t *testing.T) {
		require.NoError(t, fx.db.BanFromInstance(fx.ctx, alice.Id, testLocalDomain, nil))
		defer fx.db.UnbanFromInstance(fx.ctx, alice.Id, testLocalDomain)
		assert.ErrorIs(t, fx.receive(t, newFollow(alice.ApId, community.ApId)), ErrBanned)
	})

	t.Run("banned on home instance", func(t *testing.T) {
		require.NoError(t, fx.db.BanFromInstance(fx.ctx, alice.Id, testRemoteDomain, nil))
		defer fx.db.UnbanFromInstance(fx.ctx, alice.Id, testRemoteDomain)
		assert.ErrorIs(t, fx.receive(t, newFollow(alice.ApId, community.ApId)), ErrBanned)
	})

	t.Run("banned from community", func(t *testing.T) {
		require.NoError(t, fx.db.BanFromCommunity(fx.ctx, community.Id, alice.Id, nil))
		defer fx.db.UnbanFromCommunity(fx.ctx, community.Id, alice.Id)
		assert.ErrorIs(t, fx.receive(t, newFollow(alice.ApId, community.ApId)), ErrBanned)
	})

	t.Run("ban expired", func(t *testing.T) {
		past := time.Now().Add(-time.Hour)
		require.NoError(t, fx.db.BanFromInstance(fx.ctx, alice.Id, testLocalDomain, &past))
		assert.NoError(t, fx.receive(t, newFollow(alice.ApId, community.ApId)))
	})
}

func TestFollowUnknownActor(t *testing.T) {
	fx := newFixture(t)
	community := fx.community(t, "golang", testLocalDomain, domain.VisibilityPublic)

	err := fx.receive(t, newFollow("https://remote.example/u/ghost", community.ApId))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAcceptCompletesLocalFollow(t *testing.T) {
	fx := newFixture(t)
	bob := fx.person(t, "bob", testLocalDomain)
	community := fx.community(t, "golang", testRemoteDomain, domain.VisibilityPublic)

	accept := &FollowResponse{
		Base: Base{ID: remoteActivityID("accept"), Type: TypeAccept, Actor: community.ApId, To: URIList{bob.ApId}},
		Object: Follow{
			Base:   Base{ID: "https://local.example/activities/follow/1", Type: TypeFollow, Actor: bob.ApId},
			Object: community.ApId,
		},
	}

	// the Accept overtakes the Follow
	assert.ErrorIs(t, fx.receive(t, accept), ErrNotFound)

	stored, err := fx.fed.FollowLocally(fx.ctx, bob, community.ApId)
	require.NoError(t, err)
	assert.Equal(t, domain.FollowPending, stored.State)

	sent := fx.sent(t)
	require.Len(t, sent, 1)
	assert.Equal(t, TypeFollow, payload(t, sent[0])["type"])
	assert.Equal(t, []string{community.InboxURL}, sent[0].SendTargets.InboxList())

	// redelivery of the same Accept now succeeds
	require.NoError(t, fx.receive(t, accept))
	stored, err = fx.db.ReadFollow(fx.ctx, bob.Id, community.Id, domain.TargetCommunity)
	require.NoError(t, err)
	assert.Equal(t, domain.FollowAccepted, stored.State)
}

func TestAcceptFromWrongActor(t *testing.T) {
	fx := newFixture(t)
	bob := fx.person(t, "bob", testLocalDomain)
	community := fx.community(t, "golang", testRemoteDomain, domain.VisibilityPublic)
	mallory := fx.person(t, "mallory", testRemoteDomain)

	accept := &FollowResponse{
		Base: Base{ID: remoteActivityID("accept"), Type: TypeAccept, Actor: mallory.ApId},
		Object: Follow{
			Base:   Base{ID: "https://local.example/activities/follow/1", Type: TypeFollow, Actor: bob.ApId},
			Object: community.ApId,
		},
	}
	assert.ErrorIs(t, fx.receive(t, accept), ErrURLVerification)

	// actor trust is checked before addressing
	accept.ID = remoteActivityID("accept")
	accept.Actor = "https://remote.example/u/ghost"
	assert.ErrorIs(t, fx.receive(t, accept), ErrNotFound)
}

func TestRejectRemovesFollow(t *testing.T) {
	fx := newFixture(t)
	bob := fx.person(t, "bob", testLocalDomain)
	community := fx.community(t, "golang", testRemoteDomain, domain.VisibilityPrivate)

	_, err := fx.fed.FollowLocally(fx.ctx, bob, community.ApId)
	require.NoError(t, err)

	reject := &FollowResponse{
		Base: Base{ID: remoteActivityID("reject"), Type: TypeReject, Actor: community.ApId},
		Object: Follow{
			Base:   Base{ID: "https://local.example/activities/follow/1", Type: TypeFollow, Actor: bob.ApId},
			Object: community.ApId,
		},
	}
	require.NoError(t, fx.receive(t, reject))
	_, err = fx.db.ReadFollow(fx.ctx, bob.Id, community.Id, domain.TargetCommunity)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func newUndoFollow(follow *Follow) *Undo[Follow] {
	return &Undo[Follow]{
		Base:   Base{ID: remoteActivityID("undo"), Type: TypeUndo, Actor: follow.Actor},
		Object: *follow,
	}
}

func TestUndoFollow(t *testing.T) {
	fx := newFixture(t)
	alice := fx.person(t, "alice", testRemoteDomain)
	mallory := fx.person(t, "mallory", testRemoteDomain)
	community := fx.community(t, "golang", testLocalDomain, domain.VisibilityPublic)

	follow := newFollow(alice.ApId, community.ApId)
	require.NoError(t, fx.receive(t, follow))

	spoofed := newUndoFollow(follow)
	spoofed.Actor = mallory.ApId
	assert.ErrorIs(t, fx.receive(t, spoofed), ErrURLVerification)

	ghost := newUndoFollow(follow)
	ghost.Actor = "https://remote.example/u/ghost"
	assert.ErrorIs(t, fx.receive(t, ghost), ErrNotFound)

	require.NoError(t, fx.receive(t, newUndoFollow(follow)))
	_, err := fx.db.ReadFollow(fx.ctx, alice.Id, community.Id, domain.TargetCommunity)
	assert.ErrorIs(t, err, db.ErrNotFound)

	// undoing again is not an error
	assert.NoError(t, fx.receive(t, newUndoFollow(follow)))
}

func TestConcurrentFollowAndUndoConverge(t *testing.T) {
	for i := 0; i < 10; i++ {
		fx := newFixture(t)
		alice := fx.person(t, "alice", testRemoteDomain)
		community := fx.community(t, "golang", testLocalDomain, domain.VisibilityPublic)
		follow := newFollow(alice.ApId, community.ApId)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() { defer wg.Done(); errs[0] = fx.receive(t, follow) }()
		go func() { defer wg.Done(); errs[1] = fx.receive(t, newUndoFollow(follow)) }()
		wg.Wait()
		require.NoError(t, errs[0])
		require.NoError(t, errs[1])

		follows, err := fx.db.ReadFollowsByTarget(fx.ctx, community.Id, domain.TargetCommunity)
		require.NoError(t, err)
		require.LessOrEqual(t, len(follows), 1)
		if len(follows) == 1 {
			assert.Equal(t, domain.FollowAccepted, follows[0].State)
		}
	}
}

func TestFollowLocallyThroughQueue(t *testing.T) {
	queue := NewActivityChannel(10, "", nil)
	fx := newFixture(t, WithQueue(queue))
	bob := fx.person(t, "bob", testLocalDomain)
	remote := fx.community(t, "golang", testRemoteDomain, domain.VisibilityPublic)
	local := fx.community(t, "rust", testLocalDomain, domain.VisibilityPrivate)

	stored, err := fx.fed.FollowLocally(fx.ctx, bob, remote.ApId)
	require.NoError(t, err)
	assert.Equal(t, domain.FollowPending, stored.State)

	stored, err = fx.fed.FollowLocally(fx.ctx, bob, local.ApId)
	require.NoError(t, err)
	assert.Equal(t, domain.FollowApprovalRequired, stored.State)
	assert.Equal(t, 1, queue.Len(), "local follows are not federated")

	require.NoError(t, fx.fed.UnfollowLocally(fx.ctx, bob, remote.ApId))
	stored, err = fx.db.ReadFollow(fx.ctx, bob.Id, remote.Id, domain.TargetCommunity)
	require.NoError(t, err)
	assert.True(t, stored.PendingUndo)

	queue.Close()
	queue.Run(fx.ctx, NewRouter(fx.fed))

	sent := fx.sent(t)
	require.Len(t, sent, 2)
	types := []any{payload(t, sent[0])["type"], payload(t, sent[1])["type"]}
	assert.ElementsMatch(t, []any{TypeFollow, TypeUndo}, types)
	_, err = fx.db.ReadFollow(fx.ctx, bob.Id, remote.Id, domain.TargetCommunity)
	assert.ErrorIs(t, err, db.ErrNotFound)
}
