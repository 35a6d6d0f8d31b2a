package activitypub

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/deemkeen/threadfed/db"
	"github.com/deemkeen/threadfed/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrivateMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		version  string
		wantType string
	}{
		{name: "legacy dialect", version: "0.19.3", wantType: TypeChatMessage},
		{name: "current dialect", version: "0.21.0", wantType: TypeNote},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			fx.instance(t, testRemoteDomain, "lemmy", tt.version)
			bob := fx.person(t, "bob", testLocalDomain)
			alice := fx.person(t, "alice", testRemoteDomain)

			pm := &domain.PrivateMessage{
				ApId:        "https://local.example/private_message/1",
				CreatorId:   bob.Id,
				RecipientId: alice.Id,
				Content:     "hello **alice**",
				PublishedAt: time.Now().UTC().Truncate(time.Second),
			}
			require.NoError(t, fx.db.CreatePrivateMessage(fx.ctx, pm))

			wire, err := fx.fed.PrivateMessageToWire(fx.ctx, pm)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, wire.Type)
			assert.Equal(t, bob.ApId, wire.AttributedTo)
			assert.Equal(t, URIList{alice.ApId}, wire.To)
			assert.Equal(t, MediaTypeHTML, wire.MediaType)
			assert.Contains(t, wire.Content, "<strong>alice</strong>")

			form, err := fx.fed.PrivateMessageFromWire(fx.ctx, wire)
			require.NoError(t, err)
			assert.Equal(t, pm.Content, form.Content)
			assert.Equal(t, bob.Id, form.CreatorId)
			assert.Equal(t, alice.Id, form.RecipientId)
			assert.Equal(t, pm.ApId, form.ApId)
		})
	}
}

func TestPrivateMessageToWireMissingRecipient(t *testing.T) {
	fx := newFixture(t)
	bob := fx.person(t, "bob", testLocalDomain)

	_, err := fx.fed.PrivateMessageToWire(fx.ctx, &domain.PrivateMessage{
		ApId:      "https://local.example/private_message/1",
		CreatorId: bob.Id,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPrivateMessageFromWireValidates(t *testing.T) {
	fx := newFixture(t)
	alice := fx.person(t, "alice", testRemoteDomain)
	bob := fx.person(t, "bob", testLocalDomain)

	_, err := fx.fed.PrivateMessageFromWire(fx.ctx, &PrivateMessage{
		Type:         TypeNote,
		ID:           "https://remote.example/pm/1",
		AttributedTo: alice.ApId,
		To:           URIList{bob.ApId, alice.ApId},
	})
	assert.ErrorIs(t, err, ErrSerialization)

	form, err := fx.fed.PrivateMessageFromWire(fx.ctx, &PrivateMessage{
		Type:         TypeNote,
		ID:           "https://remote.example/pm/1",
		AttributedTo: alice.ApId,
		To:           URIList{bob.ApId},
		Content:      "<p>plain html</p>",
	})
	require.NoError(t, err)
	assert.Equal(t, "<p>plain html</p>", form.Content, "content is used when no markdown source is sent")
}

func TestLegacyDecisionCachedPerInstance(t *testing.T) {
	fx := newFixture(t)
	fx.instance(t, testRemoteDomain, "lemmy", "0.18.0")

	cache := dialectCache{}
	legacy, err := fx.fed.isLegacy(fx.ctx, testRemoteDomain, cache)
	require.NoError(t, err)
	assert.True(t, legacy)

	fx.instance(t, testRemoteDomain, "lemmy", "0.22.0")
	legacy, err = fx.fed.isLegacy(fx.ctx, testRemoteDomain, cache)
	require.NoError(t, err)
	assert.True(t, legacy, "decision is reused within one translation")

	legacy, err = fx.fed.isLegacy(fx.ctx, "unknown.example", cache)
	require.NoError(t, err)
	assert.False(t, legacy)
}

func newCreatePrivateMessage(kind, id string, from, to *domain.Person, content string, published time.Time) *CreateOrUpdate[*PrivateMessage] {
	return &CreateOrUpdate[*PrivateMessage]{
		Base: Base{ID: remoteActivityID(strings.ToLower(kind)), Type: kind, Actor: from.ApId, To: URIList{to.ApId}},
		Object: &PrivateMessage{
			Type:         TypeNote,
			ID:           id,
			AttributedTo: from.ApId,
			To:           URIList{to.ApId},
			Content:      "<p>" + content + "</p>",
			MediaType:    MediaTypeHTML,
			Source:       NewMarkdownSource(content),
			Published:    &published,
		},
	}
}

func TestReceivePrivateMessage(t *testing.T) {
	fx := newFixture(t)
	alice := fx.person(t, "alice", testRemoteDomain)
	bob := fx.person(t, "bob", testLocalDomain)
	id := "https://remote.example/pm/1"
	published := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)

	require.NoError(t, fx.receive(t, newCreatePrivateMessage(TypeCreate, id, alice, bob, "first", published)))
	pm, err := fx.db.ReadPrivateMessageByApId(fx.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "first", pm.Content)
	assert.Equal(t, alice.Id, pm.CreatorId)
	assert.Equal(t, bob.Id, pm.RecipientId)

	edit := newCreatePrivateMessage(TypeUpdate, id, alice, bob, "edited", published)
	updated := published.Add(30 * time.Minute)
	edit.Object.Updated = &updated
	require.NoError(t, fx.receive(t, edit))

	stale := newCreatePrivateMessage(TypeUpdate, id, alice, bob, "stale", published)
	older := published.Add(10 * time.Minute)
	stale.Object.Updated = &older
	require.NoError(t, fx.receive(t, stale))

	pm, err = fx.db.ReadPrivateMessageByApId(fx.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "edited", pm.Content)
}

func TestReceivePrivateMessageRejections(t *testing.T) {
	fx := newFixture(t)
	alice := fx.person(t, "alice", testRemoteDomain)
	bob := fx.person(t, "bob", testLocalDomain)
	carol := fx.person(t, "carol", testLocalDomain)
	now := time.Now()

	t.Run("local id", func(t *testing.T) {
		act := newCreatePrivateMessage(TypeCreate, "https://local.example/pm/1", alice, bob, "hi", now)
		assert.ErrorIs(t, fx.receive(t, act), ErrNotRemote)
	})

	t.Run("id on another domain", func(t *testing.T) {
		act := newCreatePrivateMessage(TypeCreate, "https://other.example/pm/1", alice, bob, "hi", now)
		assert.ErrorIs(t, fx.receive(t, act), ErrDomainMismatch)
	})

	t.Run("author is not the actor", func(t *testing.T) {
		act := newCreatePrivateMessage(TypeCreate, "https://remote.example/pm/2", alice, bob, "hi", now)
		act.Object.AttributedTo = "https://remote.example/u/mallory"
		assert.ErrorIs(t, fx.receive(t, act), ErrURLVerification)
	})

	t.Run("activity and note recipients differ", func(t *testing.T) {
		act := newCreatePrivateMessage(TypeCreate, "https://remote.example/pm/3", alice, bob, "hi", now)
		act.To = URIList{carol.ApId}
		assert.ErrorIs(t, fx.receive(t, act), ErrURLVerification)
	})

	t.Run("recipient blocked sender", func(t *testing.T) {
		require.NoError(t, fx.db.BlockPerson(fx.ctx, bob.Id, alice.Id))
		act := newCreatePrivateMessage(TypeCreate, "https://remote.example/pm/4", alice, bob, "hi", now)
		assert.ErrorIs(t, fx.receive(t, act), ErrBanned)
		_, err := fx.db.ReadPrivateMessageByApId(fx.ctx, "https://remote.example/pm/4")
		assert.ErrorIs(t, err, db.ErrNotFound)
	})
}

type recordingHooks struct {
	after []*domain.PrivateMessage
}

func (h *recordingHooks) BeforeReceivePrivateMessage(_ context.Context, form *domain.PrivateMessageForm) (*domain.PrivateMessageForm, error) {
	form.Content = strings.ToUpper(form.Content)
	return form, nil
}

func (h *recordingHooks) AfterReceivePrivateMessage(_ context.Context, pm *domain.PrivateMessage) {
	h.after = append(h.after, pm)
}

func TestReceivePrivateMessageRunsHooks(t *testing.T) {
	hooks := &recordingHooks{}
	fx := newFixture(t, WithHooks(hooks))
	alice := fx.person(t, "alice", testRemoteDomain)
	bob := fx.person(t, "bob", testLocalDomain)

	require.NoError(t, fx.receive(t, newCreatePrivateMessage(TypeCreate, "https://remote.example/pm/1", alice, bob, "quiet", time.Now())))
	require.Len(t, hooks.after, 1)
	assert.Equal(t, "QUIET", hooks.after[0].Content)
}

func TestDeletePrivateMessage(t *testing.T) {
	fx := newFixture(t)
	alice := fx.person(t, "alice", testRemoteDomain)
	mallory := fx.person(t, "mallory", testRemoteDomain)
	bob := fx.person(t, "bob", testLocalDomain)
	id := "https://remote.example/pm/1"
	require.NoError(t, fx.receive(t, newCreatePrivateMessage(TypeCreate, id, alice, bob, "oops", time.Now())))

	del := func(actor string) *Delete {
		return &Delete{Base: Base{ID: remoteActivityID("delete"), Type: TypeDelete, Actor: actor}, Object: id}
	}
	assert.ErrorIs(t, fx.receive(t, del(mallory.ApId)), ErrURLVerification)
	require.NoError(t, fx.receive(t, del(alice.ApId)))

	pm, err := fx.db.ReadPrivateMessageByApId(fx.ctx, id)
	require.NoError(t, err)
	assert.True(t, pm.Deleted)

	unknown := &Delete{Base: Base{ID: remoteActivityID("delete"), Type: TypeDelete, Actor: alice.ApId}, Object: "https://remote.example/post/9"}
	assert.ErrorIs(t, fx.receive(t, unknown), ErrNotFound)
}
