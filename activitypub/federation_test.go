package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/deemkeen/threadfed/db"
	"github.com/deemkeen/threadfed/domain"
	"github.com/deemkeen/threadfed/util"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const (
	testLocalDomain  = "local.example"
	testRemoteDomain = "remote.example"
)

// fixture is a federation core over a migrated in-memory database with
// remote fetching disabled
type fixture struct {
	ctx   context.Context
	db    *db.DB
	fed   *Federation
	inbox *Inbox
}

func testConf() *util.AppConfig {
	conf := &util.AppConfig{}
	conf.Conf.Protocol = "https"
	conf.Conf.SslDomain = testLocalDomain
	return conf
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	database, err := db.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()), nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.RunMigrations(ctx))

	resolver := NewObjectResolver(database, nil, testLocalDomain, 0, nil)
	fed, err := NewFederation(testConf(), database, resolver, nil, opts...)
	require.NoError(t, err)
	return &fixture{ctx: ctx, db: database, fed: fed, inbox: NewInbox(fed)}
}

func (fx *fixture) person(t *testing.T, username, instance string) *domain.Person {
	t.Helper()
	p, err := fx.db.UpsertPerson(fx.ctx, &domain.Person{
		ApId:           fmt.Sprintf("https://%s/u/%s", instance, username),
		Username:       username,
		InstanceDomain: instance,
		InboxURL:       fmt.Sprintf("https://%s/u/%s/inbox", instance, username),
		Local:          instance == testLocalDomain,
	})
	require.NoError(t, err)
	return p
}

func (fx *fixture) community(t *testing.T, name, instance string, visibility domain.CommunityVisibility) *domain.Community {
	t.Helper()
	c, err := fx.db.UpsertCommunity(fx.ctx, &domain.Community{
		ApId:           fmt.Sprintf("https://%s/c/%s", instance, name),
		Name:           name,
		Title:          name,
		InstanceDomain: instance,
		InboxURL:       fmt.Sprintf("https://%s/c/%s/inbox", instance, name),
		Visibility:     visibility,
		Local:          instance == testLocalDomain,
	})
	require.NoError(t, err)
	return c
}

func (fx *fixture) instance(t *testing.T, domainName, software, version string) {
	t.Helper()
	require.NoError(t, fx.db.UpsertInstance(fx.ctx, &domain.Instance{
		Domain: domainName, Software: software, Version: version,
	}))
}

// receive posts v to the inbox as JSON
func (fx *fixture) receive(t *testing.T, v any) error {
	t.Helper()
	body, err := withContext(v)
	require.NoError(t, err)
	return fx.inbox.Receive(fx.ctx, body)
}

// sent returns the outbox, newest first
func (fx *fixture) sent(t *testing.T) []domain.SentActivity {
	t.Helper()
	acts, err := fx.db.ReadRecentSentActivities(fx.ctx, 100)
	require.NoError(t, err)
	return acts
}

// payload decodes a stored outbox record
func payload(t *testing.T, act domain.SentActivity) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(act.Data), &m))
	return m
}

func remoteActivityID(kind string) string {
	return fmt.Sprintf("https://%s/activities/%s/%s", testRemoteDomain, kind, uuid.NewString())
}

func newFollow(actor, object string) *Follow {
	return &Follow{
		Base:   Base{ID: remoteActivityID("follow"), Type: TypeFollow, Actor: actor, To: URIList{object}},
		Object: object,
	}
}
