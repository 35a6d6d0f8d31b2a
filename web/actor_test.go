package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/deemkeen/threadfed/activitypub"
	"github.com/deemkeen/threadfed/db"
	"github.com/deemkeen/threadfed/domain"
	"github.com/deemkeen/threadfed/util"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type actorFixture struct {
	srv      *httptest.Server
	database *db.DB
	baseURL  string
}

// newActorFixture serves the router on a real listener so that the ids it
// hands out can be dereferenced by the fetcher
func newActorFixture(t *testing.T) *actorFixture {
	t.Helper()
	database, err := db.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()), nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.RunMigrations(context.Background()))

	var handler http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	conf := &util.AppConfig{}
	conf.Conf.Protocol = "http"
	conf.Conf.SslDomain = strings.TrimPrefix(srv.URL, "http://")
	conf.Conf.WithAp = true

	gin.SetMode(gin.TestMode)
	handler = NewRouter(conf, Deps{Inbox: &fakeInbox{}, Actors: database})
	return &actorFixture{srv: srv, database: database, baseURL: srv.URL}
}

func (fx *actorFixture) person(t *testing.T, name string, deleted bool) *domain.Person {
	t.Helper()
	p, err := fx.database.UpsertPerson(context.Background(), &domain.Person{
		Id:             uuid.New(),
		ApId:           fx.baseURL + "/u/" + name,
		Username:       name,
		InstanceDomain: strings.TrimPrefix(fx.baseURL, "http://"),
		InboxURL:       fx.baseURL + "/u/" + name + "/inbox",
		PublicKeyPem:   "-----BEGIN PUBLIC KEY-----\nperson\n-----END PUBLIC KEY-----\n",
		Local:          true,
		Deleted:        deleted,
	})
	require.NoError(t, err)
	return p
}

func (fx *actorFixture) community(t *testing.T, name string, visibility domain.CommunityVisibility) *domain.Community {
	t.Helper()
	c, err := fx.database.UpsertCommunity(context.Background(), &domain.Community{
		Id:             uuid.New(),
		ApId:           fx.baseURL + "/c/" + name,
		Name:           name,
		Title:          "All about " + name,
		Description:    "A place for " + name,
		InstanceDomain: strings.TrimPrefix(fx.baseURL, "http://"),
		InboxURL:       fx.baseURL + "/c/" + name + "/inbox",
		PublicKeyPem:   "-----BEGIN PUBLIC KEY-----\ncommunity\n-----END PUBLIC KEY-----\n",
		Visibility:     visibility,
		Local:          true,
	})
	require.NoError(t, err)
	return c
}

func (fx *actorFixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(fx.baseURL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestActorDocumentsRoundTrip(t *testing.T) {
	fx := newActorFixture(t)
	bob := fx.person(t, "bob", false)
	golang := fx.community(t, "golang", domain.VisibilityPrivate)
	fetcher := activitypub.NewFetcher(nil, nil)
	ctx := context.Background()

	target, err := fetcher.FetchActor(ctx, bob.ApId)
	require.NoError(t, err)
	require.Equal(t, domain.TargetPerson, target.Kind())
	assert.Equal(t, bob.PublicKeyPem, target.PublicKeyPem())
	assert.Equal(t, fx.baseURL+"/inbox", target.Inbox(), "shared inbox is preferred")

	target, err = fetcher.FetchActor(ctx, golang.ApId)
	require.NoError(t, err)
	require.Equal(t, domain.TargetCommunity, target.Kind())
	require.NoError(t, target.Match(
		func(*domain.Person) error { return nil },
		func(c *domain.Community) error {
			assert.Equal(t, domain.VisibilityPrivate, c.Visibility)
			assert.Equal(t, "All about golang", c.Title)
			assert.Equal(t, golang.ApId+"/inbox", c.InboxURL)
			return nil
		},
		func(*domain.MultiCommunity) error { return nil },
	))
}

func TestActorDocumentShape(t *testing.T) {
	fx := newActorFixture(t)
	golang := fx.community(t, "golang", domain.VisibilityPublic)

	resp := fx.get(t, "/c/golang")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/activity+json")

	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, "Group", doc["type"])
	assert.Equal(t, golang.FollowersURL(), doc["followers"])
	assert.Equal(t, false, doc["manuallyApprovesFollowers"])
	key := doc["publicKey"].(map[string]any)
	assert.Equal(t, golang.ApId+"#main-key", key["id"])
	assert.Equal(t, golang.ApId, key["owner"])
}

func TestActorNotServed(t *testing.T) {
	fx := newActorFixture(t)
	fx.person(t, "gone", true)
	fx.community(t, "hidden", domain.VisibilityLocalOnlyPublic)

	tests := []struct {
		path string
		want int
	}{
		{"/u/nobody", http.StatusNotFound},
		{"/c/nobody", http.StatusNotFound},
		{"/m/nobody", http.StatusNotFound},
		{"/u/gone", http.StatusGone},
		{"/c/hidden", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, fx.get(t, tt.path).StatusCode)
		})
	}
}

func TestWebfinger(t *testing.T) {
	fx := newActorFixture(t)
	bob := fx.person(t, "bob", false)
	golang := fx.community(t, "golang", domain.VisibilityPublic)
	fx.community(t, "hidden", domain.VisibilityLocalOnlyPrivate)
	host := strings.TrimPrefix(fx.baseURL, "http://")

	for name, apId := range map[string]string{"bob": bob.ApId, "golang": golang.ApId} {
		t.Run(name, func(t *testing.T) {
			resp := fx.get(t, "/.well-known/webfinger?resource=acct:"+name+"@"+host)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, resp.Header.Get("Content-Type"), "application/jrd+json")

			var wf webfingerResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&wf))
			assert.Equal(t, "acct:"+name+"@"+host, wf.Subject)
			require.Len(t, wf.Links, 1)
			assert.Equal(t, "self", wf.Links[0].Rel)
			assert.Equal(t, "application/activity+json", wf.Links[0].Type)
			assert.Equal(t, apId, wf.Links[0].Href)
		})
	}

	for _, resource := range []string{
		"",
		"bob@" + host,
		"acct:bob@elsewhere.example",
		"acct:nobody@" + host,
		"acct:hidden@" + host,
	} {
		t.Run("missing "+resource, func(t *testing.T) {
			resp := fx.get(t, "/.well-known/webfinger?resource="+resource)
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, "Not Found", body["detail"])
		})
	}
}

func TestParseAcct(t *testing.T) {
	tests := []struct {
		resource string
		name     string
		ok       bool
	}{
		{"acct:bob@local.example", "bob", true},
		{"acct:bob@LOCAL.example", "bob", true},
		{"acct:bob@remote.example", "", false},
		{"acct:@local.example", "", false},
		{"acct:bob", "", false},
		{"https://local.example/u/bob", "", false},
		{"acct:a/b@local.example", "", false},
	}
	for _, tt := range tests {
		name, ok := parseAcct(tt.resource, "local.example")
		if name != tt.name || ok != tt.ok {
			t.Errorf("parseAcct(%q) = %q, %v, want %q, %v", tt.resource, name, ok, tt.name, tt.ok)
		}
	}
}
