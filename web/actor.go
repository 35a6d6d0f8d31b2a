package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/deemkeen/threadfed/activitypub"
	"github.com/deemkeen/threadfed/db"
	"github.com/deemkeen/threadfed/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ActorStore reads actors by id
type ActorStore interface {
	ReadPersonByApId(ctx context.Context, apId string) (*domain.Person, error)
	ReadCommunityByApId(ctx context.Context, apId string) (*domain.Community, error)
	ReadMultiCommunityByApId(ctx context.Context, apId string) (*domain.MultiCommunity, error)
}

var actorContext = []string{
	"https://www.w3.org/ns/activitystreams",
	"https://w3id.org/security/v1",
}

type actorHandler struct {
	store   ActorStore
	baseURL string
	log     *zap.Logger
}

func (h *actorHandler) person(c *gin.Context) {
	p, err := h.store.ReadPersonByApId(c.Request.Context(), h.baseURL+"/u/"+c.Param("name"))
	if !h.found(c, err, p != nil && p.Local, p != nil && p.Deleted) {
		return
	}
	doc := h.document(p.ApId, activitypub.TypePerson, p.Username, p.PublicKeyPem)
	c.Render(http.StatusOK, activityJSON{doc})
}

func (h *actorHandler) community(c *gin.Context) {
	cm, err := h.store.ReadCommunityByApId(c.Request.Context(), h.baseURL+"/c/"+c.Param("name"))
	local := cm != nil && cm.Local && cm.Visibility.CanFederate()
	if !h.found(c, err, local, cm != nil && (cm.Deleted || cm.Removed)) {
		return
	}
	doc := h.document(cm.ApId, activitypub.TypeGroup, cm.Name, cm.PublicKeyPem)
	doc.Name = cm.Title
	doc.Summary = cm.Description
	doc.Followers = cm.FollowersURL()
	doc.ManuallyApproves = cm.Visibility == domain.VisibilityPrivate
	c.Render(http.StatusOK, activityJSON{doc})
}

func (h *actorHandler) multiCommunity(c *gin.Context) {
	m, err := h.store.ReadMultiCommunityByApId(c.Request.Context(), h.baseURL+"/m/"+c.Param("name"))
	if !h.found(c, err, m != nil && m.Local, false) {
		return
	}
	doc := h.document(m.ApId, activitypub.TypeFeed, m.Name, m.PublicKeyPem)
	doc.Name = m.Title
	c.Render(http.StatusOK, activityJSON{doc})
}

// found writes the error response for a lookup and reports whether the
// actor can be served
func (h *actorHandler) found(c *gin.Context, err error, local, gone bool) bool {
	switch {
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Actor not found"})
		return false
	case err != nil:
		h.log.Warn("Failed to read actor", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read actor"})
		return false
	case !local:
		c.JSON(http.StatusNotFound, gin.H{"error": "Actor not found"})
		return false
	case gone:
		c.JSON(http.StatusGone, gin.H{"error": "Actor deleted"})
		return false
	}
	return true
}

func (h *actorHandler) document(apId, kind, username, publicKeyPem string) *activitypub.ActorResponse {
	doc := &activitypub.ActorResponse{
		Context:           actorContext,
		ID:                apId,
		Type:              kind,
		PreferredUsername: username,
		Inbox:             apId + "/inbox",
		Outbox:            h.baseURL + "/outbox",
	}
	doc.Endpoints.SharedInbox = h.baseURL + "/inbox"
	doc.PublicKey.ID = apId + "#main-key"
	doc.PublicKey.Owner = apId
	doc.PublicKey.PublicKeyPem = publicKeyPem
	return doc
}
