package web

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type webfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type"`
	Href string `json:"href"`
}

type webfingerResponse struct {
	Subject string          `json:"subject"`
	Links   []webfingerLink `json:"links"`
}

// webfinger answers acct:<name>@<local domain> lookups for local people,
// then communities, then multi-communities
func (h *actorHandler) webfinger(c *gin.Context, localDomain string) {
	name, ok := parseAcct(c.Query("resource"), localDomain)
	if !ok {
		c.JSON(http.StatusNotFound, webfingerNotFound())
		return
	}

	ctx := c.Request.Context()
	var href string
	if p, err := h.store.ReadPersonByApId(ctx, h.baseURL+"/u/"+name); err == nil && p.Local && !p.Deleted {
		href = p.ApId
	} else if cm, err := h.store.ReadCommunityByApId(ctx, h.baseURL+"/c/"+name); err == nil && cm.Local && cm.Visibility.CanFederate() {
		href = cm.ApId
	} else if m, err := h.store.ReadMultiCommunityByApId(ctx, h.baseURL+"/m/"+name); err == nil && m.Local {
		href = m.ApId
	}
	if href == "" {
		c.JSON(http.StatusNotFound, webfingerNotFound())
		return
	}

	c.Header("Content-Type", "application/jrd+json; charset=utf-8")
	c.JSON(http.StatusOK, webfingerResponse{
		Subject: "acct:" + name + "@" + localDomain,
		Links: []webfingerLink{
			{Rel: "self", Type: "application/activity+json", Href: href},
		},
	})
}

// parseAcct extracts the name from acct:name@domain when domain is ours
func parseAcct(resource, localDomain string) (string, bool) {
	if !strings.HasPrefix(resource, "acct:") {
		return "", false
	}
	name, host, ok := strings.Cut(strings.TrimPrefix(resource, "acct:"), "@")
	if !ok || name == "" || !strings.EqualFold(host, localDomain) || strings.ContainsAny(name, "/?#") {
		return "", false
	}
	return name, true
}

func webfingerNotFound() gin.H {
	return gin.H{"detail": "Not Found"}
}
