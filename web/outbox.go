package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/deemkeen/threadfed/db"
	"github.com/deemkeen/threadfed/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	activityContentType = "application/activity+json; charset=utf-8"
	itemsPerPage        = 20
)

// OutboxStore reads persisted outgoing activities
type OutboxStore interface {
	ReadSentActivityByApId(ctx context.Context, apId string) (*domain.SentActivity, error)
	ReadPublicSentActivities(ctx context.Context, limit, offset int) ([]domain.SentActivity, error)
	CountPublicSentActivities(ctx context.Context) (int, error)
}

type outboxHandler struct {
	store   OutboxStore
	baseURL string
	log     *zap.Logger
}

// activity serves a stored outgoing activity at its own id.
// Sensitive activities are not dereferenceable.
func (h *outboxHandler) activity(c *gin.Context) {
	apId := h.baseURL + c.Request.URL.Path
	act, err := h.store.ReadSentActivityByApId(c.Request.Context(), apId)
	if errors.Is(err, db.ErrNotFound) || (err == nil && act.Sensitive) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Activity not found"})
		return
	}
	if err != nil {
		h.log.Warn("Failed to read activity", zap.String("id", apId), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read activity"})
		return
	}
	c.Data(http.StatusOK, activityContentType, []byte(act.Data))
}

// outbox serves the public outbox as an OrderedCollection, paged with ?page=N
func (h *outboxHandler) outbox(c *gin.Context) {
	ctx := c.Request.Context()
	outboxURL := h.baseURL + "/outbox"
	page := ParsePageParam(c.Query("page"))

	if page == 0 {
		total, err := h.store.CountPublicSentActivities(ctx)
		if err != nil {
			h.log.Warn("Failed to count outbox", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read outbox"})
			return
		}
		c.Render(http.StatusOK, activityJSON{map[string]any{
			"@context":   "https://www.w3.org/ns/activitystreams",
			"id":         outboxURL,
			"type":       "OrderedCollection",
			"totalItems": total,
			"first":      fmt.Sprintf("%s?page=1", outboxURL),
		}})
		return
	}

	acts, err := h.store.ReadPublicSentActivities(ctx, itemsPerPage+1, (page-1)*itemsPerPage)
	if err != nil {
		h.log.Warn("Failed to read outbox page", zap.Int("page", page), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read outbox"})
		return
	}

	hasMore := len(acts) > itemsPerPage
	if hasMore {
		acts = acts[:itemsPerPage]
	}
	items := make([]json.RawMessage, 0, len(acts))
	for _, act := range acts {
		items = append(items, json.RawMessage(act.Data))
	}

	collectionPage := map[string]any{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           fmt.Sprintf("%s?page=%d", outboxURL, page),
		"type":         "OrderedCollectionPage",
		"partOf":       outboxURL,
		"orderedItems": items,
	}
	if hasMore {
		collectionPage["next"] = fmt.Sprintf("%s?page=%d", outboxURL, page+1)
	}
	if page > 1 {
		collectionPage["prev"] = fmt.Sprintf("%s?page=%d", outboxURL, page-1)
	}
	c.Render(http.StatusOK, activityJSON{collectionPage})
}

// ParsePageParam extracts the page parameter from a query string
func ParsePageParam(pageStr string) int {
	if pageStr == "" {
		return 0
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 0 {
		return 0
	}
	return page
}

// activityJSON renders v as application/activity+json
type activityJSON struct {
	v any
}

func (r activityJSON) Render(w http.ResponseWriter) error {
	r.WriteContentType(w)
	return json.NewEncoder(w).Encode(r.v)
}

func (r activityJSON) WriteContentType(w http.ResponseWriter) {
	w.Header().Set("Content-Type", activityContentType)
}
