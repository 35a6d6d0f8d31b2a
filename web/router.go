package web

import (
	"net/http"
	"time"

	"github.com/deemkeen/threadfed/activitypub"
	"github.com/deemkeen/threadfed/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxActivityBytes caps inbound activity bodies
const maxActivityBytes = 1 * 1024 * 1024

// Deps are the collaborators behind the HTTP surface
type Deps struct {
	Inbox InboxReceiver
	// Verifier gates inboxes on HTTP signatures; nil disables the gate
	Verifier activitypub.SignatureVerifier
	Outbox   OutboxStore
	// Actors serves local actor documents and webfinger; nil disables both
	Actors ActorStore
	// Limiter is shared by all inbox routes; nil uses 5 req/sec per IP, burst 10
	Limiter *RateLimiter
	Logger  *zap.Logger
}

// NewRouter builds the gin engine with the inbox, outbox, actor and health routes
func NewRouter(conf *util.AppConfig, deps Deps) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("web")

	g := gin.New()
	g.Use(gin.Recovery(), RequestLogger(log))
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	started := time.Now()
	g.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": util.GetVersion(),
			"uptime":  time.Since(started).Round(time.Second).String(),
		})
	})

	if !conf.Conf.WithAp {
		return g
	}

	limiter := deps.Limiter
	if limiter == nil {
		limiter = NewRateLimiter(rate.Limit(5), 10)
	}
	inbox := &inboxHandler{inbox: deps.Inbox, verifier: deps.Verifier, log: log}
	guard := []gin.HandlerFunc{RateLimitMiddleware(limiter), MaxBytesMiddleware(maxActivityBytes), inbox.handle}

	g.POST("/inbox", guard...)
	g.POST("/u/:name/inbox", guard...)
	g.POST("/c/:name/inbox", guard...)
	g.POST("/m/:name/inbox", guard...)

	if deps.Outbox != nil {
		outbox := &outboxHandler{store: deps.Outbox, baseURL: conf.BaseURL(), log: log}
		g.GET("/outbox", outbox.outbox)
		g.GET("/activities/*path", outbox.activity)
	}

	if deps.Actors != nil {
		actors := &actorHandler{store: deps.Actors, baseURL: conf.BaseURL(), log: log}
		g.GET("/u/:name", actors.person)
		g.GET("/c/:name", actors.community)
		g.GET("/m/:name", actors.multiCommunity)
		g.GET("/.well-known/webfinger", func(c *gin.Context) {
			actors.webfinger(c, conf.Conf.SslDomain)
		})
	}
	return g
}
