package web

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/deemkeen/threadfed/activitypub"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// InboxReceiver runs inbound activities through the federation core
type InboxReceiver interface {
	Receive(ctx context.Context, body []byte) error
	ActorKey(ctx context.Context, actorId string) (string, error)
}

var (
	errUnsigned         = errors.New("request is not signed")
	errBadSignature     = errors.New("signature verification failed")
	errDigestMismatch   = errors.New("digest does not match body")
	errDigestMissing    = errors.New("request has no SHA-256 digest")
	errDigestUnsigned   = errors.New("digest header is not signed")
	errSignerNotActor   = errors.New("signer is not the activity actor")
	errUnknownSignatory = errors.New("signing key could not be resolved")
)

type inboxHandler struct {
	inbox    InboxReceiver
	verifier activitypub.SignatureVerifier
	log      *zap.Logger
}

func (h *inboxHandler) handle(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	if h.verifier != nil {
		if err := h.checkSignature(c.Request, body); err != nil {
			h.log.Info("Rejected unsigned or forged request", zap.String("path", c.Request.URL.Path), zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
	}

	if err := h.inbox.Receive(c.Request.Context(), body); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

// checkSignature verifies that the body was signed by its own actor
func (h *inboxHandler) checkSignature(req *http.Request, body []byte) error {
	owner, err := h.verifier.KeyOwner(req)
	if err != nil || owner == "" {
		return errUnsigned
	}
	if err := checkDigest(req.Header.Get("Digest"), body); err != nil {
		return err
	}
	if !signsHeader(req, "digest") {
		return errDigestUnsigned
	}

	var head struct {
		Actor string `json:"actor"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return fmt.Errorf("%w: %v", activitypub.ErrSerialization, err)
	}
	if head.Actor != owner {
		return errSignerNotActor
	}

	pem, err := h.inbox.ActorKey(req.Context(), owner)
	if err != nil {
		return fmt.Errorf("%w: %v", errUnknownSignatory, err)
	}
	if _, err := h.verifier.VerifyRequest(req, pem); err != nil {
		return fmt.Errorf("%w: %v", errBadSignature, err)
	}
	return nil
}

// checkDigest compares a "SHA-256=<base64>" Digest header with the body
func checkDigest(header string, body []byte) error {
	for _, part := range strings.Split(header, ",") {
		algo, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(algo, "SHA-256") {
			continue
		}
		sum := sha256.Sum256(body)
		if value != base64.StdEncoding.EncodeToString(sum[:]) {
			return errDigestMismatch
		}
		return nil
	}
	return errDigestMissing
}

// signsHeader reports whether the headers parameter of the Signature (or
// Authorization) header lists name
func signsHeader(req *http.Request, name string) bool {
	sig := req.Header.Get("Signature")
	if sig == "" {
		sig = strings.TrimPrefix(req.Header.Get("Authorization"), "Signature ")
	}
	for _, param := range strings.Split(sig, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || key != "headers" {
			continue
		}
		for _, h := range strings.Fields(strings.Trim(value, `"`)) {
			if strings.EqualFold(h, name) {
				return true
			}
		}
		return false
	}
	return false
}

// statusFor maps federation errors onto HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, activitypub.ErrSerialization), errors.Is(err, activitypub.ErrMalformedURL):
		return http.StatusBadRequest
	case errors.Is(err, activitypub.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, activitypub.ErrPlatformLackingPrivateCommunitySupport):
		return http.StatusUnprocessableEntity
	case errors.Is(err, activitypub.ErrURLVerification),
		errors.Is(err, activitypub.ErrDomainMismatch),
		errors.Is(err, activitypub.ErrNotRemote),
		errors.Is(err, activitypub.ErrBanned),
		errors.Is(err, activitypub.ErrNotAModerator),
		errors.Is(err, activitypub.ErrNotAPartOfCommunity):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
