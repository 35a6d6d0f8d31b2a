package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/deemkeen/threadfed/domain"
	"github.com/deemkeen/threadfed/util"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxFetchBytes bounds remote documents read by the fetcher
const maxFetchBytes = 1 << 20

// ActorResponse represents the JSON structure of an ActivityPub actor
type ActorResponse struct {
	Context           interface{} `json:"@context"`
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Name              string      `json:"name"`
	Summary           string      `json:"summary"`
	Inbox             string      `json:"inbox"`
	Outbox            string      `json:"outbox"`
	Followers         string      `json:"followers"`
	AttributedTo      string      `json:"attributedTo"`
	ManuallyApproves  bool        `json:"manuallyApprovesFollowers"`
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

type nodeInfoLinks struct {
	Links []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
}

type nodeInfo struct {
	Software struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"software"`
}

// Fetcher dereferences remote actors and nodeinfo over HTTP
type Fetcher struct {
	client *http.Client
	log    *zap.Logger
}

func NewFetcher(client *http.Client, logger *zap.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{client: client, log: logger.Named("fetcher")}
}

// FetchActor fetches an actor and maps it onto a person, community or multi-community.
// The result is not stored.
func (f *Fetcher) FetchActor(ctx context.Context, actorURI string) (domain.FollowTarget, error) {
	var actor ActorResponse
	if err := f.getJSON(ctx, actorURI, "application/activity+json", &actor); err != nil {
		return domain.FollowTarget{}, err
	}

	// Validate required fields
	if actor.ID == "" || actor.Inbox == "" {
		return domain.FollowTarget{}, fmt.Errorf("actor missing required fields")
	}
	if actor.ID != actorURI {
		return domain.FollowTarget{}, fmt.Errorf("%w: fetched %s but document id is %s", ErrURLVerification, actorURI, actor.ID)
	}

	domainName, err := util.ExtractDomain(actor.ID)
	if err != nil {
		return domain.FollowTarget{}, err
	}

	now := time.Now()
	switch actor.Type {
	case TypeGroup:
		visibility := domain.VisibilityPublic
		if actor.ManuallyApproves {
			visibility = domain.VisibilityPrivate
		}
		return domain.CommunityTarget(&domain.Community{
			Id:             uuid.New(),
			ApId:           actor.ID,
			Name:           actor.PreferredUsername,
			Title:          actor.Name,
			Description:    actor.Summary,
			InstanceDomain: domainName,
			InboxURL:       actor.Inbox,
			SharedInboxURL: actor.Endpoints.SharedInbox,
			PublicKeyPem:   actor.PublicKey.PublicKeyPem,
			Visibility:     visibility,
			LastFetchedAt:  now,
		}), nil
	case TypeFeed:
		return domain.MultiCommunityTarget(&domain.MultiCommunity{
			Id:             uuid.New(),
			ApId:           actor.ID,
			Name:           actor.PreferredUsername,
			Title:          actor.Name,
			InstanceDomain: domainName,
			InboxURL:       actor.Inbox,
			PublicKeyPem:   actor.PublicKey.PublicKeyPem,
			LastFetchedAt:  now,
		}), nil
	case TypePerson, "Service", "Application":
		username := actor.PreferredUsername
		if username == "" {
			username = extractUsername(actor.ID)
		}
		return domain.PersonTarget(&domain.Person{
			Id:             uuid.New(),
			ApId:           actor.ID,
			Username:       username,
			InstanceDomain: domainName,
			InboxURL:       actor.Inbox,
			SharedInboxURL: actor.Endpoints.SharedInbox,
			PublicKeyPem:   actor.PublicKey.PublicKeyPem,
			LastFetchedAt:  now,
		}), nil
	default:
		return domain.FollowTarget{}, fmt.Errorf("unsupported actor type %q", actor.Type)
	}
}

// FetchInstance reads the software name and version a peer advertises via nodeinfo
func (f *Fetcher) FetchInstance(ctx context.Context, baseURL string) (*domain.Instance, error) {
	var links nodeInfoLinks
	if err := f.getJSON(ctx, strings.TrimRight(baseURL, "/")+"/.well-known/nodeinfo", "application/json", &links); err != nil {
		return nil, err
	}
	href := ""
	for _, link := range links.Links {
		if strings.HasPrefix(link.Rel, "http://nodeinfo.diaspora.software/ns/schema/") {
			href = link.Href
		}
	}
	if href == "" {
		return nil, fmt.Errorf("no nodeinfo schema link at %s", baseURL)
	}

	var info nodeInfo
	if err := f.getJSON(ctx, href, "application/json", &info); err != nil {
		return nil, err
	}
	domainName, err := util.ExtractDomain(baseURL)
	if err != nil {
		return nil, err
	}
	return &domain.Instance{
		Domain:    domainName,
		Software:  strings.ToLower(info.Software.Name),
		Version:   info.Software.Version,
		UpdatedAt: time.Now(),
	}, nil
}

func (f *Fetcher) getJSON(ctx context.Context, uri, accept string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", util.UserAgent())

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch of %s failed with status: %d", uri, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return nil
}

// extractUsername extracts username from various URI formats
// Examples:
// - "https://example.com/users/alice" -> "alice"
// - "https://example.com/@alice" -> "alice"
func extractUsername(uri string) string {
	parts := strings.Split(strings.TrimRight(uri, "/"), "/")
	if len(parts) > 0 {
		return strings.TrimPrefix(parts[len(parts)-1], "@")
	}
	return ""
}
