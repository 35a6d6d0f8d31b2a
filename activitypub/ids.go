package activitypub

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/deemkeen/threadfed/domain"
	"github.com/google/uuid"
)

// NewActivityID builds <base>/activities/<kind>/<uuid>
func NewActivityID(kind string, baseURL string) (*url.URL, error) {
	if err := checkBaseURL(baseURL); err != nil {
		return nil, err
	}
	return parseActivityID(fmt.Sprintf("%s/activities/%s/%s",
		strings.TrimRight(baseURL, "/"), strings.ToLower(kind), uuid.New()))
}

// NewWrappedActivityID builds the id of an Announce wrapping an activity
// of innerKind: <base>/activities/announce/<inner>/<uuid>
func NewWrappedActivityID(innerKind string, baseURL string) (*url.URL, error) {
	if err := checkBaseURL(baseURL); err != nil {
		return nil, err
	}
	return parseActivityID(fmt.Sprintf("%s/activities/%s/%s/%s",
		strings.TrimRight(baseURL, "/"), strings.ToLower(TypeAnnounce), strings.ToLower(innerKind), uuid.New()))
}

func checkBaseURL(baseURL string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q has no scheme or host", ErrMalformedURL, baseURL)
	}
	return nil
}

func parseActivityID(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	return u, nil
}

// ToInbox targets a single inbox
func ToInbox(inbox string) domain.ActivitySendTargets {
	t := Empty()
	t.AddInbox(inbox)
	return t
}

// ToAllInstances targets every known instance
func ToAllInstances() domain.ActivitySendTargets {
	return domain.ActivitySendTargets{AllInstances: true}
}

// ToLocalCommunityFollowers targets the followers of a local community.
// The marker is expanded to inboxes by delivery.
func ToLocalCommunityFollowers(communityId uuid.UUID) domain.ActivitySendTargets {
	id := communityId
	return domain.ActivitySendTargets{CommunityFollowersOf: &id}
}

func Empty() domain.ActivitySendTargets {
	return domain.ActivitySendTargets{}
}

// TargetSpec is the structural description of who receives an activity
type TargetSpec struct {
	Inboxes              []string
	CommunityFollowersOf *uuid.UUID
	AllInstances         bool
}

// ResolveTargets maps a TargetSpec onto the send target union. It does no I/O.
func ResolveTargets(spec TargetSpec) domain.ActivitySendTargets {
	t := Empty()
	t.AddInboxes(spec.Inboxes...)
	if spec.CommunityFollowersOf != nil {
		t.Merge(ToLocalCommunityFollowers(*spec.CommunityFollowersOf))
	}
	if spec.AllInstances {
		t.SetAllInstances()
	}
	return t
}
