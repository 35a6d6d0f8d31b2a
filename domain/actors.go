package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActorType tags the kind of actor that authored an outgoing activity
type ActorType string

const (
	ActorTypePerson         ActorType = "person"
	ActorTypeCommunity      ActorType = "community"
	ActorTypeMultiCommunity ActorType = "multi_community"
	ActorTypeSite           ActorType = "site"
)

// CommunityVisibility controls who may follow a community and whether it federates at all
type CommunityVisibility string

const (
	VisibilityPublic           CommunityVisibility = "public"
	VisibilityUnlisted         CommunityVisibility = "unlisted"
	VisibilityPrivate          CommunityVisibility = "private"
	VisibilityLocalOnlyPublic  CommunityVisibility = "local_only_public"
	VisibilityLocalOnlyPrivate CommunityVisibility = "local_only_private"
)

// CanFederate is false for the local-only variants
func (v CommunityVisibility) CanFederate() bool {
	return v != VisibilityLocalOnlyPublic && v != VisibilityLocalOnlyPrivate
}

// Instance is a known peer (or the local server) with its advertised software
type Instance struct {
	Domain    string
	Software  string
	Version   string
	UpdatedAt time.Time
}

// Person is a local or cached remote user
type Person struct {
	Id             uuid.UUID
	ApId           string
	Username       string
	InstanceDomain string
	InboxURL       string
	SharedInboxURL string
	PublicKeyPem   string
	Local          bool
	Admin          bool
	Deleted        bool
	LastFetchedAt  time.Time
}

// Inbox prefers the shared inbox when the peer advertises one
func (p *Person) Inbox() string {
	if p.SharedInboxURL != "" {
		return p.SharedInboxURL
	}
	return p.InboxURL
}

func (p *Person) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tApId: %s \n\tUsername: %s \n\tInstance: %s", p.Id, p.ApId, p.Username, p.InstanceDomain)
}

// Community is a group actor that people follow and post into
type Community struct {
	Id             uuid.UUID
	ApId           string
	Name           string
	Title          string
	Description    string
	InstanceDomain string
	InboxURL       string
	SharedInboxURL string
	PublicKeyPem   string
	Visibility     CommunityVisibility
	Local          bool
	Deleted        bool
	Removed        bool
	LastFetchedAt  time.Time
}

func (c *Community) Inbox() string {
	if c.SharedInboxURL != "" {
		return c.SharedInboxURL
	}
	return c.InboxURL
}

// FollowersURL is the followers collection of the community
func (c *Community) FollowersURL() string {
	return c.ApId + "/followers"
}

// MultiCommunity is a curated, followable set of communities
type MultiCommunity struct {
	Id             uuid.UUID
	ApId           string
	Name           string
	Title          string
	CreatorId      uuid.UUID
	InstanceDomain string
	InboxURL       string
	PublicKeyPem   string
	Local          bool
	LastFetchedAt  time.Time
}

func (m *MultiCommunity) Inbox() string {
	return m.InboxURL
}
