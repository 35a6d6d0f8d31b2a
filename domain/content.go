package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Post struct {
	Id          uuid.UUID
	ApId        string
	CreatorId   uuid.UUID
	CommunityId uuid.UUID
	Name        string
	Body        string
	URL         string
	Deleted     bool
	Removed     bool
	Locked      bool
	Featured    bool
	Local       bool
	PublishedAt time.Time
	UpdatedAt   *time.Time
}

type Comment struct {
	Id          uuid.UUID
	ApId        string
	CreatorId   uuid.UUID
	PostId      uuid.UUID
	Content     string
	Deleted     bool
	Removed     bool
	Local       bool
	PublishedAt time.Time
	UpdatedAt   *time.Time
}

// PrivateMessage is a direct message between two people
type PrivateMessage struct {
	Id          uuid.UUID
	ApId        string
	CreatorId   uuid.UUID
	RecipientId uuid.UUID
	Content     string // markdown source
	Deleted     bool
	Local       bool
	PublishedAt time.Time
	UpdatedAt   *time.Time
}

func (pm *PrivateMessage) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tApId: %s \n\tCreator: %s \n\tRecipient: %s", pm.Id, pm.ApId, pm.CreatorId, pm.RecipientId)
}

// PrivateMessageForm is the insert-ready shape produced from a received wire object
type PrivateMessageForm struct {
	ApId        string
	CreatorId   uuid.UUID
	RecipientId uuid.UUID
	Content     string
	Local       bool
	PublishedAt *time.Time
	UpdatedAt   *time.Time
}

// Report is a moderation report against a post or comment
type Report struct {
	Id          uuid.UUID
	ApId        string
	CreatorId   uuid.UUID
	ObjectApId  string
	CommunityId uuid.UUID
	Reason      string
	Resolved    bool
	PublishedAt time.Time
}
