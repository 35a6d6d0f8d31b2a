package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// FollowState is the lifecycle state of a follow relationship
type FollowState string

const (
	FollowPending          FollowState = "pending"
	FollowApprovalRequired FollowState = "approval_required"
	FollowAccepted         FollowState = "accepted"
)

// FollowTargetKind distinguishes the three follow relationship variants
type FollowTargetKind string

const (
	TargetPerson         FollowTargetKind = "person"
	TargetCommunity      FollowTargetKind = "community"
	TargetMultiCommunity FollowTargetKind = "multi_community"
)

// Follow represents a follow relationship.
// (FollowerId, TargetId, TargetKind) is unique.
type Follow struct {
	Id          uuid.UUID
	FollowerId  uuid.UUID
	TargetId    uuid.UUID
	TargetKind  FollowTargetKind
	State       FollowState
	PendingUndo bool
	URI         string // Follow activity id, empty for local follows
	CreatedAt   time.Time
}

// ActivitySendTargets describes who an outgoing activity is delivered to.
// Followers-of is expanded to inboxes by the delivery layer, not here.
type ActivitySendTargets struct {
	Inboxes              map[string]struct{}
	AllInstances         bool
	CommunityFollowersOf *uuid.UUID
}

// InboxList returns the inbox set in a stable order
func (t ActivitySendTargets) InboxList() []string {
	inboxes := make([]string, 0, len(t.Inboxes))
	for inbox := range t.Inboxes {
		inboxes = append(inboxes, inbox)
	}
	sort.Strings(inboxes)
	return inboxes
}

// IsEmpty reports whether no delivery target is set
func (t ActivitySendTargets) IsEmpty() bool {
	return len(t.Inboxes) == 0 && !t.AllInstances && t.CommunityFollowersOf == nil
}

// SentActivity is the append-only outbox record written before delivery
type SentActivity struct {
	Id          uuid.UUID
	ApId        string
	Data        string
	Sensitive   bool
	SendTargets ActivitySendTargets
	ActorType   ActorType
	ActorApId   string
	PublishedAt time.Time
}

// AddInbox adds one inbox; empty strings are ignored
func (t *ActivitySendTargets) AddInbox(inbox string) {
	if inbox == "" {
		return
	}
	if t.Inboxes == nil {
		t.Inboxes = make(map[string]struct{})
	}
	t.Inboxes[inbox] = struct{}{}
}

func (t *ActivitySendTargets) AddInboxes(inboxes ...string) {
	for _, inbox := range inboxes {
		t.AddInbox(inbox)
	}
}

func (t *ActivitySendTargets) SetAllInstances() {
	t.AllInstances = true
}

// Merge unions other into t. The followers-of marker of t wins when both carry one.
func (t *ActivitySendTargets) Merge(other ActivitySendTargets) {
	for inbox := range other.Inboxes {
		t.AddInbox(inbox)
	}
	t.AllInstances = t.AllInstances || other.AllInstances
	if t.CommunityFollowersOf == nil && other.CommunityFollowersOf != nil {
		id := *other.CommunityFollowersOf
		t.CommunityFollowersOf = &id
	}
}
