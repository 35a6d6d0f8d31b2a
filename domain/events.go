package domain

import (
	"time"

	"github.com/google/uuid"
)

// SendActivityData is an internal event that results in exactly one
// outgoing federated activity. The set of events is closed.
type SendActivityData interface {
	sendActivityData()
}

type CreatePost struct{ Post Post }

type UpdatePost struct{ Post Post }

type DeletePost struct {
	Post    Post
	Actor   Person
	Deleted bool
}

type RemovePost struct {
	Post      Post
	Moderator Person
	Reason    string
	Removed   bool
}

type LockPost struct {
	Post   Post
	Actor  Person
	Locked bool
	Reason string
}

type FeaturePost struct {
	Post     Post
	Actor    Person
	Featured bool
}

type CreateComment struct{ Comment Comment }

type UpdateComment struct{ Comment Comment }

type DeleteComment struct {
	Comment   Comment
	Actor     Person
	Community Community
}

type RemoveComment struct {
	Comment   Comment
	Moderator Person
	Community Community
	Reason    string
}

// LikePostOrComment carries a vote change. NewScore 0 retracts the vote.
type LikePostOrComment struct {
	ObjectId      string
	Actor         Person
	Community     Community
	PreviousScore int
	NewScore      int
}

type FollowCommunity struct {
	Community Community
	Person    Person
	Follow    bool
}

type FollowMultiCommunity struct {
	Multi  MultiCommunity
	Person Person
	Follow bool
}

type UpdateCommunity struct {
	Actor     Person
	Community Community
}

type DeleteCommunity struct {
	Actor     Person
	Community Community
	Deleted   bool
}

type RemoveCommunity struct {
	Moderator Person
	Community Community
	Reason    string
	Removed   bool
}

type AddModToCommunity struct {
	Moderator   Person
	CommunityId uuid.UUID
	Target      Person
	Added       bool
}

type BanFromCommunity struct {
	Moderator   Person
	CommunityId uuid.UUID
	Target      Person
	Reason      string
	RemoveData  bool
	Ban         bool
	ExpiresAt   *time.Time
}

type BanFromSite struct {
	Moderator  Person
	BannedUser Person
	Reason     string
	RemoveData bool
	Ban        bool
	ExpiresAt  *time.Time
}

type CreatePrivateMessage struct{ PrivateMessage PrivateMessage }

type UpdatePrivateMessage struct{ PrivateMessage PrivateMessage }

type DeletePrivateMessage struct {
	Actor          Person
	PrivateMessage PrivateMessage
	Deleted        bool
}

type DeleteUser struct {
	Person     Person
	RemoveData bool
}

type CreateReport struct {
	ObjectId    string
	Actor       Person
	CommunityId uuid.UUID
	Reason      string
}

type SendResolveReport struct {
	ObjectId      string
	Actor         Person
	ReportCreator Person
	CommunityId   uuid.UUID
}

type AcceptFollower struct {
	CommunityId uuid.UUID
	PersonId    uuid.UUID
}

type RejectFollower struct {
	CommunityId uuid.UUID
	PersonId    uuid.UUID
}

type UpdateMultiCommunity struct {
	Multi MultiCommunity
	Actor Person
}

func (CreatePost) sendActivityData()           {}
func (UpdatePost) sendActivityData()           {}
func (DeletePost) sendActivityData()           {}
func (RemovePost) sendActivityData()           {}
func (LockPost) sendActivityData()             {}
func (FeaturePost) sendActivityData()          {}
func (CreateComment) sendActivityData()        {}
func (UpdateComment) sendActivityData()        {}
func (DeleteComment) sendActivityData()        {}
func (RemoveComment) sendActivityData()        {}
func (LikePostOrComment) sendActivityData()    {}
func (FollowCommunity) sendActivityData()      {}
func (FollowMultiCommunity) sendActivityData() {}
func (UpdateCommunity) sendActivityData()      {}
func (DeleteCommunity) sendActivityData()      {}
func (RemoveCommunity) sendActivityData()      {}
func (AddModToCommunity) sendActivityData()    {}
func (BanFromCommunity) sendActivityData()     {}
func (BanFromSite) sendActivityData()          {}
func (CreatePrivateMessage) sendActivityData() {}
func (UpdatePrivateMessage) sendActivityData() {}
func (DeletePrivateMessage) sendActivityData() {}
func (DeleteUser) sendActivityData()           {}
func (CreateReport) sendActivityData()         {}
func (SendResolveReport) sendActivityData()    {}
func (AcceptFollower) sendActivityData()       {}
func (RejectFollower) sendActivityData()       {}
func (UpdateMultiCommunity) sendActivityData() {}
