package activitypub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const (
	ActivityStreamsContext = "https://www.w3.org/ns/activitystreams"
	SecurityContext        = "https://w3id.org/security/v1"
	PublicAddress          = "https://www.w3.org/ns/activitystreams#Public"

	MediaTypeHTML     = "text/html"
	MediaTypeMarkdown = "text/markdown"
)

// Activity and object type tags
const (
	TypeFollow   = "Follow"
	TypeAccept   = "Accept"
	TypeReject   = "Reject"
	TypeUndo     = "Undo"
	TypeCreate   = "Create"
	TypeUpdate   = "Update"
	TypeDelete   = "Delete"
	TypeLike     = "Like"
	TypeDislike  = "Dislike"
	TypeBlock    = "Block"
	TypeFlag     = "Flag"
	TypeResolve  = "Resolve"
	TypeAdd      = "Add"
	TypeRemove   = "Remove"
	TypeLock     = "Lock"
	TypeAnnounce = "Announce"

	TypeNote        = "Note"
	TypeChatMessage = "ChatMessage"
	TypePage        = "Page"
	TypeGroup       = "Group"
	TypeFeed        = "Feed"
	TypePerson      = "Person"
)

// Activity is implemented by every outgoing wire activity
type Activity interface {
	ActivityID() string
	ActivityType() string
	ActorID() string
	ActivityBase() Base
}

// URIList accepts either a single URI or an array of URIs
type URIList []string

func (l *URIList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*l = URIList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// ObjectRef is an activity object given either as a bare id or embedded
type ObjectRef struct {
	ID   string
	Type string
	Raw  json.RawMessage
}

func (o *ObjectRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &o.ID)
	}
	var head struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	o.ID, o.Type = head.ID, head.Type
	o.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (o ObjectRef) MarshalJSON() ([]byte, error) {
	if o.Raw != nil {
		return o.Raw, nil
	}
	return json.Marshal(o.ID)
}

// Embedded reports whether the object was sent inline
func (o ObjectRef) Embedded() bool {
	return o.Raw != nil
}

// Decode unmarshals an embedded object into v
func (o ObjectRef) Decode(v any) error {
	if o.Raw == nil {
		return fmt.Errorf("%w: object %s is not embedded", ErrSerialization, o.ID)
	}
	return json.Unmarshal(o.Raw, v)
}

// Base holds the fields every activity shares
type Base struct {
	ID    string  `json:"id" validate:"required,url"`
	Type  string  `json:"type" validate:"required"`
	Actor string  `json:"actor" validate:"required,url"`
	To    URIList `json:"to,omitempty" validate:"omitempty,dive,url"`
	Cc    URIList `json:"cc,omitempty" validate:"omitempty,dive,url"`
}

func (b Base) ActivityID() string   { return b.ID }
func (b Base) ActivityType() string { return b.Type }
func (b Base) ActorID() string      { return b.Actor }
func (b Base) ActivityBase() Base   { return b }

// Envelope is the first pass decode of any inbound activity
type Envelope struct {
	Base
	Object ObjectRef `json:"object"`
}

type Source struct {
	Content   string `json:"content"`
	MediaType string `json:"mediaType"`
}

func NewMarkdownSource(content string) *Source {
	return &Source{Content: content, MediaType: MediaTypeMarkdown}
}

// Follow is a request to follow a person, community or multi-community
type Follow struct {
	Base
	Object string `json:"object" validate:"required,url"`
}

// FollowResponse is an Accept or Reject of a Follow
type FollowResponse struct {
	Base
	Object Follow `json:"object"`
}

// Undo retracts an earlier activity
type Undo[T any] struct {
	Base
	Object T `json:"object"`
}

// CreateOrUpdate publishes or edits an object
type CreateOrUpdate[T any] struct {
	Base
	Object T `json:"object"`
}

// Announce relays an activity to the followers of a community
type Announce struct {
	Base
	Object json.RawMessage `json:"object"`
}

type Delete struct {
	Base
	Object     string `json:"object" validate:"required,url"`
	Summary    string `json:"summary,omitempty"`
	RemoveData bool   `json:"removeData,omitempty"`
}

// Vote is a Like or Dislike
type Vote struct {
	Base
	Object string `json:"object" validate:"required,url"`
}

// Block bans a person from a community or a whole site
type Block struct {
	Base
	Object     string     `json:"object" validate:"required,url"`
	Target     string     `json:"target" validate:"required,url"`
	Summary    string     `json:"summary,omitempty"`
	RemoveData bool       `json:"removeData,omitempty"`
	EndTime    *time.Time `json:"endTime,omitempty"`
}

// Report is a Flag against a post or comment
type Report struct {
	Base
	Object  URIList `json:"object" validate:"required,min=1,dive,url"`
	Summary string  `json:"summary,omitempty"`
}

type ResolveReport struct {
	Base
	Object Report `json:"object"`
}

// CollectionChange is an Add or Remove against a community collection
type CollectionChange struct {
	Base
	Object string `json:"object" validate:"required,url"`
	Target string `json:"target" validate:"required,url"`
}

type LockPage struct {
	Base
	Object  string `json:"object" validate:"required,url"`
	Summary string `json:"summary,omitempty"`
}

// PrivateMessage is the wire form of a direct message. Type is Note, or
// ChatMessage for legacy peers.
type PrivateMessage struct {
	Type         string     `json:"type" validate:"oneof=Note ChatMessage"`
	ID           string     `json:"id" validate:"required,url"`
	AttributedTo string     `json:"attributedTo" validate:"required,url"`
	To           URIList    `json:"to" validate:"len=1,dive,url"`
	Content      string     `json:"content"`
	MediaType    string     `json:"mediaType,omitempty"`
	Source       *Source    `json:"source,omitempty"`
	Published    *time.Time `json:"published,omitempty"`
	Updated      *time.Time `json:"updated,omitempty"`
}

type Page struct {
	Type         string     `json:"type"`
	ID           string     `json:"id"`
	AttributedTo string     `json:"attributedTo"`
	To           URIList    `json:"to"`
	Audience     string     `json:"audience,omitempty"`
	Name         string     `json:"name"`
	Content      string     `json:"content,omitempty"`
	MediaType    string     `json:"mediaType,omitempty"`
	Source       *Source    `json:"source,omitempty"`
	URL          string     `json:"url,omitempty"`
	Published    *time.Time `json:"published,omitempty"`
	Updated      *time.Time `json:"updated,omitempty"`
}

type Note struct {
	Type         string     `json:"type"`
	ID           string     `json:"id"`
	AttributedTo string     `json:"attributedTo"`
	To           URIList    `json:"to"`
	Cc           URIList    `json:"cc,omitempty"`
	Audience     string     `json:"audience,omitempty"`
	InReplyTo    string     `json:"inReplyTo"`
	Content      string     `json:"content"`
	MediaType    string     `json:"mediaType,omitempty"`
	Source       *Source    `json:"source,omitempty"`
	Published    *time.Time `json:"published,omitempty"`
	Updated      *time.Time `json:"updated,omitempty"`
}

// Group is the wire form of a community
type Group struct {
	Type              string     `json:"type" validate:"eq=Group"`
	ID                string     `json:"id" validate:"required,url"`
	PreferredUsername string     `json:"preferredUsername" validate:"required"`
	Name              string     `json:"name,omitempty"`
	Summary           string     `json:"summary,omitempty"`
	Source            *Source    `json:"source,omitempty"`
	Inbox             string     `json:"inbox" validate:"required,url"`
	Followers         string     `json:"followers,omitempty"`
	Published         *time.Time `json:"published,omitempty"`
	Updated           *time.Time `json:"updated,omitempty"`
}

// Feed is the wire form of a multi-community
type Feed struct {
	Type         string `json:"type"`
	ID           string `json:"id"`
	Name         string `json:"name"`
	Summary      string `json:"summary,omitempty"`
	AttributedTo string `json:"attributedTo"`
	Inbox        string `json:"inbox,omitempty"`
}

// withContext marshals an activity with the JSON-LD context prepended
func withContext(activity any) ([]byte, error) {
	body, err := json.Marshal(activity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	ctx, _ := json.Marshal([]string{ActivityStreamsContext, SecurityContext})
	fields["@context"] = ctx
	return json.Marshal(fields)
}
