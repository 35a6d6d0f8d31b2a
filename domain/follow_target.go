package domain

import "github.com/google/uuid"

// FollowTarget is the object of a Follow: exactly one of a person,
// a community or a multi-community. Use Match to handle it; all
// three arms are required arguments.
type FollowTarget struct {
	person    *Person
	community *Community
	multi     *MultiCommunity
}

func PersonTarget(p *Person) FollowTarget { return FollowTarget{person: p} }

func CommunityTarget(c *Community) FollowTarget { return FollowTarget{community: c} }

func MultiCommunityTarget(m *MultiCommunity) FollowTarget { return FollowTarget{multi: m} }

// Match calls the function for the variant held by t
func (t FollowTarget) Match(
	onPerson func(*Person) error,
	onCommunity func(*Community) error,
	onMulti func(*MultiCommunity) error,
) error {
	switch {
	case t.person != nil:
		return onPerson(t.person)
	case t.community != nil:
		return onCommunity(t.community)
	default:
		return onMulti(t.multi)
	}
}

func (t FollowTarget) IsZero() bool {
	return t.person == nil && t.community == nil && t.multi == nil
}

func (t FollowTarget) Kind() FollowTargetKind {
	switch {
	case t.person != nil:
		return TargetPerson
	case t.community != nil:
		return TargetCommunity
	default:
		return TargetMultiCommunity
	}
}

func (t FollowTarget) Id() uuid.UUID {
	switch {
	case t.person != nil:
		return t.person.Id
	case t.community != nil:
		return t.community.Id
	case t.multi != nil:
		return t.multi.Id
	}
	return uuid.Nil
}

func (t FollowTarget) ApId() string {
	switch {
	case t.person != nil:
		return t.person.ApId
	case t.community != nil:
		return t.community.ApId
	case t.multi != nil:
		return t.multi.ApId
	}
	return ""
}

func (t FollowTarget) Inbox() string {
	switch {
	case t.person != nil:
		return t.person.Inbox()
	case t.community != nil:
		return t.community.Inbox()
	case t.multi != nil:
		return t.multi.Inbox()
	}
	return ""
}

func (t FollowTarget) Local() bool {
	switch {
	case t.person != nil:
		return t.person.Local
	case t.community != nil:
		return t.community.Local
	case t.multi != nil:
		return t.multi.Local
	}
	return false
}

func (t FollowTarget) PublicKeyPem() string {
	switch {
	case t.person != nil:
		return t.person.PublicKeyPem
	case t.community != nil:
		return t.community.PublicKeyPem
	case t.multi != nil:
		return t.multi.PublicKeyPem
	}
	return ""
}

func (t FollowTarget) ActorType() ActorType {
	switch t.Kind() {
	case TargetPerson:
		return ActorTypePerson
	case TargetCommunity:
		return ActorTypeCommunity
	default:
		return ActorTypeMultiCommunity
	}
}
