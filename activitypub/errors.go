package activitypub

import (
	"errors"

	"github.com/deemkeen/threadfed/db"
)

var (
	// ErrNotFound covers absent entities, local-only targets and dangling references
	ErrNotFound = errors.New("not found")
	// ErrDomainMismatch is returned when two ids that must share a host do not
	ErrDomainMismatch = errors.New("domain mismatch")
	// ErrURLVerification is returned when two ids that must be equal are not
	ErrURLVerification = errors.New("url verification failed")
	// ErrNotRemote is returned when an object that must be remote carries a local id
	ErrNotRemote = errors.New("object is not remote")
	ErrBanned    = errors.New("actor is banned")

	ErrNotAPartOfCommunity = errors.New("not a part of community")
	ErrNotAModerator       = errors.New("not a moderator")

	// ErrPlatformLackingPrivateCommunitySupport rejects follows of private
	// communities from peers that cannot honour approval
	ErrPlatformLackingPrivateCommunitySupport = errors.New("platform lacking private community support")

	ErrMalformedURL  = errors.New("malformed url")
	ErrSerialization = errors.New("serialization error")

	// ErrQueueClosed is returned when submitting to a closed ActivityChannel
	ErrQueueClosed = errors.New("activity queue closed")
)

// storeErr maps storage level not found onto ErrNotFound
func storeErr(err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
