package activitypub

import (
	"strings"

	"github.com/deemkeen/threadfed/domain"
	"golang.org/x/mod/semver"
)

// Software names of peers that cannot keep a follow in approval state
var privateCommunityIncompatible = map[string]struct{}{
	"kbin": {},
	"mbin": {},
}

// DialectPolicy decides which peers still speak the legacy private message dialect
type DialectPolicy struct {
	LegacySoftware     string
	LegacyBelowVersion string
}

// DefaultDialectPolicy treats lemmy before 0.20.0 as legacy
var DefaultDialectPolicy = DialectPolicy{LegacySoftware: "lemmy", LegacyBelowVersion: "0.20.0"}

// IsLegacyPeer reports whether software/version falls in [any, LegacyBelowVersion)
// of the legacy implementation. Unparseable versions are not legacy.
func (p DialectPolicy) IsLegacyPeer(software, version string) bool {
	if software == "" || !strings.EqualFold(software, p.LegacySoftware) {
		return false
	}
	v := canonicalVersion(version)
	below := canonicalVersion(p.LegacyBelowVersion)
	if v == "" || below == "" {
		return false
	}
	return semver.Compare(v, below) < 0
}

// IsLegacyPeer applies DefaultDialectPolicy
func IsLegacyPeer(software, version string) bool {
	return DefaultDialectPolicy.IsLegacyPeer(software, version)
}

func canonicalVersion(version string) string {
	version = strings.TrimSpace(version)
	if version == "" {
		return ""
	}
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	if !semver.IsValid(version) {
		return ""
	}
	return semver.Canonical(version)
}

// SupportsPrivateCommunities is false for peers known to lack approval based follows
func SupportsPrivateCommunities(software string) bool {
	_, lacking := privateCommunityIncompatible[strings.ToLower(software)]
	return !lacking
}

// FollowStateFor maps a community's visibility and the follower's instance
// software onto the state of a new remote follow.
func FollowStateFor(visibility domain.CommunityVisibility, followerSoftware string) (domain.FollowState, error) {
	switch visibility {
	case domain.VisibilityPublic, domain.VisibilityUnlisted:
		return domain.FollowAccepted, nil
	case domain.VisibilityPrivate:
		if !SupportsPrivateCommunities(followerSoftware) {
			return "", ErrPlatformLackingPrivateCommunitySupport
		}
		return domain.FollowApprovalRequired, nil
	case domain.VisibilityLocalOnlyPublic, domain.VisibilityLocalOnlyPrivate:
		// local-only communities never accept remote follows
		return "", ErrNotFound
	default:
		return "", ErrNotFound
	}
}
