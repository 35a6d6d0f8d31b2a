package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/deemkeen/threadfed/domain"
	"github.com/google/uuid"
)

// Follow queries
const (
	sqlFollowColumns = `id, follower_id, target_id, target_kind, state, pending_undo, uri, created_at`

	// Single statement upsert keyed by the unique triple. An accepted
	// relationship is never downgraded by a repeated Follow.
	sqlUpsertFollow = `INSERT INTO follows(` + sqlFollowColumns + `) VALUES (?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(follower_id, target_id, target_kind) DO UPDATE SET
			state = CASE WHEN follows.state = 'accepted' THEN follows.state ELSE excluded.state END,
			uri = CASE WHEN excluded.uri != '' THEN excluded.uri ELSE follows.uri END,
			pending_undo = 0`
	sqlAcceptFollow        = `UPDATE follows SET state = 'accepted' WHERE follower_id = ? AND target_id = ? AND target_kind = ?`
	sqlMarkFollowUndo      = `UPDATE follows SET pending_undo = 1 WHERE follower_id = ? AND target_id = ? AND target_kind = ?`
	sqlDeleteFollow        = `DELETE FROM follows WHERE follower_id = ? AND target_id = ? AND target_kind = ?`
	sqlSelectFollow        = `SELECT ` + sqlFollowColumns + ` FROM follows WHERE follower_id = ? AND target_id = ? AND target_kind = ?`
	sqlSelectFollowsTarget = `SELECT ` + sqlFollowColumns + ` FROM follows WHERE target_id = ? AND target_kind = ? ORDER BY created_at ASC`
)

// UpsertFollow atomically creates the relationship or updates its state,
// returning the stored row.
func (db *DB) UpsertFollow(ctx context.Context, follow *domain.Follow) (*domain.Follow, error) {
	if follow.Id == uuid.Nil {
		follow.Id = uuid.New()
	}
	if follow.CreatedAt.IsZero() {
		follow.CreatedAt = time.Now()
	}
	var stored *domain.Follow
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertFollow,
			follow.Id.String(),
			follow.FollowerId.String(),
			follow.TargetId.String(),
			string(follow.TargetKind),
			string(follow.State),
			follow.URI,
			follow.CreatedAt,
		)
		if err != nil {
			return err
		}
		// Read back inside the transaction so a concurrent delete cannot interleave
		stored, err = scanFollow(tx.QueryRow(sqlSelectFollow, follow.FollowerId.String(), follow.TargetId.String(), string(follow.TargetKind)))
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// AcceptFollow moves an existing relationship to accepted. A missing
// relationship is ErrNotFound.
func (db *DB) AcceptFollow(ctx context.Context, followerId, targetId uuid.UUID, kind domain.FollowTargetKind) error {
	return db.updateFollow(ctx, sqlAcceptFollow, followerId, targetId, kind)
}

// MarkFollowPendingUndo flags a local unfollow that has not federated yet
func (db *DB) MarkFollowPendingUndo(ctx context.Context, followerId, targetId uuid.UUID, kind domain.FollowTargetKind) error {
	return db.updateFollow(ctx, sqlMarkFollowUndo, followerId, targetId, kind)
}

func (db *DB) updateFollow(ctx context.Context, query string, followerId, targetId uuid.UUID, kind domain.FollowTargetKind) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(query, followerId.String(), targetId.String(), string(kind))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteFollow removes the relationship. Deleting a missing relationship is not an error.
func (db *DB) DeleteFollow(ctx context.Context, followerId, targetId uuid.UUID, kind domain.FollowTargetKind) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollow, followerId.String(), targetId.String(), string(kind))
		return err
	})
}

func (db *DB) ReadFollow(ctx context.Context, followerId, targetId uuid.UUID, kind domain.FollowTargetKind) (*domain.Follow, error) {
	return scanFollow(db.db.QueryRowContext(ctx, sqlSelectFollow, followerId.String(), targetId.String(), string(kind)))
}

func scanFollow(row rowScanner) (*domain.Follow, error) {
	var follow domain.Follow
	var idStr, followerStr, targetStr, kindStr, stateStr string
	err := row.Scan(&idStr, &followerStr, &targetStr, &kindStr, &stateStr, &follow.PendingUndo, &follow.URI, &follow.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	follow.Id, _ = uuid.Parse(idStr)
	follow.FollowerId, _ = uuid.Parse(followerStr)
	follow.TargetId, _ = uuid.Parse(targetStr)
	follow.TargetKind = domain.FollowTargetKind(kindStr)
	follow.State = domain.FollowState(stateStr)
	return &follow, nil
}

func (db *DB) ReadFollowsByTarget(ctx context.Context, targetId uuid.UUID, kind domain.FollowTargetKind) ([]domain.Follow, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectFollowsTarget, targetId.String(), string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var follows []domain.Follow
	for rows.Next() {
		follow, err := scanFollow(rows)
		if err != nil {
			return follows, err
		}
		follows = append(follows, *follow)
	}
	return follows, rows.Err()
}

// IsCommunityMember reports whether the person holds an accepted follow of the community
func (db *DB) IsCommunityMember(ctx context.Context, personId, communityId uuid.UUID) (bool, error) {
	return db.exists(ctx, sqlSelectIsMember, personId.String(), communityId.String())
}

const sqlSelectIsMember = `SELECT COUNT(*) FROM follows WHERE follower_id = ? AND target_id = ? AND target_kind = 'community' AND state = 'accepted'`
