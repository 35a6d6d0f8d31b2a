package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/threadfed/domain"
	"github.com/google/uuid"
)

// ErrEmptySendTargets is returned when an outbox record would reach nobody
var ErrEmptySendTargets = errors.New("sent activity has no send targets")

// Sent activity queries
const (
	sqlSentActivityColumns = `id, ap_id, data, sensitive, send_inboxes, send_all_instances, send_community_followers_of, actor_type, actor_ap_id, published_at`
	sqlInsertSentActivity  = `INSERT INTO sent_activities(` + sqlSentActivityColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectSentByApId    = `SELECT ` + sqlSentActivityColumns + ` FROM sent_activities WHERE ap_id = ?`
	sqlSelectSentRecent    = `SELECT ` + sqlSentActivityColumns + ` FROM sent_activities ORDER BY published_at DESC, rowid DESC LIMIT ?`
	sqlCountSent           = `SELECT COUNT(*) FROM sent_activities`
	sqlSelectSentPublic    = `SELECT ` + sqlSentActivityColumns + ` FROM sent_activities WHERE sensitive = 0 ORDER BY published_at DESC, rowid DESC LIMIT ? OFFSET ?`
	sqlCountSentPublic     = `SELECT COUNT(*) FROM sent_activities WHERE sensitive = 0`
)

// Received activity queries
const (
	sqlInsertReceived = `INSERT INTO received_activities(ap_id, published_at) VALUES (?, ?) ON CONFLICT(ap_id) DO NOTHING`
	sqlDeleteReceived = `DELETE FROM received_activities WHERE ap_id = ?`
)

// CreateSentActivity appends one outbox record
func (db *DB) CreateSentActivity(ctx context.Context, act *domain.SentActivity) error {
	if act.SendTargets.IsEmpty() {
		return ErrEmptySendTargets
	}
	if act.Id == uuid.Nil {
		act.Id = uuid.New()
	}
	if act.PublishedAt.IsZero() {
		act.PublishedAt = time.Now()
	}
	inboxes, err := json.Marshal(act.SendTargets.InboxList())
	if err != nil {
		return fmt.Errorf("failed to encode send inboxes: %w", err)
	}
	var followersOf sql.NullString
	if act.SendTargets.CommunityFollowersOf != nil {
		followersOf = sql.NullString{String: act.SendTargets.CommunityFollowersOf.String(), Valid: true}
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertSentActivity,
			act.Id.String(),
			act.ApId,
			act.Data,
			act.Sensitive,
			string(inboxes),
			act.SendTargets.AllInstances,
			followersOf,
			string(act.ActorType),
			act.ActorApId,
			act.PublishedAt,
		)
		return err
	})
}

func (db *DB) ReadSentActivityByApId(ctx context.Context, apId string) (*domain.SentActivity, error) {
	return scanSentActivity(db.db.QueryRowContext(ctx, sqlSelectSentByApId, apId))
}

// ReadRecentSentActivities returns the newest outbox records first
func (db *DB) ReadRecentSentActivities(ctx context.Context, limit int) ([]domain.SentActivity, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectSentRecent, limit)
	if err != nil {
		return nil, err
	}
	return collectSentActivities(rows)
}

// ReadPublicSentActivities pages through the non-sensitive outbox, newest first
func (db *DB) ReadPublicSentActivities(ctx context.Context, limit, offset int) ([]domain.SentActivity, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectSentPublic, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectSentActivities(rows)
}

func (db *DB) CountPublicSentActivities(ctx context.Context) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountSentPublic).Scan(&n)
	return n, err
}

func collectSentActivities(rows *sql.Rows) ([]domain.SentActivity, error) {
	defer rows.Close()

	var acts []domain.SentActivity
	for rows.Next() {
		act, err := scanSentActivity(rows)
		if err != nil {
			return acts, err
		}
		acts = append(acts, *act)
	}
	return acts, rows.Err()
}

func (db *DB) CountSentActivities(ctx context.Context) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountSent).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSentActivity(row rowScanner) (*domain.SentActivity, error) {
	var act domain.SentActivity
	var idStr, inboxes, actorType string
	var followersOf sql.NullString
	err := row.Scan(&idStr, &act.ApId, &act.Data, &act.Sensitive, &inboxes,
		&act.SendTargets.AllInstances, &followersOf, &actorType, &act.ActorApId, &act.PublishedAt)
	if err != nil {
		return nil, notFound(err)
	}
	act.Id, _ = uuid.Parse(idStr)
	act.ActorType = domain.ActorType(actorType)

	var list []string
	if err := json.Unmarshal([]byte(inboxes), &list); err != nil {
		return nil, fmt.Errorf("failed to decode send inboxes: %w", err)
	}
	if len(list) > 0 {
		act.SendTargets.Inboxes = make(map[string]struct{}, len(list))
		for _, inbox := range list {
			act.SendTargets.Inboxes[inbox] = struct{}{}
		}
	}
	if followersOf.Valid {
		id, err := uuid.Parse(followersOf.String)
		if err == nil {
			act.SendTargets.CommunityFollowersOf = &id
		}
	}
	return &act, nil
}

// MarkReceived records an inbound activity id. It reports false when the
// id was already recorded, i.e. the activity is a replay.
func (db *DB) MarkReceived(ctx context.Context, apId string) (bool, error) {
	var inserted bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlInsertReceived, apId, time.Now())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n == 1
		return nil
	})
	return inserted, err
}

// UnmarkReceived forgets an inbound activity id so a redelivery is processed again
func (db *DB) UnmarkReceived(ctx context.Context, apId string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteReceived, apId)
		return err
	})
}
