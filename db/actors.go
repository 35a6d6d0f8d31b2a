package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/deemkeen/threadfed/domain"
	"github.com/google/uuid"
)

// Instance queries
const (
	sqlUpsertInstance = `INSERT INTO instances(domain, software, version, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET software = excluded.software, version = excluded.version, updated_at = excluded.updated_at`
	sqlSelectInstance = `SELECT domain, software, version, updated_at FROM instances WHERE domain = ?`
)

func (db *DB) UpsertInstance(ctx context.Context, inst *domain.Instance) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertInstance, inst.Domain, inst.Software, inst.Version, inst.UpdatedAt)
		return err
	})
}

func (db *DB) ReadInstance(ctx context.Context, domainName string) (*domain.Instance, error) {
	var inst domain.Instance
	err := db.db.QueryRowContext(ctx, sqlSelectInstance, domainName).Scan(&inst.Domain, &inst.Software, &inst.Version, &inst.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &inst, nil
}

// Person queries
const (
	sqlPersonColumns  = `id, ap_id, username, instance_domain, inbox_url, shared_inbox_url, public_key_pem, local, admin, deleted, last_fetched_at`
	sqlUpsertPerson   = `INSERT INTO persons(` + sqlPersonColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ap_id) DO UPDATE SET username = excluded.username, inbox_url = excluded.inbox_url,
		shared_inbox_url = excluded.shared_inbox_url, public_key_pem = excluded.public_key_pem,
		deleted = excluded.deleted, last_fetched_at = excluded.last_fetched_at`
	sqlSelectPersonById   = `SELECT ` + sqlPersonColumns + ` FROM persons WHERE id = ?`
	sqlSelectPersonByApId = `SELECT ` + sqlPersonColumns + ` FROM persons WHERE ap_id = ?`
)

// UpsertPerson inserts the person or refreshes the cached copy keyed by ap_id.
// The stored id wins over p.Id on conflict; the returned person carries it.
func (db *DB) UpsertPerson(ctx context.Context, p *domain.Person) (*domain.Person, error) {
	if p.Id == uuid.Nil {
		p.Id = uuid.New()
	}
	if p.LastFetchedAt.IsZero() {
		p.LastFetchedAt = time.Now()
	}
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertPerson,
			p.Id.String(),
			p.ApId,
			p.Username,
			p.InstanceDomain,
			p.InboxURL,
			p.SharedInboxURL,
			p.PublicKeyPem,
			p.Local,
			p.Admin,
			p.Deleted,
			p.LastFetchedAt,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return db.ReadPersonByApId(ctx, p.ApId)
}

func (db *DB) ReadPersonById(ctx context.Context, id uuid.UUID) (*domain.Person, error) {
	return scanPerson(db.db.QueryRowContext(ctx, sqlSelectPersonById, id.String()))
}

func (db *DB) ReadPersonByApId(ctx context.Context, apId string) (*domain.Person, error) {
	return scanPerson(db.db.QueryRowContext(ctx, sqlSelectPersonByApId, apId))
}

func scanPerson(row *sql.Row) (*domain.Person, error) {
	var p domain.Person
	var idStr string
	err := row.Scan(
		&idStr,
		&p.ApId,
		&p.Username,
		&p.InstanceDomain,
		&p.InboxURL,
		&p.SharedInboxURL,
		&p.PublicKeyPem,
		&p.Local,
		&p.Admin,
		&p.Deleted,
		&p.LastFetchedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	p.Id, _ = uuid.Parse(idStr)
	return &p, nil
}

// Community queries
const (
	sqlCommunityColumns  = `id, ap_id, name, title, description, instance_domain, inbox_url, shared_inbox_url, public_key_pem, visibility, local, deleted, removed, last_fetched_at`
	sqlUpsertCommunity   = `INSERT INTO communities(` + sqlCommunityColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ap_id) DO UPDATE SET name = excluded.name, title = excluded.title, description = excluded.description,
		inbox_url = excluded.inbox_url, shared_inbox_url = excluded.shared_inbox_url, public_key_pem = excluded.public_key_pem,
		visibility = excluded.visibility, deleted = excluded.deleted, removed = excluded.removed,
		last_fetched_at = excluded.last_fetched_at`
	sqlSelectCommunityById   = `SELECT ` + sqlCommunityColumns + ` FROM communities WHERE id = ?`
	sqlSelectCommunityByApId = `SELECT ` + sqlCommunityColumns + ` FROM communities WHERE ap_id = ?`
)

func (db *DB) UpsertCommunity(ctx context.Context, c *domain.Community) (*domain.Community, error) {
	if c.Id == uuid.Nil {
		c.Id = uuid.New()
	}
	if c.Visibility == "" {
		c.Visibility = domain.VisibilityPublic
	}
	if c.LastFetchedAt.IsZero() {
		c.LastFetchedAt = time.Now()
	}
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertCommunity,
			c.Id.String(),
			c.ApId,
			c.Name,
			c.Title,
			c.Description,
			c.InstanceDomain,
			c.InboxURL,
			c.SharedInboxURL,
			c.PublicKeyPem,
			string(c.Visibility),
			c.Local,
			c.Deleted,
			c.Removed,
			c.LastFetchedAt,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return db.ReadCommunityByApId(ctx, c.ApId)
}

func (db *DB) ReadCommunityById(ctx context.Context, id uuid.UUID) (*domain.Community, error) {
	return scanCommunity(db.db.QueryRowContext(ctx, sqlSelectCommunityById, id.String()))
}

func (db *DB) ReadCommunityByApId(ctx context.Context, apId string) (*domain.Community, error) {
	return scanCommunity(db.db.QueryRowContext(ctx, sqlSelectCommunityByApId, apId))
}

func scanCommunity(row *sql.Row) (*domain.Community, error) {
	var c domain.Community
	var idStr, visibility string
	err := row.Scan(
		&idStr,
		&c.ApId,
		&c.Name,
		&c.Title,
		&c.Description,
		&c.InstanceDomain,
		&c.InboxURL,
		&c.SharedInboxURL,
		&c.PublicKeyPem,
		&visibility,
		&c.Local,
		&c.Deleted,
		&c.Removed,
		&c.LastFetchedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	c.Id, _ = uuid.Parse(idStr)
	c.Visibility = domain.CommunityVisibility(visibility)
	return &c, nil
}

// Multi-community queries
const (
	sqlMultiColumns  = `id, ap_id, name, title, creator_id, instance_domain, inbox_url, public_key_pem, local, last_fetched_at`
	sqlUpsertMulti   = `INSERT INTO multi_communities(` + sqlMultiColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ap_id) DO UPDATE SET name = excluded.name, title = excluded.title, inbox_url = excluded.inbox_url,
		public_key_pem = excluded.public_key_pem, last_fetched_at = excluded.last_fetched_at`
	sqlSelectMultiById   = `SELECT ` + sqlMultiColumns + ` FROM multi_communities WHERE id = ?`
	sqlSelectMultiByApId = `SELECT ` + sqlMultiColumns + ` FROM multi_communities WHERE ap_id = ?`
)

func (db *DB) UpsertMultiCommunity(ctx context.Context, m *domain.MultiCommunity) (*domain.MultiCommunity, error) {
	if m.Id == uuid.Nil {
		m.Id = uuid.New()
	}
	if m.LastFetchedAt.IsZero() {
		m.LastFetchedAt = time.Now()
	}
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertMulti,
			m.Id.String(),
			m.ApId,
			m.Name,
			m.Title,
			m.CreatorId.String(),
			m.InstanceDomain,
			m.InboxURL,
			m.PublicKeyPem,
			m.Local,
			m.LastFetchedAt,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return db.ReadMultiCommunityByApId(ctx, m.ApId)
}

func (db *DB) ReadMultiCommunityById(ctx context.Context, id uuid.UUID) (*domain.MultiCommunity, error) {
	return scanMulti(db.db.QueryRowContext(ctx, sqlSelectMultiById, id.String()))
}

func (db *DB) ReadMultiCommunityByApId(ctx context.Context, apId string) (*domain.MultiCommunity, error) {
	return scanMulti(db.db.QueryRowContext(ctx, sqlSelectMultiByApId, apId))
}

func scanMulti(row *sql.Row) (*domain.MultiCommunity, error) {
	var m domain.MultiCommunity
	var idStr, creatorStr string
	err := row.Scan(
		&idStr,
		&m.ApId,
		&m.Name,
		&m.Title,
		&creatorStr,
		&m.InstanceDomain,
		&m.InboxURL,
		&m.PublicKeyPem,
		&m.Local,
		&m.LastFetchedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	m.Id, _ = uuid.Parse(idStr)
	m.CreatorId, _ = uuid.Parse(creatorStr)
	return &m, nil
}

// Moderation queries
const (
	sqlInsertModerator   = `INSERT INTO community_moderators(community_id, person_id, created_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`
	sqlDeleteModerator   = `DELETE FROM community_moderators WHERE community_id = ? AND person_id = ?`
	sqlSelectIsModerator = `SELECT COUNT(*) FROM community_moderators WHERE community_id = ? AND person_id = ?`

	sqlUpsertCommunityBan = `INSERT INTO community_bans(community_id, person_id, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(community_id, person_id) DO UPDATE SET expires_at = excluded.expires_at`
	sqlDeleteCommunityBan   = `DELETE FROM community_bans WHERE community_id = ? AND person_id = ?`
	sqlSelectCommunityBanned = `SELECT COUNT(*) FROM community_bans WHERE community_id = ? AND person_id = ? AND (expires_at IS NULL OR expires_at > ?)`

	sqlUpsertInstanceBan = `INSERT INTO instance_bans(person_id, instance_domain, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(person_id, instance_domain) DO UPDATE SET expires_at = excluded.expires_at`
	sqlDeleteInstanceBan    = `DELETE FROM instance_bans WHERE person_id = ? AND instance_domain = ?`
	sqlSelectInstanceBanned = `SELECT COUNT(*) FROM instance_bans WHERE person_id = ? AND instance_domain = ? AND (expires_at IS NULL OR expires_at > ?)`

	sqlInsertPersonBlock = `INSERT INTO person_blocks(person_id, target_id) VALUES (?, ?) ON CONFLICT DO NOTHING`
	sqlSelectPersonBlock = `SELECT COUNT(*) FROM person_blocks WHERE person_id = ? AND target_id = ?`
)

func (db *DB) AddModerator(ctx context.Context, communityId, personId uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertModerator, communityId.String(), personId.String(), time.Now())
		return err
	})
}

func (db *DB) RemoveModerator(ctx context.Context, communityId, personId uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteModerator, communityId.String(), personId.String())
		return err
	})
}

func (db *DB) IsModerator(ctx context.Context, communityId, personId uuid.UUID) (bool, error) {
	return db.exists(ctx, sqlSelectIsModerator, communityId.String(), personId.String())
}

func (db *DB) BanFromCommunity(ctx context.Context, communityId, personId uuid.UUID, expiresAt *time.Time) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertCommunityBan, communityId.String(), personId.String(), nullTime(expiresAt))
		return err
	})
}

func (db *DB) UnbanFromCommunity(ctx context.Context, communityId, personId uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteCommunityBan, communityId.String(), personId.String())
		return err
	})
}

func (db *DB) IsBannedFromCommunity(ctx context.Context, communityId, personId uuid.UUID) (bool, error) {
	return db.exists(ctx, sqlSelectCommunityBanned, communityId.String(), personId.String(), time.Now().UTC())
}

func (db *DB) BanFromInstance(ctx context.Context, personId uuid.UUID, instanceDomain string, expiresAt *time.Time) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertInstanceBan, personId.String(), instanceDomain, nullTime(expiresAt))
		return err
	})
}

func (db *DB) UnbanFromInstance(ctx context.Context, personId uuid.UUID, instanceDomain string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteInstanceBan, personId.String(), instanceDomain)
		return err
	})
}

func (db *DB) IsBannedFromInstance(ctx context.Context, personId uuid.UUID, instanceDomain string) (bool, error) {
	return db.exists(ctx, sqlSelectInstanceBanned, personId.String(), instanceDomain, time.Now().UTC())
}

func (db *DB) BlockPerson(ctx context.Context, personId, targetId uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPersonBlock, personId.String(), targetId.String())
		return err
	})
}

func (db *DB) IsPersonBlocked(ctx context.Context, personId, targetId uuid.UUID) (bool, error) {
	return db.exists(ctx, sqlSelectPersonBlock, personId.String(), targetId.String())
}

func (db *DB) exists(ctx context.Context, query string, args ...interface{}) (bool, error) {
	var count int
	if err := db.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
