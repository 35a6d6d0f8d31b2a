package db

import (
	"context"
	"database/sql"

	"go.uber.org/zap"
)

const (
	sqlCreateInstancesTable = `CREATE TABLE IF NOT EXISTS instances (
		domain TEXT NOT NULL PRIMARY KEY,
		software TEXT NOT NULL DEFAULT '',
		version TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreatePersonsTable = `CREATE TABLE IF NOT EXISTS persons (
		id TEXT NOT NULL PRIMARY KEY,
		ap_id TEXT UNIQUE NOT NULL,
		username TEXT NOT NULL,
		instance_domain TEXT NOT NULL,
		inbox_url TEXT NOT NULL,
		shared_inbox_url TEXT NOT NULL DEFAULT '',
		public_key_pem TEXT NOT NULL DEFAULT '',
		local INTEGER DEFAULT 0,
		admin INTEGER DEFAULT 0,
		deleted INTEGER DEFAULT 0,
		last_fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateCommunitiesTable = `CREATE TABLE IF NOT EXISTS communities (
		id TEXT NOT NULL PRIMARY KEY,
		ap_id TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		instance_domain TEXT NOT NULL,
		inbox_url TEXT NOT NULL,
		shared_inbox_url TEXT NOT NULL DEFAULT '',
		public_key_pem TEXT NOT NULL DEFAULT '',
		visibility TEXT NOT NULL DEFAULT 'public',
		local INTEGER DEFAULT 0,
		deleted INTEGER DEFAULT 0,
		removed INTEGER DEFAULT 0,
		last_fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateMultiCommunitiesTable = `CREATE TABLE IF NOT EXISTS multi_communities (
		id TEXT NOT NULL PRIMARY KEY,
		ap_id TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		creator_id TEXT NOT NULL,
		instance_domain TEXT NOT NULL,
		inbox_url TEXT NOT NULL,
		public_key_pem TEXT NOT NULL DEFAULT '',
		local INTEGER DEFAULT 0,
		last_fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateModeratorsTable = `CREATE TABLE IF NOT EXISTS community_moderators (
		community_id TEXT NOT NULL,
		person_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (community_id, person_id)
	)`

	sqlCreateCommunityBansTable = `CREATE TABLE IF NOT EXISTS community_bans (
		community_id TEXT NOT NULL,
		person_id TEXT NOT NULL,
		expires_at TIMESTAMP,
		PRIMARY KEY (community_id, person_id)
	)`

	sqlCreateInstanceBansTable = `CREATE TABLE IF NOT EXISTS instance_bans (
		person_id TEXT NOT NULL,
		instance_domain TEXT NOT NULL,
		expires_at TIMESTAMP,
		PRIMARY KEY (person_id, instance_domain)
	)`

	sqlCreatePersonBlocksTable = `CREATE TABLE IF NOT EXISTS person_blocks (
		person_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		PRIMARY KEY (person_id, target_id)
	)`

	// One live relationship per (follower, target, kind)
	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		id TEXT NOT NULL PRIMARY KEY,
		follower_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		target_kind TEXT NOT NULL,
		state TEXT NOT NULL,
		pending_undo INTEGER DEFAULT 0,
		uri TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(follower_id, target_id, target_kind)
	)`

	sqlCreatePostsTable = `CREATE TABLE IF NOT EXISTS posts (
		id TEXT NOT NULL PRIMARY KEY,
		ap_id TEXT UNIQUE NOT NULL,
		creator_id TEXT NOT NULL,
		community_id TEXT NOT NULL,
		name TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		deleted INTEGER DEFAULT 0,
		removed INTEGER DEFAULT 0,
		locked INTEGER DEFAULT 0,
		featured INTEGER DEFAULT 0,
		local INTEGER DEFAULT 0,
		published_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP
	)`

	sqlCreateCommentsTable = `CREATE TABLE IF NOT EXISTS comments (
		id TEXT NOT NULL PRIMARY KEY,
		ap_id TEXT UNIQUE NOT NULL,
		creator_id TEXT NOT NULL,
		post_id TEXT NOT NULL,
		content TEXT NOT NULL,
		deleted INTEGER DEFAULT 0,
		removed INTEGER DEFAULT 0,
		local INTEGER DEFAULT 0,
		published_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP
	)`

	sqlCreatePrivateMessagesTable = `CREATE TABLE IF NOT EXISTS private_messages (
		id TEXT NOT NULL PRIMARY KEY,
		ap_id TEXT UNIQUE NOT NULL,
		creator_id TEXT NOT NULL,
		recipient_id TEXT NOT NULL,
		content TEXT NOT NULL,
		deleted INTEGER DEFAULT 0,
		local INTEGER DEFAULT 0,
		published_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP
	)`

	sqlCreateReportsTable = `CREATE TABLE IF NOT EXISTS reports (
		id TEXT NOT NULL PRIMARY KEY,
		ap_id TEXT UNIQUE NOT NULL,
		creator_id TEXT NOT NULL,
		object_ap_id TEXT NOT NULL,
		community_id TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		resolved INTEGER DEFAULT 0,
		published_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	// Outbox, append-only
	sqlCreateSentActivitiesTable = `CREATE TABLE IF NOT EXISTS sent_activities (
		id TEXT NOT NULL PRIMARY KEY,
		ap_id TEXT UNIQUE NOT NULL,
		data TEXT NOT NULL,
		sensitive INTEGER DEFAULT 0,
		send_inboxes TEXT NOT NULL DEFAULT '[]',
		send_all_instances INTEGER DEFAULT 0,
		send_community_followers_of TEXT,
		actor_type TEXT NOT NULL,
		actor_ap_id TEXT NOT NULL,
		published_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	// Replay log for inbound activities
	sqlCreateReceivedActivitiesTable = `CREATE TABLE IF NOT EXISTS received_activities (
		ap_id TEXT NOT NULL PRIMARY KEY,
		published_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateIndices = `
		CREATE INDEX IF NOT EXISTS idx_persons_instance ON persons(instance_domain);
		CREATE INDEX IF NOT EXISTS idx_follows_target ON follows(target_id, target_kind);
		CREATE INDEX IF NOT EXISTS idx_follows_uri ON follows(uri);
		CREATE INDEX IF NOT EXISTS idx_posts_community ON posts(community_id);
		CREATE INDEX IF NOT EXISTS idx_comments_post ON comments(post_id);
		CREATE INDEX IF NOT EXISTS idx_sent_activities_published ON sent_activities(published_at DESC);
	`
)

var migrationTables = []struct {
	name string
	sql  string
}{
	{"instances", sqlCreateInstancesTable},
	{"persons", sqlCreatePersonsTable},
	{"communities", sqlCreateCommunitiesTable},
	{"multi_communities", sqlCreateMultiCommunitiesTable},
	{"community_moderators", sqlCreateModeratorsTable},
	{"community_bans", sqlCreateCommunityBansTable},
	{"instance_bans", sqlCreateInstanceBansTable},
	{"person_blocks", sqlCreatePersonBlocksTable},
	{"follows", sqlCreateFollowsTable},
	{"posts", sqlCreatePostsTable},
	{"comments", sqlCreateCommentsTable},
	{"private_messages", sqlCreatePrivateMessagesTable},
	{"reports", sqlCreateReportsTable},
	{"sent_activities", sqlCreateSentActivitiesTable},
	{"received_activities", sqlCreateReceivedActivitiesTable},
}

// RunMigrations executes all database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		for _, table := range migrationTables {
			if err := db.createTableIfNotExists(tx, table.sql, table.name); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(sqlCreateIndices); err != nil {
			db.log.Warn("Failed to create indices", zap.Error(err))
		}
		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	if _, err := tx.Exec(createSQL); err != nil {
		db.log.Error("Error creating table", zap.String("table", tableName), zap.Error(err))
		return err
	}
	db.log.Debug("Table created or already exists", zap.String("table", tableName))
	return nil
}
