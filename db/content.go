package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/deemkeen/threadfed/domain"
	"github.com/google/uuid"
)

// Post queries
const (
	sqlPostColumns      = `id, ap_id, creator_id, community_id, name, body, url, deleted, removed, locked, featured, local, published_at, updated_at`
	sqlInsertPost       = `INSERT INTO posts(` + sqlPostColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectPostById   = `SELECT ` + sqlPostColumns + ` FROM posts WHERE id = ?`
	sqlSelectPostByApId = `SELECT ` + sqlPostColumns + ` FROM posts WHERE ap_id = ?`
)

func (db *DB) CreatePost(ctx context.Context, p *domain.Post) error {
	if p.Id == uuid.Nil {
		p.Id = uuid.New()
	}
	if p.PublishedAt.IsZero() {
		p.PublishedAt = time.Now()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPost,
			p.Id.String(), p.ApId, p.CreatorId.String(), p.CommunityId.String(),
			p.Name, p.Body, p.URL, p.Deleted, p.Removed, p.Locked, p.Featured, p.Local,
			p.PublishedAt.UTC(), nullTime(p.UpdatedAt),
		)
		return err
	})
}

func (db *DB) ReadPostById(ctx context.Context, id uuid.UUID) (*domain.Post, error) {
	return scanPost(db.db.QueryRowContext(ctx, sqlSelectPostById, id.String()))
}

func (db *DB) ReadPostByApId(ctx context.Context, apId string) (*domain.Post, error) {
	return scanPost(db.db.QueryRowContext(ctx, sqlSelectPostByApId, apId))
}

func scanPost(row *sql.Row) (*domain.Post, error) {
	var p domain.Post
	var idStr, creatorStr, communityStr string
	var updated sql.NullTime
	err := row.Scan(&idStr, &p.ApId, &creatorStr, &communityStr, &p.Name, &p.Body, &p.URL,
		&p.Deleted, &p.Removed, &p.Locked, &p.Featured, &p.Local, &p.PublishedAt, &updated)
	if err != nil {
		return nil, notFound(err)
	}
	p.Id, _ = uuid.Parse(idStr)
	p.CreatorId, _ = uuid.Parse(creatorStr)
	p.CommunityId, _ = uuid.Parse(communityStr)
	p.UpdatedAt = timePtr(updated)
	return &p, nil
}

// Comment queries
const (
	sqlCommentColumns      = `id, ap_id, creator_id, post_id, content, deleted, removed, local, published_at, updated_at`
	sqlInsertComment       = `INSERT INTO comments(` + sqlCommentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectCommentById   = `SELECT ` + sqlCommentColumns + ` FROM comments WHERE id = ?`
	sqlSelectCommentByApId = `SELECT ` + sqlCommentColumns + ` FROM comments WHERE ap_id = ?`
)

func (db *DB) CreateComment(ctx context.Context, c *domain.Comment) error {
	if c.Id == uuid.Nil {
		c.Id = uuid.New()
	}
	if c.PublishedAt.IsZero() {
		c.PublishedAt = time.Now()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertComment,
			c.Id.String(), c.ApId, c.CreatorId.String(), c.PostId.String(), c.Content,
			c.Deleted, c.Removed, c.Local, c.PublishedAt.UTC(), nullTime(c.UpdatedAt),
		)
		return err
	})
}

func (db *DB) ReadCommentById(ctx context.Context, id uuid.UUID) (*domain.Comment, error) {
	return scanComment(db.db.QueryRowContext(ctx, sqlSelectCommentById, id.String()))
}

func (db *DB) ReadCommentByApId(ctx context.Context, apId string) (*domain.Comment, error) {
	return scanComment(db.db.QueryRowContext(ctx, sqlSelectCommentByApId, apId))
}

func scanComment(row *sql.Row) (*domain.Comment, error) {
	var c domain.Comment
	var idStr, creatorStr, postStr string
	var updated sql.NullTime
	err := row.Scan(&idStr, &c.ApId, &creatorStr, &postStr, &c.Content,
		&c.Deleted, &c.Removed, &c.Local, &c.PublishedAt, &updated)
	if err != nil {
		return nil, notFound(err)
	}
	c.Id, _ = uuid.Parse(idStr)
	c.CreatorId, _ = uuid.Parse(creatorStr)
	c.PostId, _ = uuid.Parse(postStr)
	c.UpdatedAt = timePtr(updated)
	return &c, nil
}

// Private message queries
const (
	sqlPrivateMessageColumns = `id, ap_id, creator_id, recipient_id, content, deleted, local, published_at, updated_at`
	sqlInsertPrivateMessage  = `INSERT INTO private_messages(` + sqlPrivateMessageColumns + `) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`

	// Later edits win; an older or equal copy arriving out of order is ignored.
	sqlUpsertPrivateMessage = sqlInsertPrivateMessage + `
		ON CONFLICT(ap_id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at
		WHERE COALESCE(excluded.updated_at, excluded.published_at) > COALESCE(private_messages.updated_at, private_messages.published_at)`
	sqlSetPrivateMessageDeleted = `UPDATE private_messages SET deleted = ? WHERE ap_id = ?`
	sqlSelectPMById             = `SELECT ` + sqlPrivateMessageColumns + ` FROM private_messages WHERE id = ?`
	sqlSelectPMByApId           = `SELECT ` + sqlPrivateMessageColumns + ` FROM private_messages WHERE ap_id = ?`
)

// CreatePrivateMessage stores a locally authored message
func (db *DB) CreatePrivateMessage(ctx context.Context, pm *domain.PrivateMessage) error {
	if pm.Id == uuid.Nil {
		pm.Id = uuid.New()
	}
	if pm.PublishedAt.IsZero() {
		pm.PublishedAt = time.Now()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPrivateMessage,
			pm.Id.String(), pm.ApId, pm.CreatorId.String(), pm.RecipientId.String(), pm.Content,
			pm.Local, pm.PublishedAt.UTC(), nullTime(pm.UpdatedAt),
		)
		return err
	})
}

// UpsertPrivateMessage inserts a received message or applies an edit when
// it is newer than the stored copy, returning the stored row.
func (db *DB) UpsertPrivateMessage(ctx context.Context, form *domain.PrivateMessageForm) (*domain.PrivateMessage, error) {
	published := time.Now()
	if form.PublishedAt != nil {
		published = *form.PublishedAt
	}
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertPrivateMessage,
			uuid.New().String(), form.ApId, form.CreatorId.String(), form.RecipientId.String(), form.Content,
			form.Local, published.UTC(), nullTime(form.UpdatedAt),
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return db.ReadPrivateMessageByApId(ctx, form.ApId)
}

func (db *DB) SetPrivateMessageDeleted(ctx context.Context, apId string, deleted bool) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlSetPrivateMessageDeleted, deleted, apId)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (db *DB) ReadPrivateMessageById(ctx context.Context, id uuid.UUID) (*domain.PrivateMessage, error) {
	return scanPrivateMessage(db.db.QueryRowContext(ctx, sqlSelectPMById, id.String()))
}

func (db *DB) ReadPrivateMessageByApId(ctx context.Context, apId string) (*domain.PrivateMessage, error) {
	return scanPrivateMessage(db.db.QueryRowContext(ctx, sqlSelectPMByApId, apId))
}

func scanPrivateMessage(row *sql.Row) (*domain.PrivateMessage, error) {
	var pm domain.PrivateMessage
	var idStr, creatorStr, recipientStr string
	var updated sql.NullTime
	err := row.Scan(&idStr, &pm.ApId, &creatorStr, &recipientStr, &pm.Content,
		&pm.Deleted, &pm.Local, &pm.PublishedAt, &updated)
	if err != nil {
		return nil, notFound(err)
	}
	pm.Id, _ = uuid.Parse(idStr)
	pm.CreatorId, _ = uuid.Parse(creatorStr)
	pm.RecipientId, _ = uuid.Parse(recipientStr)
	pm.UpdatedAt = timePtr(updated)
	return &pm, nil
}

// Report queries
const (
	sqlReportColumns = `id, ap_id, creator_id, object_ap_id, community_id, reason, resolved, published_at`
	sqlInsertReport  = `INSERT INTO reports(` + sqlReportColumns + `) VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(ap_id) DO NOTHING`
	sqlResolveReports    = `UPDATE reports SET resolved = 1 WHERE object_ap_id = ? AND creator_id = ?`
	sqlSelectReportsOpen = `SELECT ` + sqlReportColumns + ` FROM reports WHERE community_id = ? AND resolved = 0 ORDER BY published_at ASC`
)

// CreateReport stores a report once per activity id
func (db *DB) CreateReport(ctx context.Context, r *domain.Report) error {
	if r.Id == uuid.Nil {
		r.Id = uuid.New()
	}
	if r.PublishedAt.IsZero() {
		r.PublishedAt = time.Now()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertReport,
			r.Id.String(), r.ApId, r.CreatorId.String(), r.ObjectApId, r.CommunityId.String(),
			r.Reason, r.PublishedAt.UTC(),
		)
		return err
	})
}

// ResolveReports marks every report by creator against the object resolved
func (db *DB) ResolveReports(ctx context.Context, objectApId string, creatorId uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlResolveReports, objectApId, creatorId.String())
		return err
	})
}

func (db *DB) ReadOpenReports(ctx context.Context, communityId uuid.UUID) ([]domain.Report, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectReportsOpen, communityId.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []domain.Report
	for rows.Next() {
		var r domain.Report
		var idStr, creatorStr, communityStr string
		if err := rows.Scan(&idStr, &r.ApId, &creatorStr, &r.ObjectApId, &communityStr,
			&r.Reason, &r.Resolved, &r.PublishedAt); err != nil {
			return reports, err
		}
		r.Id, _ = uuid.Parse(idStr)
		r.CreatorId, _ = uuid.Parse(creatorStr)
		r.CommunityId, _ = uuid.Parse(communityStr)
		reports = append(reports, r)
	}
	return reports, rows.Err()
}
