package activitypub

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/deemkeen/threadfed/domain"
	"github.com/deemkeen/threadfed/util"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the storage the federation core reads and mutates.
// *db.DB implements it.
type Store interface {
	ReadInstance(ctx context.Context, domainName string) (*domain.Instance, error)
	UpsertInstance(ctx context.Context, inst *domain.Instance) error

	UpsertPerson(ctx context.Context, p *domain.Person) (*domain.Person, error)
	ReadPersonById(ctx context.Context, id uuid.UUID) (*domain.Person, error)
	ReadPersonByApId(ctx context.Context, apId string) (*domain.Person, error)
	UpsertCommunity(ctx context.Context, c *domain.Community) (*domain.Community, error)
	ReadCommunityById(ctx context.Context, id uuid.UUID) (*domain.Community, error)
	ReadCommunityByApId(ctx context.Context, apId string) (*domain.Community, error)
	UpsertMultiCommunity(ctx context.Context, m *domain.MultiCommunity) (*domain.MultiCommunity, error)
	ReadMultiCommunityByApId(ctx context.Context, apId string) (*domain.MultiCommunity, error)

	IsModerator(ctx context.Context, communityId, personId uuid.UUID) (bool, error)
	BanFromCommunity(ctx context.Context, communityId, personId uuid.UUID, expiresAt *time.Time) error
	UnbanFromCommunity(ctx context.Context, communityId, personId uuid.UUID) error
	IsBannedFromCommunity(ctx context.Context, communityId, personId uuid.UUID) (bool, error)
	BanFromInstance(ctx context.Context, personId uuid.UUID, instanceDomain string, expiresAt *time.Time) error
	UnbanFromInstance(ctx context.Context, personId uuid.UUID, instanceDomain string) error
	IsBannedFromInstance(ctx context.Context, personId uuid.UUID, instanceDomain string) (bool, error)
	IsPersonBlocked(ctx context.Context, personId, targetId uuid.UUID) (bool, error)

	UpsertFollow(ctx context.Context, follow *domain.Follow) (*domain.Follow, error)
	AcceptFollow(ctx context.Context, followerId, targetId uuid.UUID, kind domain.FollowTargetKind) error
	MarkFollowPendingUndo(ctx context.Context, followerId, targetId uuid.UUID, kind domain.FollowTargetKind) error
	DeleteFollow(ctx context.Context, followerId, targetId uuid.UUID, kind domain.FollowTargetKind) error
	ReadFollow(ctx context.Context, followerId, targetId uuid.UUID, kind domain.FollowTargetKind) (*domain.Follow, error)
	IsCommunityMember(ctx context.Context, personId, communityId uuid.UUID) (bool, error)

	ReadPostById(ctx context.Context, id uuid.UUID) (*domain.Post, error)
	ReadPrivateMessageByApId(ctx context.Context, apId string) (*domain.PrivateMessage, error)
	UpsertPrivateMessage(ctx context.Context, form *domain.PrivateMessageForm) (*domain.PrivateMessage, error)
	SetPrivateMessageDeleted(ctx context.Context, apId string, deleted bool) error
	CreateReport(ctx context.Context, r *domain.Report) error

	CreateSentActivity(ctx context.Context, act *domain.SentActivity) error
	MarkReceived(ctx context.Context, apId string) (bool, error)
	UnmarkReceived(ctx context.Context, apId string) error
}

// Hooks are plugin callbacks around persisting received private messages.
// Before may rewrite or reject the form.
type Hooks interface {
	BeforeReceivePrivateMessage(ctx context.Context, form *domain.PrivateMessageForm) (*domain.PrivateMessageForm, error)
	AfterReceivePrivateMessage(ctx context.Context, pm *domain.PrivateMessage)
}

// NopHooks passes everything through unchanged
type NopHooks struct{}

func (NopHooks) BeforeReceivePrivateMessage(_ context.Context, form *domain.PrivateMessageForm) (*domain.PrivateMessageForm, error) {
	return form, nil
}

func (NopHooks) AfterReceivePrivateMessage(context.Context, *domain.PrivateMessage) {}

// Federation carries what every inbound and outbound handler needs
type Federation struct {
	store       Store
	resolver    Resolver
	hooks       Hooks
	queue       *ActivityChannel
	validate    *validator.Validate
	dialect     DialectPolicy
	baseURL     string
	localDomain string
	log         *zap.Logger
}

type Option func(*Federation)

func WithHooks(h Hooks) Option {
	return func(f *Federation) { f.hooks = h }
}

// WithQueue attaches the outgoing queue used by local follow actions
func WithQueue(q *ActivityChannel) Option {
	return func(f *Federation) { f.queue = q }
}

func NewFederation(conf *util.AppConfig, store Store, resolver Resolver, logger *zap.Logger, opts ...Option) (*Federation, error) {
	baseURL := conf.BaseURL()
	if err := checkBaseURL(baseURL); err != nil {
		return nil, err
	}
	u, _ := url.Parse(baseURL)
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Federation{
		store:    store,
		resolver: resolver,
		hooks:    NopHooks{},
		validate: validator.New(),
		dialect: DialectPolicy{
			LegacySoftware:     conf.Conf.LegacySoftware,
			LegacyBelowVersion: conf.Conf.LegacyBelowVersion,
		},
		baseURL:     baseURL,
		localDomain: u.Host,
		log:         logger,
	}
	if f.dialect.LegacySoftware == "" || f.dialect.LegacyBelowVersion == "" {
		f.dialect = DefaultDialectPolicy
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *Federation) BaseURL() string { return f.baseURL }

func (f *Federation) LocalDomain() string { return f.localDomain }

func (f *Federation) activityID(kind string) (string, error) {
	id, err := NewActivityID(kind, f.baseURL)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// validateWire runs struct validation, reporting failures as ErrSerialization
func (f *Federation) validateWire(v any) error {
	if err := f.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return nil
}
