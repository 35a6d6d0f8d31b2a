package activitypub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/threadfed/domain"
	"github.com/deemkeen/threadfed/util"
	"go.uber.org/zap"
)

// dialectCache remembers the legacy decision per instance for one translation
type dialectCache map[string]bool

// isLegacy reports whether the instance still expects ChatMessage
func (f *Federation) isLegacy(ctx context.Context, instanceDomain string, cache dialectCache) (bool, error) {
	if legacy, ok := cache[instanceDomain]; ok {
		return legacy, nil
	}
	legacy := false
	if instanceDomain != f.localDomain {
		inst, err := f.resolver.ResolveInstance(ctx, instanceDomain)
		switch {
		case err == nil:
			legacy = f.dialect.IsLegacyPeer(inst.Software, inst.Version)
		case !errors.Is(storeErr(err), ErrNotFound):
			return false, err
		}
	}
	cache[instanceDomain] = legacy
	return legacy, nil
}

// PrivateMessageToWire builds the wire object of a stored message, tagged for
// the recipient's dialect.
func (f *Federation) PrivateMessageToWire(ctx context.Context, pm *domain.PrivateMessage) (*PrivateMessage, error) {
	creator, err := f.store.ReadPersonById(ctx, pm.CreatorId)
	if err != nil {
		return nil, fmt.Errorf("message creator: %w", storeErr(err))
	}
	recipient, err := f.store.ReadPersonById(ctx, pm.RecipientId)
	if err != nil {
		return nil, fmt.Errorf("message recipient: %w", storeErr(err))
	}
	return f.privateMessageToWire(ctx, pm, creator, recipient, dialectCache{})
}

func (f *Federation) privateMessageToWire(ctx context.Context, pm *domain.PrivateMessage, creator, recipient *domain.Person, cache dialectCache) (*PrivateMessage, error) {
	legacy, err := f.isLegacy(ctx, recipient.InstanceDomain, cache)
	if err != nil {
		return nil, err
	}
	kind := TypeNote
	if legacy {
		kind = TypeChatMessage
	}
	published := pm.PublishedAt
	return &PrivateMessage{
		Type:         kind,
		ID:           pm.ApId,
		AttributedTo: creator.ApId,
		To:           URIList{recipient.ApId},
		Content:      util.MarkdownToHTML(pm.Content),
		MediaType:    MediaTypeHTML,
		Source:       NewMarkdownSource(pm.Content),
		Published:    &published,
		Updated:      pm.UpdatedAt,
	}, nil
}

// PrivateMessageFromWire validates a received message and resolves its
// author and recipient. Nothing is stored.
func (f *Federation) PrivateMessageFromWire(ctx context.Context, note *PrivateMessage) (*domain.PrivateMessageForm, error) {
	if err := f.validateWire(note); err != nil {
		return nil, err
	}
	creator, err := f.resolver.ResolvePerson(ctx, note.AttributedTo)
	if err != nil {
		return nil, fmt.Errorf("message creator: %w", storeErr(err))
	}
	recipient, err := f.resolver.ResolvePerson(ctx, note.To[0])
	if err != nil {
		return nil, fmt.Errorf("message recipient: %w", storeErr(err))
	}

	content := note.Content
	if note.Source != nil && note.Source.MediaType == MediaTypeMarkdown {
		content = note.Source.Content
	}
	return &domain.PrivateMessageForm{
		ApId:        note.ID,
		CreatorId:   creator.Id,
		RecipientId: recipient.Id,
		Content:     content,
		Local:       creator.Local,
		PublishedAt: note.Published,
		UpdatedAt:   note.Updated,
	}, nil
}

type createOrUpdatePrivateMessage struct {
	CreateOrUpdate[PrivateMessage]
}

func (a *createOrUpdatePrivateMessage) verify(ctx context.Context, f *Federation) error {
	if _, err := f.verifyPerson(ctx, a.Actor); err != nil {
		return err
	}
	if len(a.To) > 0 && len(a.Object.To) > 0 {
		if err := verifyURLsMatch(a.To[0], a.Object.To[0]); err != nil {
			return err
		}
	}
	if err := verifyURLsMatch(a.Actor, a.Object.AttributedTo); err != nil {
		return err
	}
	if err := f.verifyIsRemoteObject(a.Object.ID); err != nil {
		return err
	}
	return verifyDomainsMatch(a.Object.AttributedTo, a.Object.ID)
}

func (a *createOrUpdatePrivateMessage) receive(ctx context.Context, f *Federation) error {
	form, err := f.PrivateMessageFromWire(ctx, &a.Object)
	if err != nil {
		return err
	}
	blocked, err := f.store.IsPersonBlocked(ctx, form.RecipientId, form.CreatorId)
	if err != nil {
		return err
	}
	if blocked {
		return fmt.Errorf("%w: recipient blocked %s", ErrBanned, a.Object.AttributedTo)
	}

	form, err = f.hooks.BeforeReceivePrivateMessage(ctx, form)
	if err != nil {
		return err
	}
	pm, err := f.store.UpsertPrivateMessage(ctx, form)
	if err != nil {
		return err
	}
	f.log.Debug("Stored private message", zap.String("id", pm.ApId), zap.String("type", a.Type))
	f.hooks.AfterReceivePrivateMessage(ctx, pm)
	return nil
}

// deletePrivateMessage is an inbound Delete of a private message
type deletePrivateMessage struct {
	Delete
}

func (a *deletePrivateMessage) verify(ctx context.Context, f *Federation) error {
	if _, err := f.verifyPerson(ctx, a.Actor); err != nil {
		return err
	}
	pm, err := f.store.ReadPrivateMessageByApId(ctx, a.Object)
	if err != nil {
		return storeErr(err)
	}
	creator, err := f.store.ReadPersonById(ctx, pm.CreatorId)
	if err != nil {
		return storeErr(err)
	}
	return verifyURLsMatch(a.Actor, creator.ApId)
}

func (a *deletePrivateMessage) receive(ctx context.Context, f *Federation) error {
	return storeErr(f.store.SetPrivateMessageDeleted(ctx, a.Object, true))
}

func (f *Federation) sendCreateOrUpdatePrivateMessage(ctx context.Context, pm *domain.PrivateMessage, kind string) error {
	creator, err := f.store.ReadPersonById(ctx, pm.CreatorId)
	if err != nil {
		return fmt.Errorf("message creator: %w", storeErr(err))
	}
	recipient, err := f.store.ReadPersonById(ctx, pm.RecipientId)
	if err != nil {
		return fmt.Errorf("message recipient: %w", storeErr(err))
	}
	note, err := f.privateMessageToWire(ctx, pm, creator, recipient, dialectCache{})
	if err != nil {
		return err
	}
	if kind == TypeUpdate && note.Updated == nil {
		now := time.Now()
		note.Updated = &now
	}
	base, err := f.newBase(kind, creator.ApId, recipient.ApId)
	if err != nil {
		return err
	}
	activity := &CreateOrUpdate[*PrivateMessage]{Base: base, Object: note}
	return f.sendActivity(ctx, activity, personActor(creator), ToInbox(recipient.Inbox()), true)
}

func (f *Federation) sendDeletePrivateMessage(ctx context.Context, actor *domain.Person, pm *domain.PrivateMessage, deleted bool) error {
	recipient, err := f.store.ReadPersonById(ctx, pm.RecipientId)
	if err != nil {
		return fmt.Errorf("message recipient: %w", storeErr(err))
	}
	base, err := f.newBase(TypeDelete, actor.ApId, recipient.ApId)
	if err != nil {
		return err
	}
	activity, err := maybeUndo(f, &Delete{Base: base, Object: pm.ApId}, deleted)
	if err != nil {
		return err
	}
	return f.sendActivity(ctx, activity, personActor(actor), ToInbox(recipient.Inbox()), true)
}
