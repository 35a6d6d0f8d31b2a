package activitypub

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// inboundActivity is one receivable activity kind. verify runs before any
// state changes; receive applies the activity.
type inboundActivity interface {
	Activity
	verify(ctx context.Context, f *Federation) error
	receive(ctx context.Context, f *Federation) error
}

// Inbox runs inbound payloads through verification and into the store
type Inbox struct {
	fed *Federation
	log *zap.Logger
}

func NewInbox(fed *Federation) *Inbox {
	return &Inbox{fed: fed, log: fed.log.Named("inbox")}
}

// Receive processes one inbound activity. Replays of an already received
// id succeed without effect; unsupported activities are ignored.
func (in *Inbox) Receive(ctx context.Context, body []byte) error {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if err := in.fed.validateWire(&env.Base); err != nil {
		return err
	}

	activity, err := decodeActivity(&env, body)
	if err != nil {
		return err
	}
	if activity == nil {
		in.log.Info("Ignoring unsupported activity",
			zap.String("type", env.Type), zap.String("object_type", env.Object.Type), zap.String("actor", env.Actor))
		return nil
	}
	if err := in.fed.validateWire(activity); err != nil {
		return err
	}
	return in.process(ctx, activity)
}

func (in *Inbox) process(ctx context.Context, activity inboundActivity) error {
	log := in.log.With(
		zap.String("id", activity.ActivityID()),
		zap.String("type", activity.ActivityType()),
		zap.String("actor", activity.ActorID()))

	if err := activity.verify(ctx, in.fed); err != nil {
		log.Info("Rejected activity", zap.Error(err))
		return err
	}

	fresh, err := in.fed.store.MarkReceived(ctx, activity.ActivityID())
	if err != nil {
		return err
	}
	if !fresh {
		log.Debug("Duplicate activity")
		return nil
	}

	if err := activity.receive(ctx, in.fed); err != nil {
		// forget the id so a redelivery is processed again
		if uerr := in.fed.store.UnmarkReceived(ctx, activity.ActivityID()); uerr != nil {
			log.Warn("Failed to forget received activity", zap.Error(uerr))
		}
		log.Warn("Failed to receive activity", zap.Error(err))
		return err
	}
	log.Info("Received activity")
	return nil
}

// ActorKey returns the PEM public key of an actor, fetching it when unknown
func (in *Inbox) ActorKey(ctx context.Context, actorId string) (string, error) {
	target, err := in.fed.resolver.ResolveFollowTarget(ctx, actorId)
	if err != nil {
		return "", storeErr(err)
	}
	if target.PublicKeyPem() == "" {
		return "", fmt.Errorf("%w: no public key for %s", ErrNotFound, actorId)
	}
	return target.PublicKeyPem(), nil
}

// decodeActivity picks the concrete kind from the envelope and decodes body
// into it. It returns nil for kinds that are not handled.
func decodeActivity(env *Envelope, body []byte) (inboundActivity, error) {
	var activity inboundActivity
	switch env.Type {
	case TypeFollow:
		activity = &Follow{}
	case TypeAccept, TypeReject:
		activity = &FollowResponse{}
	case TypeUndo:
		switch env.Object.Type {
		case TypeFollow:
			activity = &undoFollow{}
		case TypeBlock:
			activity = &undoBlock{}
		}
	case TypeCreate, TypeUpdate:
		switch env.Object.Type {
		case TypeNote, TypeChatMessage:
			if isDirectNote(env.Object) {
				activity = &createOrUpdatePrivateMessage{}
			}
		case TypeGroup:
			if env.Type == TypeUpdate {
				activity = &updateGroup{}
			}
		}
	case TypeDelete:
		activity = &deletePrivateMessage{}
	case TypeBlock:
		activity = &Block{}
	case TypeFlag:
		activity = &Report{}
	}
	if activity == nil {
		return nil, nil
	}
	if err := json.Unmarshal(body, activity); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return activity, nil
}

// isDirectNote tells a private message from a public comment
func isDirectNote(object ObjectRef) bool {
	var note struct {
		To        URIList `json:"to"`
		Cc        URIList `json:"cc"`
		InReplyTo string  `json:"inReplyTo"`
	}
	if err := object.Decode(&note); err != nil {
		return false
	}
	if note.InReplyTo != "" {
		return false
	}
	for _, to := range append(note.To, note.Cc...) {
		if to == PublicAddress {
			return false
		}
	}
	return true
}
