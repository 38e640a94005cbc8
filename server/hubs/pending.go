package hubs

import (
	"context"

	"github.com/Sprinter05/gostick/internal/spec"
	"github.com/Sprinter05/gostick/server/db"
)

// Returns the sender keys the user still owes to other members.
// Unless the hub acknowledges pending keys, they are cleared
// as they are handed out.
func (hub *Hub) FetchPendingKeys(ctx context.Context, s *Session, _ struct{}) (*spec.PendingReply, error) {
	uid := s.UserID()

	keys, err := db.FetchPendingKeys(hub.db.WithContext(ctx), uid, !hub.config.PendingAck)
	if err != nil {
		return nil, specError("pending keys", uid, err)
	}

	reply := &spec.PendingReply{
		PendingKeys: make([]spec.PendingEntry, len(keys)),
	}

	for i, v := range keys {
		reply.PendingKeys[i] = spec.PendingEntry{
			StickID:    v.StickID().String(),
			SenderID:   v.OwnerID,
			ReceiverID: v.UserID,
		}

		// Ids are only useful if they have to be acknowledged
		if hub.config.PendingAck {
			reply.PendingKeys[i].ID = v.ID
		}
	}

	return reply, nil
}

// Removes the given pending keys of the user once they were
// dealt with. Unknown ids and ids of other users are ignored.
func (hub *Hub) AckPendingKeys(ctx context.Context, s *Session, req spec.AckRequest) (*spec.AckReply, error) {
	uid := s.UserID()

	removed, err := db.AckPendingKeys(hub.db.WithContext(ctx), uid, req.IDs)
	if err != nil {
		return nil, specError("pending keys ack", uid, err)
	}

	return &spec.AckReply{
		Success: true,
		Removed: removed,
	}, nil
}
