package hubs

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/Sprinter05/gostick/internal/log"
	"github.com/Sprinter05/gostick/internal/models"
	"github.com/Sprinter05/gostick/internal/spec"
	"github.com/Sprinter05/gostick/server/db"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

/* AUXILIARY FUNCTIONS */

// Returns the stick id the user has to send with in the party.
// It is their latest chain unless it reached the step ceiling,
// in which case it is the chain that follows.
func (hub *Hub) activeStick(tx *gorm.DB, partyID string, userID string) (spec.StickID, error) {
	latest, err := db.QueryLatestChain(tx, partyID, userID)
	if errors.Is(err, db.ErrorNotFound) {
		return spec.NewStickID(partyID, 0)
	}

	if err != nil {
		return spec.StickID{}, err
	}

	stick := latest.StickID()
	if latest.Step >= hub.config.StepCeiling {
		return stick.Next(), nil
	}

	return stick, nil
}

// Returns the members of the party, failing if the
// user does not take part in it.
func (hub *Hub) partyMembers(tx *gorm.DB, party *db.Party, userID string, invited bool) ([]string, error) {
	members, err := db.PartyMembers(tx, party, invited)
	if err != nil {
		return nil, err
	}

	if !slices.Contains(members, userID) {
		return nil, spec.ErrorUnauthorized
	}

	return members, nil
}

// Finds or creates the party shared by the given groups and
// connections of the user, who must belong to all of them.
func (hub *Hub) targetParty(tx *gorm.DB, userID string, groups []string, conns []string) (*db.Party, error) {
	if len(groups) == 0 && len(conns) == 0 {
		return nil, spec.ErrorArguments
	}

	for _, g := range groups {
		member, err := db.IsGroupMember(tx, g, userID, false)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, spec.ErrorUnauthorized
		}
	}

	var members []string
	for _, c := range conns {
		if c == userID {
			continue
		}
		ok, err := db.IsConnected(tx, userID, c)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, spec.ErrorUnauthorized
		}
		members = append(members, c)
	}

	if len(members) != 0 {
		members = append(members, userID)
	}

	slices.Sort(members)
	members = slices.Compact(members)
	groups = slices.Compact(slices.Sorted(slices.Values(groups)))

	// Prefixes keep group and user ids from colliding
	keys := make([]string, 0, len(groups)+len(members))
	for _, g := range groups {
		keys = append(keys, "group:"+g)
	}
	for _, m := range members {
		keys = append(keys, "user:"+m)
	}

	return db.EnsureHashedParty(tx, spec.PartyHash(keys...), members, groups)
}

// Stores a sender key of the user wrapped for a single recipient
// along with the debts and chain state it settles. Every change
// happens in one transaction.
func (hub *Hub) storeSenderKey(tx *gorm.DB, userID string, req spec.SenderKeyUpload) error {
	stick, err := spec.ParseStickID(req.StickID)
	if err != nil {
		return spec.ErrorArguments
	}

	if req.ForUser == "" || req.Key == "" {
		return spec.ErrorArguments
	}

	party, err := db.QueryParty(tx, stick.Party)
	if err != nil {
		return err
	}

	if _, err := hub.partyMembers(tx, party, userID, false); err != nil {
		return err
	}

	// Referenced keys belong to the recipient
	var ikRef, pkRef *uint
	if req.IdentityKeyID != nil {
		ik, err := db.QueryIdentityKey(tx, req.ForUser, *req.IdentityKeyID)
		if err != nil {
			return err
		}
		ikRef = &ik.ID
	}

	if req.PreKeyID != nil {
		pk, err := db.QueryPreKey(tx, req.ForUser, *req.PreKeyID)
		if err != nil {
			return err
		}
		pkRef = &pk.ID
	}

	if ikRef == nil && pkRef == nil {
		// The recipient must exist even without key references
		if _, err := db.QueryUser(tx, req.ForUser); err != nil {
			return err
		}
	}

	of := spec.UserAddress(userID)
	to := spec.UserAddress(req.ForUser)
	return tx.Transaction(func(tx *gorm.DB) error {
		err := db.UpsertDecryptionKey(tx, &db.DecryptionSenderKey{
			PartyID:        stick.Party,
			ChainID:        stick.Chain,
			OfKind:         of.Kind,
			OfID:           of.ID,
			ForKind:        to.Kind,
			ForID:          to.ID,
			Key:            req.Key,
			IdentityKeyRef: ikRef,
			PreKeyRef:      pkRef,
		})
		if err != nil {
			return err
		}

		if req.ForUser == userID {
			// Own copy used to restore the chain after a login
			err = db.UpdateEncryptionKey(tx, stick, userID, req.Key, ikRef)
		} else {
			_, err = db.EnsureEncryptionKey(tx, stick, userID)
		}
		if err != nil {
			return err
		}

		return db.RemovePendingKey(tx, userID, req.ForUser, stick)
	})
}

/* OPERATIONS */

// Returns the stick id the user has to send with to the given
// groups and connections (or party) along with the members that
// still lack their sender key for it. Every missing member is
// recorded as owed by the user until the key is uploaded.
func (hub *Hub) GetStickID(ctx context.Context, s *Session, req spec.StickRequest) (*spec.StickReply, error) {
	database := hub.db.WithContext(ctx)
	uid := s.UserID()

	var party *db.Party
	var err error
	if req.PartyID != "" {
		party, err = db.QueryParty(database, req.PartyID)
	} else {
		party, err = hub.targetParty(database, uid, req.GroupsIDs, req.ConnectionsIDs)
	}
	if err != nil {
		return nil, specError("party lookup", uid, err)
	}

	members, err := hub.partyMembers(database, party, uid, true)
	if err != nil {
		return nil, specError("party members", uid, err)
	}

	stick, err := hub.activeStick(database, party.ID, uid)
	if err != nil {
		return nil, specError("active stick id", uid, err)
	}

	// Materialises a chain that just rolled over
	if _, err := db.EnsureEncryptionKey(database, stick, uid); err != nil {
		return nil, specError("encryption sender key", uid, err)
	}

	reply := &spec.StickReply{
		StickID:        stick.String(),
		PartyID:        party.ID,
		BundlesToFetch: make([]string, 0),
	}

	if spec.Flag(req.IsSticky, true) {
		have, err := db.QueryWrappedFor(database, stick, spec.UserAddress(uid), spec.ByUser, members)
		if err != nil {
			return nil, specError("uploaded sender keys", uid, err)
		}

		for _, m := range members {
			if !have[m] {
				reply.BundlesToFetch = append(reply.BundlesToFetch, m)
			}
		}

		err = db.InsertPendingKeys(database, uid, reply.BundlesToFetch, stick)
		if err != nil {
			return nil, specError("pending keys", uid, err)
		}

		return reply, nil
	}

	// Standard sessions address everyone by their one time id
	otids, err := db.QueryOneTimeIDs(database, members)
	if err != nil {
		return nil, specError("one time ids", uid, err)
	}

	own, ok := otids[uid]
	if !ok {
		return nil, spec.ErrorNotFound
	}

	list := make([]string, 0, len(otids))
	for _, v := range otids {
		list = append(list, v)
	}

	have, err := db.QueryWrappedFor(database, stick, spec.OneTimeAddress(own), spec.ByOneTimeID, list)
	if err != nil {
		return nil, specError("uploaded standard keys", uid, err)
	}

	reply.OneTimeIDs = make(map[string]string)
	for _, m := range members {
		otid, ok := otids[m]
		if !ok || have[otid] {
			continue
		}
		reply.BundlesToFetch = append(reply.BundlesToFetch, m)
		reply.OneTimeIDs[m] = otid
	}

	return reply, nil
}

// Returns the stick id the user has to send with in a party
// without changing anything. Parties the user never sent
// to start at chain 0.
func (hub *Hub) GetActiveStickID(ctx context.Context, s *Session, req spec.ActiveStickRequest) (*spec.ActiveStickReply, error) {
	if len(req.PartyID) != spec.PartyIDSize {
		return nil, spec.ErrorArguments
	}

	stick, err := hub.activeStick(hub.db.WithContext(ctx), req.PartyID, s.UserID())
	if err != nil {
		return nil, specError("active stick id", s.UserID(), err)
	}

	return &spec.ActiveStickReply{
		StickID: stick.String(),
	}, nil
}

// Stores a sender key wrapped for one recipient, usually
// as the answer to a pending key.
func (hub *Hub) ProcessSenderKey(ctx context.Context, s *Session, req spec.SenderKeyUpload) (*spec.SuccessReply, error) {
	err := hub.storeSenderKey(hub.db.WithContext(ctx), s.UserID(), req)
	if err != nil {
		return nil, specError("sender key upload", s.UserID(), err)
	}

	return &spec.SuccessReply{Success: true}, nil
}

// Stores sender keys for several recipients. Each entry is stored
// on its own so a failure does not affect the rest, and failed
// entries are recorded as owed by the user.
func (hub *Hub) ProcessSenderKeys(ctx context.Context, s *Session, req spec.SenderKeysUpload) (*spec.BatchReply, error) {
	database := hub.db.WithContext(ctx)
	uid := s.UserID()

	users := req.UsersID
	if len(users) == 0 {
		users = slices.Sorted(maps.Keys(req.Keys))
	}

	if len(users) == 0 {
		return nil, spec.ErrorArguments
	}

	var wg sync.WaitGroup
	counter := models.NewCounter(hub.config.FanoutWorkers)
	results := models.NewTable[string, string](len(users))

	for _, u := range slices.Compact(slices.Sorted(slices.Values(users))) {
		counter.Go(&wg, func() {
			entry, ok := req.Keys[u]
			if !ok {
				results.Add(u, spec.ErrorArguments.Error())
				return
			}

			if entry.ForUser == "" {
				entry.ForUser = u
			}

			if entry.ForUser != u {
				results.Add(u, spec.ErrorArguments.Error())
				return
			}

			err := hub.storeSenderKey(database, uid, entry)
			if err == nil {
				results.Add(u, "ok")
				return
			}

			err = specError("sender key fan-out", uid, err)
			results.Add(u, err.Error())

			// Owed until the user retries the upload
			stick, perr := spec.ParseStickID(entry.StickID)
			if perr == nil && !errors.Is(err, spec.ErrorUnauthorized) {
				if e := db.InsertPendingKey(database, uid, u, stick); e != nil {
					log.User(uid, "pending key after failed upload", e)
				}
			}
		})
	}
	wg.Wait()

	reply := &spec.BatchReply{
		Success: true,
		Results: results.Snapshot(),
	}

	for _, v := range reply.Results {
		if v != "ok" {
			reply.Success = false
			break
		}
	}

	return reply, nil
}

// Stores sender keys of a standard session, where both sides
// are addressed by their one time ids. All keys are stored or none.
func (hub *Hub) ProcessStandardSenderKeys(ctx context.Context, s *Session, req spec.StandardKeysUpload) (*spec.SuccessReply, error) {
	database := hub.db.WithContext(ctx)
	uid := s.UserID()

	stick, err := spec.ParseStickID(req.StickID)
	if err != nil {
		return nil, spec.ErrorArguments
	}

	if !s.user.OneTimeID.Valid {
		return nil, spec.ErrorNotFound
	}

	if req.GroupID != "" {
		member, err := db.IsGroupMember(database, req.GroupID, uid, false)
		if err != nil {
			return nil, specError("group membership", uid, err)
		}
		if !member {
			return nil, spec.ErrorUnauthorized
		}
	}

	if _, err := db.QueryParty(database, stick.Party); err != nil {
		return nil, specError("standard party", uid, err)
	}

	of := spec.OneTimeAddress(s.user.OneTimeID.String)
	err = database.Transaction(func(tx *gorm.DB) error {
		for otid, key := range req.KeysToUpload {
			to := spec.OneTimeAddress(otid)
			if !to.Valid() {
				return spec.ErrorArguments
			}

			err := db.UpsertDecryptionKey(tx, &db.DecryptionSenderKey{
				PartyID: stick.Party,
				ChainID: stick.Chain,
				OfKind:  of.Kind,
				OfID:    of.ID,
				ForKind: to.Kind,
				ForID:   to.ID,
				Key:     key,
			})
			if err != nil {
				return err
			}
		}

		_, err := db.EnsureEncryptionKey(tx, stick, uid)
		return err
	})
	if err != nil {
		return nil, specError("standard sender keys", uid, err)
	}

	return &spec.SuccessReply{Success: true}, nil
}

// Returns the sender key a member wrapped for the user. A key that
// was not uploaded yet is not an error: the member is recorded as
// owing it and the reply says the party does not exist yet.
func (hub *Hub) GetSenderKey(ctx context.Context, s *Session, req spec.SenderKeyRequest) (*spec.SenderKeyReply, error) {
	database := hub.db.WithContext(ctx)
	uid := s.UserID()

	stick, err := spec.ParseStickID(req.StickID)
	if err != nil {
		return &spec.SenderKeyReply{PartyExists: false}, nil
	}

	party, err := db.QueryParty(database, stick.Party)
	if errors.Is(err, db.ErrorNotFound) {
		return &spec.SenderKeyReply{PartyExists: false}, nil
	}
	if err != nil {
		return nil, specError("sender key party", uid, err)
	}

	if _, err := hub.partyMembers(database, party, uid, req.IsInvitation); err != nil {
		return nil, specError("sender key members", uid, err)
	}

	body, err := hub.senderKey(database, stick, req.MemberID, s, spec.Flag(req.IsSticky, true))
	if errors.Is(err, spec.ErrorNotAvailable) {
		return &spec.SenderKeyReply{PartyExists: false}, nil
	}
	if err != nil {
		return nil, specError("sender key", uid, err)
	}

	return &spec.SenderKeyReply{
		SenderKey:   body,
		PartyExists: true,
	}, nil
}

// Looks up the sender key the member wrapped for the user.
// Standard keys are cleared as they are read.
func (hub *Hub) senderKey(tx *gorm.DB, stick spec.StickID, member string, s *Session, sticky bool) (*spec.SenderKeyBody, error) {
	uid := s.UserID()

	if !sticky {
		otids, err := db.QueryOneTimeIDs(tx, []string{member})
		if err != nil {
			return nil, err
		}

		if _, ok := otids[member]; !ok || !s.user.OneTimeID.Valid {
			return nil, spec.ErrorNotAvailable
		}

		key, err := db.ClaimDecryptionKey(
			tx, stick,
			spec.OneTimeAddress(otids[member]),
			spec.OneTimeAddress(s.user.OneTimeID.String),
		)
		if errors.Is(err, db.ErrorNotFound) || (err == nil && key == "") {
			return nil, spec.ErrorNotAvailable
		}
		if err != nil {
			return nil, err
		}

		return &spec.SenderKeyBody{Key: key}, nil
	}

	dsk, err := db.QueryDecryptionKey(tx, stick, spec.UserAddress(member), spec.UserAddress(uid))
	if errors.Is(err, db.ErrorNotFound) {
		if member != uid {
			if e := db.InsertPendingKey(tx, member, uid, stick); e != nil {
				log.User(uid, "pending key request", e)
			}
		}
		return nil, spec.ErrorNotAvailable
	}
	if err != nil {
		return nil, err
	}

	body := &spec.SenderKeyBody{Key: dsk.Key}
	if dsk.IdentityKey != nil {
		body.IdentityKeyID = &dsk.IdentityKey.KeyID
	}
	if dsk.PreKey != nil {
		body.PreKeyID = &dsk.PreKey.KeyID
	}

	return body, nil
}

// Returns the standard sender keys wrapped for the user by the
// given one time ids in a group. Each key is handed out once,
// later reads get an empty key.
func (hub *Hub) GetStandardSenderKeys(ctx context.Context, s *Session, req spec.StandardKeysRequest) (*spec.StandardKeysReply, error) {
	database := hub.db.WithContext(ctx)
	uid := s.UserID()

	if req.GroupID == "" {
		return nil, spec.ErrorArguments
	}

	if _, err := db.QueryGroup(database, req.GroupID); err != nil {
		return nil, specError("standard keys group", uid, err)
	}

	member, err := db.IsGroupMember(database, req.GroupID, uid, false)
	if err != nil {
		return nil, specError("group membership", uid, err)
	}
	if !member {
		return nil, spec.ErrorUnauthorized
	}

	stick, err := spec.ParseStickID(req.StickID)
	if err != nil {
		return nil, spec.ErrorArguments
	}

	if !s.user.OneTimeID.Valid {
		return nil, spec.ErrorNotFound
	}

	to := spec.OneTimeAddress(s.user.OneTimeID.String)
	reply := &spec.StandardKeysReply{
		SenderKeys: make(map[string]string, len(req.KeysToFetch)),
	}

	for _, v := range req.KeysToFetch {
		key, err := db.ClaimDecryptionKey(database, stick, spec.OneTimeAddress(v), to)
		if err != nil && !errors.Is(err, db.ErrorNotFound) {
			return nil, specError("standard sender key", uid, err)
		}
		reply.SenderKeys[v] = key
	}

	return reply, nil
}

// Reports how far the user advanced the chain of a stick id.
// Steps never go back.
func (hub *Hub) UpdateChainStep(ctx context.Context, s *Session, req spec.ChainStepRequest) (*spec.SuccessReply, error) {
	stick, err := spec.ParseStickID(req.StickID)
	if err != nil {
		return nil, spec.ErrorArguments
	}

	err = db.UpdateChainStep(hub.db.WithContext(ctx), stick, s.UserID(), req.ChainStep)
	if err != nil {
		return nil, specError("chain step", s.UserID(), err)
	}

	if req.ChainStep >= hub.config.StepCeiling {
		log.Rotation(s.UserID(), "sticky chain", stick.Chain+1)
	}

	return &spec.SuccessReply{Success: true}, nil
}
