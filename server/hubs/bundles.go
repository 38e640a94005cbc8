package hubs

import (
	"context"
	"slices"

	"github.com/Sprinter05/gostick/internal/log"
	"github.com/Sprinter05/gostick/internal/spec"
	"github.com/Sprinter05/gostick/server/db"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

/* AUXILIARY FUNCTIONS */

// Returns the first key id that is repeated in the list
func repeatedID(ids []uint32) (uint32, bool) {
	seen := make(map[uint32]bool, len(ids))
	for _, v := range ids {
		if seen[v] {
			return v, true
		}
		seen[v] = true
	}

	return 0, false
}

// Builds the prekey bundle of a user, consuming one of their
// prekeys. Private ciphers are only included for the owner.
func (hub *Hub) bundle(tx *gorm.DB, userID string, sticky bool, self bool) (*spec.Bundle, error) {
	user, err := db.QueryUser(tx, userID)
	if err != nil {
		return nil, err
	}

	ik, err := db.QueryActiveIdentityKey(tx, userID)
	if err != nil {
		return nil, err
	}

	spk, err := db.QueryActiveSignedPreKey(tx, userID)
	if err != nil {
		return nil, err
	}

	// Claimed last so that no prekey is lost on a missing key
	pk, err := db.ClaimPreKey(tx, userID, sticky)
	if err != nil {
		if errors.Is(err, db.ErrorEmpty) {
			log.Exhausted(userID)
			return nil, spec.ErrorExhausted
		}
		return nil, err
	}

	b := &spec.Bundle{
		UserID:         user.ID,
		LocalID:        user.LocalID,
		OneTimeID:      user.OneTimeID.String,
		IdentityKey:    ik.Public,
		IdentityKeyID:  ik.KeyID,
		SignedPreKey:   spk.Public,
		SignedPreKeyID: spk.KeyID,
		Signature:      spk.Signature,
		PreKey:         pk.Public,
		PreKeyID:       pk.KeyID,
	}

	if self {
		b.IdentityKeyCipher = ik.Cipher
		b.IdentityKeySalt = ik.Salt
		b.SignedPreKeyCipher = spk.Cipher
		b.SignedPreKeySalt = spk.Salt
		b.PreKeyCipher = pk.Cipher
		b.PreKeySalt = pk.Salt
	}

	return b, nil
}

/* OPERATIONS */

// Completes the registration of a user with their first keys,
// password and device. The account must already exist and
// must not have finished registration before.
func (hub *Hub) ProcessPreKeyBundle(ctx context.Context, _ *Session, req spec.RegisterRequest) (*spec.RegisterReply, error) {
	if req.Phone == "" && req.Email == "" {
		return nil, spec.ErrorArguments
	}

	if req.PasswordHash == "" || req.DeviceID == "" || req.OneTimeID == "" {
		return nil, spec.ErrorArguments
	}

	ids := make([]uint32, len(req.PreKeys))
	for i, v := range req.PreKeys {
		ids[i] = v.ID
	}

	if _, dup := repeatedID(ids); dup {
		return nil, spec.ErrorDuplicateKey
	}

	database := hub.db.WithContext(ctx)
	user, err := db.QueryUserByAuth(database, req.Phone, req.Email)
	if err != nil {
		return nil, specError("registration lookup", req.Phone+req.Email, err)
	}

	if user.FinishedRegistration {
		return nil, spec.ErrorRegistered
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.PasswordHash), hub.config.BcryptCost)
	if err != nil {
		return nil, specError("password hashing", user.ID, err)
	}

	next := req.NextPreKeyID
	if len(ids) > 0 {
		next = max(next, slices.Max(ids)+1)
	}

	var profile, self *db.Party
	var device *db.Device
	err = database.Transaction(func(tx *gorm.DB) error {
		// Guards against a concurrent registration of the same user
		err := db.FinishRegistration(tx, user.ID, db.Registration{
			OneTimeID:    req.OneTimeID,
			LocalID:      req.LocalID,
			NextPreKeyID: next,
			PasswordHash: string(hash),
			PasswordSalt: req.PasswordSalt,
		})
		if err != nil {
			return err
		}

		pks := make([]db.PreKey, len(req.PreKeys))
		for i, v := range req.PreKeys {
			pks[i] = db.PreKey{
				UserID: user.ID,
				KeyID:  v.ID,
				Public: v.Public,
				Cipher: v.Cipher,
				Salt:   v.Salt,
			}
		}

		err = db.InsertInitialKeys(
			tx,
			&db.IdentityKey{
				UserID:    user.ID,
				KeyID:     req.IdentityKey.ID,
				Public:    req.IdentityKey.Public,
				Cipher:    req.IdentityKey.Cipher,
				Salt:      req.IdentityKey.Salt,
				Timestamp: string(req.IdentityKey.Timestamp),
			},
			&db.SignedPreKey{
				UserID:    user.ID,
				KeyID:     req.SignedPreKey.ID,
				Public:    req.SignedPreKey.Public,
				Cipher:    req.SignedPreKey.Cipher,
				Salt:      req.SignedPreKey.Salt,
				Signature: req.SignedPreKey.Signature,
				Timestamp: string(req.SignedPreKey.Timestamp),
			},
			pks,
		)
		if err != nil {
			return err
		}

		profile, self, err = db.EnsureOwnedParties(tx, user.ID)
		if err != nil {
			return err
		}

		device, err = db.InsertDevice(tx, user.ID, req.DeviceID, req.DeviceName)
		return err
	})
	if err != nil {
		return nil, specError("registration", user.ID, err)
	}

	token, err := hub.issueToken(ctx, user.ID, device.ID)
	if err != nil {
		return nil, err
	}

	return &spec.RegisterReply{
		PartyID:       profile.ID,
		SelfPartyID:   self.ID,
		Token:         token,
		FirebaseToken: hub.config.PushToken(user.ID),
	}, nil
}

// Refills the prekey pool of the user. Prekeys whose id is
// already taken are skipped and reported, the rest are kept.
// The prekey id counter only ever moves forward.
func (hub *Hub) ProcessPreKeys(ctx context.Context, s *Session, req spec.PreKeysRequest) (*spec.PreKeysReply, error) {
	database := hub.db.WithContext(ctx)
	uid := s.UserID()

	next := req.NextPreKeyID
	dups := make([]uint32, 0)
	for _, v := range req.PreKeys {
		err := db.InsertPreKey(database, &db.PreKey{
			UserID: uid,
			KeyID:  v.ID,
			Public: v.Public,
			Cipher: v.Cipher,
			Salt:   v.Salt,
		})

		if errors.Is(err, db.ErrorDuplicatedKey) {
			dups = append(dups, v.ID)
			continue
		}

		if err != nil {
			return nil, specError("prekey upload", uid, err)
		}

		next = max(next, v.ID+1)
	}

	counter, err := db.AdvancePreKeyID(database, uid, next)
	if err != nil {
		return nil, specError("prekey counter", uid, err)
	}

	if len(dups) != 0 {
		log.User(uid, "prekey upload", spec.ErrorDuplicateKey)
	}

	return &spec.PreKeysReply{
		Success:      len(dups) == 0,
		NextPreKeyID: counter,
		Duplicates:   dups,
	}, nil
}

// Returns the bundle of a user to start a pairwise session with.
// Sticky bundles mark the prekey as used, others delete it.
func (hub *Hub) GetPreKeyBundle(ctx context.Context, s *Session, req spec.BundleRequest) (*spec.Bundle, error) {
	target := req.Target()
	if target == "" {
		return nil, spec.ErrorArguments
	}

	sticky := spec.Flag(req.IsSticky, true)
	b, err := hub.bundle(hub.db.WithContext(ctx), target, sticky, target == s.UserID())
	if err != nil {
		return nil, specError("prekey bundle", s.UserID(), err)
	}

	return b, nil
}

// Returns the bundles of several users at once, given directly or
// as the members of a group. Users without unused prekeys or active
// keys are listed apart instead of failing the whole request.
func (hub *Hub) GetPreKeyBundles(ctx context.Context, s *Session, req spec.BundlesRequest) (*spec.BundlesReply, error) {
	database := hub.db.WithContext(ctx)
	uid := s.UserID()

	users := req.UsersID
	if len(users) == 0 {
		if req.GroupID == "" {
			return nil, spec.ErrorArguments
		}

		member, err := db.IsGroupMember(database, req.GroupID, uid, true)
		if err != nil {
			return nil, specError("group membership", uid, err)
		}

		if !member {
			return nil, spec.ErrorUnauthorized
		}

		users, err = db.GroupMembers(database, req.GroupID, true)
		if err != nil {
			return nil, specError("group members", uid, err)
		}
	}

	reply := &spec.BundlesReply{
		Bundles: make(map[string]*spec.Bundle, len(users)),
	}

	for _, v := range users {
		if _, ok := reply.Bundles[v]; ok {
			continue
		}

		b, err := hub.bundle(database, v, true, v == uid)
		switch {
		case err == nil:
			reply.Bundles[v] = b
		case errors.Is(err, spec.ErrorExhausted):
			reply.Exhausted = append(reply.Exhausted, v)
		case errors.Is(err, db.ErrorNotFound):
			reply.Missing = append(reply.Missing, v)
		default:
			return nil, specError("prekey bundles", uid, err)
		}
	}

	return reply, nil
}

// Returns the current one time id of a user.
func (hub *Hub) FetchOneTimeID(ctx context.Context, s *Session, req spec.OneTimeIDRequest) (*spec.OneTimeIDReply, error) {
	if req.ID == "" {
		return nil, spec.ErrorArguments
	}

	user, err := db.QueryUser(hub.db.WithContext(ctx), req.ID)
	if err != nil {
		return nil, specError("one time id", s.UserID(), err)
	}

	if !user.OneTimeID.Valid {
		return nil, spec.ErrorNotFound
	}

	return &spec.OneTimeIDReply{
		OneTimeID: user.OneTimeID.String,
	}, nil
}
