package hubs

import (
	"context"
	"database/sql"
	"time"

	"github.com/Sprinter05/gostick/internal/log"
	"github.com/Sprinter05/gostick/internal/spec"
	"github.com/Sprinter05/gostick/server/db"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

/* AUXILIARY FUNCTIONS */

// Minutes left until a lock expires, zero if it already did
func (hub *Hub) remainingLock(user *db.User, now time.Time) int {
	if !user.PasswordBlockTime.Valid {
		return 0
	}

	left := user.PasswordBlockTime.Time.Add(hub.config.LockDuration).Sub(now)
	if left <= 0 {
		return 0
	}

	return int((left + time.Minute - 1) / time.Minute)
}

// Checks the password of a user, keeping track of failed attempts.
// Returns ErrorLocked while the account is locked and ErrorPassword
// on a mismatch.
func (hub *Hub) checkPassword(ctx context.Context, user *db.User, password string) error {
	now := time.Now()
	if hub.remainingLock(user, now) > 0 {
		return spec.ErrorLocked
	}

	err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
	if err == nil {
		return nil
	}

	if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return specError("password check", user.ID, err)
	}

	blocked, err := db.RecordFailedLogin(
		hub.db.WithContext(ctx), user.ID,
		hub.config.MaxTrials, now,
	)
	if err != nil {
		return specError("password trials", user.ID, err)
	}

	if blocked {
		log.Lockout(user.ID, hub.config.lockMinutes())
		return spec.ErrorLocked
	}

	return spec.ErrorPassword
}

// Key material of a user handed back on login
func (hub *Hub) loginBundle(tx *gorm.DB, user *db.User) (*spec.LoginBundle, error) {
	iks, err := db.QueryIdentityKeys(tx, user.ID)
	if err != nil {
		return nil, err
	}

	spks, err := db.QuerySignedPreKeys(tx, user.ID)
	if err != nil {
		return nil, err
	}

	pks, err := db.QueryPreKeys(tx, user.ID)
	if err != nil {
		return nil, err
	}

	esks, err := db.QueryEncryptionKeys(tx, user.ID)
	if err != nil {
		return nil, err
	}

	b := &spec.LoginBundle{
		LocalID:       user.LocalID,
		NextPreKeyID:  user.NextPreKeyID,
		IdentityKeys:  make([]spec.KeyRecord, len(iks)),
		SignedPreKeys: make([]spec.SignedKeyRecord, len(spks)),
		PreKeys:       make([]spec.PreKeyRecord, len(pks)),
		SenderKeys:    make([]spec.OwnSenderKey, 0, len(esks)),
	}

	for i, v := range iks {
		b.IdentityKeys[i] = spec.KeyRecord{
			ID:        v.KeyID,
			Public:    v.Public,
			Cipher:    v.Cipher,
			Salt:      v.Salt,
			Timestamp: v.Timestamp,
			Active:    v.Active,
		}
	}

	for i, v := range spks {
		b.SignedPreKeys[i] = spec.SignedKeyRecord{
			KeyRecord: spec.KeyRecord{
				ID:        v.KeyID,
				Public:    v.Public,
				Cipher:    v.Cipher,
				Salt:      v.Salt,
				Timestamp: v.Timestamp,
				Active:    v.Active,
			},
			Signature: v.Signature,
		}
	}

	for i, v := range pks {
		b.PreKeys[i] = spec.PreKeyRecord{
			ID:     v.KeyID,
			Public: v.Public,
			Cipher: v.Cipher,
			Salt:   v.Salt,
			Used:   v.Used,
		}
	}

	for _, v := range esks {
		// Chains that never got their own copy are of no use
		if v.Key == "" {
			continue
		}

		own := spec.OwnSenderKey{
			StickID: v.StickID().String(),
			PartyID: v.PartyID,
			ChainID: v.ChainID,
			Key:     v.Key,
			Step:    v.Step,
		}
		if v.IdentityKey != nil {
			own.IdentityKeyID = &v.IdentityKey.KeyID
		}
		b.SenderKeys = append(b.SenderKeys, own)
	}

	b.DSKs, err = hub.groupSenderKeys(tx, user.ID)
	if err != nil {
		return nil, err
	}

	return b, nil
}

// Sender keys the user needs to read the name and
// cover of the groups they belong to.
func (hub *Hub) groupSenderKeys(tx *gorm.DB, userID string) ([]spec.GroupSenderKey, error) {
	groups, err := db.QueryUserGroups(tx, userID)
	if err != nil {
		return nil, err
	}

	type slot struct {
		stick sql.NullString
		owner sql.NullString
	}

	seen := make(map[string]bool)
	dsks := make([]spec.GroupSenderKey, 0)
	for _, g := range groups {
		for _, s := range []slot{
			{g.NameStickID, g.NameOwnerID},
			{g.CoverStickID, g.CoverOwnerID},
		} {
			if !s.stick.Valid || !s.owner.Valid || s.owner.String == userID {
				continue
			}

			stick, err := spec.ParseStickID(s.stick.String)
			if err != nil {
				continue
			}

			id := s.owner.String + stick.String()
			if seen[id] {
				continue
			}
			seen[id] = true

			dsk, err := db.QueryDecryptionKey(
				tx, stick,
				spec.UserAddress(s.owner.String),
				spec.UserAddress(userID),
			)
			if errors.Is(err, db.ErrorNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}

			entry := spec.GroupSenderKey{
				Key:      dsk.Key,
				SenderID: s.owner.String,
				StickID:  stick.String(),
			}
			if dsk.IdentityKey != nil {
				entry.IdentityKeyID = &dsk.IdentityKey.KeyID
			}
			if dsk.PreKey != nil {
				entry.PreKeyID = &dsk.PreKey.KeyID
			}
			dsks = append(dsks, entry)
		}
	}

	return dsks, nil
}

/* ROTATIONS */

// Replaces the active identity key of the user with a new one.
func (hub *Hub) UpdateActiveIK(ctx context.Context, s *Session, req spec.IdentityKeyBody) (*spec.SuccessReply, error) {
	if req.Public == "" {
		return nil, spec.ErrorArguments
	}

	err := db.RotateIdentityKey(hub.db.WithContext(ctx), &db.IdentityKey{
		UserID:    s.UserID(),
		KeyID:     req.ID,
		Public:    req.Public,
		Cipher:    req.Cipher,
		Salt:      req.Salt,
		Timestamp: string(req.Timestamp),
	})
	if err != nil {
		return nil, specError("identity key rotation", s.UserID(), err)
	}

	log.Rotation(s.UserID(), "identity key", req.ID)
	return &spec.SuccessReply{Success: true}, nil
}

// Replaces the active signed prekey of the user with a new one.
func (hub *Hub) UpdateActiveSPK(ctx context.Context, s *Session, req spec.SignedPreKeyBody) (*spec.SuccessReply, error) {
	if req.Public == "" || req.Signature == "" {
		return nil, spec.ErrorArguments
	}

	err := db.RotateSignedPreKey(hub.db.WithContext(ctx), &db.SignedPreKey{
		UserID:    s.UserID(),
		KeyID:     req.ID,
		Public:    req.Public,
		Cipher:    req.Cipher,
		Salt:      req.Salt,
		Signature: req.Signature,
		Timestamp: string(req.Timestamp),
	})
	if err != nil {
		return nil, specError("signed prekey rotation", s.UserID(), err)
	}

	log.Rotation(s.UserID(), "signed prekey", req.ID)
	return &spec.SuccessReply{Success: true}, nil
}

/* ACCOUNTS */

// Authenticates a user on a device, handing back a new token along
// with every key the device needs to restore its sessions. Wrong
// passwords are not an error, the reply tells whether the account
// got locked.
func (hub *Hub) Login(ctx context.Context, _ *Session, req spec.LoginRequest) (*spec.LoginReply, error) {
	if req.PasswordHash == "" || req.DeviceID == "" {
		return nil, spec.ErrorArguments
	}

	database := hub.db.WithContext(ctx)
	user, err := db.QueryUserByAuth(database, req.Phone, req.Email)
	if err != nil {
		return nil, specError("login lookup", req.Phone+req.Email, err)
	}

	if !user.FinishedRegistration {
		return nil, spec.ErrorNotFound
	}

	err = hub.checkPassword(ctx, user, req.PasswordHash)
	switch {
	case errors.Is(err, spec.ErrorLocked):
		left := hub.remainingLock(user, time.Now())
		if left == 0 {
			// Just got locked by this attempt
			left = hub.config.lockMinutes()
		}
		return &spec.LoginReply{
			Correct:   false,
			Blocked:   true,
			BlockTime: left,
		}, nil
	case errors.Is(err, spec.ErrorPassword):
		return &spec.LoginReply{
			Correct:   false,
			Blocked:   false,
			BlockTime: hub.config.lockMinutes(),
		}, nil
	case err != nil:
		return nil, err
	}

	if err := db.ClearFailedLogins(database, user.ID); err != nil {
		return nil, specError("login", user.ID, err)
	}

	device, err := db.InsertDevice(database, user.ID, req.DeviceID, req.DeviceName)
	if err != nil {
		return nil, specError("login device", user.ID, err)
	}

	token, err := hub.issueToken(ctx, user.ID, device.ID)
	if err != nil {
		return nil, err
	}

	bundle, err := hub.loginBundle(database, user)
	if err != nil {
		return nil, specError("login bundle", user.ID, err)
	}

	count, err := db.CountDevices(database, user.ID)
	if err != nil {
		return nil, specError("login devices", user.ID, err)
	}

	return &spec.LoginReply{
		User: &spec.Account{
			ID:        user.ID,
			Phone:     user.Phone.String,
			Email:     user.Email.String,
			OneTimeID: user.OneTimeID.String,
			LocalID:   user.LocalID,
		},
		Token:         token,
		FirebaseToken: hub.config.PushToken(user.ID),
		Bundle:        bundle,
		Correct:       true,
		DevicesCount:  count,
	}, nil
}

// Changes the password of the user along with the ciphers of the
// keys it protects, all at once. Every other device loses its
// token. A wrong current password leaves everything untouched.
func (hub *Hub) ChangePassword(ctx context.Context, s *Session, req spec.ChangePasswordRequest) (*spec.SuccessReply, error) {
	uid := s.UserID()
	if req.Keys.NewPass == "" {
		return nil, spec.ErrorArguments
	}

	err := hub.checkPassword(ctx, s.user, req.Keys.CurrentPass)
	if errors.Is(err, spec.ErrorPassword) {
		return &spec.SuccessReply{Success: false}, nil
	}
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Keys.NewPass), hub.config.BcryptCost)
	if err != nil {
		return nil, specError("password hashing", uid, err)
	}

	database := hub.db.WithContext(ctx)
	err = db.ChangePassword(database, uid, string(hash), req.Keys.NewSalt, req.Keys)
	if err != nil {
		return nil, specError("password change", uid, err)
	}

	keep := s.device
	if req.DeviceID != "" {
		device, err := db.QueryDevice(database, uid, req.DeviceID)
		if err != nil {
			return nil, specError("password change device", uid, err)
		}
		keep = device.ID
	}

	if _, err := db.RevokeTokens(database, uid, keep); err != nil {
		return nil, specError("token revocation", uid, err)
	}

	return &spec.SuccessReply{Success: true}, nil
}
