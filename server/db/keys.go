package db

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Times a compare and swap is retried before giving up.
const casAttempts int = 16

/* QUERIES */

// Returns the active identity key of a user
func QueryActiveIdentityKey(db *gorm.DB, userID string) (*IdentityKey, error) {
	var key IdentityKey
	res := db.First(&key, "user_id = ? AND active = ?", userID, true)
	if res.Error != nil {
		return nil, dbError(res.Error, "active identity key")
	}

	return &key, nil
}

// Returns the active signed prekey of a user
func QueryActiveSignedPreKey(db *gorm.DB, userID string) (*SignedPreKey, error) {
	var key SignedPreKey
	res := db.First(&key, "user_id = ? AND active = ?", userID, true)
	if res.Error != nil {
		return nil, dbError(res.Error, "active signed prekey")
	}

	return &key, nil
}

// Returns an identity key of a user by its key id
func QueryIdentityKey(db *gorm.DB, userID string, keyID uint32) (*IdentityKey, error) {
	var key IdentityKey
	res := db.First(&key, "user_id = ? AND key_id = ?", userID, keyID)
	if res.Error != nil {
		return nil, dbError(res.Error, "identity key")
	}

	return &key, nil
}

// Returns a prekey of a user by its key id, used or not
func QueryPreKey(db *gorm.DB, userID string, keyID uint32) (*PreKey, error) {
	var key PreKey
	res := db.First(&key, "user_id = ? AND key_id = ?", userID, keyID)
	if res.Error != nil {
		return nil, dbError(res.Error, "prekey")
	}

	return &key, nil
}

// Returns every identity key of a user, oldest first
func QueryIdentityKeys(db *gorm.DB, userID string) ([]IdentityKey, error) {
	var keys []IdentityKey
	res := db.Where("user_id = ?", userID).Order("key_id").Find(&keys)
	if res.Error != nil {
		return nil, dbError(res.Error, "identity keys")
	}

	return keys, nil
}

// Returns every signed prekey of a user, oldest first
func QuerySignedPreKeys(db *gorm.DB, userID string) ([]SignedPreKey, error) {
	var keys []SignedPreKey
	res := db.Where("user_id = ?", userID).Order("key_id").Find(&keys)
	if res.Error != nil {
		return nil, dbError(res.Error, "signed prekeys")
	}

	return keys, nil
}

// Returns every prekey still stored for a user
func QueryPreKeys(db *gorm.DB, userID string) ([]PreKey, error) {
	var keys []PreKey
	res := db.Where("user_id = ?", userID).Order("key_id").Find(&keys)
	if res.Error != nil {
		return nil, dbError(res.Error, "prekeys")
	}

	return keys, nil
}

// Returns how many prekeys of a user are stored,
// counting only the unused ones if told so.
func CountPreKeys(db *gorm.DB, userID string, unused bool) (int64, error) {
	var count int64
	query := db.Model(&PreKey{}).Where("user_id = ?", userID)
	if unused {
		query = query.Where("used = ?", false)
	}

	res := query.Count(&count)
	if res.Error != nil {
		return 0, dbError(res.Error, "prekey count")
	}

	return count, nil
}

// Returns how many identity keys and signed
// prekeys of the user are currently active.
func CountActiveKeys(db *gorm.DB, userID string) (int64, int64, error) {
	var iks, spks int64
	res := db.Model(&IdentityKey{}).Where("user_id = ? AND active = ?", userID, true).Count(&iks)
	if res.Error != nil {
		return 0, 0, dbError(res.Error, "active identity keys")
	}

	res = db.Model(&SignedPreKey{}).Where("user_id = ? AND active = ?", userID, true).Count(&spks)
	if res.Error != nil {
		return 0, 0, dbError(res.Error, "active signed prekeys")
	}

	return iks, spks, nil
}

/* INSERTIONS */

// Inserts a single prekey, failing with
// ErrorDuplicatedKey if its key id is taken
func InsertPreKey(db *gorm.DB, key *PreKey) error {
	res := db.Create(key)
	if res.Error != nil {
		return dbError(res.Error, "prekey insertion")
	}

	return nil
}

// Inserts the first keys of a user, all of them active
func InsertInitialKeys(db *gorm.DB, ik *IdentityKey, spk *SignedPreKey, pks []PreKey) error {
	ik.Active = true
	res := db.Create(ik)
	if res.Error != nil {
		return dbError(res.Error, "identity key insertion")
	}

	spk.Active = true
	res = db.Create(spk)
	if res.Error != nil {
		return dbError(res.Error, "signed prekey insertion")
	}

	if len(pks) == 0 {
		return nil
	}

	res = db.Create(&pks)
	if res.Error != nil {
		return dbError(res.Error, "prekeys insertion")
	}

	return nil
}

/* UPDATES */

// Hands out one unused prekey of the user. Sticky claims mark
// it as used and keep it, others delete it. The row is only
// changed if it is still unused so two claims never return
// the same prekey. Returns ErrorEmpty if the pool is exhausted.
func ClaimPreKey(db *gorm.DB, userID string, sticky bool) (*PreKey, error) {
	for range casAttempts {
		var key PreKey
		res := db.Where(
			"user_id = ? AND used = ?", userID, false,
		).Order("key_id").Take(&key)
		if res.Error != nil {
			if errors.Is(res.Error, gorm.ErrRecordNotFound) {
				return nil, ErrorEmpty
			}
			return nil, dbError(res.Error, "prekey pool")
		}

		var claim *gorm.DB
		if sticky {
			claim = db.Model(&PreKey{}).Where(
				"id = ? AND used = ?", key.ID, false,
			).Update("used", true)
		} else {
			claim = db.Where(
				"id = ? AND used = ?", key.ID, false,
			).Delete(&PreKey{})
		}

		if claim.Error != nil {
			return nil, dbError(claim.Error, "prekey claim")
		}

		if claim.RowsAffected == 1 {
			key.Used = sticky
			return &key, nil
		}

		// Someone else claimed it first
	}

	return nil, ErrorConflict
}

// Moves the prekey id counter of the user up to next, never down.
// Returns the value of the counter after the operation.
func AdvancePreKeyID(db *gorm.DB, userID string, next uint32) (uint32, error) {
	for range casAttempts {
		var user User
		res := db.Select("id", "next_pre_key_id").First(&user, "id = ?", userID)
		if res.Error != nil {
			return 0, dbError(res.Error, "prekey counter")
		}

		if user.NextPreKeyID >= next {
			return user.NextPreKeyID, nil
		}

		cas := db.Model(&User{}).Where(
			"id = ? AND next_pre_key_id = ?", userID, user.NextPreKeyID,
		).Update("next_pre_key_id", next)
		if cas.Error != nil {
			return 0, dbError(cas.Error, "prekey counter")
		}

		if cas.RowsAffected == 1 {
			return next, nil
		}
	}

	return 0, ErrorConflict
}

// Makes the given key the only active identity key of its user.
// Both changes happen in one transaction with the user row locked.
func RotateIdentityKey(db *gorm.DB, key *IdentityKey) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if _, err := lockUser(tx, key.UserID); err != nil {
			return err
		}

		res := tx.Model(&IdentityKey{}).Where(
			"user_id = ? AND active = ?", key.UserID, true,
		).Update("active", false)
		if res.Error != nil {
			return dbError(res.Error, "identity key rotation")
		}

		key.Active = true
		res = tx.Create(key)
		if res.Error != nil {
			return dbError(res.Error, "identity key rotation")
		}

		return nil
	})
}

// Makes the given key the only active signed prekey of its user.
// Both changes happen in one transaction with the user row locked.
func RotateSignedPreKey(db *gorm.DB, key *SignedPreKey) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if _, err := lockUser(tx, key.UserID); err != nil {
			return err
		}

		res := tx.Model(&SignedPreKey{}).Where(
			"user_id = ? AND active = ?", key.UserID, true,
		).Update("active", false)
		if res.Error != nil {
			return dbError(res.Error, "signed prekey rotation")
		}

		key.Active = true
		res = tx.Create(key)
		if res.Error != nil {
			return dbError(res.Error, "signed prekey rotation")
		}

		return nil
	})
}
