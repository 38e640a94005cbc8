package db

import (
	"database/sql"
	"strings"
	"time"

	"github.com/Sprinter05/gostick/internal/spec"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Values stored when a user uploads their first bundle.
type Registration struct {
	OneTimeID    string
	LocalID      int64
	NextPreKeyID uint32
	PasswordHash string
	PasswordSalt string
}

/* QUERIES */

// Returns a database user according to their id
func QueryUser(db *gorm.DB, id string) (*User, error) {
	var user User
	res := db.First(&user, "id = ?", id)
	if res.Error != nil {
		return nil, dbError(res.Error, "user")
	}

	return &user, nil
}

// Returns a user by the phone or, if no phone is
// given, the case insensitive email they signed up with.
func QueryUserByAuth(db *gorm.DB, phone string, email string) (*User, error) {
	var user User
	var res *gorm.DB
	switch {
	case phone != "":
		res = db.First(&user, "phone = ?", phone)
	case email != "":
		res = db.First(&user, "email = ?", strings.ToLower(email))
	default:
		return nil, ErrorNotFound
	}

	if res.Error != nil {
		return nil, dbError(res.Error, "user by auth id")
	}

	return &user, nil
}

// Returns the owner of the token with the given digest
func QueryTokenUser(db *gorm.DB, digest string) (*User, *Token, error) {
	var token Token
	res := db.Preload("User").First(&token, "digest = ?", digest)
	if res.Error != nil {
		return nil, nil, dbError(res.Error, "auth token")
	}

	return &token.User, &token, nil
}

// Returns the device of a user by the id the client gave it
func QueryDevice(db *gorm.DB, userID string, deviceID string) (*Device, error) {
	var device Device
	res := db.First(&device, "user_id = ? AND device_id = ?", userID, deviceID)
	if res.Error != nil {
		return nil, dbError(res.Error, "device")
	}

	return &device, nil
}

// Returns how many devices a user has logged in from
func CountDevices(db *gorm.DB, userID string) (int64, error) {
	var count int64
	res := db.Model(&Device{}).Where("user_id = ?", userID).Count(&count)
	if res.Error != nil {
		return 0, dbError(res.Error, "device count")
	}

	return count, nil
}

// Returns every user, ordered by id
func QueryUsers(db *gorm.DB) ([]User, error) {
	var users []User
	res := db.Order("id").Find(&users)
	if res.Error != nil {
		return nil, dbError(res.Error, "users")
	}

	if len(users) == 0 {
		return nil, ErrorEmpty
	}

	return users, nil
}

// Returns the one time ids of the given users, skipping
// those that have not finished their registration
func QueryOneTimeIDs(db *gorm.DB, ids []string) (map[string]string, error) {
	found := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	var users []User
	res := db.Select("id", "one_time_id").Where(
		"id IN ? AND one_time_id IS NOT NULL", ids,
	).Find(&users)
	if res.Error != nil {
		return nil, dbError(res.Error, "one time ids")
	}

	for _, v := range users {
		found[v.ID] = v.OneTimeID.String
	}

	return found, nil
}

/* INSERTIONS */

// Inserts an account that has not uploaded any keys yet.
// Either phone or email may be empty but not both.
func InsertUser(db *gorm.DB, id string, phone string, email string) (*User, error) {
	user := User{
		ID:    id,
		Phone: sql.NullString{String: phone, Valid: phone != ""},
		Email: sql.NullString{
			String: strings.ToLower(email),
			Valid:  email != "",
		},
	}

	res := db.Create(&user)
	if res.Error != nil {
		return nil, dbError(res.Error, "user insertion")
	}

	return &user, nil
}

// Registers a device for the user or renames it if it exists
func InsertDevice(db *gorm.DB, userID string, deviceID string, name string) (*Device, error) {
	device := Device{
		UserID:   userID,
		DeviceID: deviceID,
		Name:     name,
	}

	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name"}),
	}).Create(&device)
	if res.Error != nil {
		return nil, dbError(res.Error, "device insertion")
	}

	// Upserts do not always report the id back
	return QueryDevice(db, userID, deviceID)
}

// Stores the digest of a new token for a device,
// replacing any token the device had before.
func InsertToken(db *gorm.DB, digest string, userID string, device uint) error {
	return db.Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&Token{}, "device_ref = ?", device)
		if res.Error != nil {
			return dbError(res.Error, "token replacement")
		}

		res = tx.Create(&Token{
			Digest:    digest,
			UserID:    userID,
			DeviceRef: device,
			CreatedAt: time.Now(),
		})
		if res.Error != nil {
			return dbError(res.Error, "token insertion")
		}

		return nil
	})
}

/* UPDATES */

// Locks the row of a user until the transaction ends so that
// key rotations of the same user run one after the other.
// Sqlite ignores the clause as it serializes writers already.
func lockUser(tx *gorm.DB, id string) (*User, error) {
	var user User
	res := tx.Clauses(
		clause.Locking{Strength: "UPDATE"},
	).First(&user, "id = ?", id)
	if res.Error != nil {
		return nil, dbError(res.Error, "user lock")
	}

	return &user, nil
}

// Stores the registration values, failing if
// the user had already finished registration.
func FinishRegistration(db *gorm.DB, userID string, reg Registration) error {
	res := db.Model(&User{}).Where(
		"id = ? AND finished_registration = ?", userID, false,
	).Updates(map[string]any{
		"one_time_id":           reg.OneTimeID,
		"local_id":              reg.LocalID,
		"next_pre_key_id":       reg.NextPreKeyID,
		"password_hash":         reg.PasswordHash,
		"password_salt":         reg.PasswordSalt,
		"finished_registration": true,
	})
	if res.Error != nil {
		return dbError(res.Error, "registration")
	}

	if res.RowsAffected == 0 {
		return ErrorRegistered
	}

	return nil
}

// Adds a failed password attempt to the user. Once the attempts
// reach max the user is locked from the given time and the count
// starts over, returning true.
func RecordFailedLogin(db *gorm.DB, userID string, max int, now time.Time) (bool, error) {
	blocked := false
	err := db.Transaction(func(tx *gorm.DB) error {
		user, err := lockUser(tx, userID)
		if err != nil {
			return err
		}

		trials := user.PasswordTrials + 1
		values := map[string]any{"password_trials": trials}
		if trials >= max {
			blocked = true
			values["password_trials"] = 0
			values["password_block_time"] = sql.NullTime{Time: now, Valid: true}
		}

		res := tx.Model(&User{}).Where("id = ?", userID).Updates(values)
		if res.Error != nil {
			return dbError(res.Error, "password trials")
		}

		return nil
	})

	return blocked, err
}

// Removes any failed attempts and lock of the user
func ClearFailedLogins(db *gorm.DB, userID string) error {
	res := db.Model(&User{}).Where("id = ?", userID).Updates(map[string]any{
		"password_trials":     0,
		"password_block_time": sql.NullTime{},
	})
	if res.Error != nil {
		return dbError(res.Error, "password trials reset")
	}

	return nil
}

// Overwrites the cipher and salt of the listed keys of a user
// along with the password, all in a single transaction. Every
// listed key must exist or nothing is changed.
func ChangePassword(db *gorm.DB, userID string, hash string, salt string, keys spec.ReencryptedKeys) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if _, err := lockUser(tx, userID); err != nil {
			return err
		}

		tables := []struct {
			model any
			keys  []spec.ReencryptedKey
		}{
			{&IdentityKey{}, keys.IdentityKeys},
			{&SignedPreKey{}, keys.SignedPreKeys},
			{&PreKey{}, keys.PreKeys},
		}

		for _, t := range tables {
			for _, k := range t.keys {
				res := tx.Model(t.model).Where(
					"user_id = ? AND key_id = ?", userID, k.ID,
				).Updates(map[string]any{
					"cipher": k.Cipher,
					"salt":   k.Salt,
				})
				if res.Error != nil {
					return dbError(res.Error, "key reencryption")
				}

				if res.RowsAffected == 0 {
					return errors.Wrapf(ErrorNotFound, "key %d", k.ID)
				}
			}
		}

		res := tx.Model(&User{}).Where("id = ?", userID).Updates(map[string]any{
			"password_hash": hash,
			"password_salt": salt,
		})
		if res.Error != nil {
			return dbError(res.Error, "password change")
		}

		return nil
	})
}

/* DELETIONS */

// Removes every token of the user except the ones
// bound to the given device, returning how many went.
func RevokeTokens(db *gorm.DB, userID string, keep uint) (int64, error) {
	res := db.Delete(&Token{}, "user_id = ? AND device_ref <> ?", userID, keep)
	if res.Error != nil {
		return 0, dbError(res.Error, "token revocation")
	}

	return res.RowsAffected, nil
}
