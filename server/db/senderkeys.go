package db

import (
	"github.com/Sprinter05/gostick/internal/spec"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Filters decryption sender keys by both of their addresses
func addressed(db *gorm.DB, stick spec.StickID, of spec.Address, to spec.Address) *gorm.DB {
	return db.Where(
		"party_id = ? AND chain_id = ? AND of_kind = ? AND of_id = ? AND for_kind = ? AND for_id = ?",
		stick.Party, stick.Chain, of.Kind, of.ID, to.Kind, to.ID,
	)
}

/* QUERIES */

// Returns the encryption sender key with the highest chain
// id that the user has in the party
func QueryLatestChain(db *gorm.DB, partyID string, userID string) (*EncryptionSenderKey, error) {
	var key EncryptionSenderKey
	res := db.Where(
		"party_id = ? AND user_id = ?", partyID, userID,
	).Order("chain_id DESC").Take(&key)
	if res.Error != nil {
		return nil, dbError(res.Error, "latest chain")
	}

	return &key, nil
}

// Returns every encryption sender key of a user
func QueryEncryptionKeys(db *gorm.DB, userID string) ([]EncryptionSenderKey, error) {
	var keys []EncryptionSenderKey
	res := db.Preload("IdentityKey").Where(
		"user_id = ?", userID,
	).Order("party_id, chain_id").Find(&keys)
	if res.Error != nil {
		return nil, dbError(res.Error, "encryption sender keys")
	}

	return keys, nil
}

// Returns the decryption sender key wrapped by of for to,
// along with the recipient keys it references
func QueryDecryptionKey(db *gorm.DB, stick spec.StickID, of spec.Address, to spec.Address) (*DecryptionSenderKey, error) {
	var key DecryptionSenderKey
	res := addressed(
		db.Preload("IdentityKey").Preload("PreKey"),
		stick, of, to,
	).Take(&key)
	if res.Error != nil {
		return nil, dbError(res.Error, "decryption sender key")
	}

	return &key, nil
}

// Returns which of the recipients already have a decryption
// sender key from the sender for the stick id. All recipients
// must be addressed with the given kind.
func QueryWrappedFor(db *gorm.DB, stick spec.StickID, of spec.Address, kind spec.AddressKind, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	var have []string
	res := db.Model(&DecryptionSenderKey{}).Where(
		"party_id = ? AND chain_id = ? AND of_kind = ? AND of_id = ? AND for_kind = ? AND for_id IN ?",
		stick.Party, stick.Chain, of.Kind, of.ID, kind, ids,
	).Pluck("for_id", &have)
	if res.Error != nil {
		return nil, dbError(res.Error, "wrapped recipients")
	}

	for _, v := range have {
		found[v] = true
	}

	return found, nil
}

/* INSERTIONS */

// Makes sure the user has an encryption sender key row for
// the stick id, creating an empty one at step 0 if needed.
func EnsureEncryptionKey(db *gorm.DB, stick spec.StickID, userID string) (*EncryptionSenderKey, error) {
	key := EncryptionSenderKey{
		PartyID: stick.Party,
		ChainID: stick.Chain,
		UserID:  userID,
	}

	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&key)
	if res.Error != nil {
		return nil, dbError(res.Error, "encryption sender key")
	}

	var stored EncryptionSenderKey
	res = db.First(
		&stored,
		"party_id = ? AND chain_id = ? AND user_id = ?",
		stick.Party, stick.Chain, userID,
	)
	if res.Error != nil {
		return nil, dbError(res.Error, "encryption sender key")
	}

	return &stored, nil
}

// Stores the sender key material of the user for the stick id
func UpdateEncryptionKey(db *gorm.DB, stick spec.StickID, userID string, key string, ik *uint) error {
	if _, err := EnsureEncryptionKey(db, stick, userID); err != nil {
		return err
	}

	res := db.Model(&EncryptionSenderKey{}).Where(
		"party_id = ? AND chain_id = ? AND user_id = ?",
		stick.Party, stick.Chain, userID,
	).Updates(map[string]any{
		"key":              key,
		"identity_key_ref": ik,
	})
	if res.Error != nil {
		return dbError(res.Error, "encryption sender key material")
	}

	return nil
}

// Creates or overwrites the decryption sender key for the
// pair of addresses in the given stick id
func UpsertDecryptionKey(db *gorm.DB, key *DecryptionSenderKey) error {
	res := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "party_id"},
			{Name: "chain_id"},
			{Name: "of_kind"},
			{Name: "of_id"},
			{Name: "for_kind"},
			{Name: "for_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"key",
			"identity_key_ref",
			"pre_key_ref",
			"updated_at",
		}),
	}).Create(key)
	if res.Error != nil {
		return dbError(res.Error, "decryption sender key")
	}

	return nil
}

/* UPDATES */

// Reports the ratchet step of the chain of the user. The step
// never moves back, lower values are ignored.
func UpdateChainStep(db *gorm.DB, stick spec.StickID, userID string, step uint32) error {
	if _, err := EnsureEncryptionKey(db, stick, userID); err != nil {
		return err
	}

	res := db.Model(&EncryptionSenderKey{}).Where(
		"party_id = ? AND chain_id = ? AND user_id = ? AND step < ?",
		stick.Party, stick.Chain, userID, step,
	).Update("step", step)
	if res.Error != nil {
		return dbError(res.Error, "chain step")
	}

	return nil
}

// Reads a decryption sender key and clears it so that it is
// handed out at most once. A key that was already claimed
// reads as empty, a missing one returns ErrorNotFound.
func ClaimDecryptionKey(db *gorm.DB, stick spec.StickID, of spec.Address, to spec.Address) (string, error) {
	var key DecryptionSenderKey
	res := addressed(db, stick, of, to).Take(&key)
	if res.Error != nil {
		return "", dbError(res.Error, "standard sender key")
	}

	if key.Key == "" {
		return "", nil
	}

	claim := db.Model(&DecryptionSenderKey{}).Where(
		"id = ? AND `key` = ?", key.ID, key.Key,
	).Update("key", "")
	if claim.Error != nil {
		return "", dbError(claim.Error, "standard sender key claim")
	}

	// Another reader cleared it in between
	if claim.RowsAffected == 0 {
		return "", nil
	}

	return key.Key, nil
}

/* DELETIONS */

// Removes every decryption sender key wrapped by the sender in the
// stick id, used when a sender restarts a chain from scratch
func RemoveDecryptionKeys(db *gorm.DB, stick spec.StickID, of spec.Address) (int64, error) {
	if !of.Valid() {
		return 0, errors.New("invalid sender address")
	}

	res := db.Where(
		"party_id = ? AND chain_id = ? AND of_kind = ? AND of_id = ?",
		stick.Party, stick.Chain, of.Kind, of.ID,
	).Delete(&DecryptionSenderKey{})
	if res.Error != nil {
		return 0, dbError(res.Error, "decryption sender key removal")
	}

	return res.RowsAffected, nil
}
