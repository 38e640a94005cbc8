package db

import (
	"github.com/Sprinter05/gostick/internal/spec"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

/* QUERIES */

// Returns the sender keys the owner still has to deliver
func QueryPendingKeys(db *gorm.DB, ownerID string) ([]PendingKey, error) {
	var keys []PendingKey
	res := db.Where("owner_id = ?", ownerID).Order("id").Find(&keys)
	if res.Error != nil {
		return nil, dbError(res.Error, "pending keys")
	}

	return keys, nil
}

// Returns how many sender keys the owner still has to deliver
func CountPendingKeys(db *gorm.DB, ownerID string) (int64, error) {
	var count int64
	res := db.Model(&PendingKey{}).Where("owner_id = ?", ownerID).Count(&count)
	if res.Error != nil {
		return 0, dbError(res.Error, "pending key count")
	}

	return count, nil
}

/* INSERTIONS */

// Records that the owner owes the user a sender key for the
// stick id. Recording the same debt twice keeps a single row.
func InsertPendingKey(db *gorm.DB, ownerID string, userID string, stick spec.StickID) error {
	return InsertPendingKeys(db, ownerID, []string{userID}, stick)
}

// Same as InsertPendingKey for several users at once
func InsertPendingKeys(db *gorm.DB, ownerID string, users []string, stick spec.StickID) error {
	if len(users) == 0 {
		return nil
	}

	keys := make([]PendingKey, 0, len(users))
	for _, u := range users {
		if u == ownerID {
			continue
		}
		keys = append(keys, PendingKey{
			OwnerID: ownerID,
			UserID:  u,
			PartyID: stick.Party,
			ChainID: stick.Chain,
		})
	}

	if len(keys) == 0 {
		return nil
	}

	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&keys)
	if res.Error != nil {
		return dbError(res.Error, "pending key insertion")
	}

	return nil
}

/* DELETIONS */

// Returns the pending keys of the owner, removing them in
// the same transaction if told so. Nothing is returned twice
// when clearing, as a concurrent fetch waits for this one.
func FetchPendingKeys(db *gorm.DB, ownerID string, clear bool) ([]PendingKey, error) {
	if !clear {
		return QueryPendingKeys(db, ownerID)
	}

	var keys []PendingKey
	err := db.Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(
			clause.Locking{Strength: "UPDATE"},
		).Where("owner_id = ?", ownerID).Order("id").Find(&keys)
		if res.Error != nil {
			return dbError(res.Error, "pending keys")
		}

		if len(keys) == 0 {
			return nil
		}

		ids := make([]uint, len(keys))
		for i, v := range keys {
			ids[i] = v.ID
		}

		res = tx.Where("id IN ?", ids).Delete(&PendingKey{})
		if res.Error != nil {
			return dbError(res.Error, "pending key removal")
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return keys, nil
}

// Removes the debt of the owner towards the user for the stick
// id, used once the matching sender key has been uploaded
func RemovePendingKey(db *gorm.DB, ownerID string, userID string, stick spec.StickID) error {
	res := db.Where(
		"owner_id = ? AND user_id = ? AND party_id = ? AND chain_id = ?",
		ownerID, userID, stick.Party, stick.Chain,
	).Delete(&PendingKey{})
	if res.Error != nil {
		return dbError(res.Error, "pending key removal")
	}

	return nil
}

// Removes the listed pending keys of the owner, ignoring ids
// that belong to someone else. Returns how many were removed.
func AckPendingKeys(db *gorm.DB, ownerID string, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	res := db.Where(
		"owner_id = ? AND id IN ?", ownerID, ids,
	).Delete(&PendingKey{})
	if res.Error != nil {
		return 0, dbError(res.Error, "pending key acknowledgement")
	}

	return res.RowsAffected, nil
}
