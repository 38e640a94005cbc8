package db

import (
	"database/sql"
	"slices"

	"github.com/Sprinter05/gostick/internal/spec"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

/* QUERIES */

// Returns a party by its id
func QueryParty(db *gorm.DB, id string) (*Party, error) {
	var party Party
	res := db.First(&party, "id = ?", id)
	if res.Error != nil {
		return nil, dbError(res.Error, "party")
	}

	return &party, nil
}

// Returns the party shared by the participants with the given hash
func QueryPartyByHash(db *gorm.DB, hash string) (*Party, error) {
	var party Party
	res := db.First(&party, "hash = ?", hash)
	if res.Error != nil {
		return nil, dbError(res.Error, "party by hash")
	}

	return &party, nil
}

// Returns the self party (individual) or the profile
// party (not individual) owned by a user
func QueryOwnedParty(db *gorm.DB, userID string, individual bool) (*Party, error) {
	var party Party
	res := db.First(
		&party,
		"owner_id = ? AND individual = ?",
		userID, individual,
	)
	if res.Error != nil {
		return nil, dbError(res.Error, "owned party")
	}

	return &party, nil
}

// Returns a group by its id
func QueryGroup(db *gorm.DB, id string) (*Group, error) {
	var group Group
	res := db.First(&group, "id = ?", id)
	if res.Error != nil {
		return nil, dbError(res.Error, "group")
	}

	return &group, nil
}

// Returns every group a user is a member of
func QueryUserGroups(db *gorm.DB, userID string) ([]Group, error) {
	var groups []Group
	res := db.Joins(
		"JOIN group_members gm ON gm.group_id = chat_groups.id",
	).Where("gm.user_id = ?", userID).Order("chat_groups.id").Find(&groups)
	if res.Error != nil {
		return nil, dbError(res.Error, "user groups")
	}

	return groups, nil
}

// Returns the ids of the members of a group, optionally
// including the users that have been invited to it
func GroupMembers(db *gorm.DB, groupID string, invited bool) ([]string, error) {
	var ids []string
	res := db.Model(&GroupMember{}).Where(
		"group_id = ?", groupID,
	).Order("user_id").Pluck("user_id", &ids)
	if res.Error != nil {
		return nil, dbError(res.Error, "group members")
	}

	if invited {
		var extra []string
		res = db.Model(&GroupInvitation{}).Where(
			"group_id = ?", groupID,
		).Order("user_id").Pluck("user_id", &extra)
		if res.Error != nil {
			return nil, dbError(res.Error, "group invitations")
		}
		ids = union(ids, extra)
	}

	return ids, nil
}

// Whether the user belongs to the group, or
// has been invited to it if invitations count
func IsGroupMember(db *gorm.DB, groupID string, userID string, invitations bool) (bool, error) {
	var count int64
	res := db.Model(&GroupMember{}).Where(
		"group_id = ? AND user_id = ?", groupID, userID,
	).Count(&count)
	if res.Error != nil {
		return false, dbError(res.Error, "group membership")
	}

	if count == 0 && invitations {
		res = db.Model(&GroupInvitation{}).Where(
			"group_id = ? AND user_id = ?", groupID, userID,
		).Count(&count)
		if res.Error != nil {
			return false, dbError(res.Error, "group invitation")
		}
	}

	return count > 0, nil
}

// Returns the ids of the users connected to a user
func QueryConnections(db *gorm.DB, userID string) ([]string, error) {
	var ids []string
	res := db.Model(&Connection{}).Where(
		"user_id = ?", userID,
	).Order("peer_id").Pluck("peer_id", &ids)
	if res.Error != nil {
		return nil, dbError(res.Error, "connections")
	}

	return ids, nil
}

// Whether both users are connected
func IsConnected(db *gorm.DB, a string, b string) (bool, error) {
	var count int64
	res := db.Model(&Connection{}).Where(
		"user_id = ? AND peer_id = ?", a, b,
	).Count(&count)
	if res.Error != nil {
		return false, dbError(res.Error, "connection")
	}

	return count > 0, nil
}

// Returns the groups linked to a party
func PartyGroups(db *gorm.DB, partyID string) ([]string, error) {
	var ids []string
	res := db.Model(&PartyGroup{}).Where(
		"party_id = ?", partyID,
	).Order("group_id").Pluck("group_id", &ids)
	if res.Error != nil {
		return nil, dbError(res.Error, "party groups")
	}

	return ids, nil
}

// Returns every user that takes part in a party: its direct
// members, the members of its groups and, for owned parties,
// the owner along with their connections if it is a profile party.
// Invited group members are included only if told so.
func PartyMembers(db *gorm.DB, party *Party, invited bool) ([]string, error) {
	var ids []string
	res := db.Model(&PartyMember{}).Where(
		"party_id = ?", party.ID,
	).Pluck("user_id", &ids)
	if res.Error != nil {
		return nil, dbError(res.Error, "party members")
	}

	groups, err := PartyGroups(db, party.ID)
	if err != nil {
		return nil, err
	}

	for _, g := range groups {
		members, err := GroupMembers(db, g, invited)
		if err != nil {
			return nil, err
		}
		ids = union(ids, members)
	}

	if party.OwnerID != nil {
		ids = union(ids, []string{*party.OwnerID})
		if !party.Individual {
			conns, err := QueryConnections(db, *party.OwnerID)
			if err != nil {
				return nil, err
			}
			ids = union(ids, conns)
		}
	}

	return ids, nil
}

/* INSERTIONS */

// Returns the profile and self parties of a user,
// creating whichever does not exist yet.
func EnsureOwnedParties(db *gorm.DB, userID string) (*Party, *Party, error) {
	var parties [2]*Party
	for i, individual := range []bool{false, true} {
		party, err := QueryOwnedParty(db, userID, individual)
		if err == nil {
			parties[i] = party
			continue
		}

		if !errors.Is(err, ErrorNotFound) {
			return nil, nil, err
		}

		owner := userID
		party = &Party{
			ID:         spec.NewPartyID(),
			Individual: individual,
			OwnerID:    &owner,
		}

		res := db.Create(party)
		if res.Error != nil {
			return nil, nil, dbError(res.Error, "owned party insertion")
		}
		parties[i] = party
	}

	return parties[0], parties[1], nil
}

// Returns the party identified by the hash, creating it with the
// given members and groups if it does not exist. Concurrent calls
// for the same hash end up with the same party.
func EnsureHashedParty(db *gorm.DB, hash string, members []string, groups []string) (*Party, error) {
	party, err := QueryPartyByHash(db, hash)
	if err == nil {
		return party, nil
	}

	if !errors.Is(err, ErrorNotFound) {
		return nil, err
	}

	party = &Party{
		ID:   spec.NewPartyID(),
		Hash: sql.NullString{String: hash, Valid: true},
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		res := tx.Create(party)
		if res.Error != nil {
			return dbError(res.Error, "party insertion")
		}

		for _, m := range members {
			res = tx.Create(&PartyMember{PartyID: party.ID, UserID: m})
			if res.Error != nil {
				return dbError(res.Error, "party member insertion")
			}
		}

		for _, g := range groups {
			res = tx.Create(&PartyGroup{PartyID: party.ID, GroupID: g})
			if res.Error != nil {
				return dbError(res.Error, "party group insertion")
			}
		}

		return nil
	})

	// Lost the race against another request for the same hash
	if errors.Is(err, ErrorDuplicatedKey) {
		return QueryPartyByHash(db, hash)
	}

	if err != nil {
		return nil, err
	}

	return party, nil
}

// Inserts a group along with its initial members
func InsertGroup(db *gorm.DB, group *Group, members ...string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		res := tx.Create(group)
		if res.Error != nil {
			return dbError(res.Error, "group insertion")
		}

		for _, m := range members {
			if err := InsertGroupMember(tx, group.ID, m); err != nil {
				return err
			}
		}

		return nil
	})
}

// Adds a user to a group, doing nothing if already there
func InsertGroupMember(db *gorm.DB, groupID string, userID string) error {
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&GroupMember{
		GroupID: groupID,
		UserID:  userID,
	})
	if res.Error != nil {
		return dbError(res.Error, "group member insertion")
	}

	return nil
}

// Invites a user to a group, doing nothing if already invited
func InsertGroupInvitation(db *gorm.DB, groupID string, userID string) error {
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&GroupInvitation{
		GroupID: groupID,
		UserID:  userID,
	})
	if res.Error != nil {
		return dbError(res.Error, "group invitation insertion")
	}

	return nil
}

// Connects two users in both directions
func InsertConnection(db *gorm.DB, a string, b string) error {
	conns := []Connection{
		{UserID: a, PeerID: b},
		{UserID: b, PeerID: a},
	}

	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&conns)
	if res.Error != nil {
		return dbError(res.Error, "connection insertion")
	}

	return nil
}

/* UPDATES */

// Stick id and sender of a group identity cipher.
type Slot struct {
	Stick spec.StickID
	Owner string
}

func (s *Slot) columns() (sql.NullString, sql.NullString) {
	if s == nil {
		return sql.NullString{}, sql.NullString{}
	}

	return sql.NullString{String: s.Stick.String(), Valid: true},
		sql.NullString{String: s.Owner, Valid: true}
}

// Sets the name and cover slots of a group, nil clears a slot
func UpdateGroupSlots(db *gorm.DB, groupID string, name *Slot, cover *Slot) error {
	nameStick, nameOwner := name.columns()
	coverStick, coverOwner := cover.columns()

	res := db.Model(&Group{}).Where("id = ?", groupID).Updates(map[string]any{
		"name_stick_id":  nameStick,
		"name_owner_id":  nameOwner,
		"cover_stick_id": coverStick,
		"cover_owner_id": coverOwner,
	})
	if res.Error != nil {
		return dbError(res.Error, "group slots")
	}

	if res.RowsAffected == 0 {
		return ErrorNotFound
	}

	return nil
}

/* AUXILIARY */

// Appends the elements of b missing in a, keeping a sorted
func union(a []string, b []string) []string {
	out := append(slices.Clone(a), b...)
	slices.Sort(out)
	return slices.Compact(out)
}
