package db

import (
	"database/sql"
	"time"

	"github.com/Sprinter05/gostick/internal/spec"
)

/* ACCOUNTS */

// Identifies the model of a user in the database.
// Accounts are created elsewhere, this server only
// completes their registration with key material.
type User struct {
	ID                   string         `gorm:"primaryKey;size:36;not null"`
	Phone                sql.NullString `gorm:"unique;size:32"`
	Email                sql.NullString `gorm:"unique;size:254"`
	OneTimeID            sql.NullString `gorm:"unique;size:36"`
	LocalID              int64          `gorm:"not null;default:0"`
	NextPreKeyID         uint32         `gorm:"not null;default:0"`
	PasswordHash         string         `gorm:"size:128"`
	PasswordSalt         string         `gorm:"size:255"`
	PasswordTrials       int            `gorm:"not null;default:0"`
	PasswordBlockTime    sql.NullTime
	FinishedRegistration bool `gorm:"not null;default:false"`
	CreatedAt            time.Time
}

// Device a user has logged in from.
type Device struct {
	ID       uint   `gorm:"primaryKey;autoIncrement;not null"`
	UserID   string `gorm:"size:36;not null;uniqueIndex:idx_device_user"`
	DeviceID string `gorm:"size:255;not null;uniqueIndex:idx_device_user"`
	Name     string `gorm:"size:255"`
	User     User   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// Auth token bound to a device. Only the digest is
// stored, the token itself is handed to the client once.
type Token struct {
	Digest    string    `gorm:"primaryKey;size:64;not null"`
	UserID    string    `gorm:"size:36;not null;index"`
	DeviceRef uint      `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null"`
	User      User      `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Device    Device    `gorm:"foreignKey:DeviceRef;constraint:OnDelete:CASCADE"`
}

/* KEYS */

// Long term identity key, exactly one is active per user.
type IdentityKey struct {
	ID        uint   `gorm:"primaryKey;autoIncrement;not null"`
	UserID    string `gorm:"size:36;not null;uniqueIndex:idx_ik_user_key"`
	KeyID     uint32 `gorm:"not null;uniqueIndex:idx_ik_user_key"`
	Public    string `gorm:"size:255;not null"`
	Cipher    string `gorm:"size:2047;not null"`
	Salt      string `gorm:"size:255;not null"`
	Active    bool   `gorm:"not null;default:false"`
	Timestamp string `gorm:"size:64"`
	User      User   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// Medium term signed prekey, exactly one is active per user.
type SignedPreKey struct {
	ID        uint   `gorm:"primaryKey;autoIncrement;not null"`
	UserID    string `gorm:"size:36;not null;uniqueIndex:idx_spk_user_key"`
	KeyID     uint32 `gorm:"not null;uniqueIndex:idx_spk_user_key"`
	Public    string `gorm:"size:255;not null"`
	Cipher    string `gorm:"size:2047;not null"`
	Salt      string `gorm:"size:255;not null"`
	Signature string `gorm:"size:255;not null"`
	Active    bool   `gorm:"not null;default:false"`
	Timestamp string `gorm:"size:64"`
	User      User   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// One time prekey. Used only moves from false to true.
type PreKey struct {
	ID     uint   `gorm:"primaryKey;autoIncrement;not null"`
	UserID string `gorm:"size:36;not null;uniqueIndex:idx_pk_user_key;index:idx_pk_pool"`
	KeyID  uint32 `gorm:"not null;uniqueIndex:idx_pk_user_key"`
	Public string `gorm:"size:255;not null"`
	Cipher string `gorm:"size:2047;not null"`
	Salt   string `gorm:"size:255;not null"`
	Used   bool   `gorm:"not null;default:false;index:idx_pk_pool"`
	User   User   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

/* MEMBERSHIP */

// Group as seen by the key server. The name and cover
// slots hold the stick id and sender of the ciphers that
// every member must be able to decrypt.
type Group struct {
	ID           string         `gorm:"primaryKey;size:64;not null"`
	OwnerID      sql.NullString `gorm:"size:36"`
	NameStickID  sql.NullString `gorm:"size:64"`
	NameOwnerID  sql.NullString `gorm:"size:36"`
	CoverStickID sql.NullString `gorm:"size:64"`
	CoverOwnerID sql.NullString `gorm:"size:36"`
}

// Avoids the reserved word groups in MySQL
func (Group) TableName() string {
	return "chat_groups"
}

type GroupMember struct {
	GroupID string `gorm:"primaryKey;size:64;not null"`
	UserID  string `gorm:"primaryKey;size:36;not null;index"`
	Group   Group  `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE"`
	User    User   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

type GroupInvitation struct {
	GroupID string `gorm:"primaryKey;size:64;not null"`
	UserID  string `gorm:"primaryKey;size:36;not null;index"`
	Group   Group  `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE"`
	User    User   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// Connections are symmetric and stored in both directions.
type Connection struct {
	UserID string `gorm:"primaryKey;size:36;not null"`
	PeerID string `gorm:"primaryKey;size:36;not null;index"`
	User   User   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Peer   User   `gorm:"foreignKey:PeerID;constraint:OnDelete:CASCADE"`
}

/* PARTIES */

// Conversation scope that sender keys are distributed in.
// Owned parties are the profile and self parties of a user,
// hashed parties are shared by a set of groups and users.
type Party struct {
	ID         string         `gorm:"primaryKey;size:36;not null"`
	Individual bool           `gorm:"not null;default:false"`
	OwnerID    *string        `gorm:"size:36;index"`
	Hash       sql.NullString `gorm:"unique;size:64"`
	Owner      *User          `gorm:"foreignKey:OwnerID;constraint:OnDelete:CASCADE"`
}

type PartyMember struct {
	PartyID string `gorm:"primaryKey;size:36;not null"`
	UserID  string `gorm:"primaryKey;size:36;not null;index"`
	Party   Party  `gorm:"foreignKey:PartyID;constraint:OnDelete:CASCADE"`
	User    User   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

type PartyGroup struct {
	PartyID string `gorm:"primaryKey;size:36;not null"`
	GroupID string `gorm:"primaryKey;size:64;not null;index"`
	Party   Party  `gorm:"foreignKey:PartyID;constraint:OnDelete:CASCADE"`
	Group   Group  `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE"`
}

/* SENDER KEYS */

// Sender side state of a sticky session chain. The
// highest chain of a user in a party is the live one.
type EncryptionSenderKey struct {
	ID             uint         `gorm:"primaryKey;autoIncrement;not null"`
	PartyID        string       `gorm:"size:36;not null;uniqueIndex:idx_esk_chain"`
	ChainID        uint32       `gorm:"not null;uniqueIndex:idx_esk_chain"`
	UserID         string       `gorm:"size:36;not null;uniqueIndex:idx_esk_chain"`
	Key            string       `gorm:"size:2047;not null;default:''"`
	Step           uint32       `gorm:"not null;default:0"`
	IdentityKeyRef *uint        `gorm:"index"`
	Party          Party        `gorm:"foreignKey:PartyID;constraint:OnDelete:CASCADE"`
	User           User         `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	IdentityKey    *IdentityKey `gorm:"foreignKey:IdentityKeyRef;constraint:OnDelete:RESTRICT"`
	UpdatedAt      time.Time
}

// Returns the stick id the row belongs to.
func (k EncryptionSenderKey) StickID() spec.StickID {
	return spec.StickID{Party: k.PartyID, Chain: k.ChainID}
}

// Sender key wrapped for a single recipient. Either side is
// addressed by user id or by one time id, never a mix of
// nullable columns. Referenced keys belong to the recipient.
type DecryptionSenderKey struct {
	ID             uint             `gorm:"primaryKey;autoIncrement;not null"`
	PartyID        string           `gorm:"size:36;not null;uniqueIndex:idx_dsk_addr"`
	ChainID        uint32           `gorm:"not null;uniqueIndex:idx_dsk_addr"`
	OfKind         spec.AddressKind `gorm:"not null;uniqueIndex:idx_dsk_addr"`
	OfID           string           `gorm:"size:36;not null;uniqueIndex:idx_dsk_addr"`
	ForKind        spec.AddressKind `gorm:"not null;uniqueIndex:idx_dsk_addr"`
	ForID          string           `gorm:"size:36;not null;uniqueIndex:idx_dsk_addr"`
	Key            string           `gorm:"size:2047;not null"`
	IdentityKeyRef *uint            `gorm:"index"`
	PreKeyRef      *uint            `gorm:"index"`
	Party          Party            `gorm:"foreignKey:PartyID;constraint:OnDelete:CASCADE"`
	IdentityKey    *IdentityKey     `gorm:"foreignKey:IdentityKeyRef;constraint:OnDelete:RESTRICT"`
	PreKey         *PreKey          `gorm:"foreignKey:PreKeyRef;constraint:OnDelete:RESTRICT"`
	UpdatedAt      time.Time
}

// Returns the stick id the row belongs to.
func (k DecryptionSenderKey) StickID() spec.StickID {
	return spec.StickID{Party: k.PartyID, Chain: k.ChainID}
}

// Owner still has to send user a sender key for the stick id.
type PendingKey struct {
	ID        uint   `gorm:"primaryKey;autoIncrement;not null"`
	OwnerID   string `gorm:"size:36;not null;uniqueIndex:idx_pending"`
	UserID    string `gorm:"size:36;not null;uniqueIndex:idx_pending"`
	PartyID   string `gorm:"size:36;not null;uniqueIndex:idx_pending"`
	ChainID   uint32 `gorm:"not null;uniqueIndex:idx_pending"`
	CreatedAt time.Time
	Owner     User `gorm:"foreignKey:OwnerID;constraint:OnDelete:CASCADE"`
	User      User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// Returns the stick id the row belongs to.
func (k PendingKey) StickID() spec.StickID {
	return spec.StickID{Party: k.PartyID, Chain: k.ChainID}
}
