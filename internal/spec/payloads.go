package spec

import (
	"bytes"
	"encoding/json"
)

// Field names in this file are a wire contract shared with
// existing clients and must not be renamed.

/* SHARED TYPES */

// Client supplied creation time of a key. Older clients send
// it as a number and newer ones as a string, both are kept verbatim.
type Timestamp string

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Timestamp(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*t = Timestamp(n.String())
	return nil
}

// Identity key as uploaded by its owner.
type IdentityKeyBody struct {
	ID        uint32    `json:"id"`
	Public    string    `json:"public"`
	Cipher    string    `json:"cipher"`
	Salt      string    `json:"salt"`
	Timestamp Timestamp `json:"timestamp"`
}

// Signed prekey as uploaded by its owner.
type SignedPreKeyBody struct {
	ID        uint32    `json:"id"`
	Public    string    `json:"public"`
	Cipher    string    `json:"cipher"`
	Salt      string    `json:"salt"`
	Signature string    `json:"signature"`
	Timestamp Timestamp `json:"timestamp"`
}

// One time prekey as uploaded by its owner.
type PreKeyBody struct {
	ID     uint32 `json:"id"`
	Public string `json:"public"`
	Cipher string `json:"cipher"`
	Salt   string `json:"salt"`
}

// Generic acknowledgement.
type SuccessReply struct {
	Success bool `json:"success"`
}

// Outcome of a batch where entries succeed independently.
// Results holds "ok" or the failure text for every entry.
type BatchReply struct {
	Success bool              `json:"success"`
	Results map[string]string `json:"results,omitempty"`
}

// Returns the value of an optional flag, using the default when absent.
func Flag(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

/* BUNDLES */

type RegisterRequest struct {
	IdentityKey  IdentityKeyBody  `json:"identity_key"`
	SignedPreKey SignedPreKeyBody `json:"signed_pre_key"`
	PreKeys      []PreKeyBody     `json:"pre_keys"`
	NextPreKeyID uint32           `json:"next_pre_key_id"`
	LocalID      int64            `json:"local_id"`
	OneTimeID    string           `json:"one_time_id"`
	PasswordHash string           `json:"password_hash"`
	PasswordSalt string           `json:"password_salt"`
	Phone        string           `json:"phone,omitempty"`
	Email        string           `json:"email,omitempty"`
	DeviceID     string           `json:"device_id"`
	DeviceName   string           `json:"device_name"`
}

type RegisterReply struct {
	PartyID       string `json:"party_id"`
	SelfPartyID   string `json:"self_party_id"`
	Token         string `json:"token"`
	FirebaseToken string `json:"firebase_token"`
}

type PreKeysRequest struct {
	PreKeys      []PreKeyBody `json:"pre_keys"`
	NextPreKeyID uint32       `json:"next_pre_key_id"`
}

type PreKeysReply struct {
	Success      bool     `json:"success"`
	NextPreKeyID uint32   `json:"next_pre_key_id"`
	Duplicates   []uint32 `json:"duplicates,omitempty"`
}

// The target may be given as "id" (query string) or "user_id".
type BundleRequest struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	IsSticky *bool  `json:"is_sticky"`
}

// Returns the user whose bundle is requested.
func (r BundleRequest) Target() string {
	if r.UserID != "" {
		return r.UserID
	}
	return r.ID
}

// Public half of a prekey bundle. The private ciphers
// are only filled when users fetch their own bundle.
type Bundle struct {
	UserID         string `json:"user_id"`
	LocalID        int64  `json:"local_id"`
	OneTimeID      string `json:"one_time_id,omitempty"`
	IdentityKey    string `json:"identity_key"`
	IdentityKeyID  uint32 `json:"identity_key_id"`
	SignedPreKey   string `json:"signed_pre_key"`
	SignedPreKeyID uint32 `json:"signed_pre_key_id"`
	Signature      string `json:"signature"`
	PreKey         string `json:"pre_key"`
	PreKeyID       uint32 `json:"pre_key_id"`

	IdentityKeyCipher  string `json:"identity_key_cipher,omitempty"`
	IdentityKeySalt    string `json:"identity_key_salt,omitempty"`
	SignedPreKeyCipher string `json:"signed_pre_key_cipher,omitempty"`
	SignedPreKeySalt   string `json:"signed_pre_key_salt,omitempty"`
	PreKeyCipher       string `json:"pre_key_cipher,omitempty"`
	PreKeySalt         string `json:"pre_key_salt,omitempty"`
}

type BundlesRequest struct {
	UsersID []string `json:"users_id"`
	GroupID string   `json:"group_id"`
}

// Users whose pool ran dry or who have no active keys
// are listed apart instead of failing the whole batch.
type BundlesReply struct {
	Bundles   map[string]*Bundle `json:"bundles"`
	Exhausted []string           `json:"exhausted,omitempty"`
	Missing   []string           `json:"missing,omitempty"`
}

/* SENDER KEYS */

type StickRequest struct {
	GroupsIDs      []string `json:"groups_ids"`
	ConnectionsIDs []string `json:"connections_ids"`
	IsSticky       *bool    `json:"is_sticky"`
	PartyID        string   `json:"party_id,omitempty"`
}

type StickReply struct {
	StickID        string            `json:"stick_id"`
	PartyID        string            `json:"party_id"`
	BundlesToFetch []string          `json:"bundles_to_fetch"`
	OneTimeIDs     map[string]string `json:"one_time_ids,omitempty"`
}

type ActiveStickRequest struct {
	PartyID string `json:"party_id"`
}

type ActiveStickReply struct {
	StickID string `json:"stick_id"`
}

// Sender key wrapped for a single recipient. The key ids
// point to the recipient's bundle used to wrap it.
type SenderKeyUpload struct {
	PreKeyID      *uint32 `json:"pre_key_id"`
	IdentityKeyID *uint32 `json:"identity_key_id"`
	ForUser       string  `json:"for_user"`
	Key           string  `json:"key"`
	StickID       string  `json:"stick_id"`
}

type SenderKeysUpload struct {
	UsersID []string                   `json:"users_id"`
	Keys    map[string]SenderKeyUpload `json:"keys"`
}

type StandardKeysUpload struct {
	StickID      string            `json:"stick_id"`
	GroupID      string            `json:"group_id,omitempty"`
	KeysToUpload map[string]string `json:"keys_to_upload"`
}

type SenderKeyRequest struct {
	StickID      string `json:"stick_id"`
	MemberID     string `json:"member_id"`
	IsSticky     *bool  `json:"is_sticky"`
	IsInvitation bool   `json:"is_invitation"`
}

type SenderKeyBody struct {
	Key           string  `json:"key"`
	IdentityKeyID *uint32 `json:"identity_key_id"`
	PreKeyID      *uint32 `json:"pre_key_id"`
}

type SenderKeyReply struct {
	SenderKey   *SenderKeyBody `json:"sender_key,omitempty"`
	PartyExists bool           `json:"party_exists"`
}

type StandardKeysRequest struct {
	GroupID     string   `json:"group_id"`
	StickID     string   `json:"stick_id"`
	KeysToFetch []string `json:"keys_to_fetch"`
}

type StandardKeysReply struct {
	SenderKeys map[string]string `json:"sender_keys"`
}

type ChainStepRequest struct {
	StickID   string `json:"stick_id"`
	ChainStep uint32 `json:"chain_step"`
}

/* ACCOUNTS */

type LoginRequest struct {
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
	PasswordHash string `json:"password_hash"`
	DeviceID     string `json:"device_id"`
	DeviceName   string `json:"device_name"`
}

type Account struct {
	ID        string `json:"id"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
	OneTimeID string `json:"one_time_id"`
	LocalID   int64  `json:"local_id"`
}

type KeyRecord struct {
	ID        uint32 `json:"id"`
	Public    string `json:"public"`
	Cipher    string `json:"cipher"`
	Salt      string `json:"salt"`
	Timestamp string `json:"timestamp"`
	Active    bool   `json:"active"`
}

type SignedKeyRecord struct {
	KeyRecord
	Signature string `json:"signature"`
}

type PreKeyRecord struct {
	ID     uint32 `json:"id"`
	Public string `json:"public"`
	Cipher string `json:"cipher"`
	Salt   string `json:"salt"`
	Used   bool   `json:"used"`
}

// Encryption sender key of the caller itself.
type OwnSenderKey struct {
	StickID       string  `json:"stick_id"`
	PartyID       string  `json:"party_id"`
	ChainID       uint32  `json:"chain_id"`
	Key           string  `json:"key"`
	Step          uint32  `json:"step"`
	IdentityKeyID *uint32 `json:"identity_key_id"`
}

// Decryption sender key of a group identity slot.
type GroupSenderKey struct {
	Key           string  `json:"key"`
	IdentityKeyID *uint32 `json:"identity_key_id"`
	PreKeyID      *uint32 `json:"pre_key_id"`
	SenderID      string  `json:"sender_id"`
	StickID       string  `json:"stick_id"`
}

type LoginBundle struct {
	LocalID       int64             `json:"local_id"`
	NextPreKeyID  uint32            `json:"next_pre_key_id"`
	IdentityKeys  []KeyRecord       `json:"identity_keys"`
	SignedPreKeys []SignedKeyRecord `json:"signed_pre_keys"`
	PreKeys       []PreKeyRecord    `json:"pre_keys"`
	SenderKeys    []OwnSenderKey    `json:"sender_keys"`
	DSKs          []GroupSenderKey  `json:"DSKs"`
}

type LoginReply struct {
	User          *Account     `json:"user,omitempty"`
	Token         string       `json:"token,omitempty"`
	FirebaseToken string       `json:"firebase_token,omitempty"`
	Bundle        *LoginBundle `json:"bundle,omitempty"`
	Correct       bool         `json:"correct"`
	Blocked       bool         `json:"blocked"`
	BlockTime     int          `json:"block_time,omitempty"`
	DevicesCount  int64        `json:"devices_count,omitempty"`
}

// New cipher and salt of a key, addressed by its key id.
type ReencryptedKey struct {
	ID     uint32 `json:"id"`
	Cipher string `json:"cipher"`
	Salt   string `json:"salt"`
}

type ReencryptedKeys struct {
	CurrentPass   string           `json:"current_pass"`
	NewPass       string           `json:"new_pass"`
	NewSalt       string           `json:"new_salt"`
	PreKeys       []ReencryptedKey `json:"pre_keys"`
	SignedPreKeys []ReencryptedKey `json:"signed_pre_keys"`
	IdentityKeys  []ReencryptedKey `json:"identity_keys"`
}

// The vault cipher belongs to storage outside this server
// and is accepted only so that legacy bodies decode.
type ChangePasswordRequest struct {
	Keys        ReencryptedKeys `json:"keys"`
	VaultCipher json.RawMessage `json:"vault_cipher,omitempty"`
	DeviceID    string          `json:"device_id"`
}

type OneTimeIDRequest struct {
	ID string `json:"id"`
}

type OneTimeIDReply struct {
	OneTimeID string `json:"one_time_id"`
}

/* PENDING KEYS */

type PendingEntry struct {
	ID         uint   `json:"id,omitempty"`
	StickID    string `json:"stick_id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
}

type PendingReply struct {
	PendingKeys []PendingEntry `json:"pending_keys"`
}

type AckRequest struct {
	IDs []uint `json:"ids"`
}

type AckReply struct {
	Success bool  `json:"success"`
	Removed int64 `json:"removed"`
}

/* FRAMES */

// Request carried over a persistent connection.
type Frame struct {
	Op    string          `json:"op"`
	ID    string          `json:"id"`
	Token string          `json:"token,omitempty"`
	Body  json.RawMessage `json:"body,omitempty"`
}

// Reply to a frame, matched by its id.
type FrameReply struct {
	ID     string `json:"id"`
	Status int    `json:"status"`
	Body   any    `json:"body,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Body of a failed HTTP request.
type ErrorReply struct {
	Code  uint8  `json:"code"`
	Error string `json:"error"`
}
