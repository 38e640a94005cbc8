package db

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/Sprinter05/gostick/internal/spec"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Opens an empty migrated database private to the test
func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "stick.db")
	database, err := Open("sqlite", path, NewLogger(nil))
	require.NoError(t, err)
	require.NoError(t, Migrate(database))

	t.Cleanup(func() {
		sqldb, err := database.DB()
		if err == nil {
			sqldb.Close()
		}
	})

	return database
}

// Inserts a registered user with an active identity key,
// an active signed prekey and n unused prekeys
func testUser(t *testing.T, database *gorm.DB, n int) *User {
	t.Helper()

	id := uuid.NewString()
	user, err := InsertUser(database, id, "", id[:8]+"@stick.test")
	require.NoError(t, err)

	pks := make([]PreKey, n)
	for i := range pks {
		pks[i] = PreKey{
			UserID: id,
			KeyID:  uint32(i),
			Public: fmt.Sprintf("pk-public-%d", i),
			Cipher: fmt.Sprintf("pk-cipher-%d", i),
			Salt:   fmt.Sprintf("pk-salt-%d", i),
		}
	}

	err = InsertInitialKeys(
		database,
		&IdentityKey{UserID: id, KeyID: 1, Public: "ik-public", Cipher: "ik-cipher", Salt: "ik-salt"},
		&SignedPreKey{UserID: id, KeyID: 1, Public: "spk-public", Cipher: "spk-cipher", Salt: "spk-salt", Signature: "spk-sig"},
		pks,
	)
	require.NoError(t, err)

	err = FinishRegistration(database, id, Registration{
		OneTimeID:    uuid.NewString(),
		NextPreKeyID: uint32(n),
		PasswordHash: "hash",
		PasswordSalt: "salt",
	})
	require.NoError(t, err)

	return user
}

// Returns a stick id for a fresh party owned by the user
func testStick(t *testing.T, database *gorm.DB, owner string) spec.StickID {
	t.Helper()

	profile, _, err := EnsureOwnedParties(database, owner)
	require.NoError(t, err)

	stick, err := spec.NewStickID(profile.ID, 0)
	require.NoError(t, err)

	return stick
}
