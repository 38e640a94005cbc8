package db

import (
	"testing"

	"github.com/Sprinter05/gostick/internal/spec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainStep(t *testing.T) {
	database := testDB(t)
	user := testUser(t, database, 0)
	stick := testStick(t, database, user.ID)

	_, err := QueryLatestChain(database, stick.Party, user.ID)
	assert.ErrorIs(t, err, ErrorNotFound)

	require.NoError(t, UpdateChainStep(database, stick, user.ID, 50))
	require.NoError(t, UpdateChainStep(database, stick, user.ID, 20))

	latest, err := QueryLatestChain(database, stick.Party, user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 50, latest.Step)
	assert.Equal(t, stick, latest.StickID())

	_, err = EnsureEncryptionKey(database, stick.Next(), user.ID)
	require.NoError(t, err)

	latest, err = QueryLatestChain(database, stick.Party, user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, latest.ChainID)
	assert.Zero(t, latest.Step)
}

func TestEncryptionKeyMaterial(t *testing.T) {
	database := testDB(t)
	user := testUser(t, database, 0)
	stick := testStick(t, database, user.ID)

	ik, err := QueryActiveIdentityKey(database, user.ID)
	require.NoError(t, err)

	require.NoError(t, UpdateChainStep(database, stick, user.ID, 7))
	require.NoError(t, UpdateEncryptionKey(database, stick, user.ID, "own-key", &ik.ID))

	keys, err := QueryEncryptionKeys(database, user.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "own-key", keys[0].Key)
	assert.EqualValues(t, 7, keys[0].Step)
	require.NotNil(t, keys[0].IdentityKey)
	assert.Equal(t, ik.KeyID, keys[0].IdentityKey.KeyID)
}

func TestDecryptionKeyUpsert(t *testing.T) {
	database := testDB(t)
	sender := testUser(t, database, 0)
	receiver := testUser(t, database, 2)
	stick := testStick(t, database, sender.ID)

	pk, err := ClaimPreKey(database, receiver.ID, true)
	require.NoError(t, err)
	ik, err := QueryActiveIdentityKey(database, receiver.ID)
	require.NoError(t, err)

	of := spec.UserAddress(sender.ID)
	to := spec.UserAddress(receiver.ID)

	for _, v := range []string{"first", "second"} {
		err = UpsertDecryptionKey(database, &DecryptionSenderKey{
			PartyID:        stick.Party,
			ChainID:        stick.Chain,
			OfKind:         of.Kind,
			OfID:           of.ID,
			ForKind:        to.Kind,
			ForID:          to.ID,
			Key:            v,
			IdentityKeyRef: &ik.ID,
			PreKeyRef:      &pk.ID,
		})
		require.NoError(t, err)
	}

	key, err := QueryDecryptionKey(database, stick, of, to)
	require.NoError(t, err)
	assert.Equal(t, "second", key.Key)
	require.NotNil(t, key.PreKey)
	assert.Equal(t, pk.KeyID, key.PreKey.KeyID)
	require.NotNil(t, key.IdentityKey)
	assert.Equal(t, ik.KeyID, key.IdentityKey.KeyID)

	have, err := QueryWrappedFor(database, stick, of, spec.ByUser, []string{receiver.ID, sender.ID})
	require.NoError(t, err)
	assert.True(t, have[receiver.ID])
	assert.False(t, have[sender.ID])

	// Same ids under the other kind are a different key
	_, err = QueryDecryptionKey(database, stick, spec.OneTimeAddress(sender.ID), to)
	assert.ErrorIs(t, err, ErrorNotFound)
}

func TestClaimDecryptionKey(t *testing.T) {
	database := testDB(t)
	sender := testUser(t, database, 0)
	stick := testStick(t, database, sender.ID)

	of := spec.OneTimeAddress("otid-sender")
	to := spec.OneTimeAddress("otid-receiver")

	err := UpsertDecryptionKey(database, &DecryptionSenderKey{
		PartyID: stick.Party,
		ChainID: stick.Chain,
		OfKind:  of.Kind,
		OfID:    of.ID,
		ForKind: to.Kind,
		ForID:   to.ID,
		Key:     "standard",
	})
	require.NoError(t, err)

	key, err := ClaimDecryptionKey(database, stick, of, to)
	require.NoError(t, err)
	assert.Equal(t, "standard", key)

	key, err = ClaimDecryptionKey(database, stick, of, to)
	require.NoError(t, err)
	assert.Empty(t, key)

	_, err = ClaimDecryptionKey(database, stick, of, spec.OneTimeAddress("nobody"))
	assert.ErrorIs(t, err, ErrorNotFound)

	removed, err := RemoveDecryptionKeys(database, stick, of)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
}
