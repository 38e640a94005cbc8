package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchPendingKeys(t *testing.T) {
	database := testDB(t)
	owner := testUser(t, database, 0)
	other := testUser(t, database, 0)
	receiver := testUser(t, database, 0)
	stick := testStick(t, database, owner.ID)

	require.NoError(t, InsertPendingKeys(database, owner.ID, []string{receiver.ID, other.ID, owner.ID}, stick))
	// Recording the same debt again keeps one row
	require.NoError(t, InsertPendingKey(database, owner.ID, receiver.ID, stick))
	require.NoError(t, InsertPendingKey(database, other.ID, receiver.ID, stick))

	keys, err := FetchPendingKeys(database, owner.ID, true)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
	for _, v := range keys {
		assert.Equal(t, owner.ID, v.OwnerID)
		assert.Equal(t, stick, v.StickID())
	}

	keys, err = FetchPendingKeys(database, owner.ID, true)
	require.NoError(t, err)
	assert.Empty(t, keys)

	count, err := CountPendingKeys(database, other.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestAckPendingKeys(t *testing.T) {
	database := testDB(t)
	owner := testUser(t, database, 0)
	other := testUser(t, database, 0)
	receiver := testUser(t, database, 0)
	stick := testStick(t, database, owner.ID)

	require.NoError(t, InsertPendingKey(database, owner.ID, receiver.ID, stick))
	require.NoError(t, InsertPendingKey(database, owner.ID, other.ID, stick))
	require.NoError(t, InsertPendingKey(database, other.ID, receiver.ID, stick))

	// Without clearing the same entries come back
	first, err := FetchPendingKeys(database, owner.ID, false)
	require.NoError(t, err)
	again, err := FetchPendingKeys(database, owner.ID, false)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	require.Len(t, first, 2)

	theirs, err := QueryPendingKeys(database, other.ID)
	require.NoError(t, err)
	require.Len(t, theirs, 1)

	removed, err := AckPendingKeys(database, owner.ID, []uint{first[0].ID, theirs[0].ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	require.NoError(t, RemovePendingKey(database, owner.ID, other.ID, stick))

	count, err := CountPendingKeys(database, owner.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = CountPendingKeys(database, other.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}
