package hubs

import (
	"context"
	"testing"

	"github.com/Sprinter05/gostick/internal/spec"
	"github.com/Sprinter05/gostick/server/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Connects two accounts and returns the stick id the first
// one has to send with in their shared party
func connected(t *testing.T, hub *Hub, a *testAccount, b *testAccount) *spec.StickReply {
	t.Helper()

	require.NoError(t, db.InsertConnection(hub.db, a.id, b.id))

	reply, err := hub.GetStickID(context.Background(), a.session, spec.StickRequest{
		ConnectionsIDs: []string{b.id},
	})
	require.NoError(t, err)

	return reply
}

func TestActiveStickRollover(t *testing.T) {
	hub := testHub(t, DefaultConfig())
	ctx := context.Background()
	a := register(t, hub, 1)

	active := func() string {
		reply, err := hub.GetActiveStickID(ctx, a.session, spec.ActiveStickRequest{PartyID: a.profile})
		require.NoError(t, err)
		return reply.StickID
	}

	assert.Equal(t, a.profile+"0", active())

	step := func(stick string, n uint32) {
		_, err := hub.UpdateChainStep(ctx, a.session, spec.ChainStepRequest{StickID: stick, ChainStep: n})
		require.NoError(t, err)
	}

	step(a.profile+"0", 50)
	assert.Equal(t, a.profile+"0", active())

	step(a.profile+"0", spec.DefaultCeiling)
	assert.Equal(t, a.profile+"1", active())

	// Steps never go back
	step(a.profile+"0", 10)
	assert.Equal(t, a.profile+"1", active())

	_, err := hub.GetActiveStickID(ctx, a.session, spec.ActiveStickRequest{PartyID: "short"})
	assert.ErrorIs(t, err, spec.ErrorArguments)

	_, err = hub.UpdateChainStep(ctx, a.session, spec.ChainStepRequest{StickID: a.profile + "x"})
	assert.ErrorIs(t, err, spec.ErrorArguments)
}

func TestRolloverMaterialisesChain(t *testing.T) {
	hub := testHub(t, Config{StepCeiling: 20})
	ctx := context.Background()
	a := register(t, hub, 1)

	_, err := hub.UpdateChainStep(ctx, a.session, spec.ChainStepRequest{
		StickID:   a.profile + "0",
		ChainStep: 20,
	})
	require.NoError(t, err)

	reply, err := hub.GetStickID(ctx, a.session, spec.StickRequest{PartyID: a.profile})
	require.NoError(t, err)
	assert.Equal(t, a.profile+"1", reply.StickID)
	assert.Equal(t, []string{a.id}, reply.BundlesToFetch)

	latest, err := db.QueryLatestChain(hub.db, a.profile, a.id)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), latest.ChainID)
	assert.Equal(t, uint32(0), latest.Step)
}

func TestStickySenderKeys(t *testing.T) {
	hub := testHub(t, DefaultConfig())
	ctx := context.Background()
	a := register(t, hub, 1)
	b := register(t, hub, 2)

	stick := connected(t, hub, a, b)
	assert.Equal(t, "0", stick.StickID[spec.PartyIDSize:])
	assert.ElementsMatch(t, []string{a.id, b.id}, stick.BundlesToFetch)

	// Not uploaded yet
	got, err := hub.GetSenderKey(ctx, b.session, spec.SenderKeyRequest{
		StickID:  stick.StickID,
		MemberID: a.id,
	})
	require.NoError(t, err)
	assert.False(t, got.PartyExists)
	assert.Nil(t, got.SenderKey)

	bundle, err := hub.GetPreKeyBundle(ctx, a.session, spec.BundleRequest{UserID: b.id})
	require.NoError(t, err)

	batch, err := hub.ProcessSenderKeys(ctx, a.session, spec.SenderKeysUpload{
		Keys: map[string]spec.SenderKeyUpload{
			a.id: {Key: "own-copy", StickID: stick.StickID},
			b.id: {
				Key:           "wrapped-for-b",
				StickID:       stick.StickID,
				PreKeyID:      &bundle.PreKeyID,
				IdentityKeyID: &bundle.IdentityKeyID,
			},
		},
	})
	require.NoError(t, err)
	assert.True(t, batch.Success)
	assert.Equal(t, map[string]string{a.id: "ok", b.id: "ok"}, batch.Results)

	got, err = hub.GetSenderKey(ctx, b.session, spec.SenderKeyRequest{
		StickID:  stick.StickID,
		MemberID: a.id,
	})
	require.NoError(t, err)
	require.True(t, got.PartyExists)
	assert.Equal(t, "wrapped-for-b", got.SenderKey.Key)
	assert.Equal(t, bundle.PreKeyID, *got.SenderKey.PreKeyID)
	assert.Equal(t, bundle.IdentityKeyID, *got.SenderKey.IdentityKeyID)

	// Sticky keys can be read again
	again, err := hub.GetSenderKey(ctx, b.session, spec.SenderKeyRequest{
		StickID:  stick.StickID,
		MemberID: a.id,
	})
	require.NoError(t, err)
	assert.Equal(t, got.SenderKey.Key, again.SenderKey.Key)

	// Uploads settle what was owed
	pending, err := hub.FetchPendingKeys(ctx, a.session, struct{}{})
	require.NoError(t, err)
	assert.Empty(t, pending.PendingKeys)

	next, err := hub.GetStickID(ctx, a.session, spec.StickRequest{ConnectionsIDs: []string{b.id}})
	require.NoError(t, err)
	assert.Equal(t, stick.StickID, next.StickID)
	assert.Empty(t, next.BundlesToFetch)

	esk, err := db.QueryLatestChain(hub.db, stick.PartyID, a.id)
	require.NoError(t, err)
	assert.Equal(t, "own-copy", esk.Key)
}

func TestSenderKeyOutsider(t *testing.T) {
	hub := testHub(t, DefaultConfig())
	ctx := context.Background()
	a := register(t, hub, 1)
	b := register(t, hub, 1)
	outsider := register(t, hub, 1)

	stick := connected(t, hub, a, b)

	_, err := hub.ProcessSenderKey(ctx, outsider.session, spec.SenderKeyUpload{
		ForUser: a.id,
		Key:     "intruder",
		StickID: stick.StickID,
	})
	assert.ErrorIs(t, err, spec.ErrorUnauthorized)

	_, err = hub.GetSenderKey(ctx, outsider.session, spec.SenderKeyRequest{
		StickID:  stick.StickID,
		MemberID: a.id,
	})
	assert.ErrorIs(t, err, spec.ErrorUnauthorized)

	_, err = hub.GetStickID(ctx, outsider.session, spec.StickRequest{
		ConnectionsIDs: []string{a.id},
	})
	assert.ErrorIs(t, err, spec.ErrorUnauthorized)

	_, err = hub.GetStickID(ctx, a.session, spec.StickRequest{})
	assert.ErrorIs(t, err, spec.ErrorArguments)

	// Malformed or unknown stick ids read as a missing party
	got, err := hub.GetSenderKey(ctx, a.session, spec.SenderKeyRequest{StickID: "bogus"})
	require.NoError(t, err)
	assert.False(t, got.PartyExists)
}

func TestSenderKeysPartialFailure(t *testing.T) {
	hub := testHub(t, DefaultConfig())
	ctx := context.Background()
	a := register(t, hub, 1)
	b := register(t, hub, 1)

	stick := connected(t, hub, a, b)

	// Drain what the stick id request recorded
	_, err := hub.FetchPendingKeys(ctx, a.session, struct{}{})
	require.NoError(t, err)

	unknown := uint32(99)
	batch, err := hub.ProcessSenderKeys(ctx, a.session, spec.SenderKeysUpload{
		UsersID: []string{a.id, b.id},
		Keys: map[string]spec.SenderKeyUpload{
			a.id: {Key: "own-copy", StickID: stick.StickID},
			b.id: {Key: "wrapped", StickID: stick.StickID, IdentityKeyID: &unknown},
		},
	})
	require.NoError(t, err)
	assert.False(t, batch.Success)
	assert.Equal(t, "ok", batch.Results[a.id])
	assert.Equal(t, spec.ErrorNotFound.Error(), batch.Results[b.id])

	pending, err := hub.FetchPendingKeys(ctx, a.session, struct{}{})
	require.NoError(t, err)
	require.Len(t, pending.PendingKeys, 1)
	assert.Equal(t, spec.PendingEntry{
		StickID:    stick.StickID,
		SenderID:   a.id,
		ReceiverID: b.id,
	}, pending.PendingKeys[0])
}

func TestUploadedKeysCountCaller(t *testing.T) {
	hub := testHub(t, DefaultConfig())
	ctx := context.Background()
	a := register(t, hub, 1)
	b := register(t, hub, 1)
	c := register(t, hub, 1)

	require.NoError(t, db.InsertGroup(hub.db, &db.Group{ID: "abc"}, a.id, b.id))
	require.NoError(t, db.InsertGroup(hub.db, &db.Group{ID: "edf"}, a.id, c.id))

	reply, err := hub.GetStickID(ctx, a.session, spec.StickRequest{
		GroupsIDs: []string{"abc", "edf"},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.id, b.id, c.id}, reply.BundlesToFetch)

	// Same groups in another order share the party
	same, err := hub.GetStickID(ctx, b.session, spec.StickRequest{
		GroupsIDs: []string{"edf", "abc"},
	})
	assert.ErrorIs(t, err, spec.ErrorUnauthorized)
	assert.Nil(t, same)

	again, err := hub.GetStickID(ctx, a.session, spec.StickRequest{
		GroupsIDs: []string{"edf", "abc", "abc"},
	})
	require.NoError(t, err)
	assert.Equal(t, reply.PartyID, again.PartyID)

	pending, err := hub.FetchPendingKeys(ctx, a.session, struct{}{})
	require.NoError(t, err)
	assert.Len(t, pending.PendingKeys, 2)
}

func TestStandardSenderKeys(t *testing.T) {
	hub := testHub(t, DefaultConfig())
	ctx := context.Background()
	a := register(t, hub, 1)
	b := register(t, hub, 1)

	require.NoError(t, db.InsertGroup(hub.db, &db.Group{ID: "standard"}, a.id, b.id))
	otidA := a.session.user.OneTimeID.String
	otidB := b.session.user.OneTimeID.String

	stick, err := hub.GetStickID(ctx, a.session, spec.StickRequest{
		GroupsIDs: []string{"standard"},
		IsSticky:  sticky(false),
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{a.id: otidA, b.id: otidB}, stick.OneTimeIDs)

	_, err = hub.ProcessStandardSenderKeys(ctx, a.session, spec.StandardKeysUpload{
		StickID:      stick.StickID,
		GroupID:      "standard",
		KeysToUpload: map[string]string{otidB: "standard-key"},
	})
	require.NoError(t, err)

	fetch := func() string {
		reply, err := hub.GetStandardSenderKeys(ctx, b.session, spec.StandardKeysRequest{
			GroupID:     "standard",
			StickID:     stick.StickID,
			KeysToFetch: []string{otidA},
		})
		require.NoError(t, err)
		return reply.SenderKeys[otidA]
	}

	assert.Equal(t, "standard-key", fetch())
	assert.Equal(t, "", fetch())

	// B now holds a key, only the caller is left
	stick, err = hub.GetStickID(ctx, a.session, spec.StickRequest{
		GroupsIDs: []string{"standard"},
		IsSticky:  sticky(false),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{a.id}, stick.BundlesToFetch)

	// Reuploads are read once through the single key path as well
	_, err = hub.ProcessStandardSenderKeys(ctx, a.session, spec.StandardKeysUpload{
		StickID:      stick.StickID,
		KeysToUpload: map[string]string{otidB: "second-key"},
	})
	require.NoError(t, err)

	req := spec.SenderKeyRequest{
		StickID:  stick.StickID,
		MemberID: a.id,
		IsSticky: sticky(false),
	}
	got, err := hub.GetSenderKey(ctx, b.session, req)
	require.NoError(t, err)
	require.True(t, got.PartyExists)
	assert.Equal(t, "second-key", got.SenderKey.Key)

	got, err = hub.GetSenderKey(ctx, b.session, req)
	require.NoError(t, err)
	assert.False(t, got.PartyExists)
}

func TestStandardSenderKeysOutsider(t *testing.T) {
	hub := testHub(t, DefaultConfig())
	ctx := context.Background()
	a := register(t, hub, 1)
	outsider := register(t, hub, 1)

	require.NoError(t, db.InsertGroup(hub.db, &db.Group{ID: "closed"}, a.id))

	_, err := hub.GetStandardSenderKeys(ctx, outsider.session, spec.StandardKeysRequest{
		GroupID: "closed",
		StickID: a.profile + "0",
	})
	assert.ErrorIs(t, err, spec.ErrorUnauthorized)

	_, err = hub.GetStandardSenderKeys(ctx, outsider.session, spec.StandardKeysRequest{
		GroupID: "missing",
		StickID: a.profile + "0",
	})
	assert.ErrorIs(t, err, spec.ErrorNotFound)

	_, err = hub.ProcessStandardSenderKeys(ctx, outsider.session, spec.StandardKeysUpload{
		StickID:      a.profile + "0",
		GroupID:      "closed",
		KeysToUpload: map[string]string{"x": "y"},
	})
	assert.ErrorIs(t, err, spec.ErrorUnauthorized)
}

func TestPendingKeysAck(t *testing.T) {
	hub := testHub(t, Config{PendingAck: true})
	ctx := context.Background()
	a := register(t, hub, 1)
	b := register(t, hub, 1)

	connected(t, hub, a, b)

	first, err := hub.FetchPendingKeys(ctx, a.session, struct{}{})
	require.NoError(t, err)
	require.Len(t, first.PendingKeys, 1)
	assert.NotZero(t, first.PendingKeys[0].ID)

	// Survive until acknowledged
	second, err := hub.FetchPendingKeys(ctx, a.session, struct{}{})
	require.NoError(t, err)
	assert.Equal(t, first.PendingKeys, second.PendingKeys)

	// Someone else cannot acknowledge them
	ack, err := hub.AckPendingKeys(ctx, b.session, spec.AckRequest{IDs: []uint{first.PendingKeys[0].ID}})
	require.NoError(t, err)
	assert.Equal(t, int64(0), ack.Removed)

	ack, err = hub.AckPendingKeys(ctx, a.session, spec.AckRequest{IDs: []uint{first.PendingKeys[0].ID}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), ack.Removed)

	last, err := hub.FetchPendingKeys(ctx, a.session, struct{}{})
	require.NoError(t, err)
	assert.Empty(t, last.PendingKeys)
}

func TestPendingKeysClear(t *testing.T) {
	hub := testHub(t, DefaultConfig())
	ctx := context.Background()
	a := register(t, hub, 1)
	b := register(t, hub, 1)

	stick := connected(t, hub, a, b)

	first, err := hub.FetchPendingKeys(ctx, a.session, struct{}{})
	require.NoError(t, err)
	require.Len(t, first.PendingKeys, 1)
	assert.Equal(t, spec.PendingEntry{
		StickID:    stick.StickID,
		SenderID:   a.id,
		ReceiverID: b.id,
	}, first.PendingKeys[0])

	second, err := hub.FetchPendingKeys(ctx, a.session, struct{}{})
	require.NoError(t, err)
	assert.Empty(t, second.PendingKeys)
}
