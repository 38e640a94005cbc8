package hubs

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/Sprinter05/gostick/internal/spec"
	"github.com/Sprinter05/gostick/server/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func login(t *testing.T, hub *Hub, acc *testAccount, password string, device string) *spec.LoginReply {
	t.Helper()

	reply, err := hub.Login(context.Background(), nil, spec.LoginRequest{
		Email:        acc.email,
		PasswordHash: password,
		DeviceID:     device,
		DeviceName:   device,
	})
	require.NoError(t, err)

	return reply
}

func TestLoginLockout(t *testing.T) {
	hub := testHub(t, Config{MaxTrials: 3})
	a := register(t, hub, 1)

	for range 2 {
		reply := login(t, hub, a, "wrong", "phone")
		assert.False(t, reply.Correct)
		assert.False(t, reply.Blocked)
		assert.Equal(t, 10, reply.BlockTime)
		assert.Empty(t, reply.Token)
	}

	reply := login(t, hub, a, "wrong", "phone")
	assert.False(t, reply.Correct)
	assert.True(t, reply.Blocked)
	assert.Equal(t, 10, reply.BlockTime)

	// Locked even with the right password
	reply = login(t, hub, a, testPassword, "phone")
	assert.False(t, reply.Correct)
	assert.True(t, reply.Blocked)
	assert.Nil(t, reply.Bundle)

	// An expired lock lets the user in again
	expired := sql.NullTime{Time: time.Now().Add(-11 * time.Minute), Valid: true}
	res := hub.db.Model(&db.User{}).Where("id = ?", a.id).Update("password_block_time", expired)
	require.NoError(t, res.Error)

	reply = login(t, hub, a, testPassword, "phone")
	assert.True(t, reply.Correct)

	user, err := db.QueryUser(hub.db, a.id)
	require.NoError(t, err)
	assert.Equal(t, 0, user.PasswordTrials)
	assert.False(t, user.PasswordBlockTime.Valid)
}

func TestLoginUnknown(t *testing.T) {
	hub := testHub(t, DefaultConfig())

	_, err := hub.Login(context.Background(), nil, spec.LoginRequest{
		Email:        "nobody@stick.test",
		PasswordHash: testPassword,
		DeviceID:     "phone",
	})
	assert.ErrorIs(t, err, spec.ErrorNotFound)

	_, err = hub.Login(context.Background(), nil, spec.LoginRequest{
		Email: "nobody@stick.test",
	})
	assert.ErrorIs(t, err, spec.ErrorArguments)
}

func TestLoginBundle(t *testing.T) {
	hub := testHub(t, Config{PushToken: func(id string) string { return "push-" + id }})
	ctx := context.Background()
	a := register(t, hub, 3)
	b := register(t, hub, 1)

	// B names the group with a cipher only members can read
	require.NoError(t, db.InsertGroup(hub.db, &db.Group{ID: "named"}, a.id, b.id))
	stick, err := hub.GetStickID(ctx, b.session, spec.StickRequest{GroupsIDs: []string{"named"}})
	require.NoError(t, err)

	parsed, err := spec.ParseStickID(stick.StickID)
	require.NoError(t, err)
	require.NoError(t, db.UpdateGroupSlots(hub.db, "named", &db.Slot{Stick: parsed, Owner: b.id}, nil))

	ik := uint32(1)
	_, err = hub.ProcessSenderKey(ctx, b.session, spec.SenderKeyUpload{
		ForUser:       a.id,
		Key:           "name-key",
		StickID:       stick.StickID,
		IdentityKeyID: &ik,
	})
	require.NoError(t, err)

	_, err = hub.ProcessSenderKey(ctx, a.session, spec.SenderKeyUpload{
		ForUser:       a.id,
		Key:           "own-profile",
		StickID:       a.profile + "0",
		IdentityKeyID: &ik,
	})
	require.NoError(t, err)

	reply := login(t, hub, a, testPassword, "tablet")
	require.True(t, reply.Correct)
	assert.Equal(t, "push-"+a.id, reply.FirebaseToken)
	assert.Equal(t, int64(2), reply.DevicesCount)
	assert.Equal(t, a.id, reply.User.ID)
	assert.Equal(t, a.email, reply.User.Email)

	bundle := reply.Bundle
	assert.Equal(t, int64(7), bundle.LocalID)
	assert.Equal(t, uint32(3), bundle.NextPreKeyID)
	require.Len(t, bundle.IdentityKeys, 1)
	assert.True(t, bundle.IdentityKeys[0].Active)
	assert.Equal(t, "1700000000", bundle.IdentityKeys[0].Timestamp)
	assert.Len(t, bundle.SignedPreKeys, 1)
	assert.Len(t, bundle.PreKeys, 3)

	require.Len(t, bundle.SenderKeys, 1)
	assert.Equal(t, a.profile+"0", bundle.SenderKeys[0].StickID)
	assert.Equal(t, "own-profile", bundle.SenderKeys[0].Key)
	assert.Equal(t, ik, *bundle.SenderKeys[0].IdentityKeyID)

	require.Len(t, bundle.DSKs, 1)
	assert.Equal(t, spec.GroupSenderKey{
		Key:           "name-key",
		IdentityKeyID: &ik,
		SenderID:      b.id,
		StickID:       stick.StickID,
	}, bundle.DSKs[0])

	// Both devices hold a working token
	_, err = hub.Session(ctx, a.token)
	require.NoError(t, err)
	_, err = hub.Session(ctx, reply.Token)
	require.NoError(t, err)
}

func TestChangePassword(t *testing.T) {
	hub := testHub(t, DefaultConfig())
	ctx := context.Background()
	a := register(t, hub, 2)

	tablet := login(t, hub, a, testPassword, "tablet")
	require.True(t, tablet.Correct)

	reply, err := hub.ChangePassword(ctx, a.session, spec.ChangePasswordRequest{
		Keys: spec.ReencryptedKeys{
			CurrentPass: "wrong",
			NewPass:     "new-secret",
		},
	})
	require.NoError(t, err)
	assert.False(t, reply.Success)

	// Keys that do not exist roll everything back
	_, err = hub.ChangePassword(ctx, a.session, spec.ChangePasswordRequest{
		Keys: spec.ReencryptedKeys{
			CurrentPass: testPassword,
			NewPass:     "new-secret",
			PreKeys:     []spec.ReencryptedKey{{ID: 42, Cipher: "c", Salt: "s"}},
		},
	})
	assert.ErrorIs(t, err, spec.ErrorNotFound)
	assert.True(t, login(t, hub, a, testPassword, "phone").Correct)

	// The login above replaced the token of the phone
	phone, err := db.QueryDevice(hub.db, a.id, "phone")
	require.NoError(t, err)
	a.token, err = hub.issueToken(ctx, a.id, phone.ID)
	require.NoError(t, err)

	reply, err = hub.ChangePassword(ctx, a.session, spec.ChangePasswordRequest{
		Keys: spec.ReencryptedKeys{
			CurrentPass:  testPassword,
			NewPass:      "new-secret",
			NewSalt:      "new-salt",
			IdentityKeys: []spec.ReencryptedKey{{ID: 1, Cipher: "ik-new", Salt: "ik-salt-new"}},
			PreKeys:      []spec.ReencryptedKey{{ID: 0, Cipher: "pk-new", Salt: "pk-salt-new"}},
		},
	})
	require.NoError(t, err)
	assert.True(t, reply.Success)

	// Only the device that changed the password stays logged in
	_, err = hub.Session(ctx, tablet.Token)
	assert.ErrorIs(t, err, spec.ErrorNoSession)
	_, err = hub.Session(ctx, a.token)
	require.NoError(t, err)

	assert.False(t, login(t, hub, a, testPassword, "tablet").Correct)
	relog := login(t, hub, a, "new-secret", "tablet")
	require.True(t, relog.Correct)
	assert.Equal(t, "ik-new", relog.Bundle.IdentityKeys[0].Cipher)

	user, err := db.QueryUser(hub.db, a.id)
	require.NoError(t, err)
	assert.Equal(t, "new-salt", user.PasswordSalt)
}
