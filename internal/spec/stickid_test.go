package spec

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const party = "33f54c2a-025b-4082-b296-e90dd2f0df78"

func TestParseStickID(t *testing.T) {
	s, err := ParseStickID(party + "0")
	require.NoError(t, err)
	assert.Equal(t, party, s.Party)
	assert.Equal(t, uint32(0), s.Chain)

	s, err = ParseStickID(party + "127")
	require.NoError(t, err)
	assert.Equal(t, uint32(127), s.Chain)
	assert.Equal(t, party+"127", s.String())
	assert.Equal(t, party+"128", s.Next().String())

	bad := []string{
		"",
		"random_id",
		party,
		party + "-1",
		party + "+1",
		party + " 1",
		party + "1a",
		party + "99999999999",
	}
	for _, v := range bad {
		_, err := ParseStickID(v)
		assert.ErrorIs(t, err, ErrorStickFormat, v)
	}
}

func TestNewStickID(t *testing.T) {
	_, err := NewStickID("abc", 0)
	assert.ErrorIs(t, err, ErrorPartyFormat)

	s, err := NewStickID(NewPartyID(), 3)
	require.NoError(t, err)
	assert.Len(t, s.Party, PartyIDSize)
	assert.True(t, strings.HasSuffix(s.String(), "3"))
}

func TestPartyHash(t *testing.T) {
	a := PartyHash("alice", "bob")
	assert.Equal(t, a, PartyHash("bob", "alice"))
	assert.Equal(t, a, PartyHash("bob", "alice", "bob"))
	assert.NotEqual(t, a, PartyHash("alice", "mike"))
	assert.Len(t, a, 64)
}

func TestAddress(t *testing.T) {
	assert.True(t, UserAddress("1").Valid())
	assert.True(t, OneTimeAddress("x").Valid())
	assert.False(t, UserAddress("").Valid())
	assert.False(t, Address{ID: "1"}.Valid())
	assert.Equal(t, "otid:x", OneTimeAddress("x").String())
}

func TestTimestamp(t *testing.T) {
	var body IdentityKeyBody
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"timestamp":998}`), &body))
	assert.Equal(t, Timestamp("998"), body.Timestamp)

	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"timestamp":"2021-06-04"}`), &body))
	assert.Equal(t, Timestamp("2021-06-04"), body.Timestamp)
}

func TestLookup(t *testing.T) {
	for _, op := range Actions() {
		str := CodeToString(op)
		require.NotEmpty(t, str)
		assert.Equal(t, op, StringToCode(str))

		method, path := Route(op)
		assert.NotEmpty(t, method)
		assert.True(t, strings.HasPrefix(path, "/api/"), path)
	}

	assert.False(t, NeedsAuth(UPLOAD_PKB))
	assert.False(t, NeedsAuth(LOGIN))
	assert.True(t, NeedsAuth(FETCH_SK))
	assert.True(t, NeedsAuth(NullOp))
	assert.Equal(t, NullOp, StringToCode("REG"))
}

func TestErrorStatus(t *testing.T) {
	assert.Equal(t, 401, ErrorStatus(ErrorUnauthorized))
	assert.Equal(t, 500, ErrorStatus(assert.AnError))
	assert.Equal(t, byte(0x07), ErrorCode(ErrorExhausted))
	assert.Equal(t, ErrorExhausted, ErrorCodeToError(0x07))
}
