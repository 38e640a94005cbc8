package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/Sprinter05/gostick/server/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellCommands(t *testing.T) {
	hub, database := testHub(t)
	a, _ := testUser(t, hub, database, 2)
	b, _ := testUser(t, hub, database, 0)

	input := strings.Join([]string{
		"HELP",
		"ADDUSER someone@stick.test",
		"",
		"CONNECT " + a,
		"CONNECT " + a + " " + b,
		"ADDGROUP family " + a + " " + b,
		"POOL " + a,
		"POOL " + b,
		"PENDING " + a,
		"SETOWNER " + a,
		"EXIT",
		"HELP",
	}, "\n")

	var out bytes.Buffer
	newShell(database, strings.NewReader(input), &out).Run()
	text := out.String()

	assert.Equal(t, 1, strings.Count(text, "EXIT: Exits the shell"))
	assert.Contains(t, text, "User id: ")
	assert.Contains(t, text, ErrorFewArgs.Error())
	assert.Contains(t, text, ErrorInvalidCmd.Error())
	assert.Contains(t, text, "Prekeys: 2 unused of 2")
	assert.Contains(t, text, "Prekeys: 0 unused of 0")
	assert.Contains(t, text, "[!] Warning: prekey pool is exhausted")
	assert.Contains(t, text, "Pending sender keys: 0")

	_, err := db.QueryUserByAuth(database, "", "someone@stick.test")
	require.NoError(t, err)

	ok, err := db.IsConnected(database, b, a)
	require.NoError(t, err)
	assert.True(t, ok)

	member, err := db.IsGroupMember(database, "family", b, false)
	require.NoError(t, err)
	assert.True(t, member)
}

func TestShellEndOfInput(t *testing.T) {
	_, database := testHub(t)

	var out bytes.Buffer
	newShell(database, strings.NewReader("PENDING nobody"), &out).Run()

	// The last line runs even without a trailing newline
	assert.Contains(t, out.String(), "Pending sender keys: 0")
}
