package main

import (
	"fmt"
	"strings"

	"github.com/Sprinter05/gostick/server/db"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Key registry state of a single user
type report struct {
	user    db.User
	unused  int64
	total   int64
	ik      *db.IdentityKey
	spk     *db.SignedPreKey
	chains  []db.EncryptionSenderKey
	pending int64
}

// Gathers everything the inspector shows about a user
func inspect(database *gorm.DB, userID string) (*report, error) {
	user, err := db.QueryUser(database, userID)
	if err != nil {
		return nil, err
	}

	r := &report{user: *user}

	r.unused, err = db.CountPreKeys(database, userID, true)
	if err != nil {
		return nil, err
	}

	r.total, err = db.CountPreKeys(database, userID, false)
	if err != nil {
		return nil, err
	}

	// Unregistered users have no active keys yet
	r.ik, err = db.QueryActiveIdentityKey(database, userID)
	if err != nil && !errors.Is(err, db.ErrorNotFound) {
		return nil, err
	}

	r.spk, err = db.QueryActiveSignedPreKey(database, userID)
	if err != nil && !errors.Is(err, db.ErrorNotFound) {
		return nil, err
	}

	r.chains, err = db.QueryEncryptionKeys(database, userID)
	if err != nil {
		return nil, err
	}

	r.pending, err = db.CountPendingKeys(database, userID)
	if err != nil {
		return nil, err
	}

	return r, nil
}

// Returns the report using tview color tags
func (r *report) render(ceiling uint32) string {
	var b strings.Builder

	fmt.Fprintf(&b, "[::u]User %s[::-]\n\n", r.user.ID)
	if r.user.Phone.Valid {
		fmt.Fprintf(&b, "[yellow::b]Phone[-::-]: %s\n", r.user.Phone.String)
	}
	if r.user.Email.Valid {
		fmt.Fprintf(&b, "[yellow::b]Email[-::-]: %s\n", r.user.Email.String)
	}
	fmt.Fprintf(&b, "[yellow::b]Registered[-::-]: %t\n", r.user.FinishedRegistration)
	if r.user.PasswordBlockTime.Valid {
		fmt.Fprintf(&b, "[red::b]Locked since[-::-]: %s\n", r.user.PasswordBlockTime.Time.Format("2006-01-02 15:04:05"))
	}

	b.WriteString("\n[::u]Keys[::-]\n\n")
	pool := "green"
	if r.unused == 0 {
		pool = "red"
	}
	fmt.Fprintf(&b, "[yellow::b]Prekeys[-::-]: [%s]%d[-] unused of %d\n", pool, r.unused, r.total)
	fmt.Fprintf(&b, "[yellow::b]Next prekey id[-::-]: %d\n", r.user.NextPreKeyID)

	if r.ik != nil {
		fmt.Fprintf(&b, "[yellow::b]Identity key[-::-]: %d\n", r.ik.KeyID)
	} else {
		b.WriteString("[yellow::b]Identity key[-::-]: [red]none[-]\n")
	}

	if r.spk != nil {
		fmt.Fprintf(&b, "[yellow::b]Signed prekey[-::-]: %d\n", r.spk.KeyID)
	} else {
		b.WriteString("[yellow::b]Signed prekey[-::-]: [red]none[-]\n")
	}

	fmt.Fprintf(&b, "\n[::u]Sender key chains (%d)[::-]\n\n", len(r.chains))
	for _, v := range r.chains {
		state := "live"
		if v.Step >= ceiling {
			state = "expired"
		}
		material := "no own copy"
		if v.Key != "" {
			material = "own copy"
		}
		fmt.Fprintf(
			&b, "%s step [green]%d[-] %s, %s\n",
			v.StickID(), v.Step, state, material,
		)
	}

	fmt.Fprintf(&b, "\n[yellow::b]Pending sender keys[-::-]: %d\n", r.pending)
	return b.String()
}
