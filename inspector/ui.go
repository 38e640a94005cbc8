package main

import (
	"github.com/Sprinter05/gostick/server/db"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"gorm.io/gorm"
)

const Help string = `
[-::u]Keybinds Manual:[-::-]

[yellow::b]Up/Down[-::-]: Move through users

[yellow::b]Enter[-::-]: Show the selected user

[yellow::b]Ctrl-R[-::-]: Reload the user list

[yellow::b]Ctrl-Q[-::-]: Exit program
`

// Read only browser of the key registry
type TUI struct {
	db      *gorm.DB
	ceiling uint32
	main    *tview.Flex
	users   *tview.List
	details *tview.TextView
	errors  *tview.TextView
}

func setupLayout(t *TUI) {
	t.users = tview.NewList()
	t.details = tview.NewTextView()
	t.errors = tview.NewTextView()

	right := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.details, 0, 1, false).
		AddItem(t.errors, 1, 0, false)
	right.SetBackgroundColor(tcell.ColorDefault)

	t.main = tview.NewFlex().
		AddItem(t.users, 0, 2, true).
		AddItem(right, 0, 5, false)
	t.main.SetBackgroundColor(tcell.ColorDefault)
}

func setupStyle(t *TUI) {
	t.users.
		SetMainTextStyle(tcell.StyleDefault.
			Background(tcell.ColorDefault)).
		SetSecondaryTextStyle(tcell.StyleDefault.
			Background(tcell.ColorDefault).
			Foreground(tcell.ColorDarkGray)).
		SetSelectedStyle(tcell.StyleDefault.Underline(true)).
		SetSelectedTextColor(tcell.ColorPurple).
		ShowSecondaryText(true).
		SetBorder(true).
		SetTitle("Users").
		SetBackgroundColor(tcell.ColorDefault)

	t.details.
		SetDynamicColors(true).
		SetWrap(true).
		SetWordWrap(true).
		SetScrollable(true).
		SetBackgroundColor(tcell.ColorDefault).
		SetBorder(true).
		SetTitle("Registry")

	t.errors.
		SetDynamicColors(true).
		SetBackgroundColor(tcell.ColorDefault).
		SetBorder(false)
}

func setupKeybinds(t *TUI, app *tview.Application) {
	t.users.SetChangedFunc(func(i int, s1, s2 string, r rune) {
		t.show(s2)
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlQ:
			app.Stop()
		case tcell.KeyCtrlC:
			return nil
		case tcell.KeyCtrlR:
			t.reload()
			app.Sync()
		}
		return event
	})
}

// Fills the user list again from the database
func (t *TUI) reload() {
	t.users.Clear()
	t.errors.Clear()

	users, err := db.QueryUsers(t.db)
	if err != nil {
		t.showError(err)
		t.details.SetText(Help)
		return
	}

	for _, v := range users {
		name := v.Email.String
		if v.Phone.Valid {
			name = v.Phone.String
		}
		t.users.AddItem(name, v.ID, 0, nil)
	}

	_, id := t.users.GetItemText(0)
	t.show(id)
}

// Shows the registry state of a user
func (t *TUI) show(id string) {
	r, err := inspect(t.db, id)
	if err != nil {
		t.showError(err)
		return
	}

	t.errors.Clear()
	t.details.SetText(r.render(t.ceiling)).ScrollToBeginning()
}

func (t *TUI) showError(err error) {
	t.errors.SetText("[red]" + tview.Escape(err.Error()) + "[-]")
}

// Creates the inspector along with the application running it
func New(database *gorm.DB, ceiling uint32) (*TUI, *tview.Application) {
	t := &TUI{
		db:      database,
		ceiling: ceiling,
	}

	setupLayout(t)
	setupStyle(t)

	app := tview.NewApplication().
		EnableMouse(true).
		SetRoot(t.main, true).
		SetFocus(t.users)

	setupKeybinds(t, app)
	t.reload()

	return t, app
}
