package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/Sprinter05/gostick/server/db"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

/* TYPE DEFINITIONS */

// Specifies a server shell to
// perform local operations on the
// database.
type Shell struct {
	db  *gorm.DB      // Database connection
	rd  *bufio.Reader // Input reader
	out io.Writer     // Where output goes
}

// Function that specifies a shell command
type shellFunc func(*Shell, []string)

/* ERRORS */

var (
	ErrorInvalidCmd error = errors.New("invalid command given")   // invalid command given
	ErrorFewArgs    error = errors.New("too few arguments given") // too few arguments given
)

/* LOOKUP TABLES */

var lookupShell map[string]shellFunc = map[string]shellFunc{
	"ADDUSER":  addUser,
	"CONNECT":  connectUsers,
	"ADDGROUP": addGroup,
	"POOL":     poolStatus,
	"PENDING":  pendingStatus,
	"HELP":     shellHelp,
}

var shellArgs map[string]uint = map[string]uint{
	"ADDUSER":  1,
	"CONNECT":  2,
	"ADDGROUP": 2,
	"POOL":     1,
	"PENDING":  1,
	"HELP":     0,
}

// Returns the function and minimum number of
// arguments required to run a command
func getShellCommand(cmd string) (shellFunc, uint, bool) {
	f, fOk := lookupShell[cmd]
	a, aOk := shellArgs[cmd]

	if !fOk || !aOk {
		return f, a, false
	}

	return f, a, true
}

/* COMMANDS */

// Prints the help message with info about all commands
func shellHelp(shell *Shell, args []string) {
	fmt.Fprint(
		shell.out,
		"ADDUSER <phone|email>: Creates an account pending registration\n"+
			"CONNECT <user> <user>: Connects two users\n"+
			"ADDGROUP <group> <user>...: Creates a group with the given members\n"+
			"POOL <user>: Shows the prekey pool and active keys of a user\n"+
			"PENDING <user>: Shows how many sender keys a user owes\n"+
			"EXIT: Exits the shell\n",
	)
}

// Creates an account that can then upload its first bundle
func addUser(shell *Shell, args []string) {
	var phone, email string
	if strings.Contains(args[0], "@") {
		email = args[0]
	} else {
		phone = args[0]
	}

	user, err := db.InsertUser(shell.db, uuid.NewString(), phone, email)
	if err != nil {
		shell.showError(err)
		return
	}

	fmt.Fprintf(shell.out, "User id: %s\n", user.ID)
	shell.showOk()
}

// Connects two users in both directions
func connectUsers(shell *Shell, args []string) {
	err := db.InsertConnection(shell.db, args[0], args[1])
	if err != nil {
		shell.showError(err)
		return
	}

	shell.showOk()
}

// Creates a group with its members
func addGroup(shell *Shell, args []string) {
	err := db.InsertGroup(shell.db, &db.Group{ID: args[0]}, args[1:]...)
	if err != nil {
		shell.showError(err)
		return
	}

	shell.showOk()
}

// Prints how many prekeys a user has left
// and how many of their keys are active
func poolStatus(shell *Shell, args []string) {
	unused, err := db.CountPreKeys(shell.db, args[0], true)
	if err != nil {
		shell.showError(err)
		return
	}

	total, err := db.CountPreKeys(shell.db, args[0], false)
	if err != nil {
		shell.showError(err)
		return
	}

	iks, spks, err := db.CountActiveKeys(shell.db, args[0])
	if err != nil {
		shell.showError(err)
		return
	}

	fmt.Fprintf(
		shell.out,
		"Prekeys: %d unused of %d\nActive identity keys: %d\nActive signed prekeys: %d\n",
		unused, total, iks, spks,
	)

	if unused == 0 {
		shell.showWarn("prekey pool is exhausted")
	}
	if iks != 1 || spks != 1 {
		shell.showWarn("user does not have exactly one active key of each kind")
	}
}

// Prints how many sender keys a user still has to upload
func pendingStatus(shell *Shell, args []string) {
	count, err := db.CountPendingKeys(shell.db, args[0])
	if err != nil {
		shell.showError(err)
		return
	}

	fmt.Fprintf(shell.out, "Pending sender keys: %d\n", count)
}

/* SHELL FUNCTIONS */

// Loops the shell execution by reading a command and
// executing it until EXIT or the end of the input
func (shell *Shell) Run() {
	fmt.Fprint(shell.out, "Connected to server database, use HELP for information\n")

	for {
		shell.showPrompt()

		plain, err := shell.rd.ReadString('\n')
		if err != nil && plain == "" {
			return
		}

		input := strings.Fields(plain)
		if len(input) == 0 {
			continue
		}

		if input[0] == "EXIT" {
			return
		}

		fun, args, ok := getShellCommand(input[0])
		if !ok {
			shell.showError(ErrorInvalidCmd)
			continue
		}

		if (len(input) - 1) < int(args) {
			shell.showError(ErrorFewArgs)
			continue
		}

		fun(shell, input[1:])
	}
}

// Shows a confirmation message
func (shell *Shell) showOk() {
	fmt.Fprint(
		shell.out,
		"[-] Operation completed\n",
	)
}

// Shows a warning message with a given text
func (shell *Shell) showWarn(text string) {
	fmt.Fprintf(
		shell.out,
		"[!] Warning: %s\n",
		text,
	)
}

// Shows an error message
func (shell *Shell) showError(err error) {
	fmt.Fprintf(
		shell.out,
		"[X] Problem occurred: %s\n",
		err,
	)
}

// Prints the shell prompt text
func (shell *Shell) showPrompt() {
	fmt.Fprintf(
		shell.out,
		"\033[36mdatabase@%s > \033[0m",
		shell.db.Dialector.Name(),
	)
}

// Returns a shell reading commands from the
// given input and running them on the database
func newShell(database *gorm.DB, in io.Reader, out io.Writer) *Shell {
	return &Shell{
		db:  database,
		rd:  bufio.NewReader(in),
		out: out,
	}
}
