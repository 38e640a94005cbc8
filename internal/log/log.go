// Implements a global log to be used by the key server and its tools.
// Includes several log levels and functions that handle from
// database problems to key rotations, including any relevant information.
package log

import (
	"log"

	"github.com/Sprinter05/gostick/internal/spec"
)

// Indicates a log level, only the provided global
// variable can be used, as it does not
// support changing the output to something
// that is not standard output or using another variable.
type Logging uint

// Global variable that represents the level.
// This allows use between packages.
// Default level is FATAL.
var Level Logging = FATAL

const (
	FATAL Logging = iota // [X] Logs only when it crashes the program
	ERROR                // [E] Logs relevant server and database errors
	INFO                 // [I] Logs information about user operations and key state
	ALL                  // [-] Logs every single request
)

// Returns the level asocciated to its name,
// defaulting to FATAL for unknown names.
func ParseLevel(lv string) (Logging, string) {
	switch lv {
	case "ALL":
		return ALL, lv
	case "INFO":
		return INFO, lv
	case "ERROR":
		return ERROR, lv
	default:
		return FATAL, "FATAL"
	}
}

// Logs in any level [*]
//
// Notifies any generic server message.
func Notice(msg string) {
	log.Printf(
		"[*] Notification: %s...\n",
		msg,
	)
}

// Requires FATAL
//
// Informs of a missing environment variable.
func Environ(envvar string) {
	if Level < FATAL {
		return
	}
	log.Fatalf(
		"[X] Missing environment variable %s!\n",
		envvar,
	)
}

// Requires FATAL
//
// Generic fatal error.
func Fatal(msg string, err error) {
	if Level < FATAL {
		return
	}
	log.Fatalf(
		"[X] Fatal problem in %s due to %s\n",
		msg,
		err,
	)
}

// Requires FATAL
//
// Consistency error on the database.
func DBFatal(data string, user string, err error) {
	if Level < FATAL {
		return
	}
	log.Fatalf(
		"[X] Inconsistent %s on database for %s due to %s\n",
		data,
		user,
		err,
	)
}

// Requires ERROR or higher
//
// Generic error.
func Error(msg string, err error) {
	if Level < ERROR {
		return
	}
	log.Printf(
		"[E] Problem in %s due to %s\n",
		msg,
		err,
	)
}

// Requires ERROR or higher
//
// Notifies an error on a connection from an address.
func IP(msg string, addr string) {
	if Level < ERROR {
		return
	}
	log.Printf(
		"[E] Problem with connection from %s due to %s\n",
		addr,
		msg,
	)
}

// Requires ERROR or higher
//
// Internal database problem.
func DBError(err error) {
	if Level < ERROR {
		return
	}
	log.Printf(
		"[E] Database error: %s\n",
		err,
	)
}

// Requires ERROR or higher
//
// Problem running a SQL statement.
func DB(data string, err error) {
	if Level < ERROR {
		return
	}
	log.Printf(
		"[E] Problem requesting %s from database due to %s\n",
		data,
		err,
	)
}

// Requires ERROR or higher
//
// Problem when writing a reply.
func Reply(op spec.Action, err error) {
	if Level < ERROR {
		return
	}
	log.Printf(
		"[E] Failure writing reply to %s due to %s\n",
		spec.CodeToString(op),
		err,
	)
}

// Requires INFO or higher
//
// Error with data related to a user.
func User(user string, data string, err error) {
	if Level < INFO {
		return
	}
	log.Printf(
		"[I] Problem with %s in %s request due to %s\n",
		user,
		data,
		err,
	)
}

// Requires INFO or higher
//
// Problem when reading from a connection.
func Read(subj string, ip string, err error) {
	if Level < INFO {
		return
	}
	log.Printf(
		"[I] Error reading %s from address %s due to %s\n",
		subj,
		ip,
		err,
	)
}

// Requires INFO or higher
//
// Invalid operation trying to be performed.
func Invalid(op string, user string) {
	if Level < INFO {
		return
	}
	log.Printf(
		"[I] No operation asocciated to %s on request from %s, skipping!\n",
		op,
		user,
	)
}

// Requires INFO or higher
//
// A key of a user replaced the previously active one.
func Rotation(user string, kind string, id uint32) {
	if Level < INFO {
		return
	}
	log.Printf(
		"[I] User %s rotated %s to key %d\n",
		user,
		kind,
		id,
	)
}

// Requires INFO or higher
//
// A bundle was requested for a user without unused prekeys.
func Exhausted(user string) {
	if Level < INFO {
		return
	}
	log.Printf(
		"[I] Prekey pool of %s is exhausted\n",
		user,
	)
}

// Requires INFO or higher
//
// A user reached the maximum amount of password trials.
func Lockout(user string, minutes int) {
	if Level < INFO {
		return
	}
	log.Printf(
		"[I] User %s locked for %d minutes after failed logins\n",
		user,
		minutes,
	)
}

// Requires ALL
//
// Prints a new connection.
func Connection(ip string, closed bool) {
	if Level < ALL {
		return
	}
	if closed {
		log.Printf(
			"[-] Connection from %s closed!",
			ip,
		)
	} else {
		log.Printf(
			"[-] New connection from %s!",
			ip,
		)
	}
}

// Requires ALL
//
// Prints request information.
func Request(ip string, op spec.Action, status int) {
	if Level < ALL {
		return
	}
	log.Printf(
		"[-] Request %s from %s answered with %d\n",
		spec.CodeToString(op),
		ip,
		status,
	)
}
