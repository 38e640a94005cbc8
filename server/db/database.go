package db

import (
	"fmt"
	stdlog "log"
	"os"
	"strings"

	"github.com/Sprinter05/gostick/internal/log"

	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

/* ERRORS */

var (
	ErrorNotFound      error = errors.New("content not found in database")     // content not found in database
	ErrorDuplicatedKey error = errors.New("duplicated key in database")        // duplicated key in database
	ErrorForeignKey    error = errors.New("foreign key constraint violated")   // foreign key constraint violated
	ErrorEmpty         error = errors.New("queried data is empty")             // queried data is empty
	ErrorConflict      error = errors.New("row was modified concurrently")     // row was modified concurrently
	ErrorDriver        error = errors.New("unsupported database driver")       // unsupported database driver
	ErrorRegistered    error = errors.New("user already finished registration") // user already finished registration
)

// Abstracts gorm errors with the errors of the db package,
// wrapping and logging anything that is not expected.
func dbError(err error, what string) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrorNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrorDuplicatedKey
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return ErrorForeignKey
	}

	log.DB(what, err)
	return errors.Wrap(err, what)
}

/* UTILITIES */

// Gets the driver name and the data source from the
// environment. MySQL is used unless told otherwise.
func getDBEnv() (string, string) {
	driver, ok := os.LookupEnv("DB_DRIVER")
	if !ok {
		driver = "mysql"
	}

	if driver == "sqlite" {
		path, ok := os.LookupEnv("DB_PATH")
		if !ok {
			log.Environ("DB_PATH")
		}
		return driver, path
	}

	user, ok := os.LookupEnv("DB_USER")
	if !ok {
		log.Environ("DB_USER")
	}

	pswd, ok := os.LookupEnv("DB_PSWD")
	if !ok {
		log.Environ("DB_PSWD")
	}

	addr, ok := os.LookupEnv("DB_ADDR")
	if !ok {
		log.Environ("DB_ADDR")
	}

	port, ok := os.LookupEnv("DB_PORT")
	if !ok {
		log.Environ("DB_PORT")
	}

	name, ok := os.LookupEnv("DB_NAME")
	if !ok {
		log.Environ("DB_NAME")
	}

	// Get formatted string
	return driver, fmt.Sprintf(
		"%s:%s@tcp(%s:%s)/%s?parseTime=True&clientFoundRows=true",
		user,
		pswd,
		addr,
		port,
		name,
	)
}

// Adds the connection parameters every sqlite database needs.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	return path + sep + "_foreign_keys=on&_busy_timeout=5000"
}

// Returns a gorm logger that writes to the given log,
// or discards everything if none is given.
func NewLogger(logfile *stdlog.Logger) logger.Interface {
	if logfile == nil {
		return logger.Discard
	}

	return logger.New(
		logfile,
		logger.Config{
			LogLevel:             logger.Info,
			ParameterizedQueries: false,
		},
	)
}

// Opens a database with the given driver ("mysql" or "sqlite").
// Sqlite databases are limited to a single connection as
// the engine serializes writers anyway, so statements are
// not cached there to avoid holding that connection.
func Open(driver string, dsn string, dblog logger.Interface) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(sqliteDSN(dsn))
	default:
		return nil, ErrorDriver
	}

	db, err := gorm.Open(
		dialector,
		&gorm.Config{
			PrepareStmt:    driver != "sqlite",
			TranslateError: true,
			Logger:         dblog,
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}

	if driver == "sqlite" {
		sqldb, err := db.DB()
		if err != nil {
			return nil, errors.Wrap(err, "sqlite pool")
		}
		sqldb.SetMaxOpenConns(1)
	}

	return db, nil
}

// Connects to the database using the environment file
func Connect(logfile *stdlog.Logger) *gorm.DB {
	driver, access := getDBEnv()

	db, err := Open(driver, access, NewLogger(logfile))
	if err != nil {
		log.Fatal("database login", err)
	}

	// Run migrations
	if err := Migrate(db); err != nil {
		log.Fatal("database migrations", err)
	}

	return db
}

// Runs migrations for the database
func Migrate(db *gorm.DB) error {
	if db.Dialector.Name() == "mysql" {
		db = db.Set(
			"gorm:table_options",
			"ENGINE=InnoDB",
		)
	}

	err := db.AutoMigrate(
		&User{},
		&Device{},
		&Token{},
		&IdentityKey{},
		&SignedPreKey{},
		&PreKey{},
		&Group{},
		&GroupMember{},
		&GroupInvitation{},
		&Connection{},
		&Party{},
		&PartyMember{},
		&PartyGroup{},
		&EncryptionSenderKey{},
		&DecryptionSenderKey{},
		&PendingKey{},
	)
	if err != nil {
		return errors.Wrap(err, "auto migration")
	}

	return nil
}
