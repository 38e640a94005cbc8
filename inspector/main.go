package main

import (
	"flag"
	stdlog "log"
	"os"
	"strconv"

	"github.com/Sprinter05/gostick/internal/spec"
	"github.com/Sprinter05/gostick/server/db"

	"github.com/joho/godotenv"
)

var (
	envFile string
	logPath string
)

func init() {
	flag.StringVar(&envFile, "env", ".env", "Environment file of the server whose database is inspected.")
	flag.StringVar(&logPath, "log", "", "File to append database logs to. Discarded if empty.")
}

// Main inspector function
func main() {
	flag.Parse()

	if err := godotenv.Load(envFile); err != nil {
		stdlog.Fatalf("environment file could not be read: %s", err)
	}

	var dblog *stdlog.Logger
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			stdlog.Fatalf("database log file could not be opened: %s", err)
		}
		defer f.Close()
		dblog = stdlog.New(f, "", stdlog.LstdFlags)
	}

	database := db.Connect(dblog)
	sqldb, _ := database.DB()
	defer sqldb.Close()

	ceiling := spec.DefaultCeiling
	if v, err := strconv.ParseUint(os.Getenv("STEP_CEILING"), 10, 32); err == nil && v > 0 {
		ceiling = uint32(v)
	}

	_, app := New(database, ceiling)
	if err := app.Run(); err != nil {
		stdlog.Fatalf("inspector stopped: %s", err)
	}
}
