package main

import (
	"context"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sprinter05/gostick/internal/log"
	"github.com/Sprinter05/gostick/server/db"
	"github.com/Sprinter05/gostick/server/hubs"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Expected persistent connections, only used to size tables
const expectedClients int = 64

var (
	ErrorCLIArgs error = errors.New("usage: server <env file> <db log file> [shell]") // usage: server <env file> <db log file> [shell]
)

// Sets up logging.
// Reads environment file from first cli argument.
func setup() {
	// If we default to stderr it won't print unless debugged
	stdlog.SetOutput(os.Stdout)

	if len(os.Args) < 3 {
		// No environment file supplied
		log.Fatal("loading env file", ErrorCLIArgs)
	}

	// Argument 0 is the pathname to the executable
	err := godotenv.Load(os.Args[1])
	if err != nil {
		log.Fatal("env file reading", err)
	}

	// No need to check if the env var exists
	// We just default to FATAL
	lv, name := log.ParseLevel(os.Getenv("LOG_LEVL"))
	log.Level = lv
	fmt.Printf("-> Logging with log level %s...\n", name)
}

// Creates the file database logs are appended to
func logFile() *os.File {
	file, err := os.OpenFile(
		os.Args[2],
		os.O_RDWR|os.O_CREATE|os.O_APPEND,
		0666,
	)
	if err != nil {
		log.Fatal("db log file", err)
	}

	return file
}

// Serves until the server is closed
func serve(srv *http.Server, what string) {
	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(what, err)
	}
}

func main() {
	setup()

	// Set up database logging file
	f := logFile()
	defer f.Close()
	dblog := stdlog.New(f, "", stdlog.LstdFlags)

	// Setup database
	database := db.Connect(dblog)
	sqldb, _ := database.DB()
	defer sqldb.Close()

	if len(os.Args) > 3 && os.Args[3] == "shell" {
		shell := newShell(database, os.Stdin, os.Stdout)
		shell.Run()
		return
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	hub := hubs.NewHub(database, hubConfig(), ctx, expectedClients)

	api := &http.Server{
		Addr:              httpAddr(),
		Handler:           newRouter(hub),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go serve(api, "http listener")
	servers := []interface{ Close() error }{api}

	if addr, ok := wsAddr(); ok {
		ws := &http.Server{
			Addr:              addr,
			Handler:           wsHandler(hub),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go serve(ws, "websocket listener")
		servers = append(servers, ws)
	}

	// Indicate that the server is up and running
	fmt.Printf("-- Server running and listening for requests! --\n")

	// Returns once a shutdown signal arrives
	hub.Wait(servers...)
}
