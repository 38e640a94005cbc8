package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Sprinter05/gostick/internal/log"
	"github.com/Sprinter05/gostick/server/hubs"
)

/* ENVIRONMENT */

// Reads an optional environment variable with the parser
// of its type, using the default if it is missing and
// failing if it cannot be parsed.
func envValue[T any](name string, def T, parse func(string) (T, error)) T {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def
	}

	parsed, err := parse(v)
	if err != nil {
		log.Fatal(fmt.Sprintf("environment variable %s", name), err)
	}

	return parsed
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}

// Builds the policy of the hub from the environment
func hubConfig() hubs.Config {
	def := hubs.DefaultConfig()

	minutes := int(def.LockDuration / time.Minute)
	return hubs.Config{
		StepCeiling:   envValue("STEP_CEILING", def.StepCeiling, parseUint32),
		MaxTrials:     envValue("MAX_TRIALS", def.MaxTrials, parseInt),
		LockDuration:  time.Duration(envValue("LOCK_MINUTES", minutes, parseInt)) * time.Minute,
		FanoutWorkers: envValue("FANOUT_WORKERS", def.FanoutWorkers, parseInt),
		PendingAck:    envValue("PENDING_ACK", def.PendingAck, strconv.ParseBool),
		BcryptCost:    envValue("BCRYPT_COST", def.BcryptCost, parseInt),
	}
}

// Returns the address of the HTTP listener
func httpAddr() string {
	addr, ok := os.LookupEnv("SRV_ADDR")
	if !ok {
		log.Environ("SRV_ADDR")
	}

	port, ok := os.LookupEnv("SRV_PORT")
	if !ok {
		log.Environ("SRV_PORT")
	}

	return fmt.Sprintf(
		"%s:%s",
		addr,
		port,
	)
}

// Returns the address of the websocket listener,
// false if it is disabled
func wsAddr() (string, bool) {
	port, ok := os.LookupEnv("WS_PORT")
	if !ok || port == "" {
		return "", false
	}

	return fmt.Sprintf(
		"%s:%s",
		os.Getenv("SRV_ADDR"),
		port,
	), true
}
