package hubs

import (
	"context"
	"net"
	"time"

	"github.com/Sprinter05/gostick/internal/log"
	"github.com/Sprinter05/gostick/internal/models"
	"github.com/Sprinter05/gostick/internal/spec"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

/* TYPES */

// Deployment policy of the key server. Every field
// has a legacy default provided by DefaultConfig.
type Config struct {
	StepCeiling   uint32                     // Ratchet steps after which a sticky chain expires
	MaxTrials     int                        // Failed password attempts before a lock
	LockDuration  time.Duration              // How long a locked account stays locked
	FanoutWorkers int                        // Sender keys processed at once in a batch upload
	PendingAck    bool                       // Pending keys survive a fetch until acknowledged
	BcryptCost    int                        // Cost of the password hasher
	PushToken     func(userID string) string // Issues the push token handed out on login
}

// Persistent connection attached to the hub.
type Client struct {
	ID     string             // Random connection id
	Addr   string             // Remote address
	Since  time.Time          // When it connected
	cancel context.CancelFunc // Closes the connection
}

// Main data structure that stores all information shared
// by all requests. It is safe to use concurrently and
// keeps no key material between requests.
type Hub struct {
	db      *gorm.DB                         // Database with all relevant information
	config  Config                           // Policy values
	shtdwn  context.Context                  // Used to wait for a shutdown
	close   context.CancelFunc               // Used to trigger a shutdown
	clients *models.Table[string, *Client]  // Stores all persistent connections
}

/* CONFIG */

// Returns the policy of the legacy deployment.
func DefaultConfig() Config {
	return Config{
		StepCeiling:   spec.DefaultCeiling,
		MaxTrials:     spec.DefaultTrials,
		LockDuration:  time.Duration(spec.DefaultLockTime) * time.Minute,
		FanoutWorkers: 8,
		PendingAck:    false,
		BcryptCost:    bcrypt.DefaultCost,
	}
}

// Replaces unusable values with their defaults
func (c Config) normalize() Config {
	def := DefaultConfig()

	if c.StepCeiling == 0 {
		c.StepCeiling = def.StepCeiling
	}

	if c.MaxTrials <= 0 {
		c.MaxTrials = def.MaxTrials
	}

	if c.LockDuration <= 0 {
		c.LockDuration = def.LockDuration
	}

	if c.FanoutWorkers <= 0 {
		c.FanoutWorkers = def.FanoutWorkers
	}

	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		c.BcryptCost = def.BcryptCost
	}

	if c.PushToken == nil {
		c.PushToken = func(string) string { return "" }
	}

	return c
}

// Minutes an account stays locked, rounded up
func (c Config) lockMinutes() int {
	return int((c.LockDuration + time.Minute - 1) / time.Minute)
}

/* HUB FUNCTIONS */

// Registers a persistent connection so that it is
// closed when the server shuts down.
func (hub *Hub) Attach(addr net.Addr, cancel context.CancelFunc) *Client {
	cl := &Client{
		ID:     uuid.NewString(),
		Since:  time.Now(),
		cancel: cancel,
	}

	if addr != nil {
		cl.Addr = addr.String()
	}

	hub.clients.Add(cl.ID, cl)
	return cl
}

// Removes a connection that just closed from the hub.
func (hub *Hub) Detach(cl *Client) {
	hub.clients.Remove(cl.ID)
}

// Returns how many persistent connections are open.
func (hub *Hub) Clients() int {
	return hub.clients.Len()
}

// Returns the policy the hub runs with.
func (hub *Hub) Config() Config {
	return hub.config
}

// Triggers a shutdown.
func (hub *Hub) Shutdown() {
	hub.close()
}

/* HUB MAIN */

// Initialises all data structures the hub needs to function:
// database, policy, shutdown context and table sizes.
func NewHub(database *gorm.DB, config Config, ctx context.Context, size int) *Hub {
	shtdwn, cancel := context.WithCancel(ctx)

	return &Hub{
		db:      database,
		config:  config.normalize(),
		shtdwn:  shtdwn,
		close:   cancel,
		clients: models.NewTable[string, *Client](size),
	}
}

// Blocking function that waits until a shutdown is triggered,
// closing every persistent connection and the given servers
// so that the calling function can safely exit the program.
func (hub *Hub) Wait(servers ...interface{ Close() error }) {
	<-hub.shtdwn.Done()

	for _, v := range hub.clients.Snapshot() {
		v.cancel()
	}

	log.Notice("inminent server shutdown")

	for _, v := range servers {
		if err := v.Close(); err != nil {
			log.Error("server close", err)
		}
	}
}
