// Package config defines the routing tier's configuration surface (spec
// §6) as a set of component-scoped structs, each registering its own
// flags in the style the teacher's ring.Config/RegisterFlags does, with an
// optional YAML file as the base layer that flags then override.
package config

import (
	"flag"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/geogrid/routingtier/pkg/routeerr"
)

// RingConfig configures the dispatcher's own identity on the ring.
type RingConfig struct {
	ListenIP   string `yaml:"listen_ip"`
	ListenPort int    `yaml:"listen_port"`
	Priority   int    `yaml:"priority"`
}

func (c *RingConfig) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&c.ListenIP, "listen-ip", "0.0.0.0", "IP address the dispatcher listens on.")
	f.IntVar(&c.ListenPort, "listen-port", 9000, "TCP port the dispatcher listens on.")
	f.IntVar(&c.Priority, "priority", 1, "Gossip priority announced for this routing node.")
}

// GossipConfig configures the membership/gossip loop (spec §4.2).
type GossipConfig struct {
	IntervalMS       int      `yaml:"gossip_interval_ms"`
	FanoutPeers      int      `yaml:"gossip_fanout"`
	FailureTimeoutMS int      `yaml:"failure_timeout_ms"`
	ForgetTimeoutMS  int      `yaml:"forget_timeout_ms"`
	SeedAddrs        []string `yaml:"seed_addrs"`
}

func (c *GossipConfig) RegisterFlags(f *flag.FlagSet) {
	f.IntVar(&c.IntervalMS, "gossip-interval-ms", 5000, "Interval between gossip rounds, in milliseconds (T_gossip).")
	f.IntVar(&c.FanoutPeers, "gossip-fanout", 2, "Number of random peers contacted per gossip round (K).")
	f.IntVar(&c.FailureTimeoutMS, "failure-timeout-ms", 0, "Milliseconds without contact before a peer is marked Suspect; 0 derives 3*gossip-interval-ms.")
	f.IntVar(&c.ForgetTimeoutMS, "forget-timeout-ms", 0, "Milliseconds without contact before a peer is forgotten entirely; 0 derives 6*gossip-interval-ms.")
}

// Interval returns T_gossip as a time.Duration.
func (c GossipConfig) Interval() time.Duration { return time.Duration(c.IntervalMS) * time.Millisecond }

// FailureTimeout returns T_fail, defaulting to 3*T_gossip per spec §4.2.
func (c GossipConfig) FailureTimeout() time.Duration {
	if c.FailureTimeoutMS > 0 {
		return time.Duration(c.FailureTimeoutMS) * time.Millisecond
	}
	return 3 * c.Interval()
}

// ForgetTimeout returns T_forget, defaulting to 6*T_gossip per spec §4.2.
func (c GossipConfig) ForgetTimeout() time.Duration {
	if c.ForgetTimeoutMS > 0 {
		return time.Duration(c.ForgetTimeoutMS) * time.Millisecond
	}
	return 6 * c.Interval()
}

// DispatcherConfig configures the accept loop / worker pool (spec §4.6/§5).
type DispatcherConfig struct {
	WorkersCount       int `yaml:"workers_count"`
	StoragePort        int `yaml:"storage_port"`
	QueueCapacity      int `yaml:"queue_capacity"`
	ConnectTimeoutMS   int `yaml:"connect_timeout_ms"`
	ReadTimeoutMS      int `yaml:"read_timeout_ms"`
}

func (c *DispatcherConfig) RegisterFlags(f *flag.FlagSet) {
	f.IntVar(&c.WorkersCount, "workers-count", 0, "Number of worker goroutines draining the accept FIFO; 0 uses runtime.NumCPU().")
	f.IntVar(&c.StoragePort, "storage-port", 8080, "TCP port storage nodes listen on for relayed requests.")
	f.IntVar(&c.QueueCapacity, "queue-capacity", 1024, "Bound on the accept FIFO of ready sockets.")
	f.IntVar(&c.ConnectTimeoutMS, "connect-timeout-ms", 2000, "Connect timeout for outbound relays (spec §5).")
	f.IntVar(&c.ReadTimeoutMS, "read-timeout-ms", 10000, "Read timeout for outbound relays (spec §5).")
}

func (c DispatcherConfig) ConnectTimeout() time.Duration { return time.Duration(c.ConnectTimeoutMS) * time.Millisecond }
func (c DispatcherConfig) ReadTimeout() time.Duration    { return time.Duration(c.ReadTimeoutMS) * time.Millisecond }

// CatalogConfig configures the relational catalog connection (spec §6).
type CatalogConfig struct {
	DSN             string `yaml:"catalog_dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MigrationsPath  string `yaml:"migrations_path"`
}

func (c *CatalogConfig) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&c.DSN, "catalog-dsn", "postgres://localhost:5432/routingtier?sslmode=disable", "PostgreSQL DSN for the relational catalog.")
	f.IntVar(&c.MaxOpenConns, "catalog-max-open-conns", 10, "Max open catalog connections (bounded pool, spec §5).")
	f.StringVar(&c.MigrationsPath, "catalog-migrations-path", "", "Filesystem path to migration files; empty uses the embedded set.")
}

// Config aggregates every component's configuration.
type Config struct {
	Ring       RingConfig       `yaml:"ring"`
	Gossip     GossipConfig     `yaml:"gossip"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Catalog    CatalogConfig    `yaml:"catalog"`
}

// RegisterFlags registers every component's flags on f.
func (c *Config) RegisterFlags(f *flag.FlagSet) {
	c.Ring.RegisterFlags(f)
	c.Gossip.RegisterFlags(f)
	c.Dispatcher.RegisterFlags(f)
	c.Catalog.RegisterFlags(f)
}

// LoadFile reads a YAML config file into c. Missing file is not an error.
// RegisterFlags writes every flag default into c, so callers load the file
// after registering (and parsing) flags and then parse the command line
// again, so explicitly given flags override file values.
func (c *Config) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return routeerr.Wrap(routeerr.Fatal, err, "reading config file")
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return routeerr.Wrap(routeerr.Fatal, err, "parsing config file")
	}
	return nil
}

// Validate checks cross-field invariants not expressible as simple flag
// defaults, returning a routeerr.Fatal-kind error (CLI exit code 2, spec
// §6) on the first violation found.
func (c *Config) Validate() error {
	if c.Dispatcher.WorkersCount < 0 {
		return routeerr.New(routeerr.Fatal, "workers-count must be >= 0")
	}
	if c.Gossip.IntervalMS <= 0 {
		return routeerr.New(routeerr.Fatal, "gossip-interval-ms must be > 0")
	}
	if c.Ring.ListenPort <= 0 || c.Ring.ListenPort > 65535 {
		return routeerr.New(routeerr.Fatal, "listen-port out of range")
	}
	if c.Catalog.DSN == "" {
		return routeerr.New(routeerr.Fatal, "catalog-dsn must be set")
	}
	return nil
}
