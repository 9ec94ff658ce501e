package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the server settings.
type Config struct {
	HTTPAddr string
	// Backend is "memory", "badger", "redis" or "mongo".
	Backend       string
	DataDir       string
	MongoURI      string
	MongoDatabase string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string
	Namespace     string
	// GossipListen enables libp2p change propagation when set.
	GossipListen   string
	GossipTopic    string
	BootstrapPeers string

	OptimisticCommit bool
	MaxRetries       int
	RetryDelay       time.Duration

	ClientDir       string
	Debug           bool
	ShutdownTimeout time.Duration
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parseConfig reads flags. Every flag defaults to its FOGMASK_* environment
// variable.
func parseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var c Config
	fs.StringVar(&c.HTTPAddr, "addr", envString("FOGMASK_ADDR", ":8080"), "HTTP listen address")
	fs.StringVar(&c.Backend, "backend", envString("FOGMASK_BACKEND", "memory"), "storage backend: memory, badger, redis or mongo")
	fs.StringVar(&c.DataDir, "data-dir", envString("FOGMASK_DATA_DIR", "./data"), "badger database directory")
	fs.StringVar(&c.MongoURI, "mongo", envString("FOGMASK_MONGO_URI", "mongodb://localhost:27017"), "MongoDB connection URI")
	fs.StringVar(&c.MongoDatabase, "mongo-db", envString("FOGMASK_MONGO_DB", "fogmask"), "MongoDB database")
	fs.StringVar(&c.RedisAddr, "redis", envString("FOGMASK_REDIS_ADDR", "localhost:6379"), "Redis server address")
	fs.StringVar(&c.RedisPassword, "redis-password", envString("FOGMASK_REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", envInt("FOGMASK_REDIS_DB", 0), "Redis database number")
	fs.StringVar(&c.RedisChannel, "redis-channel", envString("FOGMASK_REDIS_CHANNEL", "fogmask-changes"), "Redis pub/sub channel for change notifications")
	fs.StringVar(&c.Namespace, "namespace", envString("FOGMASK_NAMESPACE", "/fogmask"), "key namespace")
	fs.StringVar(&c.GossipListen, "gossip", envString("FOGMASK_GOSSIP_LISTEN", ""), "libp2p listen multiaddr; enables gossip notifications")
	fs.StringVar(&c.GossipTopic, "topic", envString("FOGMASK_GOSSIP_TOPIC", "fogmask-sync"), "gossip topic")
	fs.StringVar(&c.BootstrapPeers, "bootstrap", envString("FOGMASK_BOOTSTRAP", ""), "comma separated list of bootstrap peers")
	fs.BoolVar(&c.OptimisticCommit, "optimistic", envBool("FOGMASK_OPTIMISTIC_COMMIT", false), "rebase concurrent commits instead of last write wins")
	fs.IntVar(&c.MaxRetries, "max-retries", envInt("FOGMASK_MAX_RETRIES", 5), "optimistic commit retries")
	fs.DurationVar(&c.RetryDelay, "retry-delay", envDuration("FOGMASK_RETRY_DELAY", 10*time.Millisecond), "initial optimistic commit backoff")
	fs.StringVar(&c.ClientDir, "client-dir", envString("FOGMASK_CLIENT_DIR", ""), "directory of static client files")
	fs.BoolVar(&c.Debug, "debug", envBool("FOGMASK_DEBUG", false), "enable debug logging")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", envDuration("FOGMASK_SHUTDOWN_TIMEOUT", 10*time.Second), "graceful shutdown timeout")

	if err := fs.Parse(args); err != nil {
		return c, err
	}
	return c, c.validate()
}

func (c Config) validate() error {
	switch c.Backend {
	case "memory", "badger", "redis", "mongo":
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max-retries must not be negative")
	}
	return nil
}
