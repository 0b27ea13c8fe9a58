package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/petrijr/synapse/pkg/api"
)

// Backend names a trace store implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
	BackendMongo    Backend = "mongo"
)

// DefaultSQLitePath is the trace database used when none is configured.
const DefaultSQLitePath = "synapse_traces.db"

// Config selects and configures a trace store backend.
type Config struct {
	Backend Backend `mapstructure:"backend"`

	// Path is the SQLite database file.
	Path string `mapstructure:"path"`

	// DSN is the PostgreSQL connection string.
	DSN string `mapstructure:"dsn"`

	Redis RedisConfig `mapstructure:"redis"`
	Mongo MongoConfig `mapstructure:"mongo"`

	// ConnectTimeout bounds the reachability check done by Open.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// Open connects to the configured backend, verifies it is reachable and
// prepares its schema. Any failure is returned as *api.PersistenceError:
// a run must not start without a trace sink.
func Open(ctx context.Context, cfg Config) (TraceStore, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	store, err := open(ctx, cfg)
	if err != nil {
		return nil, api.NewPersistenceError("open "+string(cfg.Backend), err)
	}
	return store, nil
}

func open(ctx context.Context, cfg Config) (TraceStore, error) {
	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryTraceStore(), nil

	case BackendSQLite, "":
		path := cfg.Path
		if path == "" {
			path = DefaultSQLitePath
		}
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, err
		}
		// SQLite allows a single writer; one connection also keeps
		// ":memory:" databases shared across calls.
		db.SetMaxOpenConns(1)
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		store, err := NewSQLiteTraceStore(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		store.ownsDB = true
		return store, nil

	case BackendPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres backend requires a dsn")
		}
		db, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		store, err := NewPostgresTraceStore(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		store.ownsDB = true
		return store, nil

	case BackendRedis:
		addr := cfg.Redis.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, err
		}
		store := NewRedisTraceStore(client, cfg.Redis.Prefix)
		store.ownsClient = true
		return store, nil

	case BackendMongo:
		uri := cfg.Mongo.URI
		if uri == "" {
			uri = "mongodb://localhost:27017"
		}
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
		if err != nil {
			return nil, err
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		store, err := NewMongoTraceStore(ctx, client, cfg.Mongo.Database)
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		store.ownsClient = true
		return store, nil

	default:
		return nil, fmt.Errorf("unknown trace store backend %q", cfg.Backend)
	}
}
