package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"voting-client/internal/program"
)

const (
	// DatabaseSchemePostgres is the postgres database scheme identifier
	DatabaseSchemePostgres = "postgres"

	DefaultCluster = "devnet"
)

var clusterEndpoints = map[string]string{
	"localnet":     rpc.LocalNet_RPC,
	"devnet":       rpc.DevNet_RPC,
	"testnet":      rpc.TestNet_RPC,
	"mainnet-beta": rpc.MainNetBeta_RPC,
}

// Endpoint returns the public RPC endpoint of a well-known cluster.
func Endpoint(cluster string) (string, bool) {
	e, ok := clusterEndpoints[cluster]
	return e, ok
}

type Config struct {
	Cluster         string
	RPCURL          string
	ProgramID       solana.PublicKey
	KeypairPath     string // optional: without it the client is read-only
	Commitment      rpc.CommitmentType
	ConfirmTimeout  time.Duration
	RPCRPS          float64 // 0 disables pacing
	RefreshInterval time.Duration
	MetricsAddr     string // optional: e.g. :9464
	DBDialect       string // postgres only
	DBDsn           string // DSN string passed to GORM driver
	Debug           bool   // if true: debug logs (to votingctl.log in TUI mode)
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", key, v)
	}
	return d, nil
}

// parseDatabaseURL interprets DATABASE_URL and returns (dialect, dsn).
// Supported schemes: postgres, postgresql.
func parseDatabaseURL(databaseURL string) (string, string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", "", err
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case DatabaseSchemePostgres, "postgresql":
		// GORM postgres driver accepts URL DSN as-is
		return DatabaseSchemePostgres, databaseURL, nil
	default:
		return "", "", fmt.Errorf("unsupported DATABASE_URL scheme: %s", u.Scheme)
	}
}

func defaultKeypairPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(home, ".config", "solana", "id.json")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// Load reads the configuration from the environment. An invalid DATABASE_URL
// only disables persistence; other malformed values are errors.
func Load() (Config, error) {
	cfg := Config{
		Cluster:     getenv("CLUSTER", DefaultCluster),
		KeypairPath: getenv("KEYPAIR_PATH", defaultKeypairPath()),
		Commitment:  rpc.CommitmentType(getenv("COMMITMENT", string(rpc.CommitmentConfirmed))),
		MetricsAddr: os.Getenv("METRICS_ADDR"),
		Debug:       getenvBool("DEBUG", false),
		ProgramID:   program.DefaultID,
	}

	cfg.RPCURL = os.Getenv("RPC_URL")
	if cfg.RPCURL == "" {
		endpoint, ok := Endpoint(cfg.Cluster)
		if !ok {
			return Config{}, fmt.Errorf("RPC_URL is required for custom cluster %q", cfg.Cluster)
		}
		cfg.RPCURL = endpoint
	}

	if v := os.Getenv("PROGRAM_ID"); v != "" {
		id, err := solana.PublicKeyFromBase58(v)
		if err != nil {
			return Config{}, fmt.Errorf("PROGRAM_ID: %w", err)
		}
		cfg.ProgramID = id
	}

	switch cfg.Commitment {
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
	default:
		return Config{}, fmt.Errorf("COMMITMENT: unsupported level %q", cfg.Commitment)
	}

	var err error
	if cfg.ConfirmTimeout, err = getenvDuration("CONFIRM_TIMEOUT", 60*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.RefreshInterval, err = getenvDuration("REFRESH_INTERVAL", 10*time.Second); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("RPC_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil || rps < 0 {
			return Config{}, fmt.Errorf("RPC_RPS: invalid value %q", v)
		}
		cfg.RPCRPS = rps
	}

	if dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL")); dbURL != "" {
		if dialect, dsn, err := parseDatabaseURL(dbURL); err == nil {
			cfg.DBDialect = dialect
			cfg.DBDsn = dsn
		} else {
			fmt.Fprintf(os.Stderr, "warning: invalid DATABASE_URL, disabling persistence: %v\n", err)
		}
	}

	return cfg, nil
}

func (c Config) String() string {
	return fmt.Sprintf("cluster=%s rpc=%s program=%s db=%s", c.Cluster, c.RPCURL, c.ProgramID, c.DBDialect)
}

// DebugString returns a human-friendly configuration string with masked secrets.
func (c Config) DebugString() string {
	return fmt.Sprintf(
		"cluster=%s rpc=%s program=%s keypair=%s commitment=%s confirm_timeout=%s rps=%g refresh=%s metrics=%s db=%s dsn=%s",
		c.Cluster,
		c.RPCURL,
		c.ProgramID,
		c.KeypairPath,
		c.Commitment,
		c.ConfirmTimeout,
		c.RPCRPS,
		c.RefreshInterval,
		c.MetricsAddr,
		c.DBDialect,
		maskDSN(c.DBDialect, c.DBDsn),
	)
}

func maskDSN(dialect, dsn string) string {
	switch strings.ToLower(dialect) {
	case DatabaseSchemePostgres:
		if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
			if u.User != nil {
				username := u.User.Username()
				u.User = url.User(username)
			}
			return u.String()
		}
		// Fallback for DSN as key-value list
		parts := strings.Fields(dsn)
		for i, p := range parts {
			lower := strings.ToLower(p)
			if strings.HasPrefix(lower, "password=") {
				parts[i] = "password=***"
			}
		}
		return strings.Join(parts, " ")
	default:
		return dsn
	}
}
