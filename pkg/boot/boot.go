// Package boot provides shared service bootstrap helpers for configuration,
// logging, Vault and NATS.
package boot

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"
	"go.uber.org/zap"
)

const defaultMaxBodyBytes = 1 << 20

// Config holds bootstrap configuration read from environment variables.
type Config struct {
	Service         string
	Environment     string
	VaultAddr       string
	VaultToken      string
	NATSUrl         string
	VaultNKEYPath   string
	VaultTLSPath    string
	VaultDBPath     string
	NATSRequireMTLS bool

	HTTPAddr      string
	MetricsAddr   string
	MaxBodyBytes  int64
	RulesPath     string
	DatabaseURL   string
	DefaultSource string
}

// TLSMaterial holds PEM-encoded TLS certificate material fetched from Vault.
type TLSMaterial struct {
	Cert []byte
	Key  []byte
	CA   []byte
}

// vaultReader abstracts Vault read operations for testing.
type vaultReader interface {
	Read(path string) (*vault.Secret, error)
}

// LoadConfig reads bootstrap configuration from environment variables.
func LoadConfig(service string) (Config, error) {
	requireMTLS, _ := strconv.ParseBool(os.Getenv("NATS_REQUIRE_MTLS"))
	cfg := Config{
		Service:         service,
		Environment:     os.Getenv("ENVIRONMENT"),
		VaultAddr:       envOrDefault("VAULT_ADDR", "http://127.0.0.1:8201"),
		VaultToken:      os.Getenv("VAULT_TOKEN"),
		NATSUrl:         envOrDefault("NATS_URL", "tls://localhost:4222"),
		VaultNKEYPath:   envOrDefault("VAULT_NKEY_PATH", "secret/data/ruby-core/nats/"+service),
		VaultTLSPath:    envOrDefault("VAULT_TLS_PATH", "secret/data/ruby-core/tls/"+service),
		VaultDBPath:     os.Getenv("VAULT_DB_PATH"),
		NATSRequireMTLS: requireMTLS,
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		MetricsAddr:     envOrDefault("METRICS_ADDR", ":9090"),
		MaxBodyBytes:    defaultMaxBodyBytes,
		RulesPath:       os.Getenv("RULES_PATH"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		DefaultSource:   envOrDefault("DEFAULT_SOURCE", strings.ReplaceAll(service, "-", "_")),
	}

	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("MAX_BODY_BYTES must be a positive integer, got %q", v)
		}
		cfg.MaxBodyBytes = n
	}

	// Reject plaintext Vault in production (ADR-0015)
	if cfg.Environment == "production" && strings.HasPrefix(cfg.VaultAddr, "http://") {
		return Config{}, fmt.Errorf("VAULT_ADDR uses plaintext HTTP (%s); HTTPS required in production", cfg.VaultAddr)
	}

	return cfg, nil
}

// NewLogger builds the service logger: JSON in every environment except
// development, which gets the console encoder.
func NewLogger(service, environment string) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Named(service), nil
}

// Vault reads service secrets from Vault KV v2, retrying transient failures.
type Vault struct {
	reader vaultReader
	logger *zap.Logger
}

// NewVault creates a configured Vault client.
func NewVault(addr, token string, logger *zap.Logger) (*Vault, error) {
	client, err := newVaultClient(addr, token)
	if err != nil {
		return nil, err
	}
	return &Vault{reader: client.Logical(), logger: logger}, nil
}

// newVaultClient creates a configured Vault client.
func newVaultClient(addr, token string) (*vault.Client, error) {
	if token == "" {
		return nil, fmt.Errorf("VAULT_TOKEN is not set")
	}

	cfg := vault.DefaultConfig()
	cfg.Address = addr

	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	client.SetToken(token)
	return client, nil
}

// NATSSeed retrieves the NATS NKEY seed.
func (v *Vault) NATSSeed(path string) (string, error) {
	var seed string
	err := withRetry(v.logger, func() error {
		var fetchErr error
		seed, fetchErr = fetchSeed(v.reader, path)
		return fetchErr
	})
	return seed, err
}

// NATSTLS retrieves TLS client certificate material.
func (v *Vault) NATSTLS(path string) (*TLSMaterial, error) {
	var mat *TLSMaterial
	err := withRetry(v.logger, func() error {
		var fetchErr error
		mat, fetchErr = fetchTLS(v.reader, path)
		return fetchErr
	})
	return mat, err
}

// DatabaseURL retrieves the journal connection string stored under "url".
func (v *Vault) DatabaseURL(path string) (string, error) {
	var url string
	err := withRetry(v.logger, func() error {
		fields, fetchErr := fetchFields(v.reader, path, "url")
		if fetchErr != nil {
			return fetchErr
		}
		url = fields["url"]
		return nil
	})
	return url, err
}

// fetchSeed reads and parses the NKEY seed from a Vault KV v2 path.
func fetchSeed(r vaultReader, path string) (string, error) {
	fields, err := fetchFields(r, path, "seed")
	if err != nil {
		return "", err
	}
	return fields["seed"], nil
}

// fetchTLS reads and parses TLS certificate material from a Vault KV v2 path.
func fetchTLS(r vaultReader, path string) (*TLSMaterial, error) {
	fields, err := fetchFields(r, path, "cert", "key", "ca")
	if err != nil {
		return nil, err
	}
	return &TLSMaterial{
		Cert: []byte(fields["cert"]),
		Key:  []byte(fields["key"]),
		CA:   []byte(fields["ca"]),
	}, nil
}

// fetchFields reads a KV v2 secret and returns the named string fields, all of
// which must be present and non-empty.
func fetchFields(r vaultReader, path string, keys ...string) (map[string]string, error) {
	secret, err := r.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no data at %s", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected data format at %s", path)
	}

	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v, ok := data[k].(string)
		if !ok || v == "" {
			return nil, fmt.Errorf("missing %s in %s", k, path)
		}
		out[k] = v
	}
	return out, nil
}

// ConnectNATS establishes a NATS connection using NKEY auth and mTLS.
func ConnectNATS(cfg Config, name, seed string, tlsMat *TLSMaterial, logger *zap.Logger) (*nats.Conn, error) {
	kp, err := nkeys.FromSeed([]byte(seed))
	if err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}

	pub, err := kp.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}

	opts := []nats.Option{
		nats.Nkey(pub, func(nonce []byte) ([]byte, error) {
			return kp.Sign(nonce)
		}),
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrlRedacted()))
		}),
	}

	useTLS := strings.HasPrefix(cfg.NATSUrl, "tls://") || cfg.NATSRequireMTLS
	if useTLS {
		if tlsMat == nil {
			return nil, fmt.Errorf("TLS material is required for mTLS connection")
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(tlsMat.CA) {
			return nil, fmt.Errorf("failed to parse CA certificate from Vault")
		}

		clientCert, err := tls.X509KeyPair(tlsMat.Cert, tlsMat.Key)
		if err != nil {
			return nil, fmt.Errorf("parse client certificate from Vault: %w", err)
		}

		tlsCfg := &tls.Config{
			RootCAs:      pool,
			Certificates: []tls.Certificate{clientCert},
			MinVersion:   tls.VersionTLS13,
		}
		opts = append(opts, nats.Secure(tlsCfg))
	}

	nc, err := nats.Connect(cfg.NATSUrl, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return nc, nil
}

// retryDelays is the backoff between attempts of withRetry.
var retryDelays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// withRetry retries fn once per entry of retryDelays.
func withRetry(logger *zap.Logger, fn func() error) error {
	var err error
	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if i < len(retryDelays) {
			logger.Warn("vault: retrying after error",
				zap.Int("attempt", i+1),
				zap.Int("max", len(retryDelays)),
				zap.Error(err))
			time.Sleep(retryDelays[i])
		}
	}
	return err
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
