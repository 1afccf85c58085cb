package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/chain-data-gateway/internal/validation"
	"github.com/chain-data-gateway/internal/x402"
)

type Config struct {
	DatabaseURL   string   `env:"DATABASE_URL,required"`
	Port          int      `env:"PORT,default=8080"`
	LogLevel      string   `env:"LOG_LEVEL,default=info"`
	CORSOrigins   []string `env:"CORS_ORIGINS"`
	PublicBaseURL string   `env:"PUBLIC_BASE_URL,required"`
	RunMigrations bool     `env:"RUN_MIGRATIONS,default=false"`
	MigrationsDir string   `env:"MIGRATIONS_DIR,default=migrations"`

	// Upstream data provider
	UpstreamAPIKey       string        `env:"UPSTREAM_API_KEY,required"`
	UpstreamAPIKeyHeader string        `env:"UPSTREAM_API_KEY_HEADER,default=X-API-Key"`
	UpstreamTimeout      time.Duration `env:"UPSTREAM_TIMEOUT,default=30s"`

	// Pagination and registry
	PageSize                int           `env:"PAGE_SIZE,default=10000"`
	DeepPageThreshold       int           `env:"DEEP_PAGE_THRESHOLD,default=5"`
	RegistryRefreshInterval time.Duration `env:"REGISTRY_REFRESH_INTERVAL,default=5m"`

	// x402
	FacilitatorURL    string `env:"FACILITATOR_URL,required"`
	X402Networks      string `env:"X402_NETWORKS,default=base,solana"`
	X402ResearchPrice string `env:"X402_RESEARCH_PRICE,default=0.01"`
	X402TradingPrice  string `env:"X402_TRADING_PRICE,default=0.05"`
	EVMPayTo          string `env:"EVM_PAY_TO"`
	EVMUSDCAddress    string `env:"EVM_USDC_ADDRESS"`
	EVMUSDCName       string `env:"EVM_USDC_NAME,default=USD Coin"`
	EVMUSDCVersion    string `env:"EVM_USDC_VERSION,default=2"`
	SolanaPayTo       string `env:"SOLANA_PAY_TO"`
	SolanaUSDCMint    string `env:"SOLANA_USDC_MINT"`
	SolanaFeePayer    string `env:"SOLANA_FEE_PAYER"`

	// Wallet login
	RedisURL           string        `env:"REDIS_URL"`
	NonceTTL           time.Duration `env:"NONCE_TTL,default=5m"`
	NonceSweepInterval time.Duration `env:"NONCE_SWEEP_INTERVAL,default=1m"`
	SessionSecret      string        `env:"SESSION_SECRET,required"`
	SessionTTL         time.Duration `env:"SESSION_TTL,default=24h"`

	// Access control
	APIKeyTestMode      bool     `env:"API_KEY_TEST_MODE,default=false"`
	AnonRateLimit       int      `env:"ANON_RATE_LIMIT,default=60"`
	GoogleClientID      string   `env:"GOOGLE_CLIENT_ID"`
	GoogleAllowedDomain string   `env:"GOOGLE_ALLOWED_DOMAIN"`
	GoogleAllowedEmails []string `env:"GOOGLE_ALLOWED_EMAILS"`

	// HTTP server timeouts
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT,default=60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT,default=60s"`
}

func Load() (*Config, error) {
	return load(envconfig.OsLookuper())
}

func load(lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if !strings.HasPrefix(c.PublicBaseURL, "http://") && !strings.HasPrefix(c.PublicBaseURL, "https://") {
		return fmt.Errorf("PUBLIC_BASE_URL must be an http(s) URL, got %q", c.PublicBaseURL)
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive")
	}
	if c.PageSize < 1 {
		return fmt.Errorf("PAGE_SIZE must be at least 1, got %d", c.PageSize)
	}
	if c.DeepPageThreshold < 1 {
		return fmt.Errorf("DEEP_PAGE_THRESHOLD must be at least 1, got %d", c.DeepPageThreshold)
	}
	if len(c.SessionSecret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 bytes")
	}
	if c.NonceTTL <= 0 || c.SessionTTL <= 0 {
		return fmt.Errorf("NONCE_TTL and SESSION_TTL must be positive")
	}
	if c.GoogleClientID != "" && c.GoogleAllowedDomain == "" && len(c.GoogleAllowedEmails) == 0 {
		return fmt.Errorf("GOOGLE_ALLOWED_DOMAIN or GOOGLE_ALLOWED_EMAILS is required when GOOGLE_CLIENT_ID is set")
	}

	if _, err := x402.NewPricing(c.X402ResearchPrice, c.X402TradingPrice); err != nil {
		return fmt.Errorf("X402 prices: %w", err)
	}

	networks, err := x402.ParseNetworks(c.X402Networks)
	if err != nil {
		return fmt.Errorf("X402_NETWORKS: %w", err)
	}
	if len(networks) == 0 {
		return fmt.Errorf("X402_NETWORKS must name at least one network")
	}

	families := make(map[x402.Family]string, len(networks))
	for _, n := range networks {
		family, _ := x402.NetworkFamily(n)
		if prev, dup := families[family]; dup {
			return fmt.Errorf("X402_NETWORKS lists both %q and %q; configure one %s network", prev, n, family)
		}
		families[family] = n
	}

	if _, ok := families[x402.FamilyEVM]; ok {
		if err := validation.EVMAddress(c.EVMPayTo); err != nil {
			return fmt.Errorf("EVM_PAY_TO: %w", err)
		}
		if c.EVMUSDCAddress != "" {
			if err := validation.EVMAddress(c.EVMUSDCAddress); err != nil {
				return fmt.Errorf("EVM_USDC_ADDRESS: %w", err)
			}
		}
	}
	if _, ok := families[x402.FamilySolana]; ok {
		if err := validation.SolanaAddress(c.SolanaPayTo); err != nil {
			return fmt.Errorf("SOLANA_PAY_TO: %w", err)
		}
		if c.SolanaUSDCMint != "" {
			if err := validation.SolanaAddress(c.SolanaUSDCMint); err != nil {
				return fmt.Errorf("SOLANA_USDC_MINT: %w", err)
			}
		}
		if c.SolanaFeePayer != "" {
			if err := validation.SolanaAddress(c.SolanaFeePayer); err != nil {
				return fmt.Errorf("SOLANA_FEE_PAYER: %w", err)
			}
		}
	}

	return nil
}

// Networks returns the configured x402 network ids in order.
func (c *Config) Networks() []string {
	networks, _ := x402.ParseNetworks(c.X402Networks)
	return networks
}

// Rails builds one receiving rail per configured network. Asset addresses
// fall back to the network's canonical USDC.
func (c *Config) Rails() ([]x402.Rail, error) {
	var rails []x402.Rail
	for _, n := range c.Networks() {
		family, _ := x402.NetworkFamily(n)

		var (
			rail x402.Rail
			err  error
		)
		switch family {
		case x402.FamilyEVM:
			rail, err = x402.EVMRail(n, c.EVMPayTo, orDefault(c.EVMUSDCAddress, x402.DefaultUSDC(n)), c.EVMUSDCName, c.EVMUSDCVersion)
		case x402.FamilySolana:
			rail, err = x402.SolanaRail(n, c.SolanaPayTo, orDefault(c.SolanaUSDCMint, x402.DefaultUSDC(n)), c.SolanaFeePayer)
		default:
			err = fmt.Errorf("network %q has no rail builder", n)
		}
		if err != nil {
			return nil, err
		}
		rails = append(rails, rail)
	}
	return rails, nil
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
