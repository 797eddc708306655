package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the application configuration structure.
type Config struct {
	Server       ServerConfig             `yaml:"server"`
	Database     DatabaseConfig           `yaml:"database"`
	NATS         NATSConfig               `yaml:"nats"`
	Indexer      IndexerConfig            `yaml:"indexer"`
	Prover       ProverConfig             `yaml:"prover"`
	AllowList    AllowListConfig          `yaml:"allow_list"`
	JWT          JWTConfig                `yaml:"jwt"`
	Admin        AdminConfig              `yaml:"admin"`
	CORS         CORSConfig               `yaml:"cors"`
	Orchestrator OrchestratorConfig       `yaml:"orchestrator"`
	Networks     map[string]NetworkConfig `yaml:"networks"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig database configuration
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// NATSConfig NATS message server configuration
type NATSConfig struct {
	URL             string `yaml:"url"`
	Timeout         int    `yaml:"timeout"`
	ReconnectWait   int    `yaml:"reconnect_wait"`
	MaxReconnects   int    `yaml:"max_reconnects"`
	EnableJetStream bool   `yaml:"enable_jetstream"`
}

// IndexerConfig pool event indexer configuration
type IndexerConfig struct {
	BaseURL string `yaml:"baseUrl"`
	Timeout int    `yaml:"timeout"` // seconds
}

// ProverConfig proof service configuration
type ProverConfig struct {
	BaseURL string `yaml:"baseUrl"`
	Timeout int    `yaml:"timeout"` // seconds; proof generation is slow
}

// AllowListConfig association-set provider configuration
type AllowListConfig struct {
	BaseURL string `yaml:"base_url"`
}

// JWTConfig token signing configuration
type JWTConfig struct {
	Secret      string `yaml:"secret"`
	ExpiryHours int    `yaml:"expiryHours"`
}

// AdminConfig admin API access control configuration
type AdminConfig struct {
	AllowedIPs []string `yaml:"allowedIPs"` // IP addresses or CIDR ranges
	TOTPSecret string   `yaml:"totpSecret"`
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"` // seconds
}

// OrchestratorConfig transaction orchestrator tuning
type OrchestratorConfig struct {
	ReestimateSeconds int `yaml:"reestimateSeconds"` // 0 means the 30s default
}

// NetworkConfig per-network deployment configuration
type NetworkConfig struct {
	ChainID            uint64   `yaml:"chainId"`
	Name               string   `yaml:"name"`
	RPCEndpoints       []string `yaml:"rpcEndpoints"`
	PoolContract       string   `yaml:"poolContract"`
	EntrypointContract string   `yaml:"entrypointContract"`
	PaymasterContract  string   `yaml:"paymasterContract"` // empty means operations pay their own gas
	PaymasterData      string   `yaml:"paymasterData"`     // hex-encoded sponsorship payload
	Enabled            bool     `yaml:"enabled"`
}

var AppConfig *Config

// LoadConfig loads the configuration file, preferring config.local.yaml when
// present, then applies environment overrides.
func LoadConfig(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
			log.Printf("🔧 Using local configuration file: config.local.yaml")
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	fmt.Printf("✅ [%s] Loading configuration from: %s\n", time.Now().Format("2006-01-02 15:04:05"), configPath)

	overrideFromEnv(&config)

	fmt.Printf("📋 [Config] Prover: BaseURL=%s, Timeout=%d\n", config.Prover.BaseURL, config.Prover.Timeout)
	fmt.Printf("📋 [Config] Indexer: BaseURL=%s, Timeout=%d\n", config.Indexer.BaseURL, config.Indexer.Timeout)

	if len(config.Admin.AllowedIPs) > 0 {
		fmt.Printf("📋 [Config] Admin IP whitelist loaded: %d IPs/CIDRs configured\n", len(config.Admin.AllowedIPs))
	} else {
		fmt.Printf("📋 [Config] Admin IP whitelist: not configured (localhost-only mode)\n")
	}

	if len(config.CORS.AllowedOrigins) > 0 {
		fmt.Printf("📋 [Config] CORS allowed origins loaded: %d origins configured\n", len(config.CORS.AllowedOrigins))
	} else {
		fmt.Printf("📋 [Config] CORS: not configured (will allow all origins *)\n")
	}

	AppConfig = &config
	return nil
}

// overrideFromEnv applies environment variable overrides on top of the file.
func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}
	if natsTimeout := os.Getenv("NATS_TIMEOUT"); natsTimeout != "" {
		if t, err := strconv.Atoi(natsTimeout); err == nil {
			config.NATS.Timeout = t
		}
	}

	if indexerURL := os.Getenv("INDEXER_BASE_URL"); indexerURL != "" {
		config.Indexer.BaseURL = indexerURL
	}
	if proverURL := os.Getenv("PROVER_BASE_URL"); proverURL != "" {
		config.Prover.BaseURL = proverURL
	}
	if allowListURL := os.Getenv("ALLOWLIST_BASE_URL"); allowListURL != "" {
		config.AllowList.BaseURL = allowListURL
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		config.JWT.Secret = jwtSecret
	}
	if totpSecret := os.Getenv("ADMIN_TOTP_SECRET"); totpSecret != "" {
		config.Admin.TOTPSecret = totpSecret
	}

	if reestimate := os.Getenv("ORCHESTRATOR_REESTIMATE_SECONDS"); reestimate != "" {
		if s, err := strconv.Atoi(reestimate); err == nil {
			config.Orchestrator.ReestimateSeconds = s
		}
	}

	for networkName, networkConfig := range config.Networks {
		envRPC := fmt.Sprintf("%s_RPC_ENDPOINTS", strings.ToUpper(networkName))
		if rpcEndpoints := os.Getenv(envRPC); rpcEndpoints != "" {
			networkConfig.RPCEndpoints = strings.Split(rpcEndpoints, ",")
		}

		envPool := fmt.Sprintf("%s_POOL_CONTRACT", strings.ToUpper(networkName))
		if pool := os.Getenv(envPool); pool != "" {
			networkConfig.PoolContract = pool
		}

		envPaymaster := fmt.Sprintf("%s_PAYMASTER_CONTRACT", strings.ToUpper(networkName))
		if paymaster := os.Getenv(envPaymaster); paymaster != "" {
			networkConfig.PaymasterContract = paymaster
		}

		config.Networks[networkName] = networkConfig
	}

	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		origins := strings.Split(corsOrigins, ",")
		config.CORS.AllowedOrigins = make([]string, 0, len(origins))
		for _, origin := range origins {
			trimmed := strings.TrimSpace(origin)
			if trimmed != "" {
				config.CORS.AllowedOrigins = append(config.CORS.AllowedOrigins, trimmed)
			}
		}
	}
}

// GetNetworkConfig returns one enabled network's configuration by name.
func GetNetworkConfig(networkName string) (*NetworkConfig, error) {
	if AppConfig == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	network, exists := AppConfig.Networks[networkName]
	if !exists {
		return nil, fmt.Errorf("network %s not found in config", networkName)
	}
	if !network.Enabled {
		return nil, fmt.Errorf("network %s is disabled", networkName)
	}
	return &network, nil
}

// GetNetworkConfigByChainID returns one enabled network's configuration by
// chain id.
func GetNetworkConfigByChainID(chainID uint64) (*NetworkConfig, error) {
	if AppConfig == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	for _, network := range AppConfig.Networks {
		if network.ChainID == chainID && network.Enabled {
			return &network, nil
		}
	}
	return nil, fmt.Errorf("network with chainID %d not found or disabled", chainID)
}

// GetIndexerURL returns the indexer service URL.
func GetIndexerURL() string {
	if AppConfig == nil {
		return "http://localhost:18080"
	}
	if AppConfig.Indexer.BaseURL != "" {
		return AppConfig.Indexer.BaseURL
	}
	if indexerURL := os.Getenv("INDEXER_BASE_URL"); indexerURL != "" {
		return indexerURL
	}
	if os.Getenv("GIN_MODE") == "release" {
		return "http://pool-indexer:18080"
	}
	return "http://localhost:18080"
}

// GetProverURL returns the prover service URL.
func GetProverURL() string {
	if AppConfig == nil {
		return "http://localhost:18081"
	}
	if AppConfig.Prover.BaseURL != "" {
		return AppConfig.Prover.BaseURL
	}
	if proverURL := os.Getenv("PROVER_BASE_URL"); proverURL != "" {
		return proverURL
	}
	if os.Getenv("GIN_MODE") == "release" {
		return "http://pool-prover:18081"
	}
	return "http://localhost:18081"
}

// GetAllowListURL returns the association-set provider URL.
func GetAllowListURL() string {
	if AppConfig == nil {
		return "http://localhost:8090"
	}
	if AppConfig.AllowList.BaseURL != "" {
		return AppConfig.AllowList.BaseURL
	}
	if allowListURL := os.Getenv("ALLOWLIST_BASE_URL"); allowListURL != "" {
		return allowListURL
	}
	return "http://localhost:8090"
}
