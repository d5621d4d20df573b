package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v2"
)

// ProductTarget maps a storefront product id to the entitlement it carries.
// Used by the catalog fetch (which ids to request) and by reconciliation
// (tier/plan for a status record).
type ProductTarget struct {
	Kind     string   `yaml:"kind"` // subscription | consumable | nonconsumable
	Tier     string   `yaml:"tier,omitempty"`
	PlanID   string   `yaml:"plan_id,omitempty"`
	Coins    int      `yaml:"coins,omitempty"`
	Contents []string `yaml:"contents,omitempty"`
}

type Config struct {
	Server struct {
		Address string `yaml:"address"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver"` // mysql (default) or pgx
		URL    string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Bridge struct {
		BaseURL string `yaml:"base_url"`
		WSURL   string `yaml:"ws_url"`
		// Embedded bridges are available by invocability: the availability
		// prober never marks them unreachable.
		Embedded bool `yaml:"embedded"`
	} `yaml:"bridge"`
	Authority struct {
		BaseURL    string `yaml:"base_url"`
		SigningKey string `yaml:"signing_key"`
		UserID     string `yaml:"user_id"`
	} `yaml:"authority"`
	Products map[string]ProductTarget `yaml:"products"`
	Push     struct {
		CredentialsFile string `yaml:"credentials_file"`
		DeviceToken     string `yaml:"device_token"`
	} `yaml:"push"`
	Archive struct {
		Bucket    string `yaml:"bucket"`
		Region    string `yaml:"region"`
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
	} `yaml:"archive"`
}

func LoadConfig() Config {
	var cfg Config

	path := os.Getenv("PURSER_CONFIG")
	if path == "" {
		path = "config/config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read config file: %v", err)
	}

	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		log.Fatalf("Failed to unmarshal config data: %v", err)
	}
	return cfg
}

// ProductIDs returns the catalog ids to request from the storefront.
func (c Config) ProductIDs() []string {
	ids := make([]string, 0, len(c.Products))
	for id := range c.Products {
		ids = append(ids, id)
	}
	return ids
}
