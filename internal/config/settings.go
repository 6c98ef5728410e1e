package config

import (
	_ "embed"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

type Config struct {
	Cache struct {
		Capacity   int    `json:"capacity"`
		TTLSeconds uint32 `json:"ttl_seconds"`
	} `json:"cache"`

	Tiers struct {
		TrustedTTLDays     int `json:"trusted_ttl_days"`
		ProvisionalTTLDays int `json:"provisional_ttl_days"`
	} `json:"tiers"`

	Sweeper struct {
		ReconcileTimer Timer `json:"reconcile_timer"`
		ExpiryTimer    Timer `json:"expiry_timer"`
	} `json:"sweeper"`

	// Quota maps reputation endpoints to their daily call budgets.
	Quota map[string]int `json:"quota"`

	Reputation struct {
		APIURL         string `json:"api_url"`
		APIKey         string `json:"api_key"`
		Endpoint       string `json:"endpoint"`
		BlockThreshold int    `json:"block_threshold"`
		TrustThreshold int    `json:"trust_threshold"`
	} `json:"reputation"`

	GeoLite struct {
		CountryDBPath string `json:"country_db_path"`
		ASNDBPath     string `json:"asn_db_path"`
	} `json:"geolite"`

	RangeCacheTTLSeconds uint32 `json:"range_cache_ttl_seconds"`
	ReadyTimeoutSeconds  uint32 `json:"ready_timeout_seconds"`
}

type Timer struct {
	Days    uint32 `json:"days"`
	Hours   uint32 `json:"hours"`
	Minutes uint32 `json:"minutes"`
	Seconds uint32 `json:"seconds"`
}

const settingsFilePath = "data/settings.json"

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue atomic.Value
	configMu    sync.Mutex

	InProductionMode bool
)

func init() {
	configValue.Store(Config{})
}

func ReadSettings() {
	data, err := os.ReadFile(settingsFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Settings file not found, creating with default configuration")

			err = os.MkdirAll("data", os.ModePerm)
			if err != nil {
				log.Error("Error creating directory for settings file:", err)
				return
			}

			err = os.WriteFile(settingsFilePath, defaultConfig, os.ModePerm)
			if err != nil {
				log.Error("Error writing default settings file:", err)
				return
			}

			data = defaultConfig
		} else {
			log.Error("Error reading settings file:", err)
			return
		}
	}

	var newConfig Config
	err = json.Unmarshal(data, &newConfig)
	if err != nil {
		log.Error("Error unmarshalling settings file:", err)
		return
	}

	if err := applyConfigUpdate(newConfig, configUpdateOptions{source: "file"}); err != nil {
		log.Error("Error applying configuration from settings file:", err)
		return
	}

	log.Debug("Settings file loaded successfully")
}

func SetConfig(newConfig Config) {
	if err := applyConfigUpdate(newConfig, configUpdateOptions{persistToFile: true, source: "local"}); err != nil {
		log.Error("Error applying configuration update:", err)
		return
	}

	log.Debug("Configuration updated and written to file successfully")
}

type configUpdateOptions struct {
	persistToFile bool
	source        string
}

func applyConfigUpdate(newConfig Config, opts configUpdateOptions) error {
	configMu.Lock()
	defer configMu.Unlock()

	configValue.Store(newConfig)
	SetSweepIntervals()

	if opts.persistToFile {
		data, err := json.MarshalIndent(newConfig, "", "  ")
		if err != nil {
			log.Error("Error marshalling new configuration:", err)
			return err
		}
		if err := os.WriteFile(settingsFilePath, data, os.ModePerm); err != nil {
			log.Error("Error writing new configuration to file:", err)
			return err
		}
	}

	if opts.source != "" {
		log.Debug("Configuration applied", "source", opts.source)
	} else {
		log.Debug("Configuration applied")
	}

	return nil
}

func GetConfig() Config {
	// Get the current Config atomically
	return configValue.Load().(Config)
}

func SetProductionMode(productionMode bool) {
	InProductionMode = productionMode
}
