/*
Copyright 2024 Railcore Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5002"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"RAILCORE_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"RAILCORE_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"RAILCORE_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"RAILCORE_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"RAILCORE_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"RAILCORE_REDIS_SKIP_TLS_VERIFY"`
}

type QueueConfig struct {
	SettlementQueue     string `json:"settlement_queue" envconfig:"RAILCORE_QUEUE_SETTLEMENT"`
	WebhookQueue        string `json:"webhook_queue" envconfig:"RAILCORE_QUEUE_WEBHOOK"`
	ProbeQueue          string `json:"probe_queue" envconfig:"RAILCORE_QUEUE_PROBE"`
	SlaQueue            string `json:"sla_queue" envconfig:"RAILCORE_QUEUE_SLA"`
	ReconciliationQueue string `json:"reconciliation_queue" envconfig:"RAILCORE_QUEUE_RECONCILIATION"`
	NumberOfQueues      int    `json:"number_of_queues" envconfig:"RAILCORE_NUMBER_OF_QUEUES"`
	MonitoringPort      string `json:"monitoring_port" envconfig:"RAILCORE_QUEUE_MONITORING_PORT"`
}

// RailConfig declares one external money-movement network.
type RailConfig struct {
	Name         string   `json:"name"`
	Endpoint     string   `json:"endpoint"`
	Ceiling      int64    `json:"ceiling"`
	CostClass    string   `json:"cost_class"`
	Urgency      string   `json:"urgency"`
	Capabilities []string `json:"capabilities"`
	TimeoutMs    int      `json:"timeout_ms"`
}

// BreakerConfig governs the per-rail circuit breaker.
type BreakerConfig struct {
	FailureThreshold int64 `json:"failure_threshold" envconfig:"RAILCORE_BREAKER_FAILURE_THRESHOLD"`
	FailureWindowSec int   `json:"failure_window_sec" envconfig:"RAILCORE_BREAKER_FAILURE_WINDOW_SEC"`
	CooldownSec      int   `json:"cooldown_sec" envconfig:"RAILCORE_BREAKER_COOLDOWN_SEC"`
	MaxCooldownSec   int   `json:"max_cooldown_sec" envconfig:"RAILCORE_BREAKER_MAX_COOLDOWN_SEC"`
	ProbeIntervalSec int   `json:"probe_interval_sec" envconfig:"RAILCORE_BREAKER_PROBE_INTERVAL_SEC"`
}

// SettlementConfig bounds the retry schedule and maps priority tiers to
// ordered rail preference lists.
type SettlementConfig struct {
	MaxRetryCycles  int                 `json:"max_retry_cycles" envconfig:"RAILCORE_SETTLEMENT_MAX_RETRY_CYCLES"`
	RetryBackoffSec int                 `json:"retry_backoff_sec" envconfig:"RAILCORE_SETTLEMENT_RETRY_BACKOFF_SEC"`
	TierPreferences map[string][]string `json:"tier_preferences"`
}

type SlaConfig struct {
	SweepIntervalSec int     `json:"sweep_interval_sec" envconfig:"RAILCORE_SLA_SWEEP_INTERVAL_SEC"`
	WarningFraction  float64 `json:"warning_fraction" envconfig:"RAILCORE_SLA_WARNING_FRACTION"`
}

type LedgerServiceConfig struct {
	Url       string `json:"url" envconfig:"RAILCORE_LEDGER_URL"`
	TimeoutMs int    `json:"timeout_ms" envconfig:"RAILCORE_LEDGER_TIMEOUT_MS"`
}

// AuthorizationConfig holds the decision-engine knobs: the decision TTL, the
// per-request time budget, velocity period ceilings and category lists.
type AuthorizationConfig struct {
	DecisionTTLHours  int      `json:"decision_ttl_hours" envconfig:"RAILCORE_DECISION_TTL_HOURS"`
	TimeoutMs         int      `json:"timeout_ms" envconfig:"RAILCORE_AUTHORIZATION_TIMEOUT_MS"`
	VelocityPeriods   []Period `json:"velocity_periods"`
	BlockedCategories []string `json:"blocked_categories"`
	AllowedCategories []string `json:"allowed_categories"`
	HomeGeography     string   `json:"home_geography"`
	FraudAmountFloor  int64    `json:"fraud_amount_floor"`
}

type Period struct {
	Period    string `json:"period"`
	MaxCount  int64  `json:"max_count"`
	MaxAmount int64  `json:"max_amount"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"RAILCORE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"RAILCORE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"RAILCORE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName   string              `json:"project_name" envconfig:"RAILCORE_PROJECT_NAME"`
	Server        ServerConfig        `json:"server"`
	DataSource    DataSourceConfig    `json:"data_source"`
	Redis         RedisConfig         `json:"redis"`
	Queue         QueueConfig         `json:"queue"`
	Rails         []RailConfig        `json:"rails"`
	Breaker       BreakerConfig       `json:"breaker"`
	Settlement    SettlementConfig    `json:"settlement"`
	Sla           SlaConfig           `json:"sla"`
	Ledger        LedgerServiceConfig `json:"ledger"`
	Authorization AuthorizationConfig `json:"authorization"`
	RateLimit     RateLimitConfig     `json:"rate_limit"`
	Notification  Notification        `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer func() {
			_ = f.Close()
		}()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("railcore", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

const configPollInterval = 10 * time.Second

// WatchConfig reloads the configuration when the process receives SIGHUP and
// when the config file's mtime changes, so rail ceilings, SLA targets,
// breaker thresholds and retry bounds can change without a restart. It runs
// until the process exits.
func WatchConfig(configFile string) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := loadConfigFromFile(configFile); err != nil {
				logrus.Errorf("config reload failed: %v", err)
				continue
			}
			logrus.Info("configuration reloaded")
		}
	}()
	go watchConfigFile(configFile)
}

func watchConfigFile(configFile string) {
	var lastMod time.Time
	if info, err := os.Stat(configFile); err == nil {
		lastMod = info.ModTime()
	}
	ticker := time.NewTicker(configPollInterval)
	defer ticker.Stop()
	for range ticker.C {
		lastMod = reloadIfModified(configFile, lastMod)
	}
}

// reloadIfModified reloads the config file when its mtime moved past lastMod
// and returns the mtime the watcher should track next. A failed reload keeps
// the previous configuration and the previous mtime so the next tick retries.
func reloadIfModified(configFile string, lastMod time.Time) time.Time {
	info, err := os.Stat(configFile)
	if err != nil || !info.ModTime().After(lastMod) {
		return lastMod
	}
	if err := loadConfigFromFile(configFile); err != nil {
		logrus.Errorf("config reload failed: %v", err)
		return lastMod
	}
	logrus.Info("configuration reloaded")
	return info.ModTime()
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called railcore.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Railcore Server"
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Queue.SettlementQueue == "" {
		cnf.Queue.SettlementQueue = "new:settlement"
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "new:webhook"
	}
	if cnf.Queue.ProbeQueue == "" {
		cnf.Queue.ProbeQueue = "new:probe"
	}
	if cnf.Queue.SlaQueue == "" {
		cnf.Queue.SlaQueue = "new:sla"
	}
	if cnf.Queue.ReconciliationQueue == "" {
		cnf.Queue.ReconciliationQueue = "new:reconciliation"
	}
	if cnf.Queue.NumberOfQueues <= 0 {
		cnf.Queue.NumberOfQueues = 4
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5004"
	}

	if cnf.Breaker.FailureThreshold <= 0 {
		cnf.Breaker.FailureThreshold = 5
	}
	if cnf.Breaker.FailureWindowSec <= 0 {
		cnf.Breaker.FailureWindowSec = 60
	}
	if cnf.Breaker.CooldownSec <= 0 {
		cnf.Breaker.CooldownSec = 60
	}
	if cnf.Breaker.MaxCooldownSec <= 0 {
		cnf.Breaker.MaxCooldownSec = 960
	}
	if cnf.Breaker.ProbeIntervalSec <= 0 {
		cnf.Breaker.ProbeIntervalSec = 30
	}

	if cnf.Settlement.MaxRetryCycles <= 0 {
		cnf.Settlement.MaxRetryCycles = 3
	}
	if cnf.Settlement.RetryBackoffSec <= 0 {
		cnf.Settlement.RetryBackoffSec = 30
	}
	if len(cnf.Settlement.TierPreferences) == 0 {
		cnf.Settlement.TierPreferences = defaultTierPreferences(cnf.Rails)
	}

	if cnf.Sla.SweepIntervalSec <= 0 {
		cnf.Sla.SweepIntervalSec = 60
	}
	if cnf.Sla.WarningFraction <= 0 || cnf.Sla.WarningFraction >= 1 {
		cnf.Sla.WarningFraction = 0.125
	}

	if cnf.Ledger.TimeoutMs <= 0 {
		cnf.Ledger.TimeoutMs = 800
	}

	if cnf.Authorization.DecisionTTLHours <= 0 {
		cnf.Authorization.DecisionTTLHours = 24
	}
	if cnf.Authorization.TimeoutMs <= 0 {
		cnf.Authorization.TimeoutMs = 2000
	}
	if len(cnf.Authorization.VelocityPeriods) == 0 {
		cnf.Authorization.VelocityPeriods = []Period{
			{Period: "1h", MaxCount: 20, MaxAmount: 500000},
			{Period: "24h", MaxCount: 50, MaxAmount: 2000000},
			{Period: "7d", MaxCount: 200, MaxAmount: 10000000},
			{Period: "30d", MaxCount: 500, MaxAmount: 30000000},
		}
	}

	for i := range cnf.Rails {
		if cnf.Rails[i].TimeoutMs <= 0 {
			cnf.Rails[i].TimeoutMs = 5000
		}
	}

	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	return nil
}

// defaultTierPreferences orders every configured rail fastest-first and gives
// each tier the full list; EMERGENCY and HIGH simply stop considering batch
// rails that cannot meet their deadlines when selection filters by urgency.
func defaultTierPreferences(rails []RailConfig) map[string][]string {
	ordered := make([]string, 0, len(rails))
	for _, urgency := range []string{"instant", "same-day", "standard"} {
		for _, r := range rails {
			if r.Urgency == urgency {
				ordered = append(ordered, r.Name)
			}
		}
	}
	return map[string][]string{
		"EMERGENCY": ordered,
		"HIGH":      ordered,
		"NORMAL":    ordered,
		"BATCH":     ordered,
	}
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	_ = mockConfig.validateAndAddDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
