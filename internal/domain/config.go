package domain

import "time"

// Config holds the complete momoguard configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Tier determines which backends are used
	Tier Tier `json:"tier" mapstructure:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"eventbus"`

	// Pipeline
	Extractor ExtractorConfig `json:"extractor" mapstructure:"extractor"`
	Matcher   MatcherConfig   `json:"matcher" mapstructure:"matcher"`
	Risk      RiskConfig      `json:"risk" mapstructure:"risk"`
	Verify    VerifyConfig    `json:"verify" mapstructure:"verify"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"readtimeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"writetimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"serviceName" mapstructure:"servicename"`
}

// ExtractorConfig controls the SMS extraction cascade.
type ExtractorConfig struct {
	// Strategies run in order; valid names are pattern, heuristic, fallback.
	Strategies []string `json:"strategies" mapstructure:"strategies"`

	// AcceptConfidence stops the cascade early.
	AcceptConfidence float64 `json:"acceptConfidence" mapstructure:"acceptconfidence"`

	// CountryCode is prepended to local phone numbers.
	CountryCode string `json:"countryCode" mapstructure:"countrycode"`

	// UTCOffsetHours is the zone of timestamps printed in messages.
	UTCOffsetHours int `json:"utcOffsetHours" mapstructure:"utcoffsethours"`
}

// MatcherConfig controls fuzzy claim matching.
type MatcherConfig struct {
	TxIDWeight        float64 `json:"txidWeight" mapstructure:"txidweight"`
	PhoneWeight       float64 `json:"phoneWeight" mapstructure:"phoneweight"`
	AmountWeight      float64 `json:"amountWeight" mapstructure:"amountweight"`
	AcceptThreshold   float64 `json:"acceptThreshold" mapstructure:"acceptthreshold"`
	ParallelThreshold int     `json:"parallelThreshold" mapstructure:"parallelthreshold"`
	MaxWorkers        int     `json:"maxWorkers" mapstructure:"maxworkers"`
}

// RiskConfig holds scorer weights and switches.
// Zero weights disable the optional rules.
type RiskConfig struct {
	TxIDMismatchWeight     float64 `json:"txidMismatchWeight" mapstructure:"txidmismatchweight"`
	PhoneMismatchWeight    float64 `json:"phoneMismatchWeight" mapstructure:"phonemismatchweight"`
	AmountMismatchWeight   float64 `json:"amountMismatchWeight" mapstructure:"amountmismatchweight"`
	SuspiciousTxIDWeight   float64 `json:"suspiciousTxidWeight" mapstructure:"suspicioustxidweight"`
	SuspiciousTimingWeight float64 `json:"suspiciousTimingWeight" mapstructure:"suspicioustimingweight"`
	HighAmountWeight       float64 `json:"highAmountWeight" mapstructure:"highamountweight"`
	SuspiciousNameWeight   float64 `json:"suspiciousNameWeight" mapstructure:"suspiciousnameweight"`
	InvalidPhoneWeight     float64 `json:"invalidPhoneWeight" mapstructure:"invalidphoneweight"`

	AmountTolerance float64 `json:"amountTolerance" mapstructure:"amounttolerance"`
	HighAmountLimit float64 `json:"highAmountLimit" mapstructure:"highamountlimit"`

	RuleBlend     float64 `json:"ruleBlend" mapstructure:"ruleblend"`
	BehaviorBlend float64 `json:"behaviorBlend" mapstructure:"behaviorblend"`
	AnomalyBlend  float64 `json:"anomalyBlend" mapstructure:"anomalyblend"`
	EnableAnomaly bool    `json:"enableAnomaly" mapstructure:"enableanomaly"`

	// CustomRuleWorkers bounds parallel CEL evaluation.
	CustomRuleWorkers int `json:"customRuleWorkers" mapstructure:"customruleworkers"`
}

// VerifyConfig holds pipeline policy outside the pure core.
type VerifyConfig struct {
	FraudThreshold        float64       `json:"fraudThreshold" mapstructure:"fraudthreshold"`
	ManualReviewThreshold float64       `json:"manualReviewThreshold" mapstructure:"manualreviewthreshold"`
	HistoryLimit          int           `json:"historyLimit" mapstructure:"historylimit"`
	HistoryWindow         time.Duration `json:"historyWindow" mapstructure:"historywindow"`
	PoolLimit             int           `json:"poolLimit" mapstructure:"poollimit"`
	DedupeTTL             time.Duration `json:"dedupeTtl" mapstructure:"dedupettl"`
	ForwarderSecret       string        `json:"-" mapstructure:"forwardersecret"`
	EnableTestEndpoints   bool          `json:"enableTestEndpoints" mapstructure:"enabletestendpoints"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./momoguard.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Extractor: ExtractorConfig{
			Strategies:       []string{MethodPattern, MethodHeuristic, MethodFallback},
			AcceptConfidence: 0.8,
			CountryCode:      "250",
			UTCOffsetHours:   2,
		},
		Matcher: MatcherConfig{
			TxIDWeight:        0.6,
			PhoneWeight:       0.3,
			AmountWeight:      0.1,
			AcceptThreshold:   0.7,
			ParallelThreshold: 256,
			MaxWorkers:        8,
		},
		Risk: RiskConfig{
			TxIDMismatchWeight:     0.4,
			PhoneMismatchWeight:    0.3,
			AmountMismatchWeight:   0.5,
			SuspiciousTxIDWeight:   0.3,
			SuspiciousTimingWeight: 0.2,
			AmountTolerance:        1000,
			HighAmountLimit:        500000,
			RuleBlend:              0.7,
			BehaviorBlend:          0.3,
			AnomalyBlend:           0.2,
			CustomRuleWorkers:      10,
		},
		Verify: VerifyConfig{
			FraudThreshold:        0.7,
			ManualReviewThreshold: 0.9,
			HistoryLimit:          50,
			HistoryWindow:         24 * time.Hour,
			PoolLimit:             500,
			DedupeTTL:             24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "momoguard",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "momoguard",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
