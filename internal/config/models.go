package config

import "time"

// AnalysisConfig represents the analyzer settings
type AnalysisConfig struct {
	Timeout            time.Duration
	MaxDomains         int
	NewDomainDays      int
	SuspiciousTLDs     []string
	Shorteners         []string
	FlaggedRegistrars  []string
	FlaggedCountries   []string
	ProxyNameservers   []string
	PhishingPhrases    []string
	UrgencyPhrases     []string
	WhitelistedDomains []string
}

// LookupConfig represents the WHOIS/RDAP and DNS lookup settings
type LookupConfig struct {
	TTL             time.Duration
	Timeout         time.Duration
	CleanupInterval time.Duration
	RDAPEndpoint    string
	WhoisServers    map[string]string
	DNSServers      []string
}

// RedisConfig represents a Redis connection
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// CacheConfig represents the persistent lookup cache tier
type CacheConfig struct {
	Type             string
	CleanupFrequency time.Duration
	SQLitePath       string
	MySQLDSN         string
	Redis            RedisConfig
	RedisPrefix      string
}

// StoreConfig represents the record store
type StoreConfig struct {
	Type        string
	SQLitePath  string
	PostgresDSN string
}

// SMTPConfig represents the outbound relay used for abuse reports
type SMTPConfig struct {
	Host      string
	Port      int
	TLSMode   string
	TLSVerify bool
	Username  string
	Password  string
	Timeout   time.Duration
	HeloName  string
}

// RetryConfig represents the delivery retry policy
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// ReportConfig represents abuse report settings
type ReportConfig struct {
	From            string
	DefaultLanguage string
	TemplatesFile   string
	ExcerptSize     int
	SummaryTimeout  time.Duration
	Retry           RetryConfig
	CloudAbuse      map[string]string
	CERTContacts    map[string]string
}

// ForwardConfig represents the next hop for accepted messages
type ForwardConfig struct {
	Enabled bool
	Host    string
	Port    int
}

// IntakeConfig represents the inbound SMTP content filter
type IntakeConfig struct {
	ListenAddress   string
	Domain          string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	MaxRecipients   int
	MaxBodyBytes    int
	VerifyDKIM      bool
	DKIMTimeout     time.Duration
	Owner           string
	Forward         ForwardConfig
}

// WorkerConfig represents the processing pool
type WorkerConfig struct {
	Count           int
	QueueSize       int
	ShutdownTimeout time.Duration
}

// APIConfig represents the admin HTTP API
type APIConfig struct {
	Enabled         bool
	ListenAddress   string
	APIKey          string
	ShutdownTimeout time.Duration
}

// EventsConfig represents event publishing
type EventsConfig struct {
	Log          bool
	RedisEnabled bool
	Redis        RedisConfig
	Queue        string
	MaxLen       int64
}

// RulesConfig represents rule seeding
type RulesConfig struct {
	SeedFile string
}

// LLMConfig represents the configuration for the LLM provider
type LLMConfig struct {
	Provider string
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// OpenAIConfig represents the configuration for OpenAI or a compatible endpoint
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GetAnalysis returns the analysis configuration
func (c *Config) GetAnalysis() AnalysisConfig {
	return AnalysisConfig{
		Timeout:            c.duration("analysis.timeout", 10*time.Second),
		MaxDomains:         c.GetInt("analysis.max_domains"),
		NewDomainDays:      c.GetInt("analysis.new_domain_days"),
		SuspiciousTLDs:     c.GetStringSlice("analysis.suspicious_tlds"),
		Shorteners:         c.GetStringSlice("analysis.shorteners"),
		FlaggedRegistrars:  c.GetStringSlice("analysis.flagged_registrars"),
		FlaggedCountries:   c.GetStringSlice("analysis.flagged_countries"),
		ProxyNameservers:   c.GetStringSlice("analysis.proxy_nameservers"),
		PhishingPhrases:    c.GetStringSlice("analysis.phishing_phrases"),
		UrgencyPhrases:     c.GetStringSlice("analysis.urgency_phrases"),
		WhitelistedDomains: c.GetStringSlice("analysis.whitelisted_domains"),
	}
}

// GetLookup returns the lookup configuration
func (c *Config) GetLookup() LookupConfig {
	return LookupConfig{
		TTL:             c.duration("lookup.ttl", 24*time.Hour),
		Timeout:         c.duration("lookup.timeout", 5*time.Second),
		CleanupInterval: c.duration("lookup.cleanup_interval", 10*time.Minute),
		RDAPEndpoint:    c.GetString("lookup.rdap_endpoint"),
		WhoisServers:    c.GetStringMapString("lookup.whois_servers"),
		DNSServers:      c.GetStringSlice("lookup.dns_servers"),
	}
}

// GetCache returns the cache configuration
func (c *Config) GetCache() CacheConfig {
	return CacheConfig{
		Type:             c.GetString("cache.type"),
		CleanupFrequency: c.duration("cache.cleanup_frequency", time.Hour),
		SQLitePath:       c.GetString("cache.sqlite_path"),
		MySQLDSN:         c.GetString("cache.mysql_dsn"),
		Redis: RedisConfig{
			Address:  c.GetString("cache.redis.address"),
			Password: c.GetString("cache.redis.password"),
			DB:       c.GetInt("cache.redis.db"),
		},
		RedisPrefix: c.GetString("cache.redis.prefix"),
	}
}

// GetStore returns the record store configuration
func (c *Config) GetStore() StoreConfig {
	return StoreConfig{
		Type:        c.GetString("store.type"),
		SQLitePath:  c.GetString("store.sqlite_path"),
		PostgresDSN: c.GetString("store.postgres_dsn"),
	}
}

// GetSMTP returns the outbound relay configuration
func (c *Config) GetSMTP() SMTPConfig {
	return SMTPConfig{
		Host:      c.GetString("smtp.host"),
		Port:      c.GetInt("smtp.port"),
		TLSMode:   c.GetString("smtp.tls_mode"),
		TLSVerify: c.GetBool("smtp.tls_verify"),
		Username:  c.GetString("smtp.username"),
		Password:  c.GetString("smtp.password"),
		Timeout:   c.duration("smtp.timeout", 30*time.Second),
		HeloName:  c.GetString("smtp.helo_name"),
	}
}

// GetReport returns the abuse report configuration
func (c *Config) GetReport() ReportConfig {
	return ReportConfig{
		From:            c.GetString("report.from"),
		DefaultLanguage: c.GetString("report.default_language"),
		TemplatesFile:   c.GetString("report.templates_file"),
		ExcerptSize:     c.GetInt("report.excerpt_size"),
		SummaryTimeout:  c.duration("report.summary_timeout", 15*time.Second),
		Retry: RetryConfig{
			MaxAttempts: c.GetInt("report.retry.max_attempts"),
			BaseDelay:   c.duration("report.retry.base_delay", time.Second),
			Multiplier:  c.GetFloat64("report.retry.multiplier"),
		},
		CloudAbuse:   c.GetStringMapString("report.cloud_abuse"),
		CERTContacts: c.GetStringMapString("report.cert_contacts"),
	}
}

// GetIntake returns the inbound SMTP configuration
func (c *Config) GetIntake() IntakeConfig {
	return IntakeConfig{
		ListenAddress:   c.GetString("intake.listen_address"),
		Domain:          c.GetString("intake.domain"),
		ReadTimeout:     c.duration("intake.read_timeout", time.Minute),
		WriteTimeout:    c.duration("intake.write_timeout", time.Minute),
		MaxMessageBytes: c.GetInt64("intake.max_message_bytes"),
		MaxRecipients:   c.GetInt("intake.max_recipients"),
		MaxBodyBytes:    c.GetInt("intake.max_body_bytes"),
		VerifyDKIM:      c.GetBool("intake.verify_dkim"),
		DKIMTimeout:     c.duration("intake.dkim_timeout", 5*time.Second),
		Owner:           c.GetString("intake.owner"),
		Forward: ForwardConfig{
			Enabled: c.GetBool("intake.forward.enabled"),
			Host:    c.GetString("intake.forward.host"),
			Port:    c.GetInt("intake.forward.port"),
		},
	}
}

// GetWorker returns the worker pool configuration
func (c *Config) GetWorker() WorkerConfig {
	return WorkerConfig{
		Count:           c.GetInt("worker.count"),
		QueueSize:       c.GetInt("worker.queue_size"),
		ShutdownTimeout: c.duration("worker.shutdown_timeout", 30*time.Second),
	}
}

// GetAPI returns the admin API configuration
func (c *Config) GetAPI() APIConfig {
	return APIConfig{
		Enabled:         c.GetBool("api.enabled"),
		ListenAddress:   c.GetString("api.listen_address"),
		APIKey:          c.GetString("api.api_key"),
		ShutdownTimeout: c.duration("api.shutdown_timeout", 10*time.Second),
	}
}

// GetEvents returns the event publishing configuration
func (c *Config) GetEvents() EventsConfig {
	return EventsConfig{
		Log:          c.GetBool("events.log"),
		RedisEnabled: c.GetBool("events.redis.enabled"),
		Redis: RedisConfig{
			Address:  c.GetString("events.redis.address"),
			Password: c.GetString("events.redis.password"),
			DB:       c.GetInt("events.redis.db"),
		},
		Queue:  c.GetString("events.redis.queue"),
		MaxLen: c.GetInt64("events.redis.max_len"),
	}
}

// GetRules returns the rule seeding configuration
func (c *Config) GetRules() RulesConfig {
	return RulesConfig{
		SeedFile: c.GetString("rules.seed_file"),
	}
}

// GetLLM returns the LLM configuration
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		Provider: c.GetString("llm.provider"),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
		MaxBodySize: c.GetInt("bedrock.max_body_size"),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
		MaxBodySize: c.GetInt("gemini.max_body_size"),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		BaseURL:     c.GetString("openai.base_url"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
		MaxBodySize: c.GetInt("openai.max_body_size"),
	}
}
