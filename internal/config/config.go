// Package config provides runtime configuration management for the proxy:
// account selection tuning, AIMD/circuit/health parameters, scheduler
// cadences, and the custom model-mapping table.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// Version of the proxy.
const Version = "1.0.0"

// DefaultPort is the default HTTP bind port.
const DefaultPort = 8080

// RequestBodyLimit is the max accepted request body size.
const RequestBodyLimit int64 = 100 * 1024 * 1024

// MinSignatureLength is the threshold below which a thought signature is
// treated as cosmetic rather than a real continuation token.
const MinSignatureLength = 50

// Model family / thinking detection.

// ModelFamily is a coarse classification of an upstream model name.
type ModelFamily string

const (
	ModelFamilyOpus    ModelFamily = "opus"
	ModelFamilySonnet  ModelFamily = "sonnet"
	ModelFamilyHaiku   ModelFamily = "haiku"
	ModelFamilyFlash   ModelFamily = "flash"
	ModelFamilyPro     ModelFamily = "pro"
	ModelFamilyUnknown ModelFamily = "unknown"
)

// GetModelFamily infers a model family by substring match, in the fixed
// order opus > sonnet > haiku > flash > pro, matching the upstream's own
// precedence (an "opus"-named flash variant, if it ever existed, would
// still classify as opus).
func GetModelFamily(modelName string) ModelFamily {
	lower := strings.ToLower(modelName)
	switch {
	case strings.Contains(lower, "opus"):
		return ModelFamilyOpus
	case strings.Contains(lower, "sonnet"):
		return ModelFamilySonnet
	case strings.Contains(lower, "haiku"):
		return ModelFamilyHaiku
	case strings.Contains(lower, "flash"):
		return ModelFamilyFlash
	case strings.Contains(lower, "pro"):
		return ModelFamilyPro
	default:
		return ModelFamilyUnknown
	}
}

// IsClaude reports whether the family belongs to the Claude wire surface.
func (f ModelFamily) IsClaude() bool {
	return f == ModelFamilyOpus || f == ModelFamilySonnet || f == ModelFamilyHaiku
}

// IsGemini reports whether the family belongs to the Gemini backend.
func (f ModelFamily) IsGemini() bool {
	return f == ModelFamilyFlash || f == ModelFamilyPro
}

// IsPremium reports whether the family is a top-tier variant.
func (f ModelFamily) IsPremium() bool {
	return f == ModelFamilyOpus || f == ModelFamilyPro
}

var thinkingGeminiVersion = regexp.MustCompile(`gemini-(\d+)`)

// IsThinkingModel reports whether a model name implies chain-of-thought
// ("thinking") output is expected.
func IsThinkingModel(modelName string) bool {
	lower := strings.ToLower(modelName)
	if strings.Contains(lower, "claude") && strings.Contains(lower, "thinking") {
		return true
	}
	if strings.Contains(lower, "gemini") {
		if strings.Contains(lower, "thinking") {
			return true
		}
		if m := thinkingGeminiVersion.FindStringSubmatch(lower); len(m) >= 2 {
			if v, err := strconv.Atoi(m[1]); err == nil && v >= 3 {
				return true
			}
		}
	}
	return false
}

// Thinking-budget overhead constants, exact values from the original
// implementation's thinking_constants.
const (
	ThinkingBudget      = 16000
	ThinkingOverhead    = 32768
	ThinkingMinOverhead = 8192
)

// GeminiMaxOutputTokens bounds the maxOutputTokens sent upstream for Gemini models.
const GeminiMaxOutputTokens = 16384

// GeminiSkipSignature is the sentinel thoughtSignature value accepted by
// the upstream backend in place of a real signature, used when no cached
// signature is available for a tool call being replayed to Gemini.
const GeminiSkipSignature = "skip_thought_signature_validator"

// Image model variants for the gemini-3-pro-image resolution/aspect-ratio cross product.
const ImageModelBase = "gemini-3-pro-image"

var ImageResolutions = []string{"", "-2k", "-4k"}
var ImageAspectRatios = []string{"", "-1x1", "-4x3", "-3x4", "-16x9", "-9x16", "-21x9"}

// Upstream endpoints and request envelope.

const (
	UpstreamEndpointDaily = "https://daily-cloudcode-pa.googleapis.com"
	UpstreamEndpointProd  = "https://cloudcode-pa.googleapis.com"
)

// UpstreamEndpointFallbacks is the endpoint fallback order (daily first,
// since the daily channel provisions newly onboarded projects sooner).
var UpstreamEndpointFallbacks = []string{UpstreamEndpointDaily, UpstreamEndpointProd}

// DefaultProjectID is used when an account carries no project id of its own.
const DefaultProjectID = "rising-fact-p41fc"

// UpstreamHeaders are the fixed headers every upstream call sends,
// independent of account or model.
func UpstreamHeaders() map[string]string {
	return map[string]string{
		"User-Agent":        fmt.Sprintf("gemini-gateway/%s %s/%s", Version, runtime.GOOS, runtime.GOARCH),
		"X-Goog-Api-Client": "google-cloud-sdk vscode_cloudshelleditor/0.1",
		"Client-Metadata":   clientMetadataJSON,
	}
}

var clientMetadataJSON = func() string {
	data, _ := json.Marshal(map[string]string{
		"ideType":    "IDE_UNSPECIFIED",
		"platform":   "PLATFORM_UNSPECIFIED",
		"pluginType": "GEMINI",
	})
	return string(data)
}()

// CapacityBackoffTiersMs is the progressive backoff ladder for
// MODEL_CAPACITY_EXHAUSTED retries within a single account.
var CapacityBackoffTiersMs = []int64{5000, 10000, 20000, 30000, 60000}

// MaxCapacityRetries bounds how many capacity-backoff tiers a single
// upstream attempt will exhaust before giving up on the current account.
const MaxCapacityRetries = 5

// AIMDConfig parameterizes the additive-increase/multiplicative-decrease
// adaptive rate limiter.
type AIMDConfig struct {
	AdditiveIncrease     float64 `json:"additiveIncrease"`
	MultiplicativeDecrease float64 `json:"multiplicativeDecrease"`
	MinLimit             uint64  `json:"minLimit"`
	MaxLimit             uint64  `json:"maxLimit"`
	InitialLimit         uint64  `json:"initialLimit"`
	// BurstRatio is the usage-ratio ceiling above the nominal limit an
	// account may reach before eligibility gating kicks in. Deliberately
	// exceeds 1.0 — a deliberate burst allowance above the nominal limit.
	BurstRatio float64 `json:"burstRatio"`
}

// DefaultAIMDConfig returns the additive-increase/multiplicative-decrease defaults.
func DefaultAIMDConfig() AIMDConfig {
	return AIMDConfig{
		AdditiveIncrease:       0.05,
		MultiplicativeDecrease: 0.70,
		MinLimit:               10,
		MaxLimit:               1000,
		InitialLimit:           100,
		BurstRatio:             1.2,
	}
}

// CircuitBreakerConfig parameterizes the per-account circuit breaker.
type CircuitBreakerConfig struct {
	FailureThresholdCount int   `json:"failureThreshold"`
	OpenDurationMs        int64 `json:"openDurationMs"`
	SuccessThresholdCount int   `json:"successThreshold"`
}

// DefaultCircuitBreakerConfig returns the per-account circuit breaker defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThresholdCount: 5,
		OpenDurationMs:        60_000,
		SuccessThresholdCount: 2,
	}
}

// HealthScoreConfig configures per-account health scoring.
type HealthScoreConfig struct {
	Initial          float64 `json:"initial"`
	SuccessReward    float64 `json:"successReward"`
	RateLimitPenalty float64 `json:"rateLimitPenalty"`
	FailurePenalty   float64 `json:"failurePenalty"`
	RecoveryPerHour  float64 `json:"recoveryPerHour"`
	MinUsable        float64 `json:"minUsable"`
	MaxScore         float64 `json:"maxScore"`
	// DisableCooldownMs is how long an account stays disabled after it is
	// marked unhealthy, independent of the passive score-recovery curve.
	DisableCooldownMs int64 `json:"disableCooldownMs"`
}

// DefaultHealthScoreConfig returns the per-account health scoring defaults.
func DefaultHealthScoreConfig() HealthScoreConfig {
	return HealthScoreConfig{
		Initial:           70,
		SuccessReward:     1,
		RateLimitPenalty:  -10,
		FailurePenalty:    -20,
		RecoveryPerHour:   10,
		MinUsable:         50,
		MaxScore:          100,
		DisableCooldownMs: 60_000,
	}
}

// QuotaConfig configures per-account/model quota protection.
type QuotaConfig struct {
	LowThreshold      float64 `json:"lowThreshold"`
	CriticalThreshold float64 `json:"criticalThreshold"`
	StaleMs           int64   `json:"staleMs"`
	UnknownScore      float64 `json:"unknownScore"`
}

// DefaultQuotaConfig returns the per-account/model quota protection defaults.
func DefaultQuotaConfig() QuotaConfig {
	return QuotaConfig{
		LowThreshold:      0.10,
		CriticalThreshold: 0.05,
		StaleMs:           300_000,
		UnknownScore:      50,
	}
}

// SelectorWeights weights the hybrid ranking score's components.
type SelectorWeights struct {
	Health float64 `json:"health"`
	Tokens float64 `json:"tokens"`
	Quota  float64 `json:"quota"`
	LRU    float64 `json:"lru"`
}

// DefaultSelectorWeights returns the hybrid ranking score's default weights.
func DefaultSelectorWeights() SelectorWeights {
	return SelectorWeights{Health: 2.0, Tokens: 5.0, Quota: 3.0, LRU: 0.1}
}

// SelectorConfig configures the top-level Selector.
type SelectorConfig struct {
	SessionAffinityEnabled  bool    `json:"sessionAffinityEnabled"`
	MaxConcurrentPerAccount int     `json:"maxConcurrentPerAccount"`
	PreemptiveThrottleRatio float64 `json:"preemptiveThrottleRatio"`
	ThrottleDelayMs         int64   `json:"throttleDelayMs"`
	MaxThrottleRetries      int     `json:"maxThrottleRetries"`
	Weights                 SelectorWeights `json:"weights"`
}

// DefaultSelectorConfig returns the default Selector tuning.
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		SessionAffinityEnabled:  true,
		MaxConcurrentPerAccount: 5,
		PreemptiveThrottleRatio: 0.8,
		ThrottleDelayMs:         250,
		MaxThrottleRetries:      3,
		Weights:                 DefaultSelectorWeights(),
	}
}

// SchedulerConfig configures the background maintenance tasks.
type SchedulerConfig struct {
	OAuthStateGCIntervalMs   int64 `json:"oauthStateGCIntervalMs"`
	OAuthStateTTLMs          int64 `json:"oauthStateTTLMs"`
	WarmupIntervalMinutes    int   `json:"warmupIntervalMinutes"`
	WarmupCooldownMs         int64 `json:"warmupCooldownMs"`
	WarmupWhitelistedModels  []string `json:"warmupWhitelistedModels"`
	// WarmupOnlyLowQuota switches the warmup target set: false warms
	// accounts sitting at full quota (to keep their session from going
	// stale), true warms accounts below 50% quota instead (to refresh them).
	WarmupOnlyLowQuota       bool  `json:"warmupOnlyLowQuota"`
	QuotaRefreshEnabled      bool  `json:"quotaRefreshEnabled"`
	QuotaRefreshIntervalMinutes int `json:"quotaRefreshIntervalMinutes"`
}

// DefaultSchedulerConfig returns the background maintenance cadences: 60s
// OAuth-state GC / 600s eviction, 60min warmup interval with a 4h
// per-account cooldown, and a 15-minute default quota-refresh interval.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		OAuthStateGCIntervalMs:      60_000,
		OAuthStateTTLMs:             600_000,
		WarmupIntervalMinutes:       60,
		WarmupCooldownMs:            4 * 60 * 60 * 1000,
		WarmupWhitelistedModels:     []string{},
		WarmupOnlyLowQuota:          false,
		QuotaRefreshEnabled:         false,
		QuotaRefreshIntervalMinutes: 15,
	}
}

// RetryConfig configures the retry loop's outer/inner retry behavior.
type RetryConfig struct {
	MaxRetryAttempts      int     `json:"maxRetryAttempts"`
	InnerRetryMaxAttempts int     `json:"innerRetryMaxAttempts"`
	InnerRetryBaseMs      int64   `json:"innerRetryBaseMs"`
	RequestTimeoutMs      int64   `json:"requestTimeoutMs"`
}

// DefaultRetryConfig returns the outer/inner retry defaults: 64 outer
// attempts (one per eligible account) and a 300ms*2^n (capped at 3) inner
// backoff for transient 503s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetryAttempts:      64,
		InnerRetryMaxAttempts: 5,
		InnerRetryBaseMs:      300,
		RequestTimeoutMs:      120_000,
	}
}

// RateLimitConfig parameterizes the per-account/model 429 backoff tracker.
type RateLimitConfig struct {
	DedupWindowMs       int64            `json:"dedupWindowMs"`
	StateResetMs        int64            `json:"stateResetMs"`
	FirstRetryDelayMs   int64            `json:"firstRetryDelayMs"`
	MinBackoffMs        int64            `json:"minBackoffMs"`
	CapacityJitterMaxMs int64            `json:"capacityJitterMaxMs"`
	MaxBackoffMs        int64            `json:"maxBackoffMs"`
	QuotaBackoffTiersMs []int64          `json:"quotaBackoffTiersMs"`
	BackoffByErrorType  map[string]int64 `json:"backoffByErrorType"`
	// MaxWaitBeforeErrorMs bounds how long the sticky strategy will wait
	// for a rate-limited preferred account before failing over.
	MaxWaitBeforeErrorMs int64 `json:"maxWaitBeforeErrorMs"`
}

// DefaultRateLimitConfig returns the per-account/model 429 backoff defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		DedupWindowMs:       2_000,
		StateResetMs:        120_000,
		FirstRetryDelayMs:   1_000,
		MinBackoffMs:        2_000,
		CapacityJitterMaxMs: 10_000,
		MaxBackoffMs:        60_000,
		QuotaBackoffTiersMs: []int64{60_000, 300_000, 1_800_000, 7_200_000},
		BackoffByErrorType: map[string]int64{
			"RATE_LIMIT_EXCEEDED":      30_000,
			"MODEL_CAPACITY_EXHAUSTED": 15_000,
			"SERVER_ERROR":             20_000,
			"UNKNOWN":                  60_000,
		},
		MaxWaitBeforeErrorMs: 120_000,
	}
}

// Config is the process-wide, mutex-guarded runtime configuration.
type Config struct {
	mu sync.RWMutex

	APIKey   string `json:"apiKey"`
	Debug    bool   `json:"debug"`
	DevMode  bool   `json:"devMode"`
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile"`

	ModelMapping map[string]string `json:"modelMapping"`

	AIMD           AIMDConfig           `json:"aimd"`
	CircuitBreaker CircuitBreakerConfig `json:"circuitBreaker"`
	HealthScore    HealthScoreConfig    `json:"healthScore"`
	Quota          QuotaConfig          `json:"quota"`
	Selector       SelectorConfig       `json:"selector"`
	Scheduler      SchedulerConfig      `json:"scheduler"`
	Retry          RetryConfig          `json:"retry"`
	RateLimit      RateLimitConfig      `json:"rateLimit"`

	SignatureCacheLRUSize          int  `json:"signatureCacheLRUSize"`
	AutoConvertNonStreamToStream   bool `json:"autoConvertNonStreamToStream"`

	RedisAddr     string `json:"redisAddr"`
	RedisPassword string `json:"redisPassword"`
	RedisDB       int    `json:"redisDB"`

	SQLitePath string `json:"sqlitePath"`

	Port int    `json:"port"`
	Host string `json:"host"`

	FallbackEnabled bool `json:"fallbackEnabled"`
}

// DefaultConfig returns a Config populated with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:                     "info",
		ModelMapping:                 make(map[string]string),
		AIMD:                         DefaultAIMDConfig(),
		CircuitBreaker:               DefaultCircuitBreakerConfig(),
		HealthScore:                  DefaultHealthScoreConfig(),
		Quota:                        DefaultQuotaConfig(),
		Selector:                     DefaultSelectorConfig(),
		Scheduler:                    DefaultSchedulerConfig(),
		Retry:                        DefaultRetryConfig(),
		RateLimit:                    DefaultRateLimitConfig(),
		SignatureCacheLRUSize:        10_000,
		AutoConvertNonStreamToStream: true,
		RedisAddr:                    "localhost:6379",
		RedisDB:                      0,
		Port:                         DefaultPort,
		Host:                         "0.0.0.0",
	}
}

var (
	configDir  string
	configFile string
)

func init() {
	home, _ := os.UserHomeDir()
	configDir = filepath.Join(home, ".config", "gemini-gateway")
	configFile = filepath.Join(configDir, "config.json")
}

// DataDir returns the directory the proxy persists its account registry
// and OAuth state under when no Redis/SQLite backend is configured. The
// DATA_DIR environment variable overrides the default
// ~/.config/gemini-gateway location.
func DataDir() string {
	if v := os.Getenv("DATA_DIR"); v != "" {
		return v
	}
	return configDir
}

// DefaultOAuthConfig returns the well-known installed-app OAuth client
// the upstream backend's own CLI tooling uses to exchange refresh tokens;
// CLIENT_ID/CLIENT_SECRET/OAUTH_TOKEN_URL override it for an operator
// running against a different OAuth client.
func DefaultOAuthConfig() (clientID, clientSecret, tokenURL string) {
	clientID = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	clientSecret = "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"
	tokenURL = "https://oauth2.googleapis.com/token"
	if v := os.Getenv("CLIENT_ID"); v != "" {
		clientID = v
	}
	if v := os.Getenv("CLIENT_SECRET"); v != "" {
		clientSecret = v
	}
	if v := os.Getenv("OAUTH_TOKEN_URL"); v != "" {
		tokenURL = v
	}
	return clientID, clientSecret, tokenURL
}

// Load applies a JSON config file (if present) then environment overrides.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if data, err := os.ReadFile(configFile); err == nil {
		tmp := DefaultConfig()
		if err := json.Unmarshal(data, tmp); err != nil {
			return fmt.Errorf("parse config file %s: %w", configFile, err)
		}
		*c = *tmp
		c.mu = sync.RWMutex{}
	}

	c.loadFromEnv()
	return nil
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.SQLitePath = v
	}
	if v := os.Getenv("DEBUG"); v == "true" {
		c.Debug = true
		c.DevMode = true
	}
}

// GetAPIKey returns the configured API key under the read lock.
func (c *Config) GetAPIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.APIKey
}

// ResolveCustomMapping looks up an exact alias in the custom model-mapping table.
func (c *Config) ResolveCustomMapping(model string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	canonical, ok := c.ModelMapping[model]
	return canonical, ok
}

// SetModelMapping installs a user-configured alias under the write lock.
func (c *Config) SetModelMapping(alias, canonical string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ModelMapping == nil {
		c.ModelMapping = make(map[string]string)
	}
	c.ModelMapping[alias] = canonical
}
