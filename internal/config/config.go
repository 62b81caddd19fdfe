// Package config provides configuration management for the LLM gateway.
// Configuration is loaded once at startup from a YAML file and is static
// for the lifetime of the process.
package config

import (
	"time"
)

// AuthMethod selects the authenticator variant.
type AuthMethod string

// Supported authenticator variants.
const (
	AuthMethodAnonymous      AuthMethod = "anonymous"
	AuthMethodAnonymousToken AuthMethod = "anonymous-token"
	AuthMethodAPIKey         AuthMethod = "apikey"
	AuthMethodJWT            AuthMethod = "jwt"
	AuthMethodCluster        AuthMethod = "cluster"
	AuthMethodFederated      AuthMethod = "federated"
)

// QuotaKind scopes a quota limiter to a subject or to the whole cluster.
type QuotaKind string

// Supported quota limiter kinds.
const (
	QuotaKindSubject QuotaKind = "subject"
	QuotaKindCluster QuotaKind = "cluster"
)

// Config holds all configuration settings for the gateway.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Auth        AuthConfig        `yaml:"auth"`
	Roles       RolesConfig       `yaml:"roles"`
	Access      AccessConfig      `yaml:"access"`
	Quota       QuotaConfig       `yaml:"quota"`
	ToolServers []ToolServerSpec  `yaml:"toolServers"`
	Vault       VaultConfig       `yaml:"vault"`
	Backend     BackendConfig     `yaml:"backend"`
	Usage       UsageConfig       `yaml:"usage"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracingConfig holds OTLP tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	SampleRate   float64 `yaml:"sampleRate"`
	ServiceName  string  `yaml:"serviceName"`
	Insecure     bool    `yaml:"insecure"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AuthConfig selects and parameterizes the authenticator variant.
type AuthConfig struct {
	Method    AuthMethod      `yaml:"method"`
	APIKey    APIKeyConfig    `yaml:"apikey"`
	JWT       JWTConfig       `yaml:"jwt"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Federated FederatedConfig `yaml:"federated"`
}

// APIKeyConfig holds settings for the shared API key variant.
type APIKeyConfig struct {
	// Key is the shared secret compared byte-for-byte against the
	// presented bearer token.
	Key string `yaml:"key"`

	// KeyFile optionally reads the key from a file at startup.
	KeyFile string `yaml:"keyFile"`
}

// JWTConfig holds settings for the JWT/JWK variant.
type JWTConfig struct {
	// JWKSURL is the remote JSON Web Key Set endpoint.
	JWKSURL string `yaml:"jwksURL"`

	// CacheTTL is how long a fetched key set is reused before a
	// refresh. Defaults to one hour.
	CacheTTL Duration `yaml:"cacheTTL"`

	// SubjectClaim names the claim carrying the subject identifier.
	// Defaults to "sub".
	SubjectClaim string `yaml:"subjectClaim"`

	// DisplayNameClaim names the claim carrying the display name.
	// Defaults to "name".
	DisplayNameClaim string `yaml:"displayNameClaim"`

	// Issuer, when set, must match the token issuer.
	Issuer string `yaml:"issuer"`

	// ClockSkew is the allowed clock skew when validating expiry.
	ClockSkew Duration `yaml:"clockSkew"`
}

// ClusterConfig holds settings for the cluster-token variant.
type ClusterConfig struct {
	// Kubeconfig is the path to a kubeconfig file. Empty means
	// in-cluster configuration.
	Kubeconfig string `yaml:"kubeconfig"`

	// ClusterID is the stable identifier substituted for the
	// kube:admin username and used as the shared quota subject.
	ClusterID string `yaml:"clusterID"`
}

// FederatedConfig holds settings for the federated-identity-header variant.
type FederatedConfig struct {
	// Header is the request header carrying the base64-encoded
	// identity document. Defaults to "X-Federated-Identity".
	Header string `yaml:"header"`

	// RequiredEntitlements must all be present and entitled on
	// end-user identities. Empty disables the check.
	RequiredEntitlements []string `yaml:"requiredEntitlements"`
}

// RoleRule grants roles when a claim expression matches.
type RoleRule struct {
	// Path is a JSONPath-style expression evaluated against the
	// identity's claim document. Evaluation always yields a list.
	Path string `yaml:"path"`

	// Operator is one of equals, contains, in, matches.
	Operator string `yaml:"operator"`

	// Operand is the comparison value list.
	Operand []string `yaml:"operand"`

	// Expression is an optional CEL expression over the claims map,
	// an alternative to Path/Operator/Operand.
	Expression string `yaml:"expression"`

	// Negate inverts the match result.
	Negate bool `yaml:"negate"`

	// Grants lists the roles granted on a match.
	Grants []string `yaml:"grants"`
}

// RolesConfig holds role resolution settings.
type RolesConfig struct {
	// EveryoneRole is assigned to every authenticated identity.
	// Defaults to "*".
	EveryoneRole string `yaml:"everyoneRole"`

	// Rules are evaluated independently against JWT claims.
	Rules []RoleRule `yaml:"rules"`
}

// AccessRule maps a role to the actions it may perform.
type AccessRule struct {
	// Role is the role name. The value "*" matches every identity.
	Role string `yaml:"role"`

	// Actions lists permitted action names. The action "admin"
	// implicitly grants every other action.
	Actions []string `yaml:"actions"`
}

// AccessConfig holds access control settings.
type AccessConfig struct {
	// Rules, when empty, means allow-all.
	Rules []AccessRule `yaml:"rules"`
}

// QuotaLimiterSpec describes one named quota limiter.
type QuotaLimiterSpec struct {
	Name string    `yaml:"name"`
	Kind QuotaKind `yaml:"kind"`

	// InitialQuota resets available capacity to a fixed value at
	// period rollover. Mutually exclusive with QuotaIncrease.
	InitialQuota *int64 `yaml:"initialQuota"`

	// QuotaIncrease adds a delta to available capacity at period
	// rollover, allowing accumulation.
	QuotaIncrease *int64 `yaml:"quotaIncrease"`

	// Period is the replenishment period.
	Period Duration `yaml:"period"`
}

// SchedulerConfig holds period-rollover scheduler settings.
type SchedulerConfig struct {
	// Interval is how often expired records are scanned.
	Interval Duration `yaml:"interval"`

	// ConnectRetries bounds store connection attempts at startup.
	ConnectRetries int `yaml:"connectRetries"`

	// ConnectBackoff is the delay between connection attempts.
	ConnectBackoff Duration `yaml:"connectBackoff"`
}

// QuotaConfig holds quota admission settings.
type QuotaConfig struct {
	Enabled bool `yaml:"enabled"`

	// Store selects the ledger backend: "memory" or "redis".
	Store string `yaml:"store"`

	Redis RedisConfig `yaml:"redis"`

	Limiters []QuotaLimiterSpec `yaml:"limiters"`

	Scheduler SchedulerConfig `yaml:"scheduler"`

	// AdmissionCost is the token amount reserved per request before
	// the backend call.
	AdmissionCost int64 `yaml:"admissionCost"`

	// ReservationTTL bounds how long an unresolved reservation may
	// hold capacity before the scheduler sweeps it back.
	ReservationTTL Duration `yaml:"reservationTTL"`

	// FailClosed rejects quota-gated requests when the store is
	// unreachable instead of admitting them.
	FailClosed bool `yaml:"failClosed"`
}

// RedisConfig holds Redis connection settings for the quota store.
type RedisConfig struct {
	Address      string   `yaml:"address"`
	Password     string   `yaml:"password"`
	DB           int      `yaml:"db"`
	Prefix       string   `yaml:"prefix"`
	DialTimeout  Duration `yaml:"dialTimeout"`
	ReadTimeout  Duration `yaml:"readTimeout"`
	WriteTimeout Duration `yaml:"writeTimeout"`
}

// ToolServerSpec describes a downstream tool server and how its
// authorization headers are sourced.
type ToolServerSpec struct {
	// Name uniquely identifies the tool server.
	Name string `yaml:"name"`

	// URL is the tool server endpoint forwarded to the backend.
	URL string `yaml:"url"`

	// Headers maps a header name to its credential source: a file
	// path, the literal "kubernetes", the literal "client", or
	// "vault:<mount>/<path>#<field>".
	Headers map[string]string `yaml:"headers"`
}

// VaultConfig holds HashiCorp Vault client settings for vault-sourced
// tool-server credentials.
type VaultConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Address  string   `yaml:"address"`
	Token    string   `yaml:"token"`
	CacheTTL Duration `yaml:"cacheTTL"`
}

// BackendConfig holds settings for the LLM orchestration backend call.
type BackendConfig struct {
	URL     string   `yaml:"url"`
	Timeout Duration `yaml:"timeout"`

	// Breaker settings follow gobreaker semantics.
	BreakerMaxFailures uint32   `yaml:"breakerMaxFailures"`
	BreakerInterval    Duration `yaml:"breakerInterval"`
	BreakerTimeout     Duration `yaml:"breakerTimeout"`
}

// UsageConfig holds token usage ledger settings.
type UsageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a Config with default values applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(10 * time.Minute),
			IdleTimeout:     Duration(120 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Auth: AuthConfig{
			Method: AuthMethodAnonymous,
			JWT: JWTConfig{
				CacheTTL:         Duration(time.Hour),
				SubjectClaim:     "sub",
				DisplayNameClaim: "name",
			},
			Federated: FederatedConfig{
				Header: "X-Federated-Identity",
			},
		},
		Roles: RolesConfig{
			EveryoneRole: "*",
		},
		Quota: QuotaConfig{
			Store: "memory",
			Redis: RedisConfig{
				Address:      "localhost:6379",
				Prefix:       "quota:",
				DialTimeout:  Duration(5 * time.Second),
				ReadTimeout:  Duration(3 * time.Second),
				WriteTimeout: Duration(3 * time.Second),
			},
			Scheduler: SchedulerConfig{
				Interval:       Duration(time.Minute),
				ConnectRetries: 5,
				ConnectBackoff: Duration(2 * time.Second),
			},
			AdmissionCost:  500,
			ReservationTTL: Duration(10 * time.Minute),
		},
		Backend: BackendConfig{
			Timeout:            Duration(5 * time.Minute),
			BreakerMaxFailures: 5,
			BreakerInterval:    Duration(time.Minute),
			BreakerTimeout:     Duration(30 * time.Second),
		},
		Usage: UsageConfig{
			Path: "usage.jsonl",
		},
	}
}
