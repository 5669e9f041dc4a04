package conf

import (
	"time"

	"github.com/capra-ai/capra/internal/sigv4"
)

// Shared engine knobs respected by every provider adapter.
const (
	EnvProviderTimeout    = "CAPRA_PROVIDER_TIMEOUT"
	EnvProviderMaxRetries = "CAPRA_PROVIDER_MAX_RETRIES"
)

// Provider credential keys.
const (
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvAWSAccessKey  = "AWS_ACCESS_KEY_ID"
	EnvAWSSecretKey  = "AWS_SECRET_ACCESS_KEY"
	EnvAWSToken      = "AWS_SESSION_TOKEN"
	EnvAWSRegion     = "AWS_REGION"
	EnvDeepgramKey   = "DEEPGRAM_API_KEY"
	EnvElevenLabsKey = "ELEVENLABS_API_KEY"
	EnvQdrantURL     = "QDRANT_URL"
	EnvQdrantKey     = "QDRANT_API_KEY"
	EnvBraveKey      = "BRAVE_API_KEY"
	EnvTavilyKey     = "TAVILY_API_KEY"
	EnvNeo4jURL      = "NEO4J_URL"
	EnvNeo4jUser     = "NEO4J_USER"
	EnvNeo4jPassword = "NEO4J_PASSWORD"
)

// HTTPSettings tune the shared request engine for one adapter instance.
type HTTPSettings struct {
	Timeout    time.Duration `validate:"gt=0"`
	MaxRetries int           `validate:"gte=0"`
}

// HTTP resolves the engine settings shared by all providers.
func (r *Resolver) HTTP(overrides map[string]string) (HTTPSettings, error) {
	v := r.View([]string{EnvProviderTimeout, EnvProviderMaxRetries}, overrides)
	s := HTTPSettings{
		Timeout:    v.Duration(EnvProviderTimeout, 30*time.Second),
		MaxRetries: v.Int(EnvProviderMaxRetries, 3),
	}
	if err := r.check(s); err != nil {
		return HTTPSettings{}, err
	}
	return s, nil
}

// APIKey resolves a single-key credential such as OPENAI_API_KEY.
func (r *Resolver) APIKey(envKey string, overrides map[string]string) (string, error) {
	return r.View([]string{envKey}, overrides).Secret(envKey)
}

// AWSSettings carry the credential triple plus the target region.
type AWSSettings struct {
	Credentials sigv4.Credentials
	Region      string
}

// AWS resolves the AWS signing material. Access key, secret key and region
// are required; the session token is optional.
func (r *Resolver) AWS(overrides map[string]string) (AWSSettings, error) {
	v := r.View([]string{EnvAWSAccessKey, EnvAWSSecretKey, EnvAWSToken, EnvAWSRegion}, overrides)
	access, err := v.Secret(EnvAWSAccessKey)
	if err != nil {
		return AWSSettings{}, err
	}
	secret, err := v.Secret(EnvAWSSecretKey)
	if err != nil {
		return AWSSettings{}, err
	}
	region, err := v.Secret(EnvAWSRegion)
	if err != nil {
		return AWSSettings{}, err
	}
	return AWSSettings{
		Credentials: sigv4.Credentials{
			AccessKeyID:     access,
			SecretAccessKey: secret,
			SessionToken:    v.String(EnvAWSToken, ""),
		},
		Region: region,
	}, nil
}

// QdrantSettings locate a Qdrant deployment. The API key is optional for
// unauthenticated local instances.
type QdrantSettings struct {
	URL    string
	APIKey string
}

func (r *Resolver) Qdrant(overrides map[string]string) (QdrantSettings, error) {
	v := r.View([]string{EnvQdrantURL, EnvQdrantKey}, overrides)
	url, err := v.Secret(EnvQdrantURL)
	if err != nil {
		return QdrantSettings{}, err
	}
	return QdrantSettings{URL: url, APIKey: v.String(EnvQdrantKey, "")}, nil
}

// Neo4jSettings locate a Neo4j deployment with basic-auth credentials.
type Neo4jSettings struct {
	URL      string
	User     string
	Password string
}

func (r *Resolver) Neo4j(overrides map[string]string) (Neo4jSettings, error) {
	v := r.View([]string{EnvNeo4jURL, EnvNeo4jUser, EnvNeo4jPassword}, overrides)
	url, err := v.Secret(EnvNeo4jURL)
	if err != nil {
		return Neo4jSettings{}, err
	}
	user, err := v.Secret(EnvNeo4jUser)
	if err != nil {
		return Neo4jSettings{}, err
	}
	password, err := v.Secret(EnvNeo4jPassword)
	if err != nil {
		return Neo4jSettings{}, err
	}
	return Neo4jSettings{URL: url, User: user, Password: password}, nil
}
