package config

import "time"

// PipelineConfig contains lead cleaning configuration.
type PipelineConfig struct {
	// EmailFormatsPath points at a JSON file mapping company domains to
	// email format patterns (e.g. {"acme.com": "{first}.{last}"}).
	// Missing file means no per-domain overrides.
	EmailFormatsPath string `env:"PIPELINE_EMAIL_FORMATS_PATH" envDefault:"email_formats.json"`

	// BadEmailsPath points at a JSON file of known-bad addresses to drop.
	BadEmailsPath string `env:"PIPELINE_BAD_EMAILS_PATH" envDefault:"bad_emails.json"`
}

// VerifierConfig contains email verification provider configuration.
type VerifierConfig struct {
	// BaseURL is the provider endpoint; empty disables verification.
	BaseURL string `env:"VERIFIER_BASE_URL" envDefault:""`

	// APIKey authenticates against the provider.
	APIKey string `env:"VERIFIER_API_KEY" envDefault:""`

	// CodeExpr is a JMESPath expression selecting the result code from the
	// provider response.
	CodeExpr string `env:"VERIFIER_CODE_EXPR" envDefault:"resultcode"`

	// SubResultExpr selects the optional sub-result string.
	SubResultExpr string `env:"VERIFIER_SUBRESULT_EXPR" envDefault:"subresult"`

	// Retries is the per-address call budget.
	Retries int `env:"VERIFIER_RETRIES" envDefault:"3"`

	// Timeout bounds each provider call.
	Timeout time.Duration `env:"VERIFIER_TIMEOUT" envDefault:"10s"`

	// Parallelism bounds concurrent verifications per job.
	Parallelism int `env:"VERIFIER_PARALLELISM" envDefault:"10"`

	// CacheTTL is how long verification results stay cached in Redis.
	CacheTTL time.Duration `env:"VERIFIER_CACHE_TTL" envDefault:"24h"`
}

// Sanitize applies guardrails to verifier configuration values.
func (v *VerifierConfig) Sanitize() {
	if v.Retries < 1 {
		v.Retries = 1
	}
	if v.Parallelism < 1 {
		v.Parallelism = 1
	}
	if v.Timeout <= 0 {
		v.Timeout = 10 * time.Second
	}
	if v.CacheTTL <= 0 {
		v.CacheTTL = 24 * time.Hour
	}
}

// StorageConfig contains workbook storage configuration.
type StorageConfig struct {
	// Root is the directory holding uploads/ and processed/ workbooks.
	Root string `env:"STORAGE_ROOT" envDefault:"data"`
}
