package models

// QuotaPeriod defines the time window for a token quota.
type QuotaPeriod string

const (
	QuotaDaily   QuotaPeriod = "daily"
	QuotaMonthly QuotaPeriod = "monthly"
)

// QuotaPolicy caps the tokens spent on generation per period. An empty Model
// applies to all models combined.
type QuotaPolicy struct {
	Model     string      `json:"model,omitempty" yaml:"model,omitempty"`
	MaxTokens int64       `json:"max_tokens" yaml:"max_tokens"`
	Period    QuotaPeriod `json:"period" yaml:"period"`
}

// QuotaStatus shows current usage against a policy.
type QuotaStatus struct {
	Policy    QuotaPolicy `json:"policy"`
	Used      int64       `json:"used"`
	Remaining int64       `json:"remaining"`
}
