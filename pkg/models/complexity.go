package models

// Recommendation is the router's verdict for a prompt.
type Recommendation string

const (
	RecommendGenerate Recommendation = "generate"
	RecommendSimplify Recommendation = "simplify"
	RecommendSplit    Recommendation = "split"
)

// Severity orders recommendations: generate < simplify < split.
func (r Recommendation) Severity() int {
	switch r {
	case RecommendSimplify:
		return 1
	case RecommendSplit:
		return 2
	}
	return 0
}

// Escalate returns the next more severe recommendation, saturating at split.
func (r Recommendation) Escalate() Recommendation {
	switch r {
	case RecommendGenerate:
		return RecommendSimplify
	default:
		return RecommendSplit
	}
}

// SignalCounts holds the keyword tallies that drive the complexity score.
type SignalCounts struct {
	Actors       int `json:"actors"`
	Gateways     int `json:"gateways"`
	Events       int `json:"events"`
	Timers       int `json:"timers"`
	Loops        int `json:"loops"`
	Swimlanes    int `json:"swimlanes"`
	Subprocesses int `json:"subprocesses"`
	Routing      int `json:"routing"`
}

// ComplexityProfile is derived from a normalized prompt and diagram type.
// It is recomputed on every request and never persisted.
type ComplexityProfile struct {
	Score                 float64        `json:"score"`
	Counts                SignalCounts   `json:"counts"`
	Length                int            `json:"length"`
	EstimatedElements     int            `json:"estimatedElements"`
	EstimatedOutputTokens int            `json:"estimatedOutputTokens"`
	Recommendation        Recommendation `json:"recommendation"`
	Escalated             bool           `json:"escalated,omitempty"`
	Refined               bool           `json:"refined,omitempty"`
	Reasons               []string       `json:"reasons,omitempty"`
}

// ModelProfile is the generation configuration chosen for one request.
type ModelProfile struct {
	Tier            Tier         `json:"tier"`
	Provider        string       `json:"provider"`
	Model           string       `json:"model"`
	MaxOutputTokens int          `json:"maxOutputTokens"`
	Temperature     float32      `json:"temperature"`
	Fidelity        FidelityMode `json:"fidelity"`
}
