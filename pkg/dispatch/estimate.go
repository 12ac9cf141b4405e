// Package dispatch decides whether a request can finish inside the
// synchronous deadline and runs the ones that cannot as background jobs.
package dispatch

import (
	"fmt"
	"math"
	"time"

	"github.com/pario-ai/flowsmith/pkg/config"
	"github.com/pario-ai/flowsmith/pkg/models"
)

// Mode is the dispatch outcome.
type Mode string

const (
	ModeSync       Mode = "sync"
	ModeBackground Mode = "background"
)

// Estimator predicts end-to-end pipeline latency from the complexity profile
// and the chosen model profile.
type Estimator struct {
	cfg config.DispatchConfig
}

// NewEstimator creates an Estimator.
func NewEstimator(cfg config.DispatchConfig) Estimator {
	if cfg.FastTokensPerS <= 0 {
		cfg.FastTokensPerS = 90
	}
	if cfg.SmartTokensPerS <= 0 {
		cfg.SmartTokensPerS = 45
	}
	if cfg.RetryFactor < 1 {
		cfg.RetryFactor = 1
	}
	return Estimator{cfg: cfg}
}

// Output size relative to a full document, per fidelity mode.
var fidelityShare = map[models.FidelityMode]float64{
	models.FidelityFull:          1,
	models.FidelityCompact:       0.75,
	models.FidelityStructureOnly: 0.5,
}

// Estimate returns the expected latency of analysis, generation, validation
// and the expected share of retries.
func (e Estimator) Estimate(p models.ComplexityProfile, mp models.ModelProfile) time.Duration {
	tps := e.cfg.FastTokensPerS
	if mp.Tier == models.TierSmart {
		tps = e.cfg.SmartTokensPerS
	}
	share, ok := fidelityShare[mp.Fidelity]
	if !ok {
		share = 1
	}
	outTokens := float64(p.EstimatedOutputTokens) * share
	if mp.MaxOutputTokens > 0 {
		outTokens = math.Min(outTokens, float64(mp.MaxOutputTokens))
	}
	// Prompt tokens are read roughly twenty times faster than they are written.
	inTokens := float64(p.Length) / 4

	secs := outTokens/tps + inTokens/(tps*20)
	d := e.cfg.BaseLatency + time.Duration(secs*float64(time.Second)) +
		time.Duration(p.Counts.Actors)*e.cfg.ActorPenalty +
		time.Duration(p.Counts.Gateways)*e.cfg.GatewayPenalty +
		time.Duration(p.Counts.Timers)*e.cfg.TimerPenalty
	return time.Duration(float64(d) * e.cfg.RetryFactor)
}

// Decision is the dispatcher's verdict for one request.
type Decision struct {
	Mode     Mode
	Estimate time.Duration
	Budget   time.Duration
}

// EstimatedTime formats the estimate for API responses.
func (d Decision) EstimatedTime() string {
	secs := int(math.Ceil(d.Estimate.Seconds()))
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	return fmt.Sprintf("%dm%02ds", secs/60, secs%60)
}
