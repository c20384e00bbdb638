// Package health implements C12: periodic sampling of ingestion state
// across every configured chain, rolled up into a per-chain and overall
// severity with alert emission.
package health

import (
	"sort"
	"time"

	"github.com/flowscope/iac/services/ingestion"
)

// Severity is the closed set of per-chain and overall health levels.
type Severity string

const (
	SeverityUnknown  Severity = "UNKNOWN"
	SeverityHealthy  Severity = "HEALTHY"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

const (
	lagWarningThreshold  = 50
	lagCriticalThreshold = 200

	minutesWarningThreshold  = 5.0
	minutesCriticalThreshold = 15.0

	errorRateWarningThreshold  = 0.10
	errorRateCriticalThreshold = 0.25

	// errorRateDivisor turns consecutiveErrors into errorRate: a chain at
	// C3's auto-pause threshold of 5 consecutive errors reads as
	// errorRate=0.5, already past the critical threshold.
	errorRateDivisor = 10.0
)

// ChainHealth is one chain's computed health sample.
type ChainHealth struct {
	Chain            string    `json:"chain"`
	Lag              uint64    `json:"lag"`
	MinutesSinceSync float64   `json:"minutesSinceSync"`
	ErrorRate        float64   `json:"errorRate"`
	Severity         Severity  `json:"severity"`
	SampledAt        time.Time `json:"sampledAt"`
}

// Alert is an emitted health signal; transport is external (logging,
// metrics, paging) and is not this package's concern.
type Alert struct {
	Severity Severity `json:"severity"`
	Chain    string   `json:"chain"`
	Message  string   `json:"message"`
	Metric   string   `json:"metric"`
	Value    float64  `json:"value"`
}

// Report is C12's full output for one sampling pass.
type Report struct {
	Overall Severity      `json:"overall"`
	Chains  []ChainHealth `json:"chains"`
	Alerts  []Alert       `json:"alerts"`
}

// Sample computes a Report from a snapshot of every configured chain's
// sync state. A chain with no state record at all (never passed through
// C3's InitAll) is excluded from the overall rollup entirely: the rollup
// is UNKNOWN only when the snapshot itself is empty. A chain that has a
// state record but has never completed a successful window (an empty
// network, no events yet) is reported with UNKNOWN per-chain status but
// does not drag the overall rollup below HEALTHY.
func Sample(states map[string]ingestion.ChainSyncState) Report {
	now := time.Now()
	report := Report{}

	chains := make([]string, 0, len(states))
	for chain := range states {
		chains = append(chains, chain)
	}
	sort.Strings(chains)

	for _, chain := range chains {
		state := states[chain]

		lag := uint64(0)
		if state.LastHeadBlock > state.LastSyncedBlock {
			lag = state.LastHeadBlock - state.LastSyncedBlock
		}
		minutesSinceSync := minutesSince(state.LastSuccessAt, now)
		errorRate := float64(state.ConsecutiveErrors) / errorRateDivisor

		ch := ChainHealth{
			Chain:            chain,
			Lag:              lag,
			MinutesSinceSync: minutesSinceSync,
			ErrorRate:        errorRate,
			SampledAt:        now,
		}
		if state.LastSuccessAt == nil && state.ErrorCount == 0 {
			ch.Severity = SeverityUnknown
		} else {
			ch.Severity = severityFor(lag, minutesSinceSync, errorRate)
		}
		report.Chains = append(report.Chains, ch)
		report.Alerts = append(report.Alerts, alertsFor(ch)...)
	}

	report.Overall = rollup(report.Chains, len(states) > 0)
	return report
}

func minutesSince(t *time.Time, now time.Time) float64 {
	if t == nil || t.IsZero() {
		return 0
	}
	return now.Sub(*t).Minutes()
}

func severityFor(lag uint64, minutesSinceSync, errorRate float64) Severity {
	sev := SeverityHealthy
	if lag >= lagCriticalThreshold || minutesSinceSync >= minutesCriticalThreshold || errorRate >= errorRateCriticalThreshold {
		sev = SeverityCritical
	} else if lag >= lagWarningThreshold || minutesSinceSync >= minutesWarningThreshold || errorRate >= errorRateWarningThreshold {
		sev = SeverityWarning
	}
	return sev
}

func alertsFor(ch ChainHealth) []Alert {
	var alerts []Alert
	if ch.Severity == SeverityHealthy {
		return alerts
	}
	if ch.Lag >= lagWarningThreshold {
		alerts = append(alerts, Alert{
			Severity: thresholdSeverity(float64(ch.Lag), lagWarningThreshold, lagCriticalThreshold),
			Chain:    ch.Chain,
			Message:  "chain is falling behind head",
			Metric:   "lag",
			Value:    float64(ch.Lag),
		})
	}
	if ch.MinutesSinceSync >= minutesWarningThreshold {
		alerts = append(alerts, Alert{
			Severity: thresholdSeverity(ch.MinutesSinceSync, minutesWarningThreshold, minutesCriticalThreshold),
			Chain:    ch.Chain,
			Message:  "no successful sync recently",
			Metric:   "minutesSinceSync",
			Value:    ch.MinutesSinceSync,
		})
	}
	if ch.ErrorRate >= errorRateWarningThreshold {
		alerts = append(alerts, Alert{
			Severity: thresholdSeverity(ch.ErrorRate, errorRateWarningThreshold, errorRateCriticalThreshold),
			Chain:    ch.Chain,
			Message:  "elevated consecutive RPC errors",
			Metric:   "errorRate",
			Value:    ch.ErrorRate,
		})
	}
	return alerts
}

func thresholdSeverity(value, warn, crit float64) Severity {
	if value >= crit {
		return SeverityCritical
	}
	return SeverityWarning
}

// rollup combines every chain's severity into one overall signal.
// CRITICAL beats WARNING beats HEALTHY; UNKNOWN only if no chain has ever
// been initialized.
func rollup(chains []ChainHealth, sawInitialized bool) Severity {
	if !sawInitialized {
		return SeverityUnknown
	}
	overall := SeverityHealthy
	for _, ch := range chains {
		switch ch.Severity {
		case SeverityCritical:
			return SeverityCritical
		case SeverityWarning:
			overall = SeverityWarning
		}
	}
	return overall
}
