// Package detection classifies ATM telemetry snapshots against an ordered
// list of fault rules.
package detection

import "github.com/ukydev/atm-dispatch/internal/models"

// Rule maps a telemetry predicate to a fault type and severity.
type Rule struct {
	Name      string
	Match     func(t *models.Telemetry) bool
	FaultType models.FaultType
	Severity  models.Severity
}

// Classification is the outcome of a matched rule.
type Classification struct {
	Rule      string           `json:"rule"`
	FaultType models.FaultType `json:"fault_type"`
	Severity  models.Severity  `json:"severity"`
}

const (
	maxFailedTransactions = 5
	minUptimePercentage   = 80.0
	maxTemperatureCelsius = 45.0
)

// Rules is evaluated in order; the first match wins.
var Rules = []Rule{
	{
		Name:      "card_reader_faulty",
		Match:     func(t *models.Telemetry) bool { return t.CardReaderStatus == "faulty" },
		FaultType: models.FaultCardReaderFailure,
		Severity:  models.SeverityHigh,
	},
	{
		Name:      "dispenser_faulty",
		Match:     func(t *models.Telemetry) bool { return t.DispenserStatus == "faulty" },
		FaultType: models.FaultDispenserFailure,
		Severity:  models.SeverityHigh,
	},
	{
		Name:      "network_offline",
		Match:     func(t *models.Telemetry) bool { return t.NetworkStatus == "offline" },
		FaultType: models.FaultNetworkOffline,
		Severity:  models.SeverityCritical,
	},
	{
		Name:      "failed_transactions",
		Match:     func(t *models.Telemetry) bool { return t.FailedTransactions > maxFailedTransactions },
		FaultType: models.FaultHighFailureRate,
		Severity:  models.SeverityMedium,
	},
	{
		Name:      "cash_out",
		Match:     func(t *models.Telemetry) bool { return t.CashStatus == "out" },
		FaultType: models.FaultCashOut,
		Severity:  models.SeverityHigh,
	},
	{
		Name:      "low_uptime",
		Match:     func(t *models.Telemetry) bool { return t.UptimePercentage < minUptimePercentage },
		FaultType: models.FaultLowUptime,
		Severity:  models.SeverityMedium,
	},
	{
		Name:      "high_temperature",
		Match:     func(t *models.Telemetry) bool { return t.Temperature > maxTemperatureCelsius },
		FaultType: models.FaultHighTemperature,
		Severity:  models.SeverityMedium,
	},
}

// Classify evaluates the default rule set against a snapshot.
func Classify(t *models.Telemetry) (Classification, bool) {
	return ClassifyWith(Rules, t)
}

// ClassifyWith evaluates rules in order and returns the first match.
func ClassifyWith(rules []Rule, t *models.Telemetry) (Classification, bool) {
	if t == nil {
		return Classification{}, false
	}
	for _, r := range rules {
		if r.Match(t) {
			return Classification{Rule: r.Name, FaultType: r.FaultType, Severity: r.Severity}, true
		}
	}
	return Classification{}, false
}
