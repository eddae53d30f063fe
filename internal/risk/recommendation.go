package risk

import (
	"fmt"
	"sort"
	"strings"

	"FleetRiskAPI/internal/models"
)

// Well-known feature names emitted by the feature pipeline.
const (
	FeatureOperatingHours       = "operating_hours"
	FeatureDaysSinceMaintenance = "days_since_maintenance"
	FeatureFailureCount30d      = "failure_count_30d"
	FeatureAvgTemperature       = "avg_temperature"
	FeatureOpenWorkOrders       = "open_work_orders"
	FeatureChecklistFailures    = "checklist_failures_30d"
)

type featureHint struct {
	applies func(v float64) bool
	text    func(v float64) string
}

var featureHints = map[string]featureHint{
	FeatureDaysSinceMaintenance: {
		applies: func(v float64) bool { return v > 90 },
		text: func(v float64) string {
			return fmt.Sprintf("Preventive maintenance overdue (%.0f days since last service).", v)
		},
	},
	FeatureFailureCount30d: {
		applies: func(v float64) bool { return v >= 1 },
		text: func(v float64) string {
			return fmt.Sprintf("%.0f failure(s) in the last 30 days; review recurring fault codes.", v)
		},
	},
	FeatureAvgTemperature: {
		applies: func(v float64) bool { return v > 90 },
		text: func(v float64) string {
			return fmt.Sprintf("Average operating temperature %.1f°C is elevated; inspect cooling system.", v)
		},
	},
	FeatureOperatingHours: {
		applies: func(v float64) bool { return v > 5000 },
		text: func(v float64) string {
			return fmt.Sprintf("High operating hours (%.0f h); check wear components.", v)
		},
	},
	FeatureOpenWorkOrders: {
		applies: func(v float64) bool { return v >= 3 },
		text: func(v float64) string {
			return fmt.Sprintf("%.0f work orders still open; prioritise backlog for this asset.", v)
		},
	},
	FeatureChecklistFailures: {
		applies: func(v float64) bool { return v >= 1 },
		text: func(v float64) string {
			return fmt.Sprintf("%.0f failed checklist item(s) in the last 30 days.", v)
		},
	},
}

var levelHeadlines = map[models.RiskLevel]string{
	models.RiskLow:      "Continue normal operation and routine preventive maintenance.",
	models.RiskMedium:   "Monitor closely and schedule an inspection at the next service window.",
	models.RiskHigh:     "Schedule a predictive maintenance inspection within 7 days.",
	models.RiskCritical: "Immediate inspection required; consider removing the asset from service.",
}

// BuildRecommendation assembles recommendation text for a classified snapshot.
// Output is deterministic for a given input.
func BuildRecommendation(features map[string]float64, level models.RiskLevel) string {
	lines := []string{levelHeadline(level)}

	names := make([]string, 0, len(features))
	for name := range features {
		if _, ok := featureHints[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		hint := featureHints[name]
		v := features[name]
		if hint.applies(v) {
			lines = append(lines, "- "+hint.text(v))
		}
	}

	return strings.Join(lines, "\n")
}

func levelHeadline(level models.RiskLevel) string {
	if h, ok := levelHeadlines[level]; ok {
		return h
	}
	return "Review asset condition."
}
