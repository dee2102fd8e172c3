package analysis

import "bdpower/internal/dataset"

// RiskScoreColumn is appended by AddRiskScores.
const RiskScoreColumn = "Lightning_Risk_Score"

// HighRiskScore is the lowest score reported as high risk.
const HighRiskScore = 3

// Thresholds are the strict lower bounds of the four risk predicates.
type Thresholds struct {
	Humidity         float64 `toml:"humidity"`
	Precipitation    float64 `toml:"precipitation_mm"`
	TemperatureRange float64 `toml:"temperature_range_c"`
	WindSpeed        float64 `toml:"wind_speed_ms"`
}

// DefaultThresholds returns 85 %, 10 mm, 3.5 °C and 2.5 m/s.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Humidity:         85,
		Precipitation:    10,
		TemperatureRange: 3.5,
		WindSpeed:        2.5,
	}
}

// RiskScore counts how many of the four predicates hold for r. A missing
// value never satisfies its predicate, so the score is always in [0, 4].
func RiskScore(r dataset.Row, th Thresholds) int {
	checks := [...]struct {
		column string
		limit  float64
	}{
		{dataset.Humidity, th.Humidity},
		{dataset.Precipitation, th.Precipitation},
		{dataset.TemperatureRange, th.TemperatureRange},
		{dataset.WindSpeed, th.WindSpeed},
	}

	score := 0
	for _, c := range checks {
		if r.Value(c.column) > c.limit {
			score++
		}
	}
	return score
}

// AddRiskScores appends (or recomputes) the risk score column on t.
func AddRiskScores(t *dataset.Table, th Thresholds) {
	t.AddColumn(RiskScoreColumn, func(r dataset.Row) float64 {
		return float64(RiskScore(r, th))
	})
}

// RiskDistribution counts rows per score. Index i holds the count for score i.
func RiskDistribution(t *dataset.Table, th Thresholds) [5]int {
	var dist [5]int
	for _, r := range t.Rows {
		dist[RiskScore(r, th)]++
	}
	return dist
}
