package siteconditions

import (
	"github.com/worksafe/risk-engine/internal/model"
	"github.com/worksafe/risk-engine/pkg/worlddata"
)

// Predicate maps one location's environmental snapshot to an
// applicability result. base is the multiplier contributed when the
// condition applies; the alert tier doubles it.
type Predicate func(data worlddata.LocationData, base float64) model.SiteConditionResult

// defaultMultiplier is used when a library condition carries no
// multiplier of its own.
const defaultMultiplier = 0.05

// Predicates is the catalog of condition handles the evaluator knows.
// A library condition whose handle is absent here is skipped.
var Predicates = map[string]Predicate{
	"high_winds":          highWinds,
	"air_quality":         airQuality,
	"heat_index":          heatIndex,
	"cold_index":          coldIndex,
	"lightning":           lightning,
	"heavy_precipitation": heavyPrecipitation,
	"fog_low_visibility":  fogLowVisibility,
	"high_humidity":       highHumidity,
}

// predicateSources names the provider data set each predicate reads.
var predicateSources = map[string]string{
	"high_winds":          "weather",
	"air_quality":         "air_quality",
	"heat_index":          "weather",
	"cold_index":          "weather",
	"lightning":           "weather",
	"heavy_precipitation": "weather",
	"fog_low_visibility":  "weather",
	"high_humidity":       "weather",
}

// sourcesFor returns the distinct provider data sets the given conditions
// need, so one bulk request covers every enabled predicate.
func sourcesFor(conditions []model.LibrarySiteCondition) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range conditions {
		src, ok := predicateSources[c.HandleCode]
		if !ok || seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, src)
	}
	return out
}

// tiered builds the common two-tier result: applies at base, alert at
// double.
func tiered(applies, alert bool, base float64, payload map[string]any) model.SiteConditionResult {
	r := model.SiteConditionResult{Applies: applies, Alert: alert, Payload: payload}
	if alert {
		r.Multiplier = 2 * base
	} else if applies {
		r.Multiplier = base
	}
	return r
}

func highWinds(d worlddata.LocationData, base float64) model.SiteConditionResult {
	gust := d.Weather.GustMPH
	return tiered(gust >= 20, gust >= 30, base, map[string]any{
		"gust_mph":           gust,
		"sustained_wind_mph": d.Weather.SustainedWindMPH,
	})
}

func airQuality(d worlddata.LocationData, base float64) model.SiteConditionResult {
	aqi := d.AirQualityIndex
	// 101 is the bottom of the unhealthy-for-sensitive-groups band, 151
	// the bottom of unhealthy.
	return tiered(aqi >= 101, aqi >= 151, base, map[string]any{
		"air_quality_index": aqi,
	})
}

func heatIndex(d worlddata.LocationData, base float64) model.SiteConditionResult {
	hi := d.Weather.HeatIndexF
	return tiered(hi >= 91, hi >= 103, base, map[string]any{
		"heat_index_f": hi,
		"temp_high_f":  d.Weather.TempHighF,
	})
}

func coldIndex(d worlddata.LocationData, base float64) model.SiteConditionResult {
	wc := d.Weather.WindChillF
	return tiered(wc <= 32, wc <= 0, base, map[string]any{
		"wind_chill_f": wc,
		"temp_low_f":   d.Weather.TempLowF,
	})
}

func lightning(d worlddata.LocationData, base float64) model.SiteConditionResult {
	p := d.Weather.LightningProb
	return tiered(p >= 0.1, p >= 0.3, base, map[string]any{
		"lightning_prob": p,
	})
}

func heavyPrecipitation(d worlddata.LocationData, base float64) model.SiteConditionResult {
	in := d.Weather.PrecipIntensityIn
	return tiered(in >= 0.5, in >= 1.0, base, map[string]any{
		"precip_intensity_in": in,
		"precip_probability":  d.Weather.PrecipProbability,
	})
}

func fogLowVisibility(d worlddata.LocationData, base float64) model.SiteConditionResult {
	vis := d.Weather.VisibilityMiles
	return tiered(vis <= 1.0, vis <= 0.25, base, map[string]any{
		"visibility_miles": vis,
	})
}

func highHumidity(d worlddata.LocationData, base float64) model.SiteConditionResult {
	h := d.Weather.HumidityPct
	return tiered(h >= 80, h >= 95, base, map[string]any{
		"humidity_pct": h,
	})
}
