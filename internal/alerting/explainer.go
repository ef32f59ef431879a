package alerting

import (
	"fmt"
	"sort"
	"strings"

	"driftwatch/internal/model"
)

// Explainer annotates an alert candidate with a human-readable narrative
// before it reaches the channels.
type Explainer interface {
	Explain(cand model.AlertCandidate) model.AlertCandidate
}

var metricReadable = map[string]string{
	model.MetricAvgLatency:    "average latency",
	model.MetricP95Latency:    "p95 latency",
	model.MetricErrorRate:     "error rate",
	model.MetricRequestVolume: "request volume",
}

// TemplateExplainer builds alert text from the candidate's signals. It
// describes each deviated metric with direction and magnitude, names the
// metrics that stayed stable, and interprets the combined pattern.
type TemplateExplainer struct{}

func NewTemplateExplainer() *TemplateExplainer { return &TemplateExplainer{} }

func (e *TemplateExplainer) Explain(cand model.AlertCandidate) model.AlertCandidate {
	cand.Explanation = e.narrative(cand)
	cand.Insights = e.insights(cand)
	cand.Recommendations = e.recommendations(cand)
	return cand
}

func (e *TemplateExplainer) narrative(cand model.AlertCandidate) string {
	if len(cand.Signals) == 0 {
		return fmt.Sprintf("No anomalies detected for %s.", cand.Endpoint)
	}

	var parts []string
	triggered := make(map[string]bool, len(cand.Signals))

	for _, sig := range cand.Signals {
		triggered[sig.MetricName] = true
		switch sig.MetricName {
		case model.MetricAvgLatency, model.MetricP95Latency:
			parts = append(parts, describeLatency(sig))
		case model.MetricErrorRate:
			parts = append(parts, describeErrorRate(sig))
		case model.MetricRequestVolume:
			parts = append(parts, describeVolume(sig))
		}
	}
	parts = compact(parts)
	if len(parts) == 0 {
		return fmt.Sprintf("Anomalies detected for %s over %s, but unable to generate detailed explanation.",
			cand.Endpoint, windowLabel(cand))
	}

	b := strings.Builder{}
	b.WriteString(strings.Join(parts, " and "))
	fmt.Fprintf(&b, " for %s over %s.", cand.Endpoint, windowLabel(cand))

	if stable := stableMetrics(triggered); len(stable) != 0 {
		if len(stable) == 1 {
			fmt.Fprintf(&b, " %s remained stable.", capitalize(stable[0]))
		} else {
			fmt.Fprintf(&b, " %s and %s remained stable.",
				strings.Join(stable[:len(stable)-1], ", "), stable[len(stable)-1])
		}
	}

	st := cand.SignalTypes
	switch {
	case st.HasLatency && st.HasError && !st.HasTraffic:
		b.WriteString(" This indicates backend degradation rather than a traffic surge.")
	case st.HasLatency && st.HasTraffic && !st.HasError:
		b.WriteString(" This suggests traffic-related performance issues.")
	case st.HasError && !st.HasTraffic:
		b.WriteString(" This points to service reliability problems.")
	}
	return b.String()
}

func describeLatency(sig model.Anomaly) string {
	if sig.BaselineValue == 0 {
		return ""
	}
	name := metricReadable[sig.MetricName]
	pct := (sig.CurrentValue - sig.BaselineValue) / sig.BaselineValue * 100
	dir := "increased"
	if pct < 0 {
		dir = "decreased"
	}
	return fmt.Sprintf("%s %s %.1f%% to %.1fms (from %.1fms)",
		name, dir, abs(pct), sig.CurrentValue, sig.BaselineValue)
}

func describeErrorRate(sig model.Anomaly) string {
	dir := "rose"
	if sig.CurrentValue < sig.BaselineValue {
		dir = "fell"
	}
	return fmt.Sprintf("error rate %s from %.1f%% to %.1f%%",
		dir, sig.BaselineValue*100, sig.CurrentValue*100)
}

func describeVolume(sig model.Anomaly) string {
	if sig.BaselineValue == 0 {
		return ""
	}
	pct := (sig.CurrentValue - sig.BaselineValue) / sig.BaselineValue * 100
	dir := "increased"
	if pct < 0 {
		dir = "decreased"
	}
	return fmt.Sprintf("request volume %s %.1f%% to %d (from %.1f)",
		dir, abs(pct), int(sig.CurrentValue), sig.BaselineValue)
}

func (e *TemplateExplainer) insights(cand model.AlertCandidate) []string {
	var out []string
	st := cand.SignalTypes
	dc := cand.DriftContext

	if st.HasLatency {
		if dc.IsSustainedDegradation {
			out = append(out, "Sustained latency degradation indicates performance regression")
		} else {
			out = append(out, "Latency increase affecting user experience")
		}
	}
	if st.HasError {
		out = append(out, "Rising error rate causing failed requests")
		if dc.ErrorDriftScore > 0.5 {
			out = append(out, "Error rate trend suggests systemic issues")
		}
	}
	if st.HasTraffic && !st.HasLatency && !st.HasError {
		out = append(out, "Traffic shift without correlated degradation")
	}
	return out
}

func (e *TemplateExplainer) recommendations(cand model.AlertCandidate) []string {
	var out []string
	st := cand.SignalTypes

	switch {
	case st.HasLatency && st.HasError:
		out = append(out,
			"Check backend service health and recent deployments",
			"Review database query performance and connection pools")
	case st.HasLatency && st.HasTraffic:
		out = append(out,
			"Verify autoscaling is keeping up with request volume",
			"Consider rate limiting or capacity changes for this endpoint")
	case st.HasLatency:
		out = append(out, "Profile the endpoint for slow dependencies or lock contention")
	case st.HasError:
		out = append(out,
			"Inspect error logs for the dominant failure mode",
			"Check upstream dependency availability")
	}
	if cand.DriftContext.IsSustainedDegradation {
		out = append(out, "Degradation has persisted across windows; consider rollback")
	}
	return out
}

func windowLabel(cand model.AlertCandidate) string {
	sec := int(cand.WindowEnd.Sub(cand.WindowStart).Seconds())
	if sec <= 0 && len(cand.Signals) > 0 {
		sec = cand.Signals[0].WindowSec
	}
	switch {
	case sec <= 0:
		return "an unknown window"
	case sec < 60:
		return fmt.Sprintf("%d seconds", sec)
	case sec%60 == 0:
		min := sec / 60
		if min == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", min)
	default:
		return fmt.Sprintf("%d seconds", sec)
	}
}

func stableMetrics(triggered map[string]bool) []string {
	var names []string
	for metric, readable := range metricReadable {
		if !triggered[metric] {
			names = append(names, readable)
		}
	}
	sort.Strings(names)
	return names
}

func compact(parts []string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
