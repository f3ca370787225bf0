package report

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// text returns a trimmed string, or "" for blanks and non-scalars.
func text(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// number coerces v to a finite float; anything non-numeric becomes 0.
func number(v interface{}) float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		s := strings.TrimSpace(strings.NewReplacer(",", "", "%", "", "$", "").Replace(t))
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func optionalNumber(v interface{}) *float64 {
	if v == nil {
		return nil
	}
	f := number(v)
	return &f
}

// oneOf lower-cases v and returns it if it is in allowed, def otherwise.
func oneOf(v interface{}, allowed []string, def string) string {
	s := strings.ToLower(text(v))
	for _, a := range allowed {
		if s == a {
			return s
		}
	}
	return def
}

func texts(v interface{}) []string {
	switch t := v.(type) {
	case []interface{}:
		var out []string
		for _, it := range t {
			if s := text(it); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
	}
	return nil
}

func objects(v interface{}) []map[string]interface{} {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var out []map[string]interface{}
	for _, it := range items {
		if m, ok := it.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

// field reads the first present key, so camelCase and snake_case drafts both work.
func field(m map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func coerceMetrics(v interface{}) []KeyMetric {
	var out []KeyMetric
	for _, m := range objects(v) {
		name := text(field(m, "name", "metric", "label"))
		if name == "" {
			continue
		}
		km := KeyMetric{
			Name:        name,
			Value:       number(field(m, "value")),
			Unit:        text(field(m, "unit")),
			Change:      optionalNumber(field(m, "change", "changePercent", "change_percent")),
			Description: text(field(m, "description", "context")),
		}
		if t := field(m, "trend", "direction"); t != nil {
			km.Trend = oneOf(t, Directions, defaultDirection)
		}
		out = append(out, km)
	}
	return out
}

func coerceTrends(v interface{}) []TrendAnalysis {
	var out []TrendAnalysis
	for _, m := range objects(v) {
		metric := text(field(m, "metric", "name", "title"))
		if metric == "" {
			continue
		}
		out = append(out, TrendAnalysis{
			Metric:      metric,
			Direction:   oneOf(field(m, "direction", "trend"), Directions, defaultDirection),
			Magnitude:   oneOf(field(m, "magnitude"), Magnitudes, defaultMagnitude),
			Description: text(field(m, "description", "analysis")),
			Period:      text(field(m, "period", "timeframe")),
		})
	}
	return out
}

func coerceRisks(v interface{}) []DetectedRisk {
	var out []DetectedRisk
	for _, m := range objects(v) {
		title := text(field(m, "title", "name", "risk"))
		if title == "" {
			continue
		}
		out = append(out, DetectedRisk{
			Title:        title,
			Description:  text(field(m, "description")),
			Severity:     oneOf(field(m, "severity"), Severities, defaultSeverity),
			AffectedArea: text(field(m, "affectedArea", "affected_area", "area")),
			Evidence:     texts(field(m, "evidence")),
		})
	}
	return out
}

func coerceRootCauses(v interface{}) []RootCause {
	var out []RootCause
	for _, m := range objects(v) {
		issue := text(field(m, "issue", "title", "problem"))
		if issue == "" {
			continue
		}
		out = append(out, RootCause{
			Issue:      issue,
			Cause:      text(field(m, "cause", "rootCause", "root_cause")),
			Evidence:   texts(field(m, "evidence")),
			Confidence: clamp01(number(field(m, "confidence"))),
		})
	}
	return out
}

func coerceRecommendations(v interface{}) []Recommendation {
	var out []Recommendation
	for _, m := range objects(v) {
		title := text(field(m, "title", "action", "name"))
		if title == "" {
			continue
		}
		out = append(out, Recommendation{
			Title:          title,
			Description:    text(field(m, "description")),
			Priority:       oneOf(field(m, "priority"), Priorities, defaultPriority),
			Effort:         oneOf(field(m, "effort"), Efforts, defaultEffort),
			ExpectedImpact: text(field(m, "expectedImpact", "expected_impact", "impact")),
			Category:       text(field(m, "category")),
		})
	}
	return out
}

// backfillMetrics appends numeric fields found in tool data until the cap.
// Top-level numbers and numbers one level down are used, in tool-name then
// key order.
func backfillMetrics(metrics []KeyMetric, collected map[string]interface{}) []KeyMetric {
	have := make(map[string]bool, len(metrics))
	for _, m := range metrics {
		have[strings.ToLower(m.Name)] = true
	}
	add := func(name, source string, v float64) {
		if name == "" || len(metrics) >= maxMetrics || have[strings.ToLower(name)] {
			return
		}
		have[strings.ToLower(name)] = true
		metrics = append(metrics, KeyMetric{Name: name, Value: v, Source: source})
	}

	tools := make([]string, 0, len(collected))
	for name := range collected {
		tools = append(tools, name)
	}
	sort.Strings(tools)

	for _, toolName := range tools {
		obj, ok := normalize(collected[toolName]).(map[string]interface{})
		if !ok {
			continue
		}
		for _, k := range sortedKeys(obj) {
			switch v := obj[k].(type) {
			case float64:
				add(humanize(k), toolName, v)
			case map[string]interface{}:
				for _, nk := range sortedKeys(v) {
					if f, ok := v[nk].(float64); ok {
						add(humanize(k+"_"+nk), toolName, f)
					}
				}
			}
		}
	}
	return metrics
}

// normalize turns arbitrary handler output into plain JSON values.
func normalize(v interface{}) interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// humanize turns snake_case, kebab-case, dotted or camelCase keys into Title Case words.
func humanize(key string) string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	runes := []rune(key)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == '.' || r == ' ':
			flush()
		case unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	for i, w := range words {
		rs := []rune(strings.ToLower(w))
		rs[0] = unicode.ToUpper(rs[0])
		words[i] = string(rs)
	}
	return strings.Join(words, " ")
}

func capMetrics(list []KeyMetric) []KeyMetric {
	if len(list) > maxMetrics {
		return list[:maxMetrics]
	}
	return list
}

func capSection[T any](list []T) []T {
	if len(list) > maxSection {
		return list[:maxSection]
	}
	return list
}
