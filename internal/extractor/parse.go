package extractor

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const fence = "```"

// cleanReply strips a surrounding code fence and its optional language tag.
func cleanReply(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, fence) {
		return s
	}
	s = strings.TrimPrefix(s, fence)

	if i := strings.IndexByte(s, '\n'); i >= 0 {
		if tag := strings.TrimSpace(s[:i]); tag == "" || isLangTag(tag) {
			s = s[i+1:]
		}
	} else {
		s = strings.TrimLeft(s, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
	}

	if j := strings.LastIndex(s, fence); j >= 0 {
		s = s[:j]
	}
	return strings.TrimSpace(s)
}

func isLangTag(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}

// decodeReply turns the model reply into a JSON object. When the cleaned
// text does not decode and is not an array, the outermost brace span is
// tried once.
func decodeReply(raw string) (map[string]any, error) {
	cleaned := cleanReply(raw)
	if cleaned == "" {
		return nil, errors.New("empty reply")
	}

	obj, err := decodeObject(cleaned)
	if err == nil {
		return obj, nil
	}

	if strings.HasPrefix(cleaned, "[") {
		return nil, err
	}
	start, end := strings.IndexByte(cleaned, '{'), strings.LastIndexByte(cleaned, '}')
	if start >= 0 && end > start {
		if obj, innerErr := decodeObject(cleaned[start : end+1]); innerErr == nil {
			return obj, nil
		}
	}
	return nil, err
}

func decodeObject(s string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("reply is not a JSON object")
	}
	return obj, nil
}

// mapFields flattens the decoded reply onto base. The second result reports
// whether criticality had to fall back to medium.
func mapFields(base CallRecord, m map[string]any) (CallRecord, bool) {
	rec := base
	rec.ExtractedData = m

	if loc, ok := m["location"].(map[string]any); ok {
		rec.Location = Location(loc)
		rec.Address = rec.Location.Field("address")
	}

	defaulted := true
	if s, ok := m["criticality"].(string); ok {
		rec.Criticality, ok = ParseCriticality(s)
		defaulted = !ok
	}
	if defaulted {
		rec.Criticality = CriticalityMedium
	}

	rec.Condition = stringField(m["condition"])
	rec.PatientAge = ageField(m["patient_age"])
	rec.PatientGender = stringField(m["patient_gender"])
	rec.AdditionalNotes = stringField(m["additional_notes"])
	rec.Symptoms = symptomsField(m["symptoms"])

	return rec, defaulted
}

func stringField(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	return &s
}

func ageField(v any) *int {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || f < 0 || f > 150 {
		return nil
	}
	age := int(math.Floor(f))
	return &age
}

func symptomsField(v any) []string {
	out := []string{}
	switch x := v.(type) {
	case []any:
		for _, item := range x {
			if s := stringField(item); s != nil {
				out = append(out, *s)
			}
		}
	case string:
		if s := stringField(x); s != nil {
			out = append(out, *s)
		}
	}
	return out
}
