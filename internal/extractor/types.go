package extractor

import "strings"

// Criticality is the tri-level urgency that drives dispatch priority.
type Criticality string

const (
	CriticalityHigh   Criticality = "high"
	CriticalityMedium Criticality = "medium"
	CriticalityLow    Criticality = "low"
)

// ParseCriticality normalizes a model-supplied level. Unknown values report false.
func ParseCriticality(s string) (Criticality, bool) {
	switch c := Criticality(strings.ToLower(strings.TrimSpace(s))); c {
	case CriticalityHigh, CriticalityMedium, CriticalityLow:
		return c, true
	default:
		return CriticalityMedium, false
	}
}

// Location is the model's location object kept exactly as it replied,
// including keys outside the prompt schema.
type Location map[string]any

// Field returns the named entry when it is a non-empty string.
func (l Location) Field(key string) *string {
	return stringField(l[key])
}

// CallRecord is the persisted unit of an emergency call. Fields other than
// the four intake fields and Criticality are nil when extraction degraded.
type CallRecord struct {
	CallID          string         `json:"call_id"`
	Timestamp       string         `json:"timestamp"`
	PhoneNumber     string         `json:"phone_number"`
	Transcription   string         `json:"transcription"`
	Location        Location       `json:"location"`
	Address         *string        `json:"address"`
	Criticality     Criticality    `json:"criticality"`
	Condition       *string        `json:"condition"`
	PatientAge      *int           `json:"patient_age"`
	PatientGender   *string        `json:"patient_gender"`
	Symptoms        []string       `json:"symptoms"`
	AdditionalNotes *string        `json:"additional_notes"`
	ExtractedData   map[string]any `json:"extracted_data"`
	AnsweredAt      *string        `json:"answered_at,omitempty"`
}

// Request is one call handed to the extractor. Timestamp is kept verbatim
// when set (re-extraction of an existing call), otherwise stamped now.
type Request struct {
	CallID        string
	Timestamp     string
	Transcription string
	PhoneNumber   string
}

// Outcome separates a full extraction from the conservative fallback record.
type Outcome struct {
	Record   *CallRecord
	Degraded bool
	Reason   string

	// CriticalityDefaulted is set when the model replied but omitted or
	// garbled the criticality, so medium was filled in.
	CriticalityDefaulted bool
}
