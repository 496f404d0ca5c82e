package extractor

import "fmt"

const extractionPrompt = `You are an emergency call dispatcher AI. Extract structured information from the following emergency call transcription.

Call Transcription:
---
%s
---

Extract the following information and return ONLY a valid JSON object with no additional text:
{
  "location": {
    "address": "full address if mentioned",
    "landmark": "nearby landmarks if mentioned",
    "city": "city name if mentioned",
    "coordinates": null
  },
  "criticality": "high|medium|low based on symptoms and urgency",
  "condition": "brief description of medical condition",
  "patient_age": number or null,
  "patient_gender": "male|female|other or null",
  "symptoms": ["list of symptoms mentioned"],
  "additional_notes": "any other relevant information"
}

Criticality Assessment Rules (IMPORTANT):
- HIGH: life-threatening situations such as:
  * Unconscious or unresponsive patients
  * Severe chest pain with difficulty breathing
  * Severe allergic reactions with breathing problems
  * Major trauma with heavy bleeding
  * Cardiac arrest or stroke symptoms
  * Words like "urgent", "critical", "emergency", "life-threatening", "immediately"
  * Multiple victims or mass casualty incidents

- MEDIUM: serious but not immediately life-threatening:
  * Severe pain but patient is conscious
  * Injuries that need medical attention but patient is stable
  * Moderate bleeding
  * Patient can still communicate

- LOW: non-urgent situations:
  * Minor injuries
  * Stable patients needing transport
  * Routine medical assistance
  * Non-life-threatening conditions

Extract location details as accurately as possible.
List all symptoms mentioned.
Use null for anything the caller did not say.
Return valid JSON only, no markdown formatting.`

// BuildPrompt embeds the transcript into the fixed extraction prompt.
func BuildPrompt(transcription string) string {
	return fmt.Sprintf(extractionPrompt, transcription)
}
