package audit

import "encoding/json"

// piiFields are the snapshot keys rewritten by a data-erasure request.
// Structural fields (status, versions, timestamps) are preserved so the
// trail stays meaningful for other subjects referenced in the same entry.
var piiFields = []string{"display_name", "email", "comment", "decision_notes", "form_payload"}

// RedactSnapshot blanks PII-bearing fields of a JSON snapshot. Snapshots that
// fail to parse are replaced wholesale rather than leaking PII.
func RedactSnapshot(snapshot []byte) []byte {
	if len(snapshot) == 0 {
		return snapshot
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(snapshot, &doc); err != nil {
		return []byte(`{"redacted":true}`)
	}

	redactMap(doc)

	out, err := json.Marshal(doc)
	if err != nil {
		return []byte(`{"redacted":true}`)
	}
	return out
}

func redactMap(doc map[string]interface{}) {
	for _, field := range piiFields {
		if _, ok := doc[field]; ok {
			doc[field] = "[REDACTED]"
		}
	}
	for _, v := range doc {
		if nested, ok := v.(map[string]interface{}); ok {
			redactMap(nested)
		}
	}
}
