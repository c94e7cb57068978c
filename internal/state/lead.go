// ABOUTME: Lead field extraction from a lead conversation's remote session state
// ABOUTME: The lead agent publishes collected fields under capitalized keys

package state

import "math"

// LeadFromSession builds a Lead from a lead conversation's remote session
// state. The lead agent publishes collected fields under capitalized keys
// (Name, Type, Company, ...). Absent fields degrade to empty strings; an
// absent or unusable current_stage defaults to stage 1.
func LeadFromSession(sessionID string, st map[string]any) Lead {
	lead := Lead{SessionID: sessionID, Stage: 1}

	get := func(key string) string {
		if v, ok := st[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}

	lead.Name = get("Name")
	lead.Type = get("Type")
	lead.Company = get("Company")
	lead.Website = get("Website")
	lead.Phone = get("Phone")
	lead.Email = get("Email")
	lead.Address = get("Address")
	lead.Requirements = get("Requirements")
	lead.Notes = get("Notes")

	if v, ok := st["current_stage"]; ok {
		if n, ok := numericStage(v); ok {
			lead.Stage = n
		}
	}
	if tags, ok := st["user_tags"]; ok {
		lead.UserTags = stringSlice(tags)
	}

	return lead
}

// numericStage accepts the number shapes a JSON-decoded state can carry.
// Floats truncate: the agent writes whole-valued floats like 2.0.
func numericStage(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

func stringSlice(v any) []string {
	switch list := v.(type) {
	case []string:
		return copyStrings(list)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
