package attendance

// =============================================================================
// COMPLIANCE SUMMARY - Overall verdict over the fixed check types
// =============================================================================

// overall grades the day. A non-compliant check whose violation scored
// moderate or severe makes the day a violation; any other non-compliance
// is a warning.
func overall(checks []ComplianceCheck, worst map[ComplianceCheckType]Severity) OverallCompliance {
	result := Compliant
	for _, c := range checks {
		if c.Compliant {
			continue
		}
		if worst[c.Type].Rank() >= SeverityModerate.Rank() {
			return ComplianceViolation
		}
		result = ComplianceWarning
	}
	return result
}

// RegradeCompliance recomputes Overall after reviewers changed severities
// or dismissed violations. Dismissed and overturned violations no longer
// count toward the grade.
func RegradeCompliance(s ComplianceSummary, violations []Violation) ComplianceSummary {
	byCode := map[ViolationCode]ComplianceCheckType{}
	for _, r := range rules {
		if r.check != "" {
			byCode[r.code] = r.check
		}
	}
	worst := map[ComplianceCheckType]Severity{}
	for _, v := range violations {
		if v.Status == ViolationDismissed || v.Status == ViolationOverturned {
			continue
		}
		if t, ok := byCode[v.Code]; ok {
			worst[t] = maxSeverity(worst[t], v.Severity)
		}
	}
	s.Overall = overall(s.Checks, worst)
	return s
}
