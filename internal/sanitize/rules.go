package sanitize

import "regexp"

// AttackCategory names a pattern family the sanitizer detects.
type AttackCategory string

const (
	CategorySQL              AttackCategory = "sql"
	CategorySSRF             AttackCategory = "ssrf"
	CategoryJailbreak        AttackCategory = "jailbreak"
	CategoryXSS              AttackCategory = "xss"
	CategoryCommand          AttackCategory = "command"
	CategoryPath             AttackCategory = "path"
	CategoryNullByte         AttackCategory = "null_byte"
	CategoryXML              AttackCategory = "xml"
	CategoryScript           AttackCategory = "script"
	CategoryDirectOverride   AttackCategory = "direct_override"
	CategoryRoleManipulation AttackCategory = "role_manipulation"
	CategoryPromptExtraction AttackCategory = "prompt_extraction"
	CategoryAuthorityClaim   AttackCategory = "authority_claim"
	CategoryDataExfiltration AttackCategory = "data_exfiltration"
)

// Severity classes map to score weights; see Weight.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Weight returns the risk contribution of a severity class.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 10
	case SeverityHigh:
		return 5
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Rule is one detection pattern within a category family.
type Rule struct {
	Name     string
	Pattern  string
	Category AttackCategory
	Severity Severity

	regex *regexp.Regexp
}

// DefaultRules returns the built-in detection rule set. Patterns are compiled
// lazily by the Sanitizer; a pattern that fails to compile is dropped there,
// never surfaced as a classification failure.
func DefaultRules() []Rule {
	return []Rule{
		// SQL injection
		{Name: "sql_drop_table", Pattern: `(?i)'\s*;\s*drop\s+table`, Category: CategorySQL, Severity: SeverityCritical},
		{Name: "sql_union_select", Pattern: `(?i)\bunion\s+(all\s+)?select\b`, Category: CategorySQL, Severity: SeverityHigh},
		{Name: "sql_or_tautology", Pattern: `(?i)'\s*or\s+'?1'?\s*=\s*'?1`, Category: CategorySQL, Severity: SeverityHigh},
		{Name: "sql_stacked_delete", Pattern: `(?i);\s*(delete|truncate)\s+(from\s+)?\w+`, Category: CategorySQL, Severity: SeverityHigh},

		// SSRF
		{Name: "ssrf_loopback", Pattern: `(?i)https?://(127\.0\.0\.1|localhost|0\.0\.0\.0|\[::1\])`, Category: CategorySSRF, Severity: SeverityHigh},
		{Name: "ssrf_metadata", Pattern: `169\.254\.169\.254`, Category: CategorySSRF, Severity: SeverityCritical},
		{Name: "ssrf_file_scheme", Pattern: `(?i)\bfile://`, Category: CategorySSRF, Severity: SeverityMedium},

		// Jailbreak
		{Name: "jailbreak_dan", Pattern: `(?i)\b(DAN|do\s+anything\s+now)\b`, Category: CategoryJailbreak, Severity: SeverityCritical},
		{Name: "jailbreak_literal", Pattern: `(?i)\bjailbreak`, Category: CategoryJailbreak, Severity: SeverityCritical},
		{Name: "jailbreak_unrestricted", Pattern: `(?i)unrestricted\s+mode`, Category: CategoryJailbreak, Severity: SeverityHigh},
		{Name: "jailbreak_dev_mode", Pattern: `(?i)(developer|debug|god)\s+mode\s+(enabled|activated|on)`, Category: CategoryJailbreak, Severity: SeverityHigh},

		// XSS
		{Name: "xss_script_tag", Pattern: `(?i)<script\b`, Category: CategoryXSS, Severity: SeverityHigh},
		{Name: "xss_js_scheme", Pattern: `(?i)javascript\s*:`, Category: CategoryXSS, Severity: SeverityMedium},
		{Name: "xss_event_handler", Pattern: `(?i)\bon(load|error|click|mouseover)\s*=`, Category: CategoryXSS, Severity: SeverityMedium},

		// Command injection
		{Name: "cmd_chained_shell", Pattern: `(?i)[;&|]\s*(rm|curl|wget|nc|bash|sh)\s+-?`, Category: CategoryCommand, Severity: SeverityCritical},
		{Name: "cmd_substitution", Pattern: "\\$\\([^)]+\\)|`[^`]+`", Category: CategoryCommand, Severity: SeverityHigh},
		{Name: "cmd_rm_rf", Pattern: `(?i)\brm\s+-rf?\b`, Category: CategoryCommand, Severity: SeverityHigh},

		// Path traversal
		{Name: "path_dotdot", Pattern: `\.\./\.\./`, Category: CategoryPath, Severity: SeverityHigh},
		{Name: "path_etc", Pattern: `(?i)/etc/(passwd|shadow|sudoers)`, Category: CategoryPath, Severity: SeverityHigh},

		// Null byte
		{Name: "null_byte_raw", Pattern: "\x00", Category: CategoryNullByte, Severity: SeverityMedium},
		{Name: "null_byte_encoded", Pattern: `%00`, Category: CategoryNullByte, Severity: SeverityMedium},

		// XML external entity
		{Name: "xml_doctype_entity", Pattern: `(?i)<!DOCTYPE[^>]*\[`, Category: CategoryXML, Severity: SeverityHigh},
		{Name: "xml_entity", Pattern: `(?i)<!ENTITY\s`, Category: CategoryXML, Severity: SeverityHigh},

		// Script evaluation
		{Name: "script_eval", Pattern: `(?i)\beval\s*\(`, Category: CategoryScript, Severity: SeverityMedium},
		{Name: "script_child_process", Pattern: `(?i)require\s*\(\s*['"]child_process['"]`, Category: CategoryScript, Severity: SeverityHigh},
		{Name: "script_os_system", Pattern: `(?i)\bos\.system\s*\(`, Category: CategoryScript, Severity: SeverityMedium},

		// Direct instruction override
		{Name: "override_ignore_previous", Pattern: `(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions`, Category: CategoryDirectOverride, Severity: SeverityCritical},
		{Name: "override_disregard", Pattern: `(?i)disregard\s+(all\s+)?(prior|previous)\s+(instructions|context|rules)`, Category: CategoryDirectOverride, Severity: SeverityCritical},
		{Name: "override_forget", Pattern: `(?i)forget\s+(everything|all)\s+(you\s+were\s+told|your\s+instructions)`, Category: CategoryDirectOverride, Severity: SeverityCritical},
		{Name: "override_new_instructions", Pattern: `(?i)(new|updated|revised)\s+instructions?\s*:`, Category: CategoryDirectOverride, Severity: SeverityHigh},

		// Role manipulation
		{Name: "role_you_are_now", Pattern: `(?i)you\s+are\s+now\b`, Category: CategoryRoleManipulation, Severity: SeverityHigh},
		{Name: "role_act_as", Pattern: `(?i)act\s+as\s+(the\s+)?(system|admin|root|an?\s+unrestricted)`, Category: CategoryRoleManipulation, Severity: SeverityHigh},
		{Name: "role_pretend", Pattern: `(?i)pretend\s+(to\s+be|you\s+are)\b`, Category: CategoryRoleManipulation, Severity: SeverityMedium},
		{Name: "role_system_prefix", Pattern: `(?im)^\s*system\s*:\s*`, Category: CategoryRoleManipulation, Severity: SeverityHigh},

		// Prompt extraction
		{Name: "extract_show_prompt", Pattern: `(?i)(reveal|show|print|repeat|output)\s+(me\s+)?(your|the)\s+(system\s+)?prompt`, Category: CategoryPromptExtraction, Severity: SeverityHigh},
		{Name: "extract_instructions", Pattern: `(?i)what\s+(are|were)\s+your\s+(original\s+)?instructions`, Category: CategoryPromptExtraction, Severity: SeverityHigh},

		// Authority claims
		{Name: "authority_developer", Pattern: `(?i)i\s+am\s+(your\s+)?(developer|creator|admin(istrator)?|operator)`, Category: CategoryAuthorityClaim, Severity: SeverityMedium},
		{Name: "authority_vendor", Pattern: `(?i)this\s+is\s+(openai|anthropic|your\s+maker)`, Category: CategoryAuthorityClaim, Severity: SeverityMedium},

		// Data exfiltration
		{Name: "exfil_secrets", Pattern: `(?i)(send|post|upload|email|exfiltrate)\b.{0,60}\b(api[_\s-]?keys?|passwords?|secrets?|credentials?|tokens?)`, Category: CategoryDataExfiltration, Severity: SeverityCritical},
		{Name: "exfil_curl_post", Pattern: `(?i)curl\s+(-\w+\s+)*-(d|-data)\b`, Category: CategoryDataExfiltration, Severity: SeverityMedium},
	}
}
