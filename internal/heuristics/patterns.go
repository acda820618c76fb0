package heuristics

import "github.com/qorelogic/sentinel/internal/types"

// Synthetic result IDs produced by analyzers rather than regex patterns
const (
	ComplexityPatternID = "CMP001"
	LocalReplaceID      = "DEP001"
	UnstableVersionID   = "DEP002"
	ModParseErrorID     = "DEP003"
)

// DefaultPatterns returns the built-in pattern set. Every call returns a
// fresh slice the caller may modify.
func DefaultPatterns() []types.HeuristicPattern {
	return []types.HeuristicPattern{
		{
			ID:                "INJ001",
			Name:              "SQL Injection Risk",
			Category:          types.CategoryInjection,
			Severity:          types.SeverityCritical,
			CWE:               "CWE-89",
			Pattern:           `(execute|query|raw)\s*\([^)]*\+[^)]*\)`,
			Description:       "Potential SQL injection via string concatenation",
			Remediation:       "Use parameterized queries",
			FalsePositiveRate: 0.2,
			Enabled:           true,
		},
		{
			ID:                "INJ002",
			Name:              "Command Injection Risk",
			Category:          types.CategoryInjection,
			Severity:          types.SeverityCritical,
			CWE:               "CWE-78",
			Pattern:           `(exec|spawn|system)\s*\([^)]*\$\{`,
			Description:       "Potential command injection via template interpolation",
			Remediation:       "Sanitize inputs, avoid shell execution",
			FalsePositiveRate: 0.15,
			Enabled:           true,
		},
		{
			ID:                "INJ003",
			Name:              "Eval Usage",
			Category:          types.CategoryInjection,
			Severity:          types.SeverityHigh,
			CWE:               "CWE-95",
			Pattern:           `\beval\s*\(`,
			Description:       "Use of eval() is dangerous",
			Remediation:       "Avoid eval, use safer alternatives",
			FalsePositiveRate: 0.1,
			Enabled:           true,
		},
		{
			ID:                "SEC001",
			Name:              "Hardcoded API Key",
			Category:          types.CategorySecrets,
			Severity:          types.SeverityCritical,
			CWE:               "CWE-798",
			Pattern:           `(api[_-]?key|apikey)\s*[:=]\s*["'][a-zA-Z0-9]{20,}`,
			Description:       "Potential hardcoded API key",
			Remediation:       "Use environment variables or a secret manager",
			FalsePositiveRate: 0.1,
			Enabled:           true,
		},
		{
			ID:                "SEC002",
			Name:              "Hardcoded Password",
			Category:          types.CategorySecrets,
			Severity:          types.SeverityCritical,
			CWE:               "CWE-798",
			Pattern:           `(password|passwd|pwd)\s*[:=]\s*["'][^"']{8,}`,
			Description:       "Potential hardcoded password",
			Remediation:       "Use environment variables or a secret manager",
			FalsePositiveRate: 0.2,
			Enabled:           true,
		},
		{
			ID:                "SEC003",
			Name:              "AWS Access Key",
			Category:          types.CategorySecrets,
			Severity:          types.SeverityCritical,
			CWE:               "CWE-798",
			Pattern:           `AKIA[0-9A-Z]{16}`,
			Description:       "AWS Access Key ID detected",
			Remediation:       "Use IAM roles or environment variables",
			FalsePositiveRate: 0.05,
			Enabled:           true,
		},
		{
			ID:                "SEC004",
			Name:              "Private Key",
			Category:          types.CategorySecrets,
			Severity:          types.SeverityCritical,
			CWE:               "CWE-321",
			Pattern:           `-----BEGIN (RSA |EC |DSA )?PRIVATE KEY-----`,
			Description:       "Private key embedded in code",
			Remediation:       "Store private keys in secure key management",
			FalsePositiveRate: 0.01,
			Enabled:           true,
		},
		{
			ID:                "PII001",
			Name:              "Social Security Number",
			Category:          types.CategoryPII,
			Severity:          types.SeverityHigh,
			Pattern:           `\b\d{3}-\d{2}-\d{4}\b`,
			Description:       "Potential SSN in code",
			Remediation:       "Remove PII, use tokenization",
			FalsePositiveRate: 0.3,
			Enabled:           true,
		},
		{
			ID:                "PII002",
			Name:              "Credit Card Number",
			Category:          types.CategoryPII,
			Severity:          types.SeverityHigh,
			Pattern:           `\b(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13})\b`,
			Description:       "Potential credit card number",
			Remediation:       "Remove PII, use payment processor tokens",
			FalsePositiveRate: 0.2,
			Enabled:           true,
		},
		{
			ID:                "PII003",
			Name:              "Email Address in Code",
			Category:          types.CategoryPII,
			Severity:          types.SeverityMedium,
			Pattern:           `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`,
			Description:       "Email address found in code",
			Remediation:       "Use configuration for email addresses",
			FalsePositiveRate: 0.4,
			Enabled:           true,
		},
		{
			ID:                "AUTH001",
			Name:              "Weak Password Requirement",
			Category:          types.CategoryAuth,
			Severity:          types.SeverityHigh,
			Pattern:           `password.*length.*[<]\s*[68]`,
			Description:       "Weak password length requirement",
			Remediation:       "Require minimum 12 character passwords",
			FalsePositiveRate: 0.3,
			Enabled:           true,
		},
		{
			// Disabled: fires on nearly every auth handler
			ID:                "AUTH002",
			Name:              "Missing Rate Limiting",
			Category:          types.CategoryAuth,
			Severity:          types.SeverityMedium,
			Pattern:           `\b(login|authenticate|signin)\s*\(`,
			Description:       "Authentication entry point; confirm rate limiting",
			Remediation:       "Implement rate limiting on auth endpoints",
			FalsePositiveRate: 0.5,
			Enabled:           false,
		},
		{
			ID:                "CRYPTO001",
			Name:              "Weak Hash Algorithm",
			Category:          types.CategoryCrypto,
			Severity:          types.SeverityHigh,
			CWE:               "CWE-328",
			Pattern:           `(md5|sha1)\s*\(`,
			Description:       "Use of weak hash algorithm",
			Remediation:       "Use SHA-256 or stronger",
			FalsePositiveRate: 0.2,
			Enabled:           true,
		},
		{
			ID:                "CRYPTO002",
			Name:              "Hardcoded IV",
			Category:          types.CategoryCrypto,
			Severity:          types.SeverityHigh,
			CWE:               "CWE-329",
			Pattern:           `(iv|nonce)\s*[:=]\s*["'][a-fA-F0-9]{16,}`,
			Description:       "Hardcoded initialization vector",
			Remediation:       "Generate a random IV for each encryption",
			FalsePositiveRate: 0.3,
			Enabled:           true,
		},
		{
			ID:                "RES001",
			Name:              "Unbounded Loop",
			Category:          types.CategoryResource,
			Severity:          types.SeverityMedium,
			Pattern:           `while\s*\(\s*true\s*\)`,
			Description:       "Infinite loop detected",
			Remediation:       "Add a loop termination condition",
			FalsePositiveRate: 0.4,
			Enabled:           true,
		},
		{
			ID:                "RES002",
			Name:              "Missing Error Handler",
			Category:          types.CategoryResource,
			Severity:          types.SeverityMedium,
			Pattern:           `\.catch\s*\(\s*\)`,
			Description:       "Empty catch block",
			Remediation:       "Handle errors appropriately",
			FalsePositiveRate: 0.3,
			Enabled:           true,
		},
	}
}
