// Package sanitizer scores background-task output for prompt-injection
// risk before it is stored and surfaced to the parent conversation.
package sanitizer

import (
	"fmt"
	"strings"

	"github.com/wasilibs/go-re2"
	"golang.org/x/text/unicode/norm"
)

const DefaultRiskThreshold = 30

type Config struct {
	RiskThreshold int
}

type pattern struct {
	re          *re2.Regexp
	contextType string
	riskWeight  int
}

var dangerousPatterns = []pattern{
	{
		re:          re2.MustCompile(`(?i)(system|assistant|user)\s*:\s*`),
		contextType: "role_manipulation",
		riskWeight:  20,
	},
	{
		re:          re2.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|rules?|prompts?)`),
		contextType: "role_manipulation",
		riskWeight:  30,
	},
	{
		re:          re2.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior)\s+(instructions?|rules?|prompts?)`),
		contextType: "role_manipulation",
		riskWeight:  30,
	},
	{
		re:          re2.MustCompile(`(?i)new\s+instructions?\s*:`),
		contextType: "direct_injection",
		riskWeight:  25,
	},
	{
		re:          re2.MustCompile(`(?i)override\s+(previous|prior|default|system)\s+(instructions?|rules?)`),
		contextType: "direct_injection",
		riskWeight:  25,
	},
	{
		re:          re2.MustCompile(`[A-Za-z0-9+/]{200,}={0,2}`),
		contextType: "encoded_injection",
		riskWeight:  15,
	},
	{
		re:          re2.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}]`),
		contextType: "encoded_injection",
		riskWeight:  20,
	},
	{
		re:          re2.MustCompile(`<\|(?:system|assistant|user|im_start|im_end)[^|]*\|>`),
		contextType: "delimiter_attack",
		riskWeight:  25,
	},
	{
		re:          re2.MustCompile(`(?i)</?\s*(system|assistant|instructions?)\s*>`),
		contextType: "delimiter_attack",
		riskWeight:  25,
	},
}

// Validator scores content against the known injection patterns.
type Validator struct {
	config Config
}

func NewValidator(cfg Config) *Validator {
	if cfg.RiskThreshold == 0 {
		cfg.RiskThreshold = DefaultRiskThreshold
	}
	return &Validator{config: cfg}
}

type Result struct {
	Safe      bool
	Detected  []string
	RiskScore int
}

// Validate scores content. Pattern matching runs on an NFKC-normalized,
// control-stripped copy so homoglyph and zero-width evasion is caught.
func (v *Validator) Validate(content string) Result {
	result := Result{Safe: true}
	if len(content) == 0 {
		return result
	}

	normalized := normalizeForDetection(content)
	for _, p := range dangerousPatterns {
		if p.re.MatchString(normalized) || p.re.MatchString(content) {
			result.Detected = append(result.Detected, p.contextType)
			result.RiskScore += p.riskWeight
		}
	}

	if result.RiskScore >= v.config.RiskThreshold {
		result.Safe = false
	}
	return result
}

// Sanitize replaces every dangerous pattern occurrence with a redaction
// marker.
func Sanitize(content string) string {
	result := content
	for _, p := range dangerousPatterns {
		result = p.re.ReplaceAllString(result, "[REDACTED]")
	}
	return result
}

// SanitizeOutput prepares background-task output for storage. High-risk
// content is replaced wholesale; lower-risk matches are redacted in place.
func (v *Validator) SanitizeOutput(output string) string {
	validation := v.Validate(output)
	if !validation.Safe {
		return fmt.Sprintf("[SANITIZED - risk: %d, patterns: %v]",
			validation.RiskScore, validation.Detected)
	}
	if len(validation.Detected) > 0 {
		return Sanitize(output)
	}
	return output
}

func normalizeForDetection(s string) string {
	normalized := norm.NFKC.String(s)

	var result strings.Builder
	for _, r := range normalized {
		if r >= 32 || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}
	return strings.ToLower(result.String())
}
