// Package guardrail enforces gateway-side invariants over request payloads
// before dispatch: smart-code format, tenant-filter presence and match, and
// double-entry balance.
package guardrail

import (
	"context"
	"math"
	"regexp"

	"github.com/tidwall/gjson"

	"github.com/heraerp/heraerp-prd-sub016/internal/audit"
	"github.com/heraerp/heraerp-prd-sub016/internal/logging"
	"github.com/heraerp/heraerp-prd-sub016/internal/metrics"
)

// Reason is a guardrail violation code.
type Reason string

const (
	SmartCodeMissing   Reason = "SMARTCODE_MISSING"
	SmartCodeRegexFail Reason = "SMARTCODE_REGEX_FAIL"
	OrgFilterMissing   Reason = "ORG_FILTER_MISSING"
	OrgFilterMismatch  Reason = "ORG_FILTER_MISMATCH"
	GLInvalidLine      Reason = "GL_INVALID_LINE"
	GLNotBalanced      Reason = "GL_NOT_BALANCED"
)

// Violation is the first guardrail failure found in a payload.
type Violation struct {
	Reason   Reason
	Severity audit.Severity
}

// balanceEpsilon is the per-currency tolerance between debit and credit totals.
const balanceEpsilon = 0.01

// smartCodePattern matches HERA smart codes: uppercase dot-delimited segments
// (4 to 9 of them) with a trailing version tag, e.g. HERA.FIN.GL.JE.LINE.v1.
var smartCodePattern = regexp.MustCompile(`^HERA\.[A-Z0-9_]{2,30}(\.[A-Z0-9_]{2,30}){1,6}\.v[0-9]+$`)

// glCategoryPattern marks line smart codes that fall under the general-ledger
// posting category and therefore must balance.
var glCategoryPattern = regexp.MustCompile(`\.GL\.`)

// Validator runs the guardrail checks. It performs no I/O besides audit and
// log emission.
type Validator struct {
	audit  *audit.Log
	logger *logging.Logger
}

// NewValidator creates a Validator emitting to the given audit log.
func NewValidator(auditLog *audit.Log, logger *logging.Logger) *Validator {
	return &Validator{audit: auditLog, logger: logger}
}

// ValidSmartCode reports whether code matches the smart-code pattern.
func ValidSmartCode(code string) bool {
	return smartCodePattern.MatchString(code)
}

// Validate runs the checks in fixed order (smart code first, then tenant
// filter, then balance) and returns the first violation found, or nil.
// organizationID is the resolved tenant, never anything client-supplied.
// requireSmartCode demands a classification code on the payload itself.
func (v *Validator) Validate(ctx context.Context, organizationID string, body []byte, requireSmartCode bool) *Violation {
	payload := gjson.ParseBytes(body)

	if violation := v.checkSmartCode(ctx, payload, requireSmartCode); violation != nil {
		return v.reject(ctx, violation)
	}
	if violation := v.checkOrgFilter(ctx, payload, organizationID); violation != nil {
		return v.reject(ctx, violation)
	}
	if violation := v.checkBalance(ctx, payload); violation != nil {
		return v.reject(ctx, violation)
	}
	return nil
}

func (v *Validator) checkSmartCode(ctx context.Context, payload gjson.Result, required bool) *Violation {
	code := firstString(payload, "smart_code", "entity_data.smart_code", "transaction_data.smart_code")
	if code == "" {
		if required {
			return &Violation{Reason: SmartCodeMissing, Severity: audit.SeverityWarn}
		}
	} else if !ValidSmartCode(code) {
		return &Violation{Reason: SmartCodeRegexFail, Severity: audit.SeverityWarn}
	}

	if v.audit != nil && code != "" {
		v.audit.Record(ctx, audit.SeverityInfo, "smart_code_validation", map[string]interface{}{
			"smart_code": code,
			"valid":      true,
		})
	}

	// Line-level smart codes are validated wherever they appear.
	for _, line := range payload.Get("lines").Array() {
		if lineCode := line.Get("smart_code").String(); lineCode != "" && !ValidSmartCode(lineCode) {
			return &Violation{Reason: SmartCodeRegexFail, Severity: audit.SeverityWarn}
		}
	}
	return nil
}

func (v *Validator) checkOrgFilter(ctx context.Context, payload gjson.Result, organizationID string) *Violation {
	bodyOrg := firstString(payload, "organization_id", "entity_data.organization_id", "transaction_data.organization_id")
	if bodyOrg == "" {
		return &Violation{Reason: OrgFilterMissing, Severity: audit.SeverityWarn}
	}
	if bodyOrg != organizationID {
		// A tenant-filter mismatch signals a possible cross-tenant write
		// attempt and is always escalated.
		if v.audit != nil {
			v.audit.Record(ctx, audit.SeverityCritical, "security_violation", map[string]interface{}{
				"violation":    string(OrgFilterMismatch),
				"body_org":     bodyOrg,
				"resolved_org": organizationID,
			})
		}
		return &Violation{Reason: OrgFilterMismatch, Severity: audit.SeverityCritical}
	}
	return nil
}

func (v *Validator) checkBalance(ctx context.Context, payload gjson.Result) *Violation {
	lines := payload.Get("lines").Array()
	if len(lines) == 0 {
		return nil
	}

	type totals struct {
		debits  float64
		credits float64
	}
	byCurrency := make(map[string]*totals)

	for _, line := range lines {
		code := line.Get("smart_code").String()
		if !glCategoryPattern.MatchString(code) {
			continue
		}

		side := line.Get("line_data.side").String()
		amount := line.Get("line_amount").Float()
		if amount < 0 {
			return &Violation{Reason: GLInvalidLine, Severity: audit.SeverityWarn}
		}

		currency := line.Get("transaction_currency_code").String()
		if currency == "" {
			currency = "USD"
		}
		group, ok := byCurrency[currency]
		if !ok {
			group = &totals{}
			byCurrency[currency] = group
		}

		switch side {
		case "DR":
			group.debits += amount
		case "CR":
			group.credits += amount
		default:
			return &Violation{Reason: GLInvalidLine, Severity: audit.SeverityWarn}
		}
	}

	for currency, group := range byCurrency {
		balanced := math.Abs(group.debits-group.credits) <= balanceEpsilon
		if v.audit != nil {
			v.audit.RecordBalance(ctx, currency, group.debits, group.credits, balanced)
		}
		if !balanced {
			// Re-verified by the backing store, but the gateway fails fast
			// and keeps its own audit trail.
			if v.audit != nil {
				v.audit.Record(ctx, audit.SeverityCritical, "security_violation", map[string]interface{}{
					"violation": string(GLNotBalanced),
					"currency":  currency,
					"debits":    group.debits,
					"credits":   group.credits,
				})
			}
			return &Violation{Reason: GLNotBalanced, Severity: audit.SeverityCritical}
		}
	}
	return nil
}

func (v *Validator) reject(ctx context.Context, violation *Violation) *Violation {
	metrics.RecordGuardrailViolation(string(violation.Reason))
	if v.logger != nil {
		v.logger.WithContext(ctx).WithField("reason", string(violation.Reason)).Warn("guardrail violation")
	}
	return violation
}

func firstString(payload gjson.Result, paths ...string) string {
	for _, path := range paths {
		if value := payload.Get(path); value.Exists() && value.String() != "" {
			return value.String()
		}
	}
	return ""
}
