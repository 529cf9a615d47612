package guardrail

import (
	"context"
	"fmt"
	"testing"

	"github.com/heraerp/heraerp-prd-sub016/internal/audit"
)

const testOrg = "org-a"

func newTestValidator() (*Validator, *audit.Log) {
	log := audit.NewLog(100, nil, nil, nil)
	return NewValidator(log, nil), log
}

func body(smartCode string) []byte {
	return []byte(fmt.Sprintf(`{"smart_code":%q,"organization_id":%q}`, smartCode, testOrg))
}

func TestSmartCodePattern(t *testing.T) {
	cases := []struct {
		code  string
		valid bool
	}{
		{"HERA.FIN.GL.JE.LINE.v1", true},
		{"HERA.INV.MOVE.v2", true},
		{"HERA.CRM.CUST.ENTITY.ITEM.FIELD.SUB.EXT.v10", true},
		{"hera.fin.gl", false},
		{"HERA.FIN", false},
		{"HERA.FIN.GL.JE.LINE", false},
		{"HERA.FIN.GL.JE.LINE.V1", false},
		{"FIN.GL.JE.LINE.v1", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := ValidSmartCode(tc.code); got != tc.valid {
			t.Errorf("ValidSmartCode(%q) = %v, want %v", tc.code, got, tc.valid)
		}
	}
}

func TestValidateSmartCodeViolations(t *testing.T) {
	v, _ := newTestValidator()

	if violation := v.Validate(context.Background(), testOrg, body("hera.fin.gl"), true); violation == nil || violation.Reason != SmartCodeRegexFail {
		t.Fatalf("expected SMARTCODE_REGEX_FAIL, got %+v", violation)
	}

	missing := []byte(fmt.Sprintf(`{"organization_id":%q}`, testOrg))
	if violation := v.Validate(context.Background(), testOrg, missing, true); violation == nil || violation.Reason != SmartCodeMissing {
		t.Fatalf("expected SMARTCODE_MISSING, got %+v", violation)
	}

	// Not required: absence is fine.
	if violation := v.Validate(context.Background(), testOrg, missing, false); violation != nil {
		t.Fatalf("expected pass, got %+v", violation)
	}
}

func TestValidateOrgFilter(t *testing.T) {
	v, log := newTestValidator()

	missing := []byte(`{"smart_code":"HERA.FIN.GL.JE.LINE.v1"}`)
	if violation := v.Validate(context.Background(), testOrg, missing, true); violation == nil || violation.Reason != OrgFilterMissing {
		t.Fatalf("expected ORG_FILTER_MISSING, got %+v", violation)
	}

	mismatch := []byte(`{"smart_code":"HERA.FIN.GL.JE.LINE.v1","organization_id":"org-b"}`)
	violation := v.Validate(context.Background(), testOrg, mismatch, true)
	if violation == nil || violation.Reason != OrgFilterMismatch {
		t.Fatalf("expected ORG_FILTER_MISMATCH, got %+v", violation)
	}

	critical := 0
	for _, event := range log.Recent(0) {
		if event.Severity == audit.SeverityCritical && event.Type == "security_violation" {
			critical++
		}
	}
	if critical != 1 {
		t.Fatalf("expected exactly one critical audit event, got %d", critical)
	}
}

func txnBody(amountCR string) []byte {
	return []byte(fmt.Sprintf(`{
		"smart_code": "HERA.FIN.GL.TXN.JE.v1",
		"organization_id": %q,
		"lines": [
			{"smart_code":"HERA.FIN.GL.JE.LINE.v1","line_amount":100,"line_data":{"side":"DR"},"transaction_currency_code":"USD"},
			{"smart_code":"HERA.FIN.GL.JE.LINE.v1","line_amount":%s,"line_data":{"side":"CR"},"transaction_currency_code":"USD"}
		]
	}`, testOrg, amountCR))
}

func TestValidateBalance(t *testing.T) {
	v, _ := newTestValidator()

	if violation := v.Validate(context.Background(), testOrg, txnBody("100"), true); violation != nil {
		t.Fatalf("balanced lines rejected: %+v", violation)
	}

	if violation := v.Validate(context.Background(), testOrg, txnBody("90"), true); violation == nil || violation.Reason != GLNotBalanced {
		t.Fatalf("expected GL_NOT_BALANCED, got %+v", violation)
	}

	// Within epsilon.
	if violation := v.Validate(context.Background(), testOrg, txnBody("100.005"), true); violation != nil {
		t.Fatalf("within-epsilon imbalance rejected: %+v", violation)
	}

	// Just over epsilon.
	if violation := v.Validate(context.Background(), testOrg, txnBody("100.02"), true); violation == nil || violation.Reason != GLNotBalanced {
		t.Fatalf("expected GL_NOT_BALANCED for over-epsilon, got %+v", violation)
	}
}

func TestValidateBalancePerCurrency(t *testing.T) {
	v, _ := newTestValidator()

	multi := []byte(fmt.Sprintf(`{
		"smart_code": "HERA.FIN.GL.TXN.JE.v1",
		"organization_id": %q,
		"lines": [
			{"smart_code":"HERA.FIN.GL.JE.LINE.v1","line_amount":100,"line_data":{"side":"DR"},"transaction_currency_code":"USD"},
			{"smart_code":"HERA.FIN.GL.JE.LINE.v1","line_amount":100,"line_data":{"side":"CR"},"transaction_currency_code":"USD"},
			{"smart_code":"HERA.FIN.GL.JE.LINE.v1","line_amount":50,"line_data":{"side":"DR"},"transaction_currency_code":"EUR"},
			{"smart_code":"HERA.FIN.GL.JE.LINE.v1","line_amount":40,"line_data":{"side":"CR"},"transaction_currency_code":"EUR"}
		]
	}`, testOrg))
	if violation := v.Validate(context.Background(), testOrg, multi, true); violation == nil || violation.Reason != GLNotBalanced {
		t.Fatalf("expected GL_NOT_BALANCED for EUR group, got %+v", violation)
	}
}

func TestValidateInvalidLines(t *testing.T) {
	v, _ := newTestValidator()

	badSide := []byte(fmt.Sprintf(`{
		"smart_code": "HERA.FIN.GL.TXN.JE.v1",
		"organization_id": %q,
		"lines": [{"smart_code":"HERA.FIN.GL.JE.LINE.v1","line_amount":100,"line_data":{"side":"DEBIT"},"transaction_currency_code":"USD"}]
	}`, testOrg))
	if violation := v.Validate(context.Background(), testOrg, badSide, true); violation == nil || violation.Reason != GLInvalidLine {
		t.Fatalf("expected GL_INVALID_LINE for side, got %+v", violation)
	}

	negative := []byte(fmt.Sprintf(`{
		"smart_code": "HERA.FIN.GL.TXN.JE.v1",
		"organization_id": %q,
		"lines": [{"smart_code":"HERA.FIN.GL.JE.LINE.v1","line_amount":-5,"line_data":{"side":"DR"},"transaction_currency_code":"USD"}]
	}`, testOrg))
	if violation := v.Validate(context.Background(), testOrg, negative, true); violation == nil || violation.Reason != GLInvalidLine {
		t.Fatalf("expected GL_INVALID_LINE for amount, got %+v", violation)
	}
}

func TestNonGLLinesSkipBalance(t *testing.T) {
	v, _ := newTestValidator()

	inventory := []byte(fmt.Sprintf(`{
		"smart_code": "HERA.INV.MOVE.TXN.v1",
		"organization_id": %q,
		"lines": [{"smart_code":"HERA.INV.MOVE.LINE.ITEM.v1","line_amount":100,"line_data":{"side":"DR"},"transaction_currency_code":"USD"}]
	}`, testOrg))
	if violation := v.Validate(context.Background(), testOrg, inventory, true); violation != nil {
		t.Fatalf("non-GL lines should skip balance check, got %+v", violation)
	}
}

func TestViolationOrder(t *testing.T) {
	v, _ := newTestValidator()

	// Bad smart code and missing org: smart code is checked first.
	out := v.Validate(context.Background(), testOrg, []byte(`{"smart_code":"nope"}`), true)
	if out == nil || out.Reason != SmartCodeRegexFail {
		t.Fatalf("expected smart-code violation first, got %+v", out)
	}
}
