// Package classify decides whether a raw gateway or backend failure means
// "transaction amount exceeds an account-specific limit". The true limit is
// undocumented and provider error shapes are inconsistent, so matching is
// deliberately loose: a false negative turns a recoverable rejection into a
// hard failure, a false positive costs one unnecessary halving retry —
// neither breaks the adaptive loop.
//
// The matching rules are provider-specific. Swapping providers means
// swapping the tables below, nothing in the orchestrator.
package classify

import (
	"encoding/json"
	"strings"

	"github.com/bytedance/sonic"
)

// limitPhrases are matched case-insensitively against every description
// field and against the raw payload as a last resort.
var limitPhrases = []string{
	"amount exceeds",
	"exceeds maximum amount",
	"maximum amount allowed",
	"amount limit",
}

// limitCodes are structured error codes the provider is known to return for
// per-transaction limit rejections.
var limitCodes = map[string]bool{
	"AMOUNT_LIMIT_EXCEEDED":    true,
	"ORDER_AMOUNT_EXCEEDED":    true,
	"PAYMENT_AMOUNT_TOO_LARGE": true,
}

// gatewayError covers the two shapes seen in the wild: a flat backend
// error string and the provider's nested {error: {code, description,
// reason}} object.
type gatewayError struct {
	Error json.RawMessage `json:"error"`
}

type providerError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Reason      string `json:"reason"`
}

// IsAmountLimit reports whether a raw error payload represents an
// account-limit rejection. Pure: no network, no state.
func IsAmountLimit(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}

	var outer gatewayError
	if err := sonic.Unmarshal(payload, &outer); err == nil && len(outer.Error) > 0 {
		// error may be a plain string or a structured object
		var msg string
		if err := sonic.Unmarshal(outer.Error, &msg); err == nil {
			return matchesPhrase(msg)
		}
		var pe providerError
		if err := sonic.Unmarshal(outer.Error, &pe); err == nil {
			if limitCodes[strings.ToUpper(pe.Code)] {
				return true
			}
			if matchesPhrase(pe.Description) || matchesPhrase(pe.Reason) {
				return true
			}
		}
	}

	// Some callers hand us description text rather than JSON.
	return matchesPhrase(string(payload))
}

// IsAmountLimitText is IsAmountLimit for callers that already hold a bare
// message.
func IsAmountLimitText(msg string) bool {
	return matchesPhrase(msg)
}

func matchesPhrase(s string) bool {
	if s == "" {
		return false
	}
	lower := strings.ToLower(s)
	for _, phrase := range limitPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
