package enums

import "fmt"

// CheckoutStage describes where an in-progress checkout conversation is.
type CheckoutStage string

const (
	CheckoutStageNone           CheckoutStage = "none"
	CheckoutStageAskReturning   CheckoutStage = "ask_returning"
	CheckoutStageAskEmailLookup CheckoutStage = "ask_email_lookup"
	CheckoutStageAskEmail       CheckoutStage = "ask_email"
	CheckoutStageAskName        CheckoutStage = "ask_name"
	CheckoutStageAskCompany     CheckoutStage = "ask_company"
	CheckoutStageAskAddress     CheckoutStage = "ask_address"
	CheckoutStageAskPhone       CheckoutStage = "ask_phone"
	CheckoutStageAskConfirm     CheckoutStage = "ask_confirm"
)

var validCheckoutStages = []CheckoutStage{
	CheckoutStageNone,
	CheckoutStageAskReturning,
	CheckoutStageAskEmailLookup,
	CheckoutStageAskEmail,
	CheckoutStageAskName,
	CheckoutStageAskCompany,
	CheckoutStageAskAddress,
	CheckoutStageAskPhone,
	CheckoutStageAskConfirm,
}

// IsValid reports whether the value matches the canonical checkout stage enum.
func (s CheckoutStage) IsValid() bool {
	for _, candidate := range validCheckoutStages {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseCheckoutStage converts the raw string to CheckoutStage.
func ParseCheckoutStage(value string) (CheckoutStage, error) {
	for _, candidate := range validCheckoutStages {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid checkout stage %q", value)
}
