package enums

import "fmt"

// QuoteStatus maps to the quote_status_enum enum in Postgres.
type QuoteStatus string

const (
	QuoteStatusOpen     QuoteStatus = "open"
	QuoteStatusSelected QuoteStatus = "selected"
	QuoteStatusRejected QuoteStatus = "rejected"
)

var validQuoteStatuses = []QuoteStatus{
	QuoteStatusOpen,
	QuoteStatusSelected,
	QuoteStatusRejected,
}

// IsValid reports whether the value matches the canonical quote status enum.
func (s QuoteStatus) IsValid() bool {
	for _, candidate := range validQuoteStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseQuoteStatus converts raw input into QuoteStatus.
func ParseQuoteStatus(value string) (QuoteStatus, error) {
	for _, candidate := range validQuoteStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid quote status %q", value)
}
