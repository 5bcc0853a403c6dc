package enums

import "fmt"

// NotificationType maps to the notification_type_enum enum in Postgres.
type NotificationType string

const (
	NotificationTypeTradeStateChanged NotificationType = "trade_state_changed"
	NotificationTypeQuoteReceived     NotificationType = "quote_received"
	NotificationTypeContractReady     NotificationType = "contract_ready"
	NotificationTypePayoutDetails     NotificationType = "payout_details_needed"
	NotificationTypeDispatchRequest   NotificationType = "dispatch_request"
	NotificationTypeEscrowReleased    NotificationType = "escrow_released"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeTradeStateChanged,
	NotificationTypeQuoteReceived,
	NotificationTypeContractReady,
	NotificationTypePayoutDetails,
	NotificationTypeDispatchRequest,
	NotificationTypeEscrowReleased,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}

// NotificationChannel identifies how a provider message is delivered.
type NotificationChannel string

const (
	NotificationChannelPush NotificationChannel = "push"
	NotificationChannelSMS  NotificationChannel = "sms"
)

// IsValid reports whether the channel is deliverable.
func (c NotificationChannel) IsValid() bool {
	return c == NotificationChannelPush || c == NotificationChannelSMS
}
