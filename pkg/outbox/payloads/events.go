package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/tradelane/backend/pkg/enums"
)

// TradeCreatedEvent signals a buyer opened a new RFQ.
type TradeCreatedEvent struct {
	TradeID     uuid.UUID `json:"trade_id"`
	BuyerID     uuid.UUID `json:"buyer_id"`
	ProductName string    `json:"product_name"`
	Quantity    int       `json:"quantity"`
	Currency    string    `json:"currency"`
}

// TradeStateChangedEvent is emitted on every committed lifecycle transition.
type TradeStateChangedEvent struct {
	TradeID   uuid.UUID        `json:"trade_id"`
	BuyerID   uuid.UUID        `json:"buyer_id"`
	SellerID  *uuid.UUID       `json:"seller_id,omitempty"`
	FromState enums.TradeState `json:"from_state"`
	ToState   enums.TradeState `json:"to_state"`
	ActorRole string           `json:"actor_role,omitempty"`
}

// QuoteSubmittedEvent is emitted when a seller quotes an open RFQ.
type QuoteSubmittedEvent struct {
	QuoteID        uuid.UUID `json:"quote_id"`
	TradeID        uuid.UUID `json:"trade_id"`
	SellerID       uuid.UUID `json:"seller_id"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	LeadTimeDays   int       `json:"lead_time_days"`
}

// QuoteSelectedEvent is emitted when the buyer accepts a quote.
type QuoteSelectedEvent struct {
	QuoteID  uuid.UUID `json:"quote_id"`
	TradeID  uuid.UUID `json:"trade_id"`
	BuyerID  uuid.UUID `json:"buyer_id"`
	SellerID uuid.UUID `json:"seller_id"`
}

// ContractSignedEvent is emitted once both parties have signed.
type ContractSignedEvent struct {
	ContractID uuid.UUID `json:"contract_id"`
	TradeID    uuid.UUID `json:"trade_id"`
	SignedAt   time.Time `json:"signed_at"`
}

// EscrowFundedEvent confirms captured funds are held for a trade.
type EscrowFundedEvent struct {
	TradeID    uuid.UUID           `json:"trade_id"`
	EscrowID   uuid.UUID           `json:"escrow_id"`
	GrossCents int64               `json:"gross_cents"`
	Currency   string              `json:"currency"`
	Method     enums.PaymentMethod `json:"method"`
	CaptureRef string              `json:"capture_ref"`
	FundedAt   time.Time           `json:"funded_at"`
}

// EscrowReleasedEvent reports a completed payout to the seller.
type EscrowReleasedEvent struct {
	TradeID          uuid.UUID `json:"trade_id"`
	EscrowID         uuid.UUID `json:"escrow_id"`
	SellerID         uuid.UUID `json:"seller_id"`
	NetReleaseCents  int64     `json:"net_release_cents"`
	PlatformFeeCents int64     `json:"platform_fee_cents"`
	ReleaseRef       string    `json:"release_ref"`
	ReleasedAt       time.Time `json:"released_at"`
}

// EscrowReleaseParkedEvent signals a release is held for missing payout details.
type EscrowReleaseParkedEvent struct {
	TradeID  uuid.UUID `json:"trade_id"`
	EscrowID uuid.UUID `json:"escrow_id"`
	SellerID uuid.UUID `json:"seller_id"`
	Reason   string    `json:"reason"`
}

// EscrowReleaseFailedEvent reports a payout attempt that did not complete.
type EscrowReleaseFailedEvent struct {
	TradeID  uuid.UUID `json:"trade_id"`
	EscrowID uuid.UUID `json:"escrow_id"`
	Reason   string    `json:"reason"`
}

// EscrowRefundedEvent reports funds returned to the buyer.
type EscrowRefundedEvent struct {
	TradeID    uuid.UUID `json:"trade_id"`
	EscrowID   uuid.UUID `json:"escrow_id"`
	BuyerID    uuid.UUID `json:"buyer_id"`
	GrossCents int64     `json:"gross_cents"`
	RefundedAt time.Time `json:"refunded_at"`
}

// DispatchRequestedEvent opens a pickup request to logistics providers.
type DispatchRequestedEvent struct {
	TradeID       uuid.UUID   `json:"trade_id"`
	PickupCity    string      `json:"pickup_city"`
	CargoType     string      `json:"cargo_type"`
	CargoWeightKg float64     `json:"cargo_weight_kg"`
	ProviderIDs   []uuid.UUID `json:"provider_ids"`
}

// DispatchFailedEvent reports that no provider could take the load.
type DispatchFailedEvent struct {
	TradeID uuid.UUID `json:"trade_id"`
	Reason  string    `json:"reason"`
}

// ProviderNotifiedEvent records the outreach to a single provider.
type ProviderNotifiedEvent struct {
	TradeID    uuid.UUID                 `json:"trade_id"`
	ProviderID uuid.UUID                 `json:"provider_id"`
	Channel    enums.NotificationChannel `json:"channel"`
}

// ShipmentAssignedEvent reports an accepted dispatch request.
type ShipmentAssignedEvent struct {
	TradeID    uuid.UUID `json:"trade_id"`
	ProviderID uuid.UUID `json:"provider_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

// NotificationRequestedEvent tells downstream systems to alert a company.
type NotificationRequestedEvent struct {
	TradeID   uuid.UUID              `json:"trade_id"`
	CompanyID uuid.UUID              `json:"company_id"`
	Type      enums.NotificationType `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
}
