package notifications

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradelane/backend/pkg/db/models"
	"github.com/tradelane/backend/pkg/enums"
	pkgerrors "github.com/tradelane/backend/pkg/errors"
)

type fakeNotificationRepo struct {
	rows []*models.Notification
}

func (f *fakeNotificationRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeNotificationRepo) Create(ctx context.Context, notification *models.Notification) error {
	notification.ID = uuid.New()
	f.rows = append(f.rows, notification)
	return nil
}

func (f *fakeNotificationRepo) ListByCompany(ctx context.Context, companyID uuid.UUID, limit int) ([]models.Notification, error) {
	var out []models.Notification
	for _, row := range f.rows {
		if row.CompanyID == companyID && len(out) < limit {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (f *fakeNotificationRepo) MarkRead(ctx context.Context, id, companyID uuid.UUID) (bool, error) {
	for _, row := range f.rows {
		if row.ID == id && row.CompanyID == companyID && row.ReadAt == nil {
			now := row.CreatedAt
			row.ReadAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeNotificationRepo) CountUnread(ctx context.Context, companyID uuid.UUID) (int64, error) {
	var count int64
	for _, row := range f.rows {
		if row.CompanyID == companyID && row.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

func newNotificationService(t *testing.T) (Service, *fakeNotificationRepo) {
	t.Helper()
	repo := &fakeNotificationRepo{}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("building notification service: %v", err)
	}
	return svc, repo
}

func TestCreateFillsTemplateAndLink(t *testing.T) {
	svc, _ := newNotificationService(t)
	tradeID := uuid.New()

	notification, err := svc.Create(context.Background(), CreateInput{
		CompanyID: uuid.New(),
		Type:      enums.NotificationTypePayoutDetails,
		TradeID:   &tradeID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if notification.Title != "Payout details needed" {
		t.Fatalf("title = %q", notification.Title)
	}
	if !strings.Contains(notification.Message, tradeID.String()) {
		t.Fatalf("message %q should reference the trade", notification.Message)
	}
	if notification.Link == nil || *notification.Link != "/trades/"+tradeID.String() {
		t.Fatalf("link = %v, want trade link", notification.Link)
	}
}

func TestCreateKeepsExplicitContent(t *testing.T) {
	svc, _ := newNotificationService(t)

	notification, err := svc.Create(context.Background(), CreateInput{
		CompanyID: uuid.New(),
		Type:      enums.NotificationTypeQuoteReceived,
		Title:     "Custom title",
		Message:   "Custom message",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if notification.Title != "Custom title" || notification.Message != "Custom message" {
		t.Fatalf("content overwritten: %q / %q", notification.Title, notification.Message)
	}
	if notification.Link != nil {
		t.Fatal("no trade means no link")
	}
}

func TestCreateRejectsInvalidType(t *testing.T) {
	svc, _ := newNotificationService(t)

	_, err := svc.Create(context.Background(), CreateInput{
		CompanyID: uuid.New(),
		Type:      enums.NotificationType("carrier_pigeon"),
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMarkReadScopedToCompany(t *testing.T) {
	svc, repo := newNotificationService(t)
	companyID := uuid.New()

	notification, err := svc.Create(context.Background(), CreateInput{
		CompanyID: companyID,
		Type:      enums.NotificationTypeQuoteReceived,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Another company cannot read someone else's inbox.
	err = svc.MarkRead(context.Background(), notification.ID, uuid.New())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found for foreign company, got %v", err)
	}

	if err := svc.MarkRead(context.Background(), notification.ID, companyID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if repo.rows[0].ReadAt == nil {
		t.Fatal("notification must be marked read")
	}

	// Reading twice reports not found, matching the conditional update.
	err = svc.MarkRead(context.Background(), notification.ID, companyID)
	typed = pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found on re-read, got %v", err)
	}
}

func TestCountUnread(t *testing.T) {
	svc, _ := newNotificationService(t)
	companyID := uuid.New()

	for i := 0; i < 3; i++ {
		if _, err := svc.Create(context.Background(), CreateInput{
			CompanyID: companyID,
			Type:      enums.NotificationTypeDispatchRequest,
		}); err != nil {
			t.Fatalf("create %d: %v", i+1, err)
		}
	}

	count, err := svc.CountUnread(context.Background(), companyID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("unread = %d, want 3", count)
	}
}

func TestListLimitIsClamped(t *testing.T) {
	svc, _ := newNotificationService(t)
	companyID := uuid.New()

	for i := 0; i < 60; i++ {
		if _, err := svc.Create(context.Background(), CreateInput{
			CompanyID: companyID,
			Type:      enums.NotificationTypeEscrowReleased,
		}); err != nil {
			t.Fatalf("create %d: %v", i+1, err)
		}
	}

	rows, err := svc.ListByCompany(context.Background(), companyID, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 50 {
		t.Fatalf("rows = %d, want default limit 50", len(rows))
	}
}
