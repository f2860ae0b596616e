package repos

import (
	"github.com/subgate-microservice/subgate-sub000/internal/data/changelog"
	"github.com/subgate-microservice/subgate-sub000/internal/data/sqlstmt"
)

const softDeleteColumn = "deleted_at"

// Tables lists every entity table a unit of work writes through the log.
func Tables() []sqlstmt.TableSpec {
	return []sqlstmt.TableSpec{
		{Name: TablePlan, IDColumn: "id", SoftDeleteColumn: softDeleteColumn, NewRecord: func() any { return &PlanRecord{} }},
		{Name: TableSubscription, IDColumn: "id", SoftDeleteColumn: softDeleteColumn, NewRecord: func() any { return &SubscriptionRecord{} }},
		{Name: TableWebhook, IDColumn: "id", SoftDeleteColumn: softDeleteColumn, NewRecord: func() any { return &WebhookRecord{} }},
		{Name: TableApikey, IDColumn: "id", NewRecord: func() any { return &ApikeyRecord{} }},
		{Name: TableDeliveryTask, IDColumn: "id", NewRecord: func() any { return &DeliveryTaskRecord{} }},
		{Name: TableTelegram, IDColumn: "id", NewRecord: func() any { return &TelegramRecord{} }},
	}
}

func NewRegistry() (*sqlstmt.Registry, error) {
	return sqlstmt.NewRegistry(Tables()...)
}

// Models returns the gorm models to migrate, the log table included.
func Models() []any {
	out := []any{&changelog.Log{}}
	for _, t := range Tables() {
		out = append(out, t.NewRecord())
	}
	return out
}
