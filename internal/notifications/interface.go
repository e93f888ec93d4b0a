package notifications

import "github.com/narrativescanner/scanner/internal/models"

// NotificationInterface defines the contract for notification services
type NotificationInterface interface {
	SendJobSummary(job models.IngestionJob) error
}
