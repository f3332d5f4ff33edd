// internal/workers/communication/notification-send/models.go
package notificationsend

// Audiences
const (
	AudienceUser         = "user"
	AudienceClientAdmins = "client_admins"
)

// Input describes the notification. Title and body may carry {{key}}
// placeholders filled from Data.
type Input struct {
	Audience string                 `json:"audience"`
	ClientID string                 `json:"clientId"`
	UserID   string                 `json:"userId"`
	Type     string                 `json:"notificationType"`
	Title    string                 `json:"title"`
	Body     string                 `json:"body"`
	Priority string                 `json:"priority"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

type Output struct {
	NotificationID string `json:"notificationId,omitempty"`
	EmailStatus    string `json:"emailStatus,omitempty"`
	SMSStatus      string `json:"smsStatus,omitempty"`
	Audience       string `json:"audience"`
}
