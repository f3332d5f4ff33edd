// internal/workers/communication/whatsapp-dispatch/models.go
package whatsappdispatch

type Input struct {
	ClientID  string `json:"clientId"`
	MessageID string `json:"messageId"`
}

type Output struct {
	MessageID  string `json:"messageId"`
	Status     string `json:"dispatchStatus"`
	ExternalID string `json:"externalId,omitempty"`
}
