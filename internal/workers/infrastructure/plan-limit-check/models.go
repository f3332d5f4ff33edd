// internal/workers/infrastructure/plan-limit-check/models.go
package planlimitcheck

type Input struct {
	ClientID string `json:"clientId"`
	Resource string `json:"resource"`
}

// Output reports the decision. Limit 0 means unlimited.
type Output struct {
	Allowed   bool   `json:"allowed"`
	Plan      string `json:"plan"`
	Resource  string `json:"resource"`
	Limit     int    `json:"limit"`
	Usage     int    `json:"usage"`
	Remaining int    `json:"remaining"`
}
