package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"dgt-economy-system/utils"
)

// Notifier is the fire-and-forget notification sink. Delivery failures are
// logged and never roll back ledger or mission state.
type Notifier interface {
	Notify(externalUserID, eventType string, payload map[string]string)
}

// HTTPNotifier posts notifications to the platform notification service.
type HTTPNotifier struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	log        *utils.Logger
}

func NewHTTPNotifier() *HTTPNotifier {
	return &HTTPNotifier{
		BaseURL: os.Getenv("NOTIFICATION_SERVICE_URL"),
		Token:   os.Getenv("ECONOMY_SERVICE_TOKEN"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: utils.NewLogger("notifier"),
	}
}

// Notify sends asynchronously; the caller never waits on the sink.
func (n *HTTPNotifier) Notify(externalUserID, eventType string, payload map[string]string) {
	if n.BaseURL == "" {
		return
	}
	go n.send(externalUserID, eventType, payload)
}

func (n *HTTPNotifier) send(externalUserID, eventType string, payload map[string]string) {
	body, err := json.Marshal(map[string]interface{}{
		"user_id":    externalUserID,
		"event_type": eventType,
		"payload":    payload,
	})
	if err != nil {
		n.log.WithError(err).Warn("notification marshal failed")
		return
	}

	url := fmt.Sprintf("%s/api/v1/internal/notifications", n.BaseURL)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.log.WithError(err).Warn("notification request build failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", n.Token)

	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		n.log.WithUserID(externalUserID).WithField("event", eventType).WithError(err).Warn("notification delivery failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.log.WithUserID(externalUserID).WithField("event", eventType).
			WithField("status", resp.StatusCode).Warn("notification rejected by sink")
	}
}

// NoopNotifier swallows everything; used in tests and when no sink is configured.
type NoopNotifier struct{}

func (NoopNotifier) Notify(string, string, map[string]string) {}
