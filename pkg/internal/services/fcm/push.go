package fcm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jwt"
)

const (
	DefaultEndpoint       = "https://fcm.googleapis.com"
	DefaultTokenURL       = "https://oauth2.googleapis.com/token"
	MessagingScope        = "https://www.googleapis.com/auth/firebase.messaging"
	legacyRecipientsLimit = 1000
)

type Notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"-"`
}

type serviceAccount struct {
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// Client delivers push notifications through the HTTP v1 API when a token
// source is present, or through the legacy server key otherwise.
type Client struct {
	Endpoint    string
	ProjectID   string
	ServerKey   string
	TokenSource oauth2.TokenSource
	HTTP        *http.Client
}

func NewClient(projectID, credentialsFile, serverKey string) (*Client, error) {
	client := &Client{
		Endpoint:  DefaultEndpoint,
		ProjectID: projectID,
		ServerKey: serverKey,
		HTTP:      &http.Client{Timeout: 10 * time.Second},
	}
	if len(credentialsFile) == 0 {
		return client, nil
	}

	raw, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read service account: %v", err)
	}
	var account serviceAccount
	if err := jsoniter.Unmarshal(raw, &account); err != nil {
		return nil, fmt.Errorf("failed to parse service account: %v", err)
	}
	if len(client.ProjectID) == 0 {
		client.ProjectID = account.ProjectID
	}

	cfg := &jwt.Config{
		Email:      account.ClientEmail,
		PrivateKey: []byte(account.PrivateKey),
		Scopes:     []string{MessagingScope},
		TokenURL:   lo.Ternary(len(account.TokenURI) > 0, account.TokenURI, DefaultTokenURL),
	}
	client.TokenSource = cfg.TokenSource(context.Background())
	return client, nil
}

func (v *Client) Configured() bool {
	if v == nil {
		return false
	}
	return (v.TokenSource != nil && len(v.ProjectID) > 0) || len(v.ServerKey) > 0
}

// Send pushes the notification to every token and returns how many were accepted.
func (v *Client) Send(ctx context.Context, tokens []string, notify Notification) (int, error) {
	tokens = lo.Uniq(lo.Compact(tokens))
	if len(tokens) == 0 {
		return 0, nil
	}
	if v.TokenSource != nil && len(v.ProjectID) > 0 {
		return v.sendV1(ctx, tokens, notify)
	}
	if len(v.ServerKey) > 0 {
		return v.sendLegacy(ctx, tokens, notify)
	}
	return 0, fmt.Errorf("push credentials are not configured")
}

func (v *Client) sendV1(ctx context.Context, tokens []string, notify Notification) (int, error) {
	token, err := v.TokenSource.Token()
	if err != nil {
		return 0, fmt.Errorf("failed to obtain access token: %v", err)
	}

	url := fmt.Sprintf("%s/v1/projects/%s/messages:send", v.Endpoint, v.ProjectID)
	var sent int
	var lastErr error
	for _, item := range tokens {
		payload := map[string]any{
			"message": map[string]any{
				"token":        item,
				"notification": notify,
				"data":         lo.Ternary(notify.Data != nil, notify.Data, map[string]string{}),
			},
		}
		if err := v.post(ctx, url, "Bearer "+token.AccessToken, payload); err != nil {
			log.Warn().Err(err).Msg("Unable to deliver push notification to device...")
			lastErr = err
			continue
		}
		sent++
	}

	if sent == 0 && lastErr != nil {
		return 0, lastErr
	}
	return sent, nil
}

func (v *Client) sendLegacy(ctx context.Context, tokens []string, notify Notification) (int, error) {
	url := v.Endpoint + "/fcm/send"
	var sent int
	for _, batch := range lo.Chunk(tokens, legacyRecipientsLimit) {
		payload := map[string]any{
			"registration_ids": batch,
			"notification":     notify,
			"data":             lo.Ternary(notify.Data != nil, notify.Data, map[string]string{}),
		}
		if err := v.post(ctx, url, "key="+v.ServerKey, payload); err != nil {
			return sent, err
		}
		sent += len(batch)
	}
	return sent, nil
}

func (v *Client) post(ctx context.Context, url, authorization string, payload any) error {
	raw, err := jsoniter.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode push payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(fiber.HeaderAuthorization, authorization)

	resp, err := v.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send push: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code: %d, response: %s", resp.StatusCode, body)
	}
	return nil
}
