package pex

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
)

type ExchangePayload struct {
	UserID      string `json:"userId"`
	RewardID    string `json:"rewardId"`
	Points      int    `json:"points"`
	CallbackURL string `json:"callbackUrl,omitempty"`
}

type ExchangeReceipt struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Client struct {
	BaseURL     string
	APIKey      string
	CallbackURL string
	HTTP        *http.Client
}

func NewClient(baseURL, apiKey, callbackURL string) *Client {
	return &Client{
		BaseURL:     strings.TrimSuffix(baseURL, "/"),
		APIKey:      apiKey,
		CallbackURL: callbackURL,
		HTTP:        &http.Client{Timeout: 15 * time.Second},
	}
}

func (v *Client) Configured() bool {
	return v != nil && len(v.BaseURL) > 0 && len(v.APIKey) > 0
}

func (v *Client) RequestExchange(ctx context.Context, payload ExchangePayload) (ExchangeReceipt, error) {
	var receipt ExchangeReceipt
	if len(payload.CallbackURL) == 0 {
		payload.CallbackURL = v.CallbackURL
	}

	raw, err := jsoniter.Marshal(payload)
	if err != nil {
		return receipt, fmt.Errorf("failed to encode exchange payload: %v", err)
	}

	url := v.BaseURL + "/exchange"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return receipt, err
	}
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+v.APIKey)

	log.Debug().Str("url", url).Str("reward", payload.RewardID).Int("points", payload.Points).Msg("Requesting point exchange...")

	resp, err := v.HTTP.Do(req)
	if err != nil {
		return receipt, fmt.Errorf("failed to request exchange: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return receipt, fmt.Errorf("failed to read response body: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return receipt, fmt.Errorf("unexpected status code: %d, response: %s", resp.StatusCode, body)
	}

	if len(bytes.TrimSpace(body)) > 0 {
		if err := jsoniter.Unmarshal(body, &receipt); err != nil {
			return receipt, fmt.Errorf("failed to parse exchange receipt: %v", err)
		}
	}
	return receipt, nil
}
