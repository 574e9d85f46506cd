package line

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const DefaultEndpoint = "https://api.line.me/v2/bot/message/multicast"

// MaxRecipients is the multicast limit of the Messaging API per request.
const MaxRecipients = 500

type TextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type MulticastPayload struct {
	To       []string      `json:"to"`
	Messages []TextMessage `json:"messages"`
}

type Client struct {
	Endpoint     string
	ChannelToken string
	HTTP         *http.Client
}

func NewClient(endpoint, token string) *Client {
	return &Client{
		Endpoint:     lo.Ternary(len(endpoint) > 0, endpoint, DefaultEndpoint),
		ChannelToken: token,
		HTTP:         &http.Client{Timeout: 10 * time.Second},
	}
}

func (v *Client) Configured() bool {
	return v != nil && len(v.ChannelToken) > 0
}

// Multicast sends one text message to every recipient, split into batches
// the API accepts. It stops at the first failing batch.
func (v *Client) Multicast(ctx context.Context, to []string, text string) (int, error) {
	to = lo.Uniq(lo.Compact(to))
	if len(to) == 0 {
		return 0, nil
	}

	var sent int
	for _, batch := range lo.Chunk(to, MaxRecipients) {
		if err := v.send(ctx, MulticastPayload{
			To:       batch,
			Messages: []TextMessage{{Type: "text", Text: text}},
		}); err != nil {
			return sent, err
		}
		sent += len(batch)
	}

	log.Debug().Int("recipients", sent).Msg("Sent LINE multicast message.")
	return sent, nil
}

func (v *Client) send(ctx context.Context, payload MulticastPayload) error {
	raw, err := jsoniter.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode multicast payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.Endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+v.ChannelToken)

	resp, err := v.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send multicast: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code: %d, response: %s", resp.StatusCode, body)
	}
	return nil
}
