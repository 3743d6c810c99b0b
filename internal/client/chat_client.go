package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SendResult is the channel-level outcome of a delivery attempt. OK is
// false when the chat API itself rejected the message (unknown channel,
// revoked permissions); transport problems are returned as errors
// instead, so callers can tell the two apart.
type SendResult struct {
	OK         bool
	DeliveryID string
	Error      string
}

type ChatClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewChatClient(baseURL, token string) *ChatClient {
	return &ChatClient{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type sendRequest struct {
	ChannelID string `json:"channelId"`
	Text      string `json:"text"`
}

type sendResponse struct {
	OK         bool   `json:"ok"`
	DeliveryID string `json:"deliveryId"`
	Error      string `json:"error"`
}

func (c *ChatClient) SendMessage(ctx context.Context, channelID, text string) (SendResult, error) {
	reqBody, err := json.Marshal(sendRequest{
		ChannelID: channelID,
		Text:      text,
	})
	if err != nil {
		return SendResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(reqBody))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return SendResult{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var sr sendResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return SendResult{}, fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}

	// The chat API reports channel-level refusals with ok=false and a
	// machine-readable error string.
	if !sr.OK {
		if sr.Error == "" {
			return SendResult{}, fmt.Errorf("unexpected response: status=%d body=%q", resp.StatusCode, string(body))
		}
		return SendResult{OK: false, Error: sr.Error}, nil
	}

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return SendResult{}, fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}
	if sr.DeliveryID == "" {
		return SendResult{}, fmt.Errorf("missing deliveryId in response body=%q", string(body))
	}

	return SendResult{OK: true, DeliveryID: sr.DeliveryID}, nil
}
