package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ROMARIC12/chat-sync/internal/models"
)

// HistoryClient talks to the upstream chat backend's REST surface:
// history reads plus the delete/save mutation endpoints.
type HistoryClient struct {
	base    string
	token   string
	selfID  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	retry   time.Duration
	log     *zap.SugaredLogger
}

type HistoryConfig struct {
	BaseURL         string
	Token           string
	SelfID          string
	Timeout         time.Duration
	RetryMaxElapsed time.Duration
	Logger          *zap.SugaredLogger
}

func NewHistoryClient(cfg HistoryConfig) *HistoryClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryMaxElapsed == 0 {
		cfg.RetryMaxElapsed = 20 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    16,
		IdleConnTimeout: 60 * time.Second,
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "chatroom-history",
		Timeout: 15 * time.Second,
	})
	return &HistoryClient{
		base:    cfg.BaseURL,
		token:   cfg.Token,
		selfID:  cfg.SelfID,
		http:    &http.Client{Transport: tr, Timeout: cfg.Timeout},
		breaker: cb,
		retry:   cfg.RetryMaxElapsed,
		log:     cfg.Logger,
	}
}

// FetchHistory loads the persisted message sequence for a conversation.
func (c *HistoryClient) FetchHistory(ctx context.Context, key models.ConversationKey) ([]models.Message, error) {
	var url string
	if key.IsRoom() {
		url = fmt.Sprintf("%s/chatroom/group-history/%s", c.base, key.RoomID())
	} else {
		url = fmt.Sprintf("%s/chatroom/history?user1=%s&user2=%s", c.base, c.selfID, key.PeerID())
	}
	body, err := c.getWithRetry(ctx, url)
	if err != nil {
		return nil, err
	}
	var msgs []models.Message
	if err := json.Unmarshal(body, &msgs); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return msgs, nil
}

// DeleteMessage issues DELETE /chatroom/message/:id.
func (c *HistoryClient) DeleteMessage(ctx context.Context, messageID string) error {
	url := fmt.Sprintf("%s/chatroom/message/%s", c.base, messageID)
	return c.mutate(ctx, http.MethodDelete, url)
}

// SaveMessage issues PATCH /chatroom/message/:id/save, toggling the caller's
// bookmark server-side.
func (c *HistoryClient) SaveMessage(ctx context.Context, messageID string) error {
	url := fmt.Sprintf("%s/chatroom/message/%s/save", c.base, messageID)
	return c.mutate(ctx, http.MethodPatch, url)
}

// OnlineUsers fetches the current presence roster. Used only as a fallback
// while the push channel is down.
func (c *HistoryClient) OnlineUsers(ctx context.Context) ([]string, error) {
	body, err := c.getWithRetry(ctx, c.base+"/users/online")
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(body, &ids); err != nil {
		return nil, fmt.Errorf("decode online users: %w", err)
	}
	return ids, nil
}

func (c *HistoryClient) getWithRetry(ctx context.Context, url string) ([]byte, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		var body []byte
		op := func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return backoff.Permanent(err)
			}
			c.authorize(req)
			resp, err := c.http.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 500 {
				io.Copy(io.Discard, resp.Body)
				return fmt.Errorf("upstream status %d", resp.StatusCode)
			}
			if resp.StatusCode >= 400 {
				io.Copy(io.Discard, resp.Body)
				return backoff.Permanent(fmt.Errorf("upstream status %d", resp.StatusCode))
			}
			body, err = io.ReadAll(resp.Body)
			return err
		}
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = c.retry
		if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
			return nil, err
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

func (c *HistoryClient) mutate(ctx context.Context, method, url string) error {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	return nil
}

func (c *HistoryClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
