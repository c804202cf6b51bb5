package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/seorin-works/backend-atelier/internal/resilience"
)

// ErrAccountUnusable is returned when the channel account cannot
// authenticate a push, expired or revoked tokens in practice.
var ErrAccountUnusable = errors.New("channel: account credentials unusable")

// Cafe24Client pushes prices through the Cafe24 admin API. Requests go
// through the resilience wrapper so a flapping mall does not stall the
// whole push queue.
type Cafe24Client struct {
	HTTP       *resilience.HTTPClient
	BaseURL    string
	APIVersion string
	Now        func() time.Time
}

type cafe24PricePayload struct {
	Request struct {
		Product struct {
			Price string `json:"price"`
		} `json:"product"`
	} `json:"request"`
}

// PushPrice updates the selling price of one product in the mall.
func (c *Cafe24Client) PushPrice(ctx context.Context, acct Account, req PushRequest) error {
	if !acct.Usable(c.now()) {
		return fmt.Errorf("%w: mall %s status %s", ErrAccountUnusable, acct.MallID, acct.Status)
	}
	if req.ChannelProductID == "" {
		return errors.New("channel: push requires a channel product id")
	}

	var payload cafe24PricePayload
	payload.Request.Product.Price = fmt.Sprintf("%d", req.PriceKRW)
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("channel: encode price payload: %w", err)
	}

	url := fmt.Sprintf("%s/api/v2/admin/products/%s", c.baseURL(acct.MallID), req.ChannelProductID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("channel: build push request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+acct.AccessToken)
	httpReq.Header.Set("X-Cafe24-Api-Version", c.apiVersion())

	resp, err := c.client().Do(ctx, httpReq)
	if err != nil {
		return fmt.Errorf("channel: push to mall %s: %w", acct.MallID, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}
	return fmt.Errorf("channel: mall %s rejected push with status %d", acct.MallID, resp.StatusCode)
}

func (c *Cafe24Client) baseURL(mallID string) string {
	if base := strings.TrimSpace(c.BaseURL); base != "" {
		return strings.TrimRight(base, "/")
	}
	return fmt.Sprintf("https://%s.cafe24api.com", mallID)
}

func (c *Cafe24Client) apiVersion() string {
	if c.APIVersion != "" {
		return c.APIVersion
	}
	return "2024-06-01"
}

func (c *Cafe24Client) client() *resilience.HTTPClient {
	if c.HTTP != nil {
		return c.HTTP
	}
	return resilience.NewHTTPClient(nil)
}

func (c *Cafe24Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
