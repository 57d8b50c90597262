package restaurant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Ticket is the answer to a placed order.
type Ticket struct {
	Ticket string `json:"ticket"`
	Order  Order  `json:"order"`
}

// Delivery is the answer to a pickup.
type Delivery struct {
	Ticket string  `json:"ticket"`
	Order  Order   `json:"order"`
	Cost   float64 `json:"cost"`
}

// RandomOrder picks one to five items, each a hamburger, fries or a drink.
func RandomOrder(r *rand.Rand) Order {
	var o Order
	for range 1 + r.IntN(5) {
		switch r.IntN(3) {
		case 0:
			o.Hamburger++
		case 1:
			o.Fries++
		default:
			o.Drink++
		}
	}
	return o
}

// StatusError is a non-2xx answer from the drive-through.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("drive-through answered %d: %s", e.Code, e.Body)
}

// Client talks to a drive-through HTTP front.
type Client struct {
	base string
	hc   *http.Client
}

func NewClient(addr string, timeout time.Duration) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{base: strings.TrimRight(addr, "/"), hc: &http.Client{Timeout: timeout}}
}

func (c *Client) PlaceOrder(ctx context.Context, o Order) (Ticket, error) {
	var t Ticket
	body, err := json.Marshal(o)
	if err != nil {
		return t, err
	}
	err = c.post(ctx, "/orders", body, &t)
	return t, err
}

func (c *Client) Pickup(ctx context.Context, ticket string) (Delivery, error) {
	var d Delivery
	err := c.post(ctx, "/orders/"+url.PathEscape(ticket)+"/pickup", nil, &d)
	return d, err
}

func (c *Client) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
