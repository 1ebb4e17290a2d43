// Package bessa is a thin client for the upstream canteen ordering API.
//
// Every request carries the caller's token in the Authorization header
// ("Token <key>"); the server never polls the upstream with its own identity
// except for the guest token used during login.
package bessa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// FlexInt tolerates upstream fields that arrive as JSON numbers or strings.
// Unparsable values decode as zero rather than failing the whole payload.
type FlexInt int

func (n *FlexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		*n = 0
		return nil
	}
	*n = FlexInt(v)
	return nil
}

// FlexFloat tolerates upstream fields that arrive as JSON numbers or strings.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = FlexFloat(v)
	return nil
}

// APIError carries the upstream status and a human-readable message so
// handlers can pass both through to the UI.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Message)
}

// Options configures a Client.
type Options struct {
	BaseURL       string
	GuestToken    string
	ClientVersion string
	VenueID       int
	MenuID        int
}

// Client talks to the Bessa REST API.
type Client struct {
	opts  Options
	httpc *http.Client
	log   *logrus.Logger
}

// NewClient creates a client for the configured venue.
func NewClient(opts Options, log *logrus.Logger) *Client {
	return &Client{
		opts:  opts,
		httpc: &http.Client{Timeout: 30 * time.Second},
		log:   log,
	}
}

// GuestAuth returns the Authorization header value for unauthenticated calls.
func (c *Client) GuestAuth() string {
	return "Token " + c.opts.GuestToken
}

// LoginResult is the outcome of a successful login.
type LoginResult struct {
	Key       string `json:"key"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// Login authenticates an employee. The employee number is mapped to the mail
// alias the upstream expects. A successful login is followed by a user-detail
// fetch for the display name; if that fails the bare key is still returned.
func (c *Client) Login(ctx context.Context, employeeID, password string) (*LoginResult, error) {
	body := map[string]string{
		"email":    fmt.Sprintf("knapp-%s@bessa.app", employeeID),
		"password": password,
	}
	var resp struct {
		Key            string   `json:"key"`
		NonFieldErrors []string `json:"non_field_errors"`
	}
	status, err := c.do(ctx, http.MethodPost, "/auth/login/", c.GuestAuth(), body, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		msg := "Login failed"
		if len(resp.NonFieldErrors) > 0 {
			msg = resp.NonFieldErrors[0]
		}
		return nil, &APIError{StatusCode: status, Message: msg}
	}

	result := &LoginResult{Key: resp.Key}
	user, err := c.UserInfo(ctx, "Token "+resp.Key)
	if err != nil {
		c.log.WithError(err).Warn("Login ok but user details unavailable")
		return result, nil
	}
	result.FirstName = user.FirstName
	result.LastName = user.LastName
	return result, nil
}

// UserInfo describes the authenticated user.
type UserInfo struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// UserInfo fetches the profile behind the given Authorization header.
func (c *Client) UserInfo(ctx context.Context, auth string) (*UserInfo, error) {
	var user UserInfo
	status, err := c.do(ctx, http.MethodGet, "/auth/user/", auth, nil, &user)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &APIError{StatusCode: status, Message: "Failed to fetch user details"}
	}
	return &user, nil
}

// OrderItem is one line of an existing order.
type OrderItem struct {
	Name      string  `json:"name"`
	ArticleID int     `json:"articleId"`
	Price     float64 `json:"price"`
}

// OrderSummary is an existing order on a menu date.
type OrderSummary struct {
	ID    int64       `json:"id"`
	State int         `json:"state"`
	Total float64     `json:"total"`
	Items []OrderItem `json:"items"`
}

// DateOrders pairs a menu date with the caller's orders on that date.
type DateOrders struct {
	Date   string         `json:"date"`
	Orders []OrderSummary `json:"orders"`
}

// MenuDates lists the dates the venue serves, with the caller's orders.
func (c *Client) MenuDates(ctx context.Context, auth string) ([]DateOrders, error) {
	var resp struct {
		Results []struct {
			Date   string `json:"date"`
			Orders []struct {
				ID    int64     `json:"id"`
				State int       `json:"order_state"`
				Total FlexFloat `json:"total"`
				Items []struct {
					Name    string    `json:"name"`
					Article int       `json:"article"`
					Price   FlexFloat `json:"price"`
				} `json:"items"`
			} `json:"orders"`
		} `json:"results"`
	}
	path := fmt.Sprintf("/venues/%d/menu/dates/", c.opts.VenueID)
	status, err := c.do(ctx, http.MethodGet, path, auth, nil, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &APIError{StatusCode: status, Message: "Failed to fetch orders"}
	}

	dates := make([]DateOrders, 0, len(resp.Results))
	for _, day := range resp.Results {
		d := DateOrders{Date: day.Date, Orders: []OrderSummary{}}
		for _, order := range day.Orders {
			summary := OrderSummary{
				ID:    order.ID,
				State: order.State,
				Total: float64(order.Total),
				Items: []OrderItem{},
			}
			for _, item := range order.Items {
				summary.Items = append(summary.Items, OrderItem{
					Name:      item.Name,
					ArticleID: item.Article,
					Price:     float64(item.Price),
				})
			}
			d.Orders = append(d.Orders, summary)
		}
		dates = append(dates, d)
	}
	return dates, nil
}

// MenuArticle is one article as returned by the upstream day-menu endpoint.
type MenuArticle struct {
	ID              int       `json:"id"`
	Article         int       `json:"article"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	Price           FlexFloat `json:"price"`
	AvailableAmount FlexInt   `json:"available_amount"`
	AmountTracking  *bool     `json:"amount_tracking"`
}

// Available reports whether the article can currently be ordered: either the
// venue does not track amounts for it, or stock remains.
func (a MenuArticle) Available() bool {
	if a.AmountTracking != nil && !*a.AmountTracking {
		return true
	}
	return a.AvailableAmount > 0
}

// ArticleID returns the order-relevant article id, falling back to the item
// id for articles the upstream does not link separately.
func (a MenuArticle) ArticleID() int {
	if a.Article != 0 {
		return a.Article
	}
	return a.ID
}

// MenuGroup is a named group of articles within a day's menu.
type MenuGroup struct {
	Name  string        `json:"name"`
	Items []MenuArticle `json:"items"`
}

// DayMenu fetches the article groups for one date. A missing menu (404) is
// returned as an empty menu, not an error.
func (c *Client) DayMenu(ctx context.Context, auth, date string) ([]MenuGroup, error) {
	var resp struct {
		Results []MenuGroup `json:"results"`
	}
	path := fmt.Sprintf("/venues/%d/menu/%d/%s/", c.opts.VenueID, c.opts.MenuID, date)
	status, err := c.do(ctx, http.MethodGet, path, auth, nil, &resp)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, &APIError{StatusCode: status, Message: "Failed to fetch menu"}
	}
	return resp.Results, nil
}

// CheckItem reports whether the given article is currently orderable on the
// given date. An absent menu or article counts as unavailable.
func (c *Client) CheckItem(ctx context.Context, auth, date string, articleID int) (bool, error) {
	groups, err := c.DayMenu(ctx, auth, date)
	if err != nil {
		return false, err
	}
	for _, group := range groups {
		for _, item := range group.Items {
			if item.Article == articleID || item.ID == articleID {
				available := item.Available()
				c.log.WithFields(logrus.Fields{
					"article":   articleID,
					"date":      date,
					"available": available,
				}).Info("Availability check")
				return available, nil
			}
		}
	}
	c.log.WithFields(logrus.Fields{"article": articleID, "date": date}).
		Warn("Availability check: item not found in menu")
	return false, nil
}

// OrderRequest describes a single-item order to place.
type OrderRequest struct {
	Date        string
	ArticleID   int
	Name        string
	Description string
	Price       float64
	VAT         string
}

// OrderResult is the upstream confirmation of a placed order.
type OrderResult struct {
	OrderID int64   `json:"orderId"`
	HashID  string  `json:"hashId"`
	State   int     `json:"state"`
	Total   float64 `json:"total"`
}

// PlaceOrder places a payroll-paid order for one article on the caller's
// behalf. The customer block is filled from the caller's profile.
func (c *Client) PlaceOrder(ctx context.Context, auth string, req OrderRequest) (*OrderResult, error) {
	user, err := c.UserInfo(ctx, auth)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	vat := req.VAT
	if vat == "" {
		vat = "10.00"
	}
	payload := map[string]any{
		"uuid":       uuid.NewString(),
		"created":    now,
		"updated":    now,
		"order_type": 7,
		"items": []map[string]any{{
			"article":      req.ArticleID,
			"course_group": nil,
			"modifiers":    []any{},
			"uuid":         uuid.NewString(),
			"name":         req.Name,
			"description":  req.Description,
			"price":        strconv.FormatFloat(req.Price, 'f', -1, 64),
			"amount":       1,
			"vat":          vat,
			"comment":      "",
		}},
		"table":          nil,
		"total":          req.Price,
		"tip":            0,
		"currency":       "EUR",
		"venue":          c.opts.VenueID,
		"states":         []any{},
		"order_state":    1,
		"date":           req.Date + "T10:00:00.000Z",
		"payment_method": "payroll",
		"customer": map[string]any{
			"first_name": user.FirstName,
			"last_name":  user.LastName,
			"email":      user.Email,
			"newsletter": false,
		},
		"preorder":            false,
		"delivery_fee":        0,
		"cash_box_table_name": nil,
		"take_away":           false,
	}

	c.log.WithFields(logrus.Fields{"name": req.Name, "date": req.Date, "article": req.ArticleID}).
		Info("Placing order")

	var resp struct {
		ID             int64     `json:"id"`
		HashID         string    `json:"hash_id"`
		State          int       `json:"order_state"`
		Total          FlexFloat `json:"total"`
		Detail         string    `json:"detail"`
		NonFieldErrors []string  `json:"non_field_errors"`
	}
	status, err := c.do(ctx, http.MethodPost, "/user/orders/", auth, payload, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		msg := "Order failed"
		if resp.Detail != "" {
			msg = resp.Detail
		} else if len(resp.NonFieldErrors) > 0 {
			msg = resp.NonFieldErrors[0]
		}
		return nil, &APIError{StatusCode: status, Message: msg}
	}

	c.log.WithFields(logrus.Fields{"order": resp.ID, "name": req.Name}).Info("Order placed")
	return &OrderResult{
		OrderID: resp.ID,
		HashID:  resp.HashID,
		State:   resp.State,
		Total:   float64(resp.Total),
	}, nil
}

// CancelResult is the upstream confirmation of a cancelled order.
type CancelResult struct {
	OrderID int64 `json:"orderId"`
	State   int   `json:"state"`
}

// CancelOrder cancels an existing order.
func (c *Client) CancelOrder(ctx context.Context, auth string, orderID int64) (*CancelResult, error) {
	c.log.WithField("order", orderID).Info("Cancelling order")

	var resp struct {
		OrderID int64  `json:"order_id"`
		State   int    `json:"state"`
		Detail  string `json:"detail"`
	}
	path := fmt.Sprintf("/user/orders/%d/cancel/", orderID)
	status, err := c.do(ctx, http.MethodPatch, path, auth, map[string]any{}, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		msg := "Cancellation failed"
		if resp.Detail != "" {
			msg = resp.Detail
		}
		return nil, &APIError{StatusCode: status, Message: msg}
	}

	c.log.WithField("order", orderID).Info("Order cancelled")
	return &CancelResult{OrderID: resp.OrderID, State: resp.State}, nil
}

// do performs one upstream request and decodes the JSON response into out.
// The status code is returned for the caller to interpret; transport and
// decode failures are the only errors.
func (c *Client) do(ctx context.Context, method, path, auth string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.opts.BaseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Client-Version", c.opts.ClientVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			// Non-JSON error bodies still carry meaning through the status.
			c.log.WithError(err).WithField("path", path).Debug("Undecodable upstream response")
		}
	}
	return resp.StatusCode, nil
}
