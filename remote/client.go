package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"goflare.io/cartsync/models"
)

const (
	cartPath     = "/carrito"
	cancelPath   = "/carrito/cancelar"
	finalizePath = "/carrito/finalizar"
	productsPath = "/productos"

	requestIDHeader = "X-Request-ID"
	maxBodyBytes    = 1 << 20
)

var (
	_ Gateway = (*Client)(nil)
	_ Catalog = (*Client)(nil)

	errUpstream = errors.New("upstream server error")
)

type Config struct {
	BaseURL string
	// Timeout bounds every call, including the time spent reading the body.
	Timeout time.Duration
	// MaxFailures consecutive failures open the breaker for OpenTimeout.
	MaxFailures uint32
	OpenTimeout time.Duration
}

// Client is the HTTP implementation of Gateway and Catalog.
type Client struct {
	cfg     Config
	http    *http.Client
	tokens  TokenSource
	breaker *gobreaker.CircuitBreaker[*response]
	logger  *zap.Logger
}

type response struct {
	status int
	body   []byte
}

func NewClient(cfg Config, httpClient *http.Client, tokens TokenSource, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg:    cfg,
		http:   httpClient,
		tokens: tokens,
		logger: logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:    "commerce-backend",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c
}

func (c *Client) GetCart(ctx context.Context) ([]models.CartItem, error) {
	resp, err := c.do(ctx, "get cart", http.MethodGet, cartPath, nil, true, false)
	if err != nil {
		return nil, err
	}
	items, err := decodeCart(resp.body)
	if err != nil {
		c.logger.Error("Failed to normalize remote cart", zap.Error(err))
		return nil, err
	}
	return items, nil
}

func (c *Client) AddItem(ctx context.Context, productID int64, quantity int) error {
	if err := (models.CartEntry{ProductID: productID, Quantity: quantity}).Validate(); err != nil {
		return err
	}
	payload := map[string]any{"productId": productID, "cantidad": quantity}
	_, err := c.do(ctx, "add item", http.MethodPost, cartPath, payload, true, false)
	return err
}

func (c *Client) RemoveItem(ctx context.Context, productID int64) error {
	resp, err := c.do(ctx, "remove item", http.MethodDelete, itemPath(productID), nil, true, true)
	if err != nil {
		return err
	}
	if resp.status == http.StatusNotFound {
		c.logger.Debug("Remote line already absent", zap.Int64("product_id", productID))
	}
	return nil
}

// SetQuantity patches the line and falls back to creating it when the
// backend does not know it yet.
func (c *Client) SetQuantity(ctx context.Context, productID int64, quantity int) error {
	if err := (models.CartEntry{ProductID: productID, Quantity: quantity}).Validate(); err != nil {
		return err
	}
	if quantity == 0 {
		return c.RemoveItem(ctx, productID)
	}

	payload := map[string]any{"cantidad": quantity}
	resp, err := c.do(ctx, "set quantity", http.MethodPatch, itemPath(productID), payload, true, true)
	if err != nil {
		return err
	}
	if resp.status == http.StatusNotFound {
		c.logger.Debug("Remote line missing, creating it", zap.Int64("product_id", productID))
		return c.AddItem(ctx, productID, quantity)
	}
	return nil
}

func (c *Client) Cancel(ctx context.Context) error {
	_, err := c.do(ctx, "cancel cart", http.MethodPost, cancelPath, nil, true, false)
	return err
}

func (c *Client) Finalize(ctx context.Context, req models.CheckoutRequest) (*models.OrderConfirmation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	payload := map[string]any{"direccion": req.ShippingAddress, "tarjeta": req.PaymentToken}
	resp, err := c.do(ctx, "finalize cart", http.MethodPost, finalizePath, payload, true, false)
	if err != nil {
		return nil, err
	}
	return decodeConfirmation(resp.body)
}

func (c *Client) GetProduct(ctx context.Context, productID int64) (*models.Product, error) {
	if productID <= 0 {
		return nil, models.NewValidationError("productId", "must be positive")
	}
	resp, err := c.do(ctx, "get product", http.MethodGet, fmt.Sprintf("%s/%d", productsPath, productID), nil, false, true)
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusNotFound {
		return nil, models.NewValidationError("productId", fmt.Sprintf("product %d does not exist", productID))
	}
	return decodeProduct(resp.body)
}

func (c *Client) ListProducts(ctx context.Context) ([]*models.Product, error) {
	resp, err := c.do(ctx, "list products", http.MethodGet, productsPath, nil, false, false)
	if err != nil {
		return nil, err
	}
	return decodeProducts(resp.body)
}

func itemPath(productID int64) string {
	return fmt.Sprintf("%s/%d", cartPath, productID)
}

// do sends one request through the breaker. A 404 is handed back as a
// response only when allowNotFound is set; every other non 2xx status
// becomes a typed error.
func (c *Client) do(ctx context.Context, op, method, path string, payload any, authRequired, allowNotFound bool) (*response, error) {
	token := c.token()
	if authRequired && token == "" {
		return nil, &models.AuthRequiredError{Op: op}
	}

	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", op, err)
		}
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	requestID := uuid.NewString()
	resp, err := c.breaker.Execute(func() (*response, error) {
		return c.send(ctx, method, path, body, token, requestID)
	})
	if err != nil {
		c.logger.Error("Remote call failed",
			zap.String("op", op),
			zap.String("request_id", requestID),
			zap.Error(err))
		return nil, &models.NetworkError{Op: op, Timeout: isTimeout(err), Err: err}
	}

	switch {
	case resp.status >= 200 && resp.status < 300:
		return resp, nil
	case resp.status == http.StatusNotFound && allowNotFound:
		return resp, nil
	case resp.status == http.StatusNotFound:
		return nil, notFoundError(op, method, resp.body)
	case resp.status == http.StatusUnauthorized, resp.status == http.StatusForbidden:
		return nil, &models.AuthRequiredError{Op: op}
	case resp.status == http.StatusConflict:
		return nil, stockError(resp.body)
	case resp.status == http.StatusBadRequest, resp.status == http.StatusUnprocessableEntity:
		return nil, models.NewValidationError(op, upstreamMessage(resp.body, resp.status))
	default:
		return nil, &models.NetworkError{Op: op, Err: fmt.Errorf("unexpected status %d", resp.status)}
	}
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, token, requestID string) (*response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	resp := &response{status: httpResp.StatusCode, body: data}
	if resp.status >= http.StatusInternalServerError {
		return resp, fmt.Errorf("%w: status %d", errUpstream, resp.status)
	}
	return resp, nil
}

func (c *Client) token() string {
	if c.tokens == nil {
		return ""
	}
	return c.tokens.Token()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// stockError reads the optional {productId, requested, available} body of a 409.
func stockError(body []byte) error {
	var payload struct {
		ProductID  int64 `json:"productId"`
		Requested  int   `json:"requested"`
		Available  int   `json:"available"`
		Disponible *int  `json:"disponible"`
	}
	_ = json.Unmarshal(body, &payload)
	if payload.Disponible != nil {
		payload.Available = *payload.Disponible
	}
	return &models.StockExceededError{
		ProductID: payload.ProductID,
		Requested: payload.Requested,
		Available: payload.Available,
	}
}

// notFoundError maps a 404 nobody asked for. A write naming something the
// backend does not know is a rejected input; a missing read endpoint means
// the backend is not serving the cart API.
func notFoundError(op, method string, body []byte) error {
	if method == http.MethodGet {
		return &models.NetworkError{Op: op, Err: fmt.Errorf("unexpected status %d", http.StatusNotFound)}
	}
	return models.NewValidationError(op, upstreamMessage(body, http.StatusNotFound))
}

func upstreamMessage(body []byte, status int) string {
	var payload struct {
		Message string `json:"message"`
		Mensaje string `json:"mensaje"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, msg := range []string{payload.Message, payload.Mensaje, payload.Error} {
			if msg != "" {
				return msg
			}
		}
	}
	return fmt.Sprintf("rejected with status %d", status)
}
