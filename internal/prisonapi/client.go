// Package prisonapi is the Movement History Client: it fetches a booking's
// full movement history from the prison API.
//
// Calls go through a circuit breaker so that an unavailable API fails jobs
// fast instead of holding ledger transactions open. The client never
// retries; a failed job is retried by the queue.
package prisonapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"dpsrecon.io/reconciliation/internal/domain"
	apperrors "dpsrecon.io/reconciliation/internal/pkg/errors"
	"dpsrecon.io/reconciliation/internal/pkg/logger"
	"dpsrecon.io/reconciliation/internal/telemetry"
)

const breakerName = "prison-api"

// MovementHistoryClient returns the movement history of a booking.
type MovementHistoryClient interface {
	GetMovementHistory(ctx context.Context, bookingID int64) (domain.MovementHistory, error)
}

// Config configures Client.
type Config struct {
	BaseURL string
	// Token, when set, is sent as a bearer token.
	Token   string
	Timeout time.Duration
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	// Location interprets the API's zone-less datetimes.
	Location *time.Location
}

// Client is the HTTP Movement History Client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	loc     *time.Location
	cb      *gobreaker.CircuitBreaker[domain.MovementHistory]
}

var _ MovementHistoryClient = (*Client)(nil)

// NewClient creates a client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	telemetry.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	threshold := cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[domain.MovementHistory](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			telemetry.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    httpClient,
		loc:     loc,
		cb:      cb,
	}
}

// GetMovementHistory calls GET /api/movements/booking/{bookingId}. Any
// failure, including an open breaker, wraps errors.ErrMovementHistoryUnavailable.
func (c *Client) GetMovementHistory(ctx context.Context, bookingID int64) (domain.MovementHistory, error) {
	history, err := c.cb.Execute(func() (domain.MovementHistory, error) {
		return c.fetch(ctx, bookingID)
	})
	if err != nil {
		result := "failure"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = "rejected"
		}
		telemetry.CircuitBreakerRequests.WithLabelValues(breakerName, result).Inc()
		return nil, fmt.Errorf("movement history for booking %d: %w: %w", bookingID, apperrors.ErrMovementHistoryUnavailable, err)
	}
	telemetry.CircuitBreakerRequests.WithLabelValues(breakerName, "success").Inc()
	return history, nil
}

// bookingMovement is the wire shape of one history entry.
type bookingMovement struct {
	Sequence           int    `json:"sequence"`
	FromAgency         string `json:"fromAgency"`
	ToAgency           string `json:"toAgency"`
	MovementType       string `json:"movementType"`
	DirectionCode      string `json:"directionCode"`
	MovementDateTime   string `json:"movementDateTime"`
	MovementReasonCode string `json:"movementReasonCode"`
	CreatedDateTime    string `json:"createdDateTime"`
	ModifiedDateTime   string `json:"modifiedDateTime"`
}

func (c *Client) fetch(ctx context.Context, bookingID int64) (domain.MovementHistory, error) {
	reqURL := c.baseURL + "/api/movements/booking/" + url.PathEscape(strconv.FormatInt(bookingID, 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var wire []bookingMovement
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return c.toDomain(wire)
}

func (c *Client) toDomain(wire []bookingMovement) (domain.MovementHistory, error) {
	out := make(domain.MovementHistory, 0, len(wire))
	for _, w := range wire {
		movementTime, err := domain.ParseOptionalLocalTime(w.MovementDateTime, c.loc)
		if err != nil {
			return nil, fmt.Errorf("movement %d: %w", w.Sequence, err)
		}
		created, err := domain.ParseOptionalLocalTime(w.CreatedDateTime, c.loc)
		if err != nil {
			return nil, fmt.Errorf("movement %d: %w", w.Sequence, err)
		}
		modified, err := domain.ParseOptionalLocalTime(w.ModifiedDateTime, c.loc)
		if err != nil {
			return nil, fmt.Errorf("movement %d: %w", w.Sequence, err)
		}
		out = append(out, domain.BookingMovement{
			Sequence:      w.Sequence,
			FromAgency:    w.FromAgency,
			ToAgency:      w.ToAgency,
			MovementType:  w.MovementType,
			DirectionCode: w.DirectionCode,
			MovementTime:  movementTime,
			ReasonCode:    w.MovementReasonCode,
			CreatedAt:     created,
			ModifiedAt:    modified,
		})
	}
	return out, nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
