package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	haclient "github.com/mkelcik/go-ha-client/v2"

	"github.com/njoerd114/pinreminder/internal/model"
)

// ErrEntityNotFound is returned when HA has no state for the tracker entity.
var ErrEntityNotFound = errors.New("entity not found")

// RESTClient is the subset of HA REST operations used by the adapter.
// Defining it as an interface allows mock injection in tests.
type RESTClient interface {
	Ping(ctx context.Context) error
	// CallService POSTs to /api/services/<domain>/<service> without
	// return_response.
	CallService(ctx context.Context, domain, service string, body io.Reader) error
	// GetState returns the raw JSON of /api/states/<entity_id>.
	GetState(ctx context.Context, entityID string) ([]byte, error)
}

// haClientWrapper wraps [haclient.Client] and adds the plain REST calls the
// library does not cover.
type haClientWrapper struct {
	client  *haclient.Client
	baseURL string
	token   string
	hc      *http.Client
}

func (w *haClientWrapper) Ping(ctx context.Context) error {
	return w.client.Ping(ctx)
}

// CallService POSTs the body to /api/services/<domain>/<service> without
// appending ?return_response, so HA does not try to return data.
func (w *haClientWrapper) CallService(ctx context.Context, domain, service string, body io.Reader) error {
	endpoint := fmt.Sprintf("%s/api/services/%s/%s",
		strings.TrimRight(w.baseURL, "/"),
		url.PathEscape(domain),
		url.PathEscape(service),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("create service request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusBadRequest {
		var br struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&br)
		return errors.New(br.Message)
	}
	return checkStatus(resp)
}

func (w *haClientWrapper) GetState(ctx context.Context, entityID string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/api/states/%s",
		strings.TrimRight(w.baseURL, "/"),
		url.PathEscape(entityID),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create state request: %w", err)
	}

	resp, err := w.do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read state response: %w", err)
	}
	return body, nil
}

func (w *haClientWrapper) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+w.token)
	resp, err := w.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute %s request: %w", req.Method, err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("HA returned 401 Unauthorized, check ha_token")
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("HA returned unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Adapter exposes the Home Assistant operations the reminder pipeline needs:
// device location, companion-app notifications, and token checks. Create one
// with [NewAdapter] or [NewAdapterWithClient].
type Adapter struct {
	rest   RESTClient
	ws     *haclient.WSClient
	now    func() time.Time
	logger *slog.Logger
}

// NewAdapter creates an Adapter backed by real HA REST and WebSocket clients.
// The WebSocket is configured with unlimited auto-reconnect.
func NewAdapter(haURL, token string, logger *slog.Logger) (*Adapter, error) {
	rest, err := haclient.NewClient(haURL,
		haclient.WithToken(token),
		haclient.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create HA REST client: %w", err)
	}

	wrapper := &haClientWrapper{
		client:  rest,
		baseURL: haURL,
		token:   token,
		hc:      &http.Client{Timeout: 30 * time.Second},
	}

	ws := rest.WS(
		haclient.WithAutoReconnect(true),
		haclient.WithMaxRetries(0), // unlimited retries
		haclient.WithOnReconnect(func() {
			logger.Info("HA WebSocket reconnected")
		}),
		haclient.WithOnReconnectError(func(err error) {
			logger.Error("HA WebSocket reconnect failed", "error", err)
		}),
	)

	return &Adapter{rest: wrapper, ws: ws, now: time.Now, logger: logger}, nil
}

// NewAdapterWithClient creates an Adapter with a caller-supplied REST client.
// Intended for testing with a mock [RESTClient]. WebSocket features
// (SubscribeLocations) are unavailable on adapters created this way.
func NewAdapterWithClient(rest RESTClient, logger *slog.Logger) *Adapter {
	return &Adapter{rest: rest, now: time.Now, logger: logger}
}

// Ping validates the HA connection and token with retry.
func (a *Adapter) Ping(ctx context.Context) error {
	err := Retry(ctx, defaultMaxAttempts, func() error {
		return a.rest.Ping(ctx)
	})
	if err != nil {
		return fmt.Errorf("ping HA: %w", err)
	}
	return nil
}

// Connect establishes the WebSocket connection. Must be called before
// [Adapter.SubscribeLocations].
func (a *Adapter) Connect(ctx context.Context) error {
	if a.ws == nil {
		return fmt.Errorf("WebSocket client not configured")
	}
	return a.ws.Connect(ctx)
}

// Close shuts down the WebSocket connection gracefully.
func (a *Adapter) Close() error {
	if a.ws == nil {
		return nil
	}
	return a.ws.Close()
}

// Location returns the current position of a device_tracker or person
// entity. A tracker without coordinates yields a Fix with Available false.
func (a *Adapter) Location(ctx context.Context, entityID string) (model.Fix, error) {
	var raw []byte
	err := Retry(ctx, defaultMaxAttempts, func() error {
		var callErr error
		raw, callErr = a.rest.GetState(ctx, entityID)
		if errors.Is(callErr, ErrEntityNotFound) {
			return Permanent(callErr)
		}
		return callErr
	})
	if err != nil {
		return model.Fix{}, fmt.Errorf("get location of %s: %w", entityID, err)
	}
	return parseStateFix(raw, a.now())
}

// checkLocation reports whether entityID can serve req. A tracker without a
// position, or one less accurate than req allows, is something the user can
// fix on the device and wraps [model.ErrSettingsResolutionRequired].
func (a *Adapter) checkLocation(ctx context.Context, entityID string, req model.LocationRequest) error {
	fix, err := a.Location(ctx, entityID)
	if err != nil {
		return err
	}
	if !fix.Available {
		return fmt.Errorf("%w: %s reports no position", model.ErrSettingsResolutionRequired, entityID)
	}
	if req.MaxAccuracyMeters > 0 && fix.AccuracyMeters > req.MaxAccuracyMeters {
		return fmt.Errorf("%w: %s accuracy %.0fm exceeds %.0fm",
			model.ErrSettingsResolutionRequired, entityID, fix.AccuracyMeters, req.MaxAccuracyMeters)
	}
	return nil
}

// Notify calls notify.<service> with the reminder title and body. The
// reminder ID is sent as data.tag so the companion app replaces an earlier
// notification for the same reminder.
func (a *Adapter) Notify(ctx context.Context, service string, n model.Notification) error {
	data := buildNotifyData(n)
	err := Retry(ctx, defaultMaxAttempts, func() error {
		return a.rest.CallService(ctx, domainNotify, service, serviceBody(data))
	})
	if err != nil {
		return fmt.Errorf("notify %s for %s: %w", service, n.Tag, err)
	}
	return nil
}

// SubscribeLocations starts a WebSocket subscription for state_changed events
// on entityID. Each change is resolved to a Fix through the REST API and
// passed to fn. This method blocks until ctx is cancelled.
func (a *Adapter) SubscribeLocations(ctx context.Context, entityID string, fn func(model.Fix)) error {
	if a.ws == nil {
		return fmt.Errorf("WebSocket client not configured")
	}

	sub, err := a.ws.SubscribeEvents(ctx, haclient.EventTypeStateChanged)
	if err != nil {
		return fmt.Errorf("subscribe state_changed: %w", err)
	}
	defer func() { _ = sub.Unsubscribe(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return fmt.Errorf("subscription events channel closed")
			}
			data, isStateChanged, parseErr := ev.StateChanged()
			if parseErr != nil {
				a.logger.Debug("failed to parse state_changed event", "error", parseErr)
				continue
			}
			if !isStateChanged || data.EntityID != entityID {
				continue
			}
			fix, locErr := a.Location(ctx, entityID)
			if locErr != nil {
				a.logger.Warn("failed to fetch tracker location", "entity_id", entityID, "error", locErr)
				continue
			}
			a.logger.Debug("tracker moved", "entity_id", entityID, "available", fix.Available)
			fn(fix)
		case subErr, ok := <-sub.Errors():
			if !ok {
				return fmt.Errorf("subscription errors channel closed")
			}
			a.logger.Error("subscription error", "error", subErr)
			// Auto-reconnect restores the subscription; just log.
		}
	}
}

// Tracker binds the adapter to one tracker entity so it satisfies
// interfaces that take no entity argument.
type Tracker struct {
	*Adapter
	EntityID string
}

// ForTracker returns the adapter bound to entityID.
func (a *Adapter) ForTracker(entityID string) *Tracker {
	return &Tracker{Adapter: a, EntityID: entityID}
}

// CheckLocationSettings checks the bound tracker against req.
func (t *Tracker) CheckLocationSettings(ctx context.Context, req model.LocationRequest) error {
	return t.checkLocation(ctx, t.EntityID, req)
}

// CurrentLocation returns the bound tracker's current position.
func (t *Tracker) CurrentLocation(ctx context.Context) (model.Fix, error) {
	return t.Location(ctx, t.EntityID)
}

// serviceBody marshals data to a JSON [io.Reader] for service calls.
func serviceBody(data map[string]interface{}) io.Reader {
	b, _ := json.Marshal(data) //nolint:errcheck // map[string]interface{} always marshals
	return bytes.NewReader(b)
}
