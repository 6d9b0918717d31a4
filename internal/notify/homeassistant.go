package notify

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/njoerd114/pinreminder/internal/model"
)

// ServiceNotifier calls a Home Assistant notify service. Implemented by
// [homeassistant.Adapter].
type ServiceNotifier interface {
	Notify(ctx context.Context, service string, n model.Notification) error
}

// HomeAssistantSink pushes notifications through a notify.<service> call,
// typically a companion-app device. Calls are rate limited so a burst of
// transitions cannot flood the phone.
type HomeAssistantSink struct {
	client  ServiceNotifier
	service string
	limiter *rate.Limiter
}

// NewHomeAssistantSink creates a sink for the given notify service. perMinute
// bounds the sustained rate; bursts of up to perMinute are allowed.
func NewHomeAssistantSink(client ServiceNotifier, service string, perMinute int) *HomeAssistantSink {
	if perMinute <= 0 {
		perMinute = 30
	}
	return &HomeAssistantSink{
		client:  client,
		service: service,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}
}

func (s *HomeAssistantSink) Name() string { return "home_assistant" }

func (s *HomeAssistantSink) Notify(ctx context.Context, n model.Notification) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return s.client.Notify(ctx, s.service, n)
}
