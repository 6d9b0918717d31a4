package setup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// HAEntity is a discovered Home Assistant tracker entity.
type HAEntity struct {
	EntityID     string
	FriendlyName string
	// HasGPS is true when the state currently carries coordinates.
	HasGPS bool
}

// String returns a human-readable representation for selection prompts.
func (e HAEntity) String() string {
	label := e.EntityID
	if e.FriendlyName != "" {
		label = fmt.Sprintf("%s (%s)", e.FriendlyName, e.EntityID)
	}
	if !e.HasGPS {
		label += " [no GPS]"
	}
	return label
}

// PingHA verifies connectivity with the Home Assistant instance using the
// given URL and token. Returns nil on success.
func PingHA(ctx context.Context, haURL, haToken string) error {
	resp, err := haGet(ctx, haURL, haToken, "/api/")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return nil
}

// haStateEntry is the minimal JSON shape of /api/states entries.
type haStateEntry struct {
	EntityID   string `json:"entity_id"`
	Attributes struct {
		FriendlyName string   `json:"friendly_name"`
		Latitude     *float64 `json:"latitude"`
		Longitude    *float64 `json:"longitude"`
	} `json:"attributes"`
}

// DiscoverTrackers returns the device_tracker and person entities, sorted with
// GPS-capable entities first, then by entity ID.
func DiscoverTrackers(ctx context.Context, haURL, haToken string) ([]HAEntity, error) {
	var states []haStateEntry
	if err := haGetJSON(ctx, haURL, haToken, "/api/states", &states); err != nil {
		return nil, fmt.Errorf("fetching HA states: %w", err)
	}

	var entities []HAEntity
	for _, s := range states {
		if !strings.HasPrefix(s.EntityID, "device_tracker.") && !strings.HasPrefix(s.EntityID, "person.") {
			continue
		}
		entities = append(entities, HAEntity{
			EntityID:     s.EntityID,
			FriendlyName: s.Attributes.FriendlyName,
			HasGPS:       s.Attributes.Latitude != nil && s.Attributes.Longitude != nil,
		})
	}

	sort.Slice(entities, func(i, j int) bool {
		if entities[i].HasGPS != entities[j].HasGPS {
			return entities[i].HasGPS
		}
		return entities[i].EntityID < entities[j].EntityID
	})
	return entities, nil
}

// haServiceDomain is one entry of /api/services.
type haServiceDomain struct {
	Domain   string                     `json:"domain"`
	Services map[string]json.RawMessage `json:"services"`
}

// DiscoverNotifyServices returns the services of the notify domain, sorted,
// with mobile_app_* services first since they reach a phone.
func DiscoverNotifyServices(ctx context.Context, haURL, haToken string) ([]string, error) {
	var domains []haServiceDomain
	if err := haGetJSON(ctx, haURL, haToken, "/api/services", &domains); err != nil {
		return nil, fmt.Errorf("fetching HA services: %w", err)
	}

	var services []string
	for _, d := range domains {
		if d.Domain != "notify" {
			continue
		}
		for name := range d.Services {
			services = append(services, name)
		}
	}

	sort.Slice(services, func(i, j int) bool {
		mi, mj := strings.HasPrefix(services[i], "mobile_app_"), strings.HasPrefix(services[j], "mobile_app_")
		if mi != mj {
			return mi
		}
		return services[i] < services[j]
	})
	return services, nil
}

func haGetJSON(ctx context.Context, haURL, haToken, path string, dst any) error {
	resp, err := haGet(ctx, haURL, haToken, path)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("parsing %s response: %w", path, err)
	}
	return nil
}

// haGet performs an authenticated GET and maps HA status codes to errors.
// The caller closes the body on success.
func haGet(ctx context.Context, haURL, haToken, path string) (*http.Response, error) {
	endpoint := strings.TrimRight(haURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+haToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", haURL, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("invalid access token (HTTP 401)")
	case resp.StatusCode >= 300:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected HTTP %d from %s", resp.StatusCode, haURL)
	}
	return resp, nil
}
