// Package permission negotiates location permissions with the user. A
// [Negotiator] hands out [Request] builders; nothing happens until
// [Request.Check] is called, and its callback fires exactly once.
package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Permission strings as remembered in the grants table.
const (
	PermFineLocation       = "location.fine"
	PermCoarseLocation     = "location.coarse"
	PermBackgroundLocation = "location.background"
)

// Grant statuses as remembered in the grants table.
const (
	StatusGranted = "granted"
	StatusDenied  = "denied"
)

// ErrUnknownPermission is returned by [From] for unrecognised strings.
var ErrUnknownPermission = errors.New("unknown permission")

// Capability groups the permissions needed for one feature.
type Capability int

const (
	ForegroundLocation Capability = iota
	BackgroundLocation
)

// Permissions returns the permission strings that make up c.
func (c Capability) Permissions() []string {
	switch c {
	case ForegroundLocation:
		return []string{PermFineLocation, PermCoarseLocation}
	case BackgroundLocation:
		return []string{PermBackgroundLocation}
	default:
		return nil
	}
}

func (c Capability) String() string {
	switch c {
	case ForegroundLocation:
		return "ForegroundLocation"
	case BackgroundLocation:
		return "BackgroundLocation"
	default:
		return fmt.Sprintf("Capability(%d)", int(c))
	}
}

// From maps a permission string back to its capability.
func From(permission string) (Capability, error) {
	switch permission {
	case PermFineLocation, PermCoarseLocation:
		return ForegroundLocation, nil
	case PermBackgroundLocation:
		return BackgroundLocation, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPermission, permission)
	}
}

// Prompt is what the user is asked.
type Prompt struct {
	Capability  Capability
	Permissions []string
	Rationale   string
	// ShowRationale is true when the user denied this capability before.
	ShowRationale bool
}

// Dialog asks the user to grant a capability.
type Dialog interface {
	Ask(ctx context.Context, p Prompt) (bool, error)
}

// GrantStore remembers answers between runs. Implemented by [state.Store].
type GrantStore interface {
	GetGrant(ctx context.Context, permission string) (string, error)
	SetGrant(ctx context.Context, permission, status string) error
}

// Negotiator resolves permission requests against remembered grants and, when
// needed, the user.
type Negotiator struct {
	grants     GrantStore
	dialog     Dialog
	background bool
	log        *slog.Logger
}

// NewNegotiator creates a Negotiator. backgroundSupported reports whether the
// platform has a separate background-location permission; when false,
// background requests resolve as granted without asking.
func NewNegotiator(grants GrantStore, dialog Dialog, backgroundSupported bool, logger *slog.Logger) *Negotiator {
	return &Negotiator{grants: grants, dialog: dialog, background: backgroundSupported, log: logger}
}

// Supports reports whether c is a real permission on this platform.
func (n *Negotiator) Supports(c Capability) bool {
	if c == BackgroundLocation {
		return n.background
	}
	return true
}

// Request starts building a request for c.
func (n *Negotiator) Request(c Capability) *Request {
	return &Request{n: n, capability: c}
}

// Request is a pending permission request. Build it with [Negotiator.Request]
// and finish it with [Request.Check].
type Request struct {
	n          *Negotiator
	capability Capability
	rationale  string
}

// Rationale sets the text shown when the user has denied the capability
// before.
func (r *Request) Rationale(text string) *Request {
	r.rationale = text
	return r
}

// Check resolves the request asynchronously and calls onResult exactly once.
// A denial is final for this request; callers decide whether to ask again.
func (r *Request) Check(ctx context.Context, onResult func(granted bool)) {
	go func() {
		onResult(r.resolve(ctx))
	}()
}

func (r *Request) resolve(ctx context.Context) bool {
	n := r.n
	log := n.log.With("capability", r.capability.String())

	if !n.Supports(r.capability) {
		log.Debug("capability not required on this platform, treating as granted")
		return true
	}

	perms := r.capability.Permissions()
	allGranted, anyDenied, err := n.status(ctx, perms)
	if err != nil {
		log.Error("reading permission grants", "error", err)
		return false
	}
	if allGranted {
		log.Debug("permission already granted")
		return true
	}

	granted, err := n.dialog.Ask(ctx, Prompt{
		Capability:    r.capability,
		Permissions:   perms,
		Rationale:     r.rationale,
		ShowRationale: anyDenied,
	})
	if err != nil {
		log.Error("permission dialog failed", "error", err)
		return false
	}

	status := StatusDenied
	if granted {
		status = StatusGranted
	}
	for _, p := range perms {
		if err := n.grants.SetGrant(ctx, p, status); err != nil {
			log.Error("remembering permission grant", "permission", p, "error", err)
		}
	}
	log.Info("permission answered", "granted", granted)
	return granted
}

func (n *Negotiator) status(ctx context.Context, perms []string) (allGranted, anyDenied bool, err error) {
	allGranted = true
	for _, p := range perms {
		s, err := n.grants.GetGrant(ctx, p)
		if err != nil {
			return false, false, fmt.Errorf("grant for %s: %w", p, err)
		}
		if s != StatusGranted {
			allGranted = false
		}
		if s == StatusDenied {
			anyDenied = true
		}
	}
	return allGranted, anyDenied, nil
}
