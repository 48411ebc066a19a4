// Package device provides the anonymous per-installation identity that tags
// every submitted code and vote.
//
// The identity is generated locally, never issued by the store, and never
// validated by it beyond being an opaque string. Different front ends get
// it differently:
//
//   - CLI / native clients: FileProvider persists one ID per installation.
//   - Browsers: Middleware keeps it in a signed cookie and ContextProvider
//     reads it back for the services.
package device

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/sakif/stallcode/internal/apperror"
)

// Prefix marks locally generated device IDs.
const Prefix = "device_"

// MaxIDLength bounds IDs accepted from clients.
const MaxIDLength = 64

// Provider yields the current device identity.
type Provider interface {
	DeviceID(ctx context.Context) (string, error)
}

// NewID generates a fresh identity, e.g. "device_3f0c1e8c9b2a4d7e8f1a2b3c4d5e6f70".
func NewID() string {
	return Prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidID reports whether id is acceptable from an untrusted client:
// non-empty, at most MaxIDLength bytes, letters/digits/underscore/dash only.
func ValidID(id string) bool {
	if id == "" || len(id) > MaxIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// Static is a fixed identity. Handy for tests and the CLI's --device flag.
type Static string

func (s Static) DeviceID(context.Context) (string, error) {
	if s == "" {
		return "", apperror.Unavailable("device identity", nil)
	}
	return string(s), nil
}

type contextKey string

const deviceIDKey contextKey = "deviceID"

// WithID returns a copy of ctx carrying id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, deviceIDKey, id)
}

// FromContext returns the device ID placed on ctx by Middleware.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(deviceIDKey).(string)
	return id, ok && id != ""
}

// ContextProvider reads the identity of the current HTTP request.
type ContextProvider struct{}

func (ContextProvider) DeviceID(ctx context.Context) (string, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return "", apperror.Unavailable("device identity", nil)
	}
	return id, nil
}
