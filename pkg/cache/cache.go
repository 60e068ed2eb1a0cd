// Package cache provides a generic expiring key/value cache with
// deterministic key derivation and durable, pluggable backends. Entries
// survive process restarts; expiry is enforced lazily on read and by an
// explicit sweep.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultTTL is the time-to-live applied by callers that do not choose one.
const DefaultTTL = 24 * time.Hour

// Stats summarizes a backend's contents. Expired counts entries past their
// TTL that no read or sweep has physically removed yet.
type Stats struct {
	Total     int   `json:"total_entries"`
	Expired   int   `json:"expired_entries"`
	Live      int   `json:"live_entries"`
	SizeBytes int64 `json:"size_bytes"`
}

// Store is a durable expiring byte store. Implementations must treat an
// expired entry as absent on Get and remove it physically.
type Store interface {
	// Get returns the stored value if present and not expired. An entry
	// past its expiry is deleted and reported as a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set persists value with expiry now+ttl. ttl must be positive.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes a single entry. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// ClearExpired sweeps entries past expiry and returns the count deleted.
	ClearExpired(ctx context.Context) (int, error)
	// ClearAll deletes every entry and returns the count deleted.
	ClearAll(ctx context.Context) (int, error)
	// Stats reports entry counts and aggregate size.
	Stats(ctx context.Context) (Stats, error)
	// Close releases the backend.
	Close() error
}

// Key derives a deterministic, storage-safe token from arbitrary call
// parameters. Identical inputs always yield the identical key; map-typed
// parts are rendered with sorted keys so iteration order cannot leak in.
// Parts are length-prefixed before hashing so no arrangement of part
// contents can collide with a different part split.
func Key(parts ...any) string {
	h := sha256.New()
	for _, p := range parts {
		s := canonical(p)
		fmt.Fprintf(h, "%d:", len(s))
		h.Write([]byte(s))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func canonical(p any) string {
	switch v := p.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]string:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for i, k := range keys {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v[k])
		}
		return b.String()
	default:
		// encoding/json sorts map keys, making this stable for any
		// serializable part.
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// GetJSON reads and unmarshals a cached value. Backend errors and corrupt
// entries are downgraded to misses; a corrupt entry is deleted so the next
// write recomputes it.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, bool) {
	var zero T
	data, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		_ = s.Delete(ctx, key)
		return zero, false
	}
	return v, true
}

// SetJSON marshals and stores a value.
func SetJSON[T any](ctx context.Context, s Store, key string, v T, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: marshal %s: %w", key, err)
	}
	return s.Set(ctx, key, data, ttl)
}

// Cached memoizes an expensive computation under a key derived from parts.
// A hit skips compute entirely; a successful compute is stored for ttl.
// Cache failures never mask a successful computation.
func Cached[T any](ctx context.Context, s Store, ttl time.Duration, compute func(context.Context) (T, error), parts ...any) (T, error) {
	key := Key(parts...)
	if v, ok := GetJSON[T](ctx, s, key); ok {
		return v, nil
	}
	v, err := compute(ctx)
	if err != nil {
		return v, err
	}
	_ = SetJSON(ctx, s, key, v, ttl)
	return v, nil
}
