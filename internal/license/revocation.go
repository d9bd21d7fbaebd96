package license

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/belalkandil0/FathomOS-sub015/internal/shared/stalecache"
)

// RevocationClient is the server-side lookup used to refine the local
// revocation cache. *ServerClient satisfies it; tests supply fakes.
type RevocationClient interface {
	IsRevoked(ctx context.Context, licenseID string) (bool, error)
}

// revocationCacheStaleness bounds how often the local cache file is re-read.
const revocationCacheStaleness = 5 * time.Minute

// RevocationList answers revocation lookups from a local cache file,
// refined by the server when reachable. A server confirmation is persisted
// locally so a once-revoked license stays revoked offline.
type RevocationList struct {
	path   string
	client RevocationClient
	cache  *stalecache.Cache[map[string]struct{}]
	logger *slog.Logger
}

// NewRevocationList creates a revocation list backed by the cache file at
// path. client may be nil for fully offline operation.
func NewRevocationList(path string, client RevocationClient, logger *slog.Logger) *RevocationList {
	r := &RevocationList{
		path:   path,
		client: client,
		logger: logger.With(slog.String("component", "revocation_list")),
	}
	r.cache = stalecache.New(revocationCacheStaleness, r.readCacheFile)
	return r
}

// IsRevoked reports whether the license is known revoked. The boolean is
// authoritative when err is nil. ErrNetworkUnavailable means the server
// could not confirm; callers must not transition state on that answer.
func (r *RevocationList) IsRevoked(ctx context.Context, licenseID string) (bool, error) {
	local, err := r.cache.Get(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "revocation cache read failed", slog.String("error", err.Error()))
	}
	if _, revoked := local[licenseID]; revoked {
		return true, nil
	}

	if r.client == nil {
		return false, nil
	}

	revoked, err := r.client.IsRevoked(ctx, licenseID)
	if err != nil {
		return false, err
	}
	if revoked {
		if err := r.markRevoked(ctx, licenseID); err != nil {
			r.logger.ErrorContext(ctx, "failed to persist revocation",
				slog.String("license_id", licenseID),
				slog.String("error", err.Error()),
			)
		}
		return true, nil
	}
	return false, nil
}

// markRevoked persists the ID to the cache file and updates the in-memory set.
func (r *RevocationList) markRevoked(ctx context.Context, licenseID string) error {
	current, _ := r.cache.Get(ctx)

	ids := make([]string, 0, len(current)+1)
	for id := range current {
		ids = append(ids, id)
	}
	ids = append(ids, licenseID)
	sort.Strings(ids)

	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	if err := os.WriteFile(r.path, data, 0o600); err != nil {
		return err
	}

	r.cache.Mutate(func(set map[string]struct{}) map[string]struct{} {
		updated := make(map[string]struct{}, len(set)+1)
		for id := range set {
			updated[id] = struct{}{}
		}
		updated[licenseID] = struct{}{}
		return updated
	})

	r.logger.InfoContext(ctx, "license recorded as revoked", slog.String("license_id", licenseID))
	return nil
}

// readCacheFile loads the persisted revocation IDs. A missing file is an
// empty list, not an error.
func (r *RevocationList) readCacheFile(ctx context.Context) (map[string]struct{}, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]struct{}{}, nil
		}
		return map[string]struct{}{}, err
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return map[string]struct{}{}, err
	}

	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}
