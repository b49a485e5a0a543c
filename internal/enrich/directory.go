package enrich

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/cache"
	"github.com/sells-group/prospect-cli/pkg/hunter"
)

// Directory is the email directory capability used for enrichment.
// *hunter.Client implementations satisfy it.
type Directory interface {
	EmailCount(ctx context.Context, domain string) (int, error)
	DomainSearch(ctx context.Context, domain string, limit int) (*hunter.DomainSearchResult, error)
	Verify(ctx context.Context, email string) (*hunter.Verification, error)
	Account(ctx context.Context) (*hunter.Account, error)
}

// CachedDirectory memoizes EmailCount probes. Every other call passes
// through. Cache failures are logged and treated as misses.
type CachedDirectory struct {
	Directory
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedDirectory decorates dir with c.
func NewCachedDirectory(dir Directory, c cache.Cache, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{Directory: dir, cache: c, ttl: ttl}
}

func countKey(domain string) string { return "hunter:count:" + domain }

// EmailCount returns a cached count when present.
func (d *CachedDirectory) EmailCount(ctx context.Context, domain string) (int, error) {
	key := countKey(domain)
	if v, ok, err := d.cache.Get(ctx, key); err != nil {
		zap.L().Warn("enrich: cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		if n, convErr := strconv.Atoi(v); convErr == nil {
			return n, nil
		}
	}

	n, err := d.Directory.EmailCount(ctx, domain)
	if err != nil {
		return 0, err
	}
	if err := d.cache.Set(ctx, key, strconv.Itoa(n), d.ttl); err != nil {
		zap.L().Warn("enrich: cache write failed", zap.String("key", key), zap.Error(err))
	}
	return n, nil
}
