package dispatch

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/mna-news/translate-runner/internal/config"
	"github.com/mna-news/translate-runner/internal/model"
)

// UsageStore counts provider requests per key and day.
type UsageStore interface {
	IncrementUsage(ctx context.Context, day, key string) (int, error)
	Usage(ctx context.Context, day, key string) (int, error)
}

// NormalizeMedia folds a media name for routing lookups: NFKC, collapsed
// whitespace, lower case.
func NormalizeMedia(s string) string {
	s = norm.NFKC.String(s)
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Keyring resolves key names to secrets. Configured credentials win over
// environment variables of the same name.
type Keyring struct {
	creds map[string]string
}

// NewKeyring creates a Keyring over the configured credentials map.
func NewKeyring(creds map[string]string) *Keyring {
	k := &Keyring{creds: make(map[string]string, len(creds))}
	for name, v := range creds {
		k.creds[strings.ToLower(name)] = v
	}
	return k
}

// Lookup returns the secret for name.
func (k *Keyring) Lookup(name string) (string, bool) {
	if v, ok := k.creds[strings.ToLower(name)]; ok && v != "" {
		return v, true
	}
	v, ok := os.LookupEnv(name)
	return v, ok && v != ""
}

// Router maps a row to the key name its provider call is made with.
type Router struct {
	cfg         config.RoutingConfig
	fallbackKey string
	usage       UsageStore
	loc         *time.Location
	now         func() time.Time
}

// NewRouter creates a Router. Usage days are calendar days in loc.
func NewRouter(cfg config.RoutingConfig, fallbackKey string, usage UsageStore, loc *time.Location) *Router {
	if loc == nil {
		loc = time.UTC
	}
	return &Router{cfg: cfg, fallbackKey: fallbackKey, usage: usage, loc: loc, now: time.Now}
}

// Day returns today's usage bucket.
func (r *Router) Day() string {
	return r.now().In(r.loc).Format(time.DateOnly)
}

// BaseKey returns the unrotated key name for a row: the fallback key for
// the fallback tier, otherwise sheet prefix plus media bucket.
func (r *Router) BaseKey(tier model.Tier, sheet, media string) string {
	if tier == model.TierFallback {
		return r.fallbackKey
	}
	prefix, ok := r.cfg.SheetPrefixes[strings.ToLower(strings.TrimSpace(sheet))]
	if !ok {
		prefix = r.cfg.DefaultPrefix
	}
	bucket, ok := r.cfg.MediaKeys[NormalizeMedia(media)]
	if !ok || bucket == "" {
		bucket = r.cfg.DefaultBase
	}
	return prefix + bucket
}

// GroupKey identifies rows that may share a chunk.
func (r *Router) GroupKey(tier model.Tier, sheet, media string) string {
	return tier.String() + "|" + r.BaseKey(tier, sheet, media)
}

// Pick returns the key name to call with. When the base key has a rotation
// list, the first key under the daily cap wins; if every key is capped the
// last one is used and the provider reports the quota error.
func (r *Router) Pick(ctx context.Context, tier model.Tier, sheet, media string) (string, error) {
	base := r.BaseKey(tier, sheet, media)
	keys := r.cfg.Rotation[strings.ToLower(base)]
	if len(keys) == 0 || r.usage == nil {
		return base, nil
	}

	day := r.Day()
	for _, k := range keys {
		if r.cfg.DailyCap <= 0 {
			return k, nil
		}
		n, err := r.usage.Usage(ctx, day, k)
		if err != nil {
			return "", eris.Wrapf(err, "dispatch: usage for %s", k)
		}
		if n < r.cfg.DailyCap {
			return k, nil
		}
	}
	last := keys[len(keys)-1]
	zap.L().Warn("dispatch: every rotated key is over the daily cap",
		zap.String("base", base),
		zap.String("key", last),
		zap.Int("cap", r.cfg.DailyCap),
	)
	return last, nil
}

// Record counts one network attempt against key.
func (r *Router) Record(ctx context.Context, key string) error {
	if r.usage == nil {
		return nil
	}
	_, err := r.usage.IncrementUsage(ctx, r.Day(), key)
	return eris.Wrapf(err, "dispatch: record usage %s", key)
}
