package detect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/opencatalog/piiguard/catalog"
	"github.com/opencatalog/piiguard/connector"
	"github.com/opencatalog/piiguard/rules"
)

const (
	// DefaultSampleLimit bounds how many values are pulled per column.
	DefaultSampleLimit = 200

	// DefaultSampleTimeout bounds one sampling call. A slow source
	// degrades that column to metadata/pattern evidence only.
	DefaultSampleTimeout = 5 * time.Second

	defaultSampleCacheSize = 4096

	// contentMatchThreshold is the minimum match rate to call the
	// column a content match.
	contentMatchThreshold = 0.5
)

// ContentCollector samples live column values through the connector
// layer and validates them against the rule's regex. Samples are cached
// per column so evaluating many rules against one column costs one
// sampling query.
type ContentCollector struct {
	connectors  *connector.Registry
	sampleLimit int
	timeout     time.Duration
	cache       *lru.Cache[string, []string]
	logger      *slog.Logger
}

// ContentOption customizes the collector.
type ContentOption func(*ContentCollector)

// WithSampleLimit overrides the per-column sample bound.
func WithSampleLimit(limit int) ContentOption {
	return func(cc *ContentCollector) { cc.sampleLimit = limit }
}

// WithSampleTimeout overrides the per-call timeout.
func WithSampleTimeout(timeout time.Duration) ContentOption {
	return func(cc *ContentCollector) { cc.timeout = timeout }
}

// NewContentCollector creates the collector.
func NewContentCollector(connectors *connector.Registry, logger *slog.Logger, opts ...ContentOption) *ContentCollector {
	cache, _ := lru.New[string, []string](defaultSampleCacheSize)
	cc := &ContentCollector{
		connectors:  connectors,
		sampleLimit: DefaultSampleLimit,
		timeout:     DefaultSampleTimeout,
		cache:       cache,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(cc)
	}
	return cc
}

// InvalidateColumn drops the cached sample for a column, used after
// manual actions so the next scan sees fresh data.
func (cc *ContentCollector) InvalidateColumn(col catalog.ColumnRef) {
	cc.cache.Remove(col.Key())
}

// Evaluate implements Collector.
func (cc *ContentCollector) Evaluate(ctx context.Context, col catalog.Column, rule rules.Definition) Opinion {
	re, err := rule.CompileRegex()
	if err != nil || re == nil {
		return Opinion{
			Source:    catalog.SourceContent,
			Match:     false,
			Rationale: "rule has no content pattern",
		}
	}

	sample, err := cc.sample(ctx, col.Ref)
	if err != nil {
		cc.logger.Warn("content sampling degraded",
			"column", col.Ref.Key(),
			"rule_id", rule.ID,
			"error", err)
		return Opinion{
			Source:    catalog.SourceContent,
			Match:     false,
			Rationale: fmt.Sprintf("sampling unavailable: %v", err),
		}
	}

	matched, nonEmpty := 0, 0
	for _, v := range sample {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		nonEmpty++
		if re.MatchString(v) {
			matched++
		}
	}

	if nonEmpty == 0 {
		return Opinion{
			Source:    catalog.SourceContent,
			Match:     false,
			Rationale: "sample empty, no content evidence",
		}
	}

	rate := float64(matched) / float64(nonEmpty)
	confidence := int(rate * 100 * sampleSizeFactor(nonEmpty))
	return Opinion{
		Source:     catalog.SourceContent,
		Match:      rate >= contentMatchThreshold,
		Confidence: clamp(confidence),
		Rationale:  fmt.Sprintf("%d/%d sampled values match pattern", matched, nonEmpty),
	}
}

func (cc *ContentCollector) sample(ctx context.Context, col catalog.ColumnRef) ([]string, error) {
	key := col.Key()
	if cached, ok := cc.cache.Get(key); ok {
		return cached, nil
	}

	conn, err := cc.connectors.For(col.DataSourceID)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithTimeout(ctx, cc.timeout)
	defer cancel()

	sample, err := conn.Sample(sctx, col, cc.sampleLimit)
	if err != nil {
		return nil, err
	}
	cc.cache.Add(key, sample)
	return sample, nil
}

// sampleSizeFactor discounts confidence from small samples: 50 or more
// non-empty values carry full weight, a handful carry roughly half.
func sampleSizeFactor(n int) float64 {
	if n >= 50 {
		return 1.0
	}
	return 0.5 + float64(n)/100
}
