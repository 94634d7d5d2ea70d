// Package detect evaluates canonical events against detection and
// correlation rules. The two engines share the condition matcher but keep
// independent state: detection is stateless per event, correlation holds
// per-rule sliding window buffers.
package detect

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"argus/core"

	"github.com/dlclark/regexp2"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const (
	// regexMatchTimeout bounds pathological patterns (ReDoS protection).
	regexMatchTimeout = 100 * time.Millisecond
	// defaultRegexCacheSize bounds the compiled-pattern cache.
	defaultRegexCacheSize = 512
)

// Matcher evaluates a single condition against an event. Compiled regex
// patterns are cached in an LRU so hot rules do not recompile per event.
type Matcher struct {
	regexCache *lru.Cache[string, *regexp2.Regexp]
	logger     *zap.SugaredLogger
}

// NewMatcher creates a condition matcher with the given regex cache size
// (<= 0 selects the default).
func NewMatcher(cacheSize int, logger *zap.SugaredLogger) (*Matcher, error) {
	if cacheSize <= 0 {
		cacheSize = defaultRegexCacheSize
	}
	cache, err := lru.New[string, *regexp2.Regexp](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create regex cache: %w", err)
	}
	return &Matcher{regexCache: cache, logger: logger}, nil
}

// Match reports whether the event satisfies the condition. Unknown fields
// and type mismatches never match; they are not errors.
func (m *Matcher) Match(event *core.Event, cond core.Condition) bool {
	value, ok := eventField(event, cond.Field)
	if !ok {
		return false
	}
	switch cond.Operator {
	case core.OpEquals:
		return equals(value, cond.Value)
	case core.OpContains:
		return strings.Contains(asString(value), asString(cond.Value))
	case core.OpRegex:
		return m.regexMatch(asString(value), asString(cond.Value))
	case core.OpGreaterThan:
		lhs, lok := asNumber(value)
		rhs, rok := asNumber(cond.Value)
		return lok && rok && lhs > rhs
	case core.OpLessThan:
		lhs, lok := asNumber(value)
		rhs, rok := asNumber(cond.Value)
		return lok && rok && lhs < rhs
	default:
		// Closed operator set; rule validation rejects anything else.
		return false
	}
}

// MatchAll reports whether the event satisfies every condition
// (conjunctive semantics).
func (m *Matcher) MatchAll(event *core.Event, conds []core.Condition) bool {
	for _, cond := range conds {
		if !m.Match(event, cond) {
			return false
		}
	}
	return len(conds) > 0
}

func (m *Matcher) regexMatch(value, pattern string) bool {
	re, ok := m.regexCache.Get(pattern)
	if !ok {
		compiled, err := regexp2.Compile(pattern, regexp2.RE2)
		if err != nil {
			m.logger.Warnw("Invalid regex pattern in condition", "pattern", pattern, "error", err)
			return false
		}
		compiled.MatchTimeout = regexMatchTimeout
		m.regexCache.Add(pattern, compiled)
		re = compiled
	}
	matched, err := re.MatchString(value)
	if err != nil {
		m.logger.Warnw("Regex match aborted", "pattern", pattern, "error", err)
		return false
	}
	return matched
}

// eventField resolves a condition field against the event: canonical
// attributes first, then the normalized-fields map.
func eventField(event *core.Event, name string) (interface{}, bool) {
	switch name {
	case "event_id":
		return event.EventID, true
	case "source":
		return event.Source, true
	case "source_category":
		return string(event.SourceCategory), true
	case "severity":
		return string(event.Severity), true
	case "actor":
		return event.Actor, true
	case "source_addr", "source_ip":
		return event.SourceAddr, true
	case "dest_addr", "dest_ip":
		return event.DestAddr, true
	case "source_port":
		return event.SourcePort, true
	case "dest_port":
		return event.DestPort, true
	case "protocol":
		return event.Protocol, true
	case "action":
		return event.Action, true
	case "outcome":
		return string(event.Outcome), true
	}
	if event.Fields != nil {
		if v, ok := event.Fields[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func equals(a, b interface{}) bool {
	if an, aok := asNumber(a); aok {
		if bn, bok := asNumber(b); bok {
			return an == bn
		}
	}
	return asString(a) == asString(b)
}

func asString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}

func asNumber(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	case string:
		num, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return num, err == nil
	default:
		return 0, false
	}
}
