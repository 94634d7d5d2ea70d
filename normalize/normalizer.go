// Package normalize turns heterogeneous raw log records into canonical
// events. Normalization is information-preserving: any raw field that does
// not map onto a canonical attribute is kept verbatim in the event's
// normalized-fields map.
package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"argus/core"
	"argus/metrics"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// SourceFormat is the caller-declared format hint for a raw record.
type SourceFormat string

const (
	FormatSyslog     SourceFormat = "syslog"
	FormatCEF        SourceFormat = "cef"
	FormatStructured SourceFormat = "structured"
	FormatMsgpack    SourceFormat = "msgpack"
)

// Keys recognized as the source identifier, in lookup order.
var sourceKeys = []string{"source", "source_name", "hostname", "host", "device_product"}

// Normalizer parses raw key-valued records into canonical events.
type Normalizer struct {
	logger *zap.SugaredLogger
}

// New creates a Normalizer.
func New(logger *zap.SugaredLogger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize converts a raw record into a well-formed Event. The event is
// never partially populated: on any failure no event is returned. A record
// with no source identifier fails with core.ErrMissingSource.
func (n *Normalizer) Normalize(raw map[string]interface{}, format SourceFormat) (*core.Event, error) {
	if len(raw) == 0 {
		metrics.NormalizationFailures.WithLabelValues(string(format)).Inc()
		return nil, fmt.Errorf("normalize %s: empty raw record", format)
	}

	source, ok := lookupSource(raw)
	if !ok {
		metrics.NormalizationFailures.WithLabelValues(string(format)).Inc()
		return nil, fmt.Errorf("normalize %s: %w", format, core.ErrMissingSource)
	}

	event := core.NewEvent()
	event.Source = source
	event.SourceFormat = string(format)
	event.SourceCategory = categoryFor(raw, format)
	event.Severity = severityFor(raw, format)
	event.Actor = stringField(raw, "actor", "user", "username")
	event.SourceAddr = stringField(raw, "source_addr", "source_ip", "src_ip", "src")
	event.DestAddr = stringField(raw, "dest_addr", "dest_ip", "dst_ip", "dst")
	event.SourcePort = intField(raw, "source_port", "src_port", "spt")
	event.DestPort = intField(raw, "dest_port", "dst_port", "dpt")
	event.Protocol = stringField(raw, "protocol", "proto")
	event.Action = stringField(raw, "action", "event_type", "name")
	event.Outcome = outcomeFor(raw)

	if ts := stringField(raw, "timestamp", "time", "@timestamp"); ts != "" {
		if parsed, ok := parseTimestamp(ts); ok {
			event.Timestamp = parsed
		}
	}

	// Preserve the whole raw record: canonical fields are lifted out above,
	// everything lands verbatim in the normalized-fields map.
	for k, v := range raw {
		event.Fields[k] = v
	}

	if rawJSON, err := json.Marshal(raw); err == nil {
		event.RawData = string(rawJSON)
	}

	metrics.EventsNormalized.WithLabelValues(string(format)).Inc()
	n.logger.Debugw("Normalized event", "event_id", event.EventID, "source", source, "format", format, "severity", event.Severity)
	return event, nil
}

// NormalizeBytes decodes a serialized raw record and normalizes it.
// Msgpack payloads are decoded with msgpack, everything else as JSON.
func (n *Normalizer) NormalizeBytes(raw []byte, format SourceFormat) (*core.Event, error) {
	var record map[string]interface{}
	switch format {
	case FormatMsgpack:
		if err := msgpack.Unmarshal(raw, &record); err != nil {
			metrics.NormalizationFailures.WithLabelValues(string(format)).Inc()
			return nil, fmt.Errorf("normalize msgpack: %w", err)
		}
	default:
		if err := json.Unmarshal(raw, &record); err != nil {
			metrics.NormalizationFailures.WithLabelValues(string(format)).Inc()
			return nil, fmt.Errorf("normalize %s: invalid JSON: %w", format, err)
		}
	}
	return n.Normalize(record, format)
}

func lookupSource(raw map[string]interface{}) (string, bool) {
	for _, key := range sourceKeys {
		if v, ok := raw[key]; ok {
			if s := strings.TrimSpace(toString(v)); s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func categoryFor(raw map[string]interface{}, format SourceFormat) core.SourceCategory {
	if v, ok := raw["source_category"]; ok {
		cat := core.SourceCategory(toString(v))
		if cat.IsValid() {
			return cat
		}
	}
	switch format {
	case FormatSyslog:
		return core.SourceServer
	case FormatCEF:
		return core.SourceIntrusionSensor
	default:
		return core.SourceGeneric
	}
}

// severityFor maps format-specific severity scales onto the canonical five
// levels. Syslog priorities run 0-7 (0 most severe), CEF severities 0-10
// (10 most severe). A record already carrying a canonical severity string
// passes through unchanged.
func severityFor(raw map[string]interface{}, format SourceFormat) core.Severity {
	if v, ok := raw["severity"]; ok {
		if sev := core.Severity(strings.ToLower(toString(v))); sev.IsValid() {
			return sev
		}
		if num, ok := toFloat(v); ok {
			return severityFromScale(num, format)
		}
	}
	if v, ok := raw["priority"]; ok {
		if num, ok := toFloat(v); ok {
			return severityFromScale(num, FormatSyslog)
		}
	}
	return core.SeverityInfo
}

func severityFromScale(num float64, format SourceFormat) core.Severity {
	switch format {
	case FormatSyslog:
		// 0=emerg 1=alert 2=crit 3=err 4=warning 5=notice 6=info 7=debug
		switch {
		case num <= 1:
			return core.SeverityCritical
		case num <= 3:
			return core.SeverityHigh
		case num <= 4:
			return core.SeverityMedium
		case num <= 5:
			return core.SeverityLow
		default:
			return core.SeverityInfo
		}
	default:
		// CEF and generic 0-10 scales, 10 most severe.
		switch {
		case num >= 9:
			return core.SeverityCritical
		case num >= 7:
			return core.SeverityHigh
		case num >= 4:
			return core.SeverityMedium
		case num >= 1:
			return core.SeverityLow
		default:
			return core.SeverityInfo
		}
	}
}

func outcomeFor(raw map[string]interface{}) core.Outcome {
	switch strings.ToLower(stringField(raw, "outcome", "result", "status")) {
	case "success", "succeeded", "allow", "allowed", "pass":
		return core.OutcomeSuccess
	case "failure", "failed", "deny", "denied", "block", "blocked":
		return core.OutcomeFailure
	default:
		return core.OutcomeUnknown
	}
}

func stringField(raw map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := raw[key]; ok {
			if s := strings.TrimSpace(toString(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

func intField(raw map[string]interface{}, keys ...string) int {
	for _, key := range keys {
		if v, ok := raw[key]; ok {
			if num, ok := toFloat(v); ok {
				return int(num)
			}
		}
	}
	return 0
}

func toString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
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
