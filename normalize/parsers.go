package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// rfc3164 matches <pri>timestamp hostname message.
var rfc3164 = regexp.MustCompile(`^<(\d+)>(\w{3}\s+\d+\s+\d+:\d+:\d+)\s+(\S+)\s+(.+)$`)

// ParseSyslogLine converts an RFC3164-style syslog line into a raw record
// suitable for Normalize. The priority is split into facility and severity.
func ParseSyslogLine(raw string) (map[string]interface{}, error) {
	matches := rfc3164.FindStringSubmatch(strings.TrimSpace(raw))
	if len(matches) != 5 {
		return nil, fmt.Errorf("invalid syslog format")
	}
	pri, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid priority in syslog message: %w", err)
	}
	return map[string]interface{}{
		"priority": pri,
		"facility": pri / 8,
		"severity": pri % 8,
		"time":     matches[2],
		"hostname": matches[3],
		"message":  matches[4],
		"raw":      raw,
	}, nil
}

// ParseCEFLine converts a CEF line into a raw record suitable for Normalize.
// Format: CEF:Version|Vendor|Product|Version|EventClassID|Name|Severity|Extension
func ParseCEFLine(raw string) (map[string]interface{}, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), "|", 8)
	if len(parts) < 8 || !strings.HasPrefix(parts[0], "CEF:") {
		return nil, fmt.Errorf("invalid CEF format")
	}
	record := map[string]interface{}{
		"cef_version":    strings.TrimPrefix(parts[0], "CEF:"),
		"device_vendor":  parts[1],
		"device_product": parts[2],
		"device_version": parts[3],
		"event_class_id": parts[4],
		"name":           parts[5],
		"raw":            raw,
	}
	if sev, err := strconv.Atoi(parts[6]); err == nil {
		record["severity"] = sev
	}
	// Extension: key=value pairs separated by spaces.
	for _, kv := range strings.Fields(parts[7]) {
		if pair := strings.SplitN(kv, "=", 2); len(pair) == 2 {
			record[pair[0]] = pair[1]
		}
	}
	return record, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	time.Stamp, // syslog "Jan _2 15:04:05"
}

func parseTimestamp(value string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			// Stamp has no year; pin it to the current one.
			if ts.Year() == 0 {
				now := time.Now().UTC()
				ts = ts.AddDate(now.Year(), 0, 0)
			}
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
