package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrWindowRequired is returned when a required time window is missing
var ErrWindowRequired = errors.New("start and end are required")

// ParseJSON decodes JSON from the request body into the destination
func ParseJSON(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// ParseTime parses an optional RFC3339 query value. An empty value returns nil.
func ParseTime(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: expected RFC3339", name, value)
	}
	return &t, nil
}

// ParseWindow parses the required start and end query parameters of a
// half-open [start, end) window
func ParseWindow(query url.Values) (time.Time, time.Time, error) {
	start, err := ParseTime("start", query.Get("start"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := ParseTime("end", query.Get("end"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if start == nil || end == nil {
		return time.Time{}, time.Time{}, ErrWindowRequired
	}
	if !start.Before(*end) {
		return time.Time{}, time.Time{}, errors.New("start must be before end")
	}
	return *start, *end, nil
}

// ParseQueryInt parses an integer query parameter, returning defaultVal when absent
func ParseQueryInt(query url.Values, key string, defaultVal int) (int, error) {
	str := query.Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, str)
	}
	return val, nil
}

// ParseQueryBool parses an optional boolean query parameter. Absent returns nil.
func ParseQueryBool(query url.Values, key string) (*bool, error) {
	str := query.Get(key)
	if str == "" {
		return nil, nil
	}
	val, err := strconv.ParseBool(str)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", key, str)
	}
	return &val, nil
}

// ParseCommaSeparated splits a comma-separated value, dropping blanks
func ParseCommaSeparated(s string) []string {
	if s == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

// PrefixedParams collects prefix.key=value parameters into a map keyed without
// the prefix. It returns nil when none are present.
func PrefixedParams(query url.Values, prefix string) map[string]string {
	var out map[string]string
	for k, v := range query {
		if !strings.HasPrefix(k, prefix) || len(v) == 0 {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[strings.TrimPrefix(k, prefix)] = v[0]
	}
	return out
}
