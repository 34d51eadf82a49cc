package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Channel is a normalized lookup result.
type Channel struct {
	ID          string
	Name        string
	Avatar      string
	Subscribers int64
}

// SearchResult is one candidate returned by a discovery search.
type SearchResult struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
	Verified bool   `json:"verified"`
}

type channelPayload struct {
	ID              string          `json:"id"`
	ChannelID       string          `json:"channelId"`
	Name            string          `json:"name"`
	Avatar          string          `json:"avatar"`
	Subscribers     json.RawMessage `json:"subscribers"`
	SubscriberCount json.RawMessage `json:"subscriberCount"`
}

func decodeChannel(raw []byte, requested string) (Channel, error) {
	var p channelPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Channel{}, fmt.Errorf("decoding channel: %w", err)
	}
	countRaw := p.Subscribers
	if len(countRaw) == 0 {
		countRaw = p.SubscriberCount
	}
	count, err := parseCount(countRaw)
	if err != nil {
		return Channel{}, err
	}
	id := p.ID
	if id == "" {
		id = p.ChannelID
	}
	if id == "" {
		id = requested
	}
	return Channel{
		ID:          id,
		Name:        strings.TrimSpace(p.Name),
		Avatar:      strings.TrimSpace(p.Avatar),
		Subscribers: count,
	}, nil
}

// decodeSearch accepts {"results":[...]} or a bare array and drops entries
// without an ID.
func decodeSearch(raw []byte) ([]SearchResult, error) {
	var results []SearchResult
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &results); err != nil {
			return nil, fmt.Errorf("decoding search results: %w", err)
		}
	} else {
		var wrapped struct {
			Results []SearchResult `json:"results"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("decoding search results: %w", err)
		}
		results = wrapped.Results
	}
	out := results[:0]
	for _, r := range results {
		r.ID = strings.TrimSpace(r.ID)
		if r.ID != "" {
			out = append(out, r)
		}
	}
	return out, nil
}

// parseCount reads a subscriber count given either as a JSON number or as a
// display string such as "1,234", "12.5K" or "3.1 M subscribers".
func parseCount(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("missing subscriber count")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("decoding subscriber count: %w", err)
		}
		return ParseCountString(s)
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("decoding subscriber count %s: %w", raw, err)
	}
	return toCount(f)
}

var suffixes = map[string]float64{
	"k": 1e3,
	"m": 1e6,
	"b": 1e9,
}

// ParseCountString parses a human formatted count.
func ParseCountString(s string) (int64, error) {
	orig := s
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "subscribers")
	s = strings.TrimSuffix(s, "subscriber")
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "_", "")

	mult := 1.0
	if n := len(s); n > 0 {
		if m, ok := suffixes[s[n-1:]]; ok {
			mult = m
			s = strings.TrimSpace(s[:n-1])
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid subscriber count %q", orig)
	}
	return toCount(f * mult)
}

func toCount(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > math.MaxInt64/2 {
		return 0, fmt.Errorf("subscriber count %v out of range", f)
	}
	return int64(math.Round(f)), nil
}
