package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrMissingPosition is returned when lat or lng is absent or null.
var ErrMissingPosition = errors.New("lat and lng are required")

// UnmarshalJSON accepts capturedAt as RFC3339 with or without a zone suffix,
// or offlineTimestamp as epoch milliseconds (sent by replaying clients).
// lat and lng must both be present and non-null.
func (u *UpdateLocation) UnmarshalJSON(data []byte) error {
	type alias UpdateLocation
	aux := &struct {
		Lat              *float64 `json:"lat"`
		Lng              *float64 `json:"lng"`
		CapturedAt       string   `json:"capturedAt"`
		OfflineTimestamp *int64   `json:"offlineTimestamp"`
		*alias
	}{alias: (*alias)(u)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Lat == nil || aux.Lng == nil {
		return ErrMissingPosition
	}
	u.Lat, u.Lng = *aux.Lat, *aux.Lng
	u.RouteID = strings.TrimSpace(u.RouteID)

	switch {
	case aux.CapturedAt != "":
		t, err := parseTimestamp(aux.CapturedAt)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"raw_timestamp": aux.CapturedAt,
				"parse_error":   err,
			}).Warn("update-location: failed to parse capturedAt")
			return fmt.Errorf("invalid capturedAt %q: %w", aux.CapturedAt, err)
		}
		u.CapturedAt = t
	case aux.OfflineTimestamp != nil:
		u.CapturedAt = time.UnixMilli(*aux.OfflineTimestamp).UTC()
	default:
		u.CapturedAt = time.Time{}
	}
	return nil
}

// MarshalJSON omits capturedAt when it is unset.
func (u UpdateLocation) MarshalJSON() ([]byte, error) {
	aux := struct {
		RouteID    string  `json:"routeId"`
		Lat        float64 `json:"lat"`
		Lng        float64 `json:"lng"`
		CapturedAt string  `json:"capturedAt,omitempty"`
	}{RouteID: u.RouteID, Lat: u.Lat, Lng: u.Lng}
	if !u.CapturedAt.IsZero() {
		aux.CapturedAt = u.CapturedAt.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(aux)
}

// parseTimestamp assumes UTC when the value carries no zone. Basic-format
// offsets (+0300) are rewritten to extended form (+03:00).
func parseTimestamp(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)
	switch {
	case hasZone(ts):
	case hasBasicOffset(ts):
		ts = ts[:len(ts)-2] + ":" + ts[len(ts)-2:]
	default:
		ts += "Z"
	}
	return time.Parse(time.RFC3339Nano, ts)
}

func hasZone(ts string) bool {
	if strings.HasSuffix(ts, "Z") || strings.HasSuffix(ts, "z") {
		return true
	}
	// Offset like +03:00 or -05:00 at the tail, after the date part.
	if len(ts) < 6 {
		return false
	}
	tail := ts[len(ts)-6:]
	return (tail[0] == '+' || tail[0] == '-') && tail[3] == ':'
}

// hasBasicOffset reports a trailing +hhmm or -hhmm after the time part.
func hasBasicOffset(ts string) bool {
	t := strings.IndexByte(ts, 'T')
	if t < 0 || len(ts)-5 <= t {
		return false
	}
	tail := ts[len(ts)-5:]
	if tail[0] != '+' && tail[0] != '-' {
		return false
	}
	for _, c := range tail[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
