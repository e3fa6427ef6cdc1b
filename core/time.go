package core

import (
	"bytes"
	"time"

	"github.com/pkg/errors"
)

// layouts accepted when decoding a Time, zone-less ones are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Time is a time.Time that also decodes the zone-less ISO 8601 timestamps the backend emits.
type Time struct {
	time.Time
}

func NewTime(t time.Time) Time { return Time{t} }

func ParseTime(s string) (Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Time{t}, nil
		}
	}
	return Time{}, errors.Errorf("invalid timestamp %q", s)
}

func (t *Time) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return errors.Errorf("invalid timestamp %s", data)
	}
	parsed, err := ParseTime(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	return t.Time.MarshalJSON()
}

func (t Time) MarshalYAML() (interface{}, error) {
	return t.Format(time.RFC3339), nil
}
