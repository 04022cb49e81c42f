package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// RawEvent represents an unprocessed notification read from an event stream.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// ObjectEvent identifies an object that was created in the object store.
type ObjectEvent struct {
	Bucket string `json:"bucket"`
	Key    string `json:"name"`
}

// storageNotification covers both payload shapes accepted from triggers:
// the flat {"bucket","name"} storage notification and the S3 event
// notification with a Records array.
type storageNotification struct {
	Bucket  string `json:"bucket"`
	Name    string `json:"name"`
	Records []struct {
		S3 struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// ParseObjectEvents decodes a trigger payload into the objects it names. A
// flat notification names one object; an S3 event notification names one per
// entry in Records, in order. Every entry must name a bucket and a key.
func ParseObjectEvents(payload []byte) ([]ObjectEvent, error) {
	var n storageNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("parse object event: %w", err)
	}

	if len(n.Records) == 0 {
		ev, err := checkObjectEvent(ObjectEvent{Bucket: n.Bucket, Key: n.Name})
		if err != nil {
			return nil, err
		}
		return []ObjectEvent{ev}, nil
	}

	events := make([]ObjectEvent, 0, len(n.Records))
	for i, rec := range n.Records {
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("parse object event: record %d: decode key: %w", i, err)
		}
		ev, err := checkObjectEvent(ObjectEvent{Bucket: rec.S3.Bucket.Name, Key: key})
		if err != nil {
			return nil, fmt.Errorf("%w (record %d)", err, i)
		}
		events = append(events, ev)
	}
	return events, nil
}

func checkObjectEvent(ev ObjectEvent) (ObjectEvent, error) {
	ev.Bucket = strings.TrimSpace(ev.Bucket)
	if ev.Bucket == "" {
		return ObjectEvent{}, errors.New("parse object event: missing bucket")
	}
	if ev.Key == "" {
		return ObjectEvent{}, errors.New("parse object event: missing object name")
	}
	return ev, nil
}
