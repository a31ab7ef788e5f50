package testutil

import (
	"context"
	"sync"
)

// Delivery is one recorded webhook call.
type Delivery struct {
	URL  string
	Body []byte
}

// RecordingWebhooks records deliveries instead of sending them.
type RecordingWebhooks struct {
	mu         sync.Mutex
	Err        error
	deliveries []Delivery
}

func (w *RecordingWebhooks) Send(_ context.Context, url string, body []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deliveries = append(w.deliveries, Delivery{URL: url, Body: append([]byte(nil), body...)})
	return w.Err
}

// Deliveries returns every recorded call.
func (w *RecordingWebhooks) Deliveries() []Delivery {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Delivery(nil), w.deliveries...)
}
