package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/boardflow/internal/engine"
	"github.com/roach88/boardflow/internal/ir"
	"github.com/roach88/boardflow/internal/metrics"
)

type fakeSubmitter struct {
	got []ir.BoardEvent
	err error
}

func (f *fakeSubmitter) Submit(ev ir.BoardEvent) (ir.BoardEvent, error) {
	if f.err != nil {
		return ev, f.err
	}
	if ev.EventID == "" {
		ev.EventID = "generated-1"
	}
	f.got = append(f.got, ev)
	return ev, nil
}

type fakeActivity struct {
	entries   []ir.ActivityEntry
	lastLimit int
	err       error
}

func (f *fakeActivity) ListActivity(_ context.Context, boardID string, limit int) ([]ir.ActivityEntry, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	var out []ir.ActivityEntry
	for _, e := range f.entries {
		if e.BoardID == boardID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func newTestHandler(sub *fakeSubmitter, act *fakeActivity, ping fakePinger) (http.Handler, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return New(sub, act, ping, reg, nil).Routes(), reg
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmitEvent(t *testing.T) {
	sub := &fakeSubmitter{}
	h, _ := newTestHandler(sub, &fakeActivity{}, fakePinger{})

	rec := do(t, h, http.MethodPost, "/boards/b1/events",
		`{"card_id":"c1","type":"card_moved","payload":{"from_column":"todo","to_column":"done"}}`)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"event_id":"generated-1","board_id":"b1"}`, rec.Body.String())

	require.Len(t, sub.got, 1)
	ev := sub.got[0]
	assert.Equal(t, "b1", ev.BoardID)
	assert.Equal(t, ir.TriggerCardMoved, ev.Type)
	assert.Equal(t, "done", ev.Payload.ToColumn)
	assert.Zero(t, ev.Depth)
}

func TestSubmitEvent_KeepsCallerEventID(t *testing.T) {
	sub := &fakeSubmitter{}
	h, _ := newTestHandler(sub, &fakeActivity{}, fakePinger{})

	rec := do(t, h, http.MethodPost, "/boards/b1/events", `{"event_id":"ext-9","card_id":"c1","type":"card_created"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "ext-9", sub.got[0].EventID)
}

func TestSubmitEvent_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"card_id":`},
		{"unknown field", `{"card_id":"c1","type":"card_created","depth":4}`},
		{"missing card", `{"type":"card_created"}`},
		{"unknown type", `{"card_id":"c1","type":"card_archived"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{}
			h, _ := newTestHandler(sub, &fakeActivity{}, fakePinger{})
			rec := do(t, h, http.MethodPost, "/boards/b1/events", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, sub.got)
		})
	}
}

func TestSubmitEvent_DispatcherStopped(t *testing.T) {
	h, _ := newTestHandler(&fakeSubmitter{err: errors.New("stopped")}, &fakeActivity{}, fakePinger{})
	rec := do(t, h, http.MethodPost, "/boards/b1/events", `{"card_id":"c1","type":"card_created"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSubmitEvent_PendingEventConflict(t *testing.T) {
	sub := &fakeSubmitter{err: fmt.Errorf("%w: ext-9", engine.ErrEventPending)}
	h, _ := newTestHandler(sub, &fakeActivity{}, fakePinger{})

	rec := do(t, h, http.MethodPost, "/boards/b1/events", `{"event_id":"ext-9","card_id":"c1","type":"card_created"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already pending")
}

func TestListActivity(t *testing.T) {
	act := &fakeActivity{entries: []ir.ActivityEntry{
		{ID: 2, BoardID: "b1", Kind: ir.ActivityRateLimited, RuleID: "r1", Detail: "skipped"},
		{ID: 1, BoardID: "b1", Kind: ir.ActivityRuleFired, RuleID: "r1", Detail: "ran"},
		{ID: 3, BoardID: "b2", Kind: ir.ActivityRuleFired},
	}}
	h, _ := newTestHandler(&fakeSubmitter{}, act, fakePinger{})

	rec := do(t, h, http.MethodGet, "/boards/b1/activity?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, act.lastLimit)

	var entries []ir.ActivityEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, ir.ActivityRateLimited, entries[0].Kind)

	rec = do(t, h, http.MethodGet, "/boards/empty/activity", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Equal(t, defaultActivityLimit, act.lastLimit)

	rec = do(t, h, http.MethodGet, "/boards/b1/activity?limit=100000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxActivityLimit, act.lastLimit)

	rec = do(t, h, http.MethodGet, "/boards/b1/activity?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(&fakeSubmitter{}, &fakeActivity{}, fakePinger{})
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)

	h, _ = newTestHandler(&fakeSubmitter{}, &fakeActivity{}, fakePinger{err: errors.New("disk gone")})
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/healthz", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h, reg := newTestHandler(&fakeSubmitter{}, &fakeActivity{}, fakePinger{})
	m := metrics.New(reg)
	m.IncRuleFiring(false)

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `boardflow_rule_firings_total{result="succeeded"} 1`)
}
