package matrix

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const (
	testRoomID = id.RoomID("!room:example.org")
	ownUserID  = id.UserID("@alice:example.org")
	bobUserID  = id.UserID("@bob:example.org")
	carolUser  = id.UserID("@carol:example.org")
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

type route struct {
	method  string
	path    string
	prefix  bool
	handler http.HandlerFunc
}

// fakeHomeserver serves client-server API routes registered by tests. Paths
// are given without the /_matrix/client prefix; a trailing * matches any
// suffix. Unregistered routes answer M_NOT_FOUND.
type fakeHomeserver struct {
	*httptest.Server

	lock     sync.Mutex
	routes   []route
	requests []recordedRequest
}

func newFakeHomeserver(t *testing.T) *fakeHomeserver {
	t.Helper()
	hs := &fakeHomeserver{}
	hs.Server = httptest.NewServer(http.HandlerFunc(hs.serve))
	t.Cleanup(hs.Close)
	return hs
}

func (hs *fakeHomeserver) handle(method, path string, handler http.HandlerFunc) {
	hs.lock.Lock()
	defer hs.lock.Unlock()
	r := route{method: method, path: path, handler: handler}
	if strings.HasSuffix(path, "*") {
		r.prefix = true
		r.path = strings.TrimSuffix(path, "*")
	}
	hs.routes = append(hs.routes, r)
}

func (hs *fakeHomeserver) handleJSON(method, path string, status int, body any) {
	hs.handle(method, path, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, status, body)
	})
}

func (hs *fakeHomeserver) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/_matrix/client"), "/")
	hs.lock.Lock()
	hs.requests = append(hs.requests, recordedRequest{
		Method: r.Method,
		Path:   path,
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
		Body:   body,
	})
	var handler http.HandlerFunc
	for i := len(hs.routes) - 1; i >= 0; i-- {
		rt := hs.routes[i]
		if rt.method != r.Method {
			continue
		}
		if path == rt.path || (rt.prefix && strings.HasPrefix(path, rt.path)) {
			handler = rt.handler
			break
		}
	}
	hs.lock.Unlock()
	if handler == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"errcode": "M_NOT_FOUND", "error": "not found"})
		return
	}
	r.Body = io.NopCloser(strings.NewReader(string(body)))
	handler(w, r)
}

// requestsTo returns the recorded requests with the given method whose path
// starts with prefix.
func (hs *fakeHomeserver) requestsTo(method, prefix string) []recordedRequest {
	hs.lock.Lock()
	defer hs.lock.Unlock()
	var out []recordedRequest
	for _, req := range hs.requests {
		if req.Method == method && strings.HasPrefix(req.Path, prefix) {
			out = append(out, req)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestClient(t *testing.T, configure ...func(*Options)) (*Client, *fakeHomeserver) {
	t.Helper()
	hs := newFakeHomeserver(t)
	opts := Options{
		AccessToken: "initial-token",
		Claims: Claims{
			Subject:    "alice",
			DeviceID:   "DEVICE",
			Homeserver: "example.org",
		},
		HomeserverURL: hs.URL,
		Log:           zerolog.Nop(),
	}
	for _, fn := range configure {
		fn(&opts)
	}
	client, err := NewClient(opts)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client, hs
}

func rawEvent(t *testing.T, eventID id.EventID, evtType event.Type, sender id.UserID, ts int64, content map[string]any) *event.Event {
	t.Helper()
	data, err := json.Marshal(content)
	require.NoError(t, err)
	return &event.Event{
		ID:        eventID,
		Type:      evtType,
		Sender:    sender,
		Timestamp: ts,
		RoomID:    testRoomID,
		Content:   event.Content{VeryRaw: data},
	}
}

func textEvent(t *testing.T, eventID id.EventID, sender id.UserID, ts int64, body string) *event.Event {
	t.Helper()
	return rawEvent(t, eventID, event.EventMessage, sender, ts, map[string]any{"msgtype": "m.text", "body": body})
}

// wireEvent is the JSON form of an event as the homeserver returns it.
func wireEvent(evt *event.Event) map[string]any {
	var content map[string]any
	_ = json.Unmarshal(evt.Content.VeryRaw, &content)
	out := map[string]any{
		"event_id":         evt.ID,
		"type":             evt.Type.Type,
		"sender":           evt.Sender,
		"origin_server_ts": evt.Timestamp,
		"room_id":          evt.RoomID,
		"content":          content,
	}
	if evt.StateKey != nil {
		out["state_key"] = *evt.StateKey
	}
	return out
}

func wireEvents(events ...*event.Event) []map[string]any {
	out := make([]map[string]any, len(events))
	for i, evt := range events {
		out[i] = wireEvent(evt)
	}
	return out
}
