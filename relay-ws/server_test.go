package relayws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/socialjobs/job-relay/relay-ws/jobdao"
	"github.com/tj/assert"
)

type fakeJobs struct {
	byUser map[string][]jobdao.Job
	err    error
}

func (f fakeJobs) Recent(_ context.Context, userID string) ([]jobdao.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	if jobs, ok := f.byUser[userID]; ok {
		return jobs, nil
	}
	return []jobdao.Job{}, nil
}

type testRelay struct {
	server *Server
	http   *httptest.Server
	store  *recordingStore
}

func withRelay(t *testing.T, jobs JobReader, callback func(r testRelay)) {
	store := &recordingStore{}
	server := New(Config{
		Secret: testSecret,
		Store:  store,
		Jobs:   jobs,
		Logger: zerolog.Nop(),
	})
	ts := httptest.NewServer(server.Routes())
	defer ts.Close()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, server.Shutdown(ctx))
	}()

	callback(testRelay{server: server, http: ts, store: store})
}

func (r testRelay) dial(t *testing.T) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(r.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NoError(t, err)
	return conn
}

func (r testRelay) post(t *testing.T, path, body string) (int, map[string]interface{}) {
	resp, err := http.Post(r.http.URL+path, "application/json", bytes.NewBufferString(body))
	assert.NoError(t, err)
	defer resp.Body.Close()

	var v map[string]interface{}
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return resp.StatusCode, v
}

func send(t *testing.T, conn *websocket.Conn, v interface{}) Message {
	assert.NoError(t, conn.WriteJSON(v))
	return read(t, conn)
}

func read(t *testing.T, conn *websocket.Conn) Message {
	assert.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg Message
	assert.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func authenticate(t *testing.T, conn *websocket.Conn, userID string) {
	msg := send(t, conn, map[string]string{"type": "authenticate", "userId": userID, "credential": testSecret})
	assert.Equal(t, MsgAuthenticated, msg.Type)
}

func assertSilent(t *testing.T, conn *websocket.Conn) {
	assert.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	var netErr interface{ Timeout() bool }
	assert.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected no frame")
}

func eventually(t *testing.T, condition func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestServer(t *testing.T) {
	t.Run("health", func(t *testing.T) {
		withRelay(t, nil, func(r testRelay) {
			resp, err := http.Get(r.http.URL + "/health")
			assert.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)

			var v map[string]string
			assert.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
			assert.Equal(t, "OK", v["status"])
			_, err = time.Parse(time.RFC3339Nano, v["timestamp"])
			assert.NoError(t, err)
		})
	})

	t.Run("ws test", func(t *testing.T) {
		withRelay(t, nil, func(r testRelay) {
			resp, err := http.Get(r.http.URL + "/ws/test")
			assert.NoError(t, err)
			defer resp.Body.Close()

			var v map[string]string
			assert.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
			assert.Equal(t, "/ws", v["path"])
			assert.NotEmpty(t, v["message"])
		})
	})

	t.Run("notify job reaches only the user's connections", func(t *testing.T) {
		withRelay(t, nil, func(r testRelay) {
			a, b, other, anonymous := r.dial(t), r.dial(t), r.dial(t), r.dial(t)
			defer a.Close()
			defer b.Close()
			defer other.Close()
			defer anonymous.Close()

			authenticate(t, a, "u1")
			authenticate(t, b, "u1")
			authenticate(t, other, "u2")
			assert.Len(t, r.store.Activated(), 3)

			status, body := r.post(t, "/api/notify-job", `{"userId":"u1","job":{"id":7,"title":"Go Engineer"}}`)
			assert.Equal(t, http.StatusOK, status)
			assert.Equal(t, true, body["success"])
			assert.Equal(t, float64(2), body["notificationsSent"])

			for _, conn := range []*websocket.Conn{a, b} {
				msg := read(t, conn)
				assert.Equal(t, MsgNewJob, msg.Type)
				assert.JSONEq(t, `{"id":7,"title":"Go Engineer"}`, string(msg.Job))
				assert.NotNil(t, msg.Timestamp)
			}
			assertSilent(t, other)
			assertSilent(t, anonymous)
		})
	})

	t.Run("numeric user id on both sides", func(t *testing.T) {
		withRelay(t, nil, func(r testRelay) {
			conn := r.dial(t)
			defer conn.Close()

			msg := send(t, conn, map[string]interface{}{"type": "authenticate", "userId": 42, "credential": testSecret})
			assert.Equal(t, MsgAuthenticated, msg.Type)

			_, body := r.post(t, "/api/notify-job", `{"userId":"42","job":{"id":1}}`)
			assert.Equal(t, float64(1), body["notificationsSent"])
			assert.Equal(t, MsgNewJob, read(t, conn).Type)
		})
	})

	t.Run("notify job validation", func(t *testing.T) {
		withRelay(t, nil, func(r testRelay) {
			for _, input := range []string{`{"job":{"id":1}}`, `{"userId":"u1"}`, `{"userId":"u1","job":null}`, `not json`} {
				status, body := r.post(t, "/api/notify-job", input)
				assert.Equal(t, http.StatusBadRequest, status, input)
				assert.NotEmpty(t, body["error"], input)
			}
		})
	})

	t.Run("notify job with no connections", func(t *testing.T) {
		withRelay(t, nil, func(r testRelay) {
			status, body := r.post(t, "/api/notify-job", `{"userId":"u9","job":{"id":1}}`)
			assert.Equal(t, http.StatusOK, status)
			assert.Equal(t, float64(0), body["notificationsSent"])
		})
	})

	t.Run("broadcast job", func(t *testing.T) {
		withRelay(t, nil, func(r testRelay) {
			a, b, anonymous := r.dial(t), r.dial(t), r.dial(t)
			defer a.Close()
			defer b.Close()
			defer anonymous.Close()
			authenticate(t, a, "u1")
			authenticate(t, b, "u2")

			status, body := r.post(t, "/api/broadcast-job", `{"job":{"id":3}}`)
			assert.Equal(t, http.StatusOK, status)
			assert.Equal(t, float64(2), body["notificationsSent"])
			assert.Equal(t, MsgNewJob, read(t, a).Type)
			assert.Equal(t, MsgNewJob, read(t, b).Type)
			assertSilent(t, anonymous)

			status, _ = r.post(t, "/api/broadcast-job", `{}`)
			assert.Equal(t, http.StatusBadRequest, status)
		})
	})

	t.Run("notify job status", func(t *testing.T) {
		withRelay(t, nil, func(r testRelay) {
			conn := r.dial(t)
			defer conn.Close()
			authenticate(t, conn, "u1")

			status, body := r.post(t, "/api/notify-job-status", `{"userId":"u1","jobId":7,"status":"applied"}`)
			assert.Equal(t, http.StatusOK, status)
			assert.Equal(t, float64(1), body["notificationsSent"])

			msg := read(t, conn)
			assert.Equal(t, MsgJobStatusChanged, msg.Type)
			assert.Equal(t, "7", string(msg.JobID))
			assert.Equal(t, "applied", msg.Status)

			status, _ = r.post(t, "/api/notify-job-status", `{"userId":"u1","jobId":7}`)
			assert.Equal(t, http.StatusBadRequest, status)
		})
	})

	t.Run("frames get one reply each", func(t *testing.T) {
		withRelay(t, nil, func(r testRelay) {
			conn := r.dial(t)
			defer conn.Close()

			assert.Equal(t, "invalid credential", send(t, conn, map[string]string{"type": "authenticate", "userId": "u1", "credential": "bad"}).Message)
			assert.Equal(t, MsgPong, send(t, conn, map[string]string{"type": "ping"}).Type)
			assert.Equal(t, "unknown message type", send(t, conn, map[string]string{"type": "subscribe"}).Message)
			assert.Equal(t, ErrReadOnly.Error(), send(t, conn, map[string]interface{}{"type": "job_update", "jobId": 1, "status": "x"}).Message)

			assert.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("garbage")))
			assert.Equal(t, "invalid message format", read(t, conn).Message)

			// the connection survives errors
			authenticate(t, conn, "u1")
		})
	})

	t.Run("disconnect deactivates bound connections", func(t *testing.T) {
		withRelay(t, nil, func(r testRelay) {
			bound, anonymous := r.dial(t), r.dial(t)
			authenticate(t, bound, "u1")
			eventually(t, func() bool { return r.server.Registry().Len() == 2 })

			assert.NoError(t, bound.Close())
			assert.NoError(t, anonymous.Close())
			eventually(t, func() bool { return r.server.Registry().Len() == 0 })
			eventually(t, func() bool { return len(r.store.Deactivated()) == 1 })

			activated := r.store.Activated()
			assert.Len(t, activated, 1)
			assert.Equal(t, []string{activated[0].ConnectionID}, r.store.Deactivated())

			_, body := r.post(t, "/api/notify-job", `{"userId":"u1","job":{"id":1}}`)
			assert.Equal(t, float64(0), body["notificationsSent"])
		})
	})

	t.Run("recent jobs", func(t *testing.T) {
		jobs := fakeJobs{byUser: map[string][]jobdao.Job{
			"u1": {
				{ID: 2, Title: "Backend", Company: "Acme", Eligible: true, Keywords: []string{"go"}},
				{ID: 1, Title: "Frontend", Company: "Acme", Eligible: true, Keywords: []string{}},
			},
		}}
		withRelay(t, jobs, func(r testRelay) {
			resp, err := http.Get(r.http.URL + "/api/jobs/u1")
			assert.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)

			var got []jobdao.Job
			assert.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
			assert.Len(t, got, 2)
			assert.Equal(t, int64(2), got[0].ID)

			resp2, err := http.Get(r.http.URL + "/api/jobs/nobody")
			assert.NoError(t, err)
			defer resp2.Body.Close()
			data, _ := io.ReadAll(resp2.Body)
			assert.Equal(t, "[]", strings.TrimSpace(string(data)))
		})
	})

	t.Run("recent jobs failure", func(t *testing.T) {
		withRelay(t, fakeJobs{err: errors.New("relation does not exist")}, func(r testRelay) {
			resp, err := http.Get(r.http.URL + "/api/jobs/u1")
			assert.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

			var v map[string]string
			assert.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
			assert.Equal(t, "Failed to fetch jobs", v["error"])
		})
	})

	t.Run("metrics", func(t *testing.T) {
		withRelay(t, nil, func(r testRelay) {
			conn := r.dial(t)
			defer conn.Close()
			authenticate(t, conn, "u1")

			resp, err := http.Get(r.http.URL + "/metrics")
			assert.NoError(t, err)
			defer resp.Body.Close()
			data, _ := io.ReadAll(resp.Body)
			assert.Contains(t, string(data), "relay_connections_total 1")
			assert.Contains(t, string(data), `relay_authentications_total{result="ok"} 1`)
			assert.Contains(t, string(data), `relay_persistence_writes_total{op="activate",outcome="stored"} 1`)
		})
	})

	t.Run("shutdown closes connections", func(t *testing.T) {
		withRelay(t, nil, func(r testRelay) {
			conn := r.dial(t)
			defer conn.Close()
			authenticate(t, conn, "u1")

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			assert.NoError(t, r.server.Shutdown(ctx))
			assert.Equal(t, 0, r.server.Registry().Len())
			assert.Len(t, r.store.Deactivated(), 1)

			assert.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
			_, _, err := conn.ReadMessage()
			assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
		})
	})
}

func TestMakeUpgrader(t *testing.T) {
	check := func(origins []string, origin string) bool {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		upgrader := makeUpgrader(origins)
		return upgrader.CheckOrigin(req)
	}

	assert.True(t, check(nil, "https://evil.example"))
	assert.True(t, check([]string{"*"}, "https://evil.example"))
	assert.True(t, check([]string{"https://app.example"}, "https://app.example"))
	assert.True(t, check([]string{"https://app.example"}, ""))
	assert.False(t, check([]string{"https://app.example"}, "https://evil.example"))
}
