package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"gavel/internal/coordinator/model"
	appErr "gavel/pkg/errors"
)

func envelopeJSON(code appErr.ErrorCode, data interface{}) []byte {
	raw, _ := json.Marshal(map[string]interface{}{
		"code":    code,
		"message": "",
		"data":    data,
	})
	return raw
}

func TestHTTPTransportConnect(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/judger/connect" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("X-Judger-Id") != "node-1" || r.Header.Get("X-Judger-Secret") != "s3cret" {
			t.Errorf("credentials not forwarded")
		}
		w.Write(envelopeJSON(appErr.Success, map[string]interface{}{
			"node_id":        "node-1",
			"name":           "worker-a",
			"max_concurrent": 4,
			"languages":      []string{"cpp", "go"},
		}))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, "node-1", "s3cret")
	info, err := tr.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if info.Name != "worker-a" || info.MaxConcurrent != 4 || len(info.Languages) != 2 {
		t.Fatalf("info = %+v", info)
	}
}

func TestHTTPTransportFetch(t *testing.T) {
	t.Parallel()
	empty := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if empty {
			w.Write(envelopeJSON(appErr.Success, map[string]interface{}{"task": nil}))
			return
		}
		w.Write(envelopeJSON(appErr.Success, map[string]interface{}{
			"task": &model.JudgeTask{ID: "task-1", SubmissionID: "sub-1", Language: "cpp"},
		}))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, "node-1", "s3cret")
	task, err := tr.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch empty: %v", err)
	}
	if task != nil {
		t.Fatalf("expected nil task, got %+v", task)
	}

	empty = false
	task, err = tr.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if task == nil || task.ID != "task-1" {
		t.Fatalf("task = %+v", task)
	}
}

func TestHTTPTransportReport(t *testing.T) {
	t.Parallel()
	var got reportBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write(envelopeJSON(appErr.Success, nil))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, "node-1", "s3cret")
	verdict := &model.Verdict{SubmissionID: "sub-1", Status: model.StatusAccepted, Score: 100}
	if err := tr.Report(context.Background(), "task-1", verdict); err != nil {
		t.Fatalf("report: %v", err)
	}
	if got.TaskID != "task-1" || got.Verdict == nil || got.Verdict.Status != model.StatusAccepted {
		t.Fatalf("body = %+v", got)
	}
}

func TestHTTPTransportAuthFailures(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "http 401",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
		},
		{
			name: "auth failure code in envelope",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write(envelopeJSON(appErr.NodeAuthFailed, nil))
			},
		},
		{
			name: "node disabled code in envelope",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write(envelopeJSON(appErr.NodeDisabled, nil))
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			tr := NewHTTPTransport(srv.URL, "node-1", "bad")
			if _, err := tr.Connect(context.Background()); !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}

func TestHTTPTransportPropagatesServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(envelopeJSON(appErr.DatabaseError, nil))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, "node-1", "s3cret")
	err := tr.Heartbeat(context.Background())
	if errors.Is(err, ErrUnauthorized) {
		t.Fatalf("server error must not look like an auth failure")
	}
	if appErr.GetCode(err) != appErr.DatabaseError {
		t.Fatalf("expected DatabaseError, got %v", err)
	}
}
