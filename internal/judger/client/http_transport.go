package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gavel/internal/coordinator/model"
	appErr "gavel/pkg/errors"
)

const (
	nodeIDHeader     = "X-Judger-Id"
	nodeSecretHeader = "X-Judger-Secret"
)

// HTTPTransport talks to the coordinator's node API over HTTP polling.
type HTTPTransport struct {
	baseURL string
	nodeID  string
	secret  string
	client  *http.Client
}

// NewHTTPTransport creates a transport for the given coordinator base URL.
func NewHTTPTransport(baseURL, nodeID, secret string) *HTTPTransport {
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		nodeID:  nodeID,
		secret:  secret,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type envelope struct {
	Code    appErr.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    json.RawMessage  `json:"data"`
}

type connectData struct {
	NodeID        string   `json:"node_id"`
	Name          string   `json:"name"`
	MaxConcurrent int      `json:"max_concurrent"`
	Languages     []string `json:"languages"`
}

type fetchData struct {
	Task *model.JudgeTask `json:"task"`
}

type reportBody struct {
	TaskID  string         `json:"task_id"`
	Verdict *model.Verdict `json:"verdict"`
}

func (t *HTTPTransport) Connect(ctx context.Context) (*ConnectInfo, error) {
	var data connectData
	if err := t.post(ctx, "/api/judger/connect", nil, &data); err != nil {
		return nil, err
	}
	return &ConnectInfo{
		Name:          data.Name,
		MaxConcurrent: data.MaxConcurrent,
		Languages:     data.Languages,
	}, nil
}

func (t *HTTPTransport) Heartbeat(ctx context.Context) error {
	return t.post(ctx, "/api/judger/heartbeat", nil, nil)
}

func (t *HTTPTransport) Fetch(ctx context.Context) (*model.JudgeTask, error) {
	var data fetchData
	if err := t.post(ctx, "/api/judger/fetch", nil, &data); err != nil {
		return nil, err
	}
	return data.Task, nil
}

func (t *HTTPTransport) Report(ctx context.Context, taskID string, verdict *model.Verdict) error {
	return t.post(ctx, "/api/judger/report", reportBody{TaskID: taskID, Verdict: verdict}, nil)
}

func (t *HTTPTransport) Close() error { return nil }

func (t *HTTPTransport) post(ctx context.Context, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set(nodeIDHeader, t.nodeID)
	req.Header.Set(nodeSecretHeader, t.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	if env.Code != appErr.Success {
		if appErr.IsAuthFailureCode(env.Code) {
			return ErrUnauthorized
		}
		return appErr.Newf(env.Code, "%s", env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode payload from %s: %w", path, err)
		}
	}
	return nil
}
