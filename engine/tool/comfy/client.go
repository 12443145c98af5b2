// Package comfy talks to a ComfyUI backend and exposes its catalog and
// execution endpoints as agent tools.
package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/comfyflow/agentmode/engine/core"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/slok/goresilience"
	"github.com/slok/goresilience/circuitbreaker"
	resilienceerrors "github.com/slok/goresilience/errors"
)

const (
	ErrCodeRequest     = "COMFYUI_REQUEST_FAILED"
	ErrCodeRejected    = "COMFYUI_PROMPT_REJECTED"
	ErrCodeUnavailable = "COMFYUI_UNAVAILABLE"

	objectInfoKey = "object_info"

	breakerMinRequests  = 5
	breakerErrorPercent = 50
	breakerOpenFor      = 15 * time.Second
)

var errServerFailure = errors.New("comfyui server error")

// NodeInfo is one entry of /object_info.
type NodeInfo struct {
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
	Input       NodeInputs `json:"input"`
	Output      []any      `json:"output"`
	OutputName  []string   `json:"output_name"`
	OutputNode  bool       `json:"output_node"`
}

// NodeInputs maps input names to their ComfyUI spec: [type_or_choices, options?].
type NodeInputs struct {
	Required map[string]json.RawMessage `json:"required"`
	Optional map[string]json.RawMessage `json:"optional"`
}

// PromptResult is the response of POST /prompt.
type PromptResult struct {
	PromptID   string                     `json:"prompt_id"`
	Number     int                        `json:"number"`
	NodeErrors map[string]json.RawMessage `json:"node_errors"`
}

type promptRejection struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Details string `json:"details"`
	} `json:"error"`
	NodeErrors map[string]json.RawMessage `json:"node_errors"`
}

// HistoryEntry is one prompt in /history/{id}.
type HistoryEntry struct {
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
		Messages  []any  `json:"messages"`
	} `json:"status"`
	Outputs map[string]json.RawMessage `json:"outputs"`
}

type Config struct {
	BaseURL       string
	Timeout       time.Duration
	ObjectInfoTTL time.Duration
	ClientID      string
}

// Client is a ComfyUI HTTP client. Node definitions are cached because
// /object_info is large and rarely changes while an agent runs.
type Client struct {
	http     *resty.Client
	clientID string
	cache    *expirable.LRU[string, map[string]NodeInfo]
	// Stops hammering a backend that keeps failing.
	breaker goresilience.Runner
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ttl := cfg.ObjectInfoTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = core.MustNewID().String()
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(retryCondition)
	return &Client{
		http:     httpClient,
		clientID: clientID,
		cache:    expirable.NewLRU[string, map[string]NodeInfo](4, nil, ttl),
		breaker: goresilience.RunnerChain(circuitbreaker.NewMiddleware(circuitbreaker.Config{
			ErrorPercentThresholdToOpen:        breakerErrorPercent,
			MinimumRequestToOpen:               breakerMinRequests,
			SuccessfulRequiredOnHalfOpen:       1,
			WaitDurationInOpenState:            breakerOpenFor,
			MetricsSlidingWindowBucketQuantity: 10,
			MetricsBucketDuration:              time.Second,
		})),
	}
}

func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

// ObjectInfo returns every node definition known to the backend.
func (c *Client) ObjectInfo(ctx context.Context) (map[string]NodeInfo, error) {
	if nodes, ok := c.cache.Get(objectInfoKey); ok {
		return nodes, nil
	}
	var nodes map[string]NodeInfo
	if err := c.get(ctx, "/object_info", &nodes); err != nil {
		return nil, err
	}
	c.cache.Add(objectInfoKey, nodes)
	return nodes, nil
}

// Node returns one node definition.
func (c *Client) Node(ctx context.Context, classType string) (NodeInfo, bool, error) {
	nodes, err := c.ObjectInfo(ctx)
	if err != nil {
		return NodeInfo{}, false, err
	}
	n, ok := nodes[classType]
	return n, ok, nil
}

// Models lists files in a model folder such as "checkpoints" or "loras".
func (c *Client) Models(ctx context.Context, folder string) ([]string, error) {
	var files []string
	if err := c.get(ctx, "/models/"+url.PathEscape(folder), &files); err != nil {
		return nil, err
	}
	return files, nil
}

// ModelFolders lists the model folders the backend knows about.
func (c *Client) ModelFolders(ctx context.Context) ([]string, error) {
	var folders []string
	if err := c.get(ctx, "/models", &folders); err != nil {
		return nil, err
	}
	return folders, nil
}

// QueuePrompt submits a workflow for execution. A rejected workflow yields a
// result carrying NodeErrors together with a coded error.
func (c *Client) QueuePrompt(ctx context.Context, workflow json.RawMessage) (PromptResult, error) {
	var result PromptResult
	var rejection promptRejection
	resp, err := c.do(ctx, "/prompt", func(ctx context.Context) (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(map[string]any{"prompt": workflow, "client_id": c.clientID}).
			SetResult(&result).
			SetError(&rejection).
			Post("/prompt")
	})
	if err != nil {
		return PromptResult{}, err
	}
	if resp.IsError() {
		msg := strings.TrimSpace(rejection.Error.Message + " " + rejection.Error.Details)
		if msg == "" {
			msg = resp.Status()
		}
		return PromptResult{NodeErrors: rejection.NodeErrors}, core.NewError(
			fmt.Errorf("prompt rejected: %s", msg),
			ErrCodeRejected,
			map[string]any{"status": resp.StatusCode(), "type": rejection.Error.Type},
		)
	}
	return result, nil
}

// History returns the execution record of a prompt, if the backend has one yet.
func (c *Client) History(ctx context.Context, promptID string) (HistoryEntry, bool, error) {
	var history map[string]HistoryEntry
	if err := c.get(ctx, "/history/"+url.PathEscape(promptID), &history); err != nil {
		return HistoryEntry{}, false, err
	}
	entry, ok := history[promptID]
	return entry, ok, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, path, func(ctx context.Context) (*resty.Response, error) {
		return c.http.R().SetContext(ctx).SetResult(out).Get(path)
	})
	if err != nil {
		return err
	}
	if resp.IsError() {
		return core.NewError(
			fmt.Errorf("GET %s: %s", path, resp.Status()),
			ErrCodeRequest,
			map[string]any{"status": resp.StatusCode()},
		)
	}
	return nil
}

// do sends one request through the circuit breaker. Transport failures and
// 5xx responses count against the backend; other responses are returned as is.
func (c *Client) do(
	ctx context.Context,
	path string,
	send func(ctx context.Context) (*resty.Response, error),
) (*resty.Response, error) {
	var (
		resp    *resty.Response
		sendErr error
	)
	err := c.breaker.Run(ctx, func(ctx context.Context) error {
		resp, sendErr = send(ctx)
		if sendErr != nil {
			return sendErr
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return errServerFailure
		}
		return nil
	})
	switch {
	case sendErr != nil:
		return nil, requestError(path, sendErr)
	case errors.Is(err, resilienceerrors.ErrCircuitOpen):
		return nil, core.NewError(
			fmt.Errorf("request %s: ComfyUI keeps failing, retry later: %w", path, err),
			ErrCodeUnavailable,
			nil,
		)
	case resp == nil:
		return nil, requestError(path, err)
	}
	return resp, nil
}

func requestError(path string, err error) error {
	return core.NewError(fmt.Errorf("request %s: %w", path, err), ErrCodeRequest, nil)
}
