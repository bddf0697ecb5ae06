package flaky

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"carname/pkg/contract"
	"carname/plugins/registryclient/mock"
)

// Options 定义可选项。
type Options struct {
	// FailFirst: 前 N 次调用失败；默认 1。
	FailFirst int `json:"fail_first"`
	// Failure: 失败形态。"timeout"（默认）/"rate_limited"/"server_error"。
	Failure string `json:"failure"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
	// Mock: 成功调用时委托给 mock 客户端的选项。
	Mock json.RawMessage `json:"mock,omitempty"`
}

// Client 是带状态的注册中心实现：前 FailFirst 次调用返回瞬时错误，之后委托 mock。
type Client struct {
	failFirst int64
	failure   string
	logPath   string
	inner     *mock.Client
	count     atomic.Int64
}

// timeoutError 模拟客户端超时（net.Error）。
type timeoutError struct{ n int64 }

func (e timeoutError) Error() string   { return fmt.Sprintf("flaky: call %d timed out", e.n) }
func (e timeoutError) Timeout() bool   { return true }
func (e timeoutError) Temporary() bool { return true }

// serverError 模拟 503（net.Error + UpstreamError）。
type serverError struct{ n int64 }

func (e serverError) Error() string           { return fmt.Sprintf("flaky upstream 503: call %d", e.n) }
func (e serverError) Timeout() bool           { return false }
func (e serverError) Temporary() bool         { return true }
func (e serverError) UpstreamStatus() int     { return 503 }
func (e serverError) UpstreamMessage() string { return "service unavailable" }

// New 构造 Client。
func New(raw json.RawMessage, _ contract.Credentials) (contract.RegistryClient, error) {
	return NewClient(raw)
}

func NewClient(raw json.RawMessage) (*Client, error) {
	o := Options{FailFirst: 1, Failure: "timeout"}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, err
		}
	}
	switch o.Failure {
	case "", "timeout", "rate_limited", "server_error":
	default:
		return nil, fmt.Errorf("flaky: %w: failure %q", contract.ErrConfig, o.Failure)
	}
	inner, err := mock.NewClient(o.Mock)
	if err != nil {
		return nil, err
	}
	return &Client{failFirst: int64(o.FailFirst), failure: o.Failure, logPath: o.LogPath, inner: inner}, nil
}

// Calls 返回累计调用次数（含失败）。
func (c *Client) Calls() int64 { return c.count.Load() }

func (c *Client) log(s string) {
	if c.logPath == "" {
		return
	}
	f, err := os.OpenFile(c.logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(s + "\n")
}

// Submit 实现 contract.RegistryClient。
func (c *Client) Submit(ctx context.Context, p contract.Payload, mode contract.Mode) (contract.Raw, error) {
	n := c.count.Add(1)
	if n <= c.failFirst {
		c.log(c.failure)
		switch c.failure {
		case "rate_limited":
			return contract.Raw{}, contract.ErrRateLimited
		case "server_error":
			return contract.Raw{}, serverError{n: n}
		default:
			return contract.Raw{}, timeoutError{n: n}
		}
	}
	c.log("ok")
	return c.inner.Submit(ctx, p, mode)
}

var _ contract.RegistryClient = (*Client)(nil)
