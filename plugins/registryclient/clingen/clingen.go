package clingen

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"carname/pkg/contract"
)

// DefaultURL: ClinGen Allele Registry 的 VCF 批量接口。
const DefaultURL = "http://reg.genome.network/alleles?file=vcf&fields=none+@id+externalRecords"

// Options: 最小必需配置。
type Options struct {
	// URL: 完整接口地址（含查询串）；为空使用 DefaultURL。
	URL string `json:"url"`
	// TimeoutSeconds: 单次请求超时（秒）。大批量处理较慢，默认 1200。
	TimeoutSeconds int `json:"timeout_seconds"`
	// MaxBodyBytes: 响应体读取上限；<=0 使用默认 512MiB。
	MaxBodyBytes int64 `json:"max_body_bytes"`
	// ExtraHeaders: 追加/覆盖请求头。
	ExtraHeaders map[string]string `json:"extra_headers"`
}

func (o *Options) defaults() {
	if o.URL == "" {
		o.URL = DefaultURL
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 1200
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 512 << 20
	}
}

type Client struct {
	url     string
	creds   contract.Credentials
	maxBody int64
	extraH  map[string]string
	do      func(*http.Request) (*http.Response, error)
	now     func() time.Time
}

// New 从原样 JSON 选项与显式凭据构造客户端。凭据仅在 register 模式下使用。
func New(raw json.RawMessage, creds contract.Credentials) (contract.RegistryClient, error) {
	return newClient(raw, creds)
}

func newClient(raw json.RawMessage, creds contract.Credentials) (*Client, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("clingen options: %w", err)
		}
	}
	opts.defaults()
	u, err := url.Parse(opts.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("clingen: %w: bad url %q", contract.ErrConfig, opts.URL)
	}
	hc := &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}
	return &Client{url: opts.URL, creds: creds, maxBody: opts.MaxBodyBytes, extraH: opts.ExtraHeaders, do: hc.Do, now: time.Now}, nil
}

// upstreamError 实现 net.Error，将 408/5xx 以及客户端超时映射为网络类错误，便于分类与重试。
type upstreamError struct {
	status  int
	msg     string
	timeout bool
}

func (e upstreamError) Error() string {
	if e.status == 0 {
		return "clingen upstream: " + e.msg
	}
	return fmt.Sprintf("clingen upstream %d: %s", e.status, e.msg)
}
func (e upstreamError) Timeout() bool           { return e.timeout || e.status == http.StatusRequestTimeout || e.status == http.StatusGatewayTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 || e.timeout }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// Sign 计算注册请求地址：
// token = sha1hex(url + sha1hex(login+password) + gbTime)。
func Sign(base string, c contract.Credentials, at time.Time) string {
	identity := sha1Hex(c.Login + c.Password)
	gbTime := strconv.FormatInt(at.Unix(), 10)
	token := sha1Hex(base + identity + gbTime)
	return base + "&gbLogin=" + url.QueryEscape(c.Login) + "&gbTime=" + gbTime + "&gbToken=" + token
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Submit: 单次调用，同步返回。query 为匿名 POST；register 为签名 PUT，签名逐次重新计算。
func (c *Client) Submit(ctx context.Context, p contract.Payload, mode contract.Mode) (contract.Raw, error) {
	method, target := http.MethodPost, c.url
	switch mode {
	case contract.ModeQuery:
	case contract.ModeRegister:
		if c.creds.Login == "" {
			return contract.Raw{}, fmt.Errorf("clingen: %w: register mode requires credentials", contract.ErrConfig)
		}
		method, target = http.MethodPut, Sign(c.url, c.creds, c.now())
	default:
		return contract.Raw{}, fmt.Errorf("clingen: %w: unknown mode %q", contract.ErrInvalidInput, mode)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, strings.NewReader(p.Text()))
	if err != nil {
		return contract.Raw{}, fmt.Errorf("new request: %v: %w", err, contract.ErrInvalidInput)
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.extraH {
		if k != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.do(req)
	if err != nil {
		if ctx.Err() != nil {
			return contract.Raw{}, ctx.Err()
		}
		var ne interface{ Timeout() bool }
		if errors.As(err, &ne) && ne.Timeout() {
			return contract.Raw{}, upstreamError{msg: err.Error(), timeout: true}
		}
		return contract.Raw{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return contract.Raw{}, contract.ErrRateLimited
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		var ne interface{ Timeout() bool }
		if errors.As(err, &ne) && ne.Timeout() {
			return contract.Raw{}, upstreamError{status: resp.StatusCode, msg: "reading body: " + err.Error(), timeout: true}
		}
		return contract.Raw{}, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode/100 == 2 {
		return contract.Raw{Status: resp.StatusCode, Body: body}, nil
	}
	msg := strings.TrimSpace(string(body[:min(len(body), 4<<10)]))
	if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode/100 == 5 {
		return contract.Raw{}, upstreamError{status: resp.StatusCode, msg: msg}
	}
	// 4xx 且为 JSON 对象：交由解码器转换为整批错误（保留错误字段）
	if t := bytes.TrimSpace(body); len(t) > 0 && t[0] == '{' {
		return contract.Raw{Status: resp.StatusCode, Body: body}, nil
	}
	return contract.Raw{}, fmt.Errorf("clingen upstream %d: %s: %w", resp.StatusCode, msg, contract.ErrInvalidInput)
}
