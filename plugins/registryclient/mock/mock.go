package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync/atomic"

	"carname/pkg/contract"
)

// Options: 离线调试配置（可选）。
type Options struct {
	// Prefix: 生成的 @id 前缀，默认 "http://reg.genome.network/allele/CA"。
	Prefix string `json:"prefix"`
	// UnresolvedPositions: 这些位置的变异返回 "_:CA"。
	UnresolvedPositions []int64 `json:"unresolved_positions"`
	// ErrorPositions: 批内包含这些位置时，整批返回错误形响应体。
	ErrorPositions []int64 `json:"error_positions"`
	// External: 为每个已解析变异附加的交叉引用来源名。
	External []string `json:"external"`
	// Short: 少返回一条（用于验证位置对齐失败的处理）。
	Short bool `json:"short"`
}

// Client 按载荷逐行生成确定性的注册中心形响应：同一变异总得到同一 @id。
type Client struct {
	prefix     string
	unresolved map[int64]struct{}
	errorAt    map[int64]struct{}
	external   []string
	short      bool
	calls      atomic.Int64
}

func New(raw json.RawMessage, _ contract.Credentials) (contract.RegistryClient, error) {
	return NewClient(raw)
}

// NewClient 返回具体类型，便于测试读取调用次数。
func NewClient(raw json.RawMessage) (*Client, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("mock options: %w", err)
		}
	}
	if o.Prefix == "" {
		o.Prefix = "http://reg.genome.network/allele/CA"
	}
	c := &Client{prefix: o.Prefix, unresolved: set(o.UnresolvedPositions), errorAt: set(o.ErrorPositions), external: o.External, short: o.Short}
	return c, nil
}

func set(v []int64) map[int64]struct{} {
	m := make(map[int64]struct{}, len(v))
	for _, x := range v {
		m[x] = struct{}{}
	}
	return m
}

// Calls 返回累计调用次数。
func (c *Client) Calls() int64 { return c.calls.Load() }

type entry struct {
	ID       string                     `json:"@id"`
	External map[string]json.RawMessage `json:"externalRecords,omitempty"`
}

type errBody struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Line        int    `json:"line"`
	Inputline   string `json:"inputLine"`
}

// Submit 实现 contract.RegistryClient。
func (c *Client) Submit(ctx context.Context, p contract.Payload, mode contract.Mode) (contract.Raw, error) {
	c.calls.Add(1)
	select {
	case <-ctx.Done():
		return contract.Raw{}, ctx.Err()
	default:
	}
	out := make([]entry, 0, len(p.Lines))
	for i, line := range p.Lines {
		f := strings.Split(line, "\t")
		if len(f) < 5 {
			return contract.Raw{}, fmt.Errorf("mock: %w: bad payload line %q", contract.ErrInvalidInput, line)
		}
		pos, _ := strconv.ParseInt(f[1], 10, 64)
		if _, bad := c.errorAt[pos]; bad {
			b, _ := json.Marshal(errBody{ErrorType: "VcfParsingError", Description: "Cannot parse allele at position " + f[1], Line: i + 1, Inputline: line})
			return contract.Raw{Status: 200, Body: b}, nil
		}
		if _, miss := c.unresolved[pos]; miss {
			out = append(out, entry{ID: contract.UnresolvedID})
			continue
		}
		e := entry{ID: c.prefix + strconv.FormatUint(uint64(hash(f[0], f[1], f[3], f[4])), 10)}
		if len(c.external) > 0 {
			e.External = make(map[string]json.RawMessage, len(c.external))
			for _, name := range c.external {
				e.External[name] = json.RawMessage(`[{"id":"` + f[2] + `"}]`)
			}
		}
		out = append(out, e)
	}
	if c.short && len(out) > 0 {
		out = out[:len(out)-1]
	}
	b, err := json.Marshal(out)
	if err != nil {
		return contract.Raw{}, err
	}
	return contract.Raw{Status: 200, Body: b}, nil
}

func hash(parts ...string) uint32 {
	h := fnv.New32a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum32() % 10000000
}

var _ contract.RegistryClient = (*Client)(nil)
