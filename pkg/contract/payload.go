package contract

import (
	"context"
	"strings"
)

// Payload: 一次提交的 VCF 文本（注册中心头部 + 数据行）。
type Payload struct {
	Header string
	Lines  []string
}

// Text 返回完整提交文本（以换行结尾）。
func (p Payload) Text() string {
	var b strings.Builder
	n := len(p.Header)
	for _, l := range p.Lines {
		n += len(l) + 1
	}
	b.Grow(n)
	b.WriteString(p.Header)
	for _, l := range p.Lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}

// Len 返回数据行数（即变异数）。
func (p Payload) Len() int { return len(p.Lines) }

// PayloadBuilder: 构造确定性的提交载荷。
// 约束：
//   - 纯计算，不做 I/O；
//   - Header 每次运行仅调用一次，结果在整次运行内不可变；
//   - Build 的数据行顺序与批内 Records 顺序严格一致。
type PayloadBuilder interface {
	Header(h Header) (string, error)
	Build(ctx context.Context, header string, b Batch) (Payload, error)
}
