package contract

import (
	"context"
	"io"
)

// Normalizer: 将输入字节流规范化为惰性的 Item 流。
// 约束：
//  1. 单遍、只进；不在内部起并发；
//  2. 头部在 Open 内解析完毕，缺失/不完整时返回 ErrHeaderInvalid，且不产出任何数据行；
//  3. 每个数据行恰好产出一个 Item（Record 或 Rejection），顺序与输入一致；
//  4. 不做 VCF 规范化或多等位拆分。
type Normalizer interface {
	Open(ctx context.Context, r io.Reader) (Stream, error)
}

// Stream: 规范化后的只读序列。Next 在结束时返回 io.EOF。
type Stream interface {
	Header() Header
	Next(ctx context.Context) (Item, error)
}
