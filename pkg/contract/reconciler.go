package contract

import (
	"context"
	"io"
)

// Outcome: 单批对账结果。
type Outcome struct {
	Resolved   io.Reader
	Unresolved io.Reader
	Stats      Stats
}

// Reconciler: 将配对后的 Slot 分流为已注册/未注册两路行文本，并统计本批计数。
// 约束：
//  1. 按 Slot 顺序输出，不重排；
//  2. 每条 Slot 恰好进入一路；
//  3. 不做 I/O，持久化由 Writer 负责。
type Reconciler interface {
	Reconcile(ctx context.Context, slots []Slot) (Outcome, error)
}
