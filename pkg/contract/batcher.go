package contract

import "context"

// BatchLimit: 固定窗口模型的唯一参数。
type BatchLimit struct {
	// MaxRecords: 每批记录数上限（最后一批可更少）。必须为正数。
	MaxRecords int
}

// RecordSource: 惰性拉取下一条已接受记录；结束时返回 io.EOF。
type RecordSource func(ctx context.Context) (Record, error)

// Batcher: 将有序 Record 流切分为连续、不重叠的窗口。
// 约束：
//  1. 除最后一批外，每批恰好 MaxRecords 条；
//  2. 不重排、不丢失、不去重；
//  3. 空输入不产生任何批；
//  4. BatchIndex 自 0 单调递增；
//  5. 惰性：每次仅持有当前窗口，yield 返回错误时立即停止。
type Batcher interface {
	Make(ctx context.Context, next RecordSource, limit BatchLimit, yield func(Batch) error) error
}
