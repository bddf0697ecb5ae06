package fixed

import (
	"context"
	"errors"
	"fmt"
	"io"

	"carname/pkg/contract"
)

// Options 为固定窗口 Batcher 的可选配置。
type Options struct {
	// MaxBatches: 产出批数上限（调试/抽样用）；<=0 表示不限制。
	MaxBatches int `json:"max_batches"`
}

// Batcher 实现固定大小窗口切分。
type Batcher struct {
	maxBatches int
}

// New 创建固定窗口 Batcher。
func New(opts *Options) *Batcher {
	b := &Batcher{}
	if opts != nil && opts.MaxBatches > 0 {
		b.maxBatches = opts.MaxBatches
	}
	return b
}

var _ contract.Batcher = (*Batcher)(nil)

// Make 逐条拉取记录，满 MaxRecords 条即产出一批；末批可不足。
// 记录 Index 必须连续递增（自首条起），否则视为上游违例。
func (b *Batcher) Make(ctx context.Context, next contract.RecordSource, limit contract.BatchLimit, yield func(contract.Batch) error) error {
	if limit.MaxRecords <= 0 {
		return errors.New("batcher: max records must be > 0")
	}
	var (
		batchIdx int64
		cur      []contract.Record
		expect   contract.Index
		started  bool
	)
	flush := func() error {
		if len(cur) == 0 {
			return nil
		}
		bt := contract.Batch{BatchIndex: batchIdx, First: cur[0].Index, Records: cur}
		batchIdx++
		cur = nil
		return yield(bt)
	}
	for {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		if b.maxBatches > 0 && batchIdx >= int64(b.maxBatches) {
			return nil
		}
		rec, err := next(ctx)
		if errors.Is(err, io.EOF) {
			return flush()
		}
		if err != nil {
			return err
		}
		if started && rec.Index != expect {
			return fmt.Errorf("%w: batcher: record index %d, expected %d", contract.ErrInvariantViolation, rec.Index, expect)
		}
		started = true
		expect = rec.Index + 1
		if cur == nil {
			cur = make([]contract.Record, 0, limit.MaxRecords)
		}
		cur = append(cur, rec)
		if len(cur) == limit.MaxRecords {
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
