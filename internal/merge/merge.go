// Package merge 将批级中间工件按 BatchIndex 顺序拼接为最终输出，并折叠统计。
package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"carname/internal/summary"
	"carname/pkg/contract"
)

// Options: 合并参数。
type Options struct {
	Name    contract.OutputName
	Summary bool
}

// Rejected: 被拒流工件（位于工作目录）及其记录数；ID 为空表示无被拒记录。
type Rejected struct {
	ID    contract.ArtifactID
	Count int64
}

// Result: 合并产出。
type Result struct {
	Stats      contract.Stats
	Resolved   contract.ArtifactID
	Unresolved contract.ArtifactID
	Summary    contract.ArtifactID
	// Failed 为失败批次的 BatchIndex（升序）。
	Failed []int64
}

// Merger 从 work 读取中间工件，写入 out。
type Merger struct {
	work contract.Store
	out  contract.Writer
	opts Options
}

func New(work contract.Store, out contract.Writer, opts Options) *Merger {
	return &Merger{work: work, out: out, opts: opts}
}

// Merge 流式合并：
//   - _CAid: 全部成功批次的 Resolved，按 BatchIndex；
//   - _noCAid: 被拒流在前，随后为全部成功批次的 Unresolved；
//   - 统计：成功批次 Stats 之和 + 被拒条数；失败批次不计入。
//
// 任一时刻只打开一个中间工件。
func (m *Merger) Merge(ctx context.Context, artifacts []contract.BatchArtifact, rej Rejected) (Result, error) {
	arts := slices.Clone(artifacts)
	slices.SortFunc(arts, func(a, b contract.BatchArtifact) int {
		switch {
		case a.BatchIndex < b.BatchIndex:
			return -1
		case a.BatchIndex > b.BatchIndex:
			return 1
		}
		return 0
	})
	var res Result
	var resolved, unresolved []contract.ArtifactID
	if rej.ID != "" {
		unresolved = append(unresolved, rej.ID)
	}
	for i, a := range arts {
		if i > 0 && arts[i-1].BatchIndex == a.BatchIndex {
			return Result{}, fmt.Errorf("%w: duplicate batch %d", contract.ErrInvariantViolation, a.BatchIndex)
		}
		if a.Failed {
			res.Failed = append(res.Failed, a.BatchIndex)
			continue
		}
		resolved = append(resolved, a.Resolved)
		unresolved = append(unresolved, a.Unresolved)
		res.Stats.Merge(a.Stats)
	}
	res.Stats.AddRejected(rej.Count)

	res.Resolved = m.opts.Name.Final("CAid")
	if err := m.concat(ctx, res.Resolved, resolved); err != nil {
		return Result{}, err
	}
	res.Unresolved = m.opts.Name.Final("noCAid")
	if err := m.concat(ctx, res.Unresolved, unresolved); err != nil {
		return Result{}, err
	}
	if m.opts.Summary {
		res.Summary = m.opts.Name.Plain("summary.txt")
		if err := m.out.Write(ctx, res.Summary, strings.NewReader(summary.Text(res.Stats))); err != nil {
			return Result{}, fmt.Errorf("merge: write summary: %w", err)
		}
	}
	return res, nil
}

func (m *Merger) concat(ctx context.Context, dst contract.ArtifactID, ids []contract.ArtifactID) error {
	c := &chain{ctx: ctx, open: m.work.Open, ids: ids}
	err := m.out.Write(ctx, dst, c)
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("merge: write %s: %w", dst, err)
	}
	return nil
}

// Cleanup 删除已合并的中间工件（仅限清单内的精确 ID）。失败批次的诊断工件不在此列。
func Cleanup(ctx context.Context, work contract.Store, artifacts []contract.BatchArtifact, rej Rejected) error {
	var errs []error
	rm := func(id contract.ArtifactID) {
		if id == "" {
			return
		}
		if err := work.Remove(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	for _, a := range artifacts {
		if a.Failed {
			continue
		}
		rm(a.Resolved)
		rm(a.Unresolved)
	}
	rm(rej.ID)
	return errors.Join(errs...)
}

// chain 依次惰性打开工件并顺序读出。
type chain struct {
	ctx  context.Context
	open func(context.Context, contract.ArtifactID) (io.ReadCloser, error)
	ids  []contract.ArtifactID
	cur  io.ReadCloser
}

func (c *chain) Read(p []byte) (int, error) {
	for {
		if c.cur == nil {
			if len(c.ids) == 0 {
				return 0, io.EOF
			}
			rc, err := c.open(c.ctx, c.ids[0])
			if err != nil {
				return 0, fmt.Errorf("open %s: %w", c.ids[0], err)
			}
			c.ids = c.ids[1:]
			c.cur = rc
		}
		n, err := c.cur.Read(p)
		if errors.Is(err, io.EOF) {
			cerr := c.cur.Close()
			c.cur = nil
			if cerr != nil {
				return n, cerr
			}
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *chain) Close() error {
	if c.cur == nil {
		return nil
	}
	err := c.cur.Close()
	c.cur = nil
	return err
}
