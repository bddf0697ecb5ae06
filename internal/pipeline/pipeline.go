package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"carname/internal/diag"
	"carname/internal/ledger"
	"carname/internal/merge"
	"carname/internal/rate"
	"carname/pkg/contract"
)

// - 单点并发：仅此层管理并发与背压；原子组件均为同步、无内部并发。
// - 单一所有者：批次清单与统计只在收集协程内折叠。
// - 顺序恢复：中间工件按批唯一命名，合并阶段按 BatchIndex 排序拼接。
// - 致命错误（工件 I/O、账本、取消）取消整体；整批失败只落诊断工件，运行继续。

// Components 聚合运行所需的原子组件。
type Components struct {
	Reader     contract.Reader
	Normalizer contract.Normalizer
	Batcher    contract.Batcher
	Payload    contract.PayloadBuilder
	Client     contract.RegistryClient
	Decoder    contract.Decoder
	Reconciler contract.Reconciler
	// Work: 中间工件（批级输出、被拒流）；Out: 最终工件与失败诊断工件。
	Work contract.Store
	Out  contract.Writer
}

// Settings 运行期配置。
type Settings struct {
	Input       string
	Name        contract.OutputName
	Mode        contract.Mode
	BlockSize   int
	Concurrency int
	// MaxRetries: 瞬时错误（网络/超时/5xx/429）的最大重试次数；0 表示不重试。
	MaxRetries   int
	RetryBackoff time.Duration
	// 限流闸门（可选）：非空时在每次提交前调用 Gate.Wait。
	Gate    rate.Gate
	GateKey rate.LimitKey
	Summary bool
	// KeepWork 为 false 时，合并成功后删除清单内的中间工件。
	KeepWork bool
	// Ledger 可选；Resume 时跳过账本中已完成的批次。
	Ledger *ledger.Ledger
	Meta   ledger.RunMeta
	Resume bool
}

// Report 运行结果。
type Report struct {
	FileID     contract.FileID
	Stats      contract.Stats
	Batches    int
	Resumed    int
	Failed     []int64
	Rejected   int64
	Resolved   contract.ArtifactID
	Unresolved contract.ArtifactID
	Summary    contract.ArtifactID
}

// collected 为收集协程的输入；resumed 表示来自账本、未重新提交。
type collected struct {
	art     contract.BatchArtifact
	resumed bool
}

// Run 执行完整流水线：Reader → Normalizer → Batcher → Payload → (Gate) → Client → Decoder → Pair → Reconciler → Work → Merge → Out。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Report, error) {
	if err := sanity(comp, &set); err != nil {
		return Report{}, fmt.Errorf("sanity: %w", err)
	}
	runStart := time.Now()

	rtimer := logger.Start("reader", "open")
	fid, rc, err := comp.Reader.Open(ctx, set.Input)
	if err != nil {
		logFail(logger, "reader", "open failed", rtimer.Since(), set.Input, "", err)
		return Report{}, fmt.Errorf("reader open: %w", err)
	}
	defer rc.Close()
	rtimer.Finish("open", 0)
	rep := Report{FileID: fid}

	ntimer := logger.StartWith("normalizer", "header", string(fid), "")
	stream, err := comp.Normalizer.Open(ctx, rc)
	if err != nil {
		logFail(logger, "normalizer", "header failed", ntimer.Since(), string(fid), "", err)
		return rep, fmt.Errorf("normalizer open: %w", err)
	}
	ntimer.Finish("header", int64(len(stream.Header().Columns)))
	header, err := comp.Payload.Header(stream.Header())
	if err != nil {
		logFail(logger, "payload", "header failed", nil, string(fid), "", err)
		return rep, fmt.Errorf("payload header: %w", err)
	}

	done := map[int64]contract.BatchArtifact{}
	if set.Ledger != nil {
		if err := set.Ledger.Begin(ctx, set.Meta, set.Resume); err != nil {
			logFail(logger, "ledger", "begin failed", nil, string(fid), "", err)
			return rep, fmt.Errorf("ledger begin: %w", err)
		}
		if set.Resume {
			if done, err = set.Ledger.Completed(ctx); err != nil {
				return rep, fmt.Errorf("ledger completed: %w", err)
			}
		}
	}

	if t := diag.GetTerminal(); t != nil {
		t.InputStart(string(fid))
	}
	ok := false
	defer func() {
		if t := diag.GetTerminal(); t != nil {
			t.InputFinish(ok, time.Since(runStart))
		}
	}()

	rej := newRejectSink(ctx, comp.Work, set.Name.Final("rejected"), stream.Header())
	w := &worker{comp: comp, set: set, header: header, fid: string(fid), logger: logger}

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan contract.Batch, set.Concurrency)
	results := make(chan collected, set.Concurrency)
	var senders sync.WaitGroup
	senders.Add(1 + set.Concurrency)

	// 生产者：惰性拉取 Item，被拒行分流，记录切批后送入有界通道（背压）。
	g.Go(func() error {
		defer senders.Done()
		defer close(jobs)
		next := func(ctx context.Context) (contract.Record, error) {
			for {
				it, err := stream.Next(ctx)
				if err != nil {
					return contract.Record{}, err
				}
				if it.Reject == nil {
					return it.Record, nil
				}
				if err := rej.Add(*it.Reject); err != nil {
					return contract.Record{}, err
				}
			}
		}
		btimer := logger.StartWith("batcher", "make", string(fid), "")
		err := comp.Batcher.Make(gctx, next, contract.BatchLimit{MaxRecords: set.BlockSize}, func(b contract.Batch) error {
			if a, ok := done[b.BatchIndex]; ok && a.Size == len(b.Records) && a.First == b.First {
				return send(gctx, results, collected{art: a, resumed: true})
			}
			select {
			case <-gctx.Done():
				return gctx.Err()
			case jobs <- b:
				return nil
			}
		})
		if err != nil {
			logFail(logger, "batcher", "make failed", btimer.Since(), string(fid), "", err)
			return fmt.Errorf("batcher make: %w", err)
		}
		btimer.Finish("make", rej.Count())
		return nil
	})

	for i := 0; i < set.Concurrency; i++ {
		g.Go(func() error {
			defer senders.Done()
			for b := range jobs {
				a, err := w.process(gctx, b)
				if err != nil {
					return err
				}
				if err := send(gctx, results, collected{art: a}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	go func() {
		senders.Wait()
		close(results)
	}()

	var arts []contract.BatchArtifact
	g.Go(func() error {
		for c := range results {
			a := c.art
			if set.Ledger != nil && !c.resumed {
				if err := set.Ledger.Record(gctx, a); err != nil {
					logFail(logger, "ledger", "record failed", nil, string(fid), strconv.FormatInt(a.BatchIndex, 10), err)
					return fmt.Errorf("ledger record: %w", err)
				}
			}
			arts = append(arts, a)
			if c.resumed {
				rep.Resumed++
			}
			if a.Failed {
				diag.AddVariants("failed", int64(a.Size))
			} else {
				diag.AddVariants("registered", a.Stats.Registered)
				diag.AddVariants("unregistered", a.Stats.Unregistered)
			}
			if t := diag.GetTerminal(); t != nil {
				t.BatchDone(a.BatchIndex, a.Failed, a.Size)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		rej.Abort(err)
		return rep, err
	}
	rejID, err := rej.Close()
	if err != nil {
		logFail(logger, "writer", "rejected stream failed", nil, string(fid), "", err)
		return rep, fmt.Errorf("rejected stream: %w", err)
	}
	rep.Rejected = rej.Count()
	diag.AddVariants("rejected", rep.Rejected)
	if set.Ledger != nil {
		if err := set.Ledger.SetRejected(ctx, rejID, rep.Rejected); err != nil {
			return rep, fmt.Errorf("ledger rejected: %w", err)
		}
	}

	mtimer := logger.StartWith("merger", "merge", string(fid), "")
	rejected := merge.Rejected{ID: rejID, Count: rep.Rejected}
	mres, err := merge.New(comp.Work, comp.Out, merge.Options{Name: set.Name, Summary: set.Summary}).Merge(ctx, arts, rejected)
	if err != nil {
		logFail(logger, "merger", "merge failed", mtimer.Since(), string(fid), "", err)
		return rep, err
	}
	mtimer.Finish("merge", int64(len(arts)))
	rep.Stats = mres.Stats
	rep.Batches = len(arts)
	rep.Failed = mres.Failed
	rep.Resolved, rep.Unresolved, rep.Summary = mres.Resolved, mres.Unresolved, mres.Summary

	if !set.KeepWork {
		if err := merge.Cleanup(ctx, comp.Work, arts, rejected); err != nil {
			// 清理失败不影响产出
			logger.Warn("writer", string(diag.Classify(err)), "cleanup failed", string(fid), "", map[string]string{"err": trim(err.Error(), 200)})
		}
	}
	logger.InfoFinish("pipeline", "run", runStart, rep.Stats.Variants)
	ok = true
	return rep, nil
}

func send(ctx context.Context, ch chan<- collected, c collected) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case ch <- c:
		return nil
	}
}

func sanity(c Components, s *Settings) error {
	if c.Reader == nil || c.Normalizer == nil || c.Batcher == nil || c.Payload == nil || c.Client == nil ||
		c.Decoder == nil || c.Reconciler == nil || c.Work == nil || c.Out == nil {
		return errors.New("pipeline: missing components")
	}
	if s.Concurrency < 1 {
		s.Concurrency = 1
	}
	if s.BlockSize < 1 {
		return fmt.Errorf("%w: block size must be positive", contract.ErrConfig)
	}
	if s.Mode == "" {
		s.Mode = contract.ModeQuery
	}
	if strings.TrimSpace(s.Input) == "" {
		return errors.New("pipeline: empty input")
	}
	if s.Name.Base == "" {
		s.Name = contract.NameFor(s.Input, false)
	}
	return nil
}

// logFail 记录阶段失败事件并累加错误指标；上游 HTTP 错误附带状态码与消息片段。
func logFail(logger *diag.Logger, comp, msg string, since *time.Time, fileID, batch string, err error) {
	code := diag.Classify(err)
	kv := map[string]string{"err": trim(err.Error(), 200)}
	var ue contract.UpstreamError
	if errors.As(err, &ue) {
		kv["http_status"] = strconv.Itoa(ue.UpstreamStatus())
		if m := strings.TrimSpace(ue.UpstreamMessage()); m != "" {
			kv["upstream_msg"] = trim(m, 200)
		}
	}
	logger.ErrorWithKV(comp, string(code), msg, since, fileID, batch, kv)
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
}

func trim(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
