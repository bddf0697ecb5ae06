package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
	"strings"
	"time"

	"carname/internal/diag"
	"carname/internal/rate"
	"carname/pkg/contract"
)

// worker 执行单批：Payload → Gate → Submit(重试) → Decode → Pair → Reconcile → 中间工件。
// 无共享可变状态，可被多个协程同时使用。
type worker struct {
	comp   Components
	set    Settings
	header string
	fid    string
	logger *diag.Logger
}

func (w *worker) process(ctx context.Context, b contract.Batch) (contract.BatchArtifact, error) {
	bid := strconv.FormatInt(b.BatchIndex, 10)
	art := contract.BatchArtifact{BatchIndex: b.BatchIndex, First: b.First, Size: len(b.Records)}

	p, err := w.comp.Payload.Build(ctx, w.header, b)
	if err != nil {
		logFail(w.logger, "payload", "build failed", nil, w.fid, bid, err)
		return art, fmt.Errorf("payload build: %w", err)
	}

	raw, err := w.submit(ctx, b, p)
	if err != nil {
		if fatal(ctx, err) {
			return art, err
		}
		return w.fail(ctx, art, b, p, asBatchError(err, 0))
	}

	dtimer := w.logger.StartWith("decoder", "decode", w.fid, bid)
	results, err := w.comp.Decoder.Decode(ctx, b, raw)
	if err != nil {
		logFail(w.logger, "decoder", "decode failed", dtimer.Since(), w.fid, bid, err)
		if fatal(ctx, err) {
			return art, err
		}
		return w.fail(ctx, art, b, p, asBatchError(err, raw.Status))
	}
	slots, err := contract.Pair(b, results)
	if err != nil {
		logFail(w.logger, "decoder", "pair failed", dtimer.Since(), w.fid, bid, err)
		return w.fail(ctx, art, b, p, asBatchError(err, raw.Status))
	}
	dtimer.Finish("decode", int64(len(slots)))

	out, err := w.comp.Reconciler.Reconcile(ctx, slots)
	if err != nil {
		logFail(w.logger, "reconciler", "reconcile failed", nil, w.fid, bid, err)
		return art, fmt.Errorf("reconcile: %w", err)
	}
	art.Resolved = w.set.Name.Batch(b.BatchIndex, "CAid")
	art.Unresolved = w.set.Name.Batch(b.BatchIndex, "noCAid")
	if err := w.comp.Work.Write(ctx, art.Resolved, out.Resolved); err != nil {
		logFail(w.logger, "writer", "write failed", nil, w.fid, bid, err)
		return art, fmt.Errorf("write %s: %w", art.Resolved, err)
	}
	if err := w.comp.Work.Write(ctx, art.Unresolved, out.Unresolved); err != nil {
		logFail(w.logger, "writer", "write failed", nil, w.fid, bid, err)
		return art, fmt.Errorf("write %s: %w", art.Unresolved, err)
	}
	art.Stats = out.Stats
	diag.IncOp("reconciler", "finish", "success")
	return art, nil
}

// submit 调用注册中心；仅对瞬时错误（网络/超时/5xx/429）按抖动指数退避重试。
func (w *worker) submit(ctx context.Context, b contract.Batch, p contract.Payload) (contract.Raw, error) {
	bid := strconv.FormatInt(b.BatchIndex, 10)
	delay := w.set.RetryBackoff
	var err error
	for attempt := 0; attempt <= w.set.MaxRetries; attempt++ {
		if w.set.Gate != nil {
			if gerr := w.set.Gate.Wait(ctx, rate.Ask{Key: w.set.GateKey, Requests: 1, Variants: p.Len()}); gerr != nil {
				logFail(w.logger, "gate", "wait failed", nil, w.fid, bid, gerr)
				return contract.Raw{}, fmt.Errorf("gate: %w", gerr)
			}
		}
		timer := w.logger.StartWithKV("registry_client", "submit", w.fid, bid, map[string]string{
			"variants": strconv.Itoa(p.Len()),
			"mode":     string(w.set.Mode),
			"attempt":  strconv.Itoa(attempt + 1),
		})
		var raw contract.Raw
		raw, err = w.comp.Client.Submit(ctx, p, w.set.Mode)
		if err == nil {
			timer.Finish("submit", int64(p.Len()))
			diag.IncOp("registry_client", "finish", "success")
			return raw, nil
		}
		logFail(w.logger, "registry_client", "submit failed", timer.Since(), w.fid, bid, err)
		if attempt == w.set.MaxRetries || !diag.Retryable(err) || ctx.Err() != nil {
			break
		}
		if delay > 0 {
			d := delay + time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // 抖动无需密码学强度
			w.logger.Warn("registry_client", string(diag.Classify(err)), "retry", w.fid, bid, map[string]string{"backoff_ms": strconv.FormatInt(d.Milliseconds(), 10)})
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return contract.Raw{}, ctx.Err()
			case <-t.C:
			}
			delay *= 2
		}
	}
	return contract.Raw{}, err
}

// fail 落盘整批失败的诊断工件（输出目录）：错误体、原样载荷、批内源行。
func (w *worker) fail(ctx context.Context, art contract.BatchArtifact, b contract.Batch, p contract.Payload, be *contract.BatchError) (contract.BatchArtifact, error) {
	bid := strconv.FormatInt(b.BatchIndex, 10)
	n := w.set.Name
	var src strings.Builder
	for _, r := range b.Records {
		src.WriteString(r.Source)
		src.WriteByte('\n')
	}
	files := []struct {
		id   contract.ArtifactID
		body string
	}{
		{n.BatchPlain(b.BatchIndex, "Error.txt"), be.Report()},
		{n.BatchPlain(b.BatchIndex, "input.txt"), p.Text()},
		{n.BatchPlain(b.BatchIndex, "failed"+n.Ext), src.String()},
	}
	for _, f := range files {
		if err := w.comp.Out.Write(ctx, f.id, strings.NewReader(f.body)); err != nil {
			logFail(w.logger, "writer", "write failed", nil, w.fid, bid, err)
			return art, fmt.Errorf("write %s: %w", f.id, err)
		}
		art.Failure = append(art.Failure, f.id)
	}
	art.Failed = true
	art.Err = be.Error()
	w.logger.Warn("pipeline", string(diag.Classify(be)), "batch failed", w.fid, bid, map[string]string{
		"err":      trim(be.Error(), 200),
		"variants": strconv.Itoa(len(b.Records)),
	})
	return art, nil
}

// fatal 区分致命错误（终止运行）与整批失败。
func fatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, contract.ErrConfig)
}

// asBatchError 将任意批级错误规整为 *BatchError。
func asBatchError(err error, status int) *contract.BatchError {
	var be *contract.BatchError
	if errors.As(err, &be) {
		return be
	}
	out := &contract.BatchError{Status: status, Message: err.Error()}
	var ue contract.UpstreamError
	if errors.As(err, &ue) && ue.UpstreamStatus() != 0 {
		out.Status = ue.UpstreamStatus()
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		out.Timeout = true
	}
	return out
}
