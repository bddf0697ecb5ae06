package pipeline

import (
	"context"
	"io"
	"strings"

	"carname/pkg/contract"
)

// rejectSink 将被拒行流式写入工作目录。
// 首条被拒行到来时才建立管道并写入原始头部（列头行追加 ErrorComments 列）；
// 无被拒行时不产生工件。仅由生产者协程调用。
// ctx 为运行级上下文：写入须跨越工作协程组的生命周期。
type rejectSink struct {
	ctx    context.Context
	store  contract.Store
	id     contract.ArtifactID
	header contract.Header

	pw    *io.PipeWriter
	done  chan error
	count int64
}

func newRejectSink(ctx context.Context, store contract.Store, id contract.ArtifactID, h contract.Header) *rejectSink {
	return &rejectSink{ctx: ctx, store: store, id: id, header: h}
}

func (s *rejectSink) start() error {
	pr, pw := io.Pipe()
	s.pw = pw
	s.done = make(chan error, 1)
	go func() {
		err := s.store.Write(s.ctx, s.id, pr)
		_ = pr.CloseWithError(err)
		s.done <- err
	}()
	var b strings.Builder
	for i, l := range s.header.Lines {
		b.WriteString(l)
		if i == len(s.header.Lines)-1 {
			b.WriteString("\tErrorComments")
		}
		b.WriteByte('\n')
	}
	_, err := io.WriteString(pw, b.String())
	return err
}

// Add 追加一条被拒行：原始行 + '\t' + 原因说明。
func (s *rejectSink) Add(r contract.Rejection) error {
	if s.pw == nil {
		if err := s.start(); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(s.pw, r.Source+"\t"+r.Reason.Message()+"\n"); err != nil {
		return err
	}
	s.count++
	return nil
}

// Count 返回已写入的被拒行数。
func (s *rejectSink) Count() int64 { return s.count }

// Close 结束写入并等待落盘；无被拒行时返回空 ID。
func (s *rejectSink) Close() (contract.ArtifactID, error) {
	if s.pw == nil {
		return "", nil
	}
	_ = s.pw.Close()
	if err := <-s.done; err != nil {
		return "", err
	}
	return s.id, nil
}

// Abort 以 err 终止写入（原子写入保证不留下半成品）。
func (s *rejectSink) Abort(err error) {
	if s.pw == nil {
		return
	}
	_ = s.pw.CloseWithError(err)
	<-s.done
}
