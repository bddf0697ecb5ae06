// Package rows 提供两种方言共用的行读取与等位基因校验。
package rows

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"carname/pkg/contract"
)

// Scanner: 按行读取，归一 CRLF→LF，维护 1 起始的行号。
// 不使用 bufio.Scanner，超长行（宽 INFO 列）不受 token 上限约束。
type Scanner struct {
	br   *bufio.Reader
	line int64
}

func NewScanner(r io.Reader) *Scanner {
	if br, ok := r.(*bufio.Reader); ok {
		return &Scanner{br: br}
	}
	return &Scanner{br: bufio.NewReaderSize(r, 64*1024)}
}

// Next 返回下一行（不含换行）与其行号；结束时返回 io.EOF。
func (s *Scanner) Next(ctx context.Context) (string, int64, error) {
	if err := CtxErr(ctx); err != nil {
		return "", 0, err
	}
	l, err := s.br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", 0, err
	}
	if errors.Is(err, io.EOF) && l == "" {
		return "", 0, io.EOF
	}
	s.line++
	l = strings.TrimSuffix(l, "\n")
	l = strings.TrimSuffix(l, "\r")
	return l, s.line, nil
}

// Check 校验单一 ref/alt：空字段为缺列；alt 含 '*' 为通配；alt 含 ',' 为多等位。
// "." 等其余取值原样提交，由注册中心判定。返回空串表示通过。
func Check(ref, alt string) contract.RejectReason {
	if ref == "" || alt == "" {
		return contract.RejectMissingRequired
	}
	if strings.Contains(alt, "*") {
		return contract.RejectWildcardAllele
	}
	if strings.Contains(alt, ",") {
		return contract.RejectMultiAllelic
	}
	return ""
}

// Reject 构造拒绝项。
func Reject(line int64, src string, reason contract.RejectReason) contract.Item {
	return contract.Item{Reject: &contract.Rejection{Line: line, Source: src, Reason: reason}}
}

// IndexOf 返回列名在 cols 中的位置（不区分大小写）；缺失返回 -1。
func IndexOf(cols []string, name string) int {
	for i, c := range cols {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

// Missing 返回 cols 中缺失的必需列。
func Missing(cols []string, required ...string) []string {
	var out []string
	for _, r := range required {
		if IndexOf(cols, r) < 0 {
			out = append(out, r)
		}
	}
	return out
}

// CtxErr 非阻塞地检查 ctx。
func CtxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
