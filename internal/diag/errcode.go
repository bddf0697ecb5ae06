package diag

import (
	"context"
	"errors"
	"net"
	"os"

	"carname/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总与重试判定。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeConfig    Code = "config"
	CodeNetwork   Code = "network"
	CodeProtocol  Code = "protocol"
	CodeRegistry  Code = "registry"
	CodeInvariant Code = "invariant"
	CodeBudget    Code = "budget"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
)

// Classify 将错误归为最小分类。
// 仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	if errors.Is(err, contract.ErrConfig) || errors.Is(err, contract.ErrHeaderInvalid) || errors.Is(err, contract.ErrUnsupportedGenome) {
		return CodeConfig
	}
	var be *contract.BatchError
	if errors.As(err, &be) {
		if be.Timeout {
			return CodeNetwork
		}
		return CodeRegistry
	}
	if errors.Is(err, contract.ErrRateLimited) {
		return CodeBudget
	}
	if errors.Is(err, contract.ErrResponseInvalid) {
		return CodeProtocol
	}
	if errors.Is(err, contract.ErrInvariantViolation) ||
		errors.Is(err, contract.ErrInvalidInput) ||
		errors.Is(err, contract.ErrSeqInvalid) ||
		errors.Is(err, contract.ErrPathInvalid) {
		return CodeInvariant
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}

// Retryable 报告错误是否属于可重试的瞬时类别（超时/连接/5xx/限流）。
func Retryable(err error) bool {
	switch Classify(err) {
	case CodeNetwork, CodeBudget:
		return true
	}
	return false
}
