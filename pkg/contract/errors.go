package contract

import (
	"errors"
	"strings"
)

// 最小错误分类（用于上层策略判定）。
var (
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
	ErrRateLimited        = errors.New("rate limited")
	ErrResponseInvalid    = errors.New("response invalid")
	ErrInvalidInput       = errors.New("invalid input")
	// ErrSeqInvalid: 响应条数与批记录数不一致，位置对齐失效。
	ErrSeqInvalid = errors.New("sequence invalid")
	// ErrHeaderInvalid: 输入头部缺失或缺少必需列（致命配置错误）。
	ErrHeaderInvalid = errors.New("header invalid")
	// ErrUnsupportedGenome: 不支持的参考基因组（致命配置错误）。
	ErrUnsupportedGenome = errors.New("unsupported reference genome")
	// ErrConfig: 其它致命配置错误（路径、凭据、取值越界）。
	ErrConfig = errors.New("config invalid")
)

// ErrorField: 注册中心错误体中的一个键值对（保持原始顺序）。
type ErrorField struct {
	Key   string
	Value string
}

// BatchError: 整批失败。来源为注册中心的错误形响应体（HTTP 200 也可能出现），
// 或重试耗尽后的传输错误。作用于批内全部记录。
type BatchError struct {
	Status  int
	Fields  []ErrorField
	Message string
	Timeout bool
}

func (e *BatchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" {
		for _, k := range []string{"description", "message", "errorType"} {
			if v, ok := e.Field(k); ok && v != "" {
				msg = v
				break
			}
		}
	}
	if msg == "" {
		parts := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			parts = append(parts, f.Key+"="+f.Value)
		}
		msg = strings.Join(parts, " ")
	}
	return "registry batch error: " + msg
}

// Field 按键查找错误字段。
func (e *BatchError) Field(key string) (string, bool) {
	for _, f := range e.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Report 渲染错误工件内容：每行 "key: value"。
func (e *BatchError) Report() string {
	var b strings.Builder
	if len(e.Fields) == 0 {
		b.WriteString("error: ")
		b.WriteString(e.Error())
		b.WriteByte('\n')
		return b.String()
	}
	for _, f := range e.Fields {
		b.WriteString(f.Key)
		b.WriteString(": ")
		b.WriteString(f.Value)
		b.WriteByte('\n')
	}
	return b.String()
}
