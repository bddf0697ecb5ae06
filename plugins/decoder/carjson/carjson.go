package carjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"carname/pkg/contract"
)

// Options: 字段名映射（默认即注册中心的 @id / externalRecords）。
type Options struct {
	IDField       string `json:"id_field"`
	ExternalField string `json:"external_field"`
}

type decoder struct {
	idField  string
	extField string
}

// New 从原样 JSON Options 创建解码器。
func New(raw json.RawMessage) (contract.Decoder, error) {
	opts := Options{IDField: "@id", ExternalField: "externalRecords"}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("carjson options: %w", err)
		}
	}
	if opts.IDField == "" {
		opts.IDField = "@id"
	}
	if opts.ExternalField == "" {
		opts.ExternalField = "externalRecords"
	}
	return &decoder{idField: opts.IDField, extField: opts.ExternalField}, nil
}

// Decode 期望 Raw.Body 为：
//   - JSON 数组：每个元素对应一条提交记录（位置对齐）；
//   - JSON 对象：整批错误（即使 HTTP 200），返回 *contract.BatchError。
func (d *decoder) Decode(ctx context.Context, b contract.Batch, raw contract.Raw) ([]contract.Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	body := bytes.TrimSpace(raw.Body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty body for batch %d: %w", b.BatchIndex, contract.ErrResponseInvalid)
	}
	switch body[0] {
	case '{':
		fields, err := orderedFields(body)
		if err != nil {
			return nil, fmt.Errorf("decode error body: %v: %w", err, contract.ErrResponseInvalid)
		}
		return nil, &contract.BatchError{Status: raw.Status, Fields: fields}
	case '[':
		return d.decodeArray(body)
	default:
		return nil, fmt.Errorf("unexpected body for batch %d: %w", b.BatchIndex, contract.ErrResponseInvalid)
	}
}

func (d *decoder) decodeArray(body []byte) ([]contract.Result, error) {
	var arr []map[string]json.RawMessage
	if err := json.Unmarshal(body, &arr); err != nil {
		return nil, fmt.Errorf("decode json array: %w", contract.ErrResponseInvalid)
	}
	out := make([]contract.Result, 0, len(arr))
	for i, e := range arr {
		rawID, ok := e[d.idField]
		var id string
		if !ok || json.Unmarshal(rawID, &id) != nil || id == "" {
			return nil, fmt.Errorf("entry %d has no %s: %w", i, d.idField, contract.ErrResponseInvalid)
		}
		var refs []contract.ExternalRef
		if ext, ok := e[d.extField]; ok && len(bytes.TrimSpace(ext)) > 0 && !bytes.Equal(bytes.TrimSpace(ext), []byte("null")) {
			fields, err := orderedFields(ext)
			if err != nil {
				return nil, fmt.Errorf("entry %d %s: %v: %w", i, d.extField, err, contract.ErrResponseInvalid)
			}
			refs = make([]contract.ExternalRef, len(fields))
			for k, f := range fields {
				refs[k] = contract.ExternalRef{Name: f.Key, Value: f.Value}
			}
		}
		if id == contract.UnresolvedID {
			out = append(out, contract.Unresolved(refs...))
			continue
		}
		out = append(out, contract.Resolved(id, refs...))
	}
	return out, nil
}

// orderedFields 按出现顺序读取 JSON 对象的键值；字符串值去引号，其余保留原始 JSON 文本。
func orderedFields(obj []byte) ([]contract.ErrorField, error) {
	dec := json.NewDecoder(bytes.NewReader(obj))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("not an object")
	}
	var out []contract.ErrorField
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := kt.(string)
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		val := string(v)
		var s string
		if len(v) > 0 && v[0] == '"' && json.Unmarshal(v, &s) == nil {
			val = s
		}
		out = append(out, contract.ErrorField{Key: key, Value: val})
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return nil, err
	}
	return out, nil
}
