package registry

import (
	"bytes"
	"encoding/json"

	"carname/pkg/contract"
	fixed "carname/plugins/batcher/fixed"
	carjson "carname/plugins/decoder/carjson"
	ngtex "carname/plugins/normalizer/gtex"
	nvcf "carname/plugins/normalizer/vcf"
	pvcf "carname/plugins/payload/vcf"
	rfs "carname/plugins/reader/filesystem"
	split "carname/plugins/reconciler/split"
	clingen "carname/plugins/registryclient/clingen"
	flaky "carname/plugins/registryclient/flaky"
	mock "carname/plugins/registryclient/mock"
	wfs "carname/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewNormalizer 工厂签名：接收原样 JSON Options。
type NewNormalizer func(raw json.RawMessage) (contract.Normalizer, error)

// NewBatcher 工厂签名：接收原样 JSON Options。
type NewBatcher func(raw json.RawMessage) (contract.Batcher, error)

// NewPayloadBuilder 工厂签名：接收原样 JSON Options。
type NewPayloadBuilder func(raw json.RawMessage) (contract.PayloadBuilder, error)

// NewRegistryClient 工厂签名：原样 JSON Options + 显式凭据。
type NewRegistryClient func(raw json.RawMessage, creds contract.Credentials) (contract.RegistryClient, error)

// NewDecoder 工厂签名：接收原样 JSON Options。
type NewDecoder func(raw json.RawMessage) (contract.Decoder, error)

// NewReconciler 工厂签名：接收原样 JSON Options。
type NewReconciler func(raw json.RawMessage) (contract.Reconciler, error)

// NewStore 工厂签名：接收原样 JSON Options。
type NewStore func(raw json.RawMessage) (contract.Store, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件系统/STDIN Reader（gzip 自动识别）
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts)
	},
}

// Normalizer 工厂注册表，键为输入方言。
var Normalizer = map[string]NewNormalizer{
	string(contract.DialectVCF): func(raw json.RawMessage) (contract.Normalizer, error) {
		var opts nvcf.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return nvcf.New(&opts), nil
	},
	string(contract.DialectGTExEgenes): func(raw json.RawMessage) (contract.Normalizer, error) {
		var opts ngtex.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return ngtex.NewEgenes(&opts), nil
	},
	string(contract.DialectGTExPairs): func(raw json.RawMessage) (contract.Normalizer, error) {
		var opts ngtex.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return ngtex.NewPairs(&opts), nil
	},
}

// Batcher 工厂注册表。
var Batcher = map[string]NewBatcher{
	// fixed: 固定大小窗口
	"fixed": func(raw json.RawMessage) (contract.Batcher, error) {
		var opts fixed.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return fixed.New(&opts), nil
	},
}

// PayloadBuilder 工厂注册表。
var PayloadBuilder = map[string]NewPayloadBuilder{
	// vcf: 参考基因组 contig 头 + 8 列数据行
	"vcf": func(raw json.RawMessage) (contract.PayloadBuilder, error) {
		var opts pvcf.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return pvcf.New(&opts)
	},
}

// RegistryClient 工厂注册表。
var RegistryClient = map[string]NewRegistryClient{
	"clingen": strictClient[clingen.Options](clingen.New),
	"mock":    strictClient[mock.Options](mock.New),
	"flaky":   strictClient[flaky.Options](flaky.New),
}

// strictClient 先按 O 严格校验键名，再交给客户端自身解析。
func strictClient[O any](f NewRegistryClient) NewRegistryClient {
	return func(raw json.RawMessage, creds contract.Credentials) (contract.RegistryClient, error) {
		var opts O
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return f(raw, creds)
	}
}

// Decoder 工厂注册表。
var Decoder = map[string]NewDecoder{
	// carjson: 注册中心 JSON（数组逐条 / 对象为整批错误）
	"carjson": func(raw json.RawMessage) (contract.Decoder, error) {
		var opts carjson.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return carjson.New(raw)
	},
}

// Reconciler 工厂注册表。
var Reconciler = map[string]NewReconciler{
	// split: 按结果分流为已注册/未注册两路
	"split": func(raw json.RawMessage) (contract.Reconciler, error) {
		var opts split.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return split.New(raw)
	},
}

// Store 工厂注册表（工作目录与输出目录共用）。
var Store = map[string]NewStore{
	// fs: 文件系统存储（原子替换；.gz 透明压缩）
	"fs": func(raw json.RawMessage) (contract.Store, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}
