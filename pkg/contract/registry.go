package contract

import "context"

// Raw: 注册中心返回的原始响应（不做清洗）。
type Raw struct {
	Status int
	Body   []byte
}

// RegistryClient: 以 Payload 为单位与注册中心交互。
// 单次调用、同步返回；应尊重 ctx 取消/超时。
// 签名等一次性凭证必须在每次调用时重新计算。
type RegistryClient interface {
	Submit(ctx context.Context, p Payload, mode Mode) (Raw, error)
}

// Decoder: 将 Raw 解码为与批记录一一对应的 Result 序列。
// 错误形响应体返回 *BatchError；无法识别的形状返回 ErrResponseInvalid。
type Decoder interface {
	Decode(ctx context.Context, b Batch, raw Raw) ([]Result, error)
}
