package config

import "encoding/json"

// Config 为运行所需的全部可配置项（最终生效值由 Defaults → 配置文件 → ENV → CLI 逐层合并得到）。
type Config struct {
	// Input: 输入文件路径（VCF 或 GTEx 表，可为 .gz）。
	Input string `json:"input"`
	// OutputDir: 最终工件目录，默认当前目录。
	OutputDir string `json:"output_dir"`
	// WorkDir: 中间工件目录，默认 <output_dir>/tmp（不存在时创建）。
	WorkDir string `json:"work_dir"`
	// Dialect: vcf | gtex_egenes | gtex_pairs。
	Dialect string `json:"dialect"`
	// Gzip: 输出工件以 .gz 压缩。
	Gzip bool `json:"gzip"`
	// Genome: hg19 | grch37 | hg38 | grch38。
	Genome    string `json:"genome"`
	BlockSize int    `json:"block_size"`
	Summary   bool   `json:"summary"`
	// Mode: query（匿名查询）| register（带签名注册）。
	Mode string `json:"mode"`
	// LoginFile: 单行 "login:password" 的凭据文件；缺省 ~/.AlleleRegistry。
	LoginFile   string `json:"login_file"`
	Concurrency int    `json:"concurrency"`
	// MaxRetries: 瞬时错误的最大重试次数；0 表示不重试。
	MaxRetries     int  `json:"max_retries"`
	RetryBackoffMS int  `json:"retry_backoff_ms"`
	KeepWork       bool `json:"keep_work"`

	Logging    Logging    `json:"logging"`
	Components Components `json:"components"`
	// Registry 选择 Clients 中的一项。
	Registry string            `json:"registry"`
	Clients  map[string]Client `json:"clients"`
	Options  Options           `json:"options"`
}

type Logging struct {
	Level string `json:"level"`
	// Dir: 滚动日志目录，默认 logs。
	Dir string `json:"dir"`
}

// Components 选择各原子组件的实现（注册表中的名称）。
// 规范化器由 Dialect 决定，不在此处配置。
type Components struct {
	Reader     string `json:"reader"`
	Batcher    string `json:"batcher"`
	Payload    string `json:"payload"`
	Decoder    string `json:"decoder"`
	Reconciler string `json:"reconciler"`
	Store      string `json:"store"`
}

// Options 为各组件的原样 JSON 选项；严格解析在 registry 工厂层进行。
type Options struct {
	Reader     json.RawMessage `json:"reader,omitempty"`
	Normalizer json.RawMessage `json:"normalizer,omitempty"`
	Batcher    json.RawMessage `json:"batcher,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Decoder    json.RawMessage `json:"decoder,omitempty"`
	Reconciler json.RawMessage `json:"reconciler,omitempty"`
	Store      json.RawMessage `json:"store,omitempty"`
}

// Client 为一个注册中心配置档：实现名 + 选项 + 限额。
type Client struct {
	Client  string          `json:"client"`
	Options json.RawMessage `json:"options,omitempty"`
	Limits  Limits          `json:"limits"`
}

// Limits 为注册中心限额；0 表示不限制。
type Limits struct {
	RPM               int `json:"rpm"`
	VPM               int `json:"vpm"`
	MaxVariantsPerReq int `json:"max_variants_per_req"`
}
