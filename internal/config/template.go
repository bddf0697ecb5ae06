package config

import "encoding/json"

// DefaultTemplateConfig 返回一个可直接编辑的默认配置模板：
// - 默认注册中心为 clingen，另含离线 mock 配置档；
// - 各组件选项列出全部键（值为默认/中性值）。
func DefaultTemplateConfig() Config {
	cfg := Defaults()
	cfg.Input = ""
	cfg.OutputDir = "."
	cfg.Clients = map[string]Client{
		"clingen": {
			Client: "clingen",
			Options: json.RawMessage(`{
  "url": "",
  "timeout_seconds": 1200,
  "max_body_bytes": 0,
  "extra_headers": {}
}`),
			Limits: Limits{RPM: 0, VPM: 0, MaxVariantsPerReq: 0},
		},
		"mock": {
			Client: "mock",
			Options: json.RawMessage(`{
  "prefix": "",
  "unresolved_positions": [],
  "error_positions": [],
  "external": [],
  "short": false
}`),
			Limits: Limits{RPM: 60, VPM: 600000, MaxVariantsPerReq: 10000},
		},
	}
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "gzip": "auto"
}`)
	cfg.Options.Normalizer = json.RawMessage(`{}`)
	cfg.Options.Batcher = json.RawMessage(`{
  "max_batches": 0
}`)
	// genome 由顶层配置注入
	cfg.Options.Payload = json.RawMessage(`{}`)
	cfg.Options.Decoder = json.RawMessage(`{
  "id_field": "@id",
  "external_field": "externalRecords"
}`)
	cfg.Options.Reconciler = json.RawMessage(`{
  "output_line": "source"
}`)
	// output_dir 由 output_dir/work_dir 注入
	cfg.Options.Store = json.RawMessage(`{
  "atomic": true,
  "buf_size": 0,
  "gzip_level": 0
}`)
	return cfg
}

// DotEnvTemplate 返回 .env 模板内容（支持的覆盖键，值为空表示未设置）。
func DotEnvTemplate() string {
	return `# carname .env 模板（由 init-config 生成）
# 优先级：CLI > ENV(.env) > 配置文件
# 空值表示未设置。

# 配置来源
CARNAME_CONFIG_FILE=

# 运行参数覆盖
CARNAME_INPUT=
CARNAME_OUTPUT_DIR=
CARNAME_WORK_DIR=
CARNAME_DIALECT=
CARNAME_GZIP=
CARNAME_GENOME=
CARNAME_BLOCK_SIZE=
CARNAME_SUMMARY=
CARNAME_MODE=
CARNAME_LOGIN_FILE=
CARNAME_CONCURRENCY=
CARNAME_MAX_RETRIES=
CARNAME_RETRY_BACKOFF_MS=
CARNAME_KEEP_WORK=
CARNAME_LOG_LEVEL=
CARNAME_REGISTRY=

# 注册中心配置档覆盖（clingen）
CARNAME_CLIENT__clingen__CLIENT=
CARNAME_CLIENT__clingen__LIMITS_RPM=
CARNAME_CLIENT__clingen__LIMITS_VPM=
CARNAME_CLIENT__clingen__LIMITS_MAX_VARIANTS_PER_REQ=
CARNAME_CLIENT__clingen__OPTIONS_JSON=

# 指标导出（设置后启用 OTLP/HTTP）
OTEL_EXPORTER_OTLP_ENDPOINT=
`
}
