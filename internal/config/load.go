package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix 为 ENV 覆盖键的前缀。
const EnvPrefix = "CARNAME_"

// Defaults 返回带有安全默认值的 Config 雏形。
func Defaults() Config {
	return Config{
		Dialect:        "vcf",
		Genome:         "hg38",
		BlockSize:      10000,
		Mode:           "query",
		Concurrency:    1,
		MaxRetries:     2,
		RetryBackoffMS: 1000,
		Logging:        Logging{Level: "info", Dir: "logs"},
		Components: Components{
			Reader:     "fs",
			Batcher:    "fixed",
			Payload:    "vcf",
			Decoder:    "carjson",
			Reconciler: "split",
			Store:      "fs",
		},
		Registry: "clingen",
		Clients: map[string]Client{
			"clingen": {Client: "clingen"},
		},
	}
}

// LoadFile 从文件路径或原始字节解析 Config（严格拒绝未知字段）。
// .yaml/.yml 先经 YAML 解析再转为 JSON，随后与 JSON 走同一严格解码。
func LoadFile(path string, raw []byte) (Config, error) {
	var cfg Config
	if len(raw) == 0 {
		if path == "" {
			return cfg, errors.New("no config source provided")
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		raw = b
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		j, err := yamlToJSON(raw)
		if err != nil {
			return cfg, fmt.Errorf("yaml: %w", err)
		}
		raw = j
	}
	return decodeStrict(raw)
}

// LoadJSON 解析 JSON 文本（严格拒绝未知字段）。
func LoadJSON(raw []byte) (Config, error) { return decodeStrict(raw) }

// decodeStrict 从 Unset() 出发解码，缺省的 max_retries 保持“未覆盖”。
func decodeStrict(raw []byte) (Config, error) {
	cfg := Unset()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func yamlToJSON(raw []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(doc)
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	setStr(&out.Input, over.Input)
	setStr(&out.OutputDir, over.OutputDir)
	setStr(&out.WorkDir, over.WorkDir)
	setStr(&out.Dialect, over.Dialect)
	setStr(&out.Genome, over.Genome)
	setStr(&out.Mode, over.Mode)
	setStr(&out.LoginFile, over.LoginFile)
	setStr(&out.Registry, over.Registry)
	if over.Gzip {
		out.Gzip = true
	}
	if over.Summary {
		out.Summary = true
	}
	if over.KeepWork {
		out.KeepWork = true
	}
	if over.BlockSize != 0 {
		out.BlockSize = over.BlockSize
	}
	if over.Concurrency != 0 {
		out.Concurrency = over.Concurrency
	}
	// MaxRetries 的 0 具有语义（禁用重试）：约定 over.MaxRetries >= 0 视为显式设置，-1 视为未覆盖。
	if over.MaxRetries >= 0 {
		out.MaxRetries = over.MaxRetries
	}
	if over.RetryBackoffMS > 0 {
		out.RetryBackoffMS = over.RetryBackoffMS
	}
	setStr(&out.Logging.Level, over.Logging.Level)
	setStr(&out.Logging.Dir, over.Logging.Dir)

	setStr(&out.Components.Reader, over.Components.Reader)
	setStr(&out.Components.Batcher, over.Components.Batcher)
	setStr(&out.Components.Payload, over.Components.Payload)
	setStr(&out.Components.Decoder, over.Components.Decoder)
	setStr(&out.Components.Reconciler, over.Components.Reconciler)
	setStr(&out.Components.Store, over.Components.Store)

	// Clients 按键逐字段覆盖（非零值生效）
	if len(over.Clients) > 0 {
		m := make(map[string]Client, len(out.Clients)+len(over.Clients))
		for k, v := range out.Clients {
			m[k] = v
		}
		for k, v := range over.Clients {
			m[k] = mergeClient(m[k], v)
		}
		out.Clients = m
	}

	setRaw(&out.Options.Reader, over.Options.Reader)
	setRaw(&out.Options.Normalizer, over.Options.Normalizer)
	setRaw(&out.Options.Batcher, over.Options.Batcher)
	setRaw(&out.Options.Payload, over.Options.Payload)
	setRaw(&out.Options.Decoder, over.Options.Decoder)
	setRaw(&out.Options.Reconciler, over.Options.Reconciler)
	setRaw(&out.Options.Store, over.Options.Store)
	return out
}

// Unset 返回“不覆盖任何字段”的 Config（MaxRetries 置 -1）。
func Unset() Config { return Config{MaxRetries: -1} }

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合，其余忽略）。
// 支持：INPUT, OUTPUT_DIR, WORK_DIR, DIALECT, GZIP, GENOME, BLOCK_SIZE, SUMMARY, MODE,
// LOGIN_FILE, CONCURRENCY, MAX_RETRIES, RETRY_BACKOFF_MS, KEEP_WORK, LOG_LEVEL, LOG_DIR,
// REGISTRY, COMPONENTS_*,
// 以及 CLIENT__<name>__CLIENT / CLIENT__<name>__LIMITS_{RPM,VPM,MAX_VARIANTS_PER_REQ} / CLIENT__<name>__OPTIONS_JSON
func EnvOverlay(environ []string) (Config, error) {
	over := Unset()
	clients := map[string]Client{}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := kv[len(EnvPrefix):eq]
		val := strings.TrimSpace(kv[eq+1:])
		var err error
		switch key {
		case "INPUT":
			over.Input = val
		case "OUTPUT_DIR":
			over.OutputDir = val
		case "WORK_DIR":
			over.WorkDir = val
		case "DIALECT":
			over.Dialect = val
		case "GZIP":
			over.Gzip, err = parseBool(val)
		case "GENOME":
			over.Genome = val
		case "BLOCK_SIZE":
			over.BlockSize, err = parseInt(val)
		case "SUMMARY":
			over.Summary, err = parseBool(val)
		case "MODE":
			over.Mode = val
		case "LOGIN_FILE":
			over.LoginFile = val
		case "CONCURRENCY":
			over.Concurrency, err = parseInt(val)
		case "MAX_RETRIES":
			if val != "" {
				over.MaxRetries, err = strconv.Atoi(val)
			}
		case "RETRY_BACKOFF_MS":
			over.RetryBackoffMS, err = parseInt(val)
		case "KEEP_WORK":
			over.KeepWork, err = parseBool(val)
		case "LOG_LEVEL":
			over.Logging.Level = val
		case "LOG_DIR":
			over.Logging.Dir = val
		case "REGISTRY":
			over.Registry = val
		case "COMPONENTS_READER":
			over.Components.Reader = val
		case "COMPONENTS_BATCHER":
			over.Components.Batcher = val
		case "COMPONENTS_PAYLOAD":
			over.Components.Payload = val
		case "COMPONENTS_DECODER":
			over.Components.Decoder = val
		case "COMPONENTS_RECONCILER":
			over.Components.Reconciler = val
		case "COMPONENTS_STORE":
			over.Components.Store = val
		default:
			if strings.HasPrefix(key, "CLIENT__") {
				err = clientOverlay(clients, key, val)
			}
		}
		if err != nil {
			return over, fmt.Errorf("env %s%s: %w", EnvPrefix, key, err)
		}
	}
	if len(clients) > 0 {
		over.Clients = clients
	}
	return over, nil
}

// clientOverlay 处理 CLIENT__<name>__<FIELD>；空值不记录，避免清空配置文件中的设置。
func clientOverlay(clients map[string]Client, key, val string) error {
	parts := strings.SplitN(key, "__", 3)
	if len(parts) != 3 || strings.TrimSpace(parts[1]) == "" || val == "" {
		return nil
	}
	name := strings.TrimSpace(parts[1])
	c := clients[name]
	var err error
	switch parts[2] {
	case "CLIENT":
		c.Client = val
	case "LIMITS_RPM":
		c.Limits.RPM, err = parseInt(val)
	case "LIMITS_VPM":
		c.Limits.VPM, err = parseInt(val)
	case "LIMITS_MAX_VARIANTS_PER_REQ":
		c.Limits.MaxVariantsPerReq, err = parseInt(val)
	case "OPTIONS_JSON":
		if !json.Valid([]byte(val)) {
			return errors.New("options is not valid JSON")
		}
		c.Options = json.RawMessage(val)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	clients[name] = c
	return nil
}

func mergeClient(base, over Client) Client {
	out := base
	setStr(&out.Client, over.Client)
	setRaw(&out.Options, over.Options)
	if over.Limits.RPM != 0 {
		out.Limits.RPM = over.Limits.RPM
	}
	if over.Limits.VPM != 0 {
		out.Limits.VPM = over.Limits.VPM
	}
	if over.Limits.MaxVariantsPerReq != 0 {
		out.Limits.MaxVariantsPerReq = over.Limits.MaxVariantsPerReq
	}
	return out
}

func setStr(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setRaw(dst *json.RawMessage, v json.RawMessage) {
	if len(v) > 0 {
		*dst = cloneRaw(v)
	}
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

// parseInt 空串视为未设置（0）。
func parseInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}
