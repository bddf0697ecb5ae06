package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"carname/internal/pipeline"
	"carname/internal/rate"
	"carname/pkg/contract"
	"carname/pkg/refgenome"
	"carname/pkg/registry"
)

func cfgErr(format string, a ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{contract.ErrConfig}, a...)...)
}

// OutputDirOf 返回生效的输出目录（缺省为当前目录）。
func OutputDirOf(cfg Config) string {
	if d := strings.TrimSpace(cfg.OutputDir); d != "" {
		return d
	}
	return "."
}

// WorkDirOf 返回生效的工作目录（缺省 <output_dir>/tmp）。
func WorkDirOf(cfg Config) string {
	if d := strings.TrimSpace(cfg.WorkDir); d != "" {
		return d
	}
	return filepath.Join(OutputDirOf(cfg), "tmp")
}

// Validate 在读取任何输入字节之前完成全部致命配置校验；参考基因组最先检查。
// 文件系统检查仅 stat，不打开输入。
func Validate(cfg Config) error {
	if _, err := refgenome.Lookup(cfg.Genome); err != nil {
		return err
	}
	if registry.Normalizer[cfg.Dialect] == nil {
		return cfgErr("dialect %q not supported", cfg.Dialect)
	}
	switch contract.Mode(cfg.Mode) {
	case contract.ModeQuery, contract.ModeRegister:
	default:
		return cfgErr("mode %q must be query or register", cfg.Mode)
	}
	if cfg.BlockSize < 1 {
		return cfgErr("block_size must be >= 1")
	}
	if cfg.Concurrency < 1 {
		return cfgErr("concurrency must be >= 1")
	}
	if cfg.MaxRetries < 0 {
		return cfgErr("max_retries must be >= 0")
	}
	if cfg.RetryBackoffMS < 0 {
		return cfgErr("retry_backoff_ms must be >= 0")
	}

	prof, ok := cfg.Clients[cfg.Registry]
	if !ok {
		return cfgErr("registry %q not found in clients", cfg.Registry)
	}
	if prof.Client == "" {
		return cfgErr("registry %q missing client", cfg.Registry)
	}
	if registry.RegistryClient[prof.Client] == nil {
		return cfgErr("registry client %q not registered", prof.Client)
	}
	if m := prof.Limits.MaxVariantsPerReq; m > 0 && cfg.BlockSize > m {
		return cfgErr("block_size(%d) exceeds %s.max_variants_per_req(%d)", cfg.BlockSize, cfg.Registry, m)
	}

	d := Defaults().Components
	if name := effName(cfg.Components.Reader, d.Reader); registry.Reader[name] == nil {
		return cfgErr("reader %q not registered", name)
	}
	if name := effName(cfg.Components.Batcher, d.Batcher); registry.Batcher[name] == nil {
		return cfgErr("batcher %q not registered", name)
	}
	if name := effName(cfg.Components.Payload, d.Payload); registry.PayloadBuilder[name] == nil {
		return cfgErr("payload %q not registered", name)
	}
	if name := effName(cfg.Components.Decoder, d.Decoder); registry.Decoder[name] == nil {
		return cfgErr("decoder %q not registered", name)
	}
	if name := effName(cfg.Components.Reconciler, d.Reconciler); registry.Reconciler[name] == nil {
		return cfgErr("reconciler %q not registered", name)
	}
	if name := effName(cfg.Components.Store, d.Store); registry.Store[name] == nil {
		return cfgErr("store %q not registered", name)
	}

	if err := checkPaths(cfg); err != nil {
		return err
	}
	if _, err := Credentials(cfg); err != nil {
		return err
	}
	return nil
}

// checkPaths: 输入须为已存在的普通文件；输出目录须已存在；显式工作目录须已存在（缺省工作目录由调用方创建）。
func checkPaths(cfg Config) error {
	in := strings.TrimSpace(cfg.Input)
	if in == "" {
		return cfgErr("input not set")
	}
	st, err := os.Stat(in)
	if err != nil {
		return cfgErr("input file %s does not exist", in)
	}
	if st.IsDir() {
		return cfgErr("input %s is a directory", in)
	}
	out := OutputDirOf(cfg)
	if st, err := os.Stat(out); err != nil || !st.IsDir() {
		return cfgErr("output path %s is not an existing directory", out)
	}
	if w := strings.TrimSpace(cfg.WorkDir); w != "" {
		if st, err := os.Stat(w); err != nil || !st.IsDir() {
			return cfgErr("working directory %s does not exist", w)
		}
	}
	return nil
}

// Assemble 构造 Components 与 Settings（含限流 Gate 与分组键）。
// 严格 Options 解析在 registry（工厂）层进行；此处只注入由顶层配置决定的键。
func Assemble(cfg Config, creds contract.Credentials) (pipeline.Components, pipeline.Settings, error) {
	fail := func(err error) (pipeline.Components, pipeline.Settings, error) {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	d := Defaults().Components

	r, err := registry.Reader[effName(cfg.Components.Reader, d.Reader)](cfg.Options.Reader)
	if err != nil {
		return fail(fmt.Errorf("reader: %w", err))
	}
	n, err := registry.Normalizer[cfg.Dialect](cfg.Options.Normalizer)
	if err != nil {
		return fail(fmt.Errorf("normalizer: %w", err))
	}
	b, err := registry.Batcher[effName(cfg.Components.Batcher, d.Batcher)](cfg.Options.Batcher)
	if err != nil {
		return fail(fmt.Errorf("batcher: %w", err))
	}
	praw, err := withKey(cfg.Options.Payload, "genome", cfg.Genome)
	if err != nil {
		return fail(fmt.Errorf("payload: %w", err))
	}
	p, err := registry.PayloadBuilder[effName(cfg.Components.Payload, d.Payload)](praw)
	if err != nil {
		return fail(fmt.Errorf("payload: %w", err))
	}
	dec, err := registry.Decoder[effName(cfg.Components.Decoder, d.Decoder)](cfg.Options.Decoder)
	if err != nil {
		return fail(fmt.Errorf("decoder: %w", err))
	}
	rec, err := registry.Reconciler[effName(cfg.Components.Reconciler, d.Reconciler)](cfg.Options.Reconciler)
	if err != nil {
		return fail(fmt.Errorf("reconciler: %w", err))
	}

	newStore := registry.Store[effName(cfg.Components.Store, d.Store)]
	work, err := storeAt(newStore, cfg.Options.Store, WorkDirOf(cfg))
	if err != nil {
		return fail(fmt.Errorf("work store: %w", err))
	}
	out, err := storeAt(newStore, cfg.Options.Store, OutputDirOf(cfg))
	if err != nil {
		return fail(fmt.Errorf("out store: %w", err))
	}

	prof := cfg.Clients[cfg.Registry]
	client, err := registry.RegistryClient[prof.Client](prof.Options, creds)
	if err != nil {
		return fail(fmt.Errorf("registry client: %w", err))
	}

	mode := contract.Mode(cfg.Mode)
	key := rate.DeriveKey(prof.Client, mode, creds)
	gate := rate.NewGate(map[rate.LimitKey]rate.Limits{
		key: {RPM: prof.Limits.RPM, VPM: prof.Limits.VPM, MaxVariantsPerReq: prof.Limits.MaxVariantsPerReq},
	}, nil)

	comp := pipeline.Components{
		Reader:     r,
		Normalizer: n,
		Batcher:    b,
		Payload:    p,
		Client:     client,
		Decoder:    dec,
		Reconciler: rec,
		Work:       work,
		Out:        out,
	}
	set := pipeline.Settings{
		Input:        cfg.Input,
		Name:         contract.NameFor(cfg.Input, cfg.Gzip),
		Mode:         mode,
		BlockSize:    cfg.BlockSize,
		Concurrency:  cfg.Concurrency,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: time.Duration(cfg.RetryBackoffMS) * time.Millisecond,
		Gate:         gate,
		GateKey:      key,
		Summary:      cfg.Summary,
		KeepWork:     cfg.KeepWork,
	}
	return comp, set, nil
}

// Store 仅构造工作目录存储（merge 子命令使用）。
func Store(cfg Config, dir string) (contract.Store, error) {
	return storeAt(registry.Store[effName(cfg.Components.Store, Defaults().Components.Store)], cfg.Options.Store, dir)
}

func storeAt(f registry.NewStore, raw json.RawMessage, dir string) (contract.Store, error) {
	if f == nil {
		return nil, cfgErr("store not registered")
	}
	sraw, err := withKey(raw, "output_dir", dir)
	if err != nil {
		return nil, err
	}
	return f(sraw)
}

// withKey 在原样 JSON 对象上设置一个键（覆盖同名键）。
func withKey(raw json.RawMessage, key string, val any) (json.RawMessage, error) {
	m := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		if m == nil {
			m = map[string]json.RawMessage{}
		}
	}
	v, err := json.Marshal(val)
	if err != nil {
		return nil, err
	}
	m[key] = v
	return json.Marshal(m)
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
