package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	cfgpkg "carname/internal/config"
	"carname/internal/diag"
	"carname/internal/ledger"
	"carname/internal/merge"
	"carname/internal/pipeline"
	"carname/internal/telemetry"
	"carname/pkg/contract"
)

var pipelineRun = pipeline.Run

const version = "0.3.0"

// 退出码：致命配置错误 3；运行期致命错误 1；整批失败不影响退出码。
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// exitError 携带退出码；message 已输出到 stderr。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

type flags struct {
	register    bool
	gtexEgenes  bool
	gtexPairs   bool
	gz          bool
	ref         string
	block       int
	input       string
	out         string
	work        string
	summary     bool
	login       string
	config      string
	concurrency int
	maxRetries  int
	registry    string
	resume      bool
	keepWork    bool
	logLevel    string
	status      bool
}

type app struct {
	start  time.Time
	corrID string
	logger *diag.Logger
	stderr io.Writer
	f      flags
}

func run(args []string) int {
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = godotenv.Load()
	a := &app{start: time.Now(), corrID: uuid.NewString(), stderr: os.Stderr}
	a.logger = diag.NewLogger(a.corrID, "info", "")
	defer func() { _ = a.logger.Close() }()

	root := a.rootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// cobra 的参数解析错误
	fprintf(a.stderr, "参数错误: %v\n", err)
	return exitConfig
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "carname",
		Short: "为 VCF / GTEx 变异查询或注册 ClinGen Allele Registry 标识（CAid）",
		Long: `carname 将输入中的变异按块提交到 Allele Registry，输出：
  <name>_CAid<ext>     已获得 CAid 的行（追加 @id 列）
  <name>_noCAid<ext>   未注册与被拒的行
  <name>_summary.txt   统计摘要（-s）
失败批次的诊断工件 <name>_tmp-<k>_{Error.txt,input.txt,failed<ext>} 保留在输出目录。`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          func(cmd *cobra.Command, _ []string) error { return a.runPipeline(cmd.Context()) },
	}
	fs := root.PersistentFlags()
	fs.StringVarP(&a.f.input, "input", "i", "", "输入文件（VCF 或 GTEx 表，可为 .gz）")
	fs.StringVarP(&a.f.out, "out", "o", "", "输出目录（默认当前目录）")
	fs.StringVarP(&a.f.work, "work", "w", "", "中间文件目录（默认 <out>/tmp）")
	fs.BoolVar(&a.f.gz, "gz", false, "输入为 gzip；输出同样压缩")
	fs.BoolVarP(&a.f.summary, "summary", "s", false, "生成 <name>_summary.txt")
	fs.BoolVar(&a.f.keepWork, "keep-work", false, "保留中间工件与运行账本")
	fs.StringVar(&a.f.config, "config", "", "配置文件（JSON 或 YAML）；缺省读取 ./carname.yaml 或 ./config.json（若存在）")
	fs.StringVar(&a.f.logLevel, "log-level", "", "日志级别 debug|info|warn|error")

	f := root.Flags()
	f.BoolVarP(&a.f.register, "name", "n", false, "注册模式：对未注册变异进行注册（需要凭据）")
	f.BoolVar(&a.f.gtexEgenes, "gtex_egenes", false, "输入为 GTEx egenes 表")
	f.BoolVar(&a.f.gtexPairs, "gtex_pairs", false, "输入为 GTEx signif_variant_gene_pairs 表")
	f.StringVarP(&a.f.ref, "ref", "r", "", "参考基因组 hg19|grch37|hg38|grch38（默认 hg38）")
	f.IntVarP(&a.f.block, "block", "b", 0, "每批变异数（默认 10000）")
	f.StringVarP(&a.f.login, "login", "l", "", "凭据文件，单行 login:password（默认 ~/.AlleleRegistry）")
	f.IntVar(&a.f.concurrency, "concurrency", 0, "并发批次数（默认 1）")
	// max-retries 允许显式设置为 0；默认 -1 表示“未覆盖”。
	f.IntVar(&a.f.maxRetries, "max-retries", -1, "瞬时错误最大重试次数（0 表示不重试）")
	f.StringVar(&a.f.registry, "registry", "", "注册中心配置档名（clients 中的键）")
	f.BoolVar(&a.f.resume, "resume", false, "按运行账本跳过已完成批次")
	f.BoolVar(&a.f.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")

	root.AddCommand(a.mergeCmd(), a.initCmd())
	return root
}

func (a *app) mergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge",
		Short: "按运行账本重新合并中间工件（需先以 --keep-work 运行或运行中断）",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, _ []string) error { return a.runMerge(cmd.Context()) },
	}
}

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [dir]",
		Short: "在目录中生成默认 config.json 与 .env 模板（已存在则不覆盖）",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			return a.runInit(dir)
		},
	}
}

// fail 输出错误、记录日志并携带退出码返回。
func (a *app) fail(code int, msg string, err error) error {
	fprintf(a.stderr, "%s: %v\n", msg, err)
	a.logger.Error("cli", string(diag.Classify(err)), msg, &a.start)
	return &exitError{code: code, err: err}
}

// loadConfig 逐层合并：Defaults → 配置文件 → ENV → CLI。
func (a *app) loadConfig() (cfgpkg.Config, error) {
	cfg := cfgpkg.Defaults()
	path := a.f.config
	if path == "" {
		path = os.Getenv("CARNAME_CONFIG_FILE")
	}
	if path == "" {
		for _, p := range []string{"carname.yaml", "config.json"} {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path != "" {
		base, err := cfgpkg.LoadFile(path, nil)
		if err != nil {
			return cfg, fmt.Errorf("%w: %s: %v", contract.ErrConfig, path, err)
		}
		cfg = cfgpkg.Merge(cfg, base)
	}
	env, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, fmt.Errorf("%w: %v", contract.ErrConfig, err)
	}
	cfg = cfgpkg.Merge(cfg, env)
	cli, err := a.cliOverlay()
	if err != nil {
		return cfg, err
	}
	return cfgpkg.Merge(cfg, cli), nil
}

func (a *app) cliOverlay() (cfgpkg.Config, error) {
	over := cfgpkg.Unset()
	f := a.f
	if f.gtexEgenes && f.gtexPairs {
		return over, fmt.Errorf("%w: --gtex_egenes and --gtex_pairs are mutually exclusive", contract.ErrConfig)
	}
	switch {
	case f.gtexEgenes:
		over.Dialect = string(contract.DialectGTExEgenes)
	case f.gtexPairs:
		over.Dialect = string(contract.DialectGTExPairs)
	}
	if f.register {
		over.Mode = string(contract.ModeRegister)
	}
	over.Input = f.input
	over.OutputDir = f.out
	over.WorkDir = f.work
	over.Gzip = f.gz
	over.Genome = f.ref
	over.BlockSize = f.block
	over.Summary = f.summary
	over.LoginFile = f.login
	over.Concurrency = f.concurrency
	over.MaxRetries = f.maxRetries
	over.Registry = f.registry
	over.KeepWork = f.keepWork
	over.Logging.Level = f.logLevel
	return over, nil
}

func (a *app) runPipeline(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return a.fail(exitConfig, "配置解析失败", err)
	}
	// 全部致命配置校验先于任何输入读取
	if err := cfgpkg.Validate(cfg); err != nil {
		return a.fail(exitConfig, "配置校验失败", err)
	}
	a.rebuildLogger(cfg)

	workDir := cfgpkg.WorkDirOf(cfg)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return a.fail(exitConfig, "工作目录无法创建", err)
	}
	for _, dir := range []string{cfgpkg.OutputDirOf(cfg), workDir} {
		if err := preflightWritable(dir); err != nil {
			return a.fail(exitConfig, "目录不可写", err)
		}
	}
	creds, err := cfgpkg.Credentials(cfg)
	if err != nil {
		return a.fail(exitConfig, "凭据读取失败", err)
	}
	comp, set, err := cfgpkg.Assemble(cfg, creds)
	if err != nil {
		return a.fail(exitConfig, "装配失败", fmt.Errorf("%w: %v", contract.ErrConfig, err))
	}
	a.logEffective(cfg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, terr := telemetry.Init(ctx, os.Getenv(telemetry.EnvEndpoint), "carname", version, envBool("OTEL_EXPORTER_OTLP_INSECURE"))
	if terr != nil {
		a.logger.Warn("telemetry", string(diag.CodeConfig), terr.Error(), "", "", nil)
	} else {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}

	lpath := ledger.Path(workDir, set.Name.Base)
	led, err := ledger.Open(ctx, lpath)
	if err != nil {
		return a.fail(exitRuntime, "运行账本打开失败", err)
	}
	set.Ledger = led
	set.Resume = a.f.resume
	set.Meta = ledger.RunMeta{
		RunID:     a.corrID,
		Input:     cfg.Input,
		Dialect:   cfg.Dialect,
		Genome:    strings.ToLower(cfg.Genome),
		Mode:      string(set.Mode),
		BlockSize: cfg.BlockSize,
		Gzip:      cfg.Gzip,
		StartedAt: time.Now().UTC(),
	}

	term := diag.NewTerminal(a.stderr, a.f.status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	term.RunStart(cfg.Concurrency, cfg.Registry, cfg.Mode)

	t := a.logger.Start("pipeline", "run")
	rep, err := pipelineRun(ctx, comp, set, a.logger)
	_ = led.Close()
	if err != nil {
		code := diag.Classify(err)
		a.logger.Error("pipeline", string(code), "first error", &a.start)
		diag.IncOp("pipeline", "error", "error")
		if code != diag.CodeUnknown {
			diag.IncError("pipeline", string(code))
		}
		if !errors.Is(err, context.Canceled) {
			fprintf(a.stderr, "运行失败: %v\n", err)
		}
		term.RunFinish(false, rep.Stats.Registered, rep.Stats.Unregistered, time.Since(a.start))
		if code == diag.CodeConfig {
			return &exitError{code: exitConfig, err: err}
		}
		return &exitError{code: exitRuntime, err: err}
	}
	t.Finish("run", rep.Stats.Variants)
	diag.IncOp("pipeline", "finish", "success")
	diag.ObserveDuration("pipeline", "finish", time.Since(a.start).Milliseconds())
	if len(rep.Failed) > 0 {
		fprintf(a.stderr, "提示：%d 个批次失败，诊断工件位于 %s\n", len(rep.Failed), cfgpkg.OutputDirOf(cfg))
	}
	// 账本仅服务于中断恢复与独立合并；成功合并且未保留中间工件时随之删除。
	if !cfg.KeepWork {
		_ = os.Remove(lpath)
		if strings.TrimSpace(cfg.WorkDir) == "" {
			// 缺省工作目录为空时一并删除
			_ = os.Remove(workDir)
		}
	}
	term.RunFinish(true, rep.Stats.Registered, rep.Stats.Unregistered, time.Since(a.start))
	return nil
}

func (a *app) rebuildLogger(cfg cfgpkg.Config) {
	_ = a.logger.Close()
	a.logger = diag.NewLogger(a.corrID, cfg.Logging.Level, cfg.Logging.Dir)
}

// logEffective 以 debug 级别记录生效配置（不含凭据）。
func (a *app) logEffective(cfg cfgpkg.Config) {
	kv := map[string]string{
		"input":       cfg.Input,
		"output_dir":  cfgpkg.OutputDirOf(cfg),
		"work_dir":    cfgpkg.WorkDirOf(cfg),
		"dialect":     cfg.Dialect,
		"genome":      cfg.Genome,
		"mode":        cfg.Mode,
		"block_size":  strconv.Itoa(cfg.BlockSize),
		"concurrency": strconv.Itoa(cfg.Concurrency),
		"max_retries": strconv.Itoa(cfg.MaxRetries),
		"registry":    cfg.Registry,
		"gzip":        strconv.FormatBool(cfg.Gzip),
	}
	if p, ok := cfg.Clients[cfg.Registry]; ok {
		kv["client"] = p.Client
		var s struct {
			URL string `json:"url"`
		}
		_ = json.Unmarshal(p.Options, &s)
		if s.URL != "" {
			kv["url"] = s.URL
		}
	}
	a.logger.DebugStart("config", "effective", "", "", kv)
}

// runMerge 依据账本把中间工件重新合并为最终工件。
func (a *app) runMerge(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return a.fail(exitConfig, "配置解析失败", err)
	}
	if strings.TrimSpace(cfg.Input) == "" {
		return a.fail(exitConfig, "配置校验失败", fmt.Errorf("%w: input not set", contract.ErrConfig))
	}
	a.rebuildLogger(cfg)
	workDir := cfgpkg.WorkDirOf(cfg)
	lpath := ledger.Path(workDir, contract.NameFor(cfg.Input, cfg.Gzip).Base)
	if _, err := os.Stat(lpath); err != nil {
		return a.fail(exitConfig, "运行账本不存在", fmt.Errorf("%w: %s", contract.ErrConfig, lpath))
	}
	led, err := ledger.Open(ctx, lpath)
	if err != nil {
		return a.fail(exitRuntime, "运行账本打开失败", err)
	}
	defer func() { _ = led.Close() }()
	meta, ok, err := led.Meta(ctx)
	if err != nil {
		return a.fail(exitRuntime, "运行账本读取失败", err)
	}
	if !ok {
		return a.fail(exitConfig, "运行账本为空", fmt.Errorf("%w: %s has no run", contract.ErrConfig, lpath))
	}
	arts, err := led.Artifacts(ctx)
	if err != nil {
		return a.fail(exitRuntime, "运行账本读取失败", err)
	}
	work, err := cfgpkg.Store(cfg, workDir)
	if err != nil {
		return a.fail(exitConfig, "装配失败", err)
	}
	out, err := cfgpkg.Store(cfg, cfgpkg.OutputDirOf(cfg))
	if err != nil {
		return a.fail(exitConfig, "装配失败", err)
	}

	t := a.logger.Start("merge", "ledger")
	rej := merge.Rejected{ID: meta.Rejected, Count: meta.RejectedCount}
	m := merge.New(work, out, merge.Options{Name: contract.NameFor(meta.Input, meta.Gzip), Summary: cfg.Summary})
	res, err := m.Merge(ctx, arts, rej)
	if err != nil {
		return a.fail(exitRuntime, "合并失败", err)
	}
	t.Finish("ledger", res.Stats.Variants)
	if !cfg.KeepWork {
		if err := merge.Cleanup(ctx, work, arts, rej); err != nil {
			a.logger.Warn("merge", string(diag.Classify(err)), "cleanup failed", meta.Input, "", map[string]string{"err": err.Error()})
		}
	}
	fprintf(a.stderr, "[merge] 批次 %d | 失败 %d | 已注册 %d | 未注册 %d\n",
		len(arts), len(res.Failed), res.Stats.Registered, res.Stats.Unregistered)
	return nil
}

// runInit 生成 config.json 与 .env；config.json 已存在视为错误，.env 已存在则跳过。
func (a *app) runInit(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return a.fail(exitConfig, "生成默认配置失败", err)
	}
	if err := writeConfig(filepath.Join(dir, "config.json"), cfgpkg.DefaultTemplateConfig()); err != nil {
		return a.fail(exitConfig, "生成默认配置失败", err)
	}
	if err := writeDotEnv(filepath.Join(dir, ".env")); err != nil {
		fprintf(a.stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
	}
	return nil
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func writeConfig(path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.Write(append(b, '\n'))
		return err
	}
	// 不覆盖已存在文件
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(b, '\n'))
	return err
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过）。
func writeDotEnv(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(cfgpkg.DotEnvTemplate())
	return err
}

// preflightWritable 在目录中创建并删除临时文件，检查可写性。
func preflightWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".wcheck-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return err == nil && v
}
