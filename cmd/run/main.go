package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/wippyai/mtstate/config"
	"github.com/wippyai/mtstate/engine"
	"github.com/wippyai/mtstate/engine/luaengine"
	"github.com/wippyai/mtstate/engine/wasmengine"
	"github.com/wippyai/mtstate/lualib"
	"github.com/wippyai/mtstate/states"
)

func main() {
	var (
		configFile  = flag.String("config", "", "TOML file describing states to create")
		luaFile     = flag.String("lua", "", "Lua script returning the entry function")
		wasmFile    = flag.String("wasm", "", "Core wasm module")
		entry       = flag.String("entry", "", "Exported entry function (wasm)")
		witSig      = flag.String("wit", "", "WIT signature of the entry function (wasm)")
		name        = flag.String("name", "main", "Name of the state created from -lua or -wasm")
		callName    = flag.String("call", "", "State to call (default: the only or the -name state)")
		timeout     = flag.Duration("timeout", 0, "Give up when the state stays busy this long (0 waits)")
		parallel    = flag.Int("parallel", 1, "Number of concurrent calls")
		list        = flag.Bool("list", false, "List states and exit")
		verbose     = flag.Bool("v", false, "Debug logging")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *configFile == "" && *luaFile == "" && *wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: run -lua <file.lua> [-call name] [args...]")
		fmt.Fprintln(os.Stderr, "       run -wasm <file.wasm> -entry <func> [-wit sig] [args...]")
		fmt.Fprintln(os.Stderr, "       run -config <states.toml> [-parallel n] [-timeout d] [args...]")
		fmt.Fprintln(os.Stderr, "       run ... -list | -i  (interactive mode)")
		os.Exit(1)
	}

	cfg, err := loadConfig(*configFile, *luaFile, *wasmFile, *entry, *witSig, *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log, err := newLogger(cfg.Log, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	engine.SetLogger(log)

	ctx := context.Background()
	env, err := newEnvironment(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer env.Close(ctx)

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(env); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *list {
		printStates(env.reg.States())
		return
	}

	target := *callName
	if target == "" {
		target = env.defaultState(*name)
	}
	if err := run(ctx, env, target, parseArgs(flag.Args()), *parallel, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file or builds a single state definition
// from the command line.
func loadConfig(path, luaFile, wasmFile, entry, witSig, name string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	s := config.State{Name: name, Engine: config.EngineLua, File: luaFile}
	if wasmFile != "" {
		s = config.State{Name: name, Engine: config.EngineWasm, File: wasmFile, Entry: entry, Signature: witSig}
	}
	c := &config.Config{Log: config.Log{Level: "info"}, States: []config.State{s}}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func newLogger(cfg config.Log, verbose bool) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc := zap.NewProductionConfig()
	if cfg.Development || verbose {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// environment holds the registry, the engines and the handles of the
// preloaded states.
type environment struct {
	reg     *states.Registry
	lua     *luaengine.Engine
	wasm    *wasmengine.Engine
	handles map[string]*states.Handle
	order   []string
	log     *zap.Logger
}

func newEnvironment(ctx context.Context, cfg *config.Config, log *zap.Logger) (*environment, error) {
	env := &environment{
		reg:     states.New(states.WithLogger(log)),
		lua:     luaengine.New(cfg.LuaConfig()),
		wasm:    wasmengine.New(ctx, cfg.WasmConfig()),
		handles: make(map[string]*states.Handle),
		log:     log,
	}
	lualib.Install(env.reg, env.lua)

	for i, s := range cfg.States {
		setup, err := cfg.Setup(s)
		if err != nil {
			env.Close(ctx)
			return nil, err
		}
		var eng engine.Engine = env.lua
		if s.Engine == config.EngineWasm {
			eng = env.wasm
		}

		var h *states.Handle
		var results []engine.Value
		if s.Singleton {
			h, results, err = env.reg.Singleton(ctx, s.Name, eng, setup, s.Args...)
		} else {
			h, results, err = env.reg.NewState(ctx, s.Name, eng, setup, s.Args...)
		}
		if err != nil {
			env.Close(ctx)
			return nil, err
		}
		key := s.Name
		if _, taken := env.handles[key]; key == "" || taken {
			key += "#" + strconv.Itoa(i+1)
		}
		env.handles[key] = h
		env.order = append(env.order, key)
		log.Info("state ready", zap.String("state", key), zap.Uint64("id", h.ID()), zap.String("engine", s.Engine), zap.Any("results", results))
	}
	return env, nil
}

func (env *environment) defaultState(name string) string {
	if len(env.order) == 1 {
		return env.order[0]
	}
	return name
}

// handle returns the preloaded handle for key or looks the state up by
// name or id.
func (env *environment) handle(ctx context.Context, key string) (*states.Handle, func(), error) {
	if h, ok := env.handles[key]; ok {
		return h, func() {}, nil
	}
	var lookup any = key
	if id, err := strconv.ParseUint(key, 10, 64); err == nil {
		lookup = id
	}
	h, err := env.reg.Find(ctx, lookup, false)
	if err != nil {
		return nil, nil, err
	}
	return h, h.Release, nil
}

func (env *environment) Close(ctx context.Context) error {
	for _, h := range env.handles {
		h.Release()
	}
	err := env.reg.Close(ctx)
	err = multierr.Append(err, env.wasm.Close(ctx))
	if err != nil {
		env.log.Warn("shutdown", zap.Error(err))
	}
	return err
}

func run(ctx context.Context, env *environment, target string, args []engine.Value, parallel int, timeout time.Duration) error {
	h, done, err := env.handle(ctx, target)
	if err != nil {
		return err
	}
	defer done()

	if parallel < 1 {
		parallel = 1
	}
	results := make([]string, parallel)
	var g errgroup.Group
	for i := range parallel {
		g.Go(func() error {
			start := time.Now()
			var out []engine.Value
			var err error
			if timeout > 0 {
				var completed bool
				completed, out, err = h.TCall(ctx, timeout, args...)
				if err == nil && !completed {
					results[i] = fmt.Sprintf("busy after %s", timeout)
					return nil
				}
			} else {
				out, err = h.Call(ctx, args...)
			}
			if err != nil {
				return fmt.Errorf("call %s: %w", target, err)
			}
			results[i] = fmt.Sprintf("%s (%s)", formatValues(out), time.Since(start).Round(time.Microsecond))
			return nil
		})
	}
	err = g.Wait()
	for i, r := range results {
		if r == "" {
			continue
		}
		if parallel > 1 {
			fmt.Printf("[%d] ", i+1)
		}
		fmt.Printf("Result: %s\n", r)
	}
	return err
}

// parseArgs converts command line arguments: integers, numbers, true,
// false and nil keep their type, everything else is a string.
func parseArgs(raw []string) []engine.Value {
	args := make([]engine.Value, len(raw))
	for i, s := range raw {
		args[i] = parseValue(s)
	}
	return args
}

func parseValue(s string) engine.Value {
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "nil":
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func formatValues(vals []engine.Value) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		switch x := v.(type) {
		case string:
			parts[i] = strconv.Quote(x)
		case nil:
			parts[i] = "nil"
		default:
			parts[i] = fmt.Sprint(x)
		}
	}
	return strings.Join(parts, ", ")
}

func printStates(infos []states.Info) {
	fmt.Printf("States: %d\n", len(infos))
	for _, info := range infos {
		name := info.Name
		if name == "" {
			name = "-"
		}
		status := "open"
		switch {
		case !info.Initialized:
			status = "initializing"
		case info.Closed:
			status = "closed"
		}
		fmt.Printf("  %-16s id=%d engine=%s owned=%d used=%d %s\n", name, info.ID, info.Engine, info.Owned, info.Used, status)
	}
}
