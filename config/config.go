// Package config loads the state definitions preloaded by the run command.
//
//	[log]
//	level = "debug"
//
//	[[state]]
//	name = "adder"
//	engine = "lua"
//	code = "return function(a, b) return a + b end"
//
//	[[state]]
//	name = "math"
//	engine = "wasm"
//	file = "math.wasm"
//	entry = "add"
//	signature = "add: func(a: s32, b: s32) -> s32;"
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"go.uber.org/multierr"

	"github.com/wippyai/mtstate/engine"
	"github.com/wippyai/mtstate/engine/luaengine"
	"github.com/wippyai/mtstate/engine/wasmengine"
	"github.com/wippyai/mtstate/errors"
)

// Engine names accepted in State.Engine.
const (
	EngineLua  = "lua"
	EngineWasm = "wasm"
)

// Config is the content of a state file.
type Config struct {
	Log    Log     `toml:"log"`
	Lua    Lua     `toml:"lua"`
	Wasm   Wasm    `toml:"wasm"`
	States []State `toml:"state"`

	// Dir is the directory relative file paths resolve against.
	Dir string `toml:"-"`
}

// Log configures the logger.
type Log struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// Lua configures the Lua engine.
type Lua struct {
	CallStackSize int `toml:"call-stack-size"`
	RegistrySize  int `toml:"registry-size"`
}

// Wasm configures the wasm engine.
type Wasm struct {
	MemoryLimitPages uint32 `toml:"memory-limit-pages"`
}

// State describes one state to create.
type State struct {
	Name   string `toml:"name"`
	Engine string `toml:"engine"`
	File   string `toml:"file"`
	Code   string `toml:"code"`
	// OpenLibs defaults to true for Lua states.
	OpenLibs *bool `toml:"openlibs"`
	// Entry and Init name wasm exports.
	Entry     string `toml:"entry"`
	Init      string `toml:"init"`
	Signature string `toml:"signature"`
	Args      []any  `toml:"args"`
	Singleton bool   `toml:"singleton"`
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	return Parse(data, dir)
}

// Parse decodes and validates TOML data. dir resolves relative file paths.
func Parse(data []byte, dir string) (*Config, error) {
	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse error")
	}
	c.Dir = dir
	for i := range c.States {
		if c.States[i].Engine == "" {
			c.States[i].Engine = EngineLua
		}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate reports every invalid state definition.
func (c *Config) Validate() error {
	var err error
	for i, s := range c.States {
		object := fmt.Sprintf("state #%d", i+1)
		if s.Name != "" {
			object = errors.StateName(s.Name)
		}
		invalid := func(format string, args ...any) {
			err = multierr.Append(err, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Object(object).Detail(format, args...).Build())
		}

		if (s.File == "") == (s.Code == "") {
			invalid("exactly one of file and code is required")
		}
		if s.Singleton && s.Name == "" {
			invalid("a singleton needs a name")
		}
		for j, a := range s.Args {
			if _, ok := engine.Normalize(a); !ok {
				invalid("argument #%d has unsupported type %T", j+1, a)
			}
		}
		switch s.Engine {
		case EngineLua:
			if s.Entry != "" || s.Init != "" || s.Signature != "" {
				invalid("entry, init and signature apply to wasm states only")
			}
		case EngineWasm:
			if s.Entry == "" {
				invalid("wasm states need an entry function")
			}
			if s.Code != "" {
				invalid("wasm states are loaded from a file")
			}
			if s.OpenLibs != nil {
				invalid("openlibs applies to lua states only")
			}
		default:
			invalid("unknown engine %q", s.Engine)
		}
	}
	return err
}

// Path resolves a file path of the configuration.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// Setup builds the engine setup value of s.
func (c *Config) Setup(s State) (any, error) {
	var src []byte
	if s.File != "" {
		data, err := os.ReadFile(c.Path(s.File))
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "cannot read state file")
		}
		src = data
	}

	switch s.Engine {
	case EngineWasm:
		return wasmengine.Setup{Module: src, Entry: s.Entry, Init: s.Init, WIT: s.Signature}, nil
	default:
		setup := luaengine.Setup{Code: s.Code, OpenLibs: true}
		if s.OpenLibs != nil {
			setup.OpenLibs = *s.OpenLibs
		}
		if src != nil {
			setup.Code = string(src)
			setup.ChunkName = "@" + s.File
		}
		return setup, nil
	}
}

// LuaConfig returns the Lua engine configuration.
func (c *Config) LuaConfig() *luaengine.Config {
	return &luaengine.Config{CallStackSize: c.Lua.CallStackSize, RegistrySize: c.Lua.RegistrySize}
}

// WasmConfig returns the wasm engine configuration.
func (c *Config) WasmConfig() *wasmengine.Config {
	return &wasmengine.Config{MemoryLimitPages: c.Wasm.MemoryLimitPages}
}
