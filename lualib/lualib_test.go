package lualib

import (
	"context"
	"strings"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/mtstate/engine"
	"github.com/wippyai/mtstate/engine/luaengine"
	"github.com/wippyai/mtstate/errors"
	"github.com/wippyai/mtstate/states"
)

func setup(t *testing.T) (*states.Registry, *luaengine.Engine) {
	t.Helper()
	reg := states.New()
	eng := luaengine.New(nil)
	Install(reg, eng)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	return reg, eng
}

// run creates a state from code and calls its entry point once.
func run(t *testing.T, reg *states.Registry, eng *luaengine.Engine, code string, args ...engine.Value) ([]engine.Value, error) {
	t.Helper()
	ctx := context.Background()
	h, _, err := reg.NewState(ctx, "", eng, code)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	t.Cleanup(h.Release)
	return h.Call(ctx, args...)
}

func TestNewStateFromLua(t *testing.T) {
	reg, eng := setup(t)
	out, err := run(t, reg, eng, `
		local mtstates = require("mtstates")
		return function()
			local r
			adder, r = mtstates.newstate("adder", "local base = ... return function(a, b) return a + b + base end, 'ready'", 10)
			return adder:name(), adder:isowner(), r, adder:call(1, 2), adder:id() > 0
		end
	`)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	want := []engine.Value{"adder", true, "ready", int64(13), true}
	if len(out) != len(want) {
		t.Fatalf("results = %#v", out)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("result %d = %#v, want %#v", i+1, out[i], want[i])
		}
	}

	h, err := reg.FindByName(context.Background(), "adder", false)
	if err != nil {
		t.Fatalf("state created from Lua not registered: %v", err)
	}
	defer h.Release()
	if res, err := h.Call(context.Background(), 1, 1); err != nil || res[0] != int64(12) {
		t.Errorf("Call from Go = %v, %v", res, err)
	}
}

func TestNewStateArguments(t *testing.T) {
	reg, eng := setup(t)
	out, err := run(t, reg, eng, `
		local mtstates = require("mtstates")
		return function()
			local anon = mtstates.newstate("return function() return type(string) end")
			local bare = mtstates.newstate(nil, false, "return function() return type(string), require('string') ~= nil end")
			local fn = mtstates.newstate(function(...)
				local x = ...
				return function() return x end
			end, 7)
			local a, b = bare:call()
			return anon:name(), anon:call(), a, b, fn:call()
		end
	`)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	want := []engine.Value{nil, "table", "nil", true, int64(7)}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("result %d = %#v, want %#v", i+1, out[i], want[i])
		}
	}
}

func TestNewStateErrors(t *testing.T) {
	reg, eng := setup(t)
	tests := []struct {
		name string
		code string
		want string
	}{
		{"upvalue", `local up = 1; return mtstates.newstate(function() return up end)`, "state function uses upvalue 'up'"},
		{"no function", `return mtstates.newstate("x", 42)`, "lua function expected"},
		{"go function", `return mtstates.newstate(print)`, "lua function expected"},
		{"bad setup argument", `return mtstates.newstate("n", "return function() end", {})`, "bad argument #3"},
		{"syntax", `return mtstates.newstate("return (")`, "invoking_state"},
		{"no entry", `return mtstates.newstate("return 1")`, "state_result"},
		{"bad key", `return mtstates.state(true)`, "state name or id expected"},
		{"unknown", `return mtstates.state("nobody")`, "unknown_object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, reg, eng, `
				mtstates = require("mtstates")
				return function(code)
					local ok, err = pcall(loadstring(code))
					return ok, tostring(err)
				end
			`, tt.code)
			if err != nil {
				t.Fatalf("Call: %v", err)
			}
			if out[0] != false || !strings.Contains(out[1].(string), tt.want) {
				t.Errorf("got %v, %q; want error containing %q", out[0], out[1], tt.want)
			}
		})
	}
}

func TestFindFromLua(t *testing.T) {
	reg, eng := setup(t)
	ctx := context.Background()
	w, _, err := reg.NewState(ctx, "worker", eng, `return function(n) return n * 2 end`)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Release()

	out, err := run(t, reg, eng, `
		local mtstates = require("mtstates")
		return function(id)
			local byName = mtstates.state("worker")
			local byID = mtstates.state(id)
			return byName:call(5), byID:call(6), byName:isowner(), byID:name(), byName:id() == id
		end
	`, w.ID())
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	want := []engine.Value{int64(10), int64(12), false, "worker", true}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("result %d = %#v, want %#v", i+1, out[i], want[i])
		}
	}
}

func TestSelfCall(t *testing.T) {
	reg, eng := setup(t)
	ctx := context.Background()
	h, _, err := reg.NewState(ctx, "", eng, `
		local mtstates = require("mtstates")
		return function(n)
			if n == 0 then return 0 end
			local me = mtstates.state(mtstates.id())
			return n + me:call(n - 1)
		end
	`)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()

	done := make(chan struct{})
	var out []engine.Value
	go func() {
		defer close(done)
		out, err = h.Call(ctx, 4)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("self call deadlocked")
	}
	if err != nil || out[0] != int64(10) {
		t.Errorf("Call = %v, %v", out, err)
	}
}

func TestSingletonFromLua(t *testing.T) {
	reg, eng := setup(t)
	out, err := run(t, reg, eng, `
		local mtstates = require("mtstates")
		return function()
			local code = "counter = (counter or 0) + 1 return function() return counter end, 'created'"
			local a, ra = mtstates.singleton("once", code)
			local b, rb = mtstates.singleton("once", code)
			local c = mtstates.singleton("once")
			return a:id() == b:id(), b:id() == c:id(), ra, rb, c:isowner(), c:call()
		end
	`)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	want := []engine.Value{true, true, "created", nil, true, int64(1)}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("result %d = %#v, want %#v", i+1, out[i], want[i])
		}
	}
}

// blockLibrary adds a "block" module whose function parks until release
// is closed.
func blockLibrary(eng *luaengine.Engine, entered chan struct{}, release chan struct{}) {
	eng.AddLibrary("block", func(L *lua.LState, env engine.Env) int {
		L.Push(L.NewFunction(func(L *lua.LState) int {
			entered <- struct{}{}
			<-release
			return 0
		}))
		return 1
	})
}

func TestTCallFromLua(t *testing.T) {
	reg, eng := setup(t)
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	blockLibrary(eng, entered, release)
	ctx := context.Background()

	slow, _, err := reg.NewState(ctx, "slow", eng, `
		local block = require("block")
		return function(x) if not x then block() end return x end
	`)
	if err != nil {
		t.Fatal(err)
	}
	defer slow.Release()
	go func() { _, _ = slow.Call(ctx) }()
	<-entered

	h, _, err := reg.NewState(ctx, "", eng, `
		local mtstates = require("mtstates")
		return function(timeout)
			return mtstates.state("slow"):tcall(timeout, "done")
		end
	`)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()

	for _, timeout := range []float64{0, 0.02} {
		out, err := h.Call(ctx, timeout)
		if err != nil || len(out) != 1 || out[0] != false {
			t.Errorf("tcall(%v) = %v, %v", timeout, out, err)
		}
	}
	close(release)
	out, err := h.Call(ctx, 5)
	if err != nil || len(out) != 2 || out[0] != true || out[1] != "done" {
		t.Errorf("tcall after release = %v, %v", out, err)
	}
}

func TestInterruptFromLua(t *testing.T) {
	reg, eng := setup(t)
	ctx := context.Background()
	spin, _, err := reg.NewState(ctx, "spin", eng, `return function() while true do end end`)
	if err != nil {
		t.Fatal(err)
	}
	defer spin.Release()

	done := make(chan error, 1)
	go func() {
		_, err := spin.Call(ctx)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)

	if _, err := run(t, reg, eng, `
		local mtstates = require("mtstates")
		return function() mtstates.state("spin"):interrupt() end
	`); err != nil {
		t.Fatalf("interrupt: %v", err)
	}
	select {
	case err := <-done:
		if errors.KindOf(err) != errors.KindInterrupted {
			t.Errorf("err = %v, want interrupted", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("interrupt from Lua did not stop the call")
	}
}

func TestErrorValues(t *testing.T) {
	reg, eng := setup(t)
	out, err := run(t, reg, eng, `
		local mtstates = require("mtstates")
		return function()
			local s = mtstates.newstate("failing", "return function() error('boom') end")
			local ok, e = pcall(s.call, s)
			return ok, e:name(), e == mtstates.error.invoking_state, e == mtstates.error.interrupted,
				e:message(), e:traceback() ~= nil, tostring(e)
		end
	`)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out[0] != false || out[1] != "invoking_state" || out[2] != true || out[3] != false {
		t.Errorf("results = %#v", out)
	}
	if msg := out[4].(string); !strings.Contains(msg, "boom") || !strings.Contains(msg, `"failing"`) {
		t.Errorf("message = %q", msg)
	}
	if out[5] != true || !strings.HasPrefix(out[6].(string), "[call] invoking_state") {
		t.Errorf("traceback %v, tostring %q", out[5], out[6])
	}
}

func TestNestedErrorPropagates(t *testing.T) {
	reg, eng := setup(t)
	_, err := run(t, reg, eng, `
		local mtstates = require("mtstates")
		return function()
			local s = mtstates.newstate("return function() error('inner') end")
			s:call()
		end
	`)
	if errors.KindOf(err) != errors.KindInvokingState || !strings.Contains(err.Error(), "inner") {
		t.Errorf("err = %v", err)
	}
}

func TestHandleBasics(t *testing.T) {
	reg, eng := setup(t)
	out, err := run(t, reg, eng, `
		local mtstates = require("mtstates")
		return function()
			local s = mtstates.newstate("named", "return function() return 1 end")
			local str = tostring(s)
			local mt = getmetatable(s)
			s:close()
			local ok, e = pcall(s.call, s)
			local weak = mtstates.state(mtstates.id())
			return str, mt, ok, e:name(), weak:isowner()
		end
	`)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if str := out[0].(string); !strings.HasPrefix(str, "mtstates.state: 0x") || !strings.Contains(str, `(name="named",id=`) {
		t.Errorf("tostring = %q", str)
	}
	if out[1] != StateTypeName || out[2] != false || out[3] != "object_closed" || out[4] != false {
		t.Errorf("results = %#v", out)
	}
}
