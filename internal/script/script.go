// Package script embeds the verb table of spec §4.6 in a gopher-lua VM,
// so a program can be driven either from the interactive REPL
// (internal/cli) or from a batch .lua file. Each verb is registered as a
// Lua global that calls straight into an internal/program.Program;
// stimulus handles cross the Go/Lua boundary as opaque lua.LUserData.
package script

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/geminicomplex/gcore/internal/gclog"
	"github.com/geminicomplex/gcore/internal/program"
	"github.com/geminicomplex/gcore/internal/stim"
)

// exitRequest is panicked by the "exit" verb and recovered by Run/Eval,
// distinguishing a script's own termination request from a Lua error.
type exitRequest struct{ code int }

// Interpreter is one Lua VM wired to a Program.
type Interpreter struct {
	L   *lua.LState
	prg *program.Program
	log *gclog.Logger
	ctx context.Context
}

// New builds an Interpreter driving prg, with every verb of §4.6
// registered as a Lua global.
func New(ctx context.Context, prg *program.Program, log *gclog.Logger) *Interpreter {
	if log == nil {
		log = gclog.Discard()
	}
	it := &Interpreter{L: lua.NewState(), prg: prg, log: log, ctx: ctx}
	it.registerVerbs()
	return it
}

// Close releases the Lua VM.
func (it *Interpreter) Close() { it.L.Close() }

// RunFile executes a .lua script file to completion. ExitCode, if the
// script called exit(), is returned as (code, true).
func (it *Interpreter) RunFile(path string) (code int, exited bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			if ex, ok := r.(exitRequest); ok {
				code, exited = ex.code, true
				return
			}
			panic(r)
		}
	}()
	if err := it.L.DoFile(path); err != nil {
		return 0, false, fmt.Errorf("script: %w", err)
	}
	return 0, false, nil
}

// Eval executes a single line of Lua, as used by the interactive REPL.
func (it *Interpreter) Eval(line string) (code int, exited bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			if ex, ok := r.(exitRequest); ok {
				code, exited = ex.code, true
				return
			}
			panic(r)
		}
	}()
	if err := it.L.DoString(line); err != nil {
		return 0, false, fmt.Errorf("script: %w", err)
	}
	return 0, false, nil
}

func (it *Interpreter) registerVerbs() {
	L := it.L
	L.SetGlobal("set_profile", L.NewFunction(it.luaSetProfile))
	L.SetGlobal("reads", L.NewFunction(it.luaReads))
	L.SetGlobal("writes", L.NewFunction(it.luaWrites))
	L.SetGlobal("load", L.NewFunction(it.luaLoad))
	L.SetGlobal("loads", L.NewFunction(it.luaLoads))
	L.SetGlobal("loada", L.NewFunction(it.luaLoada))
	L.SetGlobal("unload", L.NewFunction(it.luaUnload))
	L.SetGlobal("unload_all", L.NewFunction(it.luaUnloadAll))
	L.SetGlobal("run", L.NewFunction(it.luaRun))
	L.SetGlobal("runc", L.NewFunction(it.luaRunc))
	L.SetGlobal("get_pin_names", L.NewFunction(it.luaGetPinNames))
	L.SetGlobal("get_fail_pins", L.NewFunction(it.luaGetFailPins))
	L.SetGlobal("exit", L.NewFunction(it.luaExit))
}

func (it *Interpreter) luaSetProfile(L *lua.LState) int {
	path := L.CheckString(1)
	if err := it.prg.SetProfile(path); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

func (it *Interpreter) luaReads(L *lua.LState) int {
	path := L.CheckString(1)
	s, err := it.prg.Reads(path)
	if err != nil {
		L.RaiseError("%v", err)
	}
	L.Push(newStimUserData(L, s))
	return 1
}

func (it *Interpreter) luaWrites(L *lua.LState) int {
	s := checkStim(L, 1)
	path := L.CheckString(2)
	out, err := it.prg.Writes(s, path)
	if err != nil {
		L.RaiseError("%v", err)
	}
	L.Push(newStimUserData(L, out))
	return 1
}

func (it *Interpreter) luaLoad(L *lua.LState) int {
	path := L.CheckString(1)
	addrs, err := it.prg.Load(it.ctx, path)
	if err != nil {
		L.RaiseError("%v", err)
	}
	return pushAddrs(L, addrs)
}

func (it *Interpreter) luaLoads(L *lua.LState) int {
	s := checkStim(L, 1)
	addrs, err := it.prg.Loads(it.ctx, s)
	if err != nil {
		L.RaiseError("%v", err)
	}
	return pushAddrs(L, addrs)
}

func (it *Interpreter) luaLoada(L *lua.LState) int {
	s := checkStim(L, 1)
	addr := uint32(L.CheckInt(2))
	addrs, err := it.prg.Loada(it.ctx, s, addr)
	if err != nil {
		L.RaiseError("%v", err)
	}
	return pushAddrs(L, addrs)
}

func (it *Interpreter) luaUnload(L *lua.LState) int {
	addrs := checkAddrs(L, 1, 2)
	if err := it.prg.Unload(addrs); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

func (it *Interpreter) luaUnloadAll(L *lua.LState) int {
	a1, a2 := it.prg.UnloadAll()
	L.Push(lua.LNumber(a1))
	L.Push(lua.LNumber(a2))
	return 2
}

func (it *Interpreter) luaRun(L *lua.LState) int  { return it.runVerb(L, it.prg.Run) }
func (it *Interpreter) luaRunc(L *lua.LState) int { return it.runVerb(L, it.prg.Runc) }

func (it *Interpreter) runVerb(L *lua.LState, verb func(context.Context, []program.Addrs) (program.RunResult, error)) int {
	pairs := checkAddrPairs(L, 1)
	res, err := verb(it.ctx, pairs)
	if err != nil {
		L.RaiseError("%v", err)
	}
	L.Push(lua.LNumber(res.TestsRan))
	L.Push(lua.LBool(res.Failed))
	L.Push(lua.LNumber(res.Cycle))
	return 3
}

func (it *Interpreter) luaGetPinNames(L *lua.LState) int {
	names := it.prg.GetPinNames()
	t := L.NewTable()
	for i, n := range names {
		t.RawSetInt(i+1, lua.LString(n))
	}
	L.Push(t)
	return 1
}

func (it *Interpreter) luaGetFailPins(L *lua.LState) int {
	pins := it.prg.GetFailPins()
	t := L.NewTable()
	for i, f := range pins {
		t.RawSetInt(i+1, lua.LBool(f))
	}
	L.Push(t)
	return 1
}

func (it *Interpreter) luaExit(L *lua.LState) int {
	code := 0
	if L.GetTop() >= 1 {
		code = L.CheckInt(1)
	}
	panic(exitRequest{code: code})
}

const stimUserDataType = "gcore.stim"

func newStimUserData(L *lua.LState, s *stim.Stimulus) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = s
	mt := L.NewTypeMetatable(stimUserDataType)
	ud.Metatable = mt
	return ud
}

func checkStim(L *lua.LState, n int) *stim.Stimulus {
	ud, ok := L.CheckUserData(n).Value.(*stim.Stimulus)
	if !ok {
		L.ArgError(n, "expected a stim handle")
	}
	return ud
}

func pushAddrs(L *lua.LState, addrs program.Addrs) int {
	if addrs.A1 != nil {
		L.Push(lua.LNumber(*addrs.A1))
	} else {
		L.Push(lua.LNil)
	}
	if addrs.A2 != nil {
		L.Push(lua.LNumber(*addrs.A2))
	} else {
		L.Push(lua.LNil)
	}
	return 2
}

// checkAddrs reads two optional address arguments (nil meaning "no
// address for that engine") at stack positions a1Pos/a2Pos.
func checkAddrs(L *lua.LState, a1Pos, a2Pos int) program.Addrs {
	var out program.Addrs
	if v := L.Get(a1Pos); v != lua.LNil {
		a1 := uint32(lua.LVAsNumber(v))
		out.A1 = &a1
	}
	if v := L.Get(a2Pos); v != lua.LNil {
		a2 := uint32(lua.LVAsNumber(v))
		out.A2 = &a2
	}
	return out
}

// checkAddrPairs reads a Lua array of {a1, a2} two-element tables (each
// slot nilable) from stack position pos, for run/runc's variadic address
// pair argument.
func checkAddrPairs(L *lua.LState, pos int) []program.Addrs {
	tbl := L.CheckTable(pos)
	var out []program.Addrs
	tbl.ForEach(func(_ lua.LValue, v lua.LValue) {
		pair, ok := v.(*lua.LTable)
		if !ok {
			L.ArgError(pos, "expected an array of {a1, a2} address pairs")
		}
		var addrs program.Addrs
		if a1 := pair.RawGetInt(1); a1 != lua.LNil {
			v := uint32(lua.LVAsNumber(a1))
			addrs.A1 = &v
		}
		if a2 := pair.RawGetInt(2); a2 != lua.LNil {
			v := uint32(lua.LVAsNumber(a2))
			addrs.A2 = &v
		}
		out = append(out, addrs)
	})
	return out
}
