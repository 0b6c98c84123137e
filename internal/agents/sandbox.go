package agents

import (
	lua "github.com/yuin/gopher-lua"
)

// newSandboxedVM creates a gopher-lua VM with restricted standard libraries
// and the voyage.* API table injected.
func newSandboxedVM(inv *invocationCtx, engine *Engine) *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       128,
		RegistrySize:        2048,
		RegistryMaxSize:     engine.registryMaxSize(),
		RegistryGrowStep:    32,
		MinimizeStackMemory: true,
	})
	L.SetContext(inv.ctx)

	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.OsLibName, lua.OpenOs},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	pruneOS(L)

	for _, name := range []string{"dofile", "loadfile", "require", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}

	injectVoyageTable(L, inv, engine)
	return L
}

// pruneOS removes all os functions except time, date, and clock.
func pruneOS(L *lua.LState) {
	osTbl, ok := L.GetGlobal("os").(*lua.LTable)
	if !ok {
		return
	}

	keep := map[string]bool{"time": true, "date": true, "clock": true}
	var toRemove []string
	osTbl.ForEach(func(key, _ lua.LValue) {
		if ks, ok := key.(lua.LString); ok && !keep[string(ks)] {
			toRemove = append(toRemove, string(ks))
		}
	})
	for _, k := range toRemove {
		osTbl.RawSetString(k, lua.LNil)
	}
}

// injectVoyageTable builds the voyage.* API seen by agent scripts.
func injectVoyageTable(L *lua.LState, inv *invocationCtx, engine *Engine) {
	voyage := L.NewTable()

	// voyage.session (who spoke, where)
	sess := L.NewTable()
	sess.RawSetString("key", lua.LString(inv.req.Session))
	sess.RawSetString("role", lua.LString(inv.req.Role))
	sess.RawSetString("client_id", lua.LString(inv.req.ClientID))
	voyage.RawSetString("session", sess)

	// voyage.agent (this script)
	self := L.NewTable()
	self.RawSetString("name", lua.LString(inv.agent.name))
	self.RawSetString("label", lua.LString(inv.agent.label))
	voyage.RawSetString("agent", self)

	voyage.RawSetString("catalog", L.NewFunction(catalogFn(engine)))
	voyage.RawSetString("agents", L.NewFunction(agentsFn(engine)))

	jsonTbl := L.NewTable()
	jsonTbl.RawSetString("decode", L.NewFunction(jsonDecodeFn))
	jsonTbl.RawSetString("encode", L.NewFunction(jsonEncodeFn))
	voyage.RawSetString("json", jsonTbl)

	logTbl := L.NewTable()
	logTbl.RawSetString("info", L.NewFunction(logFn(inv, "info")))
	logTbl.RawSetString("warn", L.NewFunction(logFn(inv, "warn")))
	logTbl.RawSetString("error", L.NewFunction(logFn(inv, "error")))
	voyage.RawSetString("log", logTbl)

	if engine.opts.HTTPEnabled {
		httpTbl := L.NewTable()
		httpTbl.RawSetString("post", L.NewFunction(httpPostFn(inv)))
		voyage.RawSetString("http", httpTbl)
	}

	L.SetGlobal("voyage", voyage)
}

// requestTable is the argument passed to respond(msg).
func requestTable(L *lua.LState, req Request) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("content", lua.LString(req.Content))
	t.RawSetString("role", lua.LString(req.Role))
	t.RawSetString("session", lua.LString(req.Session))
	t.RawSetString("client_id", lua.LString(req.ClientID))
	t.RawSetString("voyage_type", lua.LString(req.VoyageType))
	t.RawSetString("inventory", lua.LString(req.Inventory))
	return t
}
