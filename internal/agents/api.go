package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// invocationCtx holds per-invocation state shared by API functions.
type invocationCtx struct {
	ctx   context.Context
	agent *scriptMeta
	req   Request

	httpCount int // requests made this invocation
}

const (
	maxHTTPPerInvocation = 3
	maxHTTPResponseBytes = 1 * 1024 * 1024 // 1MB
)

// ── Catalog API ──

// catalogFn returns voyage.catalog(voyage_type) -> items, err.
func catalogFn(engine *Engine) lua.LGFunction {
	return func(L *lua.LState) int {
		kind := strings.ToLower(strings.TrimSpace(L.CheckString(1)))
		if engine.catalog == nil {
			L.Push(L.NewTable())
			L.Push(lua.LNil)
			return 2
		}
		rows, err := engine.catalog.CatalogItems(kind)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		tbl := L.NewTable()
		for i, row := range rows {
			item := L.NewTable()
			item.RawSetString("name", lua.LString(row.Name))
			item.RawSetString("description", lua.LString(row.Description))
			item.RawSetString("price", lua.LNumber(row.Price))
			item.RawSetString("category", lua.LString(row.Category))
			tbl.RawSetInt(i+1, item)
		}
		L.Push(tbl)
		L.Push(lua.LNil)
		return 2
	}
}

// agentsFn returns voyage.agents() -> list of labels in reply order.
func agentsFn(engine *Engine) lua.LGFunction {
	return func(L *lua.LState) int {
		tbl := L.NewTable()
		for i, a := range engine.Agents() {
			tbl.RawSetInt(i+1, lua.LString(a.Label))
		}
		L.Push(tbl)
		return 1
	}
}

// ── HTTP API ──

// httpPostFn returns voyage.http.post(url, body[, content_type]) -> body, err.
func httpPostFn(inv *invocationCtx) lua.LGFunction {
	return func(L *lua.LState) int {
		url := L.CheckString(1)
		payload := L.OptString(2, "")
		contentType := L.OptString(3, "application/json")
		body, err := doHTTPPost(inv, url, payload, contentType)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LString(body))
		L.Push(lua.LNil)
		return 2
	}
}

func doHTTPPost(inv *invocationCtx, rawURL, payload, contentType string) (string, error) {
	inv.httpCount++
	if inv.httpCount > maxHTTPPerInvocation {
		return "", fmt.Errorf("http request limit (%d) exceeded", maxHTTPPerInvocation)
	}

	req, err := http.NewRequestWithContext(inv.ctx, http.MethodPost, rawURL, strings.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	client := &http.Client{
		Timeout:   10 * time.Second,
		Transport: ssrfSafeTransport(),
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPResponseBytes))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("http status %d", resp.StatusCode)
	}
	return string(data), nil
}

// ssrfSafeTransport resolves DNS in the dialer and validates every address
// before connecting to the first one.
func ssrfSafeTransport() *http.Transport {
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, fmt.Errorf("invalid address: %w", err)
			}

			ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, fmt.Errorf("dns lookup failed: %w", err)
			}
			if len(ips) == 0 {
				return nil, fmt.Errorf("no addresses for host %s", host)
			}
			for _, ipAddr := range ips {
				if err := checkIP(ipAddr.IP); err != nil {
					return nil, err
				}
			}

			var dialer net.Dialer
			pinnedAddr := net.JoinHostPort(ips[0].IP.String(), port)
			return dialer.DialContext(ctx, network, pinnedAddr)
		},
	}
}

// checkIP rejects loopback, private, and link-local addresses.
func checkIP(ip net.IP) error {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return fmt.Errorf("request to private/loopback address blocked")
	}
	return nil
}

// ── JSON API ──

func jsonDecodeFn(L *lua.LState) int {
	str := L.CheckString(1)
	var v any
	if err := json.Unmarshal([]byte(str), &v); err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(goToLua(L, v))
	L.Push(lua.LNil)
	return 2
}

func jsonEncodeFn(L *lua.LState) int {
	v := luaToGo(L.CheckAny(1))
	data, err := json.Marshal(v)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LString(string(data)))
	L.Push(lua.LNil)
	return 2
}

func goToLua(L *lua.LState, v any) lua.LValue {
	if v == nil {
		return lua.LNil
	}
	switch val := v.(type) {
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(float64(val))
	case int64:
		return lua.LNumber(float64(val))
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, goToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			tbl.RawSetString(k, goToLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

func luaToGo(lv lua.LValue) any {
	switch v := lv.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if maxN := v.MaxN(); maxN > 0 {
			arr := make([]any, 0, maxN)
			for i := 1; i <= maxN; i++ {
				arr = append(arr, luaToGo(v.RawGetInt(i)))
			}
			return arr
		}
		m := make(map[string]any)
		v.ForEach(func(key, val lua.LValue) {
			m[key.String()] = luaToGo(val)
		})
		return m
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ── Log API ──

func logFn(inv *invocationCtx, level string) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)
		kv := []any{"agent", inv.agent.name, "session", inv.req.Session}
		switch level {
		case "warn":
			log.Warnw(msg, kv...)
		case "error":
			log.Errorw(msg, kv...)
		default:
			log.Infow(msg, kv...)
		}
		return 0
	}
}
