// Package agents runs the automated crew. Each agent is a Lua script with a
// respond(msg) entry point; replies are published back into the session.
package agents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/petervdpas/voyage/internal/storage"

	"github.com/fsnotify/fsnotify"
	logging "github.com/ipfs/go-log/v2"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var log = logging.Logger("voyage/agents")

var tracer = otel.Tracer("github.com/petervdpas/voyage/internal/agents")

const maxReplyBytes = 4096

// Catalog is the read side of the outfitter catalog.
type Catalog interface {
	CatalogItems(voyageType string) ([]storage.CatalogRow, error)
}

// Request is one human message handed to the crew.
type Request struct {
	Session    string
	ClientID   string
	Role       string
	Content    string
	VoyageType string
	Inventory  string
}

// Reply is one agent's answer.
type Reply struct {
	Agent   string // script name
	Label   string // source label shown to people
	Content string
}

// Info describes a loaded agent.
type Info struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Order       int    `json:"order"`
	Voice       string `json:"voice,omitempty"`
}

type scriptMeta struct {
	proto       *lua.FunctionProto
	name        string
	label       string
	description string
	order       int
	voice       string
	rateLimit   int // -1 = use default, 0 = unlimited, N>0 = custom per-session-per-minute
}

// Options configures an Engine.
type Options struct {
	ScriptDir           string
	InstallDefaults     bool
	Timeout             time.Duration
	MaxMemoryMB         int
	RateLimitPerSession int
	RateLimitGlobal     int
	HTTPEnabled         bool
}

// Engine loads agent scripts, hot reloads them, and runs them in
// sandboxed VMs.
type Engine struct {
	mu      sync.RWMutex
	scripts map[string]*scriptMeta
	opts    Options
	catalog Catalog
	watcher *fsnotify.Watcher
	limiter *rateLimiter
	closed  chan struct{}
	once    sync.Once
}

// NewEngine loads every *.lua in opts.ScriptDir and starts watching it.
func NewEngine(opts Options, catalog Catalog) (*Engine, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if err := os.MkdirAll(opts.ScriptDir, 0o755); err != nil {
		return nil, fmt.Errorf("create dir %s: %w", opts.ScriptDir, err)
	}
	if opts.InstallDefaults {
		n, err := InstallDefaults(opts.ScriptDir)
		if err != nil {
			return nil, fmt.Errorf("install default agents: %w", err)
		}
		if n > 0 {
			log.Infof("installed %d default agent(s) into %s", n, opts.ScriptDir)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	e := &Engine{
		scripts: make(map[string]*scriptMeta),
		opts:    opts,
		catalog: catalog,
		watcher: watcher,
		limiter: newRateLimiter(opts.RateLimitPerSession, opts.RateLimitGlobal),
		closed:  make(chan struct{}),
	}

	e.scanDir(opts.ScriptDir)

	if err := watcher.Add(opts.ScriptDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch script dir: %w", err)
	}

	go e.watchLoop()

	log.Infof("engine started, %d agent(s) loaded from %s", len(e.scripts), opts.ScriptDir)
	return e, nil
}

func (e *Engine) scanDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lua") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".lua")
		if err := e.compileScript(name, filepath.Join(dir, entry.Name())); err != nil {
			log.Warnf("failed to compile %s: %v", entry.Name(), err)
		}
	}
}

func (e *Engine) compileScript(name, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	meta, err := compileSource(name, string(data))
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.scripts[name] = meta
	e.mu.Unlock()

	log.Infof("compiled agent %q as %q (order=%d)", name, meta.label, meta.order)
	return nil
}

func compileSource(name, source string) (*scriptMeta, error) {
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	if !detectEntryPoint(source, "respond") {
		return nil, fmt.Errorf("script has no respond() function")
	}

	tags := extractTags(source)
	meta := &scriptMeta{
		proto:       proto,
		name:        name,
		label:       tags["agent"],
		description: extractDescription(source),
		order:       100,
		voice:       tags["voice"],
		rateLimit:   -1,
	}
	if meta.label == "" {
		meta.label = labelFromName(name)
	}
	if n, err := strconv.Atoi(tags["order"]); err == nil {
		meta.order = n
	}
	if n, err := strconv.Atoi(tags["rate_limit"]); err == nil && n >= 0 {
		meta.rateLimit = n
	}
	return meta, nil
}

// extractDescription returns the first --- comment that is not a tag.
func extractDescription(source string) string {
	for _, line := range strings.Split(source, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "---") {
			desc := strings.TrimSpace(strings.TrimPrefix(line, "---"))
			if !strings.HasPrefix(desc, "@") {
				return desc
			}
			continue
		}
		break
	}
	return ""
}

var tagRe = regexp.MustCompile(`^---\s*@(\w+)\s+(.+)$`)

// extractTags collects "--- @name value" lines from the leading comment block.
func extractTags(source string) map[string]string {
	tags := map[string]string{}
	for _, line := range strings.Split(source, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "---") {
			break
		}
		if m := tagRe.FindStringSubmatch(line); m != nil {
			tags[m[1]] = strings.TrimSpace(m[2])
		}
	}
	return tags
}

// detectEntryPoint checks if a script defines a given function name.
func detectEntryPoint(source, funcName string) bool {
	pattern := "function " + funcName + "("
	patternAlt := "function " + funcName + " ("
	return strings.Contains(source, pattern) || strings.Contains(source, patternAlt)
}

// labelFromName turns "safety_officer" into "Safety Officer".
func labelFromName(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool { return r == '_' || r == '-' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func (e *Engine) removeScript(name string) {
	e.mu.Lock()
	delete(e.scripts, name)
	e.mu.Unlock()
	log.Infof("removed agent %q", name)
}

func (e *Engine) watchLoop() {
	for {
		select {
		case <-e.closed:
			return
		case event, ok := <-e.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".lua") {
				continue
			}
			name := strings.TrimSuffix(filepath.Base(event.Name), ".lua")

			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				if err := e.compileScript(name, event.Name); err != nil {
					log.Warnf("hot reload failed for %s: %v", name, err)
				}
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				e.removeScript(name)
			}
		case err, ok := <-e.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("watcher error: %v", err)
		}
	}
}

// Agents lists loaded agents in reply order.
func (e *Engine) Agents() []Info {
	metas := e.ordered()
	out := make([]Info, 0, len(metas))
	for _, m := range metas {
		out = append(out, Info{Name: m.name, Label: m.label, Description: m.description, Order: m.order, Voice: m.voice})
	}
	return out
}

func (e *Engine) ordered() []*scriptMeta {
	e.mu.RLock()
	metas := make([]*scriptMeta, 0, len(e.scripts))
	for _, m := range e.scripts {
		metas = append(metas, m)
	}
	e.mu.RUnlock()

	sort.Slice(metas, func(i, j int) bool {
		if metas[i].order != metas[j].order {
			return metas[i].order < metas[j].order
		}
		return metas[i].name < metas[j].name
	})
	return metas
}

// Respond runs every agent against req in order and calls emit for each
// non-empty reply as soon as that agent finishes. A failing agent is
// logged and skipped.
func (e *Engine) Respond(ctx context.Context, req Request, emit func(Reply)) {
	for _, meta := range e.ordered() {
		if ctx.Err() != nil {
			return
		}
		if !e.limiter.AllowFunc(req.Session, meta.name, meta.rateLimit) {
			log.Warnf("rate limit hit for %s in session %s", meta.name, req.Session)
			continue
		}

		text, err := e.run(ctx, meta, req)
		if err != nil {
			log.Warnf("agent %s failed: %v", meta.name, err)
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		emit(Reply{Agent: meta.name, Label: meta.label, Content: truncateReply(text, maxReplyBytes)})
	}
}

// truncateReply cuts text to at most max bytes on a rune boundary.
func truncateReply(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "... (truncated)"
}

func (e *Engine) run(ctx context.Context, meta *scriptMeta, req Request) (string, error) {
	ctx, span := tracer.Start(ctx, "agents.run")
	defer span.End()
	span.SetAttributes(attribute.String("agent.name", meta.name), attribute.String("voyage.session", req.Session))

	execCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	inv := &invocationCtx{
		ctx:   execCtx,
		agent: meta,
		req:   req,
	}
	text, err := e.executeScript(execCtx, inv, meta.proto)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "agent run")
	}
	return text, err
}

func (e *Engine) executeScript(ctx context.Context, inv *invocationCtx, proto *lua.FunctionProto) (string, error) {
	L := newSandboxedVM(inv, e)

	var closeOnce sync.Once
	closeL := func() { closeOnce.Do(func() { L.Close() }) }
	defer closeL()

	lfunc := L.NewFunctionFromProto(proto)
	L.Push(lfunc)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		return "", fmt.Errorf("load script: %w", err)
	}

	respondFn := L.GetGlobal("respond")
	if respondFn == lua.LNil {
		return "", fmt.Errorf("script has no respond() function")
	}

	guard := newMemGuard(e.opts.MaxMemoryMB, processHeap)
	stopGuard := guard.watch(ctx, inv.agent.name, closeL)

	// Run in goroutine so we can kill on timeout
	type result struct {
		val string
		err error
	}
	ch := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("script panic: %v", r)}
			}
		}()

		if err := L.CallByParam(lua.P{
			Fn:      respondFn,
			NRet:    1,
			Protect: true,
		}, requestTable(L, inv.req)); err != nil {
			ch <- result{err: err}
			return
		}
		ret := L.Get(-1)
		L.Pop(1)
		if ret == lua.LNil {
			ch <- result{}
		} else {
			ch <- result{val: ret.String()}
		}
	}()

	select {
	case r := <-ch:
		stopGuard()
		if err := guard.err(); err != nil {
			return "", err
		}
		return r.val, r.err
	case <-ctx.Done():
		stopGuard()
		closeL()
		select {
		case <-ch:
		case <-time.After(500 * time.Millisecond):
		}
		if err := guard.err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("script timed out")
	}
}

// registryMaxSize derives a registry cap from the MaxMemoryMB config.
// Each registry slot is roughly 48 bytes.
func (e *Engine) registryMaxSize() int {
	if e.opts.MaxMemoryMB <= 0 {
		return 0
	}
	max := e.opts.MaxMemoryMB * 1024 * 1024 / 48
	if max < 5120 {
		max = 5120
	}
	return max
}

// Close stops the watcher.
func (e *Engine) Close() {
	e.once.Do(func() {
		close(e.closed)
		e.watcher.Close()
		log.Infof("engine stopped")
	})
}
