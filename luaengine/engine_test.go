package luaengine

import (
	"context"
	stderrors "errors"
	"reflect"
	"runtime"
	"strconv"
	"testing"
	"time"
	"weak"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/script-bridge/async"
	"github.com/wippyai/script-bridge/bridge"
	"github.com/wippyai/script-bridge/config"
	"github.com/wippyai/script-bridge/errors"
	"github.com/wippyai/script-bridge/handle"
	"github.com/wippyai/script-bridge/wire"
)

type Vec3 struct {
	X, Y, Z float32
}

type Point struct {
	X, Y float64
}

type Color int

const (
	Red Color = iota
	Green
	Blue
)

var maxLevel = 10

type Player struct {
	Name  string
	Score int
	level int
	pos   Vec3
}

func NewPlayer(name string) *Player { return &Player{Name: name} }

func (p *Player) Level() int             { return p.level }
func (p *Player) SetLevel(v int)         { p.level = v }
func (p *Player) Pos() Vec3              { return p.pos }
func (p *Player) SetPos(v Vec3)          { p.pos = v }
func (p *Player) Self() *Player          { return p }
func (p *Player) Greet(s string) string  { return "hi " + s + " from " + p.Name }
func (p *Player) Boom() error            { return stderrors.New("exploded") }
func (p *Player) Move(to Point) Point    { return Point{X: to.X + 1, Y: to.Y + 1} }
func (p *Player) Tint(c Color) string    { return strconv.Itoa(int(c)) }
func (p *Player) Later(n int) async.Awaitable {
	return async.Resolved(n * 2)
}

func (p *Player) Fail(reason string) async.Awaitable {
	return async.Rejected[int](stderrors.New(reason))
}

func (p *Player) Each(fn func(int)) {
	for i := 1; i <= 3; i++ {
		fn(i)
	}
}

func (p *Player) OnHit(fn func(*Player)) { fn(p) }

func (p *Player) Pick(fn func(a, b *Player) *Player) string {
	return fn(p, &Player{Name: "other"}).Name
}

type Counter struct {
	n int
}

func (c *Counter) Next() int { c.n++; return c.n }

type fixture struct {
	b      *bridge.Bridge
	e      *Engine
	player *Player
	ctx    context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := bridge.NewWithDefaults()
	t.Cleanup(func() { b.Close() })

	mod := b.Module("game")
	pt, err := mod.Add(reflect.TypeFor[*Player]())
	require.NoError(t, err)
	require.NoError(t, pt.Ctor(NewPlayer))
	require.NoError(t, pt.Static("Default", func() *Player { return &Player{Name: "default"} }))
	require.NoError(t, pt.StaticField("MaxLevel", &maxLevel))

	_, err = mod.Add(reflect.TypeFor[Point]())
	require.NoError(t, err)

	ct, err := mod.Add(reflect.TypeFor[Color]())
	require.NoError(t, err)
	require.NoError(t, ct.Enum("Red", Red))
	require.NoError(t, ct.Enum("Green", Green))
	require.NoError(t, ct.Enum("Blue", Blue))

	e, err := NewFromBridge(b)
	require.NoError(t, err)
	t.Cleanup(e.Close)

	p := &Player{Name: "x", Score: 3, pos: Vec3{1, 2, 3}}
	require.NoError(t, e.SetGlobal("p", p))

	return &fixture{b: b, e: e, player: p, ctx: context.Background()}
}

func (f *fixture) eval(t *testing.T, src string) []string {
	t.Helper()
	out, err := f.e.Eval(f.ctx, src)
	require.NoError(t, err, src)
	return out
}

func TestEngine_ObjectMembers(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		src  string
		want []string
	}{
		{"p.name", []string{"x"}},
		{"p.Name", []string{"x"}},
		{"p.score", []string{"3"}},
		{"p:greet('bob')", []string{"hi bob from x"}},
		{"p:Greet('ann')", []string{"hi ann from x"}},
		{"p:tint('Blue')", []string{"2"}},
		{"p:self() == p", []string{"true"}},
		{"tostring(p) == 'game.Player#' .. host.handle(p)", []string{"true"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.eval(t, tt.src), tt.src)
	}
}

func TestEngine_ColonCalls(t *testing.T) {
	f := newFixture(t)
	c := &Counter{}
	require.NoError(t, f.e.SetGlobal("c", c))

	assert.Equal(t, []string{"1", "2"}, f.eval(t, "c:next(), c:next()"))
	assert.Equal(t, 2, c.n)

	assert.Equal(t, []string{"function"}, f.eval(t, "type(c.next)"))
	assert.Equal(t, 2, c.n)

	require.NoError(t, f.e.DoString(f.ctx, "p.level = 4"))
	assert.Equal(t, []string{"4"}, f.eval(t, "p:level()"))
	assert.Equal(t, []string{"true"}, f.eval(t, "p:self() == p"))
}

func TestEngine_TypedCallbacks(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.e.DoString(f.ctx, `p:onHit(function(pl) pl.score = pl.score + 5 end)`))
	assert.Equal(t, 8, f.player.Score)

	assert.Equal(t, []string{"other"}, f.eval(t, "p:pick(function(a, b) return b end)"))
	assert.Equal(t, []string{"x"}, f.eval(t, "p:pick(function(a, b) return a end)"))
}

func TestEngine_TransientCallbackSlots(t *testing.T) {
	cfg := config.Default()
	cfg.Callbacks.MaxSlots = 16
	b := bridge.New(bridge.Options{Config: cfg})
	t.Cleanup(func() { b.Close() })
	e, err := NewFromBridge(b)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	ctx := context.Background()
	require.NoError(t, e.SetGlobal("p", &Player{Name: "x"}))

	require.NoError(t, e.DoString(ctx, `for i = 1, 200 do p:each(function(n) end) end`))

	out, err := e.Eval(ctx, "host.callback(function() end)")
	require.NoError(t, err)
	pinned, err := strconv.Atoi(out[0])
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		runtime.GC()
		e.Tick()
		return b.Callbacks.Len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, ok := b.Callbacks.Get(int32(pinned))
	assert.True(t, ok, "pinned slot survives sweeps")
	out, err = e.Eval(ctx, "host.uncallback("+out[0]+")")
	require.NoError(t, err)
	assert.Equal(t, []string{"true"}, out)
	assert.Equal(t, 0, b.Callbacks.Len())
}

func TestEngine_Assignment(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.e.DoString(f.ctx, `p.level = 7; p.score = 11; p.name = "y"`))
	assert.Equal(t, 7, f.player.level)
	assert.Equal(t, 11, f.player.Score)
	assert.Equal(t, "y", f.player.Name)

	err := f.e.DoString(f.ctx, `p.ghost = 1`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestEngine_Errors(t *testing.T) {
	f := newFixture(t)

	out := f.eval(t, "pcall(function() return p:boom() end)")
	require.Len(t, out, 2)
	assert.Equal(t, "false", out[0])
	assert.Contains(t, out[1], "exploded")

	err := f.e.DoString(f.ctx, "p:noSuchMethod()")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.Equal(t, errors.CodeInvocationFault, errors.Code(err))

	out = f.eval(t, "host.invoke(p, 'noSuchMethod')")
	require.Len(t, out, 3)
	assert.Equal(t, "nil", out[0])
	assert.Contains(t, out[1], "not found")
	assert.Equal(t, "1", out[2])

	err = f.e.DoString(f.ctx, "local = ")
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidRequest, errors.Code(err))

	err = f.e.DoString(f.ctx, "local m = p.greet; m('x')")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "':'")
}

func TestEngine_Types(t *testing.T) {
	f := newFixture(t)

	out := f.eval(t, `(function()
		local P = host.type("game.Player")
		local q = P("zed")
		return q.name, P.maxLevel, P.Default().name, P:Default().name,
			host.type("game.Color").Green, host.exists("game.Player"),
			host.isEnum("game.Color"), host.type("game.Ghost"), tostring(P)
	end)()`)
	assert.Equal(t, []string{"zed", "10", "default", "default", "1", "true", "true", "nil", "game.Player"}, out)

	require.NoError(t, f.e.DoString(f.ctx, `host.type("game.Player").maxLevel = 12`))
	assert.Equal(t, 12, maxLevel)
	maxLevel = 10

	out = f.eval(t, `host.invoke("game.Player", "Default").name`)
	assert.Equal(t, []string{"default"}, out)
}

func TestEngine_Records(t *testing.T) {
	f := newFixture(t)

	out := f.eval(t, `(function() local r = p:move({x = 1, y = 2}); return r.x, r.y end)()`)
	assert.Equal(t, []string{"2", "3"}, out)

	out = f.eval(t, "tostring(p:pos())")
	assert.Equal(t, []string{"(1, 2, 3)"}, out)

	require.NoError(t, f.e.DoString(f.ctx, `local v = p:pos(); v.x = 5; p.pos = v`))
	assert.Equal(t, Vec3{5, 2, 3}, f.player.pos)
}

func TestEngine_Callbacks(t *testing.T) {
	f := newFixture(t)

	out := f.eval(t, `(function()
		local sum = 0
		p:each(function(v) sum = sum + v end)
		return sum
	end)()`)
	assert.Equal(t, []string{"6"}, out)

	out = f.eval(t, `(function()
		local fn = function() end
		local a, b = host.callback(fn), host.callback(fn)
		return a == b, host.uncallback(a), host.uncallback(a)
	end)()`)
	assert.Equal(t, []string{"true", "true", "false"}, out)
}

func TestEngine_Promises(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.e.DoString(f.ctx, `
		pr = p:later(21)
		pr:next(function(v) got = v end)
		p:fail("boom"):catch(function(msg) reason = msg end)
		status = pr:status()
	`))
	assert.Equal(t, []string{"pending", "nil"}, f.eval(t, "status, got"))

	f.b.Async.Wait()
	assert.Equal(t, 2, f.e.Tick())
	assert.Equal(t, []string{"42", "boom", "fulfilled"}, f.eval(t, "got, reason, pr:status()"))

	// Settled promises run new handlers immediately.
	assert.Equal(t, []string{"42"}, f.eval(t, "(function() local late; pr:next(function(v) late = v end); return late end)()"))
	assert.Equal(t, 0, f.e.Tick())
}

func TestEngine_FastCalls(t *testing.T) {
	f := newFixture(t)

	_, err := f.b.Fast.BindFuncNamed("add", func(a, b float64) float64 { return a + b })
	require.NoError(t, err)

	assert.Equal(t, []string{"7"}, f.eval(t, `__zaInvoke2(host.binding("add"), 3, 4)`))
	out := f.eval(t, `__zaInvoke0(999)`)
	require.Len(t, out, 2)
	assert.Equal(t, "nil", out[0])
	assert.Equal(t, []string{"nil"}, f.eval(t, `host.binding("missing")`))
	assert.Equal(t, []string{"function"}, f.eval(t, `type(__zaInvoke6)`))
	assert.Equal(t, []string{"nil"}, f.eval(t, `__zaInvoke7`))
}

func TestEngine_Finalization(t *testing.T) {
	f := newFixture(t)

	out := f.eval(t, "host.handle(p)")
	n, err := strconv.Atoi(out[0])
	require.NoError(t, err)
	h := handle.Handle(n)

	// A live proxy absorbs a stale collection signal.
	f.e.collector.add(h)
	f.e.Tick()
	_, ok := f.b.Resolve(h)
	require.True(t, ok)

	f.e.proxies[h] = weak.Pointer[lua.LUserData]{}
	f.e.collector.add(h)
	f.e.Tick()
	_, ok = f.b.Resolve(h)
	assert.False(t, ok)
}

func TestEngine_Release(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, []string{"true", "false"}, f.eval(t, "host.release(p), host.release(p)"))
	err := f.e.DoString(f.ctx, "return p.name")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestEngine_Console(t *testing.T) {
	f := newFixture(t)

	type line struct {
		level zapcore.Level
		msg   string
	}
	var lines []line
	f.e.SetPrinter(func(level zapcore.Level, msg string) {
		lines = append(lines, line{level, msg})
	})

	require.NoError(t, f.e.DoString(f.ctx, `console.warn("a", 1); print(p.name)`))
	assert.Equal(t, []line{{zapcore.WarnLevel, "a\t1"}, {zapcore.InfoLevel, "x"}}, lines)
}

func TestEngine_Sandbox(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{"nil", "nil", "function"}, f.eval(t, "os, io, type(string.format)"))

	b := bridge.NewWithDefaults()
	defer b.Close()
	_, err := New(b, config.Script{Libraries: []string{"base", "sockets"}})
	require.Error(t, err)

	e, err := New(b, config.Script{Libraries: []string{"os", "package", "base"}})
	require.NoError(t, err)
	defer e.Close()
	out, err := e.Eval(context.Background(), "type(os.time)")
	require.NoError(t, err)
	assert.Equal(t, []string{"function"}, out)
}

func TestEngine_Call(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.e.DoString(f.ctx, `
		function double(x) return x * 2 end
		function tag(r) return r.__type, r.a end
	`))
	out, err := f.e.Call(f.ctx, "double", wire.Number(21))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(42), out[0].Int())

	rec := wire.NewRecord("game.Point")
	rec.Set("a", wire.String("b"))
	out, err = f.e.Call(f.ctx, "tag", wire.RecordValue(rec))
	require.NoError(t, err)
	assert.Equal(t, "game.Point", out[0].Str())
	assert.Equal(t, "b", out[1].Str())

	_, err = f.e.Call(f.ctx, "missing")
	assert.Equal(t, errors.CodeNotFound, errors.Code(err))
}

func TestEngine_TableConversion(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		src  string
		kind wire.Kind
	}{
		{"{1, 2, 3}", wire.KindArray},
		{"{}", wire.KindArray},
		{"{a = 1}", wire.KindRecord},
		{"{__type = 'game.Point', x = 1}", wire.KindRecord},
		{"p:pos()", wire.KindVector3},
		{"p", wire.KindObjectHandle},
		{"function() end", wire.KindCallback},
	}
	for _, tt := range tests {
		fn, err := f.e.L.LoadString("return " + tt.src)
		require.NoError(t, err)
		vals, err := f.e.run(f.ctx, fn)
		require.NoError(t, err)
		v, err := f.e.toWire(vals[0])
		require.NoError(t, err, tt.src)
		assert.Equal(t, tt.kind, v.Kind(), tt.src)
	}

	fn, err := f.e.L.LoadString("local t = {1, a = 2}; return t")
	require.NoError(t, err)
	vals, err := f.e.run(f.ctx, fn)
	require.NoError(t, err)
	_, err = f.e.toWire(vals[0])
	assert.Error(t, err)
}

func TestEngine_Closed(t *testing.T) {
	b := bridge.NewWithDefaults()
	defer b.Close()
	e, err := NewFromBridge(b)
	require.NoError(t, err)
	e.Close()
	e.Close()
	assert.Error(t, e.DoString(context.Background(), "return 1"))
	assert.Equal(t, 0, e.Tick())
}
