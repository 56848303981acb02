package reflection

import (
	"context"
	stderrors "errors"
	"reflect"
	"testing"

	"github.com/wippyai/script-bridge/errors"
	"github.com/wippyai/script-bridge/wire"
)

type Base struct {
	ID int
}

func (b *Base) Describe() string { return "base" }
func (b *Base) Tag() string { return "tag" }

type Node struct {
	Base
	Name  string
	Score float64
}

func (n *Node) Describe() string { return "node:" + n.Name }
func (n *Node) Rename(name string) { n.Name = name }
func (n *Node) Scale(f float64) float64 { return f * 2 }
func (n *Node) Title() string { return n.Name }
func (n *Node) SetTitle(s string) { n.Name = s }
func (n *Node) Fail() error { return stderrors.New("nope") }
func (n *Node) Pair() (int, string) { return 1, "a" }
func (n *Node) WithContext(ctx context.Context, x int) int { return x + 1 }

type Color int

const (
	Red Color = iota
	Green
)

type Labeled interface {
	Title() string
}

func newRegistry(t *testing.T) (*Registry, *Type) {
	t.Helper()
	reg := NewRegistry()
	desc, err := reg.Module("scene").Add(reflect.TypeFor[*Node]())
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	return reg, desc
}

func args(vals ...wire.Value) []ArgType {
	out := make([]ArgType, len(vals))
	for i, v := range vals {
		out[i] = ArgTypeOf(v, nil)
	}
	return out
}

func TestResolveType(t *testing.T) {
	reg, desc := newRegistry(t)

	tests := []struct {
		name string
		ok   bool
	}{
		{"scene.Node", true},
		{"Node", true},
		{"scene.node", true},
		{"node", true},
		{"scene.Missing", false},
		{"Missing", false},
	}

	for _, tt := range tests {
		got, ok := reg.ResolveType(tt.name)
		if ok != tt.ok {
			t.Errorf("ResolveType(%q) ok = %v, want %v", tt.name, ok, tt.ok)
			continue
		}
		if ok && got != desc {
			t.Errorf("ResolveType(%q) returned a different descriptor", tt.name)
		}
	}

	if desc.FullName != "scene.Node" || desc.Go != reflect.TypeFor[Node]() {
		t.Fatalf("unexpected descriptor %s %v", desc.FullName, desc.Go)
	}
}

func TestResolveType_MissInvalidatedByRegistration(t *testing.T) {
	reg := NewRegistry()
	if _, ok := reg.ResolveType("Base"); ok {
		t.Fatal("unexpected hit")
	}
	if _, err := reg.Module("scene").Add(reflect.TypeFor[Base]()); err != nil {
		t.Fatal(err)
	}
	if _, ok := reg.ResolveType("Base"); !ok {
		t.Fatal("cached miss survived registration")
	}
}

func TestAdd_Idempotent(t *testing.T) {
	reg, desc := newRegistry(t)
	again, err := reg.Module("other").Add(reflect.TypeFor[Node]())
	if err != nil {
		t.Fatal(err)
	}
	if again != desc {
		t.Fatal("second registration must return the existing descriptor")
	}
	if _, err := reg.Module("x").Add(reflect.TypeFor[struct{ A int }]()); err == nil {
		t.Fatal("unnamed types need an explicit name")
	}
}

func TestFindMethod_Native(t *testing.T) {
	reg, desc := newRegistry(t)
	n := &Node{Name: "a"}

	m, err := reg.FindMethod(desc, "Rename", false, args(wire.String("b")))
	if err != nil {
		t.Fatalf("FindMethod failed: %v", err)
	}
	if _, err := m.Call(context.Background(), reflect.ValueOf(n), []reflect.Value{reflect.ValueOf("b")}); err != nil {
		t.Fatal(err)
	}
	if n.Name != "b" {
		t.Fatalf("Name = %q, want b", n.Name)
	}

	// lower-case spelling resolves to the exported method
	if _, err := reg.FindMethod(desc, "rename", false, args(wire.String("c"))); err != nil {
		t.Fatalf("lower-case lookup failed: %v", err)
	}
}

func TestFindMethod_Hierarchy(t *testing.T) {
	reg, desc := newRegistry(t)
	n := &Node{Name: "x"}

	m, err := reg.FindMethod(desc, "Describe", false, nil)
	if err != nil {
		t.Fatal(err)
	}
	out, err := m.Call(context.Background(), reflect.ValueOf(n), nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.String() != "node:x" {
		t.Fatalf("Describe() = %q, want the shadowing method", out.String())
	}

	m, err = reg.FindMethod(desc, "Tag", false, nil)
	if err != nil {
		t.Fatal(err)
	}
	out, err = m.Call(context.Background(), reflect.ValueOf(n), nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.String() != "tag" {
		t.Fatalf("Tag() = %q", out.String())
	}
}

func TestFindMethod_Errors(t *testing.T) {
	reg, desc := newRegistry(t)

	_, err := reg.FindMethod(desc, "NoSuchMethod", false, nil)
	if errors.Code(err) != errors.CodeNotFound {
		t.Fatalf("missing method code = %d (%v)", errors.Code(err), err)
	}

	_, err = reg.FindMethod(desc, "Rename", false, args(wire.String("a"), wire.String("b")))
	if errors.Code(err) != errors.CodeNoOverload {
		t.Fatalf("arity mismatch code = %d (%v)", errors.Code(err), err)
	}

	_, err = reg.FindMethod(desc, "Rename", false, args(wire.Bool(true)))
	if errors.Code(err) != errors.CodeNoOverload {
		t.Fatalf("type mismatch code = %d (%v)", errors.Code(err), err)
	}

	// cached miss answers identically
	_, err2 := reg.FindMethod(desc, "NoSuchMethod", false, nil)
	if errors.Code(err2) != errors.CodeNotFound {
		t.Fatal("cached miss changed")
	}
}

func TestFindMethod_ExtensionOverloads(t *testing.T) {
	reg, desc := newRegistry(t)
	if err := desc.Extend("Scale", func(n *Node, a, b float64) float64 { return a * b }); err != nil {
		t.Fatal(err)
	}

	one, err := reg.FindMethod(desc, "Scale", false, args(wire.Float64(3)))
	if err != nil {
		t.Fatal(err)
	}
	if one.Extension() {
		t.Fatal("single-argument call should pick the native method")
	}

	two, err := reg.FindMethod(desc, "Scale", false, args(wire.Float64(3), wire.Int32(4)))
	if err != nil {
		t.Fatal(err)
	}
	out, err := two.Call(context.Background(), reflect.ValueOf(&Node{}),
		[]reflect.Value{reflect.ValueOf(3.0), reflect.ValueOf(4.0)})
	if err != nil {
		t.Fatal(err)
	}
	if out.Float() != 12 {
		t.Fatalf("Scale(3, 4) = %v", out.Float())
	}
}

func TestFindMethod_FirstCompatibleWins(t *testing.T) {
	reg, desc := newRegistry(t)
	desc.Extend("Pick", func(n *Node, v int) string { return "int" })
	desc.Extend("Pick", func(n *Node, v float64) string { return "float" })

	for i := 0; i < 3; i++ {
		m, err := reg.FindMethod(desc, "Pick", false, args(wire.Float64(1.5)))
		if err != nil {
			t.Fatal(err)
		}
		out, _ := m.Call(context.Background(), reflect.ValueOf(&Node{}), []reflect.Value{reflect.ValueOf(1)})
		if out.String() != "int" {
			t.Fatalf("iteration %d picked %q, want the first registered overload", i, out.String())
		}
	}
}

func TestFindMethod_ContextInjected(t *testing.T) {
	reg, desc := newRegistry(t)
	m, err := reg.FindMethod(desc, "WithContext", false, args(wire.Int32(1)))
	if err != nil {
		t.Fatal(err)
	}
	if len(m.In) != 1 {
		t.Fatalf("In = %v, context must not be matched", m.In)
	}
	out, err := m.Call(nil, reflect.ValueOf(&Node{}), []reflect.Value{reflect.ValueOf(1)})
	if err != nil {
		t.Fatal(err)
	}
	if out.Int() != 2 {
		t.Fatalf("WithContext(1) = %d", out.Int())
	}
}

func TestMethod_Results(t *testing.T) {
	reg, desc := newRegistry(t)
	n := reflect.ValueOf(&Node{})

	fail, _ := reg.FindMethod(desc, "Fail", false, nil)
	if _, err := fail.Call(context.Background(), n, nil); err == nil || err.Error() != "nope" {
		t.Fatalf("Fail() err = %v", err)
	}

	pair, _ := reg.FindMethod(desc, "Pair", false, nil)
	out, err := pair.Call(context.Background(), n, nil)
	if err != nil {
		t.Fatal(err)
	}
	multi, ok := out.Interface().([]any)
	if !ok || len(multi) != 2 || multi[0] != 1 || multi[1] != "a" {
		t.Fatalf("Pair() = %v", out.Interface())
	}
}

func TestFindMethod_Static(t *testing.T) {
	reg, desc := newRegistry(t)
	if err := desc.Static("Make", func(name string) *Node { return &Node{Name: name} }); err != nil {
		t.Fatal(err)
	}

	m, err := reg.FindMethod(desc, "Make", true, args(wire.String("s")))
	if err != nil {
		t.Fatal(err)
	}
	out, err := m.Call(context.Background(), reflect.Value{}, []reflect.Value{reflect.ValueOf("s")})
	if err != nil {
		t.Fatal(err)
	}
	if out.Interface().(*Node).Name != "s" {
		t.Fatal("static returned wrong node")
	}

	if _, err := reg.FindMethod(desc, "Rename", true, args(wire.String("s"))); errors.Code(err) != errors.CodeNotFound {
		t.Fatalf("instance methods must not resolve statically: %v", err)
	}
}

func TestFindProperty(t *testing.T) {
	reg, desc := newRegistry(t)
	n := &Node{Name: "a"}
	recv := reflect.ValueOf(n)

	p, err := reg.FindProperty(desc, "Title", false)
	if err != nil {
		t.Fatal(err)
	}
	if !p.CanRead() || !p.CanWrite() {
		t.Fatal("Title should be read-write")
	}
	if err := p.Set(context.Background(), recv, reflect.ValueOf("b")); err != nil {
		t.Fatal(err)
	}
	v, _ := p.Get(context.Background(), recv)
	if v.String() != "b" {
		t.Fatalf("Title = %q", v.String())
	}

	// exported fields act as properties
	p, err = reg.FindProperty(desc, "name", false)
	if err != nil {
		t.Fatal(err)
	}
	v, _ = p.Get(context.Background(), recv)
	if v.String() != "b" {
		t.Fatalf("name = %q", v.String())
	}

	if _, err := reg.FindProperty(desc, "Missing", false); errors.Code(err) != errors.CodeNotFound {
		t.Fatalf("missing property: %v", err)
	}
}

func TestFindProperty_LoneGetterIsMethod(t *testing.T) {
	reg, desc := newRegistry(t)

	if _, err := reg.FindProperty(desc, "Describe", false); errors.Code(err) != errors.CodeNotFound {
		t.Fatalf("Describe without SetDescribe should not be a property: %v", err)
	}

	tests := []struct {
		name string
		want bool
	}{
		{"describe", true},
		{"Tag", true},
		{"title", true},
		{"Name", false},
		{"Missing", false},
	}
	for _, tt := range tests {
		if got := reg.HasMethod(desc, tt.name, false); got != tt.want {
			t.Errorf("HasMethod(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}

	if reg.HasMethod(desc, "glow", false) {
		t.Fatal("glow is not declared yet")
	}
	if err := desc.Extend("Glow", func(n *Node) string { return "*" }); err != nil {
		t.Fatal(err)
	}
	if !reg.HasMethod(desc, "glow", false) {
		t.Fatal("Extension should invalidate the cached miss")
	}
}

func TestFindProperty_Registered(t *testing.T) {
	reg, desc := newRegistry(t)
	desc.Property("Shout", func(n *Node) string { return n.Name + "!" }, nil)

	p, err := reg.FindProperty(desc, "Shout", false)
	if err != nil {
		t.Fatal(err)
	}
	if p.CanWrite() {
		t.Fatal("Shout has no setter")
	}
	if err := p.Set(context.Background(), reflect.ValueOf(&Node{}), reflect.ValueOf("x")); errors.Code(err) != errors.CodeInvalidRequest {
		t.Fatalf("read-only set: %v", err)
	}
	v, _ := p.Get(context.Background(), reflect.ValueOf(&Node{Name: "hey"}))
	if v.String() != "hey!" {
		t.Fatalf("Shout = %q", v.String())
	}
}

func TestFindProperty_Capability(t *testing.T) {
	reg, desc := newRegistry(t)
	capType, err := reg.Module("scene").Add(reflect.TypeFor[Labeled]())
	if err != nil {
		t.Fatal(err)
	}
	capType.Property("Badge", func(l Labeled) string { return "[" + l.Title() + "]" }, nil)

	p, err := reg.FindProperty(desc, "Badge", false)
	if err != nil {
		t.Fatal(err)
	}
	v, err := p.Get(context.Background(), reflect.ValueOf(&Node{Name: "n"}))
	if err != nil {
		t.Fatal(err)
	}
	if v.String() != "[n]" {
		t.Fatalf("Badge = %q", v.String())
	}
}

func TestFindProperty_Static(t *testing.T) {
	reg, desc := newRegistry(t)
	count := 3
	desc.StaticProperty("Count", func() int { return count }, func(v int) { count = v })

	p, err := reg.FindProperty(desc, "Count", true)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Set(context.Background(), reflect.Value{}, reflect.ValueOf(5)); err != nil {
		t.Fatal(err)
	}
	if count != 5 {
		t.Fatalf("count = %d", count)
	}
}

func TestFindField(t *testing.T) {
	reg, desc := newRegistry(t)
	n := &Node{Name: "a", Base: Base{ID: 7}}
	recv := reflect.ValueOf(n)

	f, err := reg.FindField(desc, "ID", false)
	if err != nil {
		t.Fatal(err)
	}
	v, _ := f.Get(recv)
	if v.Int() != 7 {
		t.Fatalf("ID = %d", v.Int())
	}

	f, err = reg.FindField(desc, "score", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Set(recv, reflect.ValueOf(2.5)); err != nil {
		t.Fatal(err)
	}
	if n.Score != 2.5 {
		t.Fatalf("Score = %v", n.Score)
	}

	// convertible values are accepted
	if err := f.Set(recv, reflect.ValueOf(int32(3))); err != nil {
		t.Fatal(err)
	}
	if n.Score != 3 {
		t.Fatalf("Score = %v", n.Score)
	}

	if _, err := reg.FindField(desc, "hidden", false); errors.Code(err) != errors.CodeNotFound {
		t.Fatalf("unexported field: %v", err)
	}
}

func TestFindField_Static(t *testing.T) {
	reg, desc := newRegistry(t)
	limit := 10
	if err := desc.StaticField("Limit", &limit); err != nil {
		t.Fatal(err)
	}
	if err := desc.StaticField("Bad", limit); err == nil {
		t.Fatal("non-pointer static field accepted")
	}

	f, err := reg.FindField(desc, "Limit", true)
	if err != nil {
		t.Fatal(err)
	}
	f.Set(reflect.Value{}, reflect.ValueOf(20))
	if limit != 20 {
		t.Fatalf("limit = %d", limit)
	}
}

func TestEnum(t *testing.T) {
	reg := NewRegistry()
	desc, _ := reg.Module("scene").Add(reflect.TypeFor[Color]())
	if desc.IsEnum() {
		t.Fatal("no values registered yet")
	}
	desc.Enum("Red", Red)
	desc.Enum("Green", Green)

	if !reg.IsEnum(reflect.TypeFor[Color]()) {
		t.Fatal("IsEnum = false")
	}
	v, ok := desc.EnumValue("Green")
	if !ok || v.Interface() != Green {
		t.Fatalf("EnumValue(Green) = %v", v)
	}
	if name, _ := desc.EnumName(reflect.ValueOf(Red)); name != "Red" {
		t.Fatalf("EnumName(Red) = %q", name)
	}
	if err := desc.Enum("Bad", "text"); err == nil {
		t.Fatal("non-convertible enum value accepted")
	}
}

func TestCompatibility(t *testing.T) {
	reg := NewRegistry()
	enum, _ := reg.Module("scene").Add(reflect.TypeFor[Color]())
	enum.Enum("Red", Red)

	tests := []struct {
		name  string
		param reflect.Type
		arg   ArgType
		want  bool
	}{
		{"exact", reflect.TypeFor[string](), ArgTypeOf(wire.String("a"), nil), true},
		{"primitive widening", reflect.TypeFor[float64](), ArgTypeOf(wire.Int32(1), nil), true},
		{"bool to int", reflect.TypeFor[int](), ArgTypeOf(wire.Bool(true), nil), true},
		{"string to int", reflect.TypeFor[int](), ArgTypeOf(wire.String("1"), nil), false},
		{"null to pointer", reflect.TypeFor[*Node](), ArgTypeOf(wire.Null(), nil), true},
		{"null to int", reflect.TypeFor[int](), ArgTypeOf(wire.Null(), nil), false},
		{"dead handle is null", reflect.TypeFor[*Node](), ArgTypeOf(wire.ObjectHandle(4, ""), nil), true},
		{"object to interface", reflect.TypeFor[Labeled](), ArgTypeOf(wire.ObjectHandle(1, ""), &Node{}), true},
		{"object to value", reflect.TypeFor[Node](), ArgTypeOf(wire.ObjectHandle(1, ""), &Node{}), true},
		{"record to struct", reflect.TypeFor[Node](), ArgTypeOf(wire.RecordValue(wire.NewRecord("Node")), nil), true},
		{"vector to struct pointer", reflect.TypeFor[*Base](), ArgTypeOf(wire.Vector3(1, 2, 3), nil), true},
		{"record to int", reflect.TypeFor[int](), ArgTypeOf(wire.RecordValue(wire.NewRecord("")), nil), false},
		{"string to enum", reflect.TypeFor[Color](), ArgTypeOf(wire.String("Red"), nil), true},
		{"callback to func", reflect.TypeFor[func()](), ArgTypeOf(wire.Callback(1), nil), true},
		{"callback to string", reflect.TypeFor[string](), ArgTypeOf(wire.Callback(1), nil), false},
		{"array to slice", reflect.TypeFor[[]int](), ArgTypeOf(wire.Array(nil), nil), true},
		{"anything to any", reflect.TypeFor[any](), ArgTypeOf(wire.Int64(1), nil), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Method{In: []reflect.Type{tt.param}}
			if got := reg.Accepts(m, []ArgType{tt.arg}); got != tt.want {
				t.Errorf("Accepts = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSignature(t *testing.T) {
	reg := NewRegistry()
	a := reg.Signature(args(wire.Int32(1), wire.String("x")))
	b := reg.Signature(args(wire.Int32(9), wire.String("y")))
	c := reg.Signature(args(wire.String("x"), wire.Int32(1)))

	if a != b {
		t.Fatal("signature must depend on types only")
	}
	if a == c {
		t.Fatal("argument order must change the signature")
	}
	if reg.Signature(nil) == a {
		t.Fatal("empty signature collides")
	}
}

func TestCtorValidation(t *testing.T) {
	_, desc := newRegistry(t)
	if err := desc.Ctor(func() *Node { return &Node{} }); err != nil {
		t.Fatal(err)
	}
	if err := desc.Ctor(func() (Node, error) { return Node{}, nil }); err != nil {
		t.Fatal(err)
	}
	if err := desc.Ctor(func() int { return 0 }); err == nil {
		t.Fatal("constructor returning the wrong type accepted")
	}
	if err := desc.Ctor("nope"); err == nil {
		t.Fatal("non-function constructor accepted")
	}
	if len(desc.Ctors()) != 2 {
		t.Fatalf("Ctors() = %d", len(desc.Ctors()))
	}
}

func TestLowerCamel(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Name", "name"},
		{"ID", "id"},
		{"HTTPServer", "httpServer"},
		{"XMLName", "xmlName"},
		{"already", "already"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := LowerCamel(tt.in); got != tt.want {
			t.Errorf("LowerCamel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func BenchmarkFindMethod_Cached(b *testing.B) {
	reg := NewRegistry()
	desc, _ := reg.Module("scene").Add(reflect.TypeFor[Node]())
	a := args(wire.Float64(1))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := reg.FindMethod(desc, "Scale", false, a); err != nil {
			b.Fatal(err)
		}
	}
}
