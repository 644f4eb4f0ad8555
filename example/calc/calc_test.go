package calc

import (
	"context"
	"os"
	"strings"
	"testing"

	"typed-rpc/proxygen"
	"typed-rpc/registry"
)

func TestRegisterRemote(t *testing.T) {
	reg := registry.New(nil)
	if err := RegisterRemote(reg); err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, tf := range reg.Functions(Module) {
		names = append(names, tf.Name)
	}
	want := "Add,Clock.Now,Clock.Sleep,Distance,Divide,Greet,Ping,Stats,Sum"
	if got := strings.Join(names, ","); got != want {
		t.Fatalf("expect %s, got %s", want, got)
	}

	fn, err := reg.Lookup(Module, "Stats")
	if err != nil {
		t.Fatal(err)
	}
	v, err := fn.Call(context.Background(), []any{[]float64{1, 2, 6}})
	if err != nil {
		t.Fatal(err)
	}
	if s := v.(Summary); s.Count != 3 || s.Mean != 3 || s.Min != 1 || s.Max != 6 {
		t.Fatalf("unexpected summary %+v", s)
	}
}

// 提交的生成代码必须和 rpcgen 的输出一致（忽略空白）
func TestGeneratedUpToDate(t *testing.T) {
	src, err := os.ReadFile("calc.go")
	if err != nil {
		t.Fatal(err)
	}
	f, err := proxygen.Parse("calc.go", src)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Skipped) != 0 {
		t.Fatalf("unexpected skipped declarations %v", f.Skipped)
	}

	opts := proxygen.Options{Module: Module, Package: "calcstub"}
	for path, generate := range map[string]func(*proxygen.File, proxygen.Options) ([]byte, error){
		"calc_remote.go":           proxygen.GenerateSkeleton,
		"../calcstub/calc_stub.go": proxygen.GenerateStub,
	} {
		want, err := generate(f, opts)
		if err != nil {
			t.Fatal(err)
		}
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if normalize(got) != normalize(want) {
			t.Fatalf("%s is stale, run go generate:\n%s", path, want)
		}
	}
}

func normalize(src []byte) string {
	return strings.Join(strings.Fields(string(src)), " ")
}
