package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/script-bridge/async"
	"github.com/wippyai/script-bridge/bridge"
	"github.com/wippyai/script-bridge/callback"
	"github.com/wippyai/script-bridge/config"
	"github.com/wippyai/script-bridge/convert"
	"github.com/wippyai/script-bridge/dispatch"
	"github.com/wippyai/script-bridge/fastpath"
	"github.com/wippyai/script-bridge/handle"
	"github.com/wippyai/script-bridge/luaengine"
	"github.com/wippyai/script-bridge/marshal"
	"github.com/wippyai/script-bridge/reflection"
	"github.com/wippyai/script-bridge/wasmguest"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to YAML configuration")
		expr        = flag.String("e", "", "Lua chunk to run")
		interactive = flag.Bool("i", false, "Interactive REPL")
		wasmFile    = flag.String("wasm", "", "Path to a wasm guest importing scriptbridge")
		funcName    = flag.String("func", "run", "Guest export to call with -wasm")
		schema      = flag.Bool("schema", false, "Print the configuration JSON schema and exit")
		dump        = flag.Bool("dump-config", false, "Print the effective configuration and exit")
	)
	flag.Parse()

	if *schema {
		out, err := config.Schema()
		if err != nil {
			fail(err)
		}
		fmt.Println(string(out))
		return
	}

	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			fail(err)
		}
	}
	if *dump {
		out, err := cfg.Marshal()
		if err != nil {
			fail(err)
		}
		fmt.Print(string(out))
		return
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		fail(err)
	}
	defer logger.Sync()
	setLoggers(logger)

	script := flag.Arg(0)
	if script == "" && *expr == "" && *wasmFile == "" && !*interactive {
		fmt.Fprintln(os.Stderr, "Usage: scriptbridge [-config file.yaml] script.lua")
		fmt.Fprintln(os.Stderr, "       scriptbridge -e 'print(std.Clock.now())'")
		fmt.Fprintln(os.Stderr, "       scriptbridge -i  (interactive mode)")
		fmt.Fprintln(os.Stderr, "       scriptbridge -wasm guest.wasm [-func run]")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	b := bridge.New(bridge.Options{Config: cfg})
	defer b.Close()
	if err := installStd(b); err != nil {
		fail(err)
	}

	if *wasmFile != "" {
		if err := runGuest(ctx, b, *wasmFile, *funcName); err != nil {
			fail(err)
		}
		return
	}

	eng, err := luaengine.NewFromBridge(b)
	if err != nil {
		fail(err)
	}
	defer eng.Close()
	if err := loadPrelude(ctx, eng); err != nil {
		fail(err)
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			err = runLines(ctx, eng, os.Stdin, os.Stdout)
		} else {
			err = runInteractive(eng)
		}
		if err != nil {
			fail(err)
		}
		return
	}

	if *expr != "" {
		err = eng.DoString(ctx, *expr)
	} else {
		err = eng.DoFile(ctx, script)
	}
	if err != nil {
		fail(err)
	}
	if err := drain(ctx, eng); err != nil {
		fail(err)
	}
}

// drain ticks the engine until no async operation is pending.
func drain(ctx context.Context, eng *luaengine.Engine) error {
	a := eng.Bridge().Async
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		eng.Tick()
		if a.Pending() == 0 && a.Queued() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func runGuest(ctx context.Context, b *bridge.Bridge, path, fn string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	rt, err := wasmguest.New(ctx, b, wasmguest.Config{})
	if err != nil {
		return fmt.Errorf("create runtime: %w", err)
	}
	defer rt.Close(ctx)

	g, err := rt.Instantiate(ctx, data, "")
	if err != nil {
		return err
	}
	defer g.Close(ctx)

	fmt.Printf("Calling %s()...\n", fn)
	out, err := g.Call(ctx, fn)
	if err != nil {
		return err
	}
	results := make([]string, len(out))
	for i, v := range out {
		results[i] = fmt.Sprintf("%d (f64 %g)", int64(v), api.DecodeF64(v))
	}
	fmt.Printf("Result: %s\n", strings.Join(results, ", "))
	return nil
}

func setLoggers(l *zap.Logger) {
	async.SetLogger(l.Named("async"))
	bridge.SetLogger(l.Named("bridge"))
	callback.SetLogger(l.Named("callback"))
	convert.SetLogger(l.Named("convert"))
	dispatch.SetLogger(l.Named("dispatch"))
	fastpath.SetLogger(l.Named("fastpath"))
	handle.SetLogger(l.Named("handle"))
	luaengine.SetLogger(l.Named("lua"))
	marshal.SetLogger(l.Named("marshal"))
	reflection.SetLogger(l.Named("reflection"))
	wasmguest.SetLogger(l.Named("wasm"))
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
