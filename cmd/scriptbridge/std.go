package main

import (
	"context"
	"math"
	"os"
	"reflect"
	"time"

	"github.com/wippyai/script-bridge/async"
	"github.com/wippyai/script-bridge/bridge"
	"github.com/wippyai/script-bridge/luaengine"
)

// Clock exposes wall time and timers to scripts.
type Clock struct{}

// Env exposes the process environment to scripts.
type Env struct{}

// prelude binds the std types to a script global.
const prelude = `std = { Clock = host.type("std.Clock"), Env = host.type("std.Env") }`

func installStd(b *bridge.Bridge) error {
	std := b.Module("std")

	clock, err := std.Add(reflect.TypeFor[Clock]())
	if err != nil {
		return err
	}
	if err := clock.Static("Now", func() float64 {
		return float64(time.Now().UnixNano()) / 1e9
	}); err != nil {
		return err
	}
	// Sleep resolves with ms once the timer fires.
	if err := clock.Static("Sleep", func(ms int) async.Awaitable {
		return async.Go(context.Background(), func(ctx context.Context) (int, error) {
			t := time.NewTimer(time.Duration(ms) * time.Millisecond)
			defer t.Stop()
			select {
			case <-t.C:
				return ms, nil
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		})
	}); err != nil {
		return err
	}

	env, err := std.Add(reflect.TypeFor[Env]())
	if err != nil {
		return err
	}
	if err := env.Static("Get", os.Getenv); err != nil {
		return err
	}

	for name, fn := range map[string]any{
		"sqrt":  math.Sqrt,
		"hypot": math.Hypot,
		"pow":   math.Pow,
	} {
		if _, err := b.Fast.BindFuncNamed(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func loadPrelude(ctx context.Context, eng *luaengine.Engine) error {
	return eng.DoString(ctx, prelude)
}
