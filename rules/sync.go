//go:build ruleguard

// Package gorules holds the ruleguard checks run by golangci-lint.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WaitGroupGo flags the Add/Done goroutine pattern. Workers, gateway test
// servers and background store writes all register through wg.Go.
//
//	p.wg.Go(func() { _ = w.Run(ctx) })
func WaitGroupGo(m dsl.Matcher) {
	m.Match(
		`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`,
	).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Underlying().Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { $body }) instead of Add/Done").
		Suggest("$wg.Go(func() { $body })")
}

// MutexCopy flags queue and pool values passed by value.
func MutexCopy(m dsl.Matcher) {
	m.Match(`func $_($_ $t) $*_ { $*_ }`, `func ($_ $t) $_($*_) $*_ { $*_ }`).
		Where(m["t"].Text.Matches(`^(apns\.)?(Queue|Pool|Worker|FeedbackReader)$`)).
		Report("$t holds a mutex and must be passed by pointer")
}
