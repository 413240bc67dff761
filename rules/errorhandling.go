//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// SleepInProductionCode detects time.Sleep used for pacing outside tests.
// Pacing in this codebase goes through time.After in a select with the
// stop channel, so shutdown never waits out a sleeping goroutine.
func SleepInProductionCode(m dsl.Matcher) {
	m.Match(`time.Sleep($d)`).
		Where(!m.File().Name.Matches(`.*_test\.go`)).
		Report("select on time.After($d) and the stop channel instead of sleeping, so Stop() is not delayed")
}

// BackgroundContextInCall detects context.Background passed straight into
// an outbound call from code that should thread the caller's context, which
// silently detaches the call from cancellation and per-delivery timeouts.
func BackgroundContextInCall(m dsl.Matcher) {
	m.Match(
		`$f(context.Background(), $*_)`,
	).
		Where(m["f"].Text.Matches(`.*\.(Do|Get|Post|Send|Publish)$`) &&
			!m.File().Name.Matches(`.*_test\.go`)).
		Report("pass the caller's ctx instead of context.Background so cancellation propagates")
}
