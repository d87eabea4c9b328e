//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// EnhancedErrors detects fmt.Errorf in the delivery packages, which use
// the errors builder so every failure carries a component and category.
//
//	return errors.New(err).
//		Component("apns").
//		Category(errors.CategoryNetwork).
//		Build()
func EnhancedErrors(m dsl.Matcher) {
	m.Match(
		`fmt.Errorf($*args)`,
	).
		Where(m.File().PkgPath.Matches(`internal/(producer|runlog|tokenstore|push|payload|notify|mqtt|app)$`) &&
			!m.File().Name.Matches(`_test\.go$`)).
		Report("use the internal/errors builder instead of fmt.Errorf")
}

// ContextlessSleep detects time.Sleep in loops of production code, which
// ignores cancellation.
func ContextlessSleep(m dsl.Matcher) {
	m.Match(
		`for { $*_; time.Sleep($d); $*_ }`,
		`for $cond { $*_; time.Sleep($d); $*_ }`,
	).
		Where(!m.File().Name.Matches(`_test\.go$`)).
		Report("use a timer or ticker with select on ctx.Done() instead of time.Sleep in a loop")
}
