/*
Package testutil provides test data generators for the tracing protocol.

It contains fixtures for the pieces most tests need: deterministic chain
seeds, signed reports, and token sequences. Generators use the option pattern
so tests only state what they care about:

	// A signed report with defaults
	signed := testutil.GenerateSignedReport()

	// A report revealing a specific segment of a known seed
	seed := testutil.NewTestSeed("device a")
	signed := testutil.GenerateSignedReport(
	    testutil.WithSeed(seed),
	    testutil.WithSegment(0, 10),
	)

	// The tokens that segment implies
	tokens, _ := crypto.ExpandSegment(seed, 0, 10)

Generators swallow errors from operations that cannot fail on valid inputs;
they are for tests only.
*/
package testutil
