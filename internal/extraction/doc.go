// Package extraction turns freight quote requests into structured records.
//
// Two strategies are available:
//   - PatternStrategy: regular expressions, keyword anchors and the embedded
//     vehicle catalog and place vocabulary
//   - AIStrategy: an external Analyzer (Anthropic or OpenAI), with a
//     pattern pass over the returned OCR text when the answer is unusable
//
// # Pipeline
//
// Pipeline.Run picks strategies by channel and Supports, merges their field
// trees leaf by leaf and then, in order, clears blank-like sentinels,
// backfills the route from free text, strips formatting artifacts and
// computes the Quality assessment:
//
//	cat, _ := extraction.DefaultCatalog()
//	p, err := extraction.NewPipeline(cfg.Extraction, cat, analyzer, cfg.AI.Timeout.Duration(), logger)
//	rec := p.Run(ctx, extraction.Document{Channel: extraction.ChannelEmail, Text: body})
//
// Run never returns an error. Strategy failures end up as warnings on the
// record and as success=false results.
//
// # Merge precedence
//
// A present value is never replaced by an empty one. Between two present
// values the result with the higher overall confidence wins, except that
// reference-table dimensions, weight, engine size and fuel type always beat
// AI or OCR guesses for the same leaf.
package extraction
