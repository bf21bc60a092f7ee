// Package pipeline orchestrates end-of-recording processing: transcript
// generation, plan generation, detail enrichment and the transactional
// persistence of the resulting plan. It owns failure classification and the
// unconditional cleanup of the recording's buffer entry and temp file.
package pipeline
