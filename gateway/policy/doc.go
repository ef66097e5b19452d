// Package policy implements the admission gate that every query passes
// before any provider or engine is invoked.
//
// The gate applies seven layers in order, first match blocks:
//
//  1. length cap
//  2. heuristic injection patterns
//  3. Base64-wrapped payload scan
//  4. semantic similarity to the canonical system prompt (optional)
//  5. extended jailbreak lexicon
//  6. mixed Unicode script detection
//  7. zero-width / invisible character detection
//
// Every block emits a SecurityEvent. The package also provides the PII
// redactor used on the audit write path; the redactor never mutates the
// live request.
package policy
