// Package requests defines the typed operation requests cage executes.
//
// Every request is produced by a builder. Builders accept settings in any
// order and report the first violated rule, with the offending field, from
// Build. A built request is never mutated and may be executed once; Claim
// enforces this. Batch retries rebuild from the original builder.
//
// Identities (what decrypts) and recipients (what is encrypted to) are value
// types compared by their encoding. Recipient groups carry an authority tier
// and are combined through MultiRecipientConfig, whose Flatten keeps the tier
// each recipient came from.
//
// FromArgs and LoadManifest convert untyped command line and batch manifest
// input into requests.
package requests
