// Package chart holds the domain types, errors, blob key layout and CSV codec
// shared by the weekly chart ingestion pipeline, plus the interfaces its
// adapters implement.
package chart
