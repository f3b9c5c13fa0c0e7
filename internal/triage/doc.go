// Package triage provides the business boundary for Sift's bookmark triage runs.
// It defines the Service (single-flight run lifecycle, async dispatch, progress and
// cost accounting), the pipeline stages (page acquisition, collection digest,
// category discovery, batch categorization and summarization), the Store interface
// (persistence), the Provider interface (language model) and the domain models.
package triage
