// Package indexing turns chunks into vectors and keeps a tenant's vector
// namespace in step with its data.
//
// BatchPipeline embeds chunks in fixed-size batches, pacing calls and
// backing off when the provider rate limits. Synchronizer writes the
// resulting records, either rebuilding the whole namespace or replacing
// one section's id family, and keeps the section registry current so a
// scoped replace deletes exactly what the section last wrote.
package indexing
