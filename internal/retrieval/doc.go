// Package retrieval implements the lexical section retriever: a
// document-scoped BM25 index over ingested sections. Retrieval here is
// deliberately lexical and deterministic, since the extraction controller's
// idempotence depends on identical sections and an identical query always
// producing the identical ranking. Alternative retrievers (vector search)
// can be substituted through the Retriever interface without touching the
// controller.
package retrieval
