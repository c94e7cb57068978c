// Package ingest uploads owner documents to the ingestion service.
//
// # Boundary
//
// The service owns storage and retrieval-corpus management; this client
// only ships the file and reports back the storage URI and corpus name.
// The caller is responsible for recording both on the owner session so
// the agents can ground their answers on the uploaded material.
package ingest
