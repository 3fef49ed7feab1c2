// Package ingest defines the image ingestion domain: requests, resolved names,
// per-URL outcomes, batch reports, and the ports implemented by adapters.
package ingest
