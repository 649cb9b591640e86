// Package http provides the HTTP client used to query the survey catalog
// and fetch tile archives.
//
// This package handles:
//   - Connection pooling
//   - JSON decoding of catalog responses
//   - Optional retry with exponential backoff
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions())
//
//	var entries []catalog.Entry
//	err := client.GetJSON(ctx, url, &entries)
//
//	resp, err := client.Get(ctx, downloadURL)
//	defer resp.Body.Close()
package http
