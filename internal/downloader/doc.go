// Package downloader fetches tile archives into the workspace through a
// single first-in first-out queue.
//
// Any number of goroutines enqueue fetches; one pump goroutine performs
// them strictly in order, streaming each HTTP response into a blob writer.
// A failed fetch leaves no object behind and is reported to the waiter of
// that request only; the pump moves on to the next request.
//
// # Usage
//
//	q := downloader.New(ctx, bucket, downloader.Options{Progress: reporter})
//	defer q.Close()
//
//	req := q.Enqueue(url, "SU12_DTM_EA.zip")
//	if err := req.Wait(ctx); err != nil { ... }
//
// # Shutdown
//
// Close stops accepting requests and waits for the queued ones to finish.
// Cancelling the queue's context instead aborts the fetch in flight and
// fails every queued request with ErrClosed.
package downloader
