// Package progress provides human-readable progress reporting for tile
// acquisition.
//
// The reporter tracks:
//   - Tiles required, prepared and failed
//   - Archive downloads in progress and failed
//   - Bytes written to the workspace and throughput
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{Label: "Thames"})
//	reporter.Start()
//	defer reporter.Stop()
//
//	reporter.DownloadStarted()
//	reporter.BytesWritten(n)
//	reporter.DownloadCompleted()
//
// Output is written to stderr by default:
//
//	[mb] Tiles: 3/8 prepared | Downloads: 1 active, 0 failed | 412 MiB | 9.8 MiB/s
package progress
