// Package async provides goroutine helpers with panic recovery and
// timeouts.
//
// SafeGo is for fire-and-forget side work such as usage logging, where a
// failure must never affect the caller. Batch fans a slice of tasks out over
// a bounded number of goroutines and collects their errors.
package async
