// Package ocr runs the recognition ensemble over preprocessed challenge
// candidates using Tesseract (via gosseract/v2).
//
// Every candidate is recognized under six page segmentation strategies
// (single line, single word, single char, sparse, sparse with orientation
// detection, vertical block). Each pass yields an Attempt with cleaned
// text and a confidence score; Select ranks the attempts, preferring
// exact four-character reads over anything else.
//
// # Prerequisites
//
// Tesseract must be installed on the system:
//   - Ubuntu/Debian: apt-get install tesseract-ocr tesseract-ocr-eng
//   - macOS: brew install tesseract
//
// # Concurrency
//
// A Tesseract client is stateful: the segmentation mode set for one pass
// would leak into a concurrent one. All passes therefore check a client
// out of a fixed-size Pool. With a pool of one the ensemble runs the
// candidate and strategy loops strictly sequentially, which keeps results
// reproducible for identical input; larger pools trade that for latency.
//
// # Error Handling
//
// A failed (candidate, strategy) pass is dropped and the ensemble moves
// on; recognition as a whole never fails hard. When no pass produces text
// of usable length, Select returns the zero Attempt as an explicit
// no-result marker instead of guessing.
package ocr
