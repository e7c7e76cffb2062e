// Package ocr turns published PDF attachments into text and decides whether
// that text is a printed roll-call vote tally.
//
// Pages are rasterized, binarized and passed to an OCR engine configured
// for Spanish with a single-block layout. Extraction is memoized through
// the document cache; classification is a structural pattern match.
package ocr
