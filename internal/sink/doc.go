// Package sink holds the persistence collaborators that receive normalized
// records. Each subpackage implements congress.RecordSink.
package sink
