// Package search adapts the Elasticsearch cluster that holds access logs
// and resolved output.
//
// Queries are described by model.Query and compiled to the Elasticsearch
// query DSL by CompileQuery. Every compiled query is a bool filter with a
// deterministic sort on "localtime" so a scan over the same window returns
// records in the same order.
//
// Scans use the scroll API and are exposed as iter.Seq2 sequences; the
// scroll context is cleared when the caller stops iterating or the scan
// ends. Writes go through the bulk API with explicit document ids, so
// re-running a window overwrites documents instead of duplicating them.
package search
