package storage

// RebindDollar exposes the placeholder rewriter to external tests.
var RebindDollar = rebindDollar
