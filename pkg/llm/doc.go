// Package llm provides text-generation backends, a registry of named backends and
// helpers to pull structured JSON out of free-form model replies.
package llm
