// Package llm integrates language-model backends for transaction cluster
// classification and semantic cluster splitting.
package llm
