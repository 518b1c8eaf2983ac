// Package services holds cross-cutting helpers shared by the extraction
// pipeline and its adapters: the error taxonomy used to classify failures
// into job outcomes, and context annotations that let loggers attach job,
// document, stage, and worker identifiers without threading them explicitly.
package services
