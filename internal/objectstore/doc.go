// Package objectstore abstracts retrieval and storage of raw document bytes.
package objectstore
