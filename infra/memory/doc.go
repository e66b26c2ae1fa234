// Package memory provides typed object pools for allocation-heavy hot
// paths such as journal frame encoding.
package memory
