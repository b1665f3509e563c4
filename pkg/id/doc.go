// Package id generates compact, time-ordered identifiers used for task ids
// and correlation ids. IDs are 128-bit (millisecond timestamp + per-process
// sequence) and render as 32-char lowercase hex, so they sort by creation
// time both as bytes and as strings.
package id
