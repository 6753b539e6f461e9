// Package types defines the JSON bodies of the HTTP API.
//
// Field names are camelCase to match the browser client. Request types
// carry a Validate method where the handler needs more than a decode;
// the messages they return are shown to users as-is.
//
// Every error answer has the shape
//
//	{"error": "Human readable message"}
//
// with an extra "keyword" member when a prompt was refused by the
// content filter.
package types
