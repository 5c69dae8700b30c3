// Package sdk is the Go client for the finqa HTTP API.
//
// A Client wraps one server base URL:
//
//	client := sdk.New("http://localhost:8080")
//	res, err := client.UploadFile(ctx, "report.txt")
//	trace, err := client.Question(ctx, "what was Q3 revenue?")
//
// Server-side failures surface as *APIError; use errors.As to inspect the
// code and HTTP status.
package sdk
