package constants

// ContextRequestIdKey is the slog attribute key the request-scoped logger
// in internal/app/middleware/logging.go attaches to every log line for one
// request, so the two rolling logs (spec.md §6) can be joined by request.
const ContextRequestIdKey = "request_id"
