package ctxutil

import "context"

type traceDataKey struct{}

// TraceData correlates one HTTP request. TransactionID is set on routes
// addressing a unit of work transaction.
type TraceData struct {
	TraceID       string
	RequestID     string
	TransactionID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	val := ctx.Value(traceDataKey{})
	if td, ok := val.(*TraceData); ok {
		return td
	}
	return nil
}
