package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/subgate-microservice/subgate-sub000/internal/pkg/ctxutil"
)

const (
	headerTraceID       = "X-Trace-Id"
	headerRequestID     = "X-Request-Id"
	headerTransactionID = "X-Transaction-Id"

	transactionIDParam = "id"
)

// AttachTraceContext stores request correlation ids on the request context
// and echoes them as response headers. On routes addressing a transaction
// the id is also tagged on the active span.
func AttachTraceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		span := trace.SpanFromContext(ctx)

		td := &ctxutil.TraceData{
			RequestID: headerOrNewID(c, headerRequestID),
			TraceID:   strings.TrimSpace(c.GetHeader(headerTraceID)),
		}
		if td.TraceID == "" && span.SpanContext().HasTraceID() {
			td.TraceID = span.SpanContext().TraceID().String()
		}
		if td.TraceID == "" {
			td.TraceID = uuid.NewString()
		}
		if txID, ok := routeTransactionID(c); ok {
			td.TransactionID = txID
			span.SetAttributes(attribute.String("uow.transaction_id", txID))
			c.Set("transaction_id", txID)
			c.Writer.Header().Set(headerTransactionID, txID)
		}

		c.Request = c.Request.WithContext(ctxutil.WithTraceData(ctx, td))
		c.Set("trace_id", td.TraceID)
		c.Set("request_id", td.RequestID)
		c.Writer.Header().Set(headerTraceID, td.TraceID)
		c.Writer.Header().Set(headerRequestID, td.RequestID)
		c.Next()
	}
}

func headerOrNewID(c *gin.Context, header string) string {
	if v := strings.TrimSpace(c.GetHeader(header)); v != "" {
		return v
	}
	return uuid.NewString()
}

// routeTransactionID reads the :id param of /transactions/:id routes.
// Malformed ids are left to the handler to reject.
func routeTransactionID(c *gin.Context) (string, bool) {
	if !strings.Contains(c.FullPath(), "/transactions/:"+transactionIDParam) {
		return "", false
	}
	id, err := uuid.Parse(strings.TrimSpace(c.Param(transactionIDParam)))
	if err != nil {
		return "", false
	}
	return id.String(), true
}
