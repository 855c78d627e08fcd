package core

import "context"

type contextKey int

const (
	operatorKey contextKey = iota
	clientKey
)

// client describes where an HTTP request came from.
type client struct {
	ip        string
	userAgent string
}

// ContextWithOperator records the authenticated operator, who becomes the
// initiator of anything they start.
func ContextWithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, operatorKey, operator)
}

// OperatorFromContext returns the operator set by ContextWithOperator.
func OperatorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(operatorKey).(string); ok {
		return v
	}
	return ""
}

// ContextWithClient records the client address and user agent of the
// request acting on records.
func ContextWithClient(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientKey, client{ip: ip, userAgent: userAgent})
}

// clientAttrs returns slog attributes for the client on ctx. Scheduled
// ticks have no client and get none.
func clientAttrs(ctx context.Context) []any {
	c, ok := ctx.Value(clientKey).(client)
	if !ok {
		return nil
	}
	return []any{"client_ip", c.ip, "user_agent", c.userAgent}
}
