package goIdentity

import (
	"context"
	"strings"
)

// requestInfo is the caller metadata the engine reads from a context.
type requestInfo struct {
	ip        string
	userAgent string
}

type requestInfoKey struct{}

func requestInfoFrom(ctx context.Context) requestInfo {
	if ctx == nil {
		return requestInfo{}
	}
	info, _ := ctx.Value(requestInfoKey{}).(requestInfo)
	return info
}

// WithClientIP records the caller's IP address on ctx. It feeds per-IP login
// and code-send throttling and appears in audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	info := requestInfoFrom(ctx)
	info.ip = strings.TrimSpace(ip)
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// WithUserAgent records the caller's User-Agent on ctx for audit events.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	info := requestInfoFrom(ctx)
	info.userAgent = userAgent
	return context.WithValue(ctx, requestInfoKey{}, info)
}

func clientIPFromContext(ctx context.Context) string {
	return requestInfoFrom(ctx).ip
}

func userAgentFromContext(ctx context.Context) string {
	return requestInfoFrom(ctx).userAgent
}
