// Package ctxkeys holds the typed context keys shared by the HTTP layer,
// the job runner and logging.
package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	jobIDKey     contextKey = "job_id"
	lodKey       contextKey = "lod"
)

// WithRequestID 设置请求 ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID 获取请求 ID
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithJobID 设置作业 ID
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIDKey, id)
}

// JobID 获取作业 ID
func JobID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(jobIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithLOD 设置当前处理的 LOD
func WithLOD(ctx context.Context, lod int) context.Context {
	return context.WithValue(ctx, lodKey, lod)
}

// LOD 获取当前处理的 LOD
func LOD(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(lodKey).(int)
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}
