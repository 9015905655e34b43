package idempotency

import "context"

// Header — заголовок, в котором ключ уходит на сервер.
const Header = "Idempotency-Key"

type ctxKey struct{}

// WithKey кладет ключ идемпотентности в контекст.
func WithKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ctxKey{}, key)
}

// Key достает ключ из контекста. Пустая строка, если ключа нет.
func Key(ctx context.Context) string {
	key, _ := ctx.Value(ctxKey{}).(string)
	return key
}
