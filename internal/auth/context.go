package auth

import (
	"context"
	"strings"
)

// Operator is the signed-in administrator driving the service.
type Operator struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// DisplayName returns the best available human-readable name.
func (o Operator) DisplayName() string {
	for _, v := range []string{o.Name, o.Email, o.ID} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

type operatorContextKey struct{}
type tokenContextKey struct{}

// ContextWithOperator attaches the signed-in operator to the context.
func ContextWithOperator(ctx context.Context, op Operator) context.Context {
	return context.WithValue(ctx, operatorContextKey{}, &op)
}

// OperatorFromContext extracts the signed-in operator from the context.
func OperatorFromContext(ctx context.Context) (Operator, bool) {
	if ctx == nil {
		return Operator{}, false
	}
	v, ok := ctx.Value(operatorContextKey{}).(*Operator)
	if !ok || v == nil {
		return Operator{}, false
	}
	return *v, true
}

// ContextWithToken stores the operator's delegated Graph token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the delegated token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
