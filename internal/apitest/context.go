package apitest

import "context"

func withSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, subjectKey{}, sub)
}

func subjectFrom(ctx context.Context) string {
	v, _ := ctx.Value(subjectKey{}).(string)
	return v
}
