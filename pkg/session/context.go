package session

import "context"

type ctxKey string

const noRecoveryKey ctxKey = "no-recovery"

// WithoutRecovery marks requests made with ctx so that an authorization
// failure is returned as is instead of triggering a renewal. Login and logout
// use it: a 401 there is an answer, not an expired credential.
func WithoutRecovery(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRecoveryKey, true)
}

func recoveryDisabled(ctx context.Context) bool {
	disabled, _ := ctx.Value(noRecoveryKey).(bool)
	return disabled
}
