package telemetry

import "context"

// scopeKey stores the scope of the turn being answered.
type scopeKey struct{}

type scope struct {
	session string
	turn    string
}

func scopeFrom(ctx context.Context) scope {
	if ctx == nil {
		return scope{}
	}
	sc, _ := ctx.Value(scopeKey{}).(scope)
	return sc
}

func withScope(ctx context.Context, sc scope) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, scopeKey{}, sc)
}

// WithSessionID returns a child context tagged with a chat session. A turn
// ID already on ctx is kept.
func WithSessionID(ctx context.Context, id string) context.Context {
	sc := scopeFrom(ctx)
	sc.session = id
	return withScope(ctx, sc)
}

// SessionIDFromContext returns the session ID on ctx, or "", false.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id := scopeFrom(ctx).session
	return id, id != ""
}

// WithTurnID returns a child context tagged with a turn. The session, if
// any, is kept. A nil ctx is treated as context.Background().
func WithTurnID(ctx context.Context, id string) context.Context {
	sc := scopeFrom(ctx)
	sc.turn = id
	return withScope(ctx, sc)
}

// TurnIDFromContext returns the turn ID on ctx, or "", false when missing
// or empty.
func TurnIDFromContext(ctx context.Context) (string, bool) {
	id := scopeFrom(ctx).turn
	return id, id != ""
}

// Tag adds turn_id and session_id from ctx to fields and returns it. Both
// keys are always set so events share one shape.
func Tag(ctx context.Context, fields map[string]any) map[string]any {
	if fields == nil {
		fields = map[string]any{}
	}
	sc := scopeFrom(ctx)
	fields["turn_id"] = sc.turn
	fields["session_id"] = sc.session
	return fields
}
