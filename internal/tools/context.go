package tools

import "context"

// Session identifies the conversation a tool call belongs to.
type Session struct {
	Channel  string
	ChatID   string
	SenderID string
}

type sessionKeyType struct{}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKeyType{}, s)
}

func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKeyType{}).(Session)
	return s, ok
}
