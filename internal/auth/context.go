package auth

import "context"

// --- Context Helper Functions ---

// WithSubject returns a copy of ctx carrying the authenticated subject.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, SubjectKey, subject)
}

// GetSubjectFromContext retrieves the authenticated subject from the request context.
// Returns the subject and true if found, otherwise "" and false.
func GetSubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(SubjectKey).(string)
	return subject, ok
}
