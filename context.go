package erpauth

import "context"

type ctxKey string

const (
	ctxKeyUserID ctxKey = "erpauth_user_id"
	ctxKeyOrgID  ctxKey = "erpauth_org_id"
)

// WithUserID stores the signed-in user ID in the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, userID)
}

// UserIDFromContext extracts the signed-in user ID from the context.
func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyUserID).(string)
	return v
}

// WithOrganizationID stores the organization ID in the context.
func WithOrganizationID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, ctxKeyOrgID, orgID)
}

// OrganizationIDFromContext extracts the organization ID from the context.
func OrganizationIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyOrgID).(string)
	return v
}
