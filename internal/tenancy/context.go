package tenancy

import "context"

type ctxKey string

const (
	hospitalKey ctxKey = "clinicadmin.hospital_id"
	adminKey    ctxKey = "clinicadmin.admin_id"
)

// WithHospitalID stores the hospital id in context.
func WithHospitalID(ctx context.Context, hospitalID string) context.Context {
	return context.WithValue(ctx, hospitalKey, hospitalID)
}

// HospitalIDFromContext extracts the hospital id if present.
func HospitalIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, hospitalKey)
}

// WithAdminID stores the acting admin id in context.
func WithAdminID(ctx context.Context, adminID string) context.Context {
	return context.WithValue(ctx, adminKey, adminID)
}

// AdminIDFromContext extracts the acting admin id if present.
func AdminIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, adminKey)
}

func stringValue(ctx context.Context, key ctxKey) (string, bool) {
	val := ctx.Value(key)
	if val == nil {
		return "", false
	}
	s, ok := val.(string)
	return s, ok && s != ""
}
