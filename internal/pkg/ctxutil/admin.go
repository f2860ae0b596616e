package ctxutil

import "context"

type adminDataKey struct{}

// AdminData identifies the operator behind an admin API request.
type AdminData struct {
	Subject string
	Role    string
}

func WithAdminData(ctx context.Context, ad *AdminData) context.Context {
	return context.WithValue(ctx, adminDataKey{}, ad)
}

func GetAdminData(ctx context.Context) *AdminData {
	val := ctx.Value(adminDataKey{})
	if ad, ok := val.(*AdminData); ok {
		return ad
	}
	return nil
}
