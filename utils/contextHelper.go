package utils

import (
	"context"

	"bitbucket.org/kontrabaz/amobazon_backend/appctx"
)

var (
	ContextKeySubdomain     = appctx.ContextKeySubdomain
	ContextKeyAmoAccountId  = appctx.ContextKeyAmoAccountId
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
)

func GetSubdomainFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeySubdomain)
}

func SetSubdomainInContext(ctx context.Context, subdomain string) context.Context {
	return appctx.Set(ctx, ContextKeySubdomain, subdomain)
}

func GetAmoAccountIdFromContext(ctx context.Context) (uint, bool) {
	return appctx.GetUint(ctx, ContextKeyAmoAccountId)
}

func SetAmoAccountIdInContext(ctx context.Context, id uint) context.Context {
	return appctx.Set(ctx, ContextKeyAmoAccountId, id)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}
