package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/StartaleGroup/scs-aa-paymasters/src/domain"
)

func SetMiddlewares(ctx context.Context, ginRouter *gin.Engine) {
	ginRouter.Use(LoggerMiddleware(ctx))
}

func LoggerMiddleware(ctx context.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		zlog := zerolog.Ctx(ctx).With().
			Str("path", c.FullPath()).
			Str("method", c.Request.Method).
			Logger()
		c.Request = c.Request.WithContext(zlog.WithContext(ctx))
		c.Next()
	}
}

// AdminSecretMiddleware validates the X-API-Secret header guarding the
// signer administration endpoints.
func AdminSecretMiddleware(apiSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		providedSecret := c.GetHeader("X-API-Secret")

		if providedSecret == "" {
			err := domain.NewError(
				domain.ErrorCodeAuthNotAuthenticated,
				errors.New("missing API secret header"),
				domain.WithMsg("Missing API secret"),
			)
			respondWithError(c, err)
			return
		}

		if providedSecret != apiSecret {
			err := domain.NewError(
				domain.ErrorCodeAuthNotAuthenticated,
				errors.New("invalid API secret provided"),
				domain.WithMsg("Invalid API secret"),
			)
			respondWithError(c, err)
			return
		}

		c.Next()
	}
}
