package helpers

import (
	"github.com/labstack/echo/v4"

	"github.com/avatarctic/quota-admission/internal/core/domain/admission"
	"github.com/avatarctic/quota-admission/internal/core/domain/quota"
)

type ctxKey string

const (
	keyIdentity ctxKey = "identity"
	keyDecision ctxKey = "admission_decision"
)

func SetIdentity(c echo.Context, id quota.Identity) { c.Set(string(keyIdentity), id) }
func GetIdentityRaw(c echo.Context) (quota.Identity, bool) {
	v := c.Get(string(keyIdentity))
	id, ok := v.(quota.Identity)
	return id, ok
}

func SetDecision(c echo.Context, d admission.Decision) { c.Set(string(keyDecision), d) }
func GetDecisionRaw(c echo.Context) (admission.Decision, bool) {
	v := c.Get(string(keyDecision))
	d, ok := v.(admission.Decision)
	return d, ok
}
