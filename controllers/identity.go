package controllers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"kyc-document-api/middleware"
	"kyc-document-api/models"
	"kyc-document-api/services"
)

type caller struct {
	UserID string
	Role   string
}

func callerFrom(c *gin.Context) caller {
	return caller{UserID: c.GetString(middleware.ContextUserID), Role: c.GetString(middleware.ContextRole)}
}

func (p caller) IsAdmin() bool {
	return p.Role == middleware.RoleAdmin
}

// targetUser resolves whose documents a request acts on. Only admins may name a user
// other than themselves.
func targetUser(c *gin.Context, requested string) (string, error) {
	p := callerFrom(c)
	requested = strings.TrimSpace(requested)
	if requested == "" || requested == p.UserID {
		return p.UserID, nil
	}
	if !p.IsAdmin() {
		return "", services.NewError(services.KindAccessDenied, services.CodeAccessDenied, "you may only act on your own documents")
	}
	return requested, nil
}

// kycRole picks the role a KYC evaluation or upload is made for. Customers and
// contractors always use their token role; admins pass it explicitly and default to
// customer.
func kycRole(c *gin.Context, requested string) (models.KYCRole, error) {
	p := callerFrom(c)
	raw := p.Role
	if p.IsAdmin() {
		raw = requested
		if strings.TrimSpace(raw) == "" {
			return models.RoleCustomer, nil
		}
	}
	role, ok := models.ParseKYCRole(raw)
	if !ok {
		return "", services.NewError(services.KindClientInput, services.CodeInvalidRole, "role must be customer or contractor")
	}
	return role, nil
}
