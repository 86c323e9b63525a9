package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kyc-document-api/middleware"
	"kyc-document-api/services"
)

// statusFor maps an error kind to the HTTP status returned to clients.
func statusFor(kind services.ErrorKind) int {
	switch kind {
	case services.KindClientInput, services.KindVirusDetected, services.KindValidationFailed:
		return http.StatusBadRequest
	case services.KindIncompleteKYC:
		return http.StatusConflict
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindAccessDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {success:false, error, code[, details]}. Server-side
// failures are logged with their cause and answered with a generic message.
func writeError(c *gin.Context, log *zap.Logger, err error) {
	svcErr := services.AsError(err)
	status := statusFor(svcErr.Kind)

	body := gin.H{
		"success": false,
		"error":   svcErr.Message,
		"code":    svcErr.Code,
	}
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("request_id", c.GetString(middleware.ContextRequestID)),
			zap.String("code", svcErr.Code),
			zap.String("kind", string(svcErr.Kind)),
			zap.Error(err))
		body["error"] = genericMessage(svcErr.Code)
	} else if len(svcErr.Details) > 0 {
		body["details"] = svcErr.Details
	}
	c.AbortWithStatusJSON(status, body)
}

func genericMessage(code string) string {
	switch code {
	case services.CodeScanUnavailable:
		return "Virus scanning is temporarily unavailable"
	case services.CodeUploadFailed:
		return "Failed to upload document"
	case services.CodeDownloadFailed:
		return "Failed to download document"
	}
	return "Internal server error"
}

func badRequest(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": message, "code": code})
}

// badBody rejects an undecodable request body. The decoder error is logged, never returned.
func badBody(c *gin.Context, log *zap.Logger, code, message string, err error) {
	log.Info("request body rejected", zap.String("path", c.FullPath()), zap.String("code", code), zap.Error(err))
	badRequest(c, code, message)
}

// warningNames lists the secondary effects that failed, without their error text.
func warningNames(fx services.SideEffects) []string {
	names := fx.Effects()
	if names == nil {
		return []string{}
	}
	return names
}
