package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

var (
	validID        = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	filenameUnsafe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
)

// ValidateID validates that an ID only has alphanumerics, hyphens and underscores
func ValidateID(id string) bool {
	if id == "" {
		return false
	}
	return validID.MatchString(id)
}

// RequireUUIDParams responde 404 quando algum parâmetro de rota não é um UUID
func RequireUUIDParams(names ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, name := range names {
			if _, err := uuid.Parse(c.Param(name)); err != nil {
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
					"success": false,
					"error":   "Recurso não encontrado",
					"code":    "NOT_FOUND",
				})
				return
			}
		}
		c.Next()
	}
}

// SanitizeText removes null bytes and control characters except newlines and tabs
func SanitizeText(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)
}

// SanitizeFilename monta um nome de arquivo seguro para Content-Disposition
func SanitizeFilename(filename string) string {
	filename = filenameUnsafe.ReplaceAllString(filename, "_")
	filename = strings.Trim(filename, "._")
	if filename == "" {
		return "unnamed_file"
	}
	return filename
}
