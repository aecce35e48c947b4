package validation

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
)

// BindAndValidate binds the JSON body into out and validates it. On failure it writes the 400
// envelope and returns the error so the handler can stop.
func BindAndValidate(c *gin.Context, out interface{}, v *validatorv10.Validate) error {
	if err := c.ShouldBindJSON(out); err != nil {
		writeInvalid(c, "invalid_request_body", "request body is not valid JSON for this endpoint", nil)
		return err
	}

	if err := v.Struct(out); err != nil {
		writeInvalid(c, "validation_failed", "request validation failed", FieldErrors(err))
		return err
	}
	return nil
}

// FieldErrors maps json paths (items[0].quantity) to the failed rule.
func FieldErrors(err error) map[string]string {
	out := map[string]string{}
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		out["error"] = err.Error()
		return out
	}
	for _, fe := range ve {
		// drop the root struct name
		_, path, found := strings.Cut(fe.Namespace(), ".")
		if !found {
			path = fe.Field()
		}
		out[path] = rule(fe)
	}
	return out
}

func rule(fe validatorv10.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

func writeInvalid(c *gin.Context, code, message string, fields map[string]string) {
	body := gin.H{
		"success": false,
		"error":   code,
		"message": message,
	}
	if len(fields) > 0 {
		body["fields"] = fields
	}
	c.JSON(http.StatusBadRequest, body)
}
