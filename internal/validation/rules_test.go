package validation

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rnblock/api-key-provider/internal/services"
)

type keyRequest struct {
	KeyName     string   `json:"keyName" binding:"required,keyname" validate:"required,keyname"`
	Scopes      []string `json:"scopes" binding:"required,min=1,dive,apiscope" validate:"required,min=1,dive,apiscope"`
	Environment string   `json:"environment" binding:"required,oneof=production test" validate:"required,oneof=production test"`
	Email       string   `json:"email,omitempty" binding:"omitempty,email" validate:"omitempty,email"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	RegisterOn(v)
	return v
}

func TestRules(t *testing.T) {
	v := newValidator()
	valid := keyRequest{KeyName: "CI pipeline", Scopes: []string{"pdf:read", "ai:write"}, Environment: "test"}
	require.NoError(t, v.Struct(valid))

	tests := []struct {
		name    string
		mutate  func(*keyRequest)
		field   string
		message string
	}{
		{"short name", func(r *keyRequest) { r.KeyName = " ab " }, "keyName", "Key name must be between 3 and 50 characters"},
		{"long name", func(r *keyRequest) { r.KeyName = strings.Repeat("n", 51) }, "keyName", "Key name must be between 3 and 50 characters"},
		{"missing name", func(r *keyRequest) { r.KeyName = "" }, "keyName", "keyName is required"},
		{"unknown scope", func(r *keyRequest) { r.Scopes = []string{"pdf:read", "admin"} }, "scopes", "Invalid scope: admin"},
		{"empty scopes", func(r *keyRequest) { r.Scopes = []string{} }, "scopes", "scopes must contain at least 1 item(s)"},
		{"environment", func(r *keyRequest) { r.Environment = "staging" }, "environment", "environment must be one of: production, test"},
		{"email", func(r *keyRequest) { r.Email = "nope" }, "email", "Invalid email address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			err := FromBindError(v.Struct(req))

			var verr *services.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.ErrorIs(t, err, services.ErrValidation)
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, tt.message, verr.Message)
		})
	}
}

func TestFromBindError_NonValidation(t *testing.T) {
	var verr *services.ValidationError
	require.ErrorAs(t, FromBindError(errors.New("unexpected EOF")), &verr)
	assert.Equal(t, "body", verr.Field)
	assert.Equal(t, "Invalid request body", verr.Message)
}

func TestRegister_GinBinding(t *testing.T) {
	gin.SetMode(gin.TestMode)
	Register()
	Register()

	r := gin.New()
	r.POST("/", func(c *gin.Context) {
		var req keyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.String(http.StatusBadRequest, FromBindError(err).Error())
			return
		}
		c.Status(http.StatusNoContent)
	})

	post := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body)))
		return w
	}

	assert.Equal(t, http.StatusNoContent, post(`{"keyName":"Prod key","scopes":["mileage:read"],"environment":"production"}`).Code)

	w := post(`{"keyName":"Prod key","scopes":["root"],"environment":"production"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid scope: root", w.Body.String())

	w = post(`{"keyName":"Prod key","scopes":"pdf:read","environment":"production"}`)
	assert.Equal(t, "scopes has the wrong type", w.Body.String())
}
