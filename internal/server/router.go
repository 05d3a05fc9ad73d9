package server

import (
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/roach88/cascade/internal/engine"
)

// validateRunMode accepts only the modes the scheduler understands.
func validateRunMode(fl validator.FieldLevel) bool {
	return engine.ValidModes[engine.Mode(fl.Field().String())]
}

func registerValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("runmode", validateRunMode)
	}
}

// NewRouter wires the handlers into a gin engine.
func NewRouter(h *Handlers) *gin.Engine {
	registerValidators()

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", h.HandleHealth)

	v1 := r.Group("/v1")
	{
		v1.GET("/documents", h.HandleListDocuments)
		v1.POST("/documents", h.HandleCreateDocument)
		v1.GET("/documents/:id", h.HandleGetDocument)
		v1.POST("/documents/:id/save", h.HandleSaveDocument)
		v1.POST("/documents/:id/run", h.HandleRun)
		v1.GET("/documents/:id/audit", h.HandleAudit)
	}
	return r
}
