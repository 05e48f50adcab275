package api

import (
	"github.com/labstack/echo/v4"

	"github.com/ragctl/ragctl/db/repository"
	"github.com/ragctl/ragctl/domain"
	"github.com/ragctl/ragctl/security"
)

// Handlers aggregates every route group's handlers plus the dependencies
// the auth and authorization middleware need directly.
type Handlers struct {
	Auth       *AuthHandlers
	Knowledge  *KnowledgeHandlers
	Members    *MemberHandlers
	Chat       *ChatHandlers
	Evaluation *EvaluationHandlers

	JWT         *security.JWTService
	Users       repository.UserRepository
	Memberships repository.MembershipRepository
}

// SetupRoutes registers every endpoint from the external HTTP surface onto
// e: public auth routes, then JWT-protected knowledge, chat, member, and
// evaluation routes. Membership roles gate only the routes that carry a
// knowledge-base id in the path (/knowledges/:id..., /:kb_id/upload,
// /:kb_id/members); the /documents/:id routes and the chat and evaluation
// routes check authentication only, not the caller's role.
func SetupRoutes(e *echo.Echo, h *Handlers) {
	auth := e.Group("/auth")
	auth.POST("/register", h.Auth.Register)
	auth.POST("/access-token", h.Auth.AccessToken)

	authn := JWTAuth(h.JWT, h.Users)

	auth.POST("/test-token", h.Auth.TestToken, authn)

	canQuery := RequireRole(h.Memberships, domain.Role.CanQuery)
	canEdit := RequireRole(h.Memberships, domain.Role.CanEdit)
	canManage := RequireRole(h.Memberships, domain.Role.CanManage)

	kb := e.Group("/knowledge", authn)
	kb.POST("/knowledges", h.Knowledge.Create)
	kb.GET("/knowledges", h.Knowledge.List)
	kb.GET("/knowledges/:id", h.Knowledge.Get, canQuery)
	kb.PUT("/knowledges/:id", h.Knowledge.Update, canManage)
	kb.DELETE("/knowledges/:id", h.Knowledge.Delete, canManage)
	kb.GET("/knowledges/:id/documents", h.Knowledge.ListDocuments, canQuery)
	kb.POST("/:kb_id/upload", h.Knowledge.Upload, canEdit)
	kb.DELETE("/documents/:id", h.Knowledge.DeleteDocument)
	kb.GET("/documents/:id", h.Knowledge.GetDocument)

	kb.POST("/:kb_id/members", h.Members.Add, canManage)
	kb.DELETE("/:kb_id/members/:user_id", h.Members.Remove, canManage)

	chat := e.Group("/chat/sessions", authn)
	chat.POST("", h.Chat.Create)
	chat.GET("", h.Chat.List)
	chat.DELETE("/:uuid", h.Chat.Delete)
	chat.GET("/:uuid/messages", h.Chat.Messages)
	chat.POST("/:uuid/completion", h.Chat.Completion)

	eval := e.Group("/evaluation", authn)
	eval.POST("/testsets", h.Evaluation.CreateTestSet)
	eval.GET("/testsets", h.Evaluation.ListTestSets)
	eval.GET("/testsets/:id", h.Evaluation.GetTestSet)
	eval.DELETE("/testsets/:id", h.Evaluation.DeleteTestSet)
	eval.POST("/experiments", h.Evaluation.CreateExperiment)
	eval.GET("/experiments", h.Evaluation.ListExperiments)
	eval.GET("/experiments/:id", h.Evaluation.GetExperiment)
	eval.DELETE("/experiments/:id", h.Evaluation.DeleteExperiment)
}
