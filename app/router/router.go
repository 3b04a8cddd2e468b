package router

import (
	"github.com/beego/beego/v2/server/web"
	"github.com/chatspace/backend-go/app/controllers"
	"github.com/chatspace/backend-go/app/middleware"
)

// Init registers all routes. Must be called after config is loaded.
func Init() {
	web.Router("/", &controllers.RootController{}, "get:Index")
	web.Router("/health", &controllers.HealthController{}, "get:Health")
	web.Router("/metrics", &controllers.MetricsController{}, "get:Metrics")

	web.InsertFilter("/*", web.BeforeRouter, middleware.CORSMiddleware)

	authController := &controllers.AuthController{}
	web.Router("/api/auth/register", authController, "post:Register")
	web.Router("/api/auth/login", authController, "post:Login")

	chatController := &controllers.ChatController{}
	web.Router("/api/chat/stream", chatController, "post:Stream")

	sessionController := &controllers.SessionController{}
	web.Router("/api/sessions", sessionController, "get:List")
	web.Router("/api/sessions/:session_id", sessionController, "get:Get;put:Rename;delete:Delete")
	web.Router("/api/sessions/:session_id/messages/:message_id", sessionController, "delete:DeleteMessage")

	providerController := &controllers.ProviderController{}
	web.Router("/api/providers", providerController, "get:List;post:Create")
	web.Router("/api/providers/:credential_id", providerController, "put:Update;delete:Delete")

	toolController := &controllers.ToolController{}
	web.Router("/api/tools", toolController, "get:List;post:Create")
	web.Router("/api/tools/:tool_id", toolController, "put:Update;delete:Delete")

	adminController := &controllers.AdminController{}
	web.Router("/api/admin/model-config", adminController, "get:GetModelConfig;put:UpdateModelConfig")
	// 注意：具体路由必须在参数路由之前注册
	web.Router("/api/admin/quotas/:quota_id", adminController, "delete:DeleteQuota")
	web.Router("/api/admin/groups/:group_id/quotas", adminController, "get:ListQuotas;post:UpsertQuota")
	web.Router("/api/admin/groups/:group_id/usage", adminController, "get:GroupUsage")
}
