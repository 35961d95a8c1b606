package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"morado/controller"
	"morado/model"
	"morado/platform"
	"morado/service"

	_uuid "github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"morado/repository"
)

// CORSMiddleware ...
// CORS (Cross-Origin Resource Sharing)
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, UPDATE")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "X-Requested-With, Content-Type, Origin, Authorization, Accept, Client-Security-Token, Accept-Encoding, x-access-token")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
		} else {
			c.Next()
		}
	}
}

// RequestIDMiddleware ...
// Generate a unique ID and attach it to each request for future reference or use
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		uuid := _uuid.New()
		c.Writer.Header().Set("X-Request-Id", uuid.String())
		c.Set("requestId", uuid.String())
		c.Next()
	}
}

func LogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery
		if raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		end := time.Now()
		latency := end.Sub(start)

		status := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method
		userAgent := c.Request.UserAgent()
		requestId := c.GetString("requestId")

		logrus.Infof(
			" [%s] %d | %v | %s | %s | %s | %s ",
			requestId,
			status,
			latency,
			clientIP,
			method,
			path,
			userAgent,
		)
	}
}

func newProvider() service.Provider {
	if os.Getenv("LLM_PROVIDER") == "gemini" {
		return service.NewGeminiProvider(os.Getenv("GEMINI_API_KEY"))
	}
	platform.InitLLMClient()
	return service.NewOpenAIProvider(platform.LLMClient)
}

func main() {
	fmt.Println("Server started...")

	//Load the .env file
	err := godotenv.Load(".env")
	if err != nil {
		fmt.Println("failed to load the env file")
	}

	platform.InitFile("./log", "gin")

	r := gin.Default()
	r.Use(CORSMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(LogMiddleware())

	//init database
	platform.InitDB()
	model.InstallDB()

	repo := repository.NewChatRepository(platform.DB)
	limiter := service.NewUsageLimiter()
	chats := service.NewChatService(repo, newProvider(), platform.LLMModel())

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "MORADO AI backend is live 🚀")
	})

	api := r.Group("/api")
	{
		chat := controller.NewChatController(limiter, chats)
		api.POST("/chat", chat.Chat)
		api.POST("/chat/stream", chat.ChatStream)
		api.POST("/chat/titles", chat.Titles)
		api.POST("/chat/history", chat.History)
		api.POST("/chat/rename", chat.Rename)
		api.POST("/chat/delete", chat.Delete)
	}

	// Usage records of past days are dead weight, drop them nightly.
	c := cron.New()
	c.AddFunc("5 0 * * *", func() {
		removed := limiter.Sweep()
		platform.Logger.Infof("usage sweep removed %d stale records", removed)
	})
	c.Start()

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}
	r.Run(":" + port)
}
