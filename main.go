package main

import (
	"log"
	"net/http"

	"hotel-rates/internal/api"
	"hotel-rates/internal/config"
	"hotel-rates/internal/database"
	"hotel-rates/internal/models"
	"hotel-rates/internal/services/auth"
	"hotel-rates/internal/services/poller"
	"hotel-rates/internal/services/pricing"
	"hotel-rates/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.Load()

	if cfg.RapidAPIKey == "" {
		log.Println("WARNING: RAPIDAPI_KEY not set, rate queries will fail")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	// Initialize database
	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	store := storage.NewMySQLStore(db)
	rates := pricing.NewClient(cfg.RapidAPIKey)
	pollSvc := poller.New(rates, store, models.Hotels)
	keycloak := auth.NewKeycloakClient(cfg.KeycloakURL, cfg.KeycloakRealm, cfg.KeycloakClientID, cfg.KeycloakClientSecret)
	sessions := auth.NewSessions(cfg.JWTSecret)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API routes
	apiGroup := r.Group("/api/v1")
	api.SetupRoutes(apiGroup, store, rates, pollSvc, keycloak, sessions, cfg.Environment == "production")

	log.Printf("Server starting on port %s", cfg.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, r))
}
