package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"civic-complaint-system/pkg/database"
	"civic-complaint-system/pkg/middleware"
	"civic-complaint-system/services/auth-service/handlers"
	"civic-complaint-system/services/auth-service/repository"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		os.Getenv("POSTGRES_HOST"),
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		os.Getenv("POSTGRES_DB"),
		os.Getenv("POSTGRES_PORT"),
	)
	if os.Getenv("POSTGRES_HOST") == "" {
		dsn = "host=localhost user=admin password=password dbname=auth_db port=5434 sslmode=disable TimeZone=UTC"
	}

	db, err := database.ConnectPostgres(dsn)
	if err != nil {
		log.Fatalf("[ERROR] Failed to connect to database: %v", err)
	}

	users := repository.NewGormUsers(db)
	log.Println("[INFO] Running auto migration...")
	if err := users.Migrate(); err != nil {
		log.Fatalf("[ERROR] Migration failed: %v", err)
	}
	log.Println("[OK] Migration success")

	middleware.RegisterMetrics()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handlers.New(users).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("[INFO] Auth Service running on port :%s", port)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("[ERROR] Server failed: %v", err)
	}
}
