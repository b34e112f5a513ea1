// Command seed provisions the first admin user so the API can be used
// after a fresh deployment. Existing emails are left untouched.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/insumed-ar/ventas-api/pkg/config"
	"github.com/insumed-ar/ventas-api/pkg/database"
)

func main() {
	email := flag.String("email", "", "admin email")
	password := flag.String("password", "", "admin password")
	fullName := flag.String("name", "Administrador", "display name")
	flag.Parse()

	if *email == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "usage: seed -email admin@example.com -password <secret>")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const query = `INSERT INTO users (id, email, password_hash, full_name, role, active, created_at, updated_at)
	VALUES ($1, $2, $3, $4, 'admin', true, NOW(), NOW())
	ON CONFLICT (email) DO NOTHING`
	result, err := db.ExecContext(ctx, query, uuid.NewString(), *email, string(hash), *fullName)
	if err != nil {
		log.Fatalf("insert admin: %v", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		fmt.Printf("user %s already exists, nothing to do\n", *email)
		return
	}
	fmt.Printf("admin %s created\n", *email)
}
