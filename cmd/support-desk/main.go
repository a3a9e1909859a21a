package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/peterh/liner"

	"retail-ops/support-chat/internal/client"
	"retail-ops/support-chat/internal/config"
	"retail-ops/support-chat/internal/console"
	"retail-ops/support-chat/internal/desk"
	"retail-ops/support-chat/internal/syncer"
	"retail-ops/support-chat/internal/utils"
)

func main() {
	// 1. Контекст + менеджер завершения
	ctx, shutdownManager := utils.NewShutdownManager(context.Background())
	shutdownManager.StartListening()

	cfg, err := config.LoadDeskConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	staffID := cfg.StaffID
	if staffID == "" {
		if staffID, err = staffFromToken(cfg.Token); err != nil {
			log.Fatal("Cannot determine staff id:", err)
		}
	}

	// Логи поллеров пишем в файл, чтобы не ломать строку ввода
	logPath := filepath.Join(os.TempDir(), "support-desk.log")
	if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600); err == nil {
		log.SetOutput(f)
		shutdownManager.Register(func(context.Context) error { return f.Close() })
	}

	// 2. Клиент и рабочее место оператора
	api := client.NewHTTPClient(cfg.APIURL, cfg.Token, cfg.ActionTimeout)
	d := desk.New(api, staffID, desk.Config{
		Sync: syncer.Config{
			SessionInterval: cfg.SessionPollInterval,
			MessageInterval: cfg.MessagePollInterval,
		},
		ActionTimeout: cfg.ActionTimeout,
	})
	d.Mount(ctx)
	shutdownManager.Register(func(context.Context) error {
		log.Println("[SHUTDOWN] Stopping pollers...")
		d.Unmount()
		return nil
	})

	// 3. Консоль
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	historyFile := filepath.Join(os.TempDir(), "support-desk.history")
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	shutdownManager.Register(func(context.Context) error {
		if f, err := os.OpenFile(historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
		return line.Close()
	})

	confirm := func(question string) bool {
		answer, err := line.Prompt(question + " [y/N] ")
		if err != nil {
			return false
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		return answer == "y" || answer == "yes"
	}
	c := console.New(d, os.Stdout, confirm)

	fmt.Printf("support desk for %s at %s, type help\n", staffID, cfg.APIURL)
	_ = c.Exec(ctx, "list")
	for ctx.Err() == nil {
		input, err := line.Prompt("desk> ")
		if err != nil {
			// Ctrl+C or Ctrl+D
			break
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}
		if err := c.Exec(ctx, input); err != nil {
			if errors.Is(err, console.ErrQuit) {
				break
			}
			fmt.Println("error:", err)
		}
	}

	shutdownManager.Shutdown()
}

// staffFromToken reads the user_id claim without verifying the signature;
// the service verifies the token on every request.
func staffFromToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", err
	}
	id, _ := claims["user_id"].(string)
	if id == "" {
		return "", errors.New("token has no user_id claim, set SUPPORT_STAFF_ID")
	}
	return id, nil
}
