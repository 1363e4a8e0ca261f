package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"direct-chat/internal/chat"
	"direct-chat/internal/config"
	"direct-chat/internal/db"
	"direct-chat/internal/domain"
	"direct-chat/internal/feed"
	"direct-chat/internal/repository"
	"direct-chat/internal/service"
)

const lineWidth = 72

func main() {
	ctx := context.Background()
	reader := bufio.NewReader(os.Stdin)

	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := zap.NewExample()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()
	if cfg.DBAutoMigrate {
		if err := db.EnsureSchema(ctx, pool); err != nil {
			log.Fatal(err)
		}
	}

	// Sin Redis solo se ven en vivo los mensajes de este proceso.
	var notifier feed.Notifier = feed.NewLocalNotifier()
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
		} else {
			notifier = feed.NewRedisNotifier(redisClient, logger)
		}
		cancel()
	}

	roomSvc := service.NewRoomService(logger, repository.NewPgRoomRepository(pool))
	messageSvc := service.NewMessageService(logger, roomSvc, repository.NewPgMessageRepository(pool), notifier, cfg.FeedPublishTimeout())
	dispatcher := feed.NewDispatcher(logger, messageSvc, notifier)
	defer dispatcher.Close()
	manager := chat.NewManager(logger, roomSvc, messageSvc, dispatcher)

	selfID := prompt(reader, "Tu ID: ")
	partner := domain.Partner{
		ID:          prompt(reader, "ID del contacto: "),
		DisplayName: prompt(reader, "Nombre del contacto (opcional): "),
	}

	session := manager.OpenChat(ctx, selfID, partner)
	defer session.Close()

	go render(session)

	fmt.Println("Escribe un mensaje y presiona Enter. /salir para terminar, /reintentar para reenviar.")
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		switch strings.TrimSpace(line) {
		case "/salir":
			return
		case "/reintentar":
			err = session.Retry(ctx)
		default:
			err = session.Send(ctx, line)
		}
		var sessErr *chat.SessionError
		if err != nil && !errors.As(err, &sessErr) {
			fmt.Printf("! %v\n", err)
		}
	}
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Print(label)
	value, _ := reader.ReadString('\n')
	return strings.TrimSpace(value)
}

// render imprime las entradas nuevas de la transcripcion: las propias a la
// derecha, las del contacto a la izquierda.
func render(session *chat.Session) {
	printed := 0
	var lastState chat.State
	var lastErr string
	for range session.Changes() {
		v := session.View()
		if v.State != lastState {
			lastState = v.State
			switch v.State {
			case chat.StateResolving:
				fmt.Println("... conectando")
			case chat.StateActive:
				fmt.Printf("--- chat con %s ---\n", partnerLabel(v.Partner))
			}
		}
		if printed > len(v.Transcript) {
			printed = 0
		}
		for _, entry := range v.Transcript[printed:] {
			printEntry(entry, v.Partner)
		}
		printed = len(v.Transcript)

		current := ""
		if v.Error != nil {
			current = v.Error.Message
		}
		if current != lastErr {
			lastErr = current
			if current != "" {
				fmt.Printf("! %s\n", current)
			}
		}
	}
}

func printEntry(entry chat.TranscriptEntry, partner domain.Partner) {
	stamp := entry.CreatedAt.Local().Format("15:04")
	if entry.IsSelf {
		text := fmt.Sprintf("%s [%s]", entry.Text, stamp)
		fmt.Printf("%*s\n", lineWidth, text)
		return
	}
	fmt.Printf("%s [%s]: %s\n", partnerLabel(partner), stamp, entry.Text)
}

func partnerLabel(p domain.Partner) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.ID
}
