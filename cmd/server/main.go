package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/campuslink/match-server/internal/hub"
	"github.com/campuslink/match-server/internal/messaging"
	"github.com/campuslink/match-server/internal/metrics"
	"github.com/campuslink/match-server/internal/protocol"
	"github.com/campuslink/match-server/internal/ratelimit"
	"github.com/campuslink/match-server/internal/report"
	"github.com/campuslink/match-server/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	hubConfig := hub.Config{
		DedupReactions: os.Getenv("DEDUP_REACTIONS") == "true",
	}

	// --- Redis (optional; enables rate limiting) ---
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("failed to connect to Redis at %s: %v", redisAddr, err)
		}
		hubConfig.Limiter = ratelimit.NewLimiter(client)
		log.Printf("rate limiting enabled (redis=%s)", redisAddr)
	}

	// --- Postgres (optional; enables the reaction audit archive) ---
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		migrationsDir := os.Getenv("MIGRATIONS_DIR")
		if migrationsDir == "" {
			migrationsDir = "migrations"
		}
		archive, err := report.Open(context.Background(), databaseURL, migrationsDir)
		if err != nil {
			log.Fatalf("failed to open reaction archive: %v", err)
		}
		hubConfig.Archive = archive
		log.Printf("reaction archive enabled")
	}

	// --- NATS (optional; enables the outbound event stream) ---
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig := messaging.DefaultConfig()
		natsConfig.URL = natsURL
		events, err := messaging.NewPublisher(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS at %s: %v", natsURL, err)
		}
		hubConfig.Events = events
		log.Printf("event stream enabled (nats=%s)", natsURL)
	}

	log.Printf("CampusLink match server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  dedup_reactions: %v", hubConfig.DedupReactions)

	dispatcher := ws.NewMessageDispatcher(nil)
	server := ws.NewServer(config, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	h := hub.New(hubConfig, server)

	dispatcher.Register(protocol.TypeProfile, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.ProfileMsg); ok {
			h.Profile(conn.ID, m)
		}
	})
	dispatcher.Register(protocol.TypeMatchRequest, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.MatchRequestMsg); ok {
			h.MatchRequest(conn.ID, m)
		}
	})
	dispatcher.Register(protocol.TypeMessage, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.ChatMsg); ok {
			h.Message(conn.ID, m)
		}
	})
	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.TypingMsg); ok {
			h.Typing(conn.ID, m)
		}
	})
	dispatcher.Register(protocol.TypeReaction, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.ReactionMsg); ok {
			h.Reaction(conn.ID, m)
		}
	})
	dispatcher.Register(protocol.TypeLeave, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.LeaveMsg); ok {
			h.Leave(conn.ID, m)
		}
	})
	for _, signalType := range []string{protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICE} {
		signalType := signalType
		dispatcher.Register(signalType, func(conn *ws.Connection, msg interface{}) {
			if m, ok := msg.(protocol.SignalMsg); ok {
				h.Signal(conn.ID, signalType, m)
			}
		})
	}

	server.SetOnDisconnect(h.Disconnect)
	server.SetStatsProvider(func() ws.HealthStats {
		return ws.HealthStats{
			QueueLengths:   h.QueueLengths(),
			ActiveSessions: h.Sessions.Count(),
		}
	})

	server.Handle("/metrics", metrics.Handler())
	server.Handle("/reputation", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email := r.URL.Query().Get("email")
		if email == "" {
			http.Error(w, "missing email parameter", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(h.Reputation(email))
	}))

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if hubConfig.Events != nil {
			hubConfig.Events.Close()
		}
		if hubConfig.Archive != nil {
			if err := hubConfig.Archive.Close(); err != nil {
				log.Printf("reaction archive close error: %v", err)
			}
		}
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
