package server

import (
	"database/sql"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"

	"github.com/playbeaver/encounter/internal/engine"
)

func addRoutes(r chi.Router, logger *slog.Logger, db *sql.DB, store *SQLiteStore, games *engine.GameService, broker *Broker, spaDir string) {
	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("Encounter API", "/openapi.json", "/docs"))
	r.Get("/healthz", handleHealth(logger, db))

	// Player routes, authenticated by the bearer token from /api/join.
	r.Route("/api", func(r chi.Router) {
		r.Get("/teams/{joinToken}", handleTeamLookup(store))
		r.Post("/join", handleJoin(store, broker))
		r.Get("/game/state", handleGameState(store))
		r.Post("/game/codes", handleSubmitCodes(store, games))
		r.Post("/game/accelerate", handleAccelerate(store, games))
		r.Get("/game/tips", handleSuggestTips(store, games))
		r.Post("/game/tips/{tipID}", handleTakeTip(store, games))
		r.Get("/game/events", handleEvents(store, broker))
		r.Get("/game/events/ws", handleWSEvents(logger, store, broker))
		r.Get("/games/{gameID}/results", handleResults(games))
	})

	// Admin auth, cookie sessions.
	r.Post("/api/admin/login", handleAdminLogin(db))
	r.Post("/api/admin/logout", handleAdminLogout(db))
	r.Get("/api/admin/me", handleAdminMe(db))

	// Admin games: list, monitor, and drive the lifecycle.
	r.Route("/api/admin/games", func(r chi.Router) {
		r.Use(adminAuthMiddleware(db))
		r.Get("/", handleAdminListGames(store))
		r.Get("/{gameID}", handleAdminGetGame(store))
		r.Post("/{gameID}/{action}", handleAdminGameAction(logger, games))
		r.Get("/{gameID}/results", handleResults(games))
	})

	if spaDir != "" {
		if info, err := os.Stat(spaDir); err == nil && info.IsDir() {
			logger.Info("serving SPA", "dir", spaDir)
			r.NotFound(handleSPA(spaDir))
		}
	}
}
