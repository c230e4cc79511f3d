package integration__test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/geocoder89/barterhub/internal/auth"
	"github.com/geocoder89/barterhub/internal/cache"
	"github.com/geocoder89/barterhub/internal/catalog"
	"github.com/geocoder89/barterhub/internal/db"
	"github.com/geocoder89/barterhub/internal/domain/item"
	"github.com/geocoder89/barterhub/internal/domain/user"
	apphttp "github.com/geocoder89/barterhub/internal/http"
	"github.com/geocoder89/barterhub/internal/identity"
	"github.com/geocoder89/barterhub/internal/notifications"
	"github.com/geocoder89/barterhub/internal/observability"
	"github.com/geocoder89/barterhub/internal/queue/worker"
	"github.com/geocoder89/barterhub/internal/realtime"
	"github.com/geocoder89/barterhub/internal/repo/postgres"
	"github.com/geocoder89/barterhub/internal/storage"
	"github.com/geocoder89/barterhub/internal/trading"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// app is the API wired against a real postgres, plus a worker draining the same jobs table.
type app struct {
	router   *gin.Engine
	pool     *pgxpool.Pool
	users    *identity.Service
	catalog  *catalog.Service
	sessions *auth.Manager
	worker   *worker.Worker
	images   *storage.DiskStore
}

// setupApp needs TEST_DB_DSN pointing at a disposable database.
func setupApp(t *testing.T) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}

	ctx := context.Background()

	pool, err := db.NewPool(ctx, db.PoolOptions{URL: dsn, MaxConns: 8})
	if err != nil {
		t.Fatalf("Failed to create pgx pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("schema: %v", err)
	}
	resetDB(t, pool)
	t.Cleanup(func() { resetDB(t, pool) })

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	jobsRepo := postgres.NewJobsRepo(pool, prom)
	itemsRepo := postgres.NewItemsRepo(pool, prom)

	users, err := identity.NewService(postgres.NewUsersRepo(pool, prom), 64, logger)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}

	uploadDir := t.TempDir()
	images, err := storage.NewDiskStore(uploadDir, "/uploads")
	if err != nil {
		t.Fatalf("disk store: %v", err)
	}

	cat := catalog.NewService(catalog.Deps{
		Items:          itemsRepo,
		Users:          users,
		Images:         images,
		Feed:           cache.New(time.Minute),
		Outbox:         jobsRepo,
		MaxUploadBytes: 5 << 20,
		Logger:         logger,
	})

	hub := realtime.NewHub(logger)
	hubCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	go hub.Run(hubCtx)

	trades := trading.NewService(trading.Deps{
		Trades:   postgres.NewTradesRepo(pool, prom, jobsRepo),
		Catalog:  cat,
		Users:    users,
		Realtime: hub,
		Prom:     prom,
		Logger:   logger,
	})

	sessions := auth.NewManager("test-secret-key", 0)

	router := apphttp.NewRouter(apphttp.Deps{
		Log:                logger,
		Identity:           users,
		Sessions:           sessions,
		Denylist:           auth.NewMemoryDenylist(),
		Items:              cat,
		Trades:             trades,
		Stream:             hub,
		Jobs:               jobsRepo,
		Ping:               itemsRepo.Ping,
		Prom:               prom,
		Gatherer:           reg,
		Env:                "test",
		CookieName:         "token",
		RateLimitPerMinute: 10000,
		MaxUploadBytes:     5 << 20,
		UploadDir:          uploadDir,
	})

	wk := worker.New(worker.Config{
		WorkerID:     "test-worker",
		PollInterval: 10 * time.Millisecond,
		Concurrency:  1,
	}, worker.Deps{
		Repo:     jobsRepo,
		Images:   images,
		Notifier: notifications.NewLogNotifier(logger, notifications.LogNotifierOptions{}),
		Pinger:   pool,
		Logger:   logger,
	})

	return &app{
		router:   router,
		pool:     pool,
		users:    users,
		catalog:  cat,
		sessions: sessions,
		worker:   wk,
		images:   images,
	}
}

func resetDB(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	if err := db.Truncate(context.Background(), pool); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}

// helpers

func (a *app) seedUser(t *testing.T, name string) (user.User, *http.Cookie) {
	t.Helper()

	u, err := a.users.Register(context.Background(), user.SignUpRequest{
		Username: name,
		Email:    name + "@example.com",
		Password: "password123",
	})
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}

	token, _, err := a.sessions.GenerateSessionToken(u.ID, u.Role)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return u, &http.Cookie{Name: "token", Value: token}
}

func (a *app) seedItem(t *testing.T, ownerID, title string) item.Item {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("png: %v", err)
	}

	it, err := a.catalog.CreateItem(context.Background(), ownerID, item.Fields{
		Title:       title,
		Size:        "M",
		Condition:   "good",
		Preferences: "anything",
	}, &item.Image{Filename: title + ".png", Body: &buf})
	if err != nil {
		t.Fatalf("create item %s: %v", title, err)
	}
	return it
}

func doRequest(router http.Handler, method, path string, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	for _, c := range cookies {
		req.AddCookie(c)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	return w
}

func mustReadJSON[T any](t *testing.T, w *httptest.ResponseRecorder, out *T) {
	t.Helper()
	err := json.Unmarshal(w.Body.Bytes(), out)
	if err != nil {
		t.Fatalf("failed to unmarshal json: %v, body=%s", err, w.Body.String())
	}
}

type tradeResponse struct {
	Trade struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"trade"`
}

type apiErrorResponse struct {
	Error struct {
		Code string `json:"code"`
	} `json:"error"`
}
