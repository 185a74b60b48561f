// Package devstub is a self-contained storefront backend for local
// development and demos. It serves the same wire contract as the production
// backend: session bootstrap, the streamed turn endpoint and catalog search,
// backed by a small fixed catalog instead of real inventory.
package devstub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/vitrineai/vitrine/assist/catalog"
)

// Server is the stub backend.
type Server struct {
	echo *echo.Echo

	// Delay between streamed records. Tests set it to zero.
	ChunkDelay time.Duration

	catalog []catalog.Product
}

// NewServer creates a stub backend with the built-in demo catalog.
func NewServer() *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:       e,
		ChunkDelay: 120 * time.Millisecond,
		catalog:    demoCatalog(),
	}

	e.POST("/sessions", s.createSession)
	e.POST("/stream", s.stream)
	e.GET("/suggest", s.suggest)
	e.GET("/products/search", s.suggest)
	e.POST("/analytics/events", s.acceptEvents)
	return s
}

// Handler exposes the stub as an http.Handler, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until the context is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			slog.Warn("stub backend shutdown", "error", err)
		}
	}()
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) createSession(c echo.Context) error {
	userID := c.Request().Header.Get("X-User-ID")
	slog.Info("stub session created", "userId", userID)

	return c.JSON(http.StatusOK, map[string]any{
		"session": map[string]any{
			"id":        "sess-" + uuid.NewString(),
			"createdAt": time.Now().UTC(),
		},
		"greeting": "Oi! Bem-vindo à vitrine. Me diga o que você procura e eu encontro as melhores ofertas de Ciudad del Este.",
		"suggest": map[string]any{
			"products": s.catalog[:3],
		},
	})
}

type streamRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// stream replays a scripted assistant turn over the records-and-blank-lines
// framing. Deltas go out as bare JSON records; meta and done use the
// two-line event/data form so both accepted shapes stay exercised.
func (s *Server) stream(c echo.Context) error {
	var req streamRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid stream request")
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing sessionId")
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.WriteHeader(http.StatusOK)

	requestID := uuid.NewString()
	ctx := c.Request().Context()

	write := func(record string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if _, err := resp.Write([]byte(record + "\n\n")); err != nil {
			return false
		}
		resp.Flush()
		if s.ChunkDelay > 0 {
			time.Sleep(s.ChunkDelay)
		}
		return true
	}

	if !write(fmt.Sprintf("event: meta\ndata: {\"type\":\"meta\",\"requestId\":%q}", requestID)) {
		return nil
	}

	for _, text := range scriptFor(req.Message) {
		payload, _ := json.Marshal(map[string]string{
			"type":      "delta",
			"requestId": requestID,
			"text":      text,
		})
		if !write(string(payload)) {
			return nil
		}
	}

	if wantsProducts(req.Message) {
		matched := s.search(req.Message, 8)
		payload, _ := json.Marshal(map[string]any{
			"type":      "products",
			"requestId": requestID,
			"products":  matched,
		})
		if !write(string(payload)) {
			return nil
		}
	}

	write(fmt.Sprintf("event: done\ndata: {\"type\":\"done\",\"requestId\":%q}", requestID))
	return nil
}

func (s *Server) suggest(c echo.Context) error {
	query := c.QueryParam("q")
	limit := 6
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"products": s.search(query, limit),
	})
}

func (s *Server) acceptEvents(c echo.Context) error {
	var events []json.RawMessage
	if err := c.Bind(&events); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid event batch")
	}
	slog.Debug("stub analytics batch", "count", len(events))
	return c.NoContent(http.StatusNoContent)
}

// search does naive substring matching over title, category and brand.
func (s *Server) search(query string, limit int) []catalog.Product {
	query = strings.ToLower(strings.TrimSpace(query))
	var out []catalog.Product
	for _, p := range s.catalog {
		if len(out) >= limit {
			break
		}
		if query == "" || matches(p, query) {
			out = append(out, p)
		}
	}
	return out
}

func matches(p catalog.Product, query string) bool {
	haystack := strings.ToLower(p.Title + " " + p.Category + " " + p.Brand)
	for _, term := range strings.Fields(query) {
		if strings.Contains(haystack, term) {
			return true
		}
	}
	return false
}

// scriptFor picks the scripted reply chunks for a message. Search-like
// messages get a reply that names the search out loud, which lets the client
// begin fetching products before the turn ends.
func scriptFor(message string) []string {
	if wantsProducts(message) {
		return []string{
			"Boa escolha! ",
			"Vou buscar as melhores opções para você agora. ",
			"Aqui em Ciudad del Este os preços costumam ser bem competitivos, ",
			"então vale comparar as lojas antes de fechar.",
		}
	}
	return []string{
		"Oi! Tudo bem? ",
		"Me conta o que você está procurando, ",
		"que eu encontro as melhores ofertas da região para você.",
	}
}

var productHints = []string{
	"iphone", "galaxy", "celular", "smartphone", "notebook", "perfume",
	"drone", "tv", "fone", "relógio", "relogio", "câmera", "camera",
	"tablet", "whisky", "procur", "busca", "quero", "preciso", "tem ",
}

func wantsProducts(message string) bool {
	m := strings.ToLower(message)
	for _, hint := range productHints {
		if strings.Contains(m, hint) {
			return true
		}
	}
	return false
}

func demoCatalog() []catalog.Product {
	usd := func(v float64) map[string]float64 { return map[string]float64{"USD": v} }
	return []catalog.Product{
		{ID: "p-001", Title: "iPhone 15 Pro 256GB", Price: usd(999), Rating: 4.8, Reviews: 321, Availability: catalog.InStock, Category: "smartphones", Brand: "apple"},
		{ID: "p-002", Title: "iPhone 15 128GB", Price: usd(749), Rating: 4.7, Reviews: 540, Availability: catalog.InStock, Discount: 8, Category: "smartphones", Brand: "apple"},
		{ID: "p-003", Title: "Samsung Galaxy S24 Ultra", Price: usd(1049), Rating: 4.6, Reviews: 280, Availability: catalog.InStock, Category: "smartphones", Brand: "samsung"},
		{ID: "p-004", Title: "Samsung Galaxy A55", Price: usd(339), Rating: 4.3, Reviews: 611, Availability: catalog.InStock, Discount: 15, Category: "smartphones", Brand: "samsung"},
		{ID: "p-005", Title: "Xiaomi Redmi Note 13 Pro", Price: usd(265), Rating: 4.4, Reviews: 845, Availability: catalog.Limited, Discount: 12, Category: "smartphones", Brand: "xiaomi"},
		{ID: "p-006", Title: "MacBook Air M3 13\"", Price: usd(1199), Rating: 4.9, Reviews: 150, Availability: catalog.InStock, Category: "notebooks", Brand: "apple"},
		{ID: "p-007", Title: "Notebook Lenovo IdeaPad 3", Price: usd(429), Rating: 4.1, Reviews: 390, Availability: catalog.InStock, Discount: 20, Category: "notebooks", Brand: "lenovo"},
		{ID: "p-008", Title: "Perfume Dior Sauvage EDT 100ml", Price: usd(92), Rating: 4.8, Reviews: 1230, Availability: catalog.InStock, Category: "perfumes", Brand: "dior"},
		{ID: "p-009", Title: "Perfume Carolina Herrera 212 VIP", Price: usd(78), Rating: 4.6, Reviews: 760, Availability: catalog.Limited, Discount: 10, Category: "perfumes", Brand: "carolina herrera"},
		{ID: "p-010", Title: "Drone DJI Mini 4K", Price: usd(299), Rating: 4.5, Reviews: 205, Availability: catalog.InStock, Category: "drones", Brand: "dji"},
		{ID: "p-011", Title: "Smart TV Samsung 55\" 4K", Price: usd(465), Rating: 4.4, Reviews: 330, Availability: catalog.InStock, Discount: 18, Category: "tvs", Brand: "samsung"},
		{ID: "p-012", Title: "Fone JBL Tune 520BT", Price: usd(45), Rating: 4.3, Reviews: 990, Availability: catalog.InStock, Category: "audio", Brand: "jbl"},
		{ID: "p-013", Title: "Apple Watch SE 2", Price: usd(239), Rating: 4.6, Reviews: 410, Availability: catalog.OutOfStock, Category: "relogios", Brand: "apple"},
		{ID: "p-014", Title: "Whisky Johnnie Walker Black Label 1L", Price: usd(38), Rating: 4.7, Reviews: 1500, Availability: catalog.InStock, Category: "bebidas", Brand: "johnnie walker"},
	}
}
