package http

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/dsoc-platform/incident-escrow/internal/observability"
	apperrors "github.com/dsoc-platform/incident-escrow/pkg/util"
)

func TestFailedRequestCountedWithTranslatedStatus(t *testing.T) {
	app := fiber.New()
	metrics := observability.NewMetrics()
	RegisterMiddlewares(app, zap.NewNop(), metrics, 0)
	app.Get("/boom", func(c *fiber.Ctx) error {
		return apperrors.NewNotFound("ticket", nil)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil))
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	// the request logger sits outside the error handler, so the counter
	// must carry the translated status, not a pre-translation 200 or 500
	if n := metrics.RequestCount("/boom", "GET", fiber.StatusNotFound); n != 1 {
		t.Fatalf("expected the translated 404 counted once, got %d", n)
	}
}

func TestPanicTranslatedToInternalError(t *testing.T) {
	app := fiber.New()
	metrics := observability.NewMetrics()
	RegisterMiddlewares(app, zap.NewNop(), metrics, 0)
	app.Get("/panic", func(c *fiber.Ctx) error {
		panic("boom")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/panic", nil))
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if n := metrics.RequestCount("/panic", "GET", fiber.StatusInternalServerError); n != 1 {
		t.Fatalf("expected the recovered 500 counted once, got %d", n)
	}
}
