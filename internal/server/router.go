package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Dispatcher 负责把请求交给当前控制代际或默认网络，host.Client 即是其实现。
type Dispatcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Dispatcher Dispatcher
	// Origin 是应用自身的源，origin-form 请求据此补全为绝对地址。
	Origin     *url.URL
	ListenPort int
}

const contextKeyRequestID = "_offline_agent_request_id"

// NewApp builds a Fiber application with request-ID middleware, panic recovery
// and a catch-all route that forwards everything except /-/ diagnostics.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if opts.Origin == nil {
		return nil, errors.New("origin is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	forwarder := NewForwarder(opts.Dispatcher, opts.Origin, opts.Logger)
	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) && !isAbsoluteForm(c) {
			return c.Next()
		}
		return forwarder.Handle(c)
	})

	return app, nil
}

// requestIDMiddleware 为每个请求生成 ID 并写入响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}

func isAbsoluteForm(c fiber.Ctx) bool {
	raw := string(c.Request().RequestURI())
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}
