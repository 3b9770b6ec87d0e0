package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

// Forwarder 把 Fiber 请求转换为 *http.Request 交给 Dispatcher，再把结果写回。
type Forwarder struct {
	dispatcher Dispatcher
	origin     *url.URL
	logger     *logrus.Logger
}

// NewForwarder constructs a forwarder bound to the app origin.
func NewForwarder(dispatcher Dispatcher, origin *url.URL, logger *logrus.Logger) *Forwarder {
	return &Forwarder{
		dispatcher: dispatcher,
		origin:     origin,
		logger:     logger,
	}
}

// Handle 执行一次转发；分发失败返回 502，处理函数 panic 返回 500，两者都输出结构化日志。
func (f *Forwarder) Handle(c fiber.Ctx) (err error) {
	started := time.Now()
	requestID := RequestID(c)
	defer func() {
		if r := recover(); r != nil {
			err = f.respondPanic(c, r, requestID)
		}
	}()

	target, err := resolveTarget(string(c.Request().RequestURI()), f.origin)
	if err != nil {
		f.logResult(c.Method(), string(c.Request().RequestURI()), requestID, 0, started, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request_uri"})
	}

	req, err := buildRequest(c, target)
	if err != nil {
		f.logResult(c.Method(), target.String(), requestID, 0, started, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request"})
	}

	resp, err := f.dispatcher.Fetch(req.Context(), req)
	if err != nil {
		f.logResult(c.Method(), target.String(), requestID, 0, started, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failed"})
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	setRequestIDHeader(c, requestID)
	c.Status(resp.StatusCode)
	if reason := reasonPhrase(resp); reason != "" && reason != http.StatusText(resp.StatusCode) {
		c.Response().Header.SetStatusMessage([]byte(reason))
	}

	if c.Method() == http.MethodHead {
		f.logResult(c.Method(), target.String(), requestID, resp.StatusCode, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	f.logResult(c.Method(), target.String(), requestID, resp.StatusCode, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (f *Forwarder) respondPanic(c fiber.Ctx, recovered interface{}, requestID string) error {
	f.logger.WithFields(logrus.Fields{
		"action":     "proxy",
		"request_id": requestID,
		"error":      "handler_panic",
	}).Error(fmt.Sprintf("panic: %v", recovered))
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "handler_panic"})
}

func (f *Forwarder) logResult(method, target, requestID string, status int, started time.Time, err error) {
	fields := logrus.Fields{
		"action":          "proxy",
		"method":          method,
		"url":             target,
		"upstream_status": status,
		"elapsed_ms":      time.Since(started).Milliseconds(),
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		f.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	f.logger.WithFields(fields).Info("proxy_complete")
}

// resolveTarget 对 absolute-form（正向代理）保留原地址，origin-form 解析到应用源。
func resolveTarget(rawURI string, origin *url.URL) (*url.URL, error) {
	if rawURI == "" {
		rawURI = "/"
	}
	if strings.HasPrefix(rawURI, "http://") || strings.HasPrefix(rawURI, "https://") {
		return url.Parse(rawURI)
	}
	if !strings.HasPrefix(rawURI, "/") {
		return nil, fmt.Errorf("unsupported request uri: %s", rawURI)
	}
	ref, err := url.Parse(rawURI)
	if err != nil {
		return nil, err
	}
	return origin.ResolveReference(ref), nil
}

func buildRequest(c fiber.Ctx, target *url.URL) (*http.Request, error) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var body io.Reader = http.NoBody
	if raw := c.Body(); len(raw) > 0 {
		body = bytes.NewReader(append([]byte(nil), raw...))
	}

	req, err := http.NewRequestWithContext(ctx, c.Method(), target.String(), body)
	if err != nil {
		return nil, err
	}

	CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Host")
	req.Header.Del("Accept-Encoding")
	req.Host = target.Host
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Protocol())
	return req, nil
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// copyResponseHeaders 跳过 hop-by-hop 与 Content-Length，长度由写入的正文决定。
func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	listed := connectionTokens(headers)
	for key, values := range headers {
		if IsHopByHopHeader(key) || strings.EqualFold(key, "Content-Length") {
			continue
		}
		if _, ok := listed[textproto.CanonicalMIMEHeaderKey(key)]; ok {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func reasonPhrase(resp *http.Response) string {
	prefix := strconv.Itoa(resp.StatusCode) + " "
	if text := strings.TrimPrefix(resp.Status, prefix); text != resp.Status {
		return text
	}
	return ""
}
