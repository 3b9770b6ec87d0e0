package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Response 是写入缓存的响应快照：状态、头部与完整正文，与原始连接无关。
type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
	URL        string
	StoredAt   time.Time
}

// Snapshot 读取 resp 的完整正文并生成快照，同时把 resp.Body 替换为等价的内存 Reader，
// 调用方仍可继续把 resp 返回给下游。读取失败时关闭正文并返回错误。
func Snapshot(resp *http.Response) (*Response, error) {
	if resp == nil {
		return nil, fmt.Errorf("snapshot: nil response")
	}
	var body []byte
	if resp.Body != nil {
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("snapshot body: %w", err)
		}
		body = data
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))

	url := ""
	if resp.Request != nil && resp.Request.URL != nil {
		url = resp.Request.URL.String()
	}

	return &Response{
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Header:     resp.Header.Clone(),
		Body:       append([]byte(nil), body...),
		URL:        url,
		StoredAt:   time.Now().UTC(),
	}, nil
}

// OK 与浏览器 Response.ok 语义一致：2xx 视为成功。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status <= 299
}

// Clone 返回深拷贝，内存驱动用它隔离调用方的修改。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := *r
	cloned.Header = r.Header.Clone()
	cloned.Body = append([]byte(nil), r.Body...)
	return &cloned
}

// HTTP 将快照还原为 *http.Response，每次调用都拥有独立的正文 Reader。
func (r *Response) HTTP(req *http.Request) *http.Response {
	header := r.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	text := r.StatusText
	if text == "" {
		text = http.StatusText(r.Status)
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", r.Status, text),
		StatusCode:    r.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

func statusText(resp *http.Response) string {
	prefix := strconv.Itoa(resp.StatusCode) + " "
	if text := strings.TrimPrefix(resp.Status, prefix); text != resp.Status && text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
