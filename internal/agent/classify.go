package agent

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/any-hub/offline-agent/internal/weborigin"
)

// Class 是请求分类结果，每个请求单独计算，不做持久化。
type Class int

const (
	// ClassSameOrigin 为应用自身的页面与资源，走 network-first。
	ClassSameOrigin Class = iota
	// ClassCrossOrigin 为其他源的静态资源（CDN 等），走 cache-first。
	ClassCrossOrigin
	// ClassAPI 命中保留的 API 前缀，只走网络。
	ClassAPI
	// ClassExternalOpaque 表示不拦截：非 GET 请求或命中排除主机。
	ClassExternalOpaque
)

func (c Class) String() string {
	switch c {
	case ClassSameOrigin:
		return "same_origin"
	case ClassCrossOrigin:
		return "cross_origin_cacheable"
	case ClassAPI:
		return "api"
	case ClassExternalOpaque:
		return "external_opaque"
	default:
		return "unknown"
	}
}

// Intercepted 表示该分类是否会产生响应动作。
func (c Class) Intercepted() bool {
	return c != ClassExternalOpaque
}

// Rules 描述分类所需的静态输入。
type Rules struct {
	// Origin 是应用自身的源（scheme + host + port）。
	Origin *url.URL
	// APIPrefix 为空时不区分 API 流量。
	APIPrefix string
	// ExcludedHost 为主机名子串，为空时不排除任何主机。
	ExcludedHost string
}

// Classify 按固定顺序判定：非 GET、API 前缀、排除主机、跨域，其余视为同源。
func (r Rules) Classify(method string, u *url.URL) Class {
	m := strings.ToUpper(strings.TrimSpace(method))
	if m == "" {
		m = http.MethodGet
	}
	if m != http.MethodGet || u == nil {
		return ClassExternalOpaque
	}
	if r.APIPrefix != "" && strings.HasPrefix(u.EscapedPath(), r.APIPrefix) {
		return ClassAPI
	}
	if r.ExcludedHost != "" && strings.Contains(strings.ToLower(u.Hostname()), strings.ToLower(r.ExcludedHost)) {
		return ClassExternalOpaque
	}
	if u.Host == "" || r.SameOrigin(u) {
		return ClassSameOrigin
	}
	return ClassCrossOrigin
}

// SameOrigin 比较 scheme、host 与端口，默认端口视为省略。
func (r Rules) SameOrigin(u *url.URL) bool {
	return weborigin.Same(r.Origin, u)
}

// Resolve 把清单中的相对路径解析为应用源下的绝对地址。
func (r Rules) Resolve(ref string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, err
	}
	if r.Origin == nil {
		return parsed, nil
	}
	return r.Origin.ResolveReference(parsed), nil
}
